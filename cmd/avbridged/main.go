// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/ManuGH/avbridge/internal/config"
	"github.com/ManuGH/avbridge/internal/daemon"
	"github.com/ManuGH/avbridge/internal/log"
	"github.com/ManuGH/avbridge/internal/telemetry"
)

var (
	version   = "v0.1.0"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) > 0 && args[0] == "pipeline" {
		return runPipelineCLI(args[1:], stdout, stderr)
	}

	fs := flag.NewFlagSet("avbridged", flag.ContinueOnError)
	fs.SetOutput(stderr)
	showVersion := fs.Bool("version", false, "print version and exit")
	configPath := fs.String("config", "", "path to config file (YAML)")
	checkOnly := fs.Bool("check", false, "validate the configuration and exit")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	if *showVersion {
		_, _ = fmt.Fprintf(stdout, "%s (commit: %s, built: %s)\n", version, commit, buildDate)
		return 0
	}

	// Configure logger with safe defaults until config is loaded
	log.Configure(log.Config{Level: "info", Service: "avbridge", Version: version, Output: stderr})
	logger := log.WithComponent("daemon")

	loader := config.NewLoader(*configPath, version)
	cfg, err := loader.Load()
	if err != nil {
		logger.Error().
			Err(err).
			Str(log.FieldEvent, "config.load_failed").
			Str(log.FieldPath, *configPath).
			Msg("failed to load configuration")
		return 1
	}
	if *checkOnly {
		_, _ = fmt.Fprintln(stdout, "configuration OK")
		return 0
	}

	log.Configure(log.Config{Level: cfg.Log.Level, Service: cfg.Log.Service, Version: cfg.Version})
	logger = log.WithComponent("daemon")
	source := "env+defaults"
	if *configPath != "" {
		source = "file"
	}
	logger.Info().
		Str(log.FieldEvent, "config.loaded").
		Str("source", source).
		Str(log.FieldPath, *configPath).
		Msg("configuration loaded")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    cfg.Log.Service,
		ServiceVersion: cfg.Version,
		Environment:    cfg.Telemetry.Environment,
		ExporterType:   cfg.Telemetry.Exporter,
		Endpoint:       cfg.Telemetry.Endpoint,
		SamplingRate:   cfg.Telemetry.SamplingRate,
	})
	if err != nil {
		logger.Error().Err(err).Str(log.FieldEvent, "telemetry.init_failed").Msg("failed to initialise tracing")
		return 1
	}
	defer func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			logger.Warn().Err(err).Msg("tracer shutdown failed")
		}
	}()

	app, err := daemon.New(ctx, config.NewHolder(cfg, loader))
	if err != nil {
		logger.Error().Err(err).Str(log.FieldEvent, "daemon.init_failed").Msg("failed to build daemon")
		return 1
	}
	logger.Info().
		Str(log.FieldEvent, "daemon.starting").
		Str("version", version).
		Str("commit", commit).
		Msg("starting avbridge")
	if err := app.Run(ctx); err != nil {
		logger.Error().Err(err).Str(log.FieldEvent, "daemon.failed").Msg("daemon exited with error")
		return 1
	}
	return 0
}
