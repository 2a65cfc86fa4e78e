// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package daemon owns the runtime lifecycle: it builds every component from
// the configuration and runs the long-lived loops under one errgroup.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ManuGH/avbridge/internal/api"
	"github.com/ManuGH/avbridge/internal/broker"
	"github.com/ManuGH/avbridge/internal/config"
	"github.com/ManuGH/avbridge/internal/device"
	"github.com/ManuGH/avbridge/internal/log"
	"github.com/ManuGH/avbridge/internal/pipeline"
	"github.com/ManuGH/avbridge/internal/statusboard"
)

// ErrNotReady is reported by /readyz until every loop has started.
var ErrNotReady = errors.New("daemon not ready")

// App owns the long-lived runtime lifecycle.
type App struct {
	cfg    config.Config
	holder *config.Holder
	logger zerolog.Logger

	bus      *broker.Broker
	devices  *device.Manager
	devStore device.Store
	executor *pipeline.Executor
	defStore pipeline.DefinitionStore
	board    *statusboard.Board
	api      *api.Server

	reloadSignal os.Signal
	ready        atomic.Bool
}

// New builds every component. On error everything built so far is closed.
func New(ctx context.Context, holder *config.Holder) (app *App, err error) {
	cfg := holder.Get()
	a := &App{
		cfg:          cfg,
		holder:       holder,
		logger:       log.WithComponent("daemon"),
		bus:          broker.New(broker.WithLogger(log.WithComponent("broker"))),
		reloadSignal: syscall.SIGHUP,
	}
	defer func() {
		if err != nil {
			a.closeStores()
		}
	}()

	if a.devStore, err = openDeviceStore(cfg); err != nil {
		return nil, err
	}
	if a.devices, err = newDeviceManager(ctx, cfg, a.bus, a.devStore); err != nil {
		return nil, err
	}
	if a.defStore, err = openDefinitionStore(cfg); err != nil {
		return nil, err
	}
	a.executor = pipeline.New(pipeline.Options{
		Bus:          a.bus,
		Store:        a.defStore,
		QueueSize:    cfg.Pipelines.QueueSize,
		Backpressure: cfg.Pipelines.Backpressure,
		BlockTimeout: cfg.Pipelines.BlockTimeout,
		MaxRetries:   cfg.Pipelines.MaxRetries,
		RetryInitial: cfg.Pipelines.RetryInitial,
		RetryMax:     cfg.Pipelines.RetryMax,
		StopTimeout:  cfg.Pipelines.StopTimeout,
	})

	backend, err := openStatusBackend(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.board = statusboard.New(backend)

	if cfg.API.Enabled {
		tracing := ""
		if cfg.Telemetry.Enabled {
			tracing = cfg.Log.Service
		}
		a.api = api.New(api.Config{RateLimit: cfg.API.RateLimit, TracingService: tracing}, api.Deps{
			Devices:   a.devices,
			Pipelines: a.executor,
			Board:     a.board,
			Bus:       a.bus,
			Ready:     a.Ready,
		})
	}
	return a, nil
}

// Ready reports nil once Run has started every loop.
func (a *App) Ready(context.Context) error {
	if !a.ready.Load() {
		return ErrNotReady
	}
	return nil
}

// Bus exposes the broker for in-process integrations.
func (a *App) Bus() *broker.Broker { return a.bus }

// Run starts all loops and blocks until ctx is cancelled or a loop fails.
// Components are shut down before Run returns.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	cfg := a.cfg

	// The board subscribes before any producer starts so startup events are mirrored.
	g.Go(func() error { return a.board.Run(gctx, a.bus) })
	select {
	case <-a.board.Subscribed():
	case <-gctx.Done():
		return a.finish(ctx, g.Wait())
	}
	g.Go(func() error { return a.executor.Run(gctx) })
	g.Go(func() error { return a.devices.RunCommands(gctx) })

	g.Go(func() error {
		if cfg.Devices.ScanInterval > 0 {
			return a.devices.RunScanLoop(gctx, cfg.Devices.ScanInterval)
		}
		if _, err := a.devices.Scan(gctx); err != nil {
			a.logger.Warn().Err(err).Str(log.FieldEvent, "device.initial_scan_failed").Msg("initial scan failed")
		}
		return nil
	})
	if cfg.Devices.ReconcileInterval > 0 {
		g.Go(func() error { return a.devices.RunReconcileLoop(gctx, cfg.Devices.ReconcileInterval) })
	}

	if cfg.Pipelines.Dir != "" {
		w := pipeline.NewWatcher(cfg.Pipelines.Dir, a.executor, cfg.Pipelines.WatchDebounce)
		g.Go(func() error { return w.Run(gctx) })
	}

	if a.api != nil {
		g.Go(func() error { return a.api.ListenAndServe(gctx, cfg.API.Listen) })
	}

	if a.holder != nil {
		a.runReload(gctx, g)
	}

	a.ready.Store(true)
	a.logger.Info().Str(log.FieldEvent, "daemon.started").Msg("avbridge started")

	return a.finish(ctx, g.Wait())
}

func (a *App) finish(ctx context.Context, err error) error {
	a.ready.Store(false)
	cfg := a.cfg
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Pipelines.StopTimeout+cfg.Devices.StopGrace+5*time.Second)
	defer cancel()
	if serr := a.Shutdown(shutdownCtx); serr != nil {
		err = errors.Join(err, serr)
	}
	return err
}

// runReload wires file watching, SIGHUP and the live log level.
func (a *App) runReload(ctx context.Context, g *errgroup.Group) {
	g.Go(func() error { return a.holder.Watch(ctx, 500*time.Millisecond) })

	updates := make(chan config.Config, 1)
	a.holder.Subscribe(updates)
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case next := <-updates:
				log.Configure(log.Config{Level: next.Log.Level})
			}
		}
	})

	if a.reloadSignal == nil {
		return
	}
	g.Go(func() error {
		hup := make(chan os.Signal, 1)
		signal.Notify(hup, a.reloadSignal)
		defer signal.Stop(hup)
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-hup:
				a.logger.Info().
					Str(log.FieldEvent, "config.reload_signal").
					Str("signal", a.reloadSignal.String()).
					Msg("received reload signal, reloading config")
				if err := a.holder.Reload(ctx); err != nil {
					a.logger.Warn().Err(err).Str(log.FieldEvent, "config.reload_failed").Msg("config reload failed")
				}
			}
		}
	})
}

// Shutdown stops pipelines before devices so no instance outlives its stream,
// then closes the stores.
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error
	if err := a.executor.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close executor: %w", err))
	}
	if err := a.devices.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close devices: %w", err))
	}
	if err := a.closeStores(); err != nil {
		errs = append(errs, err)
	}
	a.logger.Info().Str(log.FieldEvent, "daemon.stopped").Msg("avbridge stopped")
	return errors.Join(errs...)
}

func (a *App) closeStores() error {
	var errs []error
	if a.board != nil {
		errs = append(errs, a.board.Close())
	}
	if a.defStore != nil {
		errs = append(errs, a.defStore.Close())
	}
	if a.devStore != nil {
		errs = append(errs, a.devStore.Close())
	}
	return errors.Join(errs...)
}
