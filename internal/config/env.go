// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/avbridge/internal/log"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "AVBRIDGE_"

// ParseString reads a string from environment variable or returns default value.
// It logs the source (environment or default) for observability.
func ParseString(key, defaultValue string) string {
	return parseStringWithLogger(log.WithComponent("config"), key, defaultValue)
}

func parseStringWithLogger(logger zerolog.Logger, key, defaultValue string) string {
	value, exists := os.LookupEnv(key)
	if !exists || value == "" {
		return defaultValue
	}
	lowerKey := strings.ToLower(key)
	if strings.Contains(lowerKey, "token") || strings.Contains(lowerKey, "password") {
		logger.Debug().
			Str("key", key).
			Str("source", "environment").
			Bool("sensitive", true).
			Msg("using environment variable")
		return value
	}
	logger.Debug().
		Str("key", key).
		Str("value", value).
		Str("source", "environment").
		Msg("using environment variable")
	return value
}

// ParseInt reads an integer from environment variable or returns default value.
// It validates the input and falls back to default on parse errors.
func ParseInt(key string, defaultValue int) int {
	logger := log.WithComponent("config")
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return defaultValue
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		logger.Warn().
			Str("key", key).
			Str("value", v).
			Int("default", defaultValue).
			Msg("invalid integer in environment variable, using default")
		return defaultValue
	}
	logger.Debug().Str("key", key).Int("value", i).Str("source", "environment").Msg("using environment variable")
	return i
}

// ParseDuration reads a duration from environment variable in Go duration format (e.g. "5s").
// It falls back to default on parse errors or empty variables and logs the choice.
func ParseDuration(key string, defaultValue time.Duration) time.Duration {
	logger := log.WithComponent("config")
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		logger.Warn().
			Str("key", key).
			Str("value", v).
			Dur("default", defaultValue).
			Msg("invalid duration in environment variable, using default")
		return defaultValue
	}
	logger.Debug().Str("key", key).Dur("value", d).Str("source", "environment").Msg("using environment variable")
	return d
}

// ParseBool reads a boolean from environment variable or returns default value.
// It accepts "true", "false", "1", "0", "yes", "no" (case-insensitive).
func ParseBool(key string, defaultValue bool) bool {
	logger := log.WithComponent("config")
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return defaultValue
	}
	switch strings.ToLower(v) {
	case "true", "1", "yes":
		logger.Debug().Str("key", key).Bool("value", true).Str("source", "environment").Msg("using environment variable")
		return true
	case "false", "0", "no":
		logger.Debug().Str("key", key).Bool("value", false).Str("source", "environment").Msg("using environment variable")
		return false
	default:
		logger.Warn().
			Str("key", key).
			Str("value", v).
			Bool("default", defaultValue).
			Msg("invalid boolean in environment variable, using default")
		return defaultValue
	}
}

// ParseFloat reads a float64 from environment variable or returns default value.
func ParseFloat(key string, defaultValue float64) float64 {
	logger := log.WithComponent("config")
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return defaultValue
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		logger.Warn().
			Str("key", key).
			Str("value", v).
			Float64("default", defaultValue).
			Msg("invalid float in environment variable, using default")
		return defaultValue
	}
	logger.Debug().Str("key", key).Float64("value", f).Str("source", "environment").Msg("using environment variable")
	return f
}

// mergeEnv applies AVBRIDGE_* overrides on top of cfg.
func (l *Loader) mergeEnv(cfg *Config) {
	cfg.DataDir = l.envString("DATA_DIR", cfg.DataDir)
	cfg.Log.Level = l.envString("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Service = l.envString("LOG_SERVICE", cfg.Log.Service)

	d := &cfg.Devices
	d.ScanInterval = l.envDuration("SCAN_INTERVAL", d.ScanInterval)
	d.ScanCommandInterval = l.envDuration("SCAN_COMMAND_INTERVAL", d.ScanCommandInterval)
	d.ReconcileInterval = l.envDuration("RECONCILE_INTERVAL", d.ReconcileInterval)
	d.DiscoveryTimeout = l.envDuration("DISCOVERY_TIMEOUT", d.DiscoveryTimeout)
	d.StopGrace = l.envDuration("STOP_GRACE", d.StopGrace)
	d.AutoRestart = l.envBool("AUTO_RESTART", d.AutoRestart)
	d.RestartDelay = l.envDuration("RESTART_DELAY", d.RestartDelay)
	d.RestartThreshold = l.envInt("RESTART_THRESHOLD", d.RestartThreshold)
	d.RestartCooldown = l.envDuration("RESTART_COOLDOWN", d.RestartCooldown)
	d.SchemaDir = l.envString("SCHEMA_DIR", d.SchemaDir)

	p := &cfg.Pipelines
	p.Dir = l.envString("PIPELINES_DIR", p.Dir)
	p.QueueSize = l.envInt("QUEUE_SIZE", p.QueueSize)
	p.Backpressure = l.envString("BACKPRESSURE", p.Backpressure)
	p.BlockTimeout = l.envDuration("BLOCK_TIMEOUT", p.BlockTimeout)
	p.MaxRetries = l.envInt("MAX_RETRIES", p.MaxRetries)
	p.RetryInitial = l.envDuration("RETRY_INITIAL", p.RetryInitial)
	p.RetryMax = l.envDuration("RETRY_MAX", p.RetryMax)
	p.StopTimeout = l.envDuration("STOP_TIMEOUT", p.StopTimeout)
	p.WatchDebounce = l.envDuration("WATCH_DEBOUNCE", p.WatchDebounce)

	cfg.Storage.Devices = l.envString("DEVICE_STORE", cfg.Storage.Devices)
	cfg.Storage.Definitions = l.envString("DEFINITION_STORE", cfg.Storage.Definitions)

	sb := &cfg.StatusBoard
	sb.Backend = l.envString("STATUSBOARD_BACKEND", sb.Backend)
	sb.Redis.Addr = l.envString("REDIS_ADDR", sb.Redis.Addr)
	sb.Redis.Password = l.envString("REDIS_PASSWORD", sb.Redis.Password)
	sb.Redis.DB = l.envInt("REDIS_DB", sb.Redis.DB)
	sb.Redis.Key = l.envString("REDIS_KEY", sb.Redis.Key)

	cfg.API.Enabled = l.envBool("API_ENABLED", cfg.API.Enabled)
	cfg.API.Listen = l.envString("API_LISTEN", cfg.API.Listen)
	cfg.API.RateLimit = l.envInt("API_RATE_LIMIT", cfg.API.RateLimit)

	t := &cfg.Telemetry
	t.Enabled = l.envBool("TELEMETRY_ENABLED", t.Enabled)
	t.Exporter = l.envString("TELEMETRY_EXPORTER", t.Exporter)
	t.Endpoint = l.envString("OTLP_ENDPOINT", t.Endpoint)
	t.SamplingRate = l.envFloat("TELEMETRY_SAMPLING_RATE", t.SamplingRate)
	t.Environment = l.envString("TELEMETRY_ENVIRONMENT", t.Environment)
}
