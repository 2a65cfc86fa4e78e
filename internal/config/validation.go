// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"fmt"
	"time"

	"github.com/ManuGH/avbridge/internal/dsl"
	"github.com/ManuGH/avbridge/internal/validate"
)

// Validate checks the merged configuration. It creates DataDir and the
// pipeline directory when they are missing.
func Validate(cfg Config) error {
	v := validate.New()

	v.Directory("DataDir", cfg.DataDir, false)
	v.LogLevel("Log.Level", cfg.Log.Level)

	validateDevices(v, cfg.Devices)
	validateAdapter(v, cfg.Adapter)
	validatePipelines(v, cfg.Pipelines)

	v.OneOf("Storage.Devices", cfg.Storage.Devices, []string{BackendSqlite, BackendMemory})
	v.OneOf("Storage.Definitions", cfg.Storage.Definitions, []string{BackendBadger, BackendMemory})

	v.OneOf("StatusBoard.Backend", cfg.StatusBoard.Backend, []string{BackendMemory, BackendRedis})
	if cfg.StatusBoard.Backend == BackendRedis {
		v.NotEmpty("StatusBoard.Redis.Addr", cfg.StatusBoard.Redis.Addr)
		v.Range("StatusBoard.Redis.DB", cfg.StatusBoard.Redis.DB, 0, 15)
	}

	if cfg.API.Enabled {
		v.ListenAddr("API.Listen", cfg.API.Listen)
	}
	v.NonNegative("API.RateLimit", cfg.API.RateLimit)

	if cfg.Telemetry.Enabled {
		v.OneOf("Telemetry.Exporter", cfg.Telemetry.Exporter, []string{"grpc", "http"})
		v.NotEmpty("Telemetry.Endpoint", cfg.Telemetry.Endpoint)
		v.FloatRange("Telemetry.SamplingRate", cfg.Telemetry.SamplingRate, 0, 1)
	}

	return v.Err()
}

func validateDevices(v *validate.Validator, d DevicesConfig) {
	if d.ScanInterval < 0 {
		v.AddError("Devices.ScanInterval", "cannot be negative", d.ScanInterval)
	}
	v.MinDuration("Devices.ScanCommandInterval", d.ScanCommandInterval, time.Second)
	if d.ReconcileInterval < 0 {
		v.AddError("Devices.ReconcileInterval", "cannot be negative", d.ReconcileInterval)
	}
	v.MinDuration("Devices.DiscoveryTimeout", d.DiscoveryTimeout, 100*time.Millisecond)
	v.MinDuration("Devices.StopGrace", d.StopGrace, 0)
	if d.AutoRestart {
		v.Positive("Devices.RestartThreshold", d.RestartThreshold)
		v.MinDuration("Devices.RestartCooldown", d.RestartCooldown, time.Second)
	}
	for i, desc := range d.Static {
		field := fmt.Sprintf("Devices.Static[%d]", i)
		v.NotEmpty(field+".IDHint", desc.IDHint)
		v.NotEmpty(field+".Protocol", desc.Protocol)
	}
	if d.SchemaDir != "" {
		v.Directory("Devices.SchemaDir", d.SchemaDir, true)
	}
}

func validateAdapter(v *validate.Validator, a AdapterConfig) {
	for proto, spec := range a.Protocols {
		field := "Adapter.Protocols." + proto
		if len(spec.Command) == 0 {
			v.AddError(field+".Command", "command cannot be empty", spec.Command)
		}
		v.MinDuration(field+".Settle", spec.Settle, 0)
		v.MinDuration(field+".StopGrace", spec.StopGrace, 0)
	}
}

func validatePipelines(v *validate.Validator, p PipelinesConfig) {
	v.Directory("Pipelines.Dir", p.Dir, false)
	v.Range("Pipelines.QueueSize", p.QueueSize, 1, 1<<16)
	v.OneOf("Pipelines.Backpressure", p.Backpressure, []string{dsl.PolicyBlock, dsl.PolicyDropOldest})
	v.MinDuration("Pipelines.BlockTimeout", p.BlockTimeout, time.Millisecond)
	v.NonNegative("Pipelines.MaxRetries", p.MaxRetries)
	v.MinDuration("Pipelines.RetryInitial", p.RetryInitial, time.Millisecond)
	if p.RetryMax < p.RetryInitial {
		v.AddError("Pipelines.RetryMax", "must not be shorter than RetryInitial", p.RetryMax)
	}
	v.MinDuration("Pipelines.StopTimeout", p.StopTimeout, 100*time.Millisecond)
	v.MinDuration("Pipelines.WatchDebounce", p.WatchDebounce, 0)
}
