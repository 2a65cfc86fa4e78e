// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"time"

	"github.com/ManuGH/avbridge/internal/dsl"
)

// Defaults returns the baseline configuration.
func Defaults() Config {
	return Config{
		DataDir: "data",
		Log: LogConfig{
			Level:   "info",
			Service: "avbridge",
		},
		Devices: DevicesConfig{
			ScanInterval:        time.Minute,
			ScanCommandInterval: 10 * time.Second,
			ReconcileInterval:   10 * time.Second,
			DiscoveryTimeout:    10 * time.Second,
			StopGrace:           5 * time.Second,
			RestartDelay:        2 * time.Second,
			RestartThreshold:    3,
			RestartCooldown:     time.Minute,
		},
		Pipelines: PipelinesConfig{
			QueueSize:     16,
			Backpressure:  dsl.PolicyBlock,
			BlockTimeout:  2 * time.Second,
			MaxRetries:    3,
			RetryInitial:  100 * time.Millisecond,
			RetryMax:      5 * time.Second,
			StopTimeout:   10 * time.Second,
			WatchDebounce: 500 * time.Millisecond,
		},
		Storage: StorageConfig{
			Devices:     BackendSqlite,
			Definitions: BackendBadger,
		},
		StatusBoard: StatusBoardConfig{
			Backend: BackendMemory,
			Redis:   RedisConfig{Addr: "localhost:6379"},
		},
		API: APIConfig{
			Enabled:   true,
			Listen:    "127.0.0.1:8088",
			RateLimit: 600,
		},
		Telemetry: TelemetryConfig{
			Exporter:     "grpc",
			Endpoint:     "localhost:4317",
			SamplingRate: 1.0,
			Environment:  "production",
		},
	}
}
