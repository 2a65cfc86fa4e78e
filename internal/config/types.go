// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"time"

	"github.com/ManuGH/avbridge/internal/adapter/process"
	"github.com/ManuGH/avbridge/internal/device"
)

// Storage backends.
const (
	BackendMemory = "memory"
	BackendSqlite = "sqlite"
	BackendBadger = "badger"
	BackendRedis  = "redis"
)

// Config is the complete daemon configuration.
type Config struct {
	DataDir     string            `yaml:"dataDir"`
	Log         LogConfig         `yaml:"log"`
	Devices     DevicesConfig     `yaml:"devices"`
	Adapter     AdapterConfig     `yaml:"adapter"`
	Pipelines   PipelinesConfig   `yaml:"pipelines"`
	Storage     StorageConfig     `yaml:"storage"`
	StatusBoard StatusBoardConfig `yaml:"statusboard"`
	API         APIConfig         `yaml:"api"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`

	// Version is injected by the loader, never read from file.
	Version string `yaml:"-"`
}

type LogConfig struct {
	Level   string `yaml:"level"`
	Service string `yaml:"service"`
}

// DevicesConfig configures the device manager and its discovery.
type DevicesConfig struct {
	ScanInterval time.Duration `yaml:"scanInterval"`
	// ScanCommandInterval rate limits scans requested over the broker.
	ScanCommandInterval time.Duration `yaml:"scanCommandInterval"`
	ReconcileInterval   time.Duration `yaml:"reconcileInterval"`
	DiscoveryTimeout    time.Duration `yaml:"discoveryTimeout"`
	StopGrace           time.Duration `yaml:"stopGrace"`

	AutoRestart      bool          `yaml:"autoRestart"`
	RestartDelay     time.Duration `yaml:"restartDelay"`
	RestartThreshold int           `yaml:"restartThreshold"`
	RestartCooldown  time.Duration `yaml:"restartCooldown"`

	// Static devices are reported by every scan.
	Static []device.Descriptor `yaml:"static"`
	// SchemaDir holds one OpenAPI settings schema per device type.
	SchemaDir string `yaml:"schemaDir"`
}

// AdapterConfig maps protocol names to process templates.
type AdapterConfig struct {
	Protocols map[string]process.Spec `yaml:"protocols"`
}

type PipelinesConfig struct {
	Dir           string        `yaml:"dir"`
	QueueSize     int           `yaml:"queueSize"`
	Backpressure  string        `yaml:"backpressure"`
	BlockTimeout  time.Duration `yaml:"blockTimeout"`
	MaxRetries    int           `yaml:"maxRetries"`
	RetryInitial  time.Duration `yaml:"retryInitial"`
	RetryMax      time.Duration `yaml:"retryMax"`
	StopTimeout   time.Duration `yaml:"stopTimeout"`
	WatchDebounce time.Duration `yaml:"watchDebounce"`
}

type StorageConfig struct {
	Devices     string `yaml:"devices"`
	Definitions string `yaml:"definitions"`
}

type StatusBoardConfig struct {
	Backend string      `yaml:"backend"`
	Redis   RedisConfig `yaml:"redis"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Key      string `yaml:"key"`
}

type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
	// RateLimit is requests per minute per client IP. Zero disables limiting.
	RateLimit int `yaml:"rateLimit"`
}

type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Exporter     string  `yaml:"exporter"`
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"samplingRate"`
	Environment  string  `yaml:"environment"`
}
