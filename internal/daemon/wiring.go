// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import (
	"context"
	"fmt"
	"sort"

	"github.com/ManuGH/avbridge/internal/adapter/process"
	"github.com/ManuGH/avbridge/internal/broker"
	"github.com/ManuGH/avbridge/internal/config"
	"github.com/ManuGH/avbridge/internal/device"
	"github.com/ManuGH/avbridge/internal/log"
	"github.com/ManuGH/avbridge/internal/pipeline"
	"github.com/ManuGH/avbridge/internal/statusboard"
)

func openDeviceStore(cfg config.Config) (device.Store, error) {
	if cfg.Storage.Devices == config.BackendMemory {
		return device.NewMemoryStore(), nil
	}
	s, err := device.NewSqliteStore(cfg.DevicesDBPath())
	if err != nil {
		return nil, fmt.Errorf("open device store: %w", err)
	}
	return s, nil
}

func openDefinitionStore(cfg config.Config) (pipeline.DefinitionStore, error) {
	if cfg.Storage.Definitions == config.BackendMemory {
		return pipeline.NewMemoryDefinitionStore(), nil
	}
	s, err := pipeline.OpenBadgerDefinitionStore(cfg.DefinitionsPath())
	if err != nil {
		return nil, fmt.Errorf("open definition store: %w", err)
	}
	return s, nil
}

func openStatusBackend(ctx context.Context, cfg config.Config) (statusboard.Backend, error) {
	if cfg.StatusBoard.Backend != config.BackendRedis {
		return statusboard.NewMemoryBackend(), nil
	}
	r := cfg.StatusBoard.Redis
	b, err := statusboard.NewRedisBackend(ctx, statusboard.RedisConfig{
		Addr:     r.Addr,
		Password: r.Password,
		DB:       r.DB,
		Key:      r.Key,
	}, log.WithComponent("statusboard"))
	if err != nil {
		return nil, fmt.Errorf("open redis status board: %w", err)
	}
	return b, nil
}

func newAdapters(cfg config.AdapterConfig) (map[string]device.ProtocolAdapter, error) {
	names := make([]string, 0, len(cfg.Protocols))
	for name := range cfg.Protocols {
		names = append(names, name)
	}
	sort.Strings(names)

	adapters := make(map[string]device.ProtocolAdapter, len(names))
	for _, name := range names {
		a, err := process.New(cfg.Protocols[name])
		if err != nil {
			return nil, fmt.Errorf("adapter %s: %w", name, err)
		}
		adapters[name] = a
	}
	return adapters, nil
}

func newDeviceManager(ctx context.Context, cfg config.Config, bus *broker.Broker, store device.Store) (*device.Manager, error) {
	adapters, err := newAdapters(cfg.Adapter)
	if err != nil {
		return nil, err
	}
	opts := device.Options{
		Bus:              bus,
		Discovery:        device.NewStaticDiscovery(cfg.Devices.Static...),
		Adapters:         adapters,
		Store:            store,
		DiscoveryTimeout: cfg.Devices.DiscoveryTimeout,
		StopGrace:        cfg.Devices.StopGrace,
		AutoRestart:      cfg.Devices.AutoRestart,
		RestartDelay:     cfg.Devices.RestartDelay,
		RestartThreshold: cfg.Devices.RestartThreshold,
		RestartCooldown:  cfg.Devices.RestartCooldown,
		ScanInterval:     cfg.Devices.ScanCommandInterval,
	}
	if cfg.Devices.SchemaDir != "" {
		v, err := device.LoadSchemaDir(cfg.Devices.SchemaDir)
		if err != nil {
			return nil, fmt.Errorf("load settings schemas: %w", err)
		}
		opts.Validator = v
	}
	m, err := device.New(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("device manager: %w", err)
	}
	return m, nil
}
