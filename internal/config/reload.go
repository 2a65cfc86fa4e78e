// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"context"
	"fmt"
	"path/filepath"
	"reflect"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/ManuGH/avbridge/internal/log"
)

// Holder holds configuration with atomic reloading capability.
// A failed reload keeps the previous configuration.
type Holder struct {
	mu      sync.RWMutex
	current Config
	loader  *Loader
	logger  zerolog.Logger

	listenMu  sync.RWMutex
	listeners []chan<- Config
}

// NewHolder creates a holder with an already loaded configuration.
func NewHolder(initial Config, loader *Loader) *Holder {
	return &Holder{
		current: initial,
		loader:  loader,
		logger:  log.WithComponent("config"),
	}
}

// Get returns the current configuration.
func (h *Holder) Get() Config {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.current
}

// Reload loads and validates the configuration again and swaps it in.
func (h *Holder) Reload(_ context.Context) error {
	h.logger.Info().Str(log.FieldEvent, "config.reload_start").Msg("reloading configuration")

	next, err := h.loader.Load()
	if err != nil {
		h.logger.Error().
			Err(err).
			Str(log.FieldEvent, "config.reload_failed").
			Msg("failed to load new configuration")
		return fmt.Errorf("load config: %w", err)
	}

	h.mu.Lock()
	prev := h.current
	h.current = next
	h.mu.Unlock()

	h.logChanges(prev, next)
	h.notify(next)

	h.logger.Info().
		Str(log.FieldEvent, "config.reload_success").
		Msg("configuration reloaded successfully")
	return nil
}

// Subscribe registers a channel that receives the config after every
// successful reload. Sends never block; a full channel misses the update.
func (h *Holder) Subscribe(ch chan<- Config) {
	h.listenMu.Lock()
	defer h.listenMu.Unlock()
	h.listeners = append(h.listeners, ch)
}

func (h *Holder) notify(cfg Config) {
	h.listenMu.RLock()
	defer h.listenMu.RUnlock()
	for _, ch := range h.listeners {
		select {
		case ch <- cfg:
		default:
			h.logger.Warn().
				Str(log.FieldEvent, "config.listener_skip").
				Msg("skipped notifying listener (channel full)")
		}
	}
}

// Watch reloads the configuration whenever the file changes, until ctx ends.
// The parent directory is watched so editors that replace the file by
// rename are picked up. Without a config file Watch just waits for ctx.
func (h *Holder) Watch(ctx context.Context, debounce time.Duration) error {
	path := h.loader.Path()
	if path == "" {
		h.logger.Info().
			Str(log.FieldEvent, "config.watcher_disabled").
			Msg("config file watcher disabled (using ENV-only configuration)")
		<-ctx.Done()
		return nil
	}
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	path = filepath.Clean(path)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("watch config dir: %w", err)
	}

	h.logger.Info().
		Str(log.FieldEvent, "config.watcher_started").
		Str(log.FieldPath, path).
		Msg("watching config file for changes")

	timer := time.NewTimer(debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			h.logger.Info().Str(log.FieldEvent, "config.watcher_stopped").Msg("config watcher stopped")
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != path {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) {
				h.logger.Debug().
					Str(log.FieldEvent, "config.file_changed").
					Str("op", ev.Op.String()).
					Msg("config file changed")
				timer.Reset(debounce)
			}

		case <-timer.C:
			if err := h.Reload(ctx); err != nil {
				h.logger.Error().
					Err(err).
					Str(log.FieldEvent, "config.auto_reload_failed").
					Msg("automatic config reload failed")
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			h.logger.Error().
				Err(err).
				Str(log.FieldEvent, "config.watcher_error").
				Msg("config watcher error")
		}
	}
}

// Only the log level is applied live; other sections take effect on restart.
func (h *Holder) logChanges(prev, next Config) {
	if prev.Log.Level != next.Log.Level {
		h.logger.Info().
			Str("old", prev.Log.Level).
			Str("new", next.Log.Level).
			Msg("config changed: Log.Level")
	}
	sections := []struct {
		name       string
		prev, next any
	}{
		{"Devices", prev.Devices, next.Devices},
		{"Adapter", prev.Adapter, next.Adapter},
		{"Pipelines", prev.Pipelines, next.Pipelines},
		{"Storage", prev.Storage, next.Storage},
		{"StatusBoard", prev.StatusBoard, next.StatusBoard},
		{"API", prev.API, next.API},
		{"Telemetry", prev.Telemetry, next.Telemetry},
	}
	for _, s := range sections {
		if !reflect.DeepEqual(s.prev, s.next) {
			h.logger.Warn().
				Str("section", s.name).
				Bool("restart_required", true).
				Msg("config changed")
		}
	}
}
