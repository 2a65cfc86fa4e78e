// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/ManuGH/avbridge/internal/dsl"
	"github.com/ManuGH/avbridge/internal/log"
	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Target receives definitions discovered by a Watcher. *Executor implements it.
type Target interface {
	Apply(ctx context.Context, def *dsl.Definition) error
	Remove(ctx context.Context, id string) error
}

// Watcher keeps the pipelines of a definition directory applied. Creating or
// writing a file applies it, removing or renaming it away removes the
// pipeline it defined.
type Watcher struct {
	dir      string
	target   Target
	debounce time.Duration
	logger   zerolog.Logger

	// ids maps a file to the pipeline id it last applied.
	ids map[string]string
}

func NewWatcher(dir string, target Target, debounce time.Duration) *Watcher {
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	return &Watcher{
		dir:      dir,
		target:   target,
		debounce: debounce,
		logger:   log.WithComponent("pipeline-watcher"),
		ids:      make(map[string]string),
	}
}

// Run applies every definition file in the directory, then follows changes
// until ctx ends.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer func() { _ = fw.Close() }()

	if err := fw.Add(w.dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}
	w.logger.Info().
		Str(log.FieldEvent, "pipeline.watcher_started").
		Str(log.FieldPath, w.dir).
		Msg("watching pipeline definitions")

	if err := w.loadAll(ctx); err != nil {
		return err
	}

	pending := make(map[string]struct{})
	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info().Str(log.FieldEvent, "pipeline.watcher_stopped").Msg("pipeline watcher stopped")
			return nil

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !dsl.IsDefinitionFile(ev.Name) {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
				w.logger.Debug().
					Str(log.FieldPath, ev.Name).
					Str("op", ev.Op.String()).
					Msg("definition file changed")
				pending[ev.Name] = struct{}{}
				// Debounce: every event pushes the flush back.
				timer.Reset(w.debounce)
			}

		case <-timer.C:
			paths := make([]string, 0, len(pending))
			for p := range pending {
				paths = append(paths, p)
			}
			clear(pending)
			sort.Strings(paths)
			for _, p := range paths {
				w.sync(ctx, p)
			}

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error().Err(err).Str(log.FieldEvent, "pipeline.watcher_error").Msg("pipeline watcher error")
		}
	}
}

func (w *Watcher) loadAll(ctx context.Context) error {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return fmt.Errorf("read %s: %w", w.dir, err)
	}
	for _, e := range entries {
		if e.IsDir() || !dsl.IsDefinitionFile(e.Name()) {
			continue
		}
		w.sync(ctx, filepath.Join(w.dir, e.Name()))
	}
	return nil
}

// sync brings the pipeline defined by path in line with the file on disk.
// Parse and apply failures are logged; the previous definition stays in effect.
func (w *Watcher) sync(ctx context.Context, path string) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		w.forget(ctx, path)
		return
	}
	if err != nil {
		w.logger.Warn().Err(err).Str(log.FieldPath, path).Msg("failed to read definition file")
		return
	}

	def, err := dsl.ParseDocument(data)
	if err != nil {
		w.logger.Warn().Err(err).Str(log.FieldPath, path).Str(log.FieldEvent, "pipeline.parse_failed").
			Msg("invalid pipeline definition, keeping previous")
		return
	}
	if prev, ok := w.ids[path]; ok && prev != def.ID {
		// The file now defines a different pipeline.
		w.forget(ctx, path)
	}
	if err := w.target.Apply(ctx, def); err != nil {
		w.logger.Warn().Err(err).Str(log.FieldPath, path).Str(log.FieldPipelineID, def.ID).
			Msg("failed to apply pipeline definition")
		return
	}
	w.ids[path] = def.ID
	w.logger.Info().Str(log.FieldPath, path).Str(log.FieldPipelineID, def.ID).
		Str(log.FieldEvent, "pipeline.file_applied").Msg("pipeline definition applied")
}

func (w *Watcher) forget(ctx context.Context, path string) {
	id, ok := w.ids[path]
	if !ok {
		return
	}
	delete(w.ids, path)
	if err := w.target.Remove(ctx, id); err != nil && !errors.Is(err, ErrNotFound) {
		w.logger.Warn().Err(err).Str(log.FieldPath, path).Str(log.FieldPipelineID, id).
			Msg("failed to remove pipeline")
		return
	}
	w.logger.Info().Str(log.FieldPath, path).Str(log.FieldPipelineID, id).
		Str(log.FieldEvent, "pipeline.file_removed").Msg("pipeline definition removed")
}
