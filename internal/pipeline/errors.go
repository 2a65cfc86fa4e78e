// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package pipeline

import (
	"errors"
	"fmt"

	"github.com/ManuGH/avbridge/internal/model"
)

var (
	// ErrNotFound is returned for unknown pipeline ids.
	ErrNotFound = errors.New("pipeline not found")
	// ErrQueueTimeout is a producer failure: a downstream queue stayed full
	// for longer than the block timeout.
	ErrQueueTimeout = errors.New("queue full: block timeout expired")
	// ErrStreamNotRunning is returned when starting a device-fed pipeline whose
	// device has no running stream.
	ErrStreamNotRunning = errors.New("input stream not running")
	// ErrClosed is returned after the executor has been closed.
	ErrClosed = errors.New("executor closed")
)

// BuildError reports a definition that cannot be turned into a running
// graph, typically an unknown kind or invalid params.
type BuildError struct {
	Pipeline string
	Stage    string
	Kind     string
	Cause    error
}

func (e *BuildError) Error() string {
	if e.Stage == "" {
		return fmt.Sprintf("pipeline %s: build: %v", e.Pipeline, e.Cause)
	}
	return fmt.Sprintf("pipeline %s: stage %s (%s): %v", e.Pipeline, e.Stage, e.Kind, e.Cause)
}

func (e *BuildError) Unwrap() []error { return []error{model.ErrConfiguration, e.Cause} }

// StageError reports a stage worker that failed after exhausting its retries.
type StageError struct {
	Pipeline string
	Stage    string
	Kind     string
	Attempts int
	Cause    error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("pipeline %s: stage %s (%s) failed after %d attempts: %v", e.Pipeline, e.Stage, e.Kind, e.Attempts, e.Cause)
}

func (e *StageError) Unwrap() []error { return []error{model.ErrStageExecution, e.Cause} }
