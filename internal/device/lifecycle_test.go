// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package device

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLifecycle_NoSkippedStates(t *testing.T) {
	assert.False(t, CanTransition(StatusStopped, EvStarted), "STOPPED must pass through STARTING")
	assert.False(t, CanTransition(StatusDiscovered, EvStart), "DISCOVERED must be configured first")
	assert.False(t, CanTransition(StatusRunning, EvConfigure))
	assert.False(t, CanTransition(StatusRunning, EvStopped), "RUNNING must pass through STOPPING")
	assert.False(t, CanTransition(StatusStarting, EvStart))
	assert.False(t, CanTransition(StatusError, EvStarted))
}

func TestLifecycle_ErrorOnlyLeftExplicitly(t *testing.T) {
	for _, ev := range []Event{EvConfigured, EvStarted, EvStop, EvStopped, EvFail} {
		assert.False(t, CanTransition(StatusError, ev), "event %s", ev)
	}
	assert.True(t, CanTransition(StatusError, EvConfigure))
	assert.True(t, CanTransition(StatusError, EvStart))
}

func TestLifecycle_HappyPath(t *testing.T) {
	path := []struct {
		from Status
		ev   Event
		to   Status
	}{
		{StatusDiscovered, EvConfigure, StatusConfiguring},
		{StatusConfiguring, EvConfigured, StatusConfigured},
		{StatusConfigured, EvStart, StatusStarting},
		{StatusStarting, EvStarted, StatusRunning},
		{StatusRunning, EvStop, StatusStopping},
		{StatusStopping, EvStopped, StatusStopped},
		{StatusStopped, EvStart, StatusStarting},
	}
	for _, step := range path {
		to, err := lifecycle.Next(step.from, step.ev)
		assert.NoError(t, err)
		assert.Equal(t, step.to, to)
	}
}
