// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package statusboard

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ManuGH/avbridge/internal/broker"
)

func TestBoardMirrorsLatestStatus(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	b := broker.New(broker.WithLogger(zerolog.Nop()))
	board := New(NewMemoryBackend())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- board.Run(ctx, b) }()
	defer func() {
		cancel()
		require.NoError(t, <-done)
	}()
	require.Eventually(t, func() bool { return b.Stats().Subscriptions == len(DefaultPatterns) }, time.Second, time.Millisecond)

	require.NoError(t, b.Publish(ctx, broker.TopicDeviceStatus("cam1"), map[string]any{"state": "IDLE"}, "device-manager"))
	require.NoError(t, b.Publish(ctx, broker.TopicDeviceStatus("cam1"), map[string]any{"state": "RUNNING"}, "device-manager"))
	require.NoError(t, b.Publish(ctx, broker.TopicPipelineStatus("motion"), map[string]any{"state": "RUNNING"}, "pipeline-executor"))
	require.NoError(t, b.Publish(ctx, "pipeline/motion/output/out", map[string]any{"seq": 1}, "pipeline-executor"))

	require.Eventually(t, func() bool {
		e, ok, err := board.Get(ctx, broker.TopicDeviceStatus("cam1"))
		return err == nil && ok && e.Payload["state"] == "RUNNING"
	}, time.Second, time.Millisecond)
	require.Eventually(t, func() bool {
		_, ok, _ := board.Get(ctx, broker.TopicPipelineStatus("motion"))
		return ok
	}, time.Second, time.Millisecond)

	_, ok, err := board.Get(ctx, "pipeline/motion/output/out")
	require.NoError(t, err)
	assert.False(t, ok, "frame output is not status")

	snap, err := board.Snapshot(ctx)
	require.NoError(t, err)
	assert.Len(t, snap["devices"], 1)
	assert.Len(t, snap["pipeline"], 1)
}

func TestMemoryBackendListByPrefix(t *testing.T) {
	m := NewMemoryBackend()
	ctx := context.Background()
	for _, topic := range []string{"devices/b/status", "devices/a/status", "pipeline/x/status"} {
		require.NoError(t, m.Put(ctx, Entry{Topic: topic}))
	}
	got, err := m.List(ctx, "devices/")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "devices/a/status", got[0].Topic)
	assert.Equal(t, "devices/b/status", got[1].Topic)

	all, err := m.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestMemoryBackendCopiesPayload(t *testing.T) {
	m := NewMemoryBackend()
	ctx := context.Background()
	payload := map[string]any{"state": "IDLE"}
	require.NoError(t, m.Put(ctx, Entry{Topic: "devices/a/status", Payload: payload}))
	payload["state"] = "mutated"

	e, ok, err := m.Get(ctx, "devices/a/status")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "IDLE", e.Payload["state"])
}

func TestRecordFillsTimestamp(t *testing.T) {
	board := New(NewMemoryBackend())
	ctx := context.Background()
	board.Record(ctx, broker.Message{Topic: "devices/a", Payload: map[string]any{}})
	e, ok, err := board.Get(ctx, "devices/a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.False(t, e.UpdatedAt.IsZero())
}
