// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package pipeline

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/avbridge/internal/dsl"
)

func TestQueueDropOldestKeepsNewest(t *testing.T) {
	q := newQueue(2, dsl.PolicyDropOldest, time.Second, "test")
	ctx := context.Background()
	for i := uint64(1); i <= 5; i++ {
		require.NoError(t, q.push(ctx, Frame{Seq: i}))
	}
	q.close()

	var got []uint64
	for f := range q.ch {
		got = append(got, f.Seq)
	}
	assert.Equal(t, []uint64{4, 5}, got)
}

func TestQueueBlockTimesOut(t *testing.T) {
	q := newQueue(1, dsl.PolicyBlock, 20*time.Millisecond, "test")
	ctx := context.Background()
	require.NoError(t, q.push(ctx, Frame{Seq: 1}))

	start := time.Now()
	err := q.push(ctx, Frame{Seq: 2})
	assert.ErrorIs(t, err, ErrQueueTimeout)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestQueueBlockWaitsForConsumer(t *testing.T) {
	q := newQueue(1, dsl.PolicyBlock, time.Second, "test")
	ctx := context.Background()
	require.NoError(t, q.push(ctx, Frame{Seq: 1}))

	go func() {
		time.Sleep(10 * time.Millisecond)
		<-q.ch
	}()
	assert.NoError(t, q.push(ctx, Frame{Seq: 2}))
}

func TestQueuePushHonorsCancel(t *testing.T) {
	q := newQueue(1, dsl.PolicyBlock, time.Minute, "test")
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, q.push(ctx, Frame{Seq: 1}))
	cancel()
	assert.ErrorIs(t, q.push(ctx, Frame{Seq: 2}), context.Canceled)
}

func TestInboxFanIn(t *testing.T) {
	a := newQueue(4, dsl.PolicyBlock, time.Second, "test")
	b := newQueue(4, dsl.PolicyBlock, time.Second, "test")
	ctx := context.Background()
	require.NoError(t, a.push(ctx, Frame{Seq: 1}))
	require.NoError(t, a.push(ctx, Frame{Seq: 2}))
	require.NoError(t, b.push(ctx, Frame{Seq: 10}))
	a.close()
	b.close()

	in := newInbox([]*queue{a, b})
	var got []uint64
	for {
		f, ok, err := in.recv(ctx)
		require.NoError(t, err)
		if !ok {
			break
		}
		got = append(got, f.Seq)
	}
	sort.Slice(got, func(i, j int) bool { return got[i] < got[j] })
	assert.Equal(t, []uint64{1, 2, 10}, got)

	// Stays drained.
	_, ok, err := in.recv(ctx)
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestInboxRecvCancelled(t *testing.T) {
	in := newInbox([]*queue{newQueue(1, dsl.PolicyBlock, time.Second, "test")})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, ok, err := in.recv(ctx)
	assert.False(t, ok)
	assert.ErrorIs(t, err, context.Canceled)
}
