// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package pipeline

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/avbridge/internal/dsl"
)

func buildStage(t *testing.T, kind string, params dsl.Params) Processor {
	t.Helper()
	f, ok := NewDefaultRegistry().stage(kind)
	require.True(t, ok, "kind %s", kind)
	p, err := f(context.Background(), Env{PipelineID: "p", Stage: kind}, params)
	require.NoError(t, err)
	return p
}

func runFrames(t *testing.T, p Processor, n int) []uint64 {
	t.Helper()
	var kept []uint64
	for i := 1; i <= n; i++ {
		out, ok, err := p.Process(context.Background(), Frame{Seq: uint64(i)})
		require.NoError(t, err)
		if ok {
			kept = append(kept, out.Seq)
		}
	}
	return kept
}

func TestRegistryKinds(t *testing.T) {
	k := NewDefaultRegistry().Kinds()
	assert.Equal(t, []string{"annotate", "passthrough", "sample", "throttle"}, k.Stages)
	assert.Equal(t, []string{"exec", "stream", "synthetic"}, k.Sources)
	assert.Equal(t, []string{"discard", "publish", "record", "stream", "webhook"}, k.Sinks)
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	r := NewDefaultRegistry()
	err := r.RegisterStage("sample", newPassthrough)
	assert.ErrorContains(t, err, "already registered")
	assert.Error(t, r.RegisterSink("", newDiscardSink))
	require.NoError(t, r.RegisterStage("custom", newPassthrough))
	assert.Contains(t, r.Kinds().Stages, "custom")
}

func TestSampleKeepsFirstOfEachGroup(t *testing.T) {
	p := buildStage(t, "sample", dsl.Params{"every": dsl.IntValue(3)})
	assert.Equal(t, []uint64{1, 4, 7}, runFrames(t, p, 8))

	_, err := builtinStages["sample"](context.Background(), Env{}, dsl.Params{"every": dsl.IntValue(0)})
	assert.Error(t, err)
}

func TestThrottleDropMode(t *testing.T) {
	p := buildStage(t, "throttle", dsl.Params{"fps": dsl.FloatValue(1), "burst": dsl.IntValue(2)})
	// Burst admits two frames, the rest fall inside the same second.
	assert.Equal(t, []uint64{1, 2}, runFrames(t, p, 5))
}

func TestThrottleWaitModeHonorsCancel(t *testing.T) {
	p := buildStage(t, "throttle", dsl.Params{"fps": dsl.FloatValue(0.001), "mode": dsl.StringValue("wait")})
	_, ok, err := p.Process(context.Background(), Frame{Seq: 1})
	require.NoError(t, err)
	require.True(t, ok)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, ok, err = p.Process(ctx, Frame{Seq: 2})
	assert.False(t, ok)
	assert.Error(t, err)
}

func TestThrottleRejectsBadParams(t *testing.T) {
	for name, params := range map[string]dsl.Params{
		"missing fps": {},
		"bad mode":    {"fps": dsl.IntValue(5), "mode": dsl.StringValue("queue")},
		"zero burst":  {"fps": dsl.IntValue(5), "burst": dsl.IntValue(0)},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := builtinStages["throttle"](context.Background(), Env{}, params)
			assert.Error(t, err)
		})
	}
}

func TestAnnotateMergesTags(t *testing.T) {
	p := buildStage(t, "annotate", dsl.Params{"tags": dsl.MapValue(map[string]dsl.Value{
		"site": dsl.StringValue("lab"),
	})})
	in := Frame{Seq: 1, Meta: map[string]any{"source": "synthetic"}}
	out, ok, err := p.Process(context.Background(), in)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, map[string]any{"source": "synthetic", "site": "lab"}, out.Meta)
	assert.Equal(t, map[string]any{"source": "synthetic"}, in.Meta, "input frame untouched")

	flat := buildStage(t, "annotate", dsl.Params{"zone": dsl.StringValue("north")})
	out, _, err = flat.Process(context.Background(), Frame{})
	require.NoError(t, err)
	assert.Equal(t, "north", out.Meta["zone"])
}

func TestSyntheticSourceCount(t *testing.T) {
	f, ok := NewDefaultRegistry().source("synthetic")
	require.True(t, ok)
	src, err := f(context.Background(), Env{}, dsl.Source{Kind: "synthetic", Params: dsl.Params{
		"count":    dsl.IntValue(3),
		"interval": dsl.StringValue("1ms"),
		"size":     dsl.IntValue(4),
	}})
	require.NoError(t, err)
	defer func() { _ = src.Close() }()

	for i := uint64(1); i <= 3; i++ {
		fr, err := src.Next(context.Background())
		require.NoError(t, err)
		assert.Equal(t, i, fr.Seq)
		assert.Len(t, fr.Data, 4)
	}
	_, err = src.Next(context.Background())
	assert.ErrorIs(t, err, io.EOF)
}

func TestStreamSourceNeedsRunningStream(t *testing.T) {
	_, err := newStreamSource(context.Background(), Env{Opener: EndpointOpener{}}, dsl.Source{Kind: "stream", Device: "cam1"})
	assert.ErrorIs(t, err, ErrStreamNotRunning)
}
