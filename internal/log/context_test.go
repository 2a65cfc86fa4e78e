// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package log

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
)

func TestContextIDs(t *testing.T) {
	tests := []struct {
		name string
		set  func(context.Context, string) context.Context
		get  func(context.Context) string
	}{
		{"correlation", ContextWithCorrelationID, CorrelationIDFromContext},
		{"device", ContextWithDeviceID, DeviceIDFromContext},
		{"pipeline", ContextWithPipelineID, PipelineIDFromContext},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			//nolint:staticcheck // nil context is part of the contract
			ctx := tt.set(nil, "id-1")
			assert.Equal(t, "id-1", tt.get(ctx))
			assert.Equal(t, "", tt.get(context.Background()))
			assert.Equal(t, "", tt.get(nil)) //nolint:staticcheck
		})
	}
}

func TestWithContextAddsFields(t *testing.T) {
	var buf bytes.Buffer
	l := zerolog.New(&buf)

	ctx := ContextWithDeviceID(context.Background(), "cam1")
	ctx = ContextWithPipelineID(ctx, "motion")
	enriched := WithContext(ctx, l)
	enriched.Info().Msg("hello")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "cam1", entry[FieldDeviceID])
	assert.Equal(t, "motion", entry[FieldPipelineID])
	assert.NotContains(t, entry, FieldCorrelationID)
}

func TestWithContextNoFieldsReturnsSameLogger(t *testing.T) {
	var buf bytes.Buffer
	l := zerolog.New(&buf)
	out := WithContext(context.Background(), l)
	out.Info().Msg("x")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Len(t, entry, 2) // level + message
}

func TestWithComponent(t *testing.T) {
	var buf bytes.Buffer
	Configure(Config{Output: &buf, Level: "debug"})
	t.Cleanup(func() { Configure(Config{Output: io.Discard}) })

	l := WithComponent("broker")
	l.Info().Msg("ready")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "broker", entry[FieldComponent])
	assert.Equal(t, "avbridge", entry["service"])
}

func TestWithTraceContext(t *testing.T) {
	var buf bytes.Buffer
	Configure(Config{Output: &buf})
	t.Cleanup(func() { Configure(Config{Output: io.Discard}) })

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	spanCtx := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), spanCtx)

	l := WithTraceContext(ctx)
	l.Info().Msg("traced")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", entry["trace_id"])
	assert.Equal(t, "00f067aa0ba902b7", entry["span_id"])
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.WarnLevel, parseLevel(" WARN "))
	assert.Equal(t, zerolog.TraceLevel, parseLevel("trace"))
	assert.Equal(t, zerolog.InfoLevel, parseLevel(""))
	assert.Equal(t, zerolog.InfoLevel, parseLevel("loud"))
}
