// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package validate

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/avbridge/internal/model"
)

func TestValidator_URL(t *testing.T) {
	tests := []struct {
		name    string
		value   string
		wantErr bool
	}{
		{"valid http", "http://example.com", false},
		{"valid https with port", "https://example.com:8443/hook", false},
		{"empty url", "", true},
		{"no host", "http://", true},
		{"invalid scheme", "ftp://example.com", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := New()
			v.URL("Hook", tt.value, []string{"http", "https"})
			assert.Equal(t, tt.wantErr, !v.IsValid(), v.Errors())
		})
	}
}

func TestValidator_ListenAddr(t *testing.T) {
	tests := []struct {
		addr    string
		wantErr bool
	}{
		{":8080", false},
		{"127.0.0.1:0", false},
		{"localhost:9090", false},
		{"8080", true},
		{":99999", true},
		{":http", true},
	}
	for _, tt := range tests {
		t.Run(tt.addr, func(t *testing.T) {
			v := New()
			v.ListenAddr("API.Listen", tt.addr)
			assert.Equal(t, tt.wantErr, !v.IsValid(), v.Errors())
		})
	}
}

func TestValidator_NumericChecks(t *testing.T) {
	v := New()
	v.Range("QueueSize", 0, 1, 10)
	v.Positive("MaxRetries", 0)
	v.NonNegative("Delay", -1)
	v.FloatRange("SamplingRate", 1.5, 0, 1)
	v.MinDuration("BlockTimeout", time.Millisecond, 10*time.Millisecond)
	v.Range("Ok", 5, 1, 10)

	errs := v.Errors()
	require.Len(t, errs, 5)
	assert.Equal(t, "QueueSize", errs[0].Field)
	assert.Equal(t, "BlockTimeout", errs[4].Field)
}

func TestValidator_OneOfAndNotEmpty(t *testing.T) {
	v := New()
	v.OneOf("Backpressure", "drop_newest", []string{"block", "drop_oldest"})
	v.OneOf("Store", "badger", []string{"badger", "memory"})
	v.NotEmpty("DataDir", "  ")
	require.Len(t, v.Errors(), 2)
	assert.Contains(t, v.Errors()[0].Message, "drop_newest")
}

func TestValidator_Directory(t *testing.T) {
	tmp := t.TempDir()

	v := New()
	v.Directory("DataDir", filepath.Join(tmp, "created"), false)
	assert.True(t, v.IsValid())
	info, err := os.Stat(filepath.Join(tmp, "created"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	file := filepath.Join(tmp, "file")
	require.NoError(t, os.WriteFile(file, nil, 0o600))
	v = New()
	v.Directory("DataDir", file, false)
	v.Directory("Missing", filepath.Join(tmp, "missing"), true)
	v.Directory("Traversal", "../etc", false)
	assert.Len(t, v.Errors(), 3)
}

func TestValidationError(t *testing.T) {
	v := New()
	assert.NoError(t, v.Err())

	v.AddError("A", "first", 1)
	v.AddError("B", "second", 2)
	err := v.Err()
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrConfiguration)
	assert.Equal(t, "validation failed for A: first; validation failed for B: second", err.Error())

	var ve ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Len(t, ve.Errors(), 2)

	// Later additions do not leak into an already returned error.
	v.AddError("C", "third", 3)
	assert.Len(t, ve.Errors(), 2)
}

func TestParseLogLevel(t *testing.T) {
	l, err := ParseLogLevel("debug")
	require.NoError(t, err)
	assert.Equal(t, LogLevelDebug, l)

	l, err = ParseLogLevel("  WARN ")
	require.NoError(t, err)
	assert.Equal(t, LogLevelWarn, l)

	l, err = ParseLogLevel("")
	require.NoError(t, err)
	assert.Equal(t, LogLevelInfo, l)

	_, err = ParseLogLevel("loud")
	assert.ErrorIs(t, err, ErrInvalidLogLevel)
	_, err = ParseLogLevel("fatal")
	assert.ErrorIs(t, err, ErrInvalidLogLevel)
}

func TestValidatorLogLevel(t *testing.T) {
	v := New()
	v.LogLevel("Log.Level", "Debug")
	assert.True(t, v.IsValid())

	v.LogLevel("Log.Level", "verbose")
	require.Len(t, v.Errors(), 1)
	assert.Equal(t, "Log.Level", v.Errors()[0].Field)
	assert.Equal(t, "verbose", v.Errors()[0].Value)
}
