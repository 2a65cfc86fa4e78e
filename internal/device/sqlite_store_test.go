// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package device

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSqliteStore_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "devices.sqlite")
	ctx := context.Background()

	s, err := NewSqliteStore(path)
	require.NoError(t, err)

	require.NoError(t, s.Save(ctx, Record{ID: "cam1", Type: "onvif", Protocol: "rtsp", Address: "10.0.0.7:554",
		Settings: map[string]any{"fps": 25, "profile": map[string]any{"name": "main"}}}))
	require.NoError(t, s.Save(ctx, Record{ID: "mic1", Type: "alsa", Protocol: "rtp"}))
	require.NoError(t, s.Save(ctx, Record{ID: "cam1", Type: "onvif", Protocol: "rtsp", Address: "10.0.0.8:554",
		Settings: map[string]any{"fps": 30}}))
	require.NoError(t, s.Close())

	// reopen: migrations are idempotent and data survives
	s, err = NewSqliteStore(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	recs, err := s.Load(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "cam1", recs[0].ID)
	assert.Equal(t, "10.0.0.8:554", recs[0].Address)
	assert.Equal(t, map[string]any{"fps": float64(30)}, recs[0].Settings)
	assert.Equal(t, map[string]any{}, recs[1].Settings)

	require.NoError(t, s.Delete(ctx, "mic1"))
	recs, err = s.Load(ctx)
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestSqliteStore_BacksManager(t *testing.T) {
	path := filepath.Join(t.TempDir(), "devices.sqlite")
	s, err := NewSqliteStore(path)
	require.NoError(t, err)

	env := newTestEnv(t, func(o *Options) { o.Store = s })
	id := env.configured(t, "Garage Cam")
	require.NoError(t, env.mgr.Close(context.Background()))
	require.NoError(t, s.Close())

	s2, err := NewSqliteStore(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s2.Close() })
	mgr, err := New(context.Background(), Options{Store: s2})
	require.NoError(t, err)
	t.Cleanup(func() { _ = mgr.Close(context.Background()) })

	d, err := mgr.Get(id)
	require.NoError(t, err)
	assert.Equal(t, StatusConfigured, d.Status)
	assert.Equal(t, float64(25), d.Settings["fps"])
}

func TestSqliteStore_RefusesCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "devices.sqlite")
	require.NoError(t, os.WriteFile(path, []byte("definitely not a sqlite database, just text padding it out"), 0o600))

	_, err := NewSqliteStore(path)
	assert.Error(t, err)
}
