// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/avbridge/internal/config"
	"github.com/ManuGH/avbridge/internal/device"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Defaults()
	cfg.DataDir = t.TempDir()
	cfg.Pipelines.Dir = filepath.Join(cfg.DataDir, "pipelines")
	require.NoError(t, os.MkdirAll(cfg.Pipelines.Dir, 0o750))
	cfg.Pipelines.WatchDebounce = 10 * time.Millisecond
	cfg.Storage.Devices = config.BackendMemory
	cfg.Storage.Definitions = config.BackendMemory
	cfg.API.Listen = "127.0.0.1:0"
	cfg.Devices.ReconcileInterval = 0
	cfg.Devices.Static = []device.Descriptor{{IDHint: "Lab Cam", Type: "camera", Protocol: "rtsp", Address: "rtsp://10.0.0.5/live"}}
	require.NoError(t, config.Validate(cfg))
	return cfg
}

func TestAppRunsAndShutsDown(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, os.WriteFile(filepath.Join(cfg.Pipelines.Dir, "demo.pipeline"), []byte(`pipeline demo {
  input: {kind: synthetic, params: {count: 3, interval: "1ms"}},
  output: [{name: out, kind: discard}],
}`), 0o600))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	app, err := New(ctx, config.NewHolder(cfg, config.NewLoader("", "test")))
	require.NoError(t, err)
	app.reloadSignal = nil
	assert.ErrorIs(t, app.Ready(ctx), ErrNotReady)

	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	require.Eventually(t, func() bool { return app.Ready(ctx) == nil }, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		_, ok, err := app.board.Get(ctx, "devices/lab_cam")
		return err == nil && ok
	}, 2*time.Second, 10*time.Millisecond, "static device discovered")
	require.Eventually(t, func() bool {
		e, ok, err := app.board.Get(ctx, "pipeline/demo/status")
		return err == nil && ok && e.Payload["state"] == "STOPPED"
	}, 2*time.Second, 10*time.Millisecond, "pipeline from the watched directory ran to completion")

	d, err := app.devices.Get("lab_cam")
	require.NoError(t, err)
	assert.Equal(t, device.StatusDiscovered, d.Status)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("daemon did not stop")
	}
	assert.ErrorIs(t, app.Ready(context.Background()), ErrNotReady)
}

func TestNewFailsOnBadSchemaDir(t *testing.T) {
	cfg := testConfig(t)
	cfg.Devices.SchemaDir = filepath.Join(cfg.DataDir, "missing")
	_, err := New(context.Background(), config.NewHolder(cfg, config.NewLoader("", "test")))
	assert.ErrorContains(t, err, "load settings schemas")
}

func TestNewWithPersistentStores(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage.Devices = config.BackendSqlite
	cfg.Storage.Definitions = config.BackendBadger
	cfg.API.Enabled = false

	app, err := New(context.Background(), config.NewHolder(cfg, config.NewLoader("", "test")))
	require.NoError(t, err)
	assert.Nil(t, app.api)
	require.NoError(t, app.Shutdown(context.Background()))
	assert.FileExists(t, cfg.DevicesDBPath())
	assert.DirExists(t, cfg.DefinitionsPath())
}
