// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package device

import (
	"context"
	"testing"

	"github.com/ManuGH/avbridge/internal/broker"
	"github.com/ManuGH/avbridge/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const cameraSchema = `
type: object
required: [fps]
properties:
  fps:
    type: integer
    minimum: 1
    maximum: 60
  resolution:
    type: string
    enum: ["720p", "1080p"]
additionalProperties: false
`

func newSchemaEnv(t *testing.T, mutate func(*Options)) *testEnv {
	t.Helper()
	v, err := NewSchemaValidator(map[string][]byte{"camera": []byte(cameraSchema)})
	require.NoError(t, err)
	env := newTestEnv(t, func(o *Options) {
		o.Validator = v
		if mutate != nil {
			mutate(o)
		}
	})
	env.disc.Set(Descriptor{IDHint: "cam1", Type: "camera", Protocol: "rtsp"})
	_, err = env.mgr.Scan(context.Background())
	require.NoError(t, err)
	return env
}

func TestConfigure_AppliesAndPersists(t *testing.T) {
	store := NewMemoryStore()
	env := newSchemaEnv(t, func(o *Options) { o.Store = store })

	d, err := env.mgr.Configure(context.Background(), "cam1", map[string]any{"fps": 30, "resolution": "1080p"})
	require.NoError(t, err)
	assert.Equal(t, StatusConfigured, d.Status)
	assert.True(t, d.Configured)
	assert.Equal(t, 30, d.Settings["fps"])

	assert.Equal(t, []string{"DISCOVERED", "CONFIGURING", "CONFIGURED"}, env.rec.statuses("cam1"))
	require.Len(t, env.rec.topic(broker.TopicDeviceConfigured("cam1")), 1)

	recs, err := store.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "cam1", recs[0].ID)
	assert.Equal(t, "camera", recs[0].Type)
}

func TestConfigure_InvalidSettingsRejectedWithoutMutation(t *testing.T) {
	env := newSchemaEnv(t, nil)
	before, err := env.mgr.Snapshot()
	require.NoError(t, err)

	for _, bad := range []map[string]any{
		{"fps": 0},
		{"resolution": "1080p"},
		{"fps": 25, "codec": "h265"},
		{"fps": "fast"},
	} {
		_, err := env.mgr.Configure(context.Background(), "cam1", bad)
		var cerr *ConfigurationError
		require.ErrorAs(t, err, &cerr, "settings %v", bad)
		assert.ErrorIs(t, err, model.ErrConfiguration)
	}

	after, err := env.mgr.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, string(before), string(after))
	assert.Equal(t, []string{"DISCOVERED"}, env.rec.statuses("cam1"))
}

func TestConfigure_PersistFailureEndsInError(t *testing.T) {
	env := newSchemaEnv(t, func(o *Options) { o.Store = failingStore{NewMemoryStore()} })

	d, err := env.mgr.Configure(context.Background(), "cam1", map[string]any{"fps": 30})
	require.Error(t, err)
	assert.Equal(t, StatusError, d.Status)
	assert.Equal(t, model.RPersistFailed, d.LastReason)
	assert.False(t, d.Configured)
	assert.Empty(t, d.Settings)

	// ERROR is left only by an explicit configure.
	_, err = env.mgr.StartStream(context.Background(), "cam1", "", nil)
	assert.ErrorIs(t, err, model.ErrLifecycle)
}

func TestConfigure_RejectedWhileRunning(t *testing.T) {
	env := newTestEnv(t, nil)
	id := env.configured(t, "cam1")
	_, err := env.mgr.StartStream(context.Background(), id, "rtsp", nil)
	require.NoError(t, err)

	_, err = env.mgr.Configure(context.Background(), id, map[string]any{"fps": 10})
	var lerr *LifecycleError
	require.ErrorAs(t, err, &lerr)
	assert.Equal(t, StatusRunning, lerr.State)
	assert.Equal(t, StatusRunning, mustStatus(t, env.mgr, id))
}

func TestConfigure_UnknownDevice(t *testing.T) {
	env := newTestEnv(t, nil)
	_, err := env.mgr.Configure(context.Background(), "ghost", map[string]any{})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestNew_RestoresPersistedDevicesOffline(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, store.Save(context.Background(), Record{ID: "cam1", Type: "camera", Protocol: "rtsp", Settings: map[string]any{"fps": 5}}))

	env := newTestEnv(t, func(o *Options) { o.Store = store })
	d, err := env.mgr.Get("cam1")
	require.NoError(t, err)
	assert.Equal(t, StatusConfigured, d.Status)
	assert.True(t, d.Offline)
	assert.True(t, d.Configured)

	_, err = env.mgr.StartStream(context.Background(), "cam1", "", nil)
	assert.ErrorIs(t, err, ErrOffline)

	env.disc.Set(Descriptor{IDHint: "cam1", Type: "camera", Protocol: "rtsp"})
	_, err = env.mgr.Scan(context.Background())
	require.NoError(t, err)
	_, err = env.mgr.StartStream(context.Background(), "cam1", "", nil)
	require.NoError(t, err)
}

func TestRegister_CreatesDiscoveredDevice(t *testing.T) {
	env := newTestEnv(t, nil)
	d, err := env.mgr.Register(context.Background(), Descriptor{IDHint: "Manual Cam", Type: "camera", Protocol: "rtsp"})
	require.NoError(t, err)
	assert.Equal(t, "manual_cam", d.ID)
	assert.Equal(t, StatusDiscovered, d.Status)

	again, err := env.mgr.Register(context.Background(), Descriptor{IDHint: "manual cam", Type: "other"})
	require.NoError(t, err)
	assert.Equal(t, "camera", again.Type)

	_, err = env.mgr.Register(context.Background(), Descriptor{})
	assert.ErrorIs(t, err, model.ErrConfiguration)
}
