// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package device

import (
	"context"
	"errors"
	"testing"

	"github.com/ManuGH/avbridge/internal/broker"
	"github.com/ManuGH/avbridge/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var twoCameras = []Descriptor{
	{IDHint: "/dev/video0", Type: "v4l2", Protocol: "rtsp", Address: "/dev/video0", Metadata: map[string]any{"formats": []any{"mjpeg", "yuyv"}}},
	{IDHint: "Cam Lobby", Type: "onvif", Protocol: "rtsp", Address: "10.0.0.7:554"},
}

func TestScan_AddsDiscoveredDevices(t *testing.T) {
	env := newTestEnv(t, nil)
	env.disc.Set(twoCameras...)

	res, err := env.mgr.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ScanResult{Found: 2, Added: 2}, res)

	devs := env.mgr.List()
	require.Len(t, devs, 2)
	assert.Equal(t, "cam_lobby", devs[0].ID)
	assert.Equal(t, "dev_video0", devs[1].ID)
	for _, d := range devs {
		assert.Equal(t, StatusDiscovered, d.Status)
		assert.False(t, d.Offline)
	}

	done := env.rec.topic(broker.TopicScanComplete)
	require.Len(t, done, 1)
	assert.Equal(t, 2, done[0].Payload["count"])
	assert.Equal(t, "complete", env.mgr.ScanStatus().State)
}

func TestScan_IdempotentSnapshot(t *testing.T) {
	env := newTestEnv(t, nil)
	env.disc.Set(twoCameras...)

	_, err := env.mgr.Scan(context.Background())
	require.NoError(t, err)
	first, err := env.mgr.Snapshot()
	require.NoError(t, err)

	res, err := env.mgr.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ScanResult{Found: 2}, res)

	second, err := env.mgr.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, string(first), string(second))
}

func TestScan_AbsentDevicesGoOfflineAndReturn(t *testing.T) {
	env := newTestEnv(t, nil)
	env.disc.Set(twoCameras...)
	_, err := env.mgr.Scan(context.Background())
	require.NoError(t, err)

	env.disc.Set(twoCameras[0])
	res, err := env.mgr.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Offline)

	lobby, err := env.mgr.Get("cam_lobby")
	require.NoError(t, err)
	assert.True(t, lobby.Offline, "absent device is kept and marked offline")
	assert.Len(t, env.mgr.List(), 2)

	env.disc.Set(twoCameras...)
	res, err = env.mgr.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Restored)
	lobby, err = env.mgr.Get("Cam Lobby")
	require.NoError(t, err)
	assert.False(t, lobby.Offline)
}

func TestScan_DiscoveryFailureLeavesRegistryUnchanged(t *testing.T) {
	env := newTestEnv(t, nil)
	env.disc.Set(twoCameras...)
	_, err := env.mgr.Scan(context.Background())
	require.NoError(t, err)
	before, err := env.mgr.Snapshot()
	require.NoError(t, err)

	env.mgr.opts.Discovery = DiscoveryFunc(func(context.Context) ([]Descriptor, error) {
		return nil, errors.New("multicast socket closed")
	})
	_, err = env.mgr.Scan(context.Background())
	require.Error(t, err)

	var derr *DiscoveryError
	require.ErrorAs(t, err, &derr)
	assert.ErrorIs(t, err, model.ErrDiscovery)
	assert.Equal(t, "failed", env.mgr.ScanStatus().State)

	after, err := env.mgr.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, string(before), string(after))
	assert.Len(t, env.rec.topic(broker.TopicScanComplete), 1)
}

func TestScan_DiscoveryPanicIsDiscoveryError(t *testing.T) {
	env := newTestEnv(t, func(o *Options) {
		o.Discovery = DiscoveryFunc(func(context.Context) ([]Descriptor, error) { panic("bad driver") })
	})
	_, err := env.mgr.Scan(context.Background())
	assert.ErrorIs(t, err, model.ErrDiscovery)
}

func TestScan_DuplicateAndEmptyDescriptors(t *testing.T) {
	env := newTestEnv(t, nil)
	env.disc.Set(
		Descriptor{IDHint: "CAM-1", Type: "onvif"},
		Descriptor{IDHint: "cam-1", Type: "other"},
		Descriptor{IDHint: "  ", Address: ""},
	)
	res, err := env.mgr.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Found)
	assert.Equal(t, 1, res.Collisions)

	d, err := env.mgr.Get("cam-1")
	require.NoError(t, err)
	assert.Equal(t, "onvif", d.Type, "first descriptor for an id wins")
}

func TestScan_IDCollisionsReported(t *testing.T) {
	env := newTestEnv(t, nil)
	env.disc.Set(
		Descriptor{IDHint: "lobby/cam", Type: "onvif"},
		Descriptor{IDHint: "lobby cam", Type: "uvc"},
		Descriptor{IDHint: "lobby/cam", Type: "onvif"},
		Descriptor{Address: "10.0.0.7:554"},
	)
	res, err := env.mgr.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Found)
	assert.Equal(t, 1, res.Collisions, "a repeated identical hint is not a collision")

	d, err := env.mgr.Get("lobby_cam")
	require.NoError(t, err)
	assert.Equal(t, "onvif", d.Type)

	done := env.rec.topic(broker.TopicScanComplete)
	require.Len(t, done, 1)
	assert.Equal(t, 1, done[0].Payload["collisions"])
}

func TestTriggerScan_Deduplicates(t *testing.T) {
	gate := make(chan struct{})
	env := newTestEnv(t, func(o *Options) {
		o.Discovery = DiscoveryFunc(func(ctx context.Context) ([]Descriptor, error) {
			select {
			case <-gate:
			case <-ctx.Done():
			}
			return nil, nil
		})
	})

	require.True(t, env.mgr.TriggerScan())
	assert.False(t, env.mgr.TriggerScan())
	close(gate)
	require.Eventually(t, func() bool { return env.mgr.ScanStatus().State == "complete" }, testWait, testTick)
	require.Eventually(t, func() bool { return env.mgr.TriggerScan() }, testWait, testTick)
}

func TestGet_ReturnsCopy(t *testing.T) {
	env := newTestEnv(t, nil)
	env.disc.Set(twoCameras[0])
	_, err := env.mgr.Scan(context.Background())
	require.NoError(t, err)

	d, err := env.mgr.Get("dev_video0")
	require.NoError(t, err)
	d.Capabilities["formats"].([]any)[0] = "h264"
	d.Status = StatusRunning

	again, err := env.mgr.Get("dev_video0")
	require.NoError(t, err)
	assert.Equal(t, "mjpeg", again.Capabilities["formats"].([]any)[0])
	assert.Equal(t, StatusDiscovered, again.Status)
}
