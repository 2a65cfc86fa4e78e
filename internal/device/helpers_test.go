// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package device

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ManuGH/avbridge/internal/broker"
	"github.com/stretchr/testify/require"
)

const (
	testWait = 2 * time.Second
	testTick = 5 * time.Millisecond
)

type fakeHandle struct {
	id       string
	endpoint string
	done     chan struct{}
	once     sync.Once
	closes   atomic.Int32

	mu  sync.Mutex
	err error
}

func newFakeHandle(id string) *fakeHandle {
	return &fakeHandle{id: id + "-h", endpoint: "rtsp://127.0.0.1/" + id, done: make(chan struct{})}
}

func (h *fakeHandle) ID() string            { return h.id }
func (h *fakeHandle) Endpoint() string      { return h.endpoint }
func (h *fakeHandle) Done() <-chan struct{} { return h.done }

func (h *fakeHandle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

func (h *fakeHandle) Close() error {
	h.closes.Add(1)
	h.once.Do(func() { close(h.done) })
	return nil
}

// exit simulates the external process dying on its own.
func (h *fakeHandle) exit(err error) {
	h.mu.Lock()
	h.err = err
	h.mu.Unlock()
	h.once.Do(func() { close(h.done) })
}

func (h *fakeHandle) released() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

type fakeAdapter struct {
	mu       sync.Mutex
	startErr error
	stopErr  error
	gate     chan struct{}
	status   HandleStatus
	handles  []*fakeHandle

	starts  atomic.Int32
	stops   atomic.Int32
	entered chan struct{}
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{entered: make(chan struct{}, 16)}
}

func (a *fakeAdapter) Start(ctx context.Context, req StreamRequest) (StreamHandle, error) {
	a.starts.Add(1)
	a.entered <- struct{}{}

	a.mu.Lock()
	gate, startErr := a.gate, a.startErr
	a.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if startErr != nil {
		return nil, startErr
	}
	h := newFakeHandle(req.StreamID)
	a.mu.Lock()
	a.handles = append(a.handles, h)
	a.mu.Unlock()
	return h, nil
}

func (a *fakeAdapter) Stop(_ context.Context, h StreamHandle) error {
	a.stops.Add(1)
	a.mu.Lock()
	stopErr := a.stopErr
	a.mu.Unlock()
	if stopErr != nil {
		return stopErr
	}
	h.(*fakeHandle).exit(nil)
	return nil
}

func (a *fakeAdapter) Status(StreamHandle) HandleStatus {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.status == "" {
		return HandleRunning
	}
	return a.status
}

func (a *fakeAdapter) set(fn func(a *fakeAdapter)) {
	a.mu.Lock()
	fn(a)
	a.mu.Unlock()
}

func (a *fakeAdapter) handle(i int) *fakeHandle {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.handles[i]
}

type recorder struct {
	mu   sync.Mutex
	msgs []broker.Message
}

func (r *recorder) handle(_ context.Context, msg broker.Message) error {
	r.mu.Lock()
	r.msgs = append(r.msgs, msg)
	r.mu.Unlock()
	return nil
}

func (r *recorder) topic(topic string) []broker.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []broker.Message
	for _, m := range r.msgs {
		if m.Topic == topic {
			out = append(out, m)
		}
	}
	return out
}

// statuses returns the sequence of status values published for device id.
func (r *recorder) statuses(id string) []string {
	var out []string
	for _, m := range r.topic(broker.TopicDeviceStatus(id)) {
		out = append(out, m.Payload["status"].(string))
	}
	return out
}

type failingStore struct {
	*MemoryStore
}

func (failingStore) Save(context.Context, Record) error { return errors.New("disk full") }

type testEnv struct {
	bus     *broker.Broker
	rec     *recorder
	disc    *StaticDiscovery
	adapter *fakeAdapter
	mgr     *Manager
}

func newTestEnv(t *testing.T, mutate func(*Options)) *testEnv {
	t.Helper()
	env := &testEnv{
		bus:     broker.New(),
		rec:     &recorder{},
		disc:    NewStaticDiscovery(),
		adapter: newFakeAdapter(),
	}
	for _, p := range []string{"devices/#", "streams/#", "reply/#"} {
		_, err := env.bus.Subscribe("test", p, env.rec.handle)
		require.NoError(t, err)
	}

	opts := Options{
		Bus:          env.bus,
		Discovery:    env.disc,
		Adapters:     map[string]ProtocolAdapter{"rtsp": env.adapter, "hls": env.adapter},
		StopGrace:    200 * time.Millisecond,
		RestartDelay: 10 * time.Millisecond,
	}
	if mutate != nil {
		mutate(&opts)
	}
	mgr, err := New(context.Background(), opts)
	require.NoError(t, err)
	env.mgr = mgr
	t.Cleanup(func() { _ = mgr.Close(context.Background()) })
	return env
}

// configured registers a camera through a scan and configures it.
func (env *testEnv) configured(t *testing.T, hint string) string {
	t.Helper()
	env.disc.Set(Descriptor{IDHint: hint, Type: "camera", Protocol: "rtsp", Address: "10.0.0.5:554"})
	_, err := env.mgr.Scan(context.Background())
	require.NoError(t, err)
	id := NormalizeID(hint)
	_, err = env.mgr.Configure(context.Background(), id, map[string]any{"fps": 25})
	require.NoError(t, err)
	return id
}

func mustStatus(t *testing.T, m *Manager, id string) Status {
	t.Helper()
	d, err := m.Get(id)
	require.NoError(t, err)
	return d.Status
}
