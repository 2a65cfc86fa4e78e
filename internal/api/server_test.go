// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/avbridge/internal/broker"
	"github.com/ManuGH/avbridge/internal/device"
	"github.com/ManuGH/avbridge/internal/pipeline"
	"github.com/ManuGH/avbridge/internal/statusboard"
)

type fakeDevices struct {
	devices []device.Device
}

func (f *fakeDevices) List() []device.Device { return f.devices }

func (f *fakeDevices) Get(id string) (device.Device, error) {
	for _, d := range f.devices {
		if d.ID == id {
			return d, nil
		}
	}
	return device.Device{}, device.ErrNotFound
}

func (f *fakeDevices) ScanStatus() device.ScanStatus { return device.ScanStatus{State: "idle", Found: len(f.devices)} }

type fakePipelines []pipeline.Status

func (f fakePipelines) List() []pipeline.Status { return f }

func newTestServer(t *testing.T, b *broker.Broker, cfg Config) (*Server, *statusboard.Board) {
	t.Helper()
	board := statusboard.New(statusboard.NewMemoryBackend())
	t.Cleanup(func() { _ = board.Close() })
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewCounter(prometheus.CounterOpts{Name: "avbridge_test_total"}))
	if cfg.ReplyTimeout == 0 {
		cfg.ReplyTimeout = 200 * time.Millisecond
	}
	s := New(cfg, Deps{
		Devices: &fakeDevices{devices: []device.Device{
			{ID: "cam1", Type: "camera", Protocol: "rtsp", Status: device.StatusConfigured},
		}},
		Pipelines: fakePipelines{{ID: "lab", State: pipeline.StateRunning}},
		Board:     board,
		Bus:       b,
		Gatherer:  reg,
	})
	return s, board
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

// replyWith answers every device command on b with the given error (nil = ok).
func replyWith(t *testing.T, b *broker.Broker, fail error) *[]broker.Message {
	t.Helper()
	var got []broker.Message
	_, err := b.Subscribe("fake-manager", "command/devices/#", func(ctx context.Context, m broker.Message) error {
		got = append(got, m)
		to, _ := m.Payload["reply_to"].(string)
		p := map[string]any{"ok": fail == nil}
		if fail != nil {
			p["error"] = fail.Error()
		}
		return b.Publish(ctx, to, p, "fake-manager")
	})
	require.NoError(t, err)
	return &got
}

func TestHealthAndReady(t *testing.T) {
	s, _ := newTestServer(t, broker.New(broker.WithLogger(zerolog.Nop())), Config{})
	assert.Equal(t, http.StatusOK, do(t, s.Handler(), http.MethodGet, "/healthz", "").Code)
	assert.Equal(t, http.StatusOK, do(t, s.Handler(), http.MethodGet, "/readyz", "").Code)

	s.deps.Ready = func(context.Context) error { return errors.New("still loading") }
	rec := do(t, s.Handler(), http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "still loading", decode(t, rec)["error"])
}

func TestMetricsEndpoint(t *testing.T) {
	s, _ := newTestServer(t, broker.New(broker.WithLogger(zerolog.Nop())), Config{})
	rec := do(t, s.Handler(), http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "avbridge_test_total")
}

func TestDeviceRoutes(t *testing.T) {
	s, _ := newTestServer(t, broker.New(broker.WithLogger(zerolog.Nop())), Config{})

	rec := do(t, s.Handler(), http.MethodGet, "/api/v1/devices", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Len(t, body["devices"], 1)
	assert.Equal(t, "idle", body["scan"].(map[string]any)["state"])

	rec = do(t, s.Handler(), http.MethodGet, "/api/v1/devices/cam1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "rtsp", decode(t, rec)["protocol"])

	rec = do(t, s.Handler(), http.MethodGet, "/api/v1/devices/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStartStreamRelaysCommand(t *testing.T) {
	b := broker.New(broker.WithLogger(zerolog.Nop()))
	got := replyWith(t, b, nil)
	s, _ := newTestServer(t, b, Config{})

	rec := do(t, s.Handler(), http.MethodPost, "/api/v1/devices/cam1/streams", `{"protocol":"rtsp","params":{"fps":5}}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, true, decode(t, rec)["ok"])

	require.Len(t, *got, 1)
	msg := (*got)[0]
	assert.Equal(t, "command/devices/cam1/start_stream", msg.Topic)
	assert.Equal(t, SenderID, msg.SenderID)
	assert.Equal(t, "rtsp", msg.Payload["protocol"])
	assert.Equal(t, map[string]any{"fps": float64(5)}, msg.Payload["params"])
	assert.True(t, strings.HasPrefix(msg.Payload["reply_to"].(string), "replies/api/"))
}

func TestStartStreamRejectedCommand(t *testing.T) {
	b := broker.New(broker.WithLogger(zerolog.Nop()))
	replyWith(t, b, errors.New("device offline"))
	s, _ := newTestServer(t, b, Config{})

	rec := do(t, s.Handler(), http.MethodPost, "/api/v1/devices/cam1/streams", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "device offline", decode(t, rec)["error"])
}

func TestStartStreamValidation(t *testing.T) {
	s, _ := newTestServer(t, broker.New(broker.WithLogger(zerolog.Nop())), Config{})
	assert.Equal(t, http.StatusNotFound, do(t, s.Handler(), http.MethodPost, "/api/v1/devices/ghost/streams", "{}").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, s.Handler(), http.MethodPost, "/api/v1/devices/cam1/streams", `{"bogus":1}`).Code)
}

func TestCommandWithoutReplyIsAccepted(t *testing.T) {
	s, _ := newTestServer(t, broker.New(broker.WithLogger(zerolog.Nop())), Config{ReplyTimeout: 10 * time.Millisecond})
	rec := do(t, s.Handler(), http.MethodPost, "/api/v1/devices/scan", "")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "pending", body["status"])
	assert.NotEmpty(t, body["request_id"])
}

func TestStopStreamRelaysCommand(t *testing.T) {
	b := broker.New(broker.WithLogger(zerolog.Nop()))
	got := replyWith(t, b, nil)
	s, _ := newTestServer(t, b, Config{})

	rec := do(t, s.Handler(), http.MethodDelete, "/api/v1/devices/cam1/streams", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, *got, 1)
	assert.Equal(t, "command/devices/cam1/stop_stream", (*got)[0].Topic)
}

func TestPipelinesAndStatus(t *testing.T) {
	s, board := newTestServer(t, broker.New(broker.WithLogger(zerolog.Nop())), Config{})
	board.Record(context.Background(), broker.Message{
		Topic:   "pipeline/lab/status",
		Payload: map[string]any{"state": "RUNNING"},
	})

	rec := do(t, s.Handler(), http.MethodGet, "/api/v1/pipelines", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["pipelines"], 1)

	rec = do(t, s.Handler(), http.MethodGet, "/api/v1/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	entries := decode(t, rec)["pipeline"].([]any)
	require.Len(t, entries, 1)
	assert.Equal(t, "pipeline/lab/status", entries[0].(map[string]any)["topic"])
}

func TestRateLimit(t *testing.T) {
	s, _ := newTestServer(t, broker.New(broker.WithLogger(zerolog.Nop())), Config{RateLimit: 2})
	h := s.Handler()
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/api/v1/pipelines", "").Code)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/api/v1/pipelines", "").Code)
	rec := do(t, h, http.MethodGet, "/api/v1/pipelines", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	// Health checks are outside the limited group.
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/healthz", "").Code)
}

func TestServeShutsDownOnCancel(t *testing.T) {
	s, _ := newTestServer(t, broker.New(broker.WithLogger(zerolog.Nop())), Config{TracingService: "avbridge-test"})
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
