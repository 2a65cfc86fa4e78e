// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package device

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ManuGH/avbridge/internal/broker"
	"github.com/ManuGH/avbridge/internal/log"
	"github.com/ManuGH/avbridge/internal/metrics"
	"github.com/ManuGH/avbridge/internal/model"
	"github.com/ManuGH/avbridge/internal/resilience"
	"github.com/ManuGH/avbridge/internal/telemetry"
	"go.opentelemetry.io/otel/trace"
)

// StartStream opens the device's stream for protocol (the device default when
// empty). A device owns at most one stream: asking again for the running
// protocol returns the existing stream, a different protocol is a
// *LifecycleError, and a start racing another start gets ErrAlreadyStarting.
// On adapter failure the device ends in ERROR and a streams/{id}/error event is
// published exactly once.
func (m *Manager) StartStream(ctx context.Context, id, protocol string, params map[string]any) (StreamState, error) {
	e, err := m.lookup(id)
	if err != nil {
		return StreamState{}, err
	}

	e.mu.Lock()
	if e.removed {
		e.mu.Unlock()
		return StreamState{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	id = e.dev.ID
	if protocol == "" {
		protocol = e.dev.Protocol
	}
	if st, ok, err := checkStartable(e, protocol); ok || err != nil {
		e.mu.Unlock()
		return st, err
	}
	adapter, ok := m.opts.Adapters[protocol]
	if !ok {
		e.mu.Unlock()
		return StreamState{}, &ConfigurationError{DeviceID: id, Cause: fmt.Errorf("no adapter for protocol %q", protocol)}
	}

	from, err := m.fire(e, EvStart)
	if err != nil {
		e.mu.Unlock()
		return StreamState{}, err
	}
	sid := StreamID(id, protocol)
	st := StreamState{StreamID: sid, DeviceID: id, Protocol: protocol, Status: StatusStarting}
	if e.dev.Streams == nil {
		e.dev.Streams = make(map[string]StreamState)
	}
	e.dev.Streams[sid] = st
	req := StreamRequest{StreamID: sid, Device: e.dev.info(), Protocol: protocol, Params: cloneAny(params)}
	evs := []event{statusEvent(e.dev, from)}
	e.mu.Unlock()
	m.emit(ctx, evs...)

	ctx, span := m.tracer.Start(ctx, "device.start_stream",
		trace.WithAttributes(telemetry.DeviceAttributes(id, req.Device.Type)...),
		trace.WithAttributes(telemetry.StreamAttributes(sid, protocol, "")...))
	defer span.End()

	handle, startErr := callStart(ctx, adapter, req)
	committed := false
	defer func() {
		// Scoped release: a handle that never made it into the registry is
		// closed on every exit path.
		if !committed && handle != nil {
			_ = handle.Close()
		}
	}()

	if startErr == nil && handle == nil {
		startErr = errors.New("adapter returned no handle")
	}
	if startErr == nil && m.isClosed() {
		startErr = context.Canceled
	}

	e.mu.Lock()
	if startErr != nil {
		from, _ = m.fire(e, EvFail)
		reason := model.RAdapterStartFailed
		if errors.Is(startErr, context.Canceled) || errors.Is(startErr, context.DeadlineExceeded) {
			reason = model.RCancelled
		}
		e.dev.LastReason = reason
		e.dev.LastError = startErr.Error()
		st.Status = StatusError
		e.dev.Streams[sid] = st
		evs = []event{statusEvent(e.dev, from), streamErrorEvent(st, reason, startErr)}
		e.mu.Unlock()
		m.emit(ctx, evs...)

		metrics.RecordStreamStart(protocol, "error")
		telemetry.RecordError(span, startErr)
		m.logger.Warn().Err(startErr).Str(log.FieldStreamID, sid).Msg("stream start failed")
		return st, &AdapterError{StreamID: sid, Reason: reason, Cause: startErr}
	}

	from, _ = m.fire(e, EvStarted)
	as := &activeStream{id: sid, protocol: protocol, params: cloneAny(params), adapter: adapter, handle: handle}
	e.active = as
	st.Status = StatusRunning
	st.Endpoint = handle.Endpoint()
	st.HandleID = handle.ID()
	e.dev.Streams[sid] = st
	e.dev.LastReason = ""
	e.dev.LastError = ""
	evs = []event{statusEvent(e.dev, from), {topic: broker.TopicStreamStarted(sid), payload: map[string]any{
		"stream_id": sid,
		"device_id": id,
		"protocol":  protocol,
		"endpoint":  st.Endpoint,
	}}}
	committed = true
	e.mu.Unlock()

	m.emit(ctx, evs...)
	if !m.spawn(func() { m.supervise(e, as) }) {
		// closing; Close already collected the running set
		m.streamLost(ctx, e, as, model.RCancelled, context.Canceled)
	}

	metrics.RecordStreamStart(protocol, "ok")
	span.SetAttributes(telemetry.StreamAttributes("", "", st.Endpoint)...)
	m.logger.Info().Str(log.FieldStreamID, sid).Str(log.FieldEndpoint, st.Endpoint).Msg("stream started")
	return st, nil
}

// checkStartable returns (existing, true, nil) for an idempotent start.
func checkStartable(e *entry, protocol string) (StreamState, bool, error) {
	switch e.dev.Status {
	case StatusRunning:
		if e.active != nil && e.active.protocol == protocol {
			return e.dev.Streams[e.active.id], true, nil
		}
		return StreamState{}, false, &LifecycleError{DeviceID: e.dev.ID, State: e.dev.Status, Op: string(EvStart),
			Detail: "another stream is active"}
	case StatusStarting:
		return StreamState{}, false, fmt.Errorf("device %s: %w", e.dev.ID, ErrAlreadyStarting)
	case StatusError:
		if !e.dev.Configured {
			return StreamState{}, false, &LifecycleError{DeviceID: e.dev.ID, State: e.dev.Status, Op: string(EvStart),
				Detail: "device was never configured"}
		}
	}
	if e.dev.Offline {
		return StreamState{}, false, fmt.Errorf("device %s: %w", e.dev.ID, ErrOffline)
	}
	return StreamState{}, false, nil
}

func callStart(ctx context.Context, a ProtocolAdapter, req StreamRequest) (h StreamHandle, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("adapter panic: %v", r)
		}
	}()
	return a.Start(ctx, req)
}

// StopStream stops the device's running stream. The handle is released on
// every path: the adapter's graceful Stop is bounded by the stop grace, and the
// handle is force-closed when that fails or panics. The device always reaches STOPPED.
func (m *Manager) StopStream(ctx context.Context, id string) error {
	e, err := m.lookup(id)
	if err != nil {
		return err
	}

	e.mu.Lock()
	if e.removed {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	from, err := m.fire(e, EvStop)
	if err != nil {
		e.mu.Unlock()
		return err
	}
	as := e.active
	e.active = nil
	st := e.dev.Streams[as.id]
	st.Status = StatusStopping
	e.dev.Streams[as.id] = st
	evs := []event{statusEvent(e.dev, from)}
	e.mu.Unlock()
	m.emit(ctx, evs...)

	ctx, span := m.tracer.Start(ctx, "device.stop_stream",
		trace.WithAttributes(telemetry.StreamAttributes(as.id, as.protocol, "")...))
	defer span.End()

	forced := false
	defer func() {
		e.mu.Lock()
		from, _ := m.fire(e, EvStopped)
		st := e.dev.Streams[as.id]
		st.Status = StatusStopped
		st.HandleID = ""
		e.dev.Streams[as.id] = st
		evs := []event{statusEvent(e.dev, from), {topic: broker.TopicStreamStopped(as.id), payload: map[string]any{
			"stream_id": as.id,
			"device_id": e.dev.ID,
			"protocol":  as.protocol,
			"reason":    string(model.RClientStop),
			"forced":    forced,
		}}}
		e.mu.Unlock()
		m.emit(ctx, evs...)
		metrics.RecordStreamExit(as.protocol)
		m.logger.Info().Str(log.FieldStreamID, as.id).Bool("forced", forced).Msg("stream stopped")
	}()

	released := false
	defer func() {
		if !released {
			forced = true
			_ = as.handle.Close()
		}
	}()

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.opts.StopGrace)
	defer cancel()
	if err := as.adapter.Stop(stopCtx, as.handle); err != nil {
		telemetry.RecordError(span, err)
		m.logger.Warn().Err(err).Str(log.FieldStreamID, as.id).Msg("graceful stop failed, forcing close")
		return nil
	}
	// Close is idempotent; it guarantees the handle is released after a clean stop too.
	_ = as.handle.Close()
	released = true
	return nil
}

func (m *Manager) supervise(e *entry, as *activeStream) {
	select {
	case <-as.handle.Done():
		cause := as.handle.Err()
		if cause == nil {
			cause = errors.New("stream ended")
		}
		m.streamLost(m.ctx, e, as, model.RProcessExited, cause)
	case <-m.ctx.Done():
	}
}

// streamLost moves a device whose stream died underneath it to ERROR. It is a
// no-op unless as is still the device's active stream, which makes the error
// event fire at most once per stream.
func (m *Manager) streamLost(ctx context.Context, e *entry, as *activeStream, reason model.ReasonCode, cause error) {
	e.mu.Lock()
	if e.active != as || e.dev.Status != StatusRunning {
		e.mu.Unlock()
		return
	}
	e.active = nil
	from, _ := m.fire(e, EvFail)
	e.dev.LastReason = reason
	e.dev.LastError = cause.Error()
	st := e.dev.Streams[as.id]
	st.Status = StatusError
	st.HandleID = ""
	e.dev.Streams[as.id] = st
	id := e.dev.ID
	evs := []event{statusEvent(e.dev, from), streamErrorEvent(st, reason, cause)}
	e.mu.Unlock()

	_ = as.handle.Close()
	metrics.RecordStreamExit(as.protocol)
	m.emit(ctx, evs...)
	m.logger.Warn().Err(cause).Str(log.FieldStreamID, as.id).Str(log.FieldReason, string(reason)).Msg("stream lost")

	if m.opts.AutoRestart {
		m.scheduleRestart(id, as.protocol, as.params)
	}
}

func streamErrorEvent(st StreamState, reason model.ReasonCode, cause error) event {
	return event{topic: broker.TopicStreamError(st.StreamID), payload: map[string]any{
		"stream_id": st.StreamID,
		"device_id": st.DeviceID,
		"protocol":  st.Protocol,
		"reason":    string(reason),
		"error":     cause.Error(),
	}}
}

func (m *Manager) scheduleRestart(id, protocol string, params map[string]any) {
	m.spawn(func() {
		timer := time.NewTimer(m.opts.RestartDelay)
		defer timer.Stop()
		select {
		case <-m.ctx.Done():
			return
		case <-timer.C:
		}

		err := m.breaker(id).Execute(func() error {
			_, err := m.StartStream(m.ctx, id, protocol, params)
			return err
		})
		switch {
		case err == nil:
			m.logger.Info().Str(log.FieldDeviceID, id).Msg("stream auto-restarted")
		case errors.Is(err, resilience.ErrCircuitOpen):
			m.logger.Warn().Str(log.FieldDeviceID, id).Msg("auto-restart suppressed, circuit open")
		default:
			m.logger.Warn().Err(err).Str(log.FieldDeviceID, id).Msg("auto-restart failed")
		}
	})
}

func (m *Manager) breaker(id string) *resilience.CircuitBreaker {
	m.breakersMu.Lock()
	defer m.breakersMu.Unlock()
	cb, ok := m.breakers[id]
	if !ok {
		cb = resilience.NewCircuitBreaker(metrics.BreakerStreamRestart, m.opts.RestartThreshold, m.opts.RestartCooldown)
		m.breakers[id] = cb
	}
	return cb
}

func (m *Manager) dropBreaker(id string) {
	m.breakersMu.Lock()
	cb := m.breakers[id]
	delete(m.breakers, id)
	m.breakersMu.Unlock()
	if cb != nil {
		cb.Release()
	}
}

func (m *Manager) isClosed() bool {
	m.lifeMu.Lock()
	defer m.lifeMu.Unlock()
	return m.closed
}

// Reconcile polls the adapter of every running stream and treats a stream the
// adapter reports as exited or failed like an unexpected exit. Returns the
// number of streams moved to ERROR.
func (m *Manager) Reconcile(ctx context.Context) int {
	type probe struct {
		e  *entry
		as *activeStream
	}
	m.mu.RLock()
	probes := make([]probe, 0, len(m.devices))
	for _, e := range m.devices {
		e.mu.Lock()
		if e.active != nil && e.dev.Status == StatusRunning {
			probes = append(probes, probe{e: e, as: e.active})
		}
		e.mu.Unlock()
	}
	m.mu.RUnlock()

	lost := 0
	for _, p := range probes {
		hs := callStatus(p.as)
		if hs != HandleExited && hs != HandleFailed {
			continue
		}
		lost++
		m.streamLost(ctx, p.e, p.as, model.RStatusFailed, fmt.Errorf("adapter reports stream %s", hs))
	}
	return lost
}

func callStatus(as *activeStream) (hs HandleStatus) {
	defer func() {
		if r := recover(); r != nil {
			hs = HandleUnknown
		}
	}()
	return as.adapter.Status(as.handle)
}

// RunReconcileLoop calls Reconcile every interval until ctx ends.
func (m *Manager) RunReconcileLoop(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("reconcile interval must be positive, got %s", interval)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := m.Reconcile(ctx); n > 0 {
				m.logger.Warn().Int("lost", n).Msg("reconcile detected lost streams")
			}
		}
	}
}
