// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package device owns the device registry and the per-device lifecycle:
// discovery merge, configuration, and the single active stream per device.
//
// Every transition goes through the lifecycle table under a short per-device
// lock. No lock is held across calls into Discovery, SettingsValidator or a
// ProtocolAdapter; the transitional states (CONFIGURING, STARTING, STOPPING)
// are what keep concurrent operations on one device apart.
package device

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ManuGH/avbridge/internal/broker"
	"github.com/ManuGH/avbridge/internal/log"
	"github.com/ManuGH/avbridge/internal/metrics"
	"github.com/ManuGH/avbridge/internal/model"
	"github.com/ManuGH/avbridge/internal/resilience"
	"github.com/ManuGH/avbridge/internal/telemetry"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

// SenderID identifies the device manager on the broker.
const SenderID = "device-manager"

// Bus is the slice of the broker the manager needs.
type Bus interface {
	Publish(ctx context.Context, topic string, payload map[string]any, senderID string) error
	SubscribeChan(subscriberID, pattern string, buffer int) (*broker.ChanSubscription, error)
}

// Options configures a Manager. Zero durations fall back to defaults.
type Options struct {
	Bus       Bus
	Discovery Discovery
	// Adapters maps protocol name to its adapter.
	Adapters  map[string]ProtocolAdapter
	Validator SettingsValidator
	Store     Store

	DiscoveryTimeout time.Duration
	StopGrace        time.Duration

	// AutoRestart re-issues start_stream after an unexpected stream exit,
	// guarded by a circuit breaker per device.
	AutoRestart      bool
	RestartDelay     time.Duration
	RestartThreshold int
	RestartCooldown  time.Duration

	// ScanInterval limits how often command/devices/scan may trigger a scan.
	ScanInterval time.Duration
}

func (o *Options) setDefaults() {
	if o.DiscoveryTimeout <= 0 {
		o.DiscoveryTimeout = 30 * time.Second
	}
	if o.StopGrace <= 0 {
		o.StopGrace = 5 * time.Second
	}
	if o.RestartDelay <= 0 {
		o.RestartDelay = 2 * time.Second
	}
	if o.RestartThreshold <= 0 {
		o.RestartThreshold = 3
	}
	if o.RestartCooldown <= 0 {
		o.RestartCooldown = time.Minute
	}
	if o.ScanInterval <= 0 {
		o.ScanInterval = 10 * time.Second
	}
	if o.Store == nil {
		o.Store = NewMemoryStore()
	}
}

// activeStream is the one stream a device may own. The handle is released
// exactly once, by whichever of stop, supervision or reconcile detaches it.
type activeStream struct {
	id       string
	protocol string
	params   map[string]any
	adapter  ProtocolAdapter
	handle   StreamHandle
}

type entry struct {
	mu      sync.Mutex
	dev     Device
	active  *activeStream
	removed bool
}

type event struct {
	topic   string
	payload map[string]any
}

// Manager is safe for concurrent use.
type Manager struct {
	opts   Options
	logger zerolog.Logger
	tracer trace.Tracer

	mu      sync.RWMutex
	devices map[string]*entry

	scanMu     sync.Mutex
	isScanning atomic.Bool
	statusMu   sync.RWMutex
	scanStatus ScanStatus

	breakersMu sync.Mutex
	breakers   map[string]*resilience.CircuitBreaker

	ctx     context.Context
	cancel  context.CancelFunc
	lifeMu  sync.Mutex
	closed  bool
	workers sync.WaitGroup
}

// New builds a Manager and loads persisted devices from the store. Loaded
// devices come back CONFIGURED and OFFLINE until a scan sees them.
func New(ctx context.Context, opts Options) (*Manager, error) {
	opts.setDefaults()
	base, cancel := context.WithCancel(context.WithoutCancel(ctx))
	m := &Manager{
		opts:       opts,
		logger:     log.WithComponent("device"),
		tracer:     telemetry.Tracer(telemetry.ScopeDevice),
		devices:    make(map[string]*entry),
		breakers:   make(map[string]*resilience.CircuitBreaker),
		scanStatus: ScanStatus{State: "idle"},
		ctx:        base,
		cancel:     cancel,
	}

	recs, err := opts.Store.Load(ctx)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("load devices: %w", err)
	}
	for _, r := range recs {
		m.devices[r.ID] = &entry{dev: Device{
			ID:         r.ID,
			Type:       r.Type,
			Protocol:   r.Protocol,
			Address:    r.Address,
			Status:     StatusConfigured,
			Offline:    true,
			Configured: true,
			Settings:   cloneAny(r.Settings),
		}}
	}
	if len(recs) > 0 {
		m.logger.Info().Int("count", len(recs)).Msg("restored persisted devices")
	}
	m.updateGauges()
	return m, nil
}

// Close stops every running stream, then waits for supervisors and pending restarts.
func (m *Manager) Close(ctx context.Context) error {
	m.lifeMu.Lock()
	if m.closed {
		m.lifeMu.Unlock()
		return nil
	}
	m.closed = true
	m.lifeMu.Unlock()

	var errs []error
	for _, id := range m.runningIDs() {
		if err := m.StopStream(ctx, id); err != nil && !errors.Is(err, model.ErrLifecycle) {
			errs = append(errs, err)
		}
	}
	m.cancel()
	m.workers.Wait()
	return errors.Join(errs...)
}

// spawn runs fn on a tracked goroutine unless the manager is closing.
func (m *Manager) spawn(fn func()) bool {
	m.lifeMu.Lock()
	defer m.lifeMu.Unlock()
	if m.closed {
		return false
	}
	m.workers.Add(1)
	go func() {
		defer m.workers.Done()
		fn()
	}()
	return true
}

func (m *Manager) lookup(id string) (*entry, error) {
	id = NormalizeID(id)
	m.mu.RLock()
	e, ok := m.devices[id]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return e, nil
}

// Get returns a copy of the device record.
func (m *Manager) Get(id string) (Device, error) {
	e, err := m.lookup(id)
	if err != nil {
		return Device{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return Device{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return e.dev.clone(), nil
}

// List returns copies of all devices ordered by id.
func (m *Manager) List() []Device {
	m.mu.RLock()
	entries := make([]*entry, 0, len(m.devices))
	for _, e := range m.devices {
		entries = append(entries, e)
	}
	m.mu.RUnlock()

	out := make([]Device, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		if !e.removed {
			out = append(out, e.dev.clone())
		}
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Register creates a device explicitly, without discovery. Registering an
// existing id returns the existing record unchanged.
func (m *Manager) Register(ctx context.Context, desc Descriptor) (Device, error) {
	id := descriptorID(desc)
	if id == "" {
		return Device{}, &ConfigurationError{DeviceID: desc.IDHint, Cause: errors.New("empty device id")}
	}

	m.mu.Lock()
	if e, ok := m.devices[id]; ok {
		m.mu.Unlock()
		e.mu.Lock()
		defer e.mu.Unlock()
		return e.dev.clone(), nil
	}
	e := newEntry(id, desc)
	m.devices[id] = e
	dev := e.dev.clone()
	m.mu.Unlock()

	m.emit(ctx, discoveredEvent(dev), statusEvent(dev, ""))
	m.updateGauges()
	return dev, nil
}

func newEntry(id string, d Descriptor) *entry {
	return &entry{dev: Device{
		ID:           id,
		Type:         d.Type,
		Protocol:     d.Protocol,
		Address:      d.Address,
		Status:       StatusDiscovered,
		Capabilities: cloneAny(d.Metadata),
	}}
}

// Remove deletes a device. A running stream is stopped first; devices in a
// transitional state are rejected.
func (m *Manager) Remove(ctx context.Context, id string) error {
	e, err := m.lookup(id)
	if err != nil {
		return err
	}

	e.mu.Lock()
	if err := checkRemovable(e); err != nil {
		e.mu.Unlock()
		return err
	}
	running := e.dev.Status == StatusRunning
	id = e.dev.ID
	e.mu.Unlock()

	if running {
		if err := m.StopStream(ctx, id); err != nil {
			return err
		}
	}

	m.mu.Lock()
	e.mu.Lock()
	if err := checkRemovable(e); err != nil || e.dev.Status == StatusRunning {
		e.mu.Unlock()
		m.mu.Unlock()
		if err == nil {
			err = &LifecycleError{DeviceID: id, State: StatusRunning, Op: "remove", Detail: "stream restarted concurrently"}
		}
		return err
	}
	e.removed = true
	delete(m.devices, id)
	e.mu.Unlock()
	m.mu.Unlock()

	m.dropBreaker(id)
	if err := m.opts.Store.Delete(ctx, id); err != nil {
		m.logger.Warn().Err(err).Str(log.FieldDeviceID, id).Msg("failed to delete persisted device")
	}
	m.emit(ctx, event{topic: broker.TopicDevice(id), payload: map[string]any{
		"device_id": id,
		"event":     "removed",
		"reason":    string(model.RDeviceRemoved),
	}})
	m.updateGauges()
	return nil
}

func checkRemovable(e *entry) error {
	if e.removed {
		return fmt.Errorf("%w: %s", ErrNotFound, e.dev.ID)
	}
	switch e.dev.Status {
	case StatusConfiguring, StatusStarting, StatusStopping:
		return &LifecycleError{DeviceID: e.dev.ID, State: e.dev.Status, Op: "remove"}
	}
	return nil
}

// fire applies ev to the device. Caller holds e.mu.
func (m *Manager) fire(e *entry, ev Event) (Status, error) {
	from := e.dev.Status
	to, err := lifecycle.Next(from, ev)
	if err != nil {
		return from, &LifecycleError{DeviceID: e.dev.ID, State: from, Op: string(ev)}
	}
	e.dev.Status = to
	metrics.RecordDeviceTransition(string(from), string(to))
	m.logger.Debug().
		Str(log.FieldDeviceID, e.dev.ID).
		Str(log.FieldOldState, string(from)).
		Str(log.FieldNewState, string(to)).
		Msg("device transition")
	return from, nil
}

func (m *Manager) emit(ctx context.Context, evs ...event) {
	if m.opts.Bus == nil {
		return
	}
	// Status and error events must go out even when the caller gave up.
	ctx = context.WithoutCancel(ctx)
	for _, ev := range evs {
		if err := m.opts.Bus.Publish(ctx, ev.topic, ev.payload, SenderID); err != nil {
			m.logger.Warn().Err(err).Str(log.FieldTopic, ev.topic).Msg("publish failed")
		}
	}
}

func statusEvent(d Device, previous Status) event {
	p := map[string]any{
		"device_id": d.ID,
		"status":    string(d.Status),
		"offline":   d.Offline,
	}
	if previous != "" {
		p["previous"] = string(previous)
	}
	if d.LastReason != "" {
		p["reason"] = string(d.LastReason)
	}
	if d.LastError != "" {
		p["error"] = d.LastError
	}
	return event{topic: broker.TopicDeviceStatus(d.ID), payload: p}
}

func discoveredEvent(d Device) event {
	return event{topic: broker.TopicDevice(d.ID), payload: map[string]any{
		"device_id": d.ID,
		"event":     "discovered",
		"type":      d.Type,
		"protocol":  d.Protocol,
		"address":   d.Address,
	}}
}

func (m *Manager) updateGauges() {
	online, offline := 0, 0
	for _, d := range m.List() {
		if d.Offline {
			offline++
		} else {
			online++
		}
	}
	metrics.SetDeviceCounts(online, offline)
}

func (m *Manager) runningIDs() []string {
	var ids []string
	for _, d := range m.List() {
		if d.Status == StatusRunning {
			ids = append(ids, d.ID)
		}
	}
	return ids
}
