// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package device

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"time"

	"github.com/ManuGH/avbridge/internal/broker"
	"github.com/ManuGH/avbridge/internal/log"
	"github.com/ManuGH/avbridge/internal/metrics"
)

type ScanStatus struct {
	State      string `json:"state"`
	StartedAt  int64  `json:"started_at,omitempty"`
	FinishedAt int64  `json:"finished_at,omitempty"`
	Found      int    `json:"found"`
	Added      int    `json:"added"`
	Restored   int    `json:"restored"`
	Offline    int    `json:"offline"`
	LastError  string `json:"last_error,omitempty"`
}

// ScanResult summarizes one merge of discovery output into the registry.
type ScanResult struct {
	Found    int `json:"found"`
	Added    int `json:"added"`
	Restored int `json:"restored"`
	Offline  int `json:"offline"`

	// Collisions counts descriptors dropped because a different hint
	// normalized to an id already taken in the same scan.
	Collisions int `json:"collisions,omitempty"`
}

func (m *Manager) ScanStatus() ScanStatus {
	m.statusMu.RLock()
	defer m.statusMu.RUnlock()
	return m.scanStatus
}

// Scan runs discovery and merges the result. Scans are serialized. New ids are
// added as DISCOVERED, known ids come back online, and known ids missing from
// the result are marked offline and never deleted. On a discovery failure the
// registry is left unchanged and a *DiscoveryError is returned.
func (m *Manager) Scan(ctx context.Context) (ScanResult, error) {
	m.scanMu.Lock()
	defer m.scanMu.Unlock()
	m.isScanning.Store(true)
	defer m.isScanning.Store(false)
	return m.scan(ctx)
}

// TriggerScan starts a background scan. Returns false if one is already running.
func (m *Manager) TriggerScan() bool {
	if !m.isScanning.CompareAndSwap(false, true) {
		return false
	}
	started := m.spawn(func() {
		m.scanMu.Lock()
		defer m.scanMu.Unlock()
		defer m.isScanning.Store(false)
		if _, err := m.scan(m.ctx); err != nil {
			m.logger.Error().Err(err).Msg("background scan failed")
		}
	})
	if !started {
		m.isScanning.Store(false)
	}
	return started
}

// RunScanLoop scans once immediately and then every interval until ctx ends.
func (m *Manager) RunScanLoop(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("scan interval must be positive, got %s", interval)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := m.Scan(ctx); err != nil && ctx.Err() == nil {
			m.logger.Warn().Err(err).Msg("periodic scan failed")
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (m *Manager) scan(ctx context.Context) (ScanResult, error) {
	m.setScanStatus(func(s *ScanStatus) {
		*s = ScanStatus{State: "running", StartedAt: time.Now().Unix()}
	})
	m.logger.Info().Msg("starting device scan")

	descs, err := m.discover(ctx)
	if err != nil {
		derr := &DiscoveryError{Cause: err}
		metrics.RecordScan(false)
		m.setScanStatus(func(s *ScanStatus) {
			s.State = "failed"
			s.FinishedAt = time.Now().Unix()
			s.LastError = derr.Error()
		})
		m.logger.Warn().Err(err).Msg("discovery failed, registry unchanged")
		return ScanResult{}, derr
	}

	res, evs := m.merge(descs)
	m.emit(ctx, evs...)
	m.emit(ctx, event{topic: broker.TopicScanComplete, payload: map[string]any{
		"count":      res.Found,
		"added":      res.Added,
		"restored":   res.Restored,
		"offline":    res.Offline,
		"collisions": res.Collisions,
	}})

	metrics.RecordScan(true)
	m.updateGauges()
	m.setScanStatus(func(s *ScanStatus) {
		s.State = "complete"
		s.FinishedAt = time.Now().Unix()
		s.Found, s.Added, s.Restored, s.Offline = res.Found, res.Added, res.Restored, res.Offline
	})
	m.logger.Info().
		Int("found", res.Found).
		Int("added", res.Added).
		Int("offline", res.Offline).
		Int("collisions", res.Collisions).
		Msg("device scan complete")
	return res, nil
}

func (m *Manager) discover(ctx context.Context) (descs []Descriptor, err error) {
	if m.opts.Discovery == nil {
		return nil, errors.New("no discovery configured")
	}
	ctx, cancel := context.WithTimeout(ctx, m.opts.DiscoveryTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("discovery panic: %v", r)
		}
	}()
	return m.opts.Discovery.Discover(ctx)
}

func (m *Manager) merge(descs []Descriptor) (ScanResult, []event) {
	seen := make(map[string]Descriptor, len(descs))
	order := make([]string, 0, len(descs))
	collisions := 0
	for _, d := range descs {
		id := descriptorID(d)
		if id == "" {
			m.logger.Warn().Str(log.FieldAddress, d.Address).Msg("skipping descriptor without usable id")
			continue
		}
		if first, dup := seen[id]; dup {
			if kept, dropped := descriptorHint(first), descriptorHint(d); kept != dropped {
				collisions++
				m.logger.Warn().
					Str(log.FieldDeviceID, id).
					Str("kept_hint", kept).
					Str("dropped_hint", dropped).
					Str(log.FieldEvent, "device.id_collision").
					Msg("distinct discovery hints normalize to the same device id, keeping the first")
			}
			continue
		}
		seen[id] = d
		order = append(order, id)
	}

	res := ScanResult{Found: len(order), Collisions: collisions}
	var evs []event

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, id := range order {
		d := seen[id]
		e, ok := m.devices[id]
		if !ok {
			e = newEntry(id, d)
			m.devices[id] = e
			res.Added++
			evs = append(evs, discoveredEvent(e.dev), statusEvent(e.dev, ""))
			continue
		}

		e.mu.Lock()
		changed := refresh(&e.dev, d)
		if e.dev.Offline {
			e.dev.Offline = false
			res.Restored++
			changed = true
		}
		if changed {
			evs = append(evs, statusEvent(e.dev, ""))
		}
		e.mu.Unlock()
	}

	missing := make([]string, 0)
	for id := range m.devices {
		if _, ok := seen[id]; !ok {
			missing = append(missing, id)
		}
	}
	sort.Strings(missing)
	for _, id := range missing {
		e := m.devices[id]
		e.mu.Lock()
		if !e.dev.Offline {
			e.dev.Offline = true
			res.Offline++
			evs = append(evs, statusEvent(e.dev, ""))
		}
		e.mu.Unlock()
	}
	return res, evs
}

// refresh copies discovery-owned fields. Settings and lifecycle state are untouched.
func refresh(dev *Device, d Descriptor) bool {
	changed := false
	if d.Type != "" && dev.Type != d.Type {
		dev.Type = d.Type
		changed = true
	}
	if d.Protocol != "" && dev.Protocol != d.Protocol {
		dev.Protocol = d.Protocol
		changed = true
	}
	if d.Address != "" && dev.Address != d.Address {
		dev.Address = d.Address
		changed = true
	}
	if d.Metadata != nil && !reflect.DeepEqual(dev.Capabilities, d.Metadata) {
		dev.Capabilities = cloneAny(d.Metadata)
		changed = true
	}
	return changed
}

func (m *Manager) setScanStatus(update func(*ScanStatus)) {
	m.statusMu.Lock()
	update(&m.scanStatus)
	m.statusMu.Unlock()
}

// Snapshot returns the registry as canonical JSON. Two scans over identical
// discovery output produce byte-identical snapshots.
func (m *Manager) Snapshot() ([]byte, error) {
	return json.Marshal(m.List())
}
