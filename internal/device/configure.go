// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package device

import (
	"context"
	"fmt"

	"github.com/ManuGH/avbridge/internal/broker"
	"github.com/ManuGH/avbridge/internal/log"
	"github.com/ManuGH/avbridge/internal/model"
)

// Configure validates settings, applies them and persists the device.
// Invalid settings are rejected with a *ConfigurationError before anything is
// mutated. A persistence failure leaves the device in ERROR.
func (m *Manager) Configure(ctx context.Context, id string, settings map[string]any) (Device, error) {
	e, err := m.lookup(id)
	if err != nil {
		return Device{}, err
	}

	e.mu.Lock()
	id, typ, status := e.dev.ID, e.dev.Type, e.dev.Status
	e.mu.Unlock()

	if !CanTransition(status, EvConfigure) {
		return Device{}, &LifecycleError{DeviceID: id, State: status, Op: string(EvConfigure)}
	}
	if m.opts.Validator != nil {
		if err := m.opts.Validator.ValidateSettings(typ, settings); err != nil {
			return Device{}, &ConfigurationError{DeviceID: id, Cause: err}
		}
	}

	e.mu.Lock()
	if e.removed {
		e.mu.Unlock()
		return Device{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	from, err := m.fire(e, EvConfigure)
	if err != nil {
		e.mu.Unlock()
		return Device{}, err
	}
	rec := Record{
		ID:       id,
		Type:     e.dev.Type,
		Protocol: e.dev.Protocol,
		Address:  e.dev.Address,
		Settings: cloneAny(settings),
	}
	evs := []event{statusEvent(e.dev, from)}
	e.mu.Unlock()
	m.emit(ctx, evs...)

	persistErr := m.opts.Store.Save(ctx, rec)

	e.mu.Lock()
	if persistErr != nil {
		from, _ = m.fire(e, EvFail)
		e.dev.LastReason = model.RPersistFailed
		e.dev.LastError = persistErr.Error()
		evs = []event{statusEvent(e.dev, from)}
	} else {
		from, _ = m.fire(e, EvConfigured)
		e.dev.Settings = cloneAny(settings)
		e.dev.Configured = true
		e.dev.LastReason = ""
		e.dev.LastError = ""
		evs = []event{
			statusEvent(e.dev, from),
			{topic: broker.TopicDeviceConfigured(id), payload: map[string]any{
				"device_id": id,
				"settings":  cloneAny(settings),
			}},
		}
	}
	dev := e.dev.clone()
	e.mu.Unlock()
	m.emit(ctx, evs...)

	if persistErr != nil {
		m.logger.Error().Err(persistErr).Str(log.FieldDeviceID, id).Msg("failed to persist device settings")
		return dev, fmt.Errorf("device %s: persist settings: %w", id, persistErr)
	}
	m.logger.Info().Str(log.FieldDeviceID, id).Msg("device configured")
	return dev, nil
}
