// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package device

import (
	"maps"

	"github.com/ManuGH/avbridge/internal/model"
)

// Status is the device lifecycle state.
type Status string

const (
	StatusDiscovered  Status = "DISCOVERED"
	StatusConfiguring Status = "CONFIGURING"
	StatusConfigured  Status = "CONFIGURED"
	StatusStarting    Status = "STARTING"
	StatusRunning     Status = "RUNNING"
	StatusStopping    Status = "STOPPING"
	StatusStopped     Status = "STOPPED"
	StatusError       Status = "ERROR"
)

// Descriptor is a raw device description supplied by a Discovery collaborator.
type Descriptor struct {
	IDHint   string         `json:"id_hint" yaml:"idHint"`
	Type     string         `json:"type" yaml:"type"`
	Protocol string         `json:"protocol" yaml:"protocol"`
	Address  string         `json:"address" yaml:"address"`
	Metadata map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// Device is the registry record. Values returned by the Manager are deep copies.
type Device struct {
	ID           string                 `json:"id"`
	Type         string                 `json:"type"`
	Protocol     string                 `json:"protocol"`
	Address      string                 `json:"address"`
	Status       Status                 `json:"status"`
	Offline      bool                   `json:"offline"`
	Configured   bool                   `json:"configured"`
	Capabilities map[string]any         `json:"capabilities,omitempty"`
	Settings     map[string]any         `json:"settings,omitempty"`
	Streams      map[string]StreamState `json:"streams,omitempty"`
	LastReason   model.ReasonCode       `json:"last_reason,omitempty"`
	LastError    string                 `json:"last_error,omitempty"`
}

// StreamState is the runtime record of a stream owned by one device.
// The adapter handle itself never leaves the Manager; HandleID identifies it.
type StreamState struct {
	StreamID string `json:"stream_id"`
	DeviceID string `json:"device_id"`
	Protocol string `json:"protocol"`
	Endpoint string `json:"endpoint,omitempty"`
	HandleID string `json:"handle_id,omitempty"`
	Status   Status `json:"status"`
}

// StreamID derives the stable stream id for a device/protocol pair.
func StreamID(deviceID, protocol string) string {
	return deviceID + "." + protocol
}

// DeviceInfo is the read-only view handed to external collaborators.
type DeviceInfo struct {
	ID           string
	Type         string
	Protocol     string
	Address      string
	Settings     map[string]any
	Capabilities map[string]any
}

func (d Device) clone() Device {
	out := d
	out.Capabilities = cloneAny(d.Capabilities)
	out.Settings = cloneAny(d.Settings)
	if d.Streams != nil {
		out.Streams = maps.Clone(d.Streams)
	}
	return out
}

func (d Device) info() DeviceInfo {
	return DeviceInfo{
		ID:           d.ID,
		Type:         d.Type,
		Protocol:     d.Protocol,
		Address:      d.Address,
		Settings:     cloneAny(d.Settings),
		Capabilities: cloneAny(d.Capabilities),
	}
}

// cloneAny deep-copies nested maps and slices produced by JSON/YAML decoding.
func cloneAny(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneAny(t)
	case []any:
		cp := make([]any, len(t))
		for i := range t {
			cp[i] = cloneValue(t[i])
		}
		return cp
	default:
		return v
	}
}
