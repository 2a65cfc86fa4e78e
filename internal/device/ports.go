// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package device

import "context"

// Discovery supplies raw device descriptors (ONVIF/UPnP/mDNS clients live outside the core).
type Discovery interface {
	Discover(ctx context.Context) ([]Descriptor, error)
}

// DiscoveryFunc adapts a function to Discovery.
type DiscoveryFunc func(ctx context.Context) ([]Descriptor, error)

func (f DiscoveryFunc) Discover(ctx context.Context) ([]Descriptor, error) { return f(ctx) }

// SettingsValidator validates device settings against an external schema.
type SettingsValidator interface {
	ValidateSettings(deviceType string, settings map[string]any) error
}

// HandleStatus is the adapter-reported state of a stream handle.
type HandleStatus string

const (
	HandleRunning HandleStatus = "running"
	HandleExited  HandleStatus = "exited"
	HandleFailed  HandleStatus = "failed"
	HandleUnknown HandleStatus = "unknown"
)

// StreamRequest is everything an adapter needs to open a stream.
type StreamRequest struct {
	StreamID string
	Device   DeviceInfo
	Protocol string
	Params   map[string]any
}

// StreamHandle is the external resource backing a running stream.
// Done is closed once the stream has ended for any reason, including Close.
type StreamHandle interface {
	ID() string
	Endpoint() string
	Done() <-chan struct{}
	// Err reports why the stream ended; nil while running or after a clean stop.
	Err() error
	// Close forcibly releases the handle. Idempotent.
	Close() error
}

// ProtocolAdapter opens and closes streams for a protocol.
type ProtocolAdapter interface {
	Start(ctx context.Context, req StreamRequest) (StreamHandle, error)
	// Stop ends the stream gracefully; callers fall back to Close when it fails.
	Stop(ctx context.Context, h StreamHandle) error
	Status(h StreamHandle) HandleStatus
}
