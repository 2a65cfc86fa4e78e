// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package device

import (
	"errors"
	"fmt"

	"github.com/ManuGH/avbridge/internal/model"
)

var (
	ErrNotFound        = errors.New("device not found")
	ErrAlreadyStarting = fmt.Errorf("%w: stream already starting", model.ErrLifecycle)
	ErrOffline         = fmt.Errorf("%w: device offline", model.ErrLifecycle)
)

// LifecycleError reports an illegal transition together with the current state.
// The device is never mutated when one is returned.
type LifecycleError struct {
	DeviceID string
	State    Status
	Op       string
	Detail   string
}

func (e *LifecycleError) Error() string {
	msg := fmt.Sprintf("device %s: cannot %s in state %s", e.DeviceID, e.Op, e.State)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

func (e *LifecycleError) Is(target error) bool { return target == model.ErrLifecycle }

// ConfigurationError reports rejected device settings.
type ConfigurationError struct {
	DeviceID string
	Cause    error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("device %s: invalid settings: %v", e.DeviceID, e.Cause)
}

func (e *ConfigurationError) Unwrap() []error { return []error{model.ErrConfiguration, e.Cause} }

// DiscoveryError wraps a failed discovery call. The registry is left unchanged.
type DiscoveryError struct {
	Cause error
}

func (e *DiscoveryError) Error() string { return fmt.Sprintf("discovery failed: %v", e.Cause) }

func (e *DiscoveryError) Unwrap() []error { return []error{model.ErrDiscovery, e.Cause} }

// AdapterError wraps a protocol adapter failure for one stream.
type AdapterError struct {
	StreamID string
	Reason   model.ReasonCode
	Cause    error
}

func (e *AdapterError) Error() string {
	return fmt.Sprintf("stream %s: %s: %v", e.StreamID, e.Reason, e.Cause)
}

func (e *AdapterError) Unwrap() []error { return []error{model.ErrProtocolAdapter, e.Cause} }
