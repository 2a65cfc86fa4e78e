// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package model

// ReasonCode is a compact, typed failure signal carried by every ERROR event.
// Keep these stable: external consumers and metrics depend on them.
type ReasonCode string

const (
	RNone    ReasonCode = "R_NONE"
	RUnknown ReasonCode = "R_UNKNOWN"

	// Device / stream
	RConfigInvalid      ReasonCode = "R_CONFIG_INVALID"
	RAdapterStartFailed ReasonCode = "R_ADAPTER_START_FAILED"
	RAdapterStopFailed  ReasonCode = "R_ADAPTER_STOP_FAILED"
	RProcessExited      ReasonCode = "R_PROCESS_EXITED"
	RStatusFailed       ReasonCode = "R_STATUS_FAILED"
	RCancelled          ReasonCode = "R_CANCELLED"
	RClientStop         ReasonCode = "R_CLIENT_STOP"
	RDeviceRemoved      ReasonCode = "R_DEVICE_REMOVED"
	RPersistFailed      ReasonCode = "R_PERSIST_FAILED"

	// Pipeline
	RBuildFailed      ReasonCode = "R_BUILD_FAILED"
	RRetriesExhausted ReasonCode = "R_RETRIES_EXHAUSTED"
	RSourceEnded      ReasonCode = "R_SOURCE_ENDED"
	RStreamStopped    ReasonCode = "R_STREAM_STOPPED"
	RStreamFailed     ReasonCode = "R_STREAM_FAILED"
	RHotReload        ReasonCode = "R_HOT_RELOAD"
	RRemoved          ReasonCode = "R_REMOVED"
)

// String implements fmt.Stringer.
func (r ReasonCode) String() string { return string(r) }
