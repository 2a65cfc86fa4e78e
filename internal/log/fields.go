// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldCorrelationID  = "correlation_id"
	FieldDeviceID       = "device_id"
	FieldStreamID       = "stream_id"
	FieldPipelineID     = "pipeline_id"
	FieldInstanceID     = "instance_id"
	FieldSubscriptionID = "subscription_id"
	FieldSenderID       = "sender_id"

	// Process / pipeline fields
	FieldEvent     = "event"
	FieldComponent = "component"
	FieldStage     = "stage"
	FieldKind      = "kind"
	FieldAttempt   = "attempt"
	FieldPID       = "pid"

	// Broker fields
	FieldTopic   = "topic"
	FieldPattern = "pattern"

	// Media / stream fields
	FieldProtocol = "protocol"
	FieldEndpoint = "endpoint"
	FieldAddress  = "address"

	// State fields
	FieldOldState = "old_state"
	FieldNewState = "new_state"
	FieldReason   = "reason"

	// Path fields
	FieldPath = "path"
)
