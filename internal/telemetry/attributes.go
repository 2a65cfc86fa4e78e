// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Common attribute keys for consistent tracing across the application.
const (
	HTTPMethodKey     = "http.method"
	HTTPStatusCodeKey = "http.status_code"
	HTTPURLKey        = "http.url"

	DeviceIDKey   = "device.id"
	DeviceTypeKey = "device.type"

	StreamIDKey       = "stream.id"
	StreamProtocolKey = "stream.protocol"
	StreamEndpointKey = "stream.endpoint"

	PipelineIDKey       = "pipeline.id"
	PipelineInstanceKey = "pipeline.instance"
	PipelineStagesKey   = "pipeline.stages"

	ErrorTypeKey = "error.type"
)

// DeviceAttributes creates device span attributes.
func DeviceAttributes(deviceID, deviceType string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{attribute.String(DeviceIDKey, deviceID)}
	if deviceType != "" {
		attrs = append(attrs, attribute.String(DeviceTypeKey, deviceType))
	}
	return attrs
}

// StreamAttributes creates stream span attributes. Empty values are omitted.
func StreamAttributes(streamID, protocol, endpoint string) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 3)
	if streamID != "" {
		attrs = append(attrs, attribute.String(StreamIDKey, streamID))
	}
	if protocol != "" {
		attrs = append(attrs, attribute.String(StreamProtocolKey, protocol))
	}
	if endpoint != "" {
		attrs = append(attrs, attribute.String(StreamEndpointKey, endpoint))
	}
	return attrs
}

// PipelineAttributes creates pipeline span attributes.
func PipelineAttributes(pipelineID, instanceID string, stages int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(PipelineIDKey, pipelineID),
		attribute.String(PipelineInstanceKey, instanceID),
		attribute.Int(PipelineStagesKey, stages),
	}
}

// HTTPClientAttributes creates attributes for outbound calls.
func HTTPClientAttributes(method, url string, statusCode int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(HTTPMethodKey, method),
		attribute.String(HTTPURLKey, url),
		attribute.Int(HTTPStatusCodeKey, statusCode),
	}
}
