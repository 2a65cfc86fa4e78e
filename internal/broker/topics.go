// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package broker

// Topic namespace. This is a stable contract for external consumers.
const (
	TopicScanComplete = "devices/scan_complete"
	TopicCommandScan  = "command/devices/scan"

	PatternDevices          = "devices/*"
	PatternDeviceStatus     = "devices/*/status"
	PatternStreamStarted    = "streams/*/started"
	PatternStreamStopped    = "streams/*/stopped"
	PatternStreamError      = "streams/*/error"
	PatternPipelineStatus   = "pipeline/*/status"
	PatternCommandStart     = "command/devices/*/start_stream"
	PatternCommandStop      = "command/devices/*/stop_stream"
	PatternCommandConfigure = "command/devices/*/configure"
)

func TopicDevice(id string) string           { return "devices/" + id }
func TopicDeviceStatus(id string) string     { return "devices/" + id + "/status" }
func TopicDeviceConfigured(id string) string { return "devices/" + id + "/configured" }

func TopicStreamStarted(id string) string { return "streams/" + id + "/started" }
func TopicStreamStopped(id string) string { return "streams/" + id + "/stopped" }
func TopicStreamError(id string) string   { return "streams/" + id + "/error" }

func TopicPipelineStatus(id string) string { return "pipeline/" + id + "/status" }
func TopicPipelineError(id string) string  { return "pipeline/" + id + "/error" }

// TopicPipelineOutput is where the publish sink of pipeline id emits frames for output name.
func TopicPipelineOutput(id, name string) string { return "pipeline/" + id + "/output/" + name }

func TopicCommandStartStream(id string) string { return "command/devices/" + id + "/start_stream" }
func TopicCommandStopStream(id string) string  { return "command/devices/" + id + "/stop_stream" }
func TopicCommandConfigure(id string) string   { return "command/devices/" + id + "/configure" }

// Segment returns the i-th '/'-delimited segment of topic, or "" when out of range.
// Used by handlers to extract the {id} of a matched pattern.
func Segment(topic string, i int) string {
	start := 0
	for n := 0; ; n++ {
		end := start
		for end < len(topic) && topic[end] != '/' {
			end++
		}
		if n == i {
			return topic[start:end]
		}
		if end >= len(topic) {
			return ""
		}
		start = end + 1
	}
}
