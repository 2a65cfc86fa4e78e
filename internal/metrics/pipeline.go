// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PipelineFramesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "avbridge_pipeline_frames_total",
		Help: "Total number of frames processed by stage workers, by stage kind",
	}, []string{"kind"})

	PipelineStageFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "avbridge_pipeline_stage_failures_total",
		Help: "Total number of stage worker failures, by stage kind and cause",
	}, []string{"kind", "cause"})

	PipelineQueueDropsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "avbridge_pipeline_queue_drops_total",
		Help: "Total number of frames dropped by drop_oldest queues, by downstream stage kind",
	}, []string{"kind"})

	PipelineTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "avbridge_pipeline_transitions_total",
		Help: "Total number of pipeline instance state transitions, by target state",
	}, []string{"to"})

	PipelineInstancesRunning = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "avbridge_pipeline_instances_running",
		Help: "Current number of pipeline instances in RUNNING state",
	})
)

// IncPipelineFrame records a processed frame.
func IncPipelineFrame(kind string) {
	PipelineFramesTotal.WithLabelValues(labelOrUnknown(kind)).Inc()
}

// IncStageFailure records a stage worker failure.
func IncStageFailure(kind, cause string) {
	PipelineStageFailuresTotal.WithLabelValues(labelOrUnknown(kind), labelOrUnknown(cause)).Inc()
}

// IncQueueDrop records a frame evicted from a full queue.
func IncQueueDrop(kind string) {
	PipelineQueueDropsTotal.WithLabelValues(labelOrUnknown(kind)).Inc()
}

// RecordPipelineTransition counts an instance transition and maintains the running gauge.
func RecordPipelineTransition(from, to string) {
	PipelineTransitionsTotal.WithLabelValues(to).Inc()
	if to == "RUNNING" {
		PipelineInstancesRunning.Inc()
	}
	if from == "RUNNING" {
		PipelineInstancesRunning.Dec()
	}
}
