// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Breaker labels. The device manager keeps one stream_restart breaker per
// device and every webhook sink owns one, so the gauge counts breakers per
// state instead of tracking a single instance.
const (
	BreakerStreamRestart = "stream_restart"
	BreakerWebhookSink   = "webhook_sink"
)

// Trip reasons.
const (
	TripThreshold       = "threshold_exceeded"
	TripHalfOpenFailure = "half_open_failure"
)

var (
	BreakersByState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "avbridge_breakers",
		Help: "Live circuit breakers by kind and state (closed, half-open, open)",
	}, []string{"breaker", "state"})

	BreakerTripsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "avbridge_breaker_trips_total",
		Help: "Circuit breaker transitions to open, by kind and reason",
	}, []string{"breaker", "reason"})
)

// AddBreaker counts a new breaker of kind in state.
func AddBreaker(kind, state string) {
	BreakersByState.WithLabelValues(kind, state).Inc()
}

// RemoveBreaker uncounts a discarded breaker that was last in state.
func RemoveBreaker(kind, state string) {
	BreakersByState.WithLabelValues(kind, state).Dec()
}

// MoveBreaker shifts one breaker of kind between state buckets.
func MoveBreaker(kind, from, to string) {
	if from == to {
		return
	}
	BreakersByState.WithLabelValues(kind, from).Dec()
	BreakersByState.WithLabelValues(kind, to).Inc()
}

// RecordBreakerTrip counts a transition to open.
func RecordBreakerTrip(kind, reason string) {
	BreakerTripsTotal.WithLabelValues(kind, reason).Inc()
}
