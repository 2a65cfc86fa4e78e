// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package metrics provides Prometheus metrics for avbridge.
// Labels never carry device or instance IDs beyond the bounded topic root.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BrokerPublishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "avbridge_broker_published_total",
		Help: "Total number of messages published, by topic root",
	}, []string{"root"})

	BrokerDeliveredTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "avbridge_broker_delivered_total",
		Help: "Total number of handler invocations, by topic root",
	}, []string{"root"})

	BrokerDispatchErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "avbridge_broker_dispatch_errors_total",
		Help: "Total number of subscriber handler failures, by topic root and kind (error/panic)",
	}, []string{"root", "kind"})

	BrokerDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "avbridge_broker_dropped_total",
		Help: "Total number of messages dropped by channel subscriptions with a full buffer",
	}, []string{"root"})

	BrokerSubscriptions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "avbridge_broker_subscriptions",
		Help: "Current number of active broker subscriptions",
	})
)

// IncBrokerPublished records one publish call.
func IncBrokerPublished(root string) {
	BrokerPublishedTotal.WithLabelValues(labelOrUnknown(root)).Inc()
}

// IncBrokerDelivered records one handler invocation.
func IncBrokerDelivered(root string) {
	BrokerDeliveredTotal.WithLabelValues(labelOrUnknown(root)).Inc()
}

// IncBrokerDispatchError records a failed handler invocation.
func IncBrokerDispatchError(root, kind string) {
	BrokerDispatchErrorsTotal.WithLabelValues(labelOrUnknown(root), labelOrUnknown(kind)).Inc()
}

// IncBrokerDropped records a message dropped by a full channel subscription.
func IncBrokerDropped(root string) {
	BrokerDroppedTotal.WithLabelValues(labelOrUnknown(root)).Inc()
}

func labelOrUnknown(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
