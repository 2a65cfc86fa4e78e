// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	DeviceTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "avbridge_device_transitions_total",
		Help: "Total number of device lifecycle transitions, by from/to state",
	}, []string{"from", "to"})

	DeviceScansTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "avbridge_device_scans_total",
		Help: "Total number of discovery scans, by result (ok/error)",
	}, []string{"result"})

	DevicesKnown = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "avbridge_devices",
		Help: "Current number of registered devices, by online flag",
	}, []string{"online"})

	StreamStartsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "avbridge_stream_starts_total",
		Help: "Total number of stream start attempts, by protocol and result",
	}, []string{"protocol", "result"})

	StreamExitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "avbridge_stream_unexpected_exits_total",
		Help: "Total number of streams whose adapter handle ended without a stop request",
	}, []string{"protocol"})
)

// RecordDeviceTransition counts a lifecycle transition.
func RecordDeviceTransition(from, to string) {
	DeviceTransitionsTotal.WithLabelValues(from, to).Inc()
}

// RecordScan counts a scan outcome.
func RecordScan(ok bool) {
	result := "ok"
	if !ok {
		result = "error"
	}
	DeviceScansTotal.WithLabelValues(result).Inc()
}

// SetDeviceCounts publishes the current online/offline split.
func SetDeviceCounts(online, offline int) {
	DevicesKnown.WithLabelValues("true").Set(float64(online))
	DevicesKnown.WithLabelValues("false").Set(float64(offline))
}

// RecordStreamStart counts a stream start attempt.
func RecordStreamStart(protocol, result string) {
	StreamStartsTotal.WithLabelValues(labelOrUnknown(protocol), result).Inc()
}

// RecordStreamExit counts an unexpected stream exit.
func RecordStreamExit(protocol string) {
	StreamExitsTotal.WithLabelValues(labelOrUnknown(protocol)).Inc()
}
