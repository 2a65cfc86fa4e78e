// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ProcTerminateTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "avbridge_proc_terminate_total",
		Help: "Total number of termination signals sent to external processes, by signal and result",
	}, []string{"signal", "result"})

	ProcWaitTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "avbridge_proc_wait_total",
		Help: "Total number of external process exits observed during termination, by outcome",
	}, []string{"outcome"})
)

// IncProcTerminate records a signal delivery attempt.
func IncProcTerminate(signal, result string) {
	ProcTerminateTotal.WithLabelValues(signal, result).Inc()
}

// IncProcWait records how a terminated process ended.
func IncProcWait(outcome string) {
	ProcWaitTotal.WithLabelValues(outcome).Inc()
}
