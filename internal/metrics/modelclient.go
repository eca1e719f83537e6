// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	modelCallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fird_model_call_duration_seconds",
		Help:    "Upstream model call latency by operation and outcome",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 45},
	}, []string{"op", "outcome"}) // outcome=success|error

	modelCallsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fird_model_calls_in_flight",
		Help: "Model calls currently holding an inference permit",
	})

	modelCallRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fird_model_call_retries_total",
		Help: "Retried model calls by operation",
	}, []string{"op"})

	modelHealthFastFails = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fird_model_health_fast_fails_total",
		Help: "Calls rejected by the cached unhealthy upstream status",
	}, []string{"dependency"})
)

// ObserveModelCall records latency and outcome of one upstream call.
func ObserveModelCall(op string, d time.Duration, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	modelCallDuration.WithLabelValues(op, outcome).Observe(d.Seconds())
}

// ModelCallStarted marks a call as in flight.
func ModelCallStarted() { modelCallsInFlight.Inc() }

// ModelCallFinished marks a call as done.
func ModelCallFinished() { modelCallsInFlight.Dec() }

// RecordModelCallRetry counts one retry of an operation.
func RecordModelCallRetry(op string) {
	modelCallRetries.WithLabelValues(op).Inc()
}

// RecordHealthFastFail counts a call short-circuited by cached health.
func RecordHealthFastFail(dependency string) {
	modelHealthFastFails.WithLabelValues(dependency).Inc()
}
