// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fird_http_requests_total",
		Help: "HTTP requests by route pattern, method and status class",
	}, []string{"route", "method", "status"})

	httpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fird_http_request_duration_seconds",
		Help:    "HTTP request latency by route pattern and method",
		Buckets: []float64{0.005, 0.025, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"route", "method"})

	httpInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fird_http_requests_in_flight",
		Help: "Requests currently being handled",
	})

	rateLimitRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fird_http_rate_limited_total",
		Help: "Requests rejected by the per-client rate limiter",
	})
)

// HTTPRequestStarted marks a request in flight.
func HTTPRequestStarted() {
	httpInFlight.Inc()
}

// HTTPRequestFinished records the outcome. route is the router's pattern
// ("/session/{session_id}/status"), never the raw path.
func HTTPRequestFinished(route, method, status string, d time.Duration) {
	httpInFlight.Dec()
	httpRequests.WithLabelValues(route, method, status).Inc()
	httpDuration.WithLabelValues(route, method).Observe(d.Seconds())
}

// RecordRateLimitRejection counts a 429 response.
func RecordRateLimitRejection() {
	rateLimitRejections.Inc()
}
