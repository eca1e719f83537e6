// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sessionsByStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "fird_sessions",
		Help: "Sessions currently persisted, by status",
	}, []string{"status"})

	sessionsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fird_sessions_created_total",
		Help: "Sessions created by /process",
	})

	sessionsExpired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fird_sessions_expired_total",
		Help: "Active sessions expired by the sweeper",
	})

	storeOpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fird_store_op_duration_seconds",
		Help:    "Persistence operation latency by store and operation",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	}, []string{"store", "op"})
)

// SetSessionCount publishes the session gauge for one status.
func SetSessionCount(status string, n int) {
	sessionsByStatus.WithLabelValues(status).Set(float64(n))
}

// RecordSessionCreated counts a new session.
func RecordSessionCreated() { sessionsCreated.Inc() }

// RecordSessionExpired counts a sweeper expiry.
func RecordSessionExpired() { sessionsExpired.Inc() }

// ObserveStoreOp records latency of one persistence operation.
func ObserveStoreOp(store, op string, d time.Duration) {
	storeOpDuration.WithLabelValues(store, op).Observe(d.Seconds())
}
