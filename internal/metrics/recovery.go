// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	recoveryAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fird_recovery_attempts_total",
		Help: "Auto-recovery attempts by dependency and outcome",
	}, []string{"dependency", "outcome"}) // outcome=success|failure|skipped

	recoveryExhausted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fird_recovery_exhausted_total",
		Help: "Recovery cycles that gave up after max attempts",
	}, []string{"dependency"})

	dependencyUp = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "fird_dependency_up",
		Help: "Last health probe result per dependency (1 healthy, 0 unhealthy)",
	}, []string{"dependency"})
)

// RecordRecoveryAttempt counts one recovery attempt outcome.
func RecordRecoveryAttempt(dependency, outcome string) {
	recoveryAttempts.WithLabelValues(dependency, outcome).Inc()
}

// RecordRecoveryExhausted counts a recovery cycle that used all attempts.
func RecordRecoveryExhausted(dependency string) {
	recoveryExhausted.WithLabelValues(dependency).Inc()
}

// SetDependencyUp publishes the latest probe result for a dependency.
func SetDependencyUp(dependency string, healthy bool) {
	v := 0.0
	if healthy {
		v = 1.0
	}
	dependencyUp.WithLabelValues(dependency).Set(v)
}
