// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "fird_circuit_breaker_state",
		Help: "Circuit breaker state by dependency (the active state carries 1, others 0)",
	}, []string{"dependency", "state"})

	circuitBreakerTrips = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fird_circuit_breaker_trips_total",
		Help: "Total number of circuit breaker trips (transitions to open state)",
	}, []string{"dependency", "reason"})

	circuitBreakerRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fird_circuit_breaker_rejections_total",
		Help: "Calls rejected fast because the breaker was open",
	}, []string{"dependency"})
)

var circuitStates = []string{"closed", "half_open", "open"}

// SetCircuitBreakerState records the active circuit breaker state for a dependency.
func SetCircuitBreakerState(dependency, state string) {
	for _, s := range circuitStates {
		value := 0.0
		if s == state {
			value = 1.0
		}
		circuitBreakerState.WithLabelValues(dependency, s).Set(value)
	}
}

// RecordCircuitBreakerTrip increments the trip counter when a breaker opens.
func RecordCircuitBreakerTrip(dependency, reason string) {
	circuitBreakerTrips.WithLabelValues(dependency, reason).Inc()
}

// RecordCircuitBreakerRejection counts a fail-fast rejection.
func RecordCircuitBreakerRejection(dependency string) {
	circuitBreakerRejections.WithLabelValues(dependency).Inc()
}
