// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	stageTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fird_pipeline_stage_transitions_total",
		Help: "Stage transitions by origin and destination step",
	}, []string{"from", "to"})

	stageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fird_pipeline_stage_duration_seconds",
		Help:    "Wall time spent producing a stage artifact",
		Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
	}, []string{"step"})

	stageRegenerations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fird_pipeline_regenerations_total",
		Help: "Artifact regenerations by step",
	}, []string{"step"})

	violationChecks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fird_pipeline_violation_checks_total",
		Help: "Parallel violation checks by outcome",
	}, []string{"outcome"}) // outcome=violation|clear|error

	firsFinalized = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fird_firs_finalized_total",
		Help: "FIR records moved to finalized status",
	})

	firAllocationRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fird_fir_allocation_retries_total",
		Help: "FIR number allocations retried after a uniqueness collision",
	})
)

// RecordStageTransition counts one advance of the validation state machine.
func RecordStageTransition(from, to string) {
	stageTransitions.WithLabelValues(from, to).Inc()
}

// ObserveStageDuration records how long producing a stage artifact took.
func ObserveStageDuration(step string, d time.Duration) {
	stageDuration.WithLabelValues(step).Observe(d.Seconds())
}

// RecordRegeneration counts an artifact regeneration for a step.
func RecordRegeneration(step string) {
	stageRegenerations.WithLabelValues(step).Inc()
}

// RecordViolationCheck counts one fan-out check outcome.
func RecordViolationCheck(outcome string) {
	violationChecks.WithLabelValues(outcome).Inc()
}

// RecordFIRFinalized counts a completed finalisation.
func RecordFIRFinalized() {
	firsFinalized.Inc()
}

// RecordFIRAllocationRetry counts a retried FIR number allocation.
func RecordFIRAllocationRetry() {
	firAllocationRetries.Inc()
}
