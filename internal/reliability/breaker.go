// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package reliability provides the failure-handling substrate: circuit
// breakers, retry with backoff and jitter, a background health monitor,
// auto-recovery, the graceful-shutdown token and the startup dependency
// gate. A registry ties named instances together for the /reliability
// surface.
package reliability

import (
	"errors"
	"sync"
	"time"

	"github.com/ManuGH/fird/internal/log"
	"github.com/ManuGH/fird/internal/metrics"
)

// BreakerState represents the circuit breaker state.
type BreakerState string

const (
	StateClosed   BreakerState = "closed"
	StateOpen     BreakerState = "open"
	StateHalfOpen BreakerState = "half_open"
)

// ErrCircuitOpen is returned for calls rejected without execution.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// clock abstracts time operations for testability.
type clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// CircuitBreaker guards one dependency. Closed counts failures; at the
// threshold it opens and fails fast for the reset timeout; after that a
// single half-open probe decides between closing and re-opening.
type CircuitBreaker struct {
	mu            sync.Mutex
	name          string
	state         BreakerState
	failures      int
	threshold     int
	resetTimeout  time.Duration
	openedAt      time.Time
	lastFailureAt time.Time
	probeInFlight bool
	clock         clock

	// onOpen fires outside the lock whenever the breaker opens. The
	// registry wires this to the dependency's auto-recovery trigger.
	onOpen func(name string)
}

// BreakerOption configures a CircuitBreaker.
type BreakerOption func(*CircuitBreaker)

// WithBreakerClock injects a clock for tests.
func WithBreakerClock(c clock) BreakerOption {
	return func(cb *CircuitBreaker) { cb.clock = c }
}

// WithOnOpen registers a callback invoked whenever the breaker opens.
func WithOnOpen(fn func(name string)) BreakerOption {
	return func(cb *CircuitBreaker) { cb.onOpen = fn }
}

// NewCircuitBreaker creates a breaker named after its protected dependency.
func NewCircuitBreaker(name string, threshold int, resetTimeout time.Duration, opts ...BreakerOption) *CircuitBreaker {
	if threshold <= 0 {
		threshold = 5
	}
	if resetTimeout <= 0 {
		resetTimeout = 60 * time.Second
	}

	cb := &CircuitBreaker{
		name:         name,
		state:        StateClosed,
		threshold:    threshold,
		resetTimeout: resetTimeout,
		clock:        realClock{},
	}
	for _, opt := range opts {
		opt(cb)
	}

	metrics.SetCircuitBreakerState(cb.name, string(cb.state))
	return cb
}

// Execute runs fn respecting the breaker state. Rejected calls return
// ErrCircuitOpen without invoking fn.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	probe, ok := cb.admit()
	if !ok {
		metrics.RecordCircuitBreakerRejection(cb.name)
		return ErrCircuitOpen
	}

	err := fn()

	if err != nil {
		cb.recordFailure(probe)
		return err
	}
	cb.recordSuccess(probe)
	return nil
}

// admit decides whether a call may proceed. The second return is false for
// rejections; the first reports whether this call is the half-open probe.
func (cb *CircuitBreaker) admit() (probe, ok bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return false, true
	case StateOpen:
		if cb.clock.Now().Sub(cb.openedAt) >= cb.resetTimeout {
			cb.transitionTo(StateHalfOpen)
			cb.probeInFlight = true
			return true, true
		}
		return false, false
	default: // StateHalfOpen
		// Exactly one probe; concurrent callers keep failing fast.
		if cb.probeInFlight {
			return false, false
		}
		cb.probeInFlight = true
		return true, true
	}
}

func (cb *CircuitBreaker) recordFailure(probe bool) {
	var opened bool

	cb.mu.Lock()
	cb.failures++
	cb.lastFailureAt = cb.clock.Now()
	if probe {
		cb.probeInFlight = false
	}

	switch {
	case cb.state == StateHalfOpen:
		metrics.RecordCircuitBreakerTrip(cb.name, "half_open_failure")
		cb.transitionTo(StateOpen)
		opened = true
	case cb.state == StateClosed && cb.failures >= cb.threshold:
		metrics.RecordCircuitBreakerTrip(cb.name, "threshold_exceeded")
		cb.transitionTo(StateOpen)
		opened = true
	}
	onOpen := cb.onOpen
	cb.mu.Unlock()

	if opened {
		log.WithComponent("breaker").Warn().
			Str(log.FieldDependency, cb.name).
			Str(log.FieldEvent, "breaker.open").
			Msg("circuit breaker opened")
		if onOpen != nil {
			// Recovery triggers must never block the failing caller.
			go onOpen(cb.name)
		}
	}
}

func (cb *CircuitBreaker) recordSuccess(probe bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures = 0
	if probe {
		cb.probeInFlight = false
	}
	if cb.state != StateClosed {
		log.WithComponent("breaker").Info().
			Str(log.FieldDependency, cb.name).
			Str(log.FieldEvent, "breaker.close").
			Msg("circuit breaker closed after successful probe")
		cb.transitionTo(StateClosed)
	}
}

// transitionTo changes state and updates metrics. Caller must hold the lock.
func (cb *CircuitBreaker) transitionTo(newState BreakerState) {
	if cb.state == newState {
		return
	}
	cb.state = newState
	if newState == StateOpen {
		cb.openedAt = cb.clock.Now()
	}
	metrics.SetCircuitBreakerState(cb.name, string(newState))
}

// Reset forces the breaker closed and clears its counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures = 0
	cb.probeInFlight = false
	cb.transitionTo(StateClosed)
}

// Name returns the protected dependency's name.
func (cb *CircuitBreaker) Name() string { return cb.name }

// State returns the current state.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// BreakerSnapshot is the externally visible breaker record.
type BreakerSnapshot struct {
	State         BreakerState `json:"state"`
	FailureCount  int          `json:"failure_count"`
	Threshold     int          `json:"threshold"`
	LastFailureAt *time.Time   `json:"last_failure_at,omitempty"`
	OpenedAt      *time.Time   `json:"opened_at,omitempty"`
}

// Snapshot returns the breaker record for the /reliability surface.
func (cb *CircuitBreaker) Snapshot() BreakerSnapshot {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	snap := BreakerSnapshot{
		State:        cb.state,
		FailureCount: cb.failures,
		Threshold:    cb.threshold,
	}
	if !cb.lastFailureAt.IsZero() {
		t := cb.lastFailureAt
		snap.LastFailureAt = &t
	}
	if cb.state != StateClosed && !cb.openedAt.IsZero() {
		t := cb.openedAt
		snap.OpenedAt = &t
	}
	return snap
}
