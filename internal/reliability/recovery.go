// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package reliability

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/ManuGH/fird/internal/log"
	"github.com/ManuGH/fird/internal/metrics"
)

// RecoverFunc attempts to restore one dependency. It should be cheap to
// call and safe to repeat.
type RecoverFunc func(ctx context.Context) error

// RecoveryConfig bounds one dependency's recovery behaviour.
type RecoveryConfig struct {
	MaxAttempts int
	Cooldown    time.Duration
	Multiplier  float64
}

// DefaultRecoveryConfig returns the production defaults.
func DefaultRecoveryConfig() RecoveryConfig {
	return RecoveryConfig{MaxAttempts: 3, Cooldown: 60 * time.Second, Multiplier: 2.0}
}

// RecoveryStatus describes where a handler currently stands.
type RecoveryStatus string

const (
	RecoveryIdle       RecoveryStatus = "idle"
	RecoveryInProgress RecoveryStatus = "in_progress"
	RecoveryExhausted  RecoveryStatus = "exhausted"
)

// AutoRecovery runs a registered recover function when its dependency's
// breaker opens (or an operator triggers it). Concurrent triggers collapse
// into one run; a rate limiter enforces the cooldown between cycles.
type AutoRecovery struct {
	name      string
	cfg       RecoveryConfig
	recover   RecoverFunc
	limiter   *rate.Limiter
	baseDelay time.Duration // first in-cycle backoff step

	mu          sync.Mutex
	inProgress  bool
	exhausted   bool
	lastAttempt time.Time
	lastSuccess time.Time
	lastError   string
	cycles      int
}

// NewAutoRecovery builds a recovery handler for one dependency.
func NewAutoRecovery(name string, cfg RecoveryConfig, fn RecoverFunc) *AutoRecovery {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 60 * time.Second
	}
	if cfg.Multiplier <= 1 {
		cfg.Multiplier = 2.0
	}
	return &AutoRecovery{
		name:      name,
		cfg:       cfg,
		recover:   fn,
		baseDelay: time.Second,
		// One cycle per cooldown window, no burst beyond the first.
		limiter: rate.NewLimiter(rate.Every(cfg.Cooldown), 1),
	}
}

// Trigger starts a recovery cycle unless one is already running, the
// cooldown has not elapsed, or the handler is exhausted. It returns true
// when a cycle actually ran and succeeded.
func (r *AutoRecovery) Trigger(ctx context.Context) bool {
	r.mu.Lock()
	if r.inProgress || r.exhausted {
		r.mu.Unlock()
		return false
	}
	if !r.limiter.Allow() {
		r.mu.Unlock()
		return false
	}
	r.inProgress = true
	r.mu.Unlock()

	ok := r.runCycle(ctx)

	r.mu.Lock()
	r.inProgress = false
	r.mu.Unlock()
	return ok
}

// ForceTrigger runs a cycle regardless of cooldown and clears exhaustion
// first. Operator-facing; backs the /reliability trigger endpoint.
func (r *AutoRecovery) ForceTrigger(ctx context.Context) bool {
	r.mu.Lock()
	if r.inProgress {
		r.mu.Unlock()
		return false
	}
	r.exhausted = false
	r.inProgress = true
	r.mu.Unlock()

	ok := r.runCycle(ctx)

	r.mu.Lock()
	r.inProgress = false
	r.mu.Unlock()
	return ok
}

func (r *AutoRecovery) runCycle(ctx context.Context) bool {
	logger := log.WithComponent("recovery")
	delay := r.baseDelay

	for attempt := 1; attempt <= r.cfg.MaxAttempts; attempt++ {
		r.mu.Lock()
		r.lastAttempt = time.Now()
		r.mu.Unlock()

		err := r.recover(ctx)
		if err == nil {
			metrics.RecordRecoveryAttempt(r.name, "success")
			logger.Info().
				Str(log.FieldDependency, r.name).
				Str(log.FieldEvent, "recovery.success").
				Int(log.FieldAttempt, attempt).
				Msg("dependency recovered")

			r.mu.Lock()
			r.lastSuccess = time.Now()
			r.lastError = ""
			r.cycles++
			r.mu.Unlock()
			return true
		}

		metrics.RecordRecoveryAttempt(r.name, "failure")
		logger.Warn().
			Str(log.FieldDependency, r.name).
			Str(log.FieldEvent, "recovery.attempt_failed").
			Int(log.FieldAttempt, attempt).
			Err(err).
			Msg("recovery attempt failed")

		r.mu.Lock()
		r.lastError = err.Error()
		r.mu.Unlock()

		if attempt == r.cfg.MaxAttempts {
			break
		}
		if sleepCtx(ctx, delay) != nil {
			return false
		}
		delay = time.Duration(float64(delay) * r.cfg.Multiplier)
	}

	metrics.RecordRecoveryExhausted(r.name)
	logger.Error().
		Str(log.FieldDependency, r.name).
		Str(log.FieldEvent, "recovery.exhausted").
		Int("max_attempts", r.cfg.MaxAttempts).
		Msg("recovery attempts exhausted; waiting for manual trigger")

	r.mu.Lock()
	r.exhausted = true
	r.cycles++
	r.mu.Unlock()
	return false
}

// Reset clears exhaustion and error state. Called on manual breaker reset.
func (r *AutoRecovery) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.exhausted = false
	r.lastError = ""
}

// RecoverySnapshot is the externally visible recovery record.
type RecoverySnapshot struct {
	Status      RecoveryStatus `json:"status"`
	MaxAttempts int            `json:"max_attempts"`
	Cooldown    string         `json:"cooldown"`
	Cycles      int            `json:"cycles"`
	LastAttempt *time.Time     `json:"last_attempt,omitempty"`
	LastSuccess *time.Time     `json:"last_success,omitempty"`
	LastError   string         `json:"last_error,omitempty"`
}

// Snapshot returns the recovery record for the /reliability surface.
func (r *AutoRecovery) Snapshot() RecoverySnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	status := RecoveryIdle
	switch {
	case r.inProgress:
		status = RecoveryInProgress
	case r.exhausted:
		status = RecoveryExhausted
	}
	snap := RecoverySnapshot{
		Status:      status,
		MaxAttempts: r.cfg.MaxAttempts,
		Cooldown:    r.cfg.Cooldown.String(),
		Cycles:      r.cycles,
		LastError:   r.lastError,
	}
	if !r.lastAttempt.IsZero() {
		t := r.lastAttempt
		snap.LastAttempt = &t
	}
	if !r.lastSuccess.IsZero() {
		t := r.lastSuccess
		snap.LastSuccess = &t
	}
	return snap
}
