// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package reliability

import (
	"context"
	"sync"

	"github.com/ManuGH/fird/internal/fir/errs"
)

// Registry holds the named breakers and recovery handlers plus the health
// monitor, powering the /reliability surface. Handlers hold closures over
// their dependencies, so references run one way only.
type Registry struct {
	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker
	recovery map[string]*AutoRecovery
	monitor  *HealthMonitor
}

// NewRegistry creates an empty registry around the monitor.
func NewRegistry(monitor *HealthMonitor) *Registry {
	return &Registry{
		breakers: make(map[string]*CircuitBreaker),
		recovery: make(map[string]*AutoRecovery),
		monitor:  monitor,
	}
}

// RegisterBreaker adds a named breaker.
func (r *Registry) RegisterBreaker(cb *CircuitBreaker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.breakers[cb.Name()] = cb
}

// RegisterRecovery adds a named recovery handler.
func (r *Registry) RegisterRecovery(name string, ar *AutoRecovery) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recovery[name] = ar
}

// Breaker looks up a breaker by name.
func (r *Registry) Breaker(name string) (*CircuitBreaker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cb, ok := r.breakers[name]
	return cb, ok
}

// TriggerRecovery fires the named handler, ignoring cooldown (operator
// intent is explicit).
func (r *Registry) TriggerRecovery(ctx context.Context, name string) (bool, error) {
	r.mu.RLock()
	ar, ok := r.recovery[name]
	r.mu.RUnlock()
	if !ok {
		return false, errs.Ef(errs.KindInvalidInput, "unknown recovery handler %q", name)
	}
	return ar.ForceTrigger(ctx), nil
}

// NotifyOpen routes a breaker-open event to the matching recovery handler.
// Wire it via WithOnOpen at breaker construction.
func (r *Registry) NotifyOpen(name string) {
	r.mu.RLock()
	ar, ok := r.recovery[name]
	r.mu.RUnlock()
	if ok {
		ar.Trigger(context.Background())
	}
}

// ResetBreaker forces the named breaker closed and clears its recovery
// handler's exhaustion state.
func (r *Registry) ResetBreaker(name string) error {
	r.mu.RLock()
	cb, ok := r.breakers[name]
	ar := r.recovery[name]
	r.mu.RUnlock()
	if !ok {
		return errs.Ef(errs.KindInvalidInput, "unknown circuit breaker %q", name)
	}
	cb.Reset()
	if ar != nil {
		ar.Reset()
	}
	return nil
}

// Snapshot aggregates breaker, recovery and monitor state.
func (r *Registry) Snapshot() map[string]any {
	r.mu.RLock()
	defer r.mu.RUnlock()

	breakers := make(map[string]BreakerSnapshot, len(r.breakers))
	for name, cb := range r.breakers {
		breakers[name] = cb.Snapshot()
	}
	recovery := make(map[string]RecoverySnapshot, len(r.recovery))
	for name, ar := range r.recovery {
		recovery[name] = ar.Snapshot()
	}

	out := map[string]any{
		"circuit_breakers": breakers,
		"auto_recovery":    recovery,
	}
	if r.monitor != nil {
		out["health_monitor"] = r.monitor.Snapshot()
	}
	return out
}
