// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package health aggregates component checks into the three-valued status
// the /health endpoint reports. A required dependency down makes the whole
// daemon unhealthy; an optional one only degrades it.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ManuGH/fird/internal/reliability"
)

// Status is the aggregate health value.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// CheckResult is one component's verdict.
type CheckResult struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Checker is a named component check.
type Checker interface {
	Name() string
	Required() bool
	Check(ctx context.Context) CheckResult
}

// Response is the /health body.
type Response struct {
	Status    Status                 `json:"status"`
	Version   string                 `json:"version,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

// ReadyResponse is the /ready body on the internal listener.
type ReadyResponse struct {
	Ready     bool      `json:"ready"`
	Status    Status    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// Manager evaluates registered checkers and tracks readiness. Readiness
// flips on once the startup gate passes and off again when the shutdown
// drain begins.
type Manager struct {
	version string
	ready   atomic.Bool

	mu       sync.RWMutex
	checkers []Checker
}

// NewManager creates an empty manager.
func NewManager(version string) *Manager {
	return &Manager{version: version}
}

// Register adds a checker.
func (m *Manager) Register(c Checker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkers = append(m.checkers, c)
}

// SetReady flips the readiness flag.
func (m *Manager) SetReady(ready bool) {
	m.ready.Store(ready)
}

// Health evaluates all checkers and aggregates.
func (m *Manager) Health(ctx context.Context) Response {
	m.mu.RLock()
	checkers := make([]Checker, len(m.checkers))
	copy(checkers, m.checkers)
	m.mu.RUnlock()

	resp := Response{
		Status:    StatusHealthy,
		Version:   m.version,
		Timestamp: time.Now().UTC(),
	}
	if len(checkers) == 0 {
		return resp
	}

	resp.Checks = make(map[string]CheckResult, len(checkers))
	for _, c := range checkers {
		result := c.Check(ctx)
		resp.Checks[c.Name()] = result

		switch {
		case result.Status == StatusUnhealthy && c.Required():
			resp.Status = StatusUnhealthy
		case result.Status != StatusHealthy && resp.Status == StatusHealthy:
			resp.Status = StatusDegraded
		}
	}
	return resp
}

// Ready reports readiness for the internal listener's probe.
func (m *Manager) Ready(ctx context.Context) ReadyResponse {
	agg := m.Health(ctx)
	return ReadyResponse{
		Ready:     m.ready.Load() && agg.Status != StatusUnhealthy,
		Status:    agg.Status,
		Timestamp: time.Now().UTC(),
	}
}

// ServeHealth is the public /health handler: always 200, status in the body.
func (m *Manager) ServeHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(m.Health(r.Context()))
}

// ServeReady is the internal /ready handler: 503 until ready.
func (m *Manager) ServeReady(w http.ResponseWriter, r *http.Request) {
	resp := m.Ready(r.Context())
	w.Header().Set("Content-Type", "application/json")
	if !resp.Ready {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(resp)
}

// monitorChecker adapts one monitored dependency to a Checker.
type monitorChecker struct {
	name     string
	required bool
	monitor  *reliability.HealthMonitor
}

// FromMonitor exposes a health-monitor dependency as a checker. The result
// reads the monitor's latest observation; it never probes inline.
func FromMonitor(name string, required bool, monitor *reliability.HealthMonitor) Checker {
	return &monitorChecker{name: name, required: required, monitor: monitor}
}

func (c *monitorChecker) Name() string   { return c.name }
func (c *monitorChecker) Required() bool { return c.required }

func (c *monitorChecker) Check(context.Context) CheckResult {
	dep, ok := c.monitor.Snapshot()[c.name]
	if !ok {
		return CheckResult{Status: StatusDegraded, Message: "not yet observed"}
	}
	if len(dep.History) == 0 {
		return CheckResult{Status: StatusDegraded, Message: "no probe results yet"}
	}
	last := dep.History[len(dep.History)-1]
	if dep.Healthy {
		return CheckResult{Status: StatusHealthy}
	}
	return CheckResult{Status: StatusUnhealthy, Error: last.Error}
}

// checkFunc wraps a probe-style function as a Checker.
type checkFunc struct {
	name     string
	required bool
	fn       func(ctx context.Context) error
}

func (c checkFunc) Name() string   { return c.name }
func (c checkFunc) Required() bool { return c.required }

func (c checkFunc) Check(ctx context.Context) CheckResult {
	if err := c.fn(ctx); err != nil {
		return CheckResult{Status: StatusUnhealthy, Error: err.Error()}
	}
	return CheckResult{Status: StatusHealthy}
}
