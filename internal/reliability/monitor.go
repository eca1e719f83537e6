// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package reliability

import (
	"context"
	"sync"
	"time"

	"github.com/ManuGH/fird/internal/log"
	"github.com/ManuGH/fird/internal/metrics"
)

// historyCapacity bounds the per-dependency probe history ring.
const historyCapacity = 100

// ProbeFunc checks one dependency. A nil return means healthy.
type ProbeFunc func(ctx context.Context) error

// Observation is one recorded probe result.
type Observation struct {
	At        time.Time `json:"at"`
	Healthy   bool      `json:"healthy"`
	LatencyMS int64     `json:"latency_ms"`
	Error     string    `json:"error,omitempty"`
}

// ring is a fixed-capacity observation buffer.
type ring struct {
	buf   [historyCapacity]Observation
	next  int
	count int
}

func (r *ring) add(o Observation) {
	r.buf[r.next] = o
	r.next = (r.next + 1) % historyCapacity
	if r.count < historyCapacity {
		r.count++
	}
}

// ordered returns observations oldest first.
func (r *ring) ordered() []Observation {
	out := make([]Observation, 0, r.count)
	start := r.next - r.count
	if start < 0 {
		start += historyCapacity
	}
	for i := 0; i < r.count; i++ {
		out = append(out, r.buf[(start+i)%historyCapacity])
	}
	return out
}

type monitoredDependency struct {
	name     string
	required bool
	probe    ProbeFunc

	mu      sync.Mutex
	history ring
	healthy int
	total   int
}

// HealthMonitor probes registered dependencies on a fixed interval and
// keeps a bounded observation history per dependency. Probes run outside
// any lock; only the recording step is synchronized.
type HealthMonitor struct {
	interval     time.Duration
	probeTimeout time.Duration

	mu   sync.RWMutex
	deps map[string]*monitoredDependency

	cancel context.CancelFunc
	done   chan struct{}
}

// NewHealthMonitor creates a monitor with the given probe interval.
func NewHealthMonitor(interval time.Duration) *HealthMonitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &HealthMonitor{
		interval:     interval,
		probeTimeout: 10 * time.Second,
		deps:         make(map[string]*monitoredDependency),
	}
}

// Register adds a dependency probe. Required dependencies additionally
// gate startup.
func (m *HealthMonitor) Register(name string, required bool, probe ProbeFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deps[name] = &monitoredDependency{name: name, required: required, probe: probe}
}

// Start launches the background probe loop. It is cancellable via Stop or
// the parent context.
func (m *HealthMonitor) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})

	go func() {
		defer close(m.done)
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		// One immediate round so /reliability has data before the first tick.
		m.probeAll(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.probeAll(ctx)
			}
		}
	}()
}

// Stop cancels the probe loop and waits for it to exit.
func (m *HealthMonitor) Stop() {
	if m.cancel == nil {
		return
	}
	m.cancel()
	<-m.done
}

func (m *HealthMonitor) probeAll(ctx context.Context) {
	m.mu.RLock()
	deps := make([]*monitoredDependency, 0, len(m.deps))
	for _, d := range m.deps {
		deps = append(deps, d)
	}
	m.mu.RUnlock()

	for _, d := range deps {
		if ctx.Err() != nil {
			return
		}
		m.probeOne(ctx, d)
	}
}

func (m *HealthMonitor) probeOne(ctx context.Context, d *monitoredDependency) {
	probeCtx, cancel := context.WithTimeout(ctx, m.probeTimeout)
	start := time.Now()
	err := d.probe(probeCtx)
	latency := time.Since(start)
	cancel()

	obs := Observation{
		At:        start,
		Healthy:   err == nil,
		LatencyMS: latency.Milliseconds(),
	}
	if err != nil {
		obs.Error = err.Error()
		log.WithComponent("health-monitor").Warn().
			Str(log.FieldDependency, d.name).
			Str(log.FieldEvent, "probe.unhealthy").
			Dur("latency", latency).
			Err(err).
			Msg("dependency probe failed")
	}
	metrics.SetDependencyUp(d.name, err == nil)

	d.mu.Lock()
	d.history.add(obs)
	d.total++
	if obs.Healthy {
		d.healthy++
	}
	d.mu.Unlock()
}

// ProbeNow runs a single dependency's probe immediately, recording the
// observation. Used by the startup gate and recovery verification.
func (m *HealthMonitor) ProbeNow(ctx context.Context, name string) error {
	m.mu.RLock()
	d, ok := m.deps[name]
	m.mu.RUnlock()
	if !ok {
		return nil
	}
	m.probeOne(ctx, d)
	d.mu.Lock()
	defer d.mu.Unlock()
	last := d.history.buf[(d.history.next-1+historyCapacity)%historyCapacity]
	if !last.Healthy {
		return errOf(last.Error)
	}
	return nil
}

func errOf(msg string) error {
	if msg == "" {
		msg = "unhealthy"
	}
	return &probeError{msg}
}

type probeError struct{ msg string }

func (e *probeError) Error() string { return e.msg }

// DependencyHealth is one dependency's monitor snapshot.
type DependencyHealth struct {
	Required  bool          `json:"required"`
	UptimePct float64       `json:"uptime_pct"`
	Healthy   bool          `json:"healthy"`
	History   []Observation `json:"history"`
}

// Snapshot returns the monitor state for every dependency.
func (m *HealthMonitor) Snapshot() map[string]DependencyHealth {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]DependencyHealth, len(m.deps))
	for name, d := range m.deps {
		d.mu.Lock()
		h := DependencyHealth{
			Required: d.required,
			History:  d.history.ordered(),
		}
		if d.total > 0 {
			h.UptimePct = float64(d.healthy) / float64(d.total) * 100
		}
		if n := len(h.History); n > 0 {
			h.Healthy = h.History[n-1].Healthy
		}
		d.mu.Unlock()
		out[name] = h
	}
	return out
}

// Required returns the names of required dependencies.
func (m *HealthMonitor) Required() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var names []string
	for name, d := range m.deps {
		if d.required {
			names = append(names, name)
		}
	}
	return names
}
