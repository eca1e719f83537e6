// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package reliability

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ManuGH/fird/internal/log"
)

// StartupGate blocks traffic until every required dependency has reported
// healthy once, or the startup timeout elapses.
type StartupGate struct {
	monitor *HealthMonitor
	timeout time.Duration
	cadence time.Duration
}

// NewStartupGate wires a gate over the health monitor's probes.
func NewStartupGate(monitor *HealthMonitor, timeout time.Duration) *StartupGate {
	if timeout <= 0 {
		timeout = 300 * time.Second
	}
	return &StartupGate{
		monitor: monitor,
		timeout: timeout,
		cadence: 2 * time.Second,
	}
}

// Wait polls required dependencies until all are healthy. On timeout it
// returns an error naming the laggards so the failure is actionable.
func (g *StartupGate) Wait(ctx context.Context) error {
	required := g.monitor.Required()
	if len(required) == 0 {
		return nil
	}
	sort.Strings(required)

	logger := log.WithComponent("startup-gate")
	logger.Info().
		Strs("dependencies", required).
		Dur("timeout", g.timeout).
		Msg("waiting for required dependencies")

	deadline := time.Now().Add(g.timeout)
	pending := make(map[string]error, len(required))
	for _, name := range required {
		pending[name] = fmt.Errorf("not yet probed")
	}

	for {
		for name := range pending {
			if err := g.monitor.ProbeNow(ctx, name); err != nil {
				pending[name] = err
				continue
			}
			logger.Info().
				Str(log.FieldDependency, name).
				Str(log.FieldEvent, "startup.dependency_healthy").
				Msg("dependency reported healthy")
			delete(pending, name)
		}
		if len(pending) == 0 {
			logger.Info().Str(log.FieldEvent, "startup.gate_open").Msg("all required dependencies healthy")
			return nil
		}
		if time.Now().After(deadline) {
			break
		}
		if err := sleepCtx(ctx, g.cadence); err != nil {
			return fmt.Errorf("startup aborted: %w", err)
		}
	}

	laggards := make([]string, 0, len(pending))
	for name, err := range pending {
		laggards = append(laggards, fmt.Sprintf("%s (%v)", name, err))
	}
	sort.Strings(laggards)
	return fmt.Errorf("startup gate: required dependencies unhealthy after %s: %s",
		g.timeout, strings.Join(laggards, "; "))
}
