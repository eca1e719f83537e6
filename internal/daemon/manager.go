// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package daemon runs the fird process: the public API listener, the
// internal ops listener, and the ordered shutdown sequence that drains
// in-flight requests before flushing state to disk.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ManuGH/fird/internal/log"
	"github.com/ManuGH/fird/internal/reliability"
)

// ShutdownHook releases one resource during shutdown. Hooks run in LIFO
// registration order, after the request drain, each with its own timeout.
type ShutdownHook func(ctx context.Context) error

type namedHook struct {
	name string
	hook ShutdownHook
}

// hookTimeout bounds each individual shutdown hook so one stuck flush
// cannot hold the whole sequence hostage.
const hookTimeout = 10 * time.Second

// Config holds the listener addresses and drain budget for a Manager.
type Config struct {
	ListenAddr      string
	MetricsAddr     string
	ShutdownTimeout time.Duration

	// OnDrainStart runs immediately after the shutdown token flips, before
	// the drain. The caller uses it to mark the process not-ready so load
	// balancers stop routing to it while existing requests finish.
	OnDrainStart func()
}

// Manager owns the HTTP servers and the shutdown sequence.
type Manager struct {
	cfg      Config
	token    *reliability.ShutdownToken
	public   http.Handler
	internal http.Handler
	logger   zerolog.Logger

	mu       sync.Mutex
	started  bool
	stopping bool
	hooks    []namedHook
}

// New builds a Manager serving the public handler on cfg.ListenAddr and the
// internal ops handler on cfg.MetricsAddr.
func New(cfg Config, token *reliability.ShutdownToken, public, internal http.Handler) *Manager {
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	return &Manager{
		cfg:      cfg,
		token:    token,
		public:   public,
		internal: internal,
		logger:   log.WithComponent("daemon"),
	}
}

// RegisterShutdownHook appends a named hook. Hooks execute in reverse
// registration order, so callers register dependencies before dependents.
func (m *Manager) RegisterShutdownHook(name string, hook ShutdownHook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks = append(m.hooks, namedHook{name: name, hook: hook})
}

// Run serves until ctx is cancelled or a listener fails, then executes the
// shutdown sequence. It returns the first listener error, or the joined
// hook errors from shutdown.
func (m *Manager) Run(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return errors.New("daemon already started")
	}
	m.started = true
	m.mu.Unlock()

	apiSrv := &http.Server{
		Addr:              m.cfg.ListenAddr,
		Handler:           m.public,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       2 * time.Minute,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       2 * time.Minute,
	}
	internalSrv := &http.Server{
		Addr:              m.cfg.MetricsAddr,
		Handler:           m.internal,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		m.logger.Info().
			Str(log.FieldEvent, "daemon.listen").
			Str("addr", m.cfg.ListenAddr).
			Msg("public API listening")
		if err := apiSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	})

	if m.internal != nil {
		g.Go(func() error {
			m.logger.Info().
				Str(log.FieldEvent, "daemon.listen_internal").
				Str("addr", m.cfg.MetricsAddr).
				Msg("internal ops listening")
			if err := internalSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("internal server: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		return m.shutdown(gctx, apiSrv, internalSrv)
	})

	return g.Wait()
}

// shutdown runs the ordered sequence: flip the token, mark not-ready, drain
// in-flight requests, close the listeners, then run the hooks LIFO. Hooks
// run even when the drain times out; an interrupted drain is not an excuse
// to skip flushing state.
func (m *Manager) shutdown(ctx context.Context, servers ...*http.Server) error {
	m.mu.Lock()
	if m.stopping {
		m.mu.Unlock()
		return nil
	}
	m.stopping = true
	hooks := make([]namedHook, len(m.hooks))
	copy(hooks, m.hooks)
	m.mu.Unlock()

	m.logger.Info().
		Str(log.FieldEvent, "daemon.shutdown").
		Msg("shutdown sequence started")

	// The parent ctx is already cancelled by the time we get here; keep its
	// values but not its deadline so the drain and the flushes get their
	// own budgets.
	base := context.WithoutCancel(ctx)

	if m.token != nil {
		m.token.Begin()
	}
	if m.cfg.OnDrainStart != nil {
		m.cfg.OnDrainStart()
	}
	if m.token != nil {
		drained := m.token.Drain(base)
		m.logger.Info().
			Str(log.FieldEvent, "daemon.drained").
			Bool("clean", drained).
			Int64("active_requests", m.token.ActiveRequests()).
			Msg("request drain finished")
	}

	srvCtx, cancel := context.WithTimeout(base, m.cfg.ShutdownTimeout)
	defer cancel()
	for _, srv := range servers {
		if srv == nil {
			continue
		}
		if err := srv.Shutdown(srvCtx); err != nil {
			m.logger.Warn().Err(err).
				Str(log.FieldEvent, "daemon.server_close").
				Msg("listener did not close cleanly")
		}
	}

	var errs []error
	for i := len(hooks) - 1; i >= 0; i-- {
		h := hooks[i]
		hookCtx, cancel := context.WithTimeout(base, hookTimeout)
		err := h.hook(hookCtx)
		cancel()
		if err != nil {
			m.logger.Error().Err(err).
				Str(log.FieldEvent, "daemon.hook_failed").
				Str("hook", h.name).
				Msg("shutdown hook failed")
			errs = append(errs, fmt.Errorf("hook %s: %w", h.name, err))
			continue
		}
		m.logger.Debug().
			Str(log.FieldEvent, "daemon.hook_done").
			Str("hook", h.name).
			Msg("shutdown hook finished")
	}

	m.logger.Info().
		Str(log.FieldEvent, "daemon.stopped").
		Int("hook_failures", len(errs)).
		Msg("shutdown sequence finished")
	return errors.Join(errs...)
}
