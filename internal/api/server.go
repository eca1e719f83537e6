// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package api exposes the public HTTP surface of the FIR daemon and the
// internal operations listener. Handlers translate between wire DTOs and
// the orchestrator; all policy (stages, retries, breakers) lives below.
package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/ManuGH/fird/internal/api/middleware"
	"github.com/ManuGH/fird/internal/audit"
	"github.com/ManuGH/fird/internal/fir/model"
	"github.com/ManuGH/fird/internal/fir/pipeline"
	"github.com/ManuGH/fird/internal/health"
	"github.com/ManuGH/fird/internal/log"
	"github.com/ManuGH/fird/internal/metrics"
	"github.com/ManuGH/fird/internal/ratelimit"
	"github.com/ManuGH/fird/internal/reliability"
	"github.com/ManuGH/fird/internal/secrets"
)

// snapshotMetrics is swappable in tests.
var snapshotMetrics = metrics.Snapshot

// Pipeline is the slice of the orchestrator the handlers call.
type Pipeline interface {
	Process(ctx context.Context, in pipeline.Input) (*model.Session, error)
	Validate(ctx context.Context, sessionID string, approved bool, userInput string) (*model.Session, error)
	Regenerate(ctx context.Context, sessionID, userInput string) (*model.Session, bool, error)
	Status(ctx context.Context, sessionID string) (*model.Session, error)
	Authenticate(ctx context.Context, firNumber, authKey string) (*model.FIRRecord, error)
	FIRMeta(ctx context.Context, firNumber string) (*model.FIRRecord, error)
}

// FIRDirectory reads finalized and draft records for the query endpoints.
type FIRDirectory interface {
	GetContent(ctx context.Context, firNumber string) (*model.FIRRecord, error)
	List(ctx context.Context, limit, offset int) ([]model.FIRRecord, error)
}

// Config carries the server wiring.
type Config struct {
	Pipeline       Pipeline
	FIRs           FIRDirectory
	Registry       *reliability.Registry
	Health         *health.Manager
	Keys           secrets.Provider
	Limiter        *ratelimit.Limiter
	Token          *reliability.ShutdownToken
	CORSOrigins    []string
	TrustedProxies []string
	TracingService string
}

// Server is the public API surface.
type Server struct {
	cfg      Config
	clientIP func(*http.Request) string
	auditLog *audit.Logger
	logger   zerolog.Logger

	metricsMu   sync.Mutex
	metricsAt   time.Time
	metricsBody []byte
}

// NewServer wires the handler set. It does not listen; Router hands the
// chi mux to the daemon's http.Server.
func NewServer(cfg Config) *Server {
	trusted := ratelimit.ParseTrustedProxies(cfg.TrustedProxies)
	return &Server{
		cfg: cfg,
		clientIP: func(r *http.Request) string {
			return ratelimit.GetClientIP(r, trusted)
		},
		auditLog: audit.NewLogger(),
		logger:   log.WithComponent("api"),
	}
}

// Router builds the public router with the full middleware stack.
func (s *Server) Router() *chi.Mux {
	r := chi.NewRouter()
	middleware.Apply(r, middleware.StackConfig{
		Keys:           s.cfg.Keys,
		Limiter:        s.cfg.Limiter,
		Token:          s.cfg.Token,
		Audit:          s.auditLog,
		ClientIP:       s.clientIP,
		CORSOrigins:    s.cfg.CORSOrigins,
		TracingService: s.cfg.TracingService,
	})

	r.Post("/process", s.handleProcess)
	r.Post("/validate", s.handleValidate)
	r.Post("/regenerate/{session_id}", s.handleRegenerate)
	r.Get("/session/{session_id}/status", s.handleSessionStatus)
	r.Post("/authenticate", s.handleAuthenticate)
	r.Get("/fir/{fir_number}", s.handleFIRMeta)
	r.Get("/fir/{fir_number}/content", s.handleFIRContent)
	r.Get("/list_firs", s.handleListFIRs)
	r.Get("/metrics", s.handleMetricsSnapshot)
	r.Get("/reliability", s.handleReliability)
	r.Post("/reliability/circuit-breaker/{name}/reset", s.handleBreakerReset)
	r.Post("/reliability/auto-recovery/{name}/trigger", s.handleRecoveryTrigger)
	r.Get("/health", s.cfg.Health.ServeHealth)
	r.Get("/docs", s.handleDocs)
	r.Get("/openapi.json", s.handleOpenAPI)

	return r
}

// InternalRouter serves the unauthenticated operations listener bound to
// METRICS_ADDR: Prometheus text metrics plus liveness and readiness.
func (s *Server) InternalRouter(promHandler http.Handler) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Handle("/metrics", promHandler)
	r.Get("/health", s.cfg.Health.ServeHealth)
	r.Get("/ready", s.cfg.Health.ServeReady)
	return r
}
