// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package middleware

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/ManuGH/fird/internal/audit"
	"github.com/ManuGH/fird/internal/ratelimit"
	"github.com/ManuGH/fird/internal/reliability"
	"github.com/ManuGH/fird/internal/secrets"
)

// StackConfig configures the canonical ingress stack for the public API
// server. The ordering in Apply is load-bearing: gates run strictly
// outermost-first and the shutdown gate must be the last thing before the
// handler so rejected requests never count as in-flight work.
type StackConfig struct {
	Keys           secrets.Provider
	Limiter        *ratelimit.Limiter
	Token          *reliability.ShutdownToken
	Audit          *audit.Logger
	ClientIP       func(*http.Request) string
	CORSOrigins    []string
	TracingService string // empty disables tracing
}

// Apply installs the middleware stack on the router.
func Apply(r chi.Router, cfg StackConfig) {
	// Ambient layers: safety net, correlation, observability.
	r.Use(Recoverer)
	r.Use(RequestID)
	r.Use(Logging(cfg.ClientIP))
	r.Use(Metrics)
	if cfg.TracingService != "" {
		r.Use(Tracing(cfg.TracingService))
	}

	// The request gate proper.
	r.Use(SecurityHeaders)
	r.Use(CORS(cfg.CORSOrigins))
	r.Use(Auth(cfg.Keys, cfg.ClientIP, cfg.Audit))
	r.Use(RateLimit(cfg.Limiter, cfg.ClientIP, cfg.Audit))
	r.Use(MaxBody(MaxRequestBytes))
	r.Use(ShutdownGate(cfg.Token))
}

// Tracing wraps handlers in an OpenTelemetry server span.
func Tracing(service string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, service)
	}
}

// MaxRequestBytes caps any request body; the upload bound in the validation
// package is tighter and applies per part.
const MaxRequestBytes = 26 << 20

// MaxBody rejects oversize bodies before a handler buffers them.
func MaxBody(limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > limit {
				JSON(w, http.StatusRequestEntityTooLarge, errorBody{
					Error: "request body too large",
					Kind:  "invalid_input",
				})
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, limit)
			next.ServeHTTP(w, r)
		})
	}
}
