// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package middleware

import (
	"net/http"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/ManuGH/fird/internal/fir/errs"
	"github.com/ManuGH/fird/internal/log"
	"github.com/ManuGH/fird/internal/metrics"
)

// RequestID assigns or propagates the correlation id and mirrors it on the
// response so clients can quote it.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" || len(id) > 64 {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(log.ContextWithRequestID(r.Context(), id)))
	})
}

// Recoverer converts handler panics into 500 responses with a stack in the
// log, never in the body.
func Recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				log.WithComponent("http").Error().
					Interface("panic", rec).
					Bytes("stack", debug.Stack()).
					Str(log.FieldPath, r.URL.Path).
					Str(log.FieldMethod, r.Method).
					Msg("handler panic")
				JSONError(w, r, errs.E(errs.KindInternal, "internal error"))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// Logging emits one access record per request with the resolved route
// pattern, status and latency.
func Logging(clientIP func(*http.Request) string) func(http.Handler) http.Handler {
	logger := log.WithComponent("http")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			logger.Info().
				Str(log.FieldEvent, "http.request").
				Str(log.FieldMethod, r.Method).
				Str(log.FieldPath, r.URL.Path).
				Str(log.FieldRemoteAddr, clientIP(r)).
				Str(log.FieldRequestID, log.RequestIDFromContext(r.Context())).
				Int("status", ww.Status()).
				Dur("duration", time.Since(start)).
				Int("bytes", ww.BytesWritten()).
				Msg("request completed")
		})
	}
}

// Metrics records per-route counters and latency. The route label is chi's
// pattern so path parameters do not explode cardinality.
func Metrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		metrics.HTTPRequestStarted()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = "unmatched"
		}
		metrics.HTTPRequestFinished(route, r.Method, strconv.Itoa(ww.Status()), time.Since(start))
	})
}
