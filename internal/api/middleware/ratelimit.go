// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package middleware

import (
	"net/http"
	"strconv"

	"github.com/ManuGH/fird/internal/audit"
	"github.com/ManuGH/fird/internal/fir/errs"
	"github.com/ManuGH/fird/internal/metrics"
	"github.com/ManuGH/fird/internal/ratelimit"
)

// rateLimitExempt paths skip the limiter entirely. /health is deliberately
// absent: it bypasses auth but stays inside the request budget.
var rateLimitExempt = map[string]bool{
	"/docs":         true,
	"/openapi.json": true,
}

// RateLimit applies the sliding-window limiter per client IP. Every response
// carries the limit headers; a rejection adds Retry-After.
func RateLimit(limiter *ratelimit.Limiter, clientIP func(*http.Request) string, auditLog *audit.Logger) func(http.Handler) http.Handler {
	limitValue := strconv.Itoa(limiter.Limit())
	windowSeconds := strconv.Itoa(int(limiter.Window().Seconds()))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-RateLimit-Limit", limitValue)
			w.Header().Set("X-RateLimit-Window", windowSeconds)

			if rateLimitExempt[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			ip := clientIP(r)
			if !limiter.Allow(ip) {
				ratelimit.RecordRejection(r.URL.Path)
				metrics.RecordRateLimitRejection()
				auditLog.RateLimited(r.Context(), ip, r.URL.Path)
				w.Header().Set("Retry-After", windowSeconds)
				JSONError(w, r, errs.E(errs.KindRateLimited, "rate limit exceeded"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
