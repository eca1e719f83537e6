// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package middleware

import (
	"crypto/sha256"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/ManuGH/fird/internal/audit"
	"github.com/ManuGH/fird/internal/fir/errs"
	"github.com/ManuGH/fird/internal/secrets"
)

// apiKeyName is the secret the gate compares request credentials against.
const apiKeyName = "API_KEY"

// publicPaths bypass authentication. /health additionally bypasses nothing
// else: the rate limiter still counts it.
var publicPaths = map[string]bool{
	"/health":       true,
	"/docs":         true,
	"/openapi.json": true,
}

// Auth requires X-API-Key or Authorization: Bearer on every non-public
// path. The expected key resolves through the secrets provider (cached);
// if it cannot be resolved the gate fails closed.
func Auth(keys secrets.Provider, clientIP func(*http.Request) string, auditLog *audit.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if publicPaths[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			expected, err := keys.Get(r.Context(), apiKeyName)
			if err != nil || expected == "" {
				auditLog.AuthFailure(r.Context(), clientIP(r), r.URL.Path)
				JSONError(w, r, errs.E(errs.KindUnauthorized, "api authentication unavailable"))
				return
			}

			if !keyMatches(credential(r), expected) {
				auditLog.AuthFailure(r.Context(), clientIP(r), r.URL.Path)
				JSONError(w, r, errs.E(errs.KindUnauthorized, "missing or invalid api key"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func credential(r *http.Request) string {
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}

// keyMatches compares digests so the comparison is constant-time and does
// not leak the expected key's length.
func keyMatches(got, expected string) bool {
	if got == "" {
		return false
	}
	a := sha256.Sum256([]byte(got))
	b := sha256.Sum256([]byte(expected))
	return subtle.ConstantTimeCompare(a[:], b[:]) == 1
}
