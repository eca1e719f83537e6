// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package middleware

import (
	"net/http"

	"github.com/ManuGH/fird/internal/fir/errs"
	"github.com/ManuGH/fird/internal/reliability"
)

// ShutdownGate rejects new work once draining has begun and tracks in-flight
// requests on the token so the drain knows when the server is quiet. Enter
// and the handler's Exit bracket the whole downstream chain.
func ShutdownGate(token *reliability.ShutdownToken) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !token.Enter() {
				JSONError(w, r, errs.E(errs.KindShutdown, "daemon is shutting down"))
				return
			}
			defer token.Exit()
			next.ServeHTTP(w, r)
		})
	}
}
