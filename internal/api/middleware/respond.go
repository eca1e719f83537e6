// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package middleware implements the request gate in front of the FIR
// handlers: security headers, CORS, API-key authentication, per-IP rate
// limiting, the shutdown gate and request tracking, plus the ambient
// observability layers (recoverer, request id, logging, metrics, tracing).
package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/ManuGH/fird/internal/fir/errs"
	"github.com/ManuGH/fird/internal/log"
)

// JSON writes v with the given status code.
func JSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// errorBody is the uniform error response shape.
type errorBody struct {
	Error     string `json:"error"`
	Kind      string `json:"kind"`
	RequestID string `json:"request_id,omitempty"`
}

// JSONError maps a typed error to its status code and the uniform body.
// Internal causes are not leaked: a 500 carries a generic message.
func JSONError(w http.ResponseWriter, r *http.Request, err error) {
	kind := errs.KindOf(err)
	status := kind.HTTPStatus()

	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	JSON(w, status, errorBody{
		Error:     msg,
		Kind:      string(kind),
		RequestID: log.RequestIDFromContext(r.Context()),
	})
}
