// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package errs defines the typed error kinds every internal operation
// propagates. Only the outermost HTTP layer translates kinds into status
// codes; everything below passes errors up unchanged.
package errs

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Kind classifies an error for transport mapping and retry decisions.
type Kind string

const (
	KindInvalidInput  Kind = "invalid_input"
	KindUnauthorized  Kind = "unauthorized"
	KindNotFound      Kind = "not_found"
	KindWrongStep     Kind = "wrong_step"
	KindRateLimited   Kind = "rate_limited"
	KindCircuitOpen   Kind = "circuit_open"
	KindTimeout       Kind = "timeout"
	KindEmptyResponse Kind = "empty_response"
	KindInternal      Kind = "internal"
	KindShutdown      Kind = "shutdown"
)

// HTTPStatus maps a kind to its response status code.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindInvalidInput:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindNotFound:
		return http.StatusNotFound
	case KindWrongStep:
		return http.StatusConflict
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindCircuitOpen, KindShutdown:
		return http.StatusServiceUnavailable
	case KindTimeout:
		return http.StatusGatewayTimeout
	case KindEmptyResponse:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Error carries a kind alongside the message and an optional cause.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	case e.Msg != "":
		return e.Msg
	case e.Err != nil:
		return e.Err.Error()
	default:
		return string(e.Kind)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// E builds a typed error with a static message.
func E(kind Kind, msg string) error {
	return &Error{Kind: kind, Msg: msg}
}

// Ef builds a typed error with a formatted message.
func Ef(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to an underlying error. A nil cause
// yields nil so call sites can wrap unconditionally.
func Wrap(kind Kind, err error, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf classifies any error. Typed errors report their kind; context
// deadline and cancellation map to Timeout; everything else is Internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	if errors.Is(err, context.Canceled) {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}
	return KindInternal
}

// IsKind reports whether err classifies as the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Retryable reports whether the retry policy may re-attempt after err.
// Circuit-open short-circuits the loop; client faults are final; timeouts,
// empty upstream bodies and transport faults are worth another attempt.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	switch KindOf(err) {
	case KindTimeout, KindEmptyResponse:
		return true
	case KindCircuitOpen, KindInvalidInput, KindUnauthorized, KindNotFound,
		KindWrongStep, KindRateLimited, KindShutdown:
		return false
	}
	var e *Error
	if errors.As(err, &e) {
		// Typed Internal errors already exhausted their local handling.
		return false
	}
	// Untyped errors at retry sites are transport faults.
	return true
}
