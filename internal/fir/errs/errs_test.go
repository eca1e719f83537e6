// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package errs

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		kind Kind
		want int
	}{
		{KindInvalidInput, http.StatusBadRequest},
		{KindUnauthorized, http.StatusUnauthorized},
		{KindNotFound, http.StatusNotFound},
		{KindWrongStep, http.StatusConflict},
		{KindRateLimited, http.StatusTooManyRequests},
		{KindCircuitOpen, http.StatusServiceUnavailable},
		{KindTimeout, http.StatusGatewayTimeout},
		{KindEmptyResponse, http.StatusBadGateway},
		{KindInternal, http.StatusInternalServerError},
		{KindShutdown, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		if got := tt.kind.HTTPStatus(); got != tt.want {
			t.Errorf("%s.HTTPStatus() = %d, want %d", tt.kind, got, tt.want)
		}
	}
}

func TestKindOf(t *testing.T) {
	if got := KindOf(E(KindWrongStep, "not your turn")); got != KindWrongStep {
		t.Errorf("KindOf typed = %s, want wrong_step", got)
	}
	wrapped := fmt.Errorf("outer: %w", E(KindNotFound, "no such session"))
	if got := KindOf(wrapped); got != KindNotFound {
		t.Errorf("KindOf wrapped = %s, want not_found", got)
	}
	if got := KindOf(context.DeadlineExceeded); got != KindTimeout {
		t.Errorf("KindOf deadline = %s, want timeout", got)
	}
	if got := KindOf(errors.New("mystery")); got != KindInternal {
		t.Errorf("KindOf untyped = %s, want internal", got)
	}
	if got := KindOf(nil); got != Kind("") {
		t.Errorf("KindOf(nil) = %s, want empty", got)
	}
}

func TestWrapNilIsNil(t *testing.T) {
	if err := Wrap(KindInternal, nil, "whatever"); err != nil {
		t.Errorf("Wrap(nil) = %v, want nil", err)
	}
}

func TestUnwrapChain(t *testing.T) {
	cause := errors.New("tcp reset")
	err := Wrap(KindTimeout, cause, "model call")
	if !errors.Is(err, cause) {
		t.Error("wrapped error must expose its cause via errors.Is")
	}
	if err.Error() != "model call: tcp reset" {
		t.Errorf("Error() = %q", err.Error())
	}
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"timeout", E(KindTimeout, "slow"), true},
		{"empty response", E(KindEmptyResponse, "blank body"), true},
		{"circuit open", E(KindCircuitOpen, "open"), false},
		{"invalid input", E(KindInvalidInput, "bad"), false},
		{"rate limited", E(KindRateLimited, "upstream 429"), false},
		{"shutdown", E(KindShutdown, "draining"), false},
		{"typed internal", E(KindInternal, "constraint"), false},
		{"untyped transport", errors.New("connection refused"), true},
		{"context canceled", context.Canceled, false},
		{"nil", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Retryable(tt.err); got != tt.want {
				t.Errorf("Retryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
