// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package log

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
)

func TestContextRoundTrip(t *testing.T) {
	ctx := context.Background()

	ctx = ContextWithRequestID(ctx, "req-1")
	ctx = ContextWithCorrelationID(ctx, "corr-1")
	ctx = ContextWithSessionID(ctx, "sess-1")

	if got := RequestIDFromContext(ctx); got != "req-1" {
		t.Errorf("request id = %q, want req-1", got)
	}
	if got := CorrelationIDFromContext(ctx); got != "corr-1" {
		t.Errorf("correlation id = %q, want corr-1", got)
	}
	if got := SessionIDFromContext(ctx); got != "sess-1" {
		t.Errorf("session id = %q, want sess-1", got)
	}
}

func TestContextAccessorsNilSafe(t *testing.T) {
	//nolint:staticcheck // explicit nil context is the case under test
	if got := RequestIDFromContext(nil); got != "" {
		t.Errorf("expected empty request id for nil context, got %q", got)
	}
	if got := SessionIDFromContext(context.Background()); got != "" {
		t.Errorf("expected empty session id, got %q", got)
	}
}

func TestWithContextEnrichment(t *testing.T) {
	var buf bytes.Buffer
	base := zerolog.New(&buf)

	ctx := ContextWithRequestID(context.Background(), "req-9")
	ctx = ContextWithSessionID(ctx, "sess-9")

	WithContext(ctx, base).Info().Msg("hello")

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("unmarshal log line: %v", err)
	}
	if record[FieldRequestID] != "req-9" {
		t.Errorf("request_id = %v, want req-9", record[FieldRequestID])
	}
	if record[FieldSessionID] != "sess-9" {
		t.Errorf("session_id = %v, want sess-9", record[FieldSessionID])
	}
}

func TestWithContextNoFieldsReturnsSameLogger(t *testing.T) {
	var buf bytes.Buffer
	base := zerolog.New(&buf)

	WithContext(context.Background(), base).Info().Msg("plain")

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("unmarshal log line: %v", err)
	}
	if _, ok := record[FieldRequestID]; ok {
		t.Error("unexpected request_id field on bare context")
	}
}
