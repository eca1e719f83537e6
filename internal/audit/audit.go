// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package audit provides structured audit logging for security-sensitive
// operations. It follows the WHO/WHAT/WHEN pattern for compliance and
// forensics. Records never contain the offending credential.
package audit

import (
	"context"
	"time"

	"github.com/ManuGH/fird/internal/log"
	"github.com/rs/zerolog"
)

// EventType represents the type of audit event.
type EventType string

const (
	// Authentication events
	EventAuthSuccess EventType = "auth.success"
	EventAuthFailure EventType = "auth.failure"
	EventAuthMissing EventType = "auth.missing"

	// FIR finalisation events
	EventFIRFinalized  EventType = "fir.finalized"
	EventFIRAuthFailed EventType = "fir.auth_failed"

	// API access events
	EventAPIRateLimit EventType = "api.ratelimit"

	// Reliability operator actions
	EventBreakerReset    EventType = "breaker.reset"
	EventRecoveryTrigger EventType = "recovery.trigger"
)

// Event represents a structured audit event.
type Event struct {
	Timestamp  time.Time         `json:"timestamp"`
	Type       EventType         `json:"type"`
	Actor      string            `json:"actor"`             // WHO: client IP or "system"
	Action     string            `json:"action"`            // WHAT: human-readable action
	Resource   string            `json:"resource"`          // path, FIR number, breaker name
	Result     string            `json:"result"`            // success, failure, denied
	RemoteAddr string            `json:"remote_addr"`       // Client IP address
	RequestID  string            `json:"request_id"`        // Correlation ID
	Details    map[string]string `json:"details,omitempty"` // Additional context
}

// Logger writes audit events through the structured log with a dedicated
// marker so the records can be filtered into a separate sink.
type Logger struct {
	logger zerolog.Logger
}

// NewLogger creates an audit logger with a dedicated "audit" component.
func NewLogger() *Logger {
	auditLogger := log.WithComponent("audit").With().
		Str("log_type", "audit").
		Logger()
	return &Logger{logger: auditLogger}
}

// Log writes one audit event.
func (l *Logger) Log(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	logEvent := l.logger.Info().
		Time("timestamp", event.Timestamp).
		Str("event_type", string(event.Type)).
		Str("actor", event.Actor).
		Str("action", event.Action).
		Str("resource", event.Resource).
		Str("result", event.Result)

	if event.RemoteAddr != "" {
		logEvent.Str("remote_addr", event.RemoteAddr)
	}
	if event.RequestID != "" {
		logEvent.Str("request_id", event.RequestID)
	}
	for key, value := range event.Details {
		logEvent.Str(key, value)
	}

	logEvent.Msg("audit event")
}

// LogFromContext fills the request ID from the context before logging.
func (l *Logger) LogFromContext(ctx context.Context, event Event) {
	if event.RequestID == "" {
		event.RequestID = log.RequestIDFromContext(ctx)
	}
	l.Log(event)
}

// AuthFailure records a rejected API credential. The credential itself is
// never logged.
func (l *Logger) AuthFailure(ctx context.Context, remoteAddr, path string) {
	l.LogFromContext(ctx, Event{
		Type:       EventAuthFailure,
		Actor:      remoteAddr,
		Action:     "api authentication",
		Resource:   path,
		Result:     "denied",
		RemoteAddr: remoteAddr,
	})
}

// RateLimited records a sliding-window rejection.
func (l *Logger) RateLimited(ctx context.Context, remoteAddr, path string) {
	l.LogFromContext(ctx, Event{
		Type:       EventAPIRateLimit,
		Actor:      remoteAddr,
		Action:     "request rate limited",
		Resource:   path,
		Result:     "denied",
		RemoteAddr: remoteAddr,
	})
}

// FIRFinalized records a successful finalisation.
func (l *Logger) FIRFinalized(ctx context.Context, remoteAddr, firNumber string) {
	l.LogFromContext(ctx, Event{
		Type:       EventFIRFinalized,
		Actor:      remoteAddr,
		Action:     "fir finalised",
		Resource:   firNumber,
		Result:     "success",
		RemoteAddr: remoteAddr,
	})
}

// FIRAuthFailed records a wrong finalisation key.
func (l *Logger) FIRAuthFailed(ctx context.Context, remoteAddr, firNumber string) {
	l.LogFromContext(ctx, Event{
		Type:       EventFIRAuthFailed,
		Actor:      remoteAddr,
		Action:     "fir finalisation key rejected",
		Resource:   firNumber,
		Result:     "denied",
		RemoteAddr: remoteAddr,
	})
}

// BreakerReset records an operator forcing a breaker closed.
func (l *Logger) BreakerReset(ctx context.Context, remoteAddr, name string) {
	l.LogFromContext(ctx, Event{
		Type:       EventBreakerReset,
		Actor:      remoteAddr,
		Action:     "circuit breaker reset",
		Resource:   name,
		Result:     "success",
		RemoteAddr: remoteAddr,
	})
}

// RecoveryTriggered records an operator-forced recovery cycle.
func (l *Logger) RecoveryTriggered(ctx context.Context, remoteAddr, name, result string) {
	l.LogFromContext(ctx, Event{
		Type:       EventRecoveryTrigger,
		Actor:      remoteAddr,
		Action:     "auto-recovery triggered",
		Resource:   name,
		Result:     result,
		RemoteAddr: remoteAddr,
	})
}
