// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Attribute keys shared across spans so traces stay queryable.
const (
	SessionIDKey = "fir.session_id"
	StepKey      = "fir.step"
	FIRNumberKey = "fir.number"
	SourceKey    = "fir.source"

	ModelOpKey    = "model.op"
	DependencyKey = "model.dependency"
	AttemptKey    = "model.attempt"
	KBHitCountKey = "kb.hit_count"
	CacheHitKey   = "cache.hit"
	ErrorKey      = "error"
	ErrorKindKey  = "error.kind"
	HTTPStatusKey = "http.status_code"
	HTTPRouteKey  = "http.route"
	HTTPMethodKey = "http.method"
)

// StageAttributes annotates a span with the pipeline position.
func StageAttributes(sessionID, step string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(SessionIDKey, sessionID),
		attribute.String(StepKey, step),
	}
}

// ModelCallAttributes annotates an outbound inference span.
func ModelCallAttributes(dependency, op string, attempt int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(DependencyKey, dependency),
		attribute.String(ModelOpKey, op),
		attribute.Int(AttemptKey, attempt),
	}
}

// ErrorAttributes marks a span failed with its kind.
func ErrorAttributes(kind string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Bool(ErrorKey, true),
		attribute.String(ErrorKindKey, kind),
	}
}
