// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldSessionID     = "session_id"
	FieldCorrelationID = "correlation_id"
	FieldRequestID     = "request_id"
	FieldFIRNumber     = "fir_number"

	// Pipeline fields
	FieldEvent     = "event"
	FieldComponent = "component"
	FieldStep      = "step"
	FieldSource    = "source"

	// State fields
	FieldOldState = "old_state"
	FieldNewState = "new_state"
	FieldStatus   = "status"

	// Reliability fields
	FieldDependency = "dependency"
	FieldAttempt    = "attempt"

	// Network fields
	FieldRemoteAddr = "remote_addr"
	FieldPath       = "path"
	FieldMethod     = "method"
)
