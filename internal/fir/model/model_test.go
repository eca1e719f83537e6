// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package model

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestStepNext(t *testing.T) {
	order := []Step{StepTranscript, StepSummary, StepViolations, StepNarrative, StepFinalReview, StepCompleted}
	for i := 0; i < len(order)-1; i++ {
		next, ok := order[i].Next()
		if !ok {
			t.Fatalf("%s: expected successor", order[i])
		}
		if next != order[i+1] {
			t.Errorf("%s: got %s, want %s", order[i], next, order[i+1])
		}
	}
	if _, ok := StepCompleted.Next(); ok {
		t.Error("completed must not have a successor")
	}
}

func TestStatusIsTerminal(t *testing.T) {
	if StatusActive.IsTerminal() {
		t.Error("active is not terminal")
	}
	for _, s := range []Status{StatusCompleted, StatusFailed, StatusExpired, StatusCancelled} {
		if !s.IsTerminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
}

func TestNewSessionDefaults(t *testing.T) {
	now := time.Now()
	s := NewSession(SourceText, now)
	if !ValidSessionID(s.ID) {
		t.Fatalf("session id %q is not a canonical UUIDv4", s.ID)
	}
	if s.Status != StatusActive {
		t.Errorf("status = %s, want active", s.Status)
	}
	if s.State.CurrentValidationStep != StepTranscript {
		t.Errorf("step = %s, want transcript", s.State.CurrentValidationStep)
	}
	if s.State.AwaitingValidation {
		t.Error("fresh session must not be awaiting validation")
	}
}

func TestValidSessionID(t *testing.T) {
	cases := []struct {
		id   string
		want bool
	}{
		{uuid.NewString(), true},
		{"not-a-uuid", false},
		{"", false},
		{"00000000-0000-0000-0000-000000000000", false}, // nil UUID is v0
		{"A987FBC9-4BED-4078-8F07-9141BA07C9F3", false}, // uppercase is not canonical
		{"urn:uuid:a987fbc9-4bed-4078-8f07-9141ba07c9f3", false},
	}
	for _, tc := range cases {
		if got := ValidSessionID(tc.id); got != tc.want {
			t.Errorf("ValidSessionID(%q) = %v, want %v", tc.id, got, tc.want)
		}
	}
}

func TestNewFIRNumberGrammar(t *testing.T) {
	now := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		n := NewFIRNumber(now)
		if !ValidFIRNumber(n) {
			t.Fatalf("issued number %q fails grammar", n)
		}
		if seen[n] {
			t.Fatalf("collision after %d numbers: %s", i, n)
		}
		seen[n] = true
	}
}

func TestNewFIRNumberUsesUTC(t *testing.T) {
	loc := time.FixedZone("UTC+5", 5*3600)
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, loc)
	n := NewFIRNumber(now)
	// 03:04:05 +05:00 is 22:04:05 UTC the previous day.
	want := "20260101220405"
	if got := n[len(n)-14:]; got != want {
		t.Errorf("timestamp part = %s, want %s", got, want)
	}
}

func TestValidFIRNumber(t *testing.T) {
	cases := []struct {
		in   string
		want bool
	}{
		{"FIR-0a1b2c3d-20260102030405", true},
		{"FIR-0A1B2C3D-20260102030405", false},
		{"FIR-0a1b2c3-20260102030405", false},
		{"FIR-0a1b2c3d-2026010203040", false},
		{"fir-0a1b2c3d-20260102030405", false},
		{"", false},
	}
	for _, tc := range cases {
		if got := ValidFIRNumber(tc.in); got != tc.want {
			t.Errorf("ValidFIRNumber(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}
