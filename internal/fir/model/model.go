// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package model defines the persistent and transient data shapes of the FIR
// pipeline: sessions, their stage state, validation history and the final
// FIR record.
package model

import (
	"time"

	"github.com/google/uuid"
)

// Step is one state of the validation workflow.
type Step string

const (
	StepTranscript  Step = "transcript"
	StepSummary     Step = "summary"
	StepViolations  Step = "violations"
	StepNarrative   Step = "narrative"
	StepFinalReview Step = "final_review"
	StepCompleted   Step = "completed"
)

// Next returns the successor step. Completed has no successor.
func (s Step) Next() (Step, bool) {
	switch s {
	case StepTranscript:
		return StepSummary, true
	case StepSummary:
		return StepViolations, true
	case StepViolations:
		return StepNarrative, true
	case StepNarrative:
		return StepFinalReview, true
	case StepFinalReview:
		return StepCompleted, true
	default:
		return "", false
	}
}

// Valid reports whether s is a known workflow step.
func (s Step) Valid() bool {
	switch s {
	case StepTranscript, StepSummary, StepViolations, StepNarrative,
		StepFinalReview, StepCompleted:
		return true
	}
	return false
}

// Status is the session lifecycle status.
type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusExpired   Status = "expired"
	StatusCancelled Status = "cancelled"
)

// IsTerminal reports whether the status admits no further mutation.
func (s Status) IsTerminal() bool {
	return s != StatusActive
}

// SourceKind records what the complaint arrived as. Transcript regeneration
// only makes sense for audio and image sources.
type SourceKind string

const (
	SourceText  SourceKind = "text"
	SourceAudio SourceKind = "audio"
	SourceImage SourceKind = "image"
)

// KBHit is one knowledge-base result: a candidate legal text plus its
// citation reference.
type KBHit struct {
	Text      string `json:"text"`
	Reference string `json:"reference"`
}

// Violation is a KB hit the model confirmed as violated. Order follows the
// original hit order.
type Violation struct {
	Text      string `json:"text"`
	Reference string `json:"reference"`
}

// State is the stage machine's working memory. Artifacts live here only;
// they are not persisted independently.
type State struct {
	CurrentValidationStep Step       `json:"current_validation_step"`
	AwaitingValidation    bool       `json:"awaiting_validation"`
	SourceKind            SourceKind `json:"source_kind"`

	// Original upload, kept so transcript regeneration can redo the
	// transcription. Empty for text complaints.
	SourceData     []byte `json:"source_data,omitempty"`
	SourceFilename string `json:"source_filename,omitempty"`
	SourceMIME     string `json:"source_mime,omitempty"`

	Transcript string      `json:"transcript,omitempty"`
	Summary    string      `json:"summary,omitempty"`
	TopHits    []KBHit     `json:"top_hits,omitempty"`
	Violations []Violation `json:"violations,omitempty"`
	Narrative  string      `json:"narrative,omitempty"`
	FIRNumber  string      `json:"fir_number,omitempty"`
}

// ValidationRecord is one entry of the ordered validation history.
type ValidationRecord struct {
	Step      Step      `json:"step"`
	Approved  bool      `json:"approved"`
	UserInput string    `json:"user_input,omitempty"`
	At        time.Time `json:"at"`
}

// Session is the per-client workflow container.
type Session struct {
	ID                string             `json:"id"`
	Status            Status             `json:"status"`
	State             State              `json:"state"`
	ValidationHistory []ValidationRecord `json:"validation_history"`
	CreatedAt         time.Time          `json:"created_at"`
	LastActivity      time.Time          `json:"last_activity"`
}

// NewSession allocates a fresh active session on the transcript step.
func NewSession(source SourceKind, now time.Time) *Session {
	return &Session{
		ID:     uuid.NewString(),
		Status: StatusActive,
		State: State{
			CurrentValidationStep: StepTranscript,
			SourceKind:            source,
		},
		CreatedAt:    now,
		LastActivity: now,
	}
}

// ValidSessionID reports whether s is a canonical UUIDv4.
func ValidSessionID(s string) bool {
	id, err := uuid.Parse(s)
	if err != nil {
		return false
	}
	// uuid.Parse accepts URN and braced forms; require the canonical one.
	if id.String() != s {
		return false
	}
	return id.Version() == 4
}

// FIRStatus is the record status in the relational store.
type FIRStatus string

const (
	FIRDraft     FIRStatus = "draft"
	FIRFinalized FIRStatus = "finalized"
)

// FIRRecord is the persisted FIR row.
type FIRRecord struct {
	FIRNumber   string     `json:"fir_number" db:"fir_number"`
	SessionID   string     `json:"session_id" db:"session_id"`
	Status      FIRStatus  `json:"status" db:"status"`
	FIRContent  string     `json:"fir_content,omitempty" db:"fir_content"`
	AuthKeyHash string     `json:"-" db:"auth_key_hash"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	FinalizedAt *time.Time `json:"finalized_at,omitempty" db:"finalized_at"`
}
