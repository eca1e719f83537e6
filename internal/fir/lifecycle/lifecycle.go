// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package lifecycle encodes the validation workflow's transition table. The
// orchestrator consults it before mutating a session; anything the table
// does not allow is a wrong-step conflict.
package lifecycle

import (
	"github.com/ManuGH/fird/internal/fir/errs"
	"github.com/ManuGH/fird/internal/fir/model"
)

// EventKind is a client-driven workflow event.
type EventKind string

const (
	EventApprove      EventKind = "approve"
	EventReject       EventKind = "reject"
	EventRegenerate   EventKind = "regenerate"
	EventAuthenticate EventKind = "authenticate"
)

// Transition is one allowed edge of the workflow state machine.
type Transition struct {
	From  model.Step
	Event EventKind
	To    model.Step
}

// A rejected validation is equivalent to a regenerate of the current step,
// so reject edges mirror the regenerate edges.
var transitionsTable = []Transition{
	{From: model.StepTranscript, Event: EventApprove, To: model.StepSummary},
	{From: model.StepTranscript, Event: EventReject, To: model.StepTranscript},
	{From: model.StepTranscript, Event: EventRegenerate, To: model.StepTranscript},

	{From: model.StepSummary, Event: EventApprove, To: model.StepViolations},
	{From: model.StepSummary, Event: EventReject, To: model.StepSummary},
	{From: model.StepSummary, Event: EventRegenerate, To: model.StepSummary},

	{From: model.StepViolations, Event: EventApprove, To: model.StepNarrative},
	{From: model.StepViolations, Event: EventReject, To: model.StepViolations},
	{From: model.StepViolations, Event: EventRegenerate, To: model.StepViolations},

	{From: model.StepNarrative, Event: EventApprove, To: model.StepFinalReview},
	{From: model.StepNarrative, Event: EventReject, To: model.StepNarrative},
	{From: model.StepNarrative, Event: EventRegenerate, To: model.StepNarrative},

	{From: model.StepFinalReview, Event: EventAuthenticate, To: model.StepCompleted},
}

// TransitionFor returns the allowed transition for a given step+event.
func TransitionFor(from model.Step, ev EventKind) (Transition, bool) {
	for _, tr := range transitionsTable {
		if tr.From == from && tr.Event == ev {
			return tr, true
		}
	}
	return Transition{}, false
}

// CanAct reports whether ev is admissible on the given step.
func CanAct(from model.Step, ev EventKind) bool {
	_, ok := TransitionFor(from, ev)
	return ok
}

// Apply resolves the successor step or a WrongStep error.
func Apply(from model.Step, ev EventKind) (model.Step, error) {
	tr, ok := TransitionFor(from, ev)
	if !ok {
		return "", errs.Ef(errs.KindWrongStep, "event %s not allowed on step %s", ev, from)
	}
	return tr.To, nil
}
