// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package lifecycle

import (
	"testing"

	"github.com/ManuGH/fird/internal/fir/errs"
	"github.com/ManuGH/fird/internal/fir/model"
)

func TestApproveAdvancesMonotonically(t *testing.T) {
	cases := []struct {
		from model.Step
		want model.Step
	}{
		{model.StepTranscript, model.StepSummary},
		{model.StepSummary, model.StepViolations},
		{model.StepViolations, model.StepNarrative},
		{model.StepNarrative, model.StepFinalReview},
	}
	for _, tc := range cases {
		got, err := Apply(tc.from, EventApprove)
		if err != nil {
			t.Fatalf("approve on %s: %v", tc.from, err)
		}
		if got != tc.want {
			t.Errorf("approve on %s = %s, want %s", tc.from, got, tc.want)
		}
	}
}

func TestRejectEqualsRegenerate(t *testing.T) {
	for _, step := range []model.Step{
		model.StepTranscript, model.StepSummary, model.StepViolations, model.StepNarrative,
	} {
		rejTo, err := Apply(step, EventReject)
		if err != nil {
			t.Fatalf("reject on %s: %v", step, err)
		}
		regTo, err := Apply(step, EventRegenerate)
		if err != nil {
			t.Fatalf("regenerate on %s: %v", step, err)
		}
		if rejTo != step || regTo != step {
			t.Errorf("%s: reject→%s regenerate→%s, both must stay put", step, rejTo, regTo)
		}
	}
}

func TestAuthenticateOnlyFromFinalReview(t *testing.T) {
	got, err := Apply(model.StepFinalReview, EventAuthenticate)
	if err != nil || got != model.StepCompleted {
		t.Fatalf("authenticate on final_review = (%s, %v), want completed", got, err)
	}
	for _, step := range []model.Step{
		model.StepTranscript, model.StepSummary, model.StepViolations,
		model.StepNarrative, model.StepCompleted,
	} {
		if _, err := Apply(step, EventAuthenticate); !errs.IsKind(err, errs.KindWrongStep) {
			t.Errorf("authenticate on %s: got %v, want WrongStep", step, err)
		}
	}
}

func TestTerminalStepAdmitsNothing(t *testing.T) {
	for _, ev := range []EventKind{EventApprove, EventReject, EventRegenerate, EventAuthenticate} {
		if CanAct(model.StepCompleted, ev) {
			t.Errorf("completed must not admit %s", ev)
		}
	}
}

func TestNoApproveSkipsSteps(t *testing.T) {
	// Every approve edge must target the immediate successor.
	for _, tr := range transitionsTable {
		if tr.Event != EventApprove {
			continue
		}
		next, ok := tr.From.Next()
		if !ok || next != tr.To {
			t.Errorf("approve edge %s→%s skips a step", tr.From, tr.To)
		}
	}
}
