// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package pipeline

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/ManuGH/fird/internal/fir/errs"
	"github.com/ManuGH/fird/internal/fir/kb"
	"github.com/ManuGH/fird/internal/fir/lifecycle"
	"github.com/ManuGH/fird/internal/fir/model"
	"github.com/ManuGH/fird/internal/log"
	"github.com/ManuGH/fird/internal/metrics"
	"github.com/ManuGH/fird/internal/modelclient"
	"github.com/ManuGH/fird/internal/store/firsql"
)

const (
	// violationFanout is how many top KB hits get a violation check.
	violationFanout = 10
	// allocationAttempts bounds FIR number collisions retries.
	allocationAttempts = 3
)

// Validate handles the client's verdict on the current stage artifact.
// Approval advances the machine and produces the next artifact; rejection
// is equivalent to regeneration of the current one.
func (o *Orchestrator) Validate(ctx context.Context, sessionID string, approved bool, userInput string) (*model.Session, error) {
	if err := o.draining(); err != nil {
		return nil, err
	}

	unlock := o.sessions.Lock(sessionID)
	defer unlock()

	sess, err := o.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := guardActive(sess); err != nil {
		return nil, err
	}

	if approved && o.isReplay(sess, approved, userInput) {
		o.logger.Debug().
			Str(log.FieldSessionID, sess.ID).
			Str(log.FieldEvent, "pipeline.replay").
			Msg("duplicate validate request; returning current state")
		return sess, nil
	}

	if !approved {
		sess, _, err = o.regenerateLocked(ctx, sess, userInput)
		return sess, err
	}
	return o.advanceLocked(ctx, sess, userInput)
}

// Regenerate redoes the current stage artifact without advancing. The bool
// reports whether anything was actually regenerated; a text-source
// transcript has nothing to redo.
func (o *Orchestrator) Regenerate(ctx context.Context, sessionID, userInput string) (*model.Session, bool, error) {
	if err := o.draining(); err != nil {
		return nil, false, err
	}

	unlock := o.sessions.Lock(sessionID)
	defer unlock()

	sess, err := o.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, false, err
	}
	if err := guardActive(sess); err != nil {
		return nil, false, err
	}
	return o.regenerateLocked(ctx, sess, userInput)
}

// isReplay detects a repeated validate after a successful advance: the
// payload matches the last history record and the current stage's artifact
// already exists. Payloads without user input are indistinguishable from a
// genuine next approval, so only distinctive payloads short-circuit.
func (o *Orchestrator) isReplay(sess *model.Session, approved bool, userInput string) bool {
	if userInput == "" || len(sess.ValidationHistory) == 0 {
		return false
	}
	last := sess.ValidationHistory[len(sess.ValidationHistory)-1]
	if last.Approved != approved || last.UserInput != userInput {
		return false
	}
	next, err := lifecycle.Apply(last.Step, lifecycle.EventApprove)
	if err != nil || next != sess.State.CurrentValidationStep {
		return false
	}
	return artifactPresent(&sess.State)
}

// artifactPresent reports whether the current stage already has its artifact.
func artifactPresent(st *model.State) bool {
	switch st.CurrentValidationStep {
	case model.StepTranscript:
		return st.Transcript != ""
	case model.StepSummary:
		return st.Summary != ""
	case model.StepViolations:
		return st.TopHits != nil
	case model.StepNarrative:
		return st.Narrative != ""
	case model.StepFinalReview:
		return st.FIRNumber != ""
	default:
		return false
	}
}

// advanceLocked produces the successor artifact and commits the transition.
// Caller holds the session lock.
func (o *Orchestrator) advanceLocked(ctx context.Context, sess *model.Session, userInput string) (*model.Session, error) {
	from := sess.State.CurrentValidationStep
	start := o.now()

	to, terr := lifecycle.Apply(from, lifecycle.EventApprove)
	if terr != nil {
		if from == model.StepFinalReview {
			return nil, errs.Ef(errs.KindWrongStep, "step %s awaits authentication, not validation", from)
		}
		return nil, terr
	}

	var apply func(st *model.State)
	var err error

	switch from {
	case model.StepTranscript:
		transcript := sess.State.Transcript
		if userInput != "" {
			transcript = userInput
		}
		var summary string
		summary, err = o.models.Summarise(ctx, transcript)
		apply = func(st *model.State) {
			st.Transcript = transcript
			st.Summary = summary
		}

	case model.StepSummary:
		summary := sess.State.Summary
		if userInput != "" {
			summary = userInput
		}
		var hits []model.KBHit
		hits, err = o.kb.Query(ctx, summary, kb.DefaultK)
		var violations []model.Violation
		if err == nil {
			top := kb.TopM(hits, violationFanout)
			violations = o.checkViolations(ctx, summary, top)
			apply = func(st *model.State) {
				st.Summary = summary
				st.TopHits = top
				st.Violations = violations
			}
		}

	case model.StepViolations:
		var narrative string
		narrative, err = o.models.Narrate(ctx, sess.State.Summary, sess.State.Violations)
		apply = func(st *model.State) {
			st.Narrative = narrative
		}

	case model.StepNarrative:
		var firNumber string
		firNumber, err = o.finaliseDraft(ctx, sess)
		apply = func(st *model.State) {
			st.FIRNumber = firNumber
		}
	}

	if err != nil {
		if !transient(err) {
			o.failSession(ctx, sess.ID, err)
		}
		return nil, err
	}

	updated, err := o.sessions.UpdateLocked(ctx, sess.ID, func(s *model.Session) error {
		if s.Status != model.StatusActive || s.State.CurrentValidationStep != from {
			return errs.Ef(errs.KindWrongStep, "session moved to %s", s.State.CurrentValidationStep)
		}
		apply(&s.State)
		s.State.CurrentValidationStep = to
		s.State.AwaitingValidation = true
		s.ValidationHistory = append(s.ValidationHistory, model.ValidationRecord{
			Step:      from,
			Approved:  true,
			UserInput: userInput,
			At:        o.now().UTC(),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.RecordStageTransition(string(from), string(to))
	metrics.ObserveStageDuration(string(to), o.now().Sub(start))
	o.logger.Info().
		Str(log.FieldEvent, "pipeline.advance").
		Str(log.FieldSessionID, sess.ID).
		Str(log.FieldOldState, string(from)).
		Str(log.FieldNewState, string(to)).
		Msg("stage approved")
	return updated, nil
}

// regenerateLocked redoes the current artifact in place. Caller holds the
// session lock.
func (o *Orchestrator) regenerateLocked(ctx context.Context, sess *model.Session, userInput string) (*model.Session, bool, error) {
	step := sess.State.CurrentValidationStep
	start := o.now()

	if !lifecycle.CanAct(step, lifecycle.EventRegenerate) {
		return nil, false, errs.Ef(errs.KindWrongStep, "step %s cannot be regenerated", step)
	}

	var apply func(st *model.State)
	var err error

	switch step {
	case model.StepTranscript:
		if sess.State.SourceKind == model.SourceText {
			// Nothing to redo; the text is the transcript.
			return sess, false, nil
		}
		var transcript string
		if sess.State.SourceKind == model.SourceAudio {
			transcript, err = o.models.TranscribeAudio(ctx, sess.State.SourceData, sess.State.SourceFilename, sess.State.SourceMIME)
		} else {
			transcript, err = o.models.OCRImage(ctx, sess.State.SourceData, sess.State.SourceFilename, sess.State.SourceMIME)
		}
		apply = func(st *model.State) { st.Transcript = transcript }

	case model.StepSummary:
		text := sess.State.Transcript
		if userInput != "" {
			text = fmt.Sprintf("%s\n\nCorrection from the complainant: %s", text, userInput)
		}
		var summary string
		summary, err = o.models.Summarise(ctx, text)
		apply = func(st *model.State) { st.Summary = summary }

	case model.StepViolations:
		var hits []model.KBHit
		hits, err = o.kb.Query(ctx, sess.State.Summary, kb.DefaultK)
		if err == nil {
			top := kb.TopM(hits, violationFanout)
			violations := o.checkViolations(ctx, sess.State.Summary, top)
			apply = func(st *model.State) {
				st.TopHits = top
				st.Violations = violations
			}
		}

	case model.StepNarrative:
		var narrative string
		narrative, err = o.models.Narrate(ctx, sess.State.Summary, sess.State.Violations)
		apply = func(st *model.State) { st.Narrative = narrative }
	}

	if err != nil {
		if !transient(err) {
			o.failSession(ctx, sess.ID, err)
		}
		return nil, false, err
	}

	updated, err := o.sessions.UpdateLocked(ctx, sess.ID, func(s *model.Session) error {
		if s.Status != model.StatusActive || s.State.CurrentValidationStep != step {
			return errs.Ef(errs.KindWrongStep, "session moved to %s", s.State.CurrentValidationStep)
		}
		apply(&s.State)
		s.State.AwaitingValidation = true
		s.ValidationHistory = append(s.ValidationHistory, model.ValidationRecord{
			Step:      step,
			Approved:  false,
			UserInput: userInput,
			At:        o.now().UTC(),
		})
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	metrics.RecordRegeneration(string(step))
	metrics.ObserveStageDuration(string(step), o.now().Sub(start))
	o.logger.Info().
		Str(log.FieldEvent, "pipeline.regenerate").
		Str(log.FieldSessionID, sess.ID).
		Str(log.FieldStep, string(step)).
		Msg("stage artifact regenerated")
	return updated, true, nil
}

// checkViolations fans CheckViolation out over the top hits. Results are
// slotted by index so the kept violations preserve the original hit order;
// a failed check conservatively counts as no violation.
func (o *Orchestrator) checkViolations(ctx context.Context, summary string, hits []model.KBHit) []model.Violation {
	results := make([]bool, len(hits))
	g, gctx := errgroup.WithContext(ctx)

	for i, hit := range hits {
		g.Go(func() error {
			violated, err := o.models.CheckViolation(gctx, summary, hit.Text)
			if err != nil {
				metrics.RecordViolationCheck("error")
				o.logger.Warn().
					Err(err).
					Str(log.FieldEvent, "pipeline.violation_check_failed").
					Str("reference", hit.Reference).
					Msg("treating failed check as no violation")
				return nil
			}
			if violated {
				metrics.RecordViolationCheck("violation")
			} else {
				metrics.RecordViolationCheck("clear")
			}
			results[i] = violated
			return nil
		})
	}
	_ = g.Wait()

	violations := make([]model.Violation, 0, len(hits))
	for i, hit := range hits {
		if results[i] {
			violations = append(violations, model.Violation{Text: hit.Text, Reference: hit.Reference})
		}
	}
	return violations
}

// finaliseDraft renders the FIR body, allocates a number and inserts the
// draft record. The draft commit precedes the session transition; a crash
// in between leaves an unreferenced draft, which a later attempt tolerates.
func (o *Orchestrator) finaliseDraft(ctx context.Context, sess *model.Session) (string, error) {
	var lastErr error
	for attempt := 0; attempt < allocationAttempts; attempt++ {
		firNumber := model.NewFIRNumber(o.now())

		body, err := o.models.Finalise(ctx, modelclient.FinaliseInput{
			FIRNumber:  firNumber,
			Summary:    sess.State.Summary,
			Violations: sess.State.Violations,
			Narrative:  sess.State.Narrative,
		})
		if err != nil {
			return "", err
		}

		err = o.firs.InsertDraft(ctx, &model.FIRRecord{
			FIRNumber:  firNumber,
			SessionID:  sess.ID,
			Status:     model.FIRDraft,
			FIRContent: body,
			CreatedAt:  o.now().UTC(),
		})
		if err == nil {
			o.logger.Info().
				Str(log.FieldEvent, "pipeline.draft_inserted").
				Str(log.FieldSessionID, sess.ID).
				Str(log.FieldFIRNumber, firNumber).
				Msg("draft FIR allocated")
			return firNumber, nil
		}
		if !errors.Is(err, firsql.ErrDuplicateFIRNumber) {
			return "", errs.Wrap(errs.KindInternal, err, "insert draft fir")
		}
		metrics.RecordFIRAllocationRetry()
		lastErr = err
	}
	return "", errs.Wrap(errs.KindInternal, lastErr, fmt.Sprintf("fir number allocation exhausted after %d attempts", allocationAttempts))
}
