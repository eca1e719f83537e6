// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package pipeline

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"path/filepath"

	"github.com/google/renameio/v2"

	"github.com/ManuGH/fird/internal/fir/errs"
	"github.com/ManuGH/fird/internal/fir/lifecycle"
	"github.com/ManuGH/fird/internal/fir/model"
	"github.com/ManuGH/fird/internal/log"
	"github.com/ManuGH/fird/internal/metrics"
)

// Authenticate finalises a draft FIR. The key comparison is constant-time;
// a wrong key changes nothing and is audit-logged. The record update commits
// before the session transition so a crash in between never loses the
// finalisation.
func (o *Orchestrator) Authenticate(ctx context.Context, firNumber, authKey string) (*model.FIRRecord, error) {
	if err := o.draining(); err != nil {
		return nil, err
	}
	if !model.ValidFIRNumber(firNumber) {
		return nil, errs.Ef(errs.KindInvalidInput, "malformed fir number %q", firNumber)
	}

	expected, err := o.keys.Get(ctx, o.cfg.FIRAuthKeyName)
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, err, "resolve authentication key")
	}

	rec, err := o.firs.GetMeta(ctx, firNumber)
	if err != nil {
		return nil, err
	}
	if rec.Status != model.FIRDraft {
		return nil, errs.Ef(errs.KindWrongStep, "fir %s is already %s", firNumber, rec.Status)
	}

	if subtle.ConstantTimeCompare([]byte(authKey), []byte(expected)) != 1 {
		o.auditLog.FIRAuthFailed(ctx, "", firNumber)
		return nil, errs.E(errs.KindUnauthorized, "invalid authentication key")
	}

	now := o.now().UTC()
	sum := sha256.Sum256([]byte(authKey))
	if err := o.firs.Finalize(ctx, firNumber, hex.EncodeToString(sum[:]), now); err != nil {
		return nil, err
	}

	// Session follows the record. If this write fails the FIR stays
	// finalized and the session expires on its own later.
	unlock := o.sessions.Lock(rec.SessionID)
	if _, err := o.sessions.UpdateLocked(ctx, rec.SessionID, func(s *model.Session) error {
		done, terr := lifecycle.Apply(s.State.CurrentValidationStep, lifecycle.EventAuthenticate)
		if terr != nil {
			// The record is already finalized; force the session closed
			// regardless of where it drifted to.
			done = model.StepCompleted
		}
		s.Status = model.StatusCompleted
		s.State.CurrentValidationStep = done
		s.State.AwaitingValidation = false
		return nil
	}); err != nil && !errs.IsKind(err, errs.KindNotFound) {
		o.logger.Error().
			Err(err).
			Str(log.FieldEvent, "pipeline.complete_commit_error").
			Str(log.FieldSessionID, rec.SessionID).
			Str(log.FieldFIRNumber, firNumber).
			Msg("fir finalized but session transition failed")
	}
	unlock()

	metrics.RecordFIRFinalized()
	metrics.RecordStageTransition(string(model.StepFinalReview), string(model.StepCompleted))
	o.auditLog.FIRFinalized(ctx, "", firNumber)
	o.logger.Info().
		Str(log.FieldEvent, "pipeline.finalized").
		Str(log.FieldSessionID, rec.SessionID).
		Str(log.FieldFIRNumber, firNumber).
		Msg("fir finalized")

	o.export(ctx, firNumber)

	return o.firs.GetMeta(ctx, firNumber)
}

// export atomically writes the finalized body for the backup sidecar.
// Failures are logged, never surfaced; the relational store holds the truth.
func (o *Orchestrator) export(ctx context.Context, firNumber string) {
	if o.cfg.ExportDir == "" {
		return
	}
	rec, err := o.firs.GetContent(ctx, firNumber)
	if err == nil {
		path := filepath.Join(o.cfg.ExportDir, firNumber+".txt")
		err = renameio.WriteFile(path, []byte(rec.FIRContent), 0o600)
	}
	if err != nil {
		o.logger.Warn().
			Err(err).
			Str(log.FieldEvent, "pipeline.export_failed").
			Str(log.FieldFIRNumber, firNumber).
			Msg("fir export skipped")
		return
	}
	o.logger.Info().
		Str(log.FieldEvent, "pipeline.exported").
		Str(log.FieldFIRNumber, firNumber).
		Msg("fir body exported")
}
