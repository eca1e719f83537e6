// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package pipeline drives the five-stage FIR workflow: transcript, summary,
// violations, narrative, final review. Between stages it suspends until the
// client approves or rejects; approval advances, rejection regenerates. All
// state mutations for one session serialise through the session manager's
// lock, and the store commit is the last thing each operation does.
package pipeline

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/fird/internal/audit"
	"github.com/ManuGH/fird/internal/fir/errs"
	"github.com/ManuGH/fird/internal/fir/model"
	"github.com/ManuGH/fird/internal/fir/session"
	"github.com/ManuGH/fird/internal/log"
	"github.com/ManuGH/fird/internal/metrics"
	"github.com/ManuGH/fird/internal/modelclient"
	"github.com/ManuGH/fird/internal/reliability"
	"github.com/ManuGH/fird/internal/secrets"
)

// ModelOps is the slice of the model client the orchestrator uses.
type ModelOps interface {
	Summarise(ctx context.Context, text string) (string, error)
	CheckViolation(ctx context.Context, summary, legalText string) (bool, error)
	Narrate(ctx context.Context, summary string, violations []model.Violation) (string, error)
	Finalise(ctx context.Context, in modelclient.FinaliseInput) (string, error)
	TranscribeAudio(ctx context.Context, data []byte, filename, mimeType string) (string, error)
	OCRImage(ctx context.Context, data []byte, filename, mimeType string) (string, error)
}

// KBRetriever answers legal-provision queries.
type KBRetriever interface {
	Query(ctx context.Context, prompt string, k int) ([]model.KBHit, error)
}

// FIRStore persists the final records.
type FIRStore interface {
	InsertDraft(ctx context.Context, rec *model.FIRRecord) error
	Finalize(ctx context.Context, firNumber, authKeyHash string, at time.Time) error
	GetMeta(ctx context.Context, firNumber string) (*model.FIRRecord, error)
	GetContent(ctx context.Context, firNumber string) (*model.FIRRecord, error)
}

// Media is an uploaded audio or image complaint.
type Media struct {
	Data     []byte
	Filename string
	MIME     string
}

// Input is the /process payload: exactly one member set, validated upstream.
type Input struct {
	Text  string
	Audio *Media
	Image *Media
}

// Config bounds the orchestrator.
type Config struct {
	MaxConcurrentProcess int    // /process semaphore, default 15
	FIRAuthKeyName       string // secret name for the finalisation key
	ExportDir            string // empty disables the finalized-FIR export
}

// Orchestrator owns the stage machine.
type Orchestrator struct {
	cfg      Config
	sessions *session.Manager
	models   ModelOps
	kb       KBRetriever
	firs     FIRStore
	keys     secrets.Provider
	token    *reliability.ShutdownToken
	auditLog *audit.Logger
	sem      chan struct{}
	logger   zerolog.Logger
	now      func() time.Time
}

// New wires the orchestrator. token may be nil in tests.
func New(cfg Config, sessions *session.Manager, models ModelOps, kb KBRetriever, firs FIRStore, keys secrets.Provider, token *reliability.ShutdownToken) *Orchestrator {
	if cfg.MaxConcurrentProcess <= 0 {
		cfg.MaxConcurrentProcess = 15
	}
	if cfg.FIRAuthKeyName == "" {
		cfg.FIRAuthKeyName = "FIR_AUTH_KEY"
	}
	return &Orchestrator{
		cfg:      cfg,
		sessions: sessions,
		models:   models,
		kb:       kb,
		firs:     firs,
		keys:     keys,
		token:    token,
		auditLog: audit.NewLogger(),
		sem:      make(chan struct{}, cfg.MaxConcurrentProcess),
		logger:   log.WithComponent("pipeline"),
		now:      time.Now,
	}
}

func (o *Orchestrator) draining() error {
	if o.token != nil && o.token.IsShuttingDown() {
		return errs.E(errs.KindShutdown, "daemon is shutting down")
	}
	return nil
}

// Process ingests a new complaint: the text is taken as the transcript
// directly, audio and image go through ASR/OCR first. On success the new
// session awaits transcript validation.
func (o *Orchestrator) Process(ctx context.Context, in Input) (*model.Session, error) {
	if err := o.draining(); err != nil {
		return nil, err
	}

	select {
	case o.sem <- struct{}{}:
		defer func() { <-o.sem }()
	case <-ctx.Done():
		return nil, errs.Wrap(errs.KindTimeout, ctx.Err(), "waiting for process slot")
	}

	start := o.now()
	var (
		source     model.SourceKind
		transcript string
		media      *Media
		err        error
	)
	switch {
	case in.Audio != nil:
		source, media = model.SourceAudio, in.Audio
		transcript, err = o.models.TranscribeAudio(ctx, in.Audio.Data, in.Audio.Filename, in.Audio.MIME)
	case in.Image != nil:
		source, media = model.SourceImage, in.Image
		transcript, err = o.models.OCRImage(ctx, in.Image.Data, in.Image.Filename, in.Image.MIME)
	default:
		source, transcript = model.SourceText, in.Text
	}
	if err != nil {
		return nil, err
	}

	sess, err := o.sessions.Create(ctx, source)
	if err != nil {
		return nil, err
	}
	sess, err = o.sessions.Update(ctx, sess.ID, func(s *model.Session) error {
		s.State.Transcript = transcript
		s.State.AwaitingValidation = true
		if media != nil {
			s.State.SourceData = media.Data
			s.State.SourceFilename = media.Filename
			s.State.SourceMIME = media.MIME
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.RecordStageTransition("start", string(model.StepTranscript))
	metrics.ObserveStageDuration(string(model.StepTranscript), o.now().Sub(start))
	o.logger.Info().
		Str(log.FieldEvent, "pipeline.process").
		Str(log.FieldSessionID, sess.ID).
		Str(log.FieldSource, string(source)).
		Msg("complaint ingested")
	return sess, nil
}

// Status returns the current session view.
func (o *Orchestrator) Status(ctx context.Context, sessionID string) (*model.Session, error) {
	return o.sessions.Get(ctx, sessionID)
}

// FIRMeta returns record metadata for GET /fir/{fir_number}.
func (o *Orchestrator) FIRMeta(ctx context.Context, firNumber string) (*model.FIRRecord, error) {
	if !model.ValidFIRNumber(firNumber) {
		return nil, errs.Ef(errs.KindInvalidInput, "malformed fir number %q", firNumber)
	}
	return o.firs.GetMeta(ctx, firNumber)
}

// transient reports whether the failure leaves the session on its prior
// committed step. Anything else is a persistent model fault and fails the
// session.
func transient(err error) bool {
	switch errs.KindOf(err) {
	case errs.KindCircuitOpen, errs.KindTimeout, errs.KindRateLimited, errs.KindShutdown:
		return true
	}
	return false
}

// failSession commits status=failed after a persistent fault. The commit is
// best-effort; the original fault is what the client sees.
func (o *Orchestrator) failSession(ctx context.Context, id string, cause error) {
	_, err := o.sessions.UpdateLocked(ctx, id, func(s *model.Session) error {
		s.Status = model.StatusFailed
		s.State.AwaitingValidation = false
		return nil
	})
	if err != nil {
		o.logger.Error().
			Err(err).
			Str(log.FieldSessionID, id).
			Str(log.FieldEvent, "pipeline.fail_commit_error").
			Msg("could not mark session failed")
		return
	}
	o.logger.Warn().
		Err(cause).
		Str(log.FieldSessionID, id).
		Str(log.FieldEvent, "pipeline.session_failed").
		Msg("session failed after persistent model fault")
}

// guardActive rejects operations on terminal sessions.
func guardActive(sess *model.Session) error {
	if sess.Status.IsTerminal() {
		return errs.Ef(errs.KindWrongStep, "session is %s", sess.Status)
	}
	return nil
}
