// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package pipeline

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ManuGH/fird/internal/fir/errs"
	"github.com/ManuGH/fird/internal/fir/model"
	"github.com/ManuGH/fird/internal/fir/session"
	"github.com/ManuGH/fird/internal/modelclient"
	"github.com/ManuGH/fird/internal/reliability"
	"github.com/ManuGH/fird/internal/store/firsql"
	"github.com/ManuGH/fird/internal/store/memstore"
)

// fakeModels scripts the model client. Violations answers by legal-text
// lookup; err, when set, fails the named ops.
type fakeModels struct {
	mu         sync.Mutex
	violations map[string]bool
	failOps    map[string]error
	calls      map[string]int
}

func newFakeModels() *fakeModels {
	return &fakeModels{
		violations: make(map[string]bool),
		failOps:    make(map[string]error),
		calls:      make(map[string]int),
	}
}

func (f *fakeModels) op(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[name]++
	return f.failOps[name]
}

func (f *fakeModels) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakeModels) Summarise(_ context.Context, text string) (string, error) {
	if err := f.op("summarise"); err != nil {
		return "", err
	}
	return "summary of: " + text, nil
}

func (f *fakeModels) CheckViolation(_ context.Context, _, legalText string) (bool, error) {
	if err := f.op("check_violation"); err != nil {
		return false, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.violations[legalText], nil
}

func (f *fakeModels) Narrate(_ context.Context, summary string, violations []model.Violation) (string, error) {
	if err := f.op("narrate"); err != nil {
		return "", err
	}
	return fmt.Sprintf("narrative(%s, %d violations)", summary, len(violations)), nil
}

func (f *fakeModels) Finalise(_ context.Context, in modelclient.FinaliseInput) (string, error) {
	if err := f.op("finalise"); err != nil {
		return "", err
	}
	return "FIR BODY " + in.FIRNumber, nil
}

func (f *fakeModels) TranscribeAudio(_ context.Context, data []byte, _, _ string) (string, error) {
	if err := f.op("transcribe_audio"); err != nil {
		return "", err
	}
	return "transcribed " + string(data), nil
}

func (f *fakeModels) OCRImage(_ context.Context, data []byte, _, _ string) (string, error) {
	if err := f.op("ocr_image"); err != nil {
		return "", err
	}
	return "ocr " + string(data), nil
}

type fakeKB struct {
	hits []model.KBHit
	err  error
}

func (f *fakeKB) Query(context.Context, string, int) ([]model.KBHit, error) {
	return f.hits, f.err
}

// fakeFIRStore keeps records in memory; dupNext forces that many duplicate
// errors on InsertDraft to exercise allocation retry.
type fakeFIRStore struct {
	mu      sync.Mutex
	records map[string]*model.FIRRecord
	dupNext int
}

func newFakeFIRStore() *fakeFIRStore {
	return &fakeFIRStore{records: make(map[string]*model.FIRRecord)}
}

func (f *fakeFIRStore) InsertDraft(_ context.Context, rec *model.FIRRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.dupNext > 0 {
		f.dupNext--
		return firsql.ErrDuplicateFIRNumber
	}
	if _, exists := f.records[rec.FIRNumber]; exists {
		return firsql.ErrDuplicateFIRNumber
	}
	cp := *rec
	f.records[rec.FIRNumber] = &cp
	return nil
}

func (f *fakeFIRStore) Finalize(_ context.Context, firNumber, authKeyHash string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[firNumber]
	if !ok {
		return errs.Ef(errs.KindNotFound, "fir %s not found", firNumber)
	}
	if rec.Status != model.FIRDraft {
		return errs.Ef(errs.KindWrongStep, "fir %s is not in draft status", firNumber)
	}
	rec.Status = model.FIRFinalized
	rec.AuthKeyHash = authKeyHash
	rec.FinalizedAt = &at
	return nil
}

func (f *fakeFIRStore) GetMeta(_ context.Context, firNumber string) (*model.FIRRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[firNumber]
	if !ok {
		return nil, errs.Ef(errs.KindNotFound, "fir %s not found", firNumber)
	}
	cp := *rec
	cp.FIRContent = ""
	return &cp, nil
}

func (f *fakeFIRStore) GetContent(_ context.Context, firNumber string) (*model.FIRRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[firNumber]
	if !ok {
		return nil, errs.Ef(errs.KindNotFound, "fir %s not found", firNumber)
	}
	cp := *rec
	return &cp, nil
}

type staticSecrets map[string]string

func (s staticSecrets) Get(_ context.Context, name string) (string, error) {
	v, ok := s[name]
	if !ok {
		return "", errs.Ef(errs.KindNotFound, "secret %s not set", name)
	}
	return v, nil
}

type fixture struct {
	orch   *Orchestrator
	models *fakeModels
	kb     *fakeKB
	firs   *fakeFIRStore
	token  *reliability.ShutdownToken
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	models := newFakeModels()
	kbr := &fakeKB{hits: []model.KBHit{
		{Text: "theft of movable property", Reference: "IPC 378"},
		{Text: "criminal intimidation", Reference: "IPC 503"},
		{Text: "public nuisance", Reference: "IPC 268"},
	}}
	models.violations["theft of movable property"] = true
	models.violations["public nuisance"] = true

	firs := newFakeFIRStore()
	token := reliability.NewShutdownToken(time.Second)
	mgr := session.NewManager(memstore.New(), 30*time.Minute)
	orch := New(Config{FIRAuthKeyName: "FIR_AUTH_KEY"}, mgr, models, kbr, firs,
		staticSecrets{"FIR_AUTH_KEY": "letmein"}, token)
	return &fixture{orch: orch, models: models, kb: kbr, firs: firs, token: token}
}

func approve(t *testing.T, f *fixture, id string) *model.Session {
	t.Helper()
	sess, err := f.orch.Validate(context.Background(), id, true, "")
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	return sess
}

func TestFullTextWorkflow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sess, err := f.orch.Process(ctx, Input{Text: "my wallet was stolen near the market"})
	if err != nil {
		t.Fatal(err)
	}
	if sess.State.CurrentValidationStep != model.StepTranscript || !sess.State.AwaitingValidation {
		t.Fatalf("after process: %+v", sess.State)
	}

	sess = approve(t, f, sess.ID)
	if sess.State.CurrentValidationStep != model.StepSummary {
		t.Fatalf("step = %s, want summary", sess.State.CurrentValidationStep)
	}
	if sess.State.Summary == "" {
		t.Fatal("summary artifact missing")
	}

	sess = approve(t, f, sess.ID)
	if sess.State.CurrentValidationStep != model.StepViolations {
		t.Fatalf("step = %s, want violations", sess.State.CurrentValidationStep)
	}
	// Kept violations preserve hit order: IPC 378 before IPC 268.
	if len(sess.State.Violations) != 2 {
		t.Fatalf("violations = %+v", sess.State.Violations)
	}
	if sess.State.Violations[0].Reference != "IPC 378" || sess.State.Violations[1].Reference != "IPC 268" {
		t.Errorf("violation order broken: %+v", sess.State.Violations)
	}

	sess = approve(t, f, sess.ID)
	if sess.State.CurrentValidationStep != model.StepNarrative || sess.State.Narrative == "" {
		t.Fatalf("narrative stage: %+v", sess.State)
	}

	sess = approve(t, f, sess.ID)
	if sess.State.CurrentValidationStep != model.StepFinalReview {
		t.Fatalf("step = %s, want final_review", sess.State.CurrentValidationStep)
	}
	if !model.ValidFIRNumber(sess.State.FIRNumber) {
		t.Fatalf("fir number %q invalid", sess.State.FIRNumber)
	}

	rec, err := f.orch.Authenticate(ctx, sess.State.FIRNumber, "letmein")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Status != model.FIRFinalized || rec.FinalizedAt == nil {
		t.Fatalf("record: %+v", rec)
	}

	final, err := f.orch.Status(ctx, sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	if final.Status != model.StatusCompleted || final.State.CurrentValidationStep != model.StepCompleted {
		t.Errorf("session after finalisation: %s / %s", final.Status, final.State.CurrentValidationStep)
	}

	// A terminal session admits nothing further.
	if _, err := f.orch.Validate(ctx, sess.ID, true, ""); !errs.IsKind(err, errs.KindWrongStep) {
		t.Errorf("validate on completed: %v", err)
	}
}

func TestAudioProcessStoresMediaForRegen(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sess, err := f.orch.Process(ctx, Input{Audio: &Media{Data: []byte("wavdata"), Filename: "c.wav", MIME: "audio/wav"}})
	if err != nil {
		t.Fatal(err)
	}
	if sess.State.Transcript != "transcribed wavdata" {
		t.Fatalf("transcript = %q", sess.State.Transcript)
	}

	_, regenerated, err := f.orch.Regenerate(ctx, sess.ID, "")
	if err != nil {
		t.Fatal(err)
	}
	if !regenerated {
		t.Error("audio transcript regeneration must redo ASR")
	}
	if f.models.count("transcribe_audio") != 2 {
		t.Errorf("transcribe calls = %d, want 2", f.models.count("transcribe_audio"))
	}
}

func TestTextTranscriptRegenerateIsNoOp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sess, err := f.orch.Process(ctx, Input{Text: "plain text complaint"})
	if err != nil {
		t.Fatal(err)
	}
	got, regenerated, err := f.orch.Regenerate(ctx, sess.ID, "")
	if err != nil {
		t.Fatal(err)
	}
	if regenerated {
		t.Error("text transcript has nothing to regenerate")
	}
	if got.State.Transcript != "plain text complaint" {
		t.Errorf("transcript changed: %q", got.State.Transcript)
	}
	if len(got.ValidationHistory) != 0 {
		t.Errorf("no-op regen appended history: %+v", got.ValidationHistory)
	}
}

func TestRejectionRegeneratesCurrentStep(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sess, err := f.orch.Process(ctx, Input{Text: "text"})
	if err != nil {
		t.Fatal(err)
	}
	sess = approve(t, f, sess.ID) // now on summary

	rejected, err := f.orch.Validate(ctx, sess.ID, false, "it was two wallets")
	if err != nil {
		t.Fatal(err)
	}
	if rejected.State.CurrentValidationStep != model.StepSummary {
		t.Errorf("rejection advanced the step to %s", rejected.State.CurrentValidationStep)
	}
	if f.models.count("summarise") != 2 {
		t.Errorf("summarise calls = %d, want 2", f.models.count("summarise"))
	}
	last := rejected.ValidationHistory[len(rejected.ValidationHistory)-1]
	if last.Approved || last.UserInput != "it was two wallets" {
		t.Errorf("history record: %+v", last)
	}
}

func TestUserInputReplacesArtifactOnApproval(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sess, err := f.orch.Process(ctx, Input{Text: "original"})
	if err != nil {
		t.Fatal(err)
	}
	got, err := f.orch.Validate(ctx, sess.ID, true, "corrected transcript")
	if err != nil {
		t.Fatal(err)
	}
	if got.State.Transcript != "corrected transcript" {
		t.Errorf("transcript = %q", got.State.Transcript)
	}
	if got.State.Summary != "summary of: corrected transcript" {
		t.Errorf("summary built from stale transcript: %q", got.State.Summary)
	}
}

func TestViolationCheckErrorsAreConservative(t *testing.T) {
	f := newFixture(t)
	f.models.failOps["check_violation"] = errs.E(errs.KindTimeout, "slow model")
	ctx := context.Background()

	sess, err := f.orch.Process(ctx, Input{Text: "text"})
	if err != nil {
		t.Fatal(err)
	}
	sess = approve(t, f, sess.ID)
	sess = approve(t, f, sess.ID)

	if sess.State.CurrentValidationStep != model.StepViolations {
		t.Fatalf("step = %s", sess.State.CurrentValidationStep)
	}
	if len(sess.State.Violations) != 0 {
		t.Errorf("failed checks produced violations: %+v", sess.State.Violations)
	}
	if sess.Status != model.StatusActive {
		t.Errorf("per-hit failures must not fail the session: %s", sess.Status)
	}
}

func TestTransientFailureKeepsStep(t *testing.T) {
	f := newFixture(t)
	f.models.failOps["summarise"] = errs.E(errs.KindCircuitOpen, "llm down")
	ctx := context.Background()

	sess, err := f.orch.Process(ctx, Input{Text: "text"})
	if err != nil {
		t.Fatal(err)
	}
	_, err = f.orch.Validate(ctx, sess.ID, true, "")
	if !errs.IsKind(err, errs.KindCircuitOpen) {
		t.Fatalf("err = %v", err)
	}

	got, err := f.orch.Status(ctx, sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != model.StatusActive || got.State.CurrentValidationStep != model.StepTranscript {
		t.Errorf("transient failure moved the session: %s / %s", got.Status, got.State.CurrentValidationStep)
	}
	if !got.State.AwaitingValidation {
		t.Error("session must stay awaiting on the prior step")
	}

	// Dependency recovers; the same approval now succeeds.
	delete(f.models.failOps, "summarise")
	if got = approve(t, f, sess.ID); got.State.CurrentValidationStep != model.StepSummary {
		t.Errorf("retry after recovery: step = %s", got.State.CurrentValidationStep)
	}
}

func TestPersistentFailureFailsSession(t *testing.T) {
	f := newFixture(t)
	f.models.failOps["summarise"] = errs.E(errs.KindEmptyResponse, "model keeps returning nothing")
	ctx := context.Background()

	sess, err := f.orch.Process(ctx, Input{Text: "text"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.orch.Validate(ctx, sess.ID, true, ""); err == nil {
		t.Fatal("expected failure")
	}

	got, err := f.orch.Status(ctx, sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != model.StatusFailed {
		t.Fatalf("status = %s, want failed", got.Status)
	}
	if _, err := f.orch.Validate(ctx, sess.ID, true, ""); !errs.IsKind(err, errs.KindWrongStep) {
		t.Errorf("terminal failed session: %v", err)
	}
}

func TestFIRAllocationRetriesOnDuplicate(t *testing.T) {
	f := newFixture(t)
	f.firs.dupNext = 2
	ctx := context.Background()

	sess, err := f.orch.Process(ctx, Input{Text: "text"})
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 4; i++ {
		sess = approve(t, f, sess.ID)
	}
	if sess.State.CurrentValidationStep != model.StepFinalReview {
		t.Fatalf("step = %s", sess.State.CurrentValidationStep)
	}
	if sess.State.FIRNumber == "" {
		t.Fatal("allocation did not survive two collisions")
	}
}

func TestFIRAllocationExhaustion(t *testing.T) {
	f := newFixture(t)
	f.firs.dupNext = 3
	ctx := context.Background()

	sess, err := f.orch.Process(ctx, Input{Text: "text"})
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		sess = approve(t, f, sess.ID)
	}
	_, err = f.orch.Validate(ctx, sess.ID, true, "")
	if !errs.IsKind(err, errs.KindInternal) {
		t.Errorf("err = %v, want Internal after exhausted allocation", err)
	}
}

func TestAuthenticateWrongKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sess, err := f.orch.Process(ctx, Input{Text: "text"})
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 4; i++ {
		sess = approve(t, f, sess.ID)
	}

	_, err = f.orch.Authenticate(ctx, sess.State.FIRNumber, "wrong")
	if !errs.IsKind(err, errs.KindUnauthorized) {
		t.Fatalf("err = %v, want Unauthorized", err)
	}

	// No state change: record stays draft, session stays in final_review.
	rec, err := f.orch.FIRMeta(ctx, sess.State.FIRNumber)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Status != model.FIRDraft {
		t.Errorf("record status = %s", rec.Status)
	}
	got, _ := f.orch.Status(ctx, sess.ID)
	if got.State.CurrentValidationStep != model.StepFinalReview {
		t.Errorf("session step = %s", got.State.CurrentValidationStep)
	}

	// Unknown and double finalisation.
	if _, err := f.orch.Authenticate(ctx, "FIR-0123abcd-20260301090000", "letmein"); !errs.IsKind(err, errs.KindNotFound) {
		t.Errorf("unknown fir: %v", err)
	}
	if _, err := f.orch.Authenticate(ctx, sess.State.FIRNumber, "letmein"); err != nil {
		t.Fatal(err)
	}
	if _, err := f.orch.Authenticate(ctx, sess.State.FIRNumber, "letmein"); !errs.IsKind(err, errs.KindWrongStep) {
		t.Errorf("double finalise: %v", err)
	}
}

func TestValidateOnFinalReviewIsWrongStep(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sess, err := f.orch.Process(ctx, Input{Text: "text"})
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 4; i++ {
		sess = approve(t, f, sess.ID)
	}
	if _, err := f.orch.Validate(ctx, sess.ID, true, ""); !errs.IsKind(err, errs.KindWrongStep) {
		t.Errorf("err = %v, want WrongStep", err)
	}
}

func TestReplayWithDistinctivePayloadIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sess, err := f.orch.Process(ctx, Input{Text: "text"})
	if err != nil {
		t.Fatal(err)
	}
	first, err := f.orch.Validate(ctx, sess.ID, true, "corrected transcript")
	if err != nil {
		t.Fatal(err)
	}

	// The client retries the same request after a network timeout.
	second, err := f.orch.Validate(ctx, sess.ID, true, "corrected transcript")
	if err != nil {
		t.Fatal(err)
	}
	if second.State.CurrentValidationStep != first.State.CurrentValidationStep {
		t.Errorf("replay advanced the machine to %s", second.State.CurrentValidationStep)
	}
	if f.models.count("summarise") != 1 {
		t.Errorf("replay re-ran the model: %d calls", f.models.count("summarise"))
	}
	if len(second.ValidationHistory) != 1 {
		t.Errorf("replay appended history: %d records", len(second.ValidationHistory))
	}
}

func TestDrainingRejectsOperations(t *testing.T) {
	f := newFixture(t)
	f.token.Begin()

	if _, err := f.orch.Process(context.Background(), Input{Text: "text"}); !errs.IsKind(err, errs.KindShutdown) {
		t.Errorf("process during drain: %v", err)
	}
	if _, err := f.orch.Validate(context.Background(), "4dcd72a1-08b4-4bc9-8e49-b5e1a0f6d9f7", true, ""); !errs.IsKind(err, errs.KindShutdown) {
		t.Errorf("validate during drain: %v", err)
	}
}

func TestStageMonotonicity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sess, err := f.orch.Process(ctx, Input{Text: "text"})
	if err != nil {
		t.Fatal(err)
	}

	order := []model.Step{
		model.StepTranscript, model.StepSummary, model.StepViolations,
		model.StepNarrative, model.StepFinalReview,
	}
	seen := []model.Step{sess.State.CurrentValidationStep}
	for i := 0; i < 4; i++ {
		sess = approve(t, f, sess.ID)
		seen = append(seen, sess.State.CurrentValidationStep)
	}
	for i, step := range seen {
		if step != order[i] {
			t.Fatalf("position %d: step %s, want %s", i, step, order[i])
		}
	}
}
