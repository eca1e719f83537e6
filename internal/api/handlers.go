// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package api

import (
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ManuGH/fird/internal/api/middleware"
	"github.com/ManuGH/fird/internal/api/validation"
	"github.com/ManuGH/fird/internal/fir/errs"
	"github.com/ManuGH/fird/internal/fir/model"
	"github.com/ManuGH/fird/internal/fir/pipeline"
	"github.com/ManuGH/fird/internal/log"
)

// stageResponse is the common success body for /process, /validate and
// /regenerate.
type stageResponse struct {
	SessionID          string `json:"session_id"`
	CurrentStep        string `json:"current_step"`
	AwaitingValidation bool   `json:"awaiting_validation"`
	Artifact           any    `json:"artifact,omitempty"`
	Regenerated        *bool  `json:"regenerated,omitempty"`
}

func newStageResponse(sess *model.Session) stageResponse {
	return stageResponse{
		SessionID:          sess.ID,
		CurrentStep:        string(sess.State.CurrentValidationStep),
		AwaitingValidation: sess.State.AwaitingValidation,
		Artifact:           artifactFor(sess),
	}
}

// artifactFor renders the current step's artifact for the client.
func artifactFor(sess *model.Session) any {
	switch sess.State.CurrentValidationStep {
	case model.StepTranscript:
		return map[string]any{"transcript": sess.State.Transcript}
	case model.StepSummary:
		return map[string]any{"summary": sess.State.Summary}
	case model.StepViolations:
		violations := sess.State.Violations
		if violations == nil {
			violations = []model.Violation{}
		}
		return map[string]any{"violations": violations}
	case model.StepNarrative:
		return map[string]any{"narrative": sess.State.Narrative}
	case model.StepFinalReview:
		return map[string]any{
			"fir_number": sess.State.FIRNumber,
			"narrative":  sess.State.Narrative,
		}
	default:
		return nil
	}
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return errs.Wrap(errs.KindInvalidInput, err, "malformed request body")
	}
	return nil
}

// handleProcess starts a new session from exactly one of a text field, an
// audio upload or an image upload.
func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	in, err := s.decodeProcessInput(w, r)
	if err != nil {
		return // decodeProcessInput already responded
	}

	sess, err := s.cfg.Pipeline.Process(r.Context(), in)
	if err != nil {
		middleware.JSONError(w, r, err)
		return
	}
	middleware.JSON(w, http.StatusOK, newStageResponse(sess))
}

// decodeProcessInput parses either a JSON {"text"} body or a multipart form
// and enforces the exactly-one-source rule. It writes the error response
// itself so it can refine oversize and bad-media statuses to 413 and 415.
func (s *Server) decodeProcessInput(w http.ResponseWriter, r *http.Request) (pipeline.Input, error) {
	var in pipeline.Input

	contentType := r.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "multipart/form-data") {
		if err := r.ParseMultipartForm(validation.MaxUploadBytes); err != nil {
			middleware.JSON(w, http.StatusRequestEntityTooLarge, map[string]string{
				"error": "multipart body too large or malformed",
				"kind":  string(errs.KindInvalidInput),
			})
			return in, err
		}

		text := r.FormValue("text")
		audio, audioHdr, audioErr := r.FormFile("audio")
		image, imageHdr, imageErr := r.FormFile("image")
		if audio != nil {
			defer func() { _ = audio.Close() }()
		}
		if image != nil {
			defer func() { _ = image.Close() }()
		}

		sources := 0
		if text != "" {
			sources++
		}
		if audioErr == nil {
			sources++
		}
		if imageErr == nil {
			sources++
		}
		if sources != 1 {
			err := errs.E(errs.KindInvalidInput, "provide exactly one of text, audio or image")
			middleware.JSONError(w, r, err)
			return in, err
		}

		switch {
		case audioErr == nil:
			media, err := s.readUpload(w, r, audio, audioHdr)
			if err != nil {
				return in, err
			}
			in.Audio = media
		case imageErr == nil:
			media, err := s.readUpload(w, r, image, imageHdr)
			if err != nil {
				return in, err
			}
			in.Image = media
		default:
			normalised, err := validation.Text(text)
			if err != nil {
				middleware.JSONError(w, r, err)
				return in, err
			}
			in.Text = normalised
		}
		return in, nil
	}

	var body struct {
		Text string `json:"text"`
	}
	if err := decodeJSON(r, &body); err != nil {
		middleware.JSONError(w, r, err)
		return in, err
	}
	normalised, err := validation.Text(body.Text)
	if err != nil {
		middleware.JSONError(w, r, err)
		return in, err
	}
	in.Text = normalised
	return in, nil
}

// readUpload checks size (413) and MIME (415) before buffering the part.
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request, file multipart.File, hdr *multipart.FileHeader) (*pipeline.Media, error) {
	if hdr.Size > validation.MaxUploadBytes {
		err := errs.Ef(errs.KindInvalidInput, "upload exceeds %d bytes", validation.MaxUploadBytes)
		middleware.JSON(w, http.StatusRequestEntityTooLarge, map[string]string{
			"error": err.Error(),
			"kind":  string(errs.KindInvalidInput),
		})
		return nil, err
	}
	mime := hdr.Header.Get("Content-Type")
	if err := validation.Upload(hdr.Size, mime); err != nil {
		middleware.JSON(w, http.StatusUnsupportedMediaType, map[string]string{
			"error": err.Error(),
			"kind":  string(errs.KindInvalidInput),
		})
		return nil, err
	}

	data, err := io.ReadAll(file)
	if err != nil {
		err = errs.Wrap(errs.KindInvalidInput, err, "reading upload")
		middleware.JSONError(w, r, err)
		return nil, err
	}
	return &pipeline.Media{Data: data, Filename: hdr.Filename, MIME: mime}, nil
}

type validateRequest struct {
	SessionID string `json:"session_id" validate:"required,uuid4"`
	Approved  bool   `json:"approved"`
	UserInput string `json:"user_input,omitempty" validate:"omitempty,safe_text"`
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if err := decodeJSON(r, &req); err != nil {
		middleware.JSONError(w, r, err)
		return
	}
	if err := validation.Struct(req); err != nil {
		middleware.JSONError(w, r, err)
		return
	}
	userInput, err := validation.UserInput(req.UserInput)
	if err != nil {
		middleware.JSONError(w, r, err)
		return
	}

	sess, err := s.cfg.Pipeline.Validate(r.Context(), req.SessionID, req.Approved, userInput)
	if err != nil {
		middleware.JSONError(w, r, err)
		return
	}
	middleware.JSON(w, http.StatusOK, newStageResponse(sess))
}

func (s *Server) handleRegenerate(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session_id")
	if err := validation.SessionID(sessionID); err != nil {
		middleware.JSONError(w, r, err)
		return
	}

	var body struct {
		UserInput string `json:"user_input,omitempty"`
	}
	if r.ContentLength > 0 {
		if err := decodeJSON(r, &body); err != nil {
			middleware.JSONError(w, r, err)
			return
		}
	}
	userInput, err := validation.UserInput(body.UserInput)
	if err != nil {
		middleware.JSONError(w, r, err)
		return
	}

	sess, regenerated, err := s.cfg.Pipeline.Regenerate(r.Context(), sessionID, userInput)
	if err != nil {
		middleware.JSONError(w, r, err)
		return
	}
	resp := newStageResponse(sess)
	resp.Regenerated = &regenerated
	middleware.JSON(w, http.StatusOK, resp)
}

func (s *Server) handleSessionStatus(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session_id")
	if err := validation.SessionID(sessionID); err != nil {
		middleware.JSONError(w, r, err)
		return
	}

	sess, err := s.cfg.Pipeline.Status(r.Context(), sessionID)
	if err != nil {
		middleware.JSONError(w, r, err)
		return
	}
	middleware.JSON(w, http.StatusOK, map[string]any{
		"session_id":          sess.ID,
		"status":              sess.Status,
		"current_step":        sess.State.CurrentValidationStep,
		"awaiting_validation": sess.State.AwaitingValidation,
		"created_at":          sess.CreatedAt,
		"last_activity":       sess.LastActivity,
		"validation_count":    len(sess.ValidationHistory),
	})
}

type authenticateRequest struct {
	FIRNumber string `json:"fir_number" validate:"required,fir_number"`
	AuthKey   string `json:"auth_key" validate:"required"`
}

func (s *Server) handleAuthenticate(w http.ResponseWriter, r *http.Request) {
	var req authenticateRequest
	if err := decodeJSON(r, &req); err != nil {
		middleware.JSONError(w, r, err)
		return
	}
	if err := validation.Struct(req); err != nil {
		middleware.JSONError(w, r, err)
		return
	}

	rec, err := s.cfg.Pipeline.Authenticate(r.Context(), req.FIRNumber, req.AuthKey)
	if err != nil {
		middleware.JSONError(w, r, err)
		return
	}
	middleware.JSON(w, http.StatusOK, map[string]any{
		"fir_number":   rec.FIRNumber,
		"status":       rec.Status,
		"finalized_at": rec.FinalizedAt,
	})
}

func firMetaBody(rec *model.FIRRecord) map[string]any {
	body := map[string]any{
		"fir_number": rec.FIRNumber,
		"session_id": rec.SessionID,
		"status":     rec.Status,
		"created_at": rec.CreatedAt,
	}
	if rec.FinalizedAt != nil {
		body["finalized_at"] = rec.FinalizedAt
	}
	return body
}

func (s *Server) handleFIRMeta(w http.ResponseWriter, r *http.Request) {
	firNumber := chi.URLParam(r, "fir_number")
	if err := validation.FIRNumber(firNumber); err != nil {
		middleware.JSONError(w, r, err)
		return
	}

	rec, err := s.cfg.Pipeline.FIRMeta(r.Context(), firNumber)
	if err != nil {
		middleware.JSONError(w, r, err)
		return
	}
	middleware.JSON(w, http.StatusOK, firMetaBody(rec))
}

func (s *Server) handleFIRContent(w http.ResponseWriter, r *http.Request) {
	firNumber := chi.URLParam(r, "fir_number")
	if err := validation.FIRNumber(firNumber); err != nil {
		middleware.JSONError(w, r, err)
		return
	}

	rec, err := s.cfg.FIRs.GetContent(r.Context(), firNumber)
	if err != nil {
		middleware.JSONError(w, r, err)
		return
	}
	body := firMetaBody(rec)
	body["content"] = rec.FIRContent
	middleware.JSON(w, http.StatusOK, body)
}

func (s *Server) handleListFIRs(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := validation.Pagination(
		r.URL.Query().Get("limit"), r.URL.Query().Get("offset"))
	if err != nil {
		middleware.JSONError(w, r, err)
		return
	}

	records, err := s.cfg.FIRs.List(r.Context(), limit, offset)
	if err != nil {
		middleware.JSONError(w, r, err)
		return
	}

	out := make([]map[string]any, 0, len(records))
	for i := range records {
		rec := &records[i]
		out = append(out, map[string]any{
			"fir_number": rec.FIRNumber,
			"status":     rec.Status,
			"created_at": rec.CreatedAt,
		})
	}
	middleware.JSON(w, http.StatusOK, map[string]any{
		"firs":   out,
		"limit":  limit,
		"offset": offset,
	})
}

func (s *Server) handleBreakerReset(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := s.cfg.Registry.ResetBreaker(name); err != nil {
		middleware.JSONError(w, r, err)
		return
	}
	s.auditLog.BreakerReset(r.Context(), s.clientIP(r), name)
	s.logger.Info().
		Str(log.FieldEvent, "breaker.manual_reset").
		Str(log.FieldDependency, name).
		Msg("circuit breaker reset by operator")
	middleware.JSON(w, http.StatusOK, map[string]any{
		"name":  name,
		"state": "closed",
	})
}

func (s *Server) handleRecoveryTrigger(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	triggered, err := s.cfg.Registry.TriggerRecovery(r.Context(), name)
	if err != nil {
		middleware.JSONError(w, r, err)
		return
	}

	status := "triggered"
	if !triggered {
		status = "already_running"
	}
	s.auditLog.RecoveryTriggered(r.Context(), s.clientIP(r), name, status)
	middleware.JSON(w, http.StatusOK, map[string]any{
		"success": triggered,
		"status":  status,
	})
}

func (s *Server) handleReliability(w http.ResponseWriter, r *http.Request) {
	middleware.JSON(w, http.StatusOK, s.cfg.Registry.Snapshot())
}

// metricsSnapshotTTL bounds how often /metrics re-renders the gathered
// families; the endpoint is polled by dashboards.
const metricsSnapshotTTL = 10 * time.Second

func (s *Server) handleMetricsSnapshot(w http.ResponseWriter, r *http.Request) {
	s.metricsMu.Lock()
	if time.Since(s.metricsAt) < metricsSnapshotTTL && s.metricsBody != nil {
		body := s.metricsBody
		s.metricsMu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(body)
		return
	}
	s.metricsMu.Unlock()

	snap, err := snapshotMetrics()
	if err != nil {
		middleware.JSONError(w, r, errs.Wrap(errs.KindInternal, err, "gathering metrics"))
		return
	}
	body, err := json.Marshal(snap)
	if err != nil {
		middleware.JSONError(w, r, errs.Wrap(errs.KindInternal, err, "rendering metrics"))
		return
	}

	s.metricsMu.Lock()
	s.metricsAt = time.Now()
	s.metricsBody = body
	s.metricsMu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(body)
}
