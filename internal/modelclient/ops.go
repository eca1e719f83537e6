// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package modelclient

import (
	"context"
	"fmt"
	"strings"

	"github.com/ManuGH/fird/internal/fir/model"
)

// Model names the inference server routes on.
const (
	textModel      = "fir-instruct"
	summaryTokens  = 256
	decisionTokens = 8
	narrateTokens  = 1024
	finaliseTokens = 2048
)

// Summarise condenses a raw complaint transcript into a two-line summary.
func (c *Client) Summarise(ctx context.Context, text string) (string, error) {
	prompt := fmt.Sprintf(
		"Summarise the following complaint in exactly two lines. State who is affected and what happened. Do not add commentary.\n\nComplaint:\n%s",
		text)
	return c.call(ctx, DepLLM, "summarise", c.cfg.Timeout, func(ctx context.Context) (string, error) {
		return c.inference(ctx, textModel, prompt, summaryTokens)
	})
}

// CheckViolation asks whether the candidate legal provision applies to the
// summarised incident. The model answers YES or NO; anything else counts
// as NO.
func (c *Client) CheckViolation(ctx context.Context, summary, legalText string) (bool, error) {
	prompt := fmt.Sprintf(
		"Incident summary:\n%s\n\nLegal provision:\n%s\n\nDoes the incident described above violate this provision? Answer only YES or NO.",
		summary, legalText)
	out, err := c.call(ctx, DepLLM, "check_violation", c.cfg.ViolationTimeout, func(ctx context.Context) (string, error) {
		return c.inference(ctx, textModel, prompt, decisionTokens)
	})
	if err != nil {
		return false, err
	}
	return parseDecision(out), nil
}

// parseDecision treats only an affirmative leading token as a violation.
func parseDecision(out string) bool {
	return strings.HasPrefix(strings.ToUpper(strings.TrimSpace(out)), "YES")
}

// Narrate writes the formal incident narrative from the approved summary and
// the confirmed violations.
func (c *Client) Narrate(ctx context.Context, summary string, violations []model.Violation) (string, error) {
	var sb strings.Builder
	for i, v := range violations {
		fmt.Fprintf(&sb, "%d. %s (%s)\n", i+1, v.Text, v.Reference)
	}
	prompt := fmt.Sprintf(
		"Write a single formal paragraph narrating the following incident for a First Information Report. Mention each violated provision once.\n\nSummary:\n%s\n\nViolated provisions:\n%s",
		summary, sb.String())
	return c.call(ctx, DepLLM, "narrate", c.cfg.Timeout, func(ctx context.Context) (string, error) {
		return c.inference(ctx, textModel, prompt, narrateTokens)
	})
}

// FinaliseInput carries everything the final rendering needs.
type FinaliseInput struct {
	FIRNumber  string
	Summary    string
	Violations []model.Violation
	Narrative  string
}

// Finalise renders the complete FIR body.
func (c *Client) Finalise(ctx context.Context, in FinaliseInput) (string, error) {
	var sb strings.Builder
	for i, v := range in.Violations {
		fmt.Fprintf(&sb, "%d. %s (%s)\n", i+1, v.Text, v.Reference)
	}
	prompt := fmt.Sprintf(
		"Render the final First Information Report document.\n\nFIR number: %s\n\nSummary:\n%s\n\nViolated provisions:\n%s\nNarrative:\n%s\n\nProduce the complete formal document text.",
		in.FIRNumber, in.Summary, sb.String(), in.Narrative)
	return c.call(ctx, DepLLM, "finalise", c.cfg.Timeout, func(ctx context.Context) (string, error) {
		return c.inference(ctx, textModel, prompt, finaliseTokens)
	})
}

// TranscribeAudio converts an uploaded audio complaint to text.
func (c *Client) TranscribeAudio(ctx context.Context, data []byte, filename, mimeType string) (string, error) {
	return c.call(ctx, DepASROCR, "transcribe_audio", c.cfg.Timeout, func(ctx context.Context) (string, error) {
		return c.mediaCall(ctx, "/asr", data, filename, mimeType)
	})
}

// OCRImage extracts text from an uploaded image complaint.
func (c *Client) OCRImage(ctx context.Context, data []byte, filename, mimeType string) (string, error) {
	return c.call(ctx, DepASROCR, "ocr_image", c.cfg.Timeout, func(ctx context.Context) (string, error) {
		return c.mediaCall(ctx, "/ocr", data, filename, mimeType)
	})
}
