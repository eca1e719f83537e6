// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package modelclient talks to the two external inference services: the LLM
// server for text generation and the ASR/OCR server for media transcription.
// Every call runs through the same composition: inference-semaphore acquire,
// health-cache fast-fail, circuit breaker, retry with backoff, HTTP with a
// per-operation deadline, and a non-empty response check.
package modelclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/net/http2"

	"github.com/ManuGH/fird/internal/cache"
	"github.com/ManuGH/fird/internal/fir/errs"
	"github.com/ManuGH/fird/internal/log"
	"github.com/ManuGH/fird/internal/metrics"
	"github.com/ManuGH/fird/internal/reliability"
)

// Dependency names used for breakers, health probes and metrics labels.
const (
	DepLLM    = "llm"
	DepASROCR = "asr_ocr"
)

const (
	healthTTL          = 30 * time.Second
	healthProbeTimeout = 5 * time.Second
)

// Config holds the upstream endpoints and call bounds.
type Config struct {
	LLMBaseURL         string
	ASROCRBaseURL      string
	Timeout            time.Duration // per model call
	ViolationTimeout   time.Duration // per violation check
	MaxConcurrentCalls int           // inference semaphore capacity
}

// Client is the pooled HTTP/2 client over both inference services.
type Client struct {
	cfg      Config
	http     *http.Client
	sem      chan struct{}
	breakers map[string]*reliability.CircuitBreaker
	retry    reliability.RetryPolicy
	health   cache.Cache
	logger   zerolog.Logger
}

// New builds the client. The breakers are owned by the reliability registry;
// the client only consults them.
func New(cfg Config, llmBreaker, asrBreaker *reliability.CircuitBreaker) (*Client, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 45 * time.Second
	}
	if cfg.ViolationTimeout <= 0 {
		cfg.ViolationTimeout = 8 * time.Second
	}
	if cfg.MaxConcurrentCalls <= 0 {
		cfg.MaxConcurrentCalls = 10
	}
	cfg.LLMBaseURL = strings.TrimRight(cfg.LLMBaseURL, "/")
	cfg.ASROCRBaseURL = strings.TrimRight(cfg.ASROCRBaseURL, "/")

	transport := &http.Transport{
		MaxIdleConns:        20,
		MaxIdleConnsPerHost: 20,
		IdleConnTimeout:     90 * time.Second,
		ForceAttemptHTTP2:   true,
	}
	if err := http2.ConfigureTransport(transport); err != nil {
		return nil, fmt.Errorf("modelclient: configure http2: %w", err)
	}

	return &Client{
		cfg:  cfg,
		http: &http.Client{Transport: otelhttp.NewTransport(transport)},
		sem:  make(chan struct{}, cfg.MaxConcurrentCalls),
		breakers: map[string]*reliability.CircuitBreaker{
			DepLLM:    llmBreaker,
			DepASROCR: asrBreaker,
		},
		retry:  reliability.DefaultRetryPolicy(),
		health: cache.NewMemoryCache(0, 0),
		logger: log.WithComponent("modelclient"),
	}, nil
}

// SetHealth records the latest observed health for a dependency. The health
// monitor feeds probe results here; entries age out after 30 seconds so a
// stale observation never blocks calls indefinitely.
func (c *Client) SetHealth(dep string, healthy bool) {
	c.health.Set(dep, healthy, healthTTL)
}

// call is the single composition point for every upstream operation.
func (c *Client) call(ctx context.Context, dep, op string, timeout time.Duration, fn func(ctx context.Context) (string, error)) (string, error) {
	select {
	case c.sem <- struct{}{}:
		defer func() { <-c.sem }()
	case <-ctx.Done():
		return "", errs.Wrap(errs.KindTimeout, ctx.Err(), "waiting for inference slot")
	}

	metrics.ModelCallStarted()
	defer metrics.ModelCallFinished()
	start := time.Now()

	if v, ok := c.health.Get(dep); ok && !v.(bool) {
		metrics.RecordHealthFastFail(dep)
		err := errs.Ef(errs.KindCircuitOpen, "%s recently reported unhealthy", dep)
		metrics.ObserveModelCall(op, time.Since(start), err)
		return "", err
	}

	var out string
	attempt := 0
	err := c.retry.Do(ctx, func() error {
		if attempt > 0 {
			metrics.RecordModelCallRetry(op)
			c.logger.Warn().
				Str(log.FieldEvent, "modelclient.retry").
				Str(log.FieldDependency, dep).
				Str("op", op).
				Int("attempt", attempt+1).
				Msg("retrying model call")
		}
		attempt++

		return c.breakers[dep].Execute(func() error {
			callCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			text, err := fn(callCtx)
			if err != nil {
				return err
			}
			if strings.TrimSpace(text) == "" {
				return errs.Ef(errs.KindEmptyResponse, "%s returned an empty body for %s", dep, op)
			}
			out = text
			return nil
		})
	})

	switch {
	case err == nil:
		c.SetHealth(dep, true)
	case errs.IsKind(err, errs.KindTimeout) || errs.IsKind(err, errs.KindInternal):
		c.SetHealth(dep, false)
	}

	metrics.ObserveModelCall(op, time.Since(start), err)
	return out, err
}

type inferenceRequest struct {
	ModelName string `json:"model_name"`
	Prompt    string `json:"prompt"`
	MaxTokens int    `json:"max_tokens"`
}

type textResponse struct {
	Text string `json:"text"`
}

// inference posts one prompt to the LLM server.
func (c *Client) inference(ctx context.Context, modelName, prompt string, maxTokens int) (string, error) {
	body, err := json.Marshal(inferenceRequest{ModelName: modelName, Prompt: prompt, MaxTokens: maxTokens})
	if err != nil {
		return "", fmt.Errorf("encode inference request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.LLMBaseURL+"/inference", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build inference request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.decodeText(req, "llm server")
}

// mediaCall posts a multipart upload to the ASR/OCR server.
func (c *Client) mediaCall(ctx context.Context, path string, data []byte, filename, mimeType string) (string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
	header.Set("Content-Type", mimeType)
	part, err := w.CreatePart(header)
	if err != nil {
		return "", fmt.Errorf("build multipart: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", fmt.Errorf("write multipart: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("finish multipart: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.ASROCRBaseURL+path, &buf)
	if err != nil {
		return "", fmt.Errorf("build media request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	return c.decodeText(req, "asr/ocr server")
}

// decodeText executes a request and maps the status code before decoding
// the {"text"} body. 5xx and transport failures stay untyped so the retry
// policy re-attempts them; client faults are final.
func (c *Client) decodeText(req *http.Request, upstream string) (string, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%s: %w", upstream, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return "", errs.Ef(errs.KindRateLimited, "%s throttled the request", upstream)
	case resp.StatusCode >= 500:
		return "", fmt.Errorf("%s returned %d", upstream, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return "", errs.Ef(errs.KindInvalidInput, "%s rejected the request with %d", upstream, resp.StatusCode)
	}

	var body textResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("%s: decode response: %w", upstream, err)
	}
	return body.Text, nil
}

// LLMHealth probes the LLM server; registered with the health monitor.
func (c *Client) LLMHealth(ctx context.Context) error {
	return c.probe(ctx, c.cfg.LLMBaseURL)
}

// ASROCRHealth probes the ASR/OCR server.
func (c *Client) ASROCRHealth(ctx context.Context) error {
	return c.probe(ctx, c.cfg.ASROCRBaseURL)
}

func (c *Client) probe(ctx context.Context, baseURL string) error {
	ctx, cancel := context.WithTimeout(ctx, healthProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health endpoint returned %d", resp.StatusCode)
	}
	return nil
}

// Close releases pooled connections.
func (c *Client) Close() {
	c.http.CloseIdleConnections()
}
