// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package kb queries the external vector store for legal provisions matching
// an incident summary. Results are cached for five minutes under a hash of
// the query text; concurrent misses for the same query collapse into one
// upstream request.
package kb

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/zeebo/blake3"
	"golang.org/x/sync/singleflight"

	"github.com/ManuGH/fird/internal/cache"
	"github.com/ManuGH/fird/internal/fir/errs"
	"github.com/ManuGH/fird/internal/fir/model"
	"github.com/ManuGH/fird/internal/log"
	"github.com/ManuGH/fird/internal/metrics"
)

const (
	// DefaultK is how many hits one query requests from the vector store.
	DefaultK = 15

	cacheTTL     = 5 * time.Minute
	cacheEntries = 100
	queryTimeout = 10 * time.Second
	probeTimeout = 5 * time.Second
)

// Retriever is the knowledge-base client.
type Retriever struct {
	baseURL string
	http    *http.Client
	cache   cache.Cache
	group   singleflight.Group
	logger  zerolog.Logger
}

// Option adjusts a Retriever.
type Option func(*Retriever)

// WithCache replaces the default in-memory result cache, e.g. with the
// Redis backend when replicas share cached hits.
func WithCache(c cache.Cache) Option {
	return func(r *Retriever) { r.cache = c }
}

// New builds a retriever for the vector store at baseURL.
func New(baseURL string, httpClient *http.Client, opts ...Option) *Retriever {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: queryTimeout}
	}
	r := &Retriever{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
		cache:   cache.NewMemoryCache(time.Minute, cacheEntries),
		logger:  log.WithComponent("kb"),
	}
	for _, opt := range opts {
		opt(r)
	}
	metrics.RegisterCacheGauges("kb", func() metrics.CacheSnapshot {
		s := r.cache.Stats()
		return metrics.CacheSnapshot{
			Hits: s.Hits, Misses: s.Misses, Sets: s.Sets, Evictions: s.Evictions, Size: s.CurrentSize,
		}
	})
	return r
}

// cacheKey hashes the query text so arbitrarily long prompts make fixed-size
// cache keys.
func cacheKey(prompt string) string {
	sum := blake3.Sum256([]byte(prompt))
	return hex.EncodeToString(sum[:])
}

// decodeHits recovers typed hits from a cache value. The memory cache hands
// back the slice it stored; the Redis backend round-trips through JSON and
// returns generic values, so those re-decode via the wire tags.
func decodeHits(v any) ([]model.KBHit, bool) {
	if hits, ok := v.([]model.KBHit); ok {
		return hits, true
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, false
	}
	var hits []model.KBHit
	if err := json.Unmarshal(raw, &hits); err != nil {
		return nil, false
	}
	return hits, true
}

type queryRequest struct {
	Text string `json:"text"`
	K    int    `json:"k"`
}

type queryResponse struct {
	Hits []model.KBHit `json:"hits"`
}

// Query returns up to k hits for the prompt, most relevant first. An empty
// result is a valid answer and is cached like any other.
func (r *Retriever) Query(ctx context.Context, prompt string, k int) ([]model.KBHit, error) {
	if k <= 0 {
		k = DefaultK
	}
	key := cacheKey(prompt)

	if v, ok := r.cache.Get(key); ok {
		if hits, ok := decodeHits(v); ok {
			return hits, nil
		}
		// Undecodable entry (e.g. written by an older build); refresh it.
		r.cache.Delete(key)
	}

	v, err, _ := r.group.Do(key, func() (any, error) {
		hits, err := r.query(ctx, prompt, k)
		if err != nil {
			return nil, err
		}
		r.cache.Set(key, hits, cacheTTL)
		return hits, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]model.KBHit), nil
}

func (r *Retriever) query(ctx context.Context, prompt string, k int) ([]model.KBHit, error) {
	start := time.Now()

	body, err := json.Marshal(queryRequest{Text: prompt, K: k})
	if err != nil {
		return nil, fmt.Errorf("kb: encode query: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/query", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("kb: build query: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("kb server: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, errs.Ef(errs.KindInternal, "kb server returned %d", resp.StatusCode)
	}

	var out queryResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("kb: decode response: %w", err)
	}
	if out.Hits == nil {
		out.Hits = []model.KBHit{}
	}

	r.logger.Debug().
		Str(log.FieldEvent, "kb.query").
		Int("hits", len(out.Hits)).
		Dur("elapsed", time.Since(start)).
		Msg("knowledge base queried")
	return out.Hits, nil
}

// TopM returns the first m hits; the orchestrator fans violation checks out
// over the top 10.
func TopM(hits []model.KBHit, m int) []model.KBHit {
	if m <= 0 || m >= len(hits) {
		return hits
	}
	return hits[:m]
}

// Health probes the vector store; registered with the health monitor.
func (r *Retriever) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := r.http.Do(req)
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
