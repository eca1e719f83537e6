// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package kb

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"

	"github.com/ManuGH/fird/internal/cache"
	"github.com/ManuGH/fird/internal/fir/model"
)

func kbServer(t *testing.T, calls *atomic.Int32, hits []model.KBHit) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			w.WriteHeader(http.StatusOK)
		case "/query":
			calls.Add(1)
			var req queryRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			if req.K <= 0 {
				t.Errorf("k = %d", req.K)
			}
			_ = json.NewEncoder(w).Encode(queryResponse{Hits: hits})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

func TestQueryCachesByPrompt(t *testing.T) {
	var calls atomic.Int32
	want := []model.KBHit{
		{Text: "theft of movable property", Reference: "IPC 378"},
		{Text: "criminal breach of trust", Reference: "IPC 405"},
	}
	srv := kbServer(t, &calls, want)
	defer srv.Close()

	r := New(srv.URL, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		got, err := r.Query(ctx, "wallet stolen near main square", DefaultK)
		if err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Fatalf("hits mismatch (-want +got):\n%s", diff)
		}
	}
	if calls.Load() != 1 {
		t.Errorf("upstream queried %d times, want 1", calls.Load())
	}

	// A different prompt misses the cache.
	if _, err := r.Query(ctx, "entirely different incident", DefaultK); err != nil {
		t.Fatal(err)
	}
	if calls.Load() != 2 {
		t.Errorf("upstream queried %d times, want 2", calls.Load())
	}
}

func TestQueryEmptyResultIsValidAndCached(t *testing.T) {
	var calls atomic.Int32
	srv := kbServer(t, &calls, nil)
	defer srv.Close()

	r := New(srv.URL, nil)
	for i := 0; i < 2; i++ {
		got, err := r.Query(context.Background(), "no matching provisions", DefaultK)
		if err != nil {
			t.Fatal(err)
		}
		if got == nil || len(got) != 0 {
			t.Errorf("got %#v, want empty non-nil slice", got)
		}
	}
	if calls.Load() != 1 {
		t.Errorf("empty result not cached: %d calls", calls.Load())
	}
}

func TestConcurrentMissesCollapse(t *testing.T) {
	var calls atomic.Int32
	srv := kbServer(t, &calls, []model.KBHit{{Text: "t", Reference: "r"}})
	defer srv.Close()

	r := New(srv.URL, nil)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := r.Query(context.Background(), "same prompt", DefaultK); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	if calls.Load() != 1 {
		t.Errorf("concurrent misses made %d upstream calls, want 1", calls.Load())
	}
}

func TestTopM(t *testing.T) {
	hits := make([]model.KBHit, 15)
	for i := range hits {
		hits[i].Reference = string(rune('a' + i))
	}
	if got := TopM(hits, 10); len(got) != 10 {
		t.Errorf("len = %d, want 10", len(got))
	}
	if got := TopM(hits, 0); len(got) != 15 {
		t.Errorf("m=0 must return all hits, got %d", len(got))
	}
	if got := TopM(hits[:3], 10); len(got) != 3 {
		t.Errorf("short input: len = %d, want 3", len(got))
	}
}

func TestCacheKeyStableAndDistinct(t *testing.T) {
	if cacheKey("a") != cacheKey("a") {
		t.Error("same prompt must hash identically")
	}
	if cacheKey("a") == cacheKey("b") {
		t.Error("different prompts must not collide")
	}
	if len(cacheKey("a")) != 64 {
		t.Errorf("key length = %d, want 64 hex chars", len(cacheKey("a")))
	}
}

func TestHealthProbe(t *testing.T) {
	var calls atomic.Int32
	srv := kbServer(t, &calls, nil)
	defer srv.Close()

	r := New(srv.URL, nil)
	if err := r.Health(context.Background()); err != nil {
		t.Fatal(err)
	}

	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer down.Close()
	if err := New(down.URL, nil).Health(context.Background()); err == nil {
		t.Error("unhealthy upstream must fail the probe")
	}
}

func TestWithCacheSharesResultsAcrossRetrievers(t *testing.T) {
	mr := miniredis.RunT(t)
	shared, err := cache.NewRedisCache(cache.RedisConfig{Addr: mr.Addr(), Prefix: "fird:kb"}, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = shared.Close() }()

	var calls atomic.Int32
	want := []model.KBHit{
		{Text: "house-trespass", Reference: "IPC 442"},
		{Text: "mischief", Reference: "IPC 425"},
	}
	srv := kbServer(t, &calls, want)
	defer srv.Close()

	first := New(srv.URL, nil, WithCache(shared))
	got, err := first.Query(context.Background(), "broke into the shed", DefaultK)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("hits mismatch (-want +got):\n%s", diff)
	}

	// A second retriever over the same backend serves the hit without
	// touching the upstream, and the JSON round-trip preserves the types.
	second := New(srv.URL, nil, WithCache(shared))
	got, err = second.Query(context.Background(), "broke into the shed", DefaultK)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("shared hit mismatch (-want +got):\n%s", diff)
	}
	if calls.Load() != 1 {
		t.Errorf("upstream queried %d times, want 1", calls.Load())
	}
}

func TestQueryRefreshesUndecodableCacheEntry(t *testing.T) {
	var calls atomic.Int32
	want := []model.KBHit{{Text: "cheating", Reference: "IPC 415"}}
	srv := kbServer(t, &calls, want)
	defer srv.Close()

	seeded := cache.NewMemoryCache(0, 0)
	prompt := "paid for goods never delivered"
	seeded.Set(cacheKey(prompt), "not a hit slice", time.Hour)

	r := New(srv.URL, nil, WithCache(seeded))
	got, err := r.Query(context.Background(), prompt, DefaultK)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("hits mismatch (-want +got):\n%s", diff)
	}
	if calls.Load() != 1 {
		t.Errorf("poisoned entry must be refreshed upstream, got %d calls", calls.Load())
	}
}
