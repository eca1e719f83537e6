// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package secrets

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ManuGH/fird/internal/cache"
	"github.com/ManuGH/fird/internal/fir/errs"
)

func TestEnvProvider(t *testing.T) {
	t.Setenv("TEST_SECRET_ALPHA", "v1")

	p := NewEnvProvider()
	got, err := p.Get(context.Background(), "TEST_SECRET_ALPHA")
	if err != nil {
		t.Fatal(err)
	}
	if got != "v1" {
		t.Errorf("got %q, want v1", got)
	}

	_, err = p.Get(context.Background(), "TEST_SECRET_UNSET")
	if !errs.IsKind(err, errs.KindNotFound) {
		t.Errorf("missing env var: err = %v, want NotFound", err)
	}
}

func TestFileProviderLoadsAndReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secrets.json")
	if err := os.WriteFile(path, []byte(`{"API_KEY":"first"}`), 0o600); err != nil {
		t.Fatal(err)
	}

	p, err := NewFileProvider(path)
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	got, err := p.Get(context.Background(), "API_KEY")
	if err != nil || got != "first" {
		t.Fatalf("initial load: got %q, %v", got, err)
	}

	// Reload picks up the new value; a parse failure keeps the old map.
	if err := os.WriteFile(path, []byte(`{"API_KEY":"second"}`), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := p.reload(); err != nil {
		t.Fatal(err)
	}
	if got, _ := p.Get(context.Background(), "API_KEY"); got != "second" {
		t.Errorf("after reload: got %q, want second", got)
	}

	if err := os.WriteFile(path, []byte(`{not json`), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := p.reload(); err == nil {
		t.Error("malformed file must error")
	}
	if got, _ := p.Get(context.Background(), "API_KEY"); got != "second" {
		t.Errorf("malformed reload clobbered values: got %q", got)
	}
}

func TestFileProviderWatchPicksUpChanges(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secrets.json")
	if err := os.WriteFile(path, []byte(`{"API_KEY":"old"}`), 0o600); err != nil {
		t.Fatal(err)
	}

	p, err := NewFileProvider(path)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := p.Watch(ctx); err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(path, []byte(`{"API_KEY":"rotated"}`), 0o600); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if got, _ := p.Get(context.Background(), "API_KEY"); got == "rotated" {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatal("watcher did not pick up rotated secret")
}

func TestRemoteProvider(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch r.URL.Path {
		case "/secret/API_KEY":
			_, _ = w.Write([]byte(`{"value":"remote-key"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	p := NewRemoteProvider(srv.URL, "tok")
	got, err := p.Get(context.Background(), "API_KEY")
	if err != nil || got != "remote-key" {
		t.Fatalf("got %q, %v", got, err)
	}

	_, err = p.Get(context.Background(), "NOPE")
	if !errs.IsKind(err, errs.KindNotFound) {
		t.Errorf("404: err = %v, want NotFound", err)
	}

	bad := NewRemoteProvider(srv.URL, "wrong")
	_, err = bad.Get(context.Background(), "API_KEY")
	if !errs.IsKind(err, errs.KindInternal) {
		t.Errorf("401: err = %v, want Internal", err)
	}
}

func TestChainFallsThroughOnlyOnNotFound(t *testing.T) {
	t.Setenv("CHAIN_SECRET", "from-env")

	path := filepath.Join(t.TempDir(), "secrets.json")
	if err := os.WriteFile(path, []byte(`{"FILE_SECRET":"from-file"}`), 0o600); err != nil {
		t.Fatal(err)
	}
	fp, err := NewFileProvider(path)
	if err != nil {
		t.Fatal(err)
	}

	p := NewChain(fp, NewEnvProvider())
	if got, _ := p.Get(context.Background(), "FILE_SECRET"); got != "from-file" {
		t.Errorf("file secret: got %q", got)
	}
	if got, _ := p.Get(context.Background(), "CHAIN_SECRET"); got != "from-env" {
		t.Errorf("env fallback: got %q", got)
	}
	if _, err := p.Get(context.Background(), "MISSING"); !errs.IsKind(err, errs.KindNotFound) {
		t.Errorf("missing everywhere: err = %v", err)
	}
}

type countingProvider struct {
	calls int
	value string
}

func (p *countingProvider) Get(context.Context, string) (string, error) {
	p.calls++
	return p.value, nil
}

func TestCachedAvoidsRepeatLookups(t *testing.T) {
	inner := &countingProvider{value: "cached-value"}
	p := NewCached(inner, cache.NewMemoryCache(0, 0), time.Minute)

	for i := 0; i < 5; i++ {
		got, err := p.Get(context.Background(), "K")
		if err != nil || got != "cached-value" {
			t.Fatalf("get %d: %q, %v", i, got, err)
		}
	}
	if inner.calls != 1 {
		t.Errorf("inner provider called %d times, want 1", inner.calls)
	}
}
