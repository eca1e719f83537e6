// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package secrets resolves credentials at runtime. Outside production the
// process environment is the source of truth; a JSON secrets file can be
// layered on top and is hot-reloaded on change. In production a remote
// secrets service takes precedence. Every resolution path is wrapped in a
// short TTL cache so rotated values propagate without a restart.
package secrets

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/ManuGH/fird/internal/cache"
	"github.com/ManuGH/fird/internal/config"
	"github.com/ManuGH/fird/internal/fir/errs"
	"github.com/ManuGH/fird/internal/log"
)

const (
	cacheTTL      = 5 * time.Minute
	remoteTimeout = 5 * time.Second
)

// Provider resolves a named secret.
type Provider interface {
	Get(ctx context.Context, name string) (string, error)
}

// envProvider reads secrets from the process environment.
type envProvider struct{}

func (envProvider) Get(_ context.Context, name string) (string, error) {
	v := os.Getenv(name)
	if v == "" {
		return "", errs.Ef(errs.KindNotFound, "secret %s not set", name)
	}
	return v, nil
}

// NewEnvProvider returns the environment-backed provider.
func NewEnvProvider() Provider { return envProvider{} }

// FileProvider serves secrets from a JSON object file and reloads it when
// the file changes on disk.
type FileProvider struct {
	mu      sync.RWMutex
	values  map[string]string
	path    string
	watcher *fsnotify.Watcher
	logger  zerolog.Logger
}

// NewFileProvider loads the secrets file once. Call Watch to keep it fresh.
func NewFileProvider(path string) (*FileProvider, error) {
	p := &FileProvider{
		path:   path,
		logger: log.WithComponent("secrets"),
	}
	if err := p.reload(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *FileProvider) Get(_ context.Context, name string) (string, error) {
	p.mu.RLock()
	v, ok := p.values[name]
	p.mu.RUnlock()
	if !ok || v == "" {
		return "", errs.Ef(errs.KindNotFound, "secret %s not in secrets file", name)
	}
	return v, nil
}

// reload parses the file and atomically swaps the value map. A malformed
// file keeps the previous values in place.
func (p *FileProvider) reload() error {
	raw, err := os.ReadFile(p.path)
	if err != nil {
		return fmt.Errorf("secrets: read %s: %w", p.path, err)
	}
	values := make(map[string]string)
	if err := json.Unmarshal(raw, &values); err != nil {
		return fmt.Errorf("secrets: parse %s: %w", p.path, err)
	}

	p.mu.Lock()
	p.values = values
	p.mu.Unlock()

	p.logger.Info().
		Str("event", "secrets.reloaded").
		Int("count", len(values)).
		Msg("secrets file loaded")
	return nil
}

// Watch starts the file watcher. Rapid successive writes are debounced so
// editors that truncate-then-write trigger a single reload.
func (p *FileProvider) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("secrets: create watcher: %w", err)
	}
	if err := watcher.Add(p.path); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("secrets: watch %s: %w", p.path, err)
	}
	p.watcher = watcher

	p.logger.Info().
		Str("event", "secrets.watcher_started").
		Str("path", p.path).
		Msg("watching secrets file for changes")

	go p.watchLoop(ctx)
	return nil
}

func (p *FileProvider) watchLoop(ctx context.Context) {
	var debounce *time.Timer
	const debounceDelay = 500 * time.Millisecond

	for {
		select {
		case <-ctx.Done():
			p.logger.Info().Str("event", "secrets.watcher_stopped").Msg("secrets watcher stopped")
			_ = p.watcher.Close()
			return

		case event, ok := <-p.watcher.Events:
			if !ok {
				return
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(debounceDelay, func() {
					if err := p.reload(); err != nil {
						p.logger.Error().
							Err(err).
							Str("event", "secrets.reload_failed").
							Msg("keeping previous secret values")
					}
				})
			}

		case err, ok := <-p.watcher.Errors:
			if !ok {
				return
			}
			p.logger.Error().Err(err).Str("event", "secrets.watcher_error").Msg("secrets watcher error")
		}
	}
}

// Close stops the watcher if one is running.
func (p *FileProvider) Close() {
	if p.watcher != nil {
		_ = p.watcher.Close()
	}
}

// remoteProvider fetches secrets from a central secrets service.
type remoteProvider struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewRemoteProvider talks to GET {baseURL}/secret/{name} with bearer auth.
func NewRemoteProvider(baseURL, token string) Provider {
	return &remoteProvider{
		baseURL: baseURL,
		token:   token,
		client:  &http.Client{Timeout: remoteTimeout},
	}
}

func (p *remoteProvider) Get(ctx context.Context, name string) (string, error) {
	u := fmt.Sprintf("%s/secret/%s", p.baseURL, url.PathEscape(name))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", fmt.Errorf("secrets: build request: %w", err)
	}
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return "", errs.Wrap(errs.KindInternal, err, "secrets service unreachable")
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return "", errs.Ef(errs.KindNotFound, "secret %s not found", name)
	case resp.StatusCode != http.StatusOK:
		return "", errs.Ef(errs.KindInternal, "secrets service returned %d", resp.StatusCode)
	}

	var body struct {
		Value string `json:"value"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("secrets: decode response: %w", err)
	}
	if body.Value == "" {
		return "", errs.Ef(errs.KindNotFound, "secret %s is empty", name)
	}
	return body.Value, nil
}

// chain tries providers in order, returning the first hit. Only a NotFound
// falls through; infrastructure errors stop the chain.
type chain struct {
	providers []Provider
}

// NewChain layers providers, earliest first.
func NewChain(providers ...Provider) Provider {
	return &chain{providers: providers}
}

func (c *chain) Get(ctx context.Context, name string) (string, error) {
	var lastErr error
	for _, p := range c.providers {
		v, err := p.Get(ctx, name)
		if err == nil {
			return v, nil
		}
		if !errs.IsKind(err, errs.KindNotFound) {
			return "", err
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = errs.Ef(errs.KindNotFound, "secret %s not found", name)
	}
	return "", lastErr
}

// cached wraps a provider with a TTL cache so every request does not hit
// the underlying source. Lookup failures are not cached.
type cached struct {
	next Provider
	c    cache.Cache
	ttl  time.Duration
}

// NewCached caches successful lookups for ttl.
func NewCached(next Provider, c cache.Cache, ttl time.Duration) Provider {
	return &cached{next: next, c: c, ttl: ttl}
}

func (p *cached) Get(ctx context.Context, name string) (string, error) {
	if v, ok := p.c.Get(name); ok {
		return v.(string), nil
	}
	v, err := p.next.Get(ctx, name)
	if err != nil {
		return "", err
	}
	p.c.Set(name, v, p.ttl)
	return v, nil
}

// FromConfig assembles the provider stack for the given configuration:
// remote service in production when SECRETS_URL is set, secrets file when
// configured, environment as the final fallback. The result is TTL-cached.
// The returned stop function releases the file watcher, if any.
func FromConfig(ctx context.Context, cfg config.AppConfig) (Provider, func(), error) {
	var providers []Provider
	stop := func() {}

	if cfg.Production() && cfg.SecretsURL != "" {
		providers = append(providers, NewRemoteProvider(cfg.SecretsURL, os.Getenv("SECRETS_TOKEN")))
	}
	if cfg.SecretsFile != "" {
		fp, err := NewFileProvider(cfg.SecretsFile)
		if err != nil {
			return nil, nil, err
		}
		if err := fp.Watch(ctx); err != nil {
			return nil, nil, err
		}
		providers = append(providers, fp)
		stop = fp.Close
	}
	providers = append(providers, NewEnvProvider())

	store := cache.NewMemoryCache(time.Minute, 0)
	return NewCached(NewChain(providers...), store, cacheTTL), stop, nil
}
