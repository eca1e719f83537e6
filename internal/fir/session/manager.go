// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package session manages the per-client workflow containers: creation,
// cached reads, serialised mutation and idle expiry. The store is the source
// of truth; the read cache is an optimisation correctness never relies on.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/fird/internal/cache"
	"github.com/ManuGH/fird/internal/fir/errs"
	"github.com/ManuGH/fird/internal/fir/model"
	"github.com/ManuGH/fird/internal/log"
	"github.com/ManuGH/fird/internal/metrics"
	"github.com/ManuGH/fird/internal/store"
)

const (
	readCacheTTL    = 60 * time.Second
	maxSweepCadence = 60 * time.Second
)

// Manager owns session lifecycle over a SessionStore.
type Manager struct {
	store   store.SessionStore
	timeout time.Duration
	cache   cache.Cache
	logger  zerolog.Logger
	now     func() time.Time

	mu    sync.Mutex
	locks map[string]*sessionLock

	sweepStop chan struct{}
	sweepDone chan struct{}
}

// sessionLock serialises mutations of one session. refs counts waiters so
// the entry can be removed once nobody holds or wants it.
type sessionLock struct {
	mu   sync.Mutex
	refs int
}

// NewManager builds a manager sweeping sessions idle longer than timeout.
func NewManager(s store.SessionStore, timeout time.Duration) *Manager {
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	m := &Manager{
		store:   s,
		timeout: timeout,
		cache:   cache.NewMemoryCache(time.Minute, 0),
		logger:  log.WithComponent("session"),
		now:     time.Now,
		locks:   make(map[string]*sessionLock),
	}
	metrics.RegisterCacheGauges("session", func() metrics.CacheSnapshot {
		st := m.cache.Stats()
		return metrics.CacheSnapshot{
			Hits: st.Hits, Misses: st.Misses, Sets: st.Sets, Evictions: st.Evictions, Size: st.CurrentSize,
		}
	})
	return m
}

// Create allocates and persists a fresh session on the transcript step.
func (m *Manager) Create(ctx context.Context, source model.SourceKind) (*model.Session, error) {
	sess := model.NewSession(source, m.now().UTC())
	if err := m.store.Put(ctx, sess); err != nil {
		return nil, err
	}
	metrics.RecordSessionCreated()
	m.logger.Info().
		Str(log.FieldEvent, "session.created").
		Str(log.FieldSessionID, sess.ID).
		Str(log.FieldSource, string(source)).
		Msg("session created")
	return sess, nil
}

// Get returns the session, serving repeated reads from a short-lived cache.
func (m *Manager) Get(ctx context.Context, id string) (*model.Session, error) {
	if !model.ValidSessionID(id) {
		return nil, errs.Ef(errs.KindInvalidInput, "malformed session id %q", id)
	}
	if v, ok := m.cache.Get(id); ok {
		return v.(*model.Session), nil
	}
	sess, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	m.cache.Set(id, sess, readCacheTTL)
	return sess, nil
}

// Lock acquires the session's mutation lock and returns the unlock func.
// The orchestrator holds it across a whole stage advance so model calls and
// the commit serialise per session; pair it with UpdateLocked.
func (m *Manager) Lock(id string) func() {
	l := m.acquire(id)
	return func() { m.release(id, l) }
}

// Update applies the mutator under the per-session lock and the store's
// transaction, bumps last_activity and refreshes the cache.
func (m *Manager) Update(ctx context.Context, id string, mutate func(*model.Session) error) (*model.Session, error) {
	unlock := m.Lock(id)
	defer unlock()
	return m.UpdateLocked(ctx, id, mutate)
}

// UpdateLocked is Update for callers already holding the session lock.
func (m *Manager) UpdateLocked(ctx context.Context, id string, mutate func(*model.Session) error) (*model.Session, error) {
	if !model.ValidSessionID(id) {
		return nil, errs.Ef(errs.KindInvalidInput, "malformed session id %q", id)
	}

	sess, err := m.store.Update(ctx, id, func(s *model.Session) error {
		if err := mutate(s); err != nil {
			return err
		}
		s.LastActivity = m.now().UTC()
		return nil
	})
	if err != nil {
		// The cached copy may now be stale relative to an aborted write's
		// in-memory mutations; drop it either way.
		m.cache.Delete(id)
		return nil, err
	}
	m.cache.Set(id, sess, readCacheTTL)
	return sess, nil
}

// AppendValidation atomically appends one record to the validation history.
func (m *Manager) AppendValidation(ctx context.Context, id string, rec model.ValidationRecord) (*model.Session, error) {
	return m.Update(ctx, id, func(s *model.Session) error {
		s.ValidationHistory = append(s.ValidationHistory, rec)
		return nil
	})
}

func (m *Manager) acquire(id string) *sessionLock {
	m.mu.Lock()
	l, ok := m.locks[id]
	if !ok {
		l = &sessionLock{}
		m.locks[id] = l
	}
	l.refs++
	m.mu.Unlock()

	l.mu.Lock()
	return l
}

func (m *Manager) release(id string, l *sessionLock) {
	l.mu.Unlock()

	m.mu.Lock()
	l.refs--
	if l.refs == 0 {
		delete(m.locks, id)
	}
	m.mu.Unlock()
}

// SweepExpired marks active sessions idle longer than the timeout as
// expired. Nothing is deleted; the store keeps the full record.
func (m *Manager) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	var stale []string
	counts := make(map[string]int)

	err := m.store.Scan(ctx, func(s *model.Session) bool {
		counts[string(s.Status)]++
		if s.Status == model.StatusActive && now.Sub(s.LastActivity) > m.timeout {
			stale = append(stale, s.ID)
		}
		return true
	})
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, id := range stale {
		_, err := m.Update(ctx, id, func(s *model.Session) error {
			// Re-check under the lock; the session may have just been touched.
			if s.Status != model.StatusActive || now.Sub(s.LastActivity) <= m.timeout {
				return errs.E(errs.KindWrongStep, "session no longer stale")
			}
			s.Status = model.StatusExpired
			return nil
		})
		if err != nil {
			if errs.IsKind(err, errs.KindWrongStep) || errs.IsKind(err, errs.KindNotFound) {
				continue
			}
			return expired, err
		}
		expired++
		counts[string(model.StatusActive)]--
		counts[string(model.StatusExpired)]++
		metrics.RecordSessionExpired()
		m.logger.Info().
			Str(log.FieldEvent, "session.expired").
			Str(log.FieldSessionID, id).
			Msg("idle session expired")
	}

	for status, n := range counts {
		metrics.SetSessionCount(status, n)
	}
	return expired, nil
}

// StartSweeper launches the background expiry loop. Stop with StopSweeper.
func (m *Manager) StartSweeper(ctx context.Context) {
	interval := m.timeout / 4
	if interval > maxSweepCadence {
		interval = maxSweepCadence
	}
	if interval <= 0 {
		interval = maxSweepCadence
	}

	m.sweepStop = make(chan struct{})
	m.sweepDone = make(chan struct{})

	go func() {
		defer close(m.sweepDone)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-m.sweepStop:
				return
			case <-ticker.C:
				if _, err := m.SweepExpired(ctx, m.now().UTC()); err != nil {
					m.logger.Error().
						Err(err).
						Str(log.FieldEvent, "session.sweep_failed").
						Msg("expiry sweep failed")
				}
			}
		}
	}()
}

// StopSweeper stops the background loop and waits for it to exit.
func (m *Manager) StopSweeper() {
	if m.sweepStop == nil {
		return
	}
	close(m.sweepStop)
	<-m.sweepDone
	m.sweepStop = nil
}

// FlushAll forwards the durability flush to the store at shutdown.
func (m *Manager) FlushAll(ctx context.Context) error {
	return m.store.FlushAll(ctx)
}
