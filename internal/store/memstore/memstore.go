// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package memstore provides the in-memory session store used by tests and
// development runs. Semantics mirror the durable backends, minus the
// durability.
package memstore

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/ManuGH/fird/internal/fir/errs"
	"github.com/ManuGH/fird/internal/fir/model"
)

var errNotFound = errs.E(errs.KindNotFound, "session not found")

// Store is a map-backed SessionStore. Values are deep-copied on every
// boundary so callers cannot alias internal state.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*model.Session
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{sessions: make(map[string]*model.Session)}
}

func clone(s *model.Session) *model.Session {
	buf, _ := json.Marshal(s)
	var out model.Session
	_ = json.Unmarshal(buf, &out)
	return &out
}

func (m *Store) Put(ctx context.Context, s *model.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = clone(s)
	return nil
}

func (m *Store) Get(ctx context.Context, id string) (*model.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, errNotFound
	}
	return clone(s), nil
}

func (m *Store) Update(ctx context.Context, id string, mutate func(*model.Session) error) (*model.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, errNotFound
	}
	work := clone(s)
	if err := mutate(work); err != nil {
		return nil, err
	}
	m.sessions[id] = clone(work)
	return work, nil
}

func (m *Store) Scan(ctx context.Context, visit func(*model.Session) bool) error {
	m.mu.RLock()
	snapshot := make([]*model.Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		snapshot = append(snapshot, clone(s))
	}
	m.mu.RUnlock()

	for _, s := range snapshot {
		if !visit(s) {
			return nil
		}
	}
	return nil
}

func (m *Store) FlushAll(ctx context.Context) error { return nil }

func (m *Store) Close() error { return nil }
