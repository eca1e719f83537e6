// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package store defines the session persistence contract and the backend
// factory. The embedded stores hold the durable session state; correctness
// never depends on any cache above them.
package store

import (
	"context"

	"github.com/ManuGH/fird/internal/fir/model"
)

// SessionStore is the durable session KV contract. Unknown ids surface as
// a NotFound-kind error from every backend. Update applies the mutator
// inside one store transaction; a mutator error aborts the write.
type SessionStore interface {
	Put(ctx context.Context, s *model.Session) error
	Get(ctx context.Context, id string) (*model.Session, error)
	Update(ctx context.Context, id string, mutate func(*model.Session) error) (*model.Session, error)
	// Scan visits every session; returning false stops the scan.
	Scan(ctx context.Context, visit func(*model.Session) bool) error
	// FlushAll forces durability (WAL checkpoint / fsync). Used at shutdown.
	FlushAll(ctx context.Context) error
	Close() error
}

// Backend names accepted by the factory.
const (
	BackendSQLite = "sqlite"
	BackendBadger = "badger"
	BackendMemory = "memory"
)
