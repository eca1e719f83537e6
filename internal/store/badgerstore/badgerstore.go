// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package badgerstore persists sessions in a Badger key-value database.
// Alternate backend to sqlitestore; selected with SESSION_STORE_BACKEND=badger.
package badgerstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/ManuGH/fird/internal/fir/errs"
	"github.com/ManuGH/fird/internal/fir/model"
	"github.com/ManuGH/fird/internal/metrics"
)

const keyPrefix = "sess:"

var errNotFound = errs.E(errs.KindNotFound, "session not found")

// Store implements store.SessionStore on badger.
type Store struct {
	db *badger.DB
}

// Open initializes the badger database at path. Badger's own logger is
// silenced; our structured log covers the store's operations.
func Open(path string) (*Store, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

func key(id string) []byte { return []byte(keyPrefix + id) }

func (s *Store) Put(ctx context.Context, sess *model.Session) error {
	start := time.Now()
	defer func() { metrics.ObserveStoreOp("badger", "put", time.Since(start)) }()

	buf, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key(sess.ID), buf)
	})
}

func (s *Store) Get(ctx context.Context, id string) (*model.Session, error) {
	start := time.Now()
	defer func() { metrics.ObserveStoreOp("badger", "get", time.Since(start)) }()

	var out model.Session
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key(id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &out)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, errNotFound
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *Store) Update(ctx context.Context, id string, mutate func(*model.Session) error) (*model.Session, error) {
	start := time.Now()
	defer func() { metrics.ObserveStoreOp("badger", "update", time.Since(start)) }()

	var out model.Session
	err := s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(key(id))
		if err != nil {
			return err
		}
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &out)
		}); err != nil {
			return err
		}
		if err := mutate(&out); err != nil {
			return err
		}
		buf, err := json.Marshal(out)
		if err != nil {
			return err
		}
		return txn.Set(key(id), buf)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, errNotFound
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *Store) Scan(ctx context.Context, visit func(*model.Session) bool) error {
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(keyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			var sess model.Session
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &sess)
			}); err != nil {
				return err
			}
			if !visit(&sess) {
				return nil
			}
		}
		return nil
	})
}

// FlushAll syncs badger's value log to disk.
func (s *Store) FlushAll(ctx context.Context) error {
	return s.db.Sync()
}

func (s *Store) Close() error { return s.db.Close() }
