// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package store

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/ManuGH/fird/internal/store/badgerstore"
	"github.com/ManuGH/fird/internal/store/memstore"
	"github.com/ManuGH/fird/internal/store/sqlitestore"
)

// OpenSessionStore opens the configured session backend. For the disk
// backends the parent directory is created if needed.
func OpenSessionStore(backend, path string) (SessionStore, error) {
	switch backend {
	case BackendSQLite, "":
		if err := ensureDir(path); err != nil {
			return nil, err
		}
		return sqlitestore.Open(path)
	case BackendBadger:
		if err := os.MkdirAll(path, 0o750); err != nil {
			return nil, fmt.Errorf("session store: create dir: %w", err)
		}
		return badgerstore.Open(path)
	case BackendMemory:
		return memstore.New(), nil
	default:
		return nil, fmt.Errorf("unknown session store backend %q", backend)
	}
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("session store: create dir: %w", err)
	}
	return nil
}
