// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package sqlitestore persists sessions in an embedded SQLite database in
// WAL mode with synchronous=FULL. It is the default session backend; the
// WAL checkpoint in FlushAll is the durability flush at shutdown.
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // Pure Go driver

	"github.com/ManuGH/fird/internal/fir/errs"
	"github.com/ManuGH/fird/internal/fir/model"
	"github.com/ManuGH/fird/internal/metrics"
)

const schemaVersion = 1

var errNotFound = errs.E(errs.KindNotFound, "session not found")

// Store implements store.SessionStore on modernc.org/sqlite.
type Store struct {
	db *sql.DB
}

// Open initializes the session database with the mandatory PRAGMAs. The
// pragmas ride in the DSN so they apply to every pooled connection.
func Open(dbPath string) (*Store, error) {
	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)",
		dbPath)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open failed: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: ping failed: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("session store: migration failed: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	var currentVersion int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&currentVersion); err != nil {
		return err
	}
	if currentVersion >= schemaVersion {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		step TEXT NOT NULL,
		awaiting INTEGER NOT NULL,
		state_json TEXT NOT NULL,
		history_json TEXT NOT NULL,
		created_at_ms INTEGER NOT NULL,
		last_activity_ms INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status);
	CREATE INDEX IF NOT EXISTS idx_sessions_last_activity ON sessions(last_activity_ms);
	`
	if _, err := tx.Exec(schema); err != nil {
		return err
	}
	if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) Put(ctx context.Context, sess *model.Session) error {
	start := time.Now()
	defer func() { metrics.ObserveStoreOp("sqlite", "put", time.Since(start)) }()

	stateJSON, err := json.Marshal(sess.State)
	if err != nil {
		return err
	}
	historyJSON, err := json.Marshal(sess.ValidationHistory)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
	INSERT INTO sessions (id, status, step, awaiting, state_json, history_json, created_at_ms, last_activity_ms)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		status = excluded.status,
		step = excluded.step,
		awaiting = excluded.awaiting,
		state_json = excluded.state_json,
		history_json = excluded.history_json,
		last_activity_ms = excluded.last_activity_ms`,
		sess.ID, string(sess.Status), string(sess.State.CurrentValidationStep),
		boolToInt(sess.State.AwaitingValidation), string(stateJSON), string(historyJSON),
		sess.CreatedAt.UnixMilli(), sess.LastActivity.UnixMilli())
	return err
}

func (s *Store) Get(ctx context.Context, id string) (*model.Session, error) {
	start := time.Now()
	defer func() { metrics.ObserveStoreOp("sqlite", "get", time.Since(start)) }()

	row := s.db.QueryRowContext(ctx,
		`SELECT id, status, state_json, history_json, created_at_ms, last_activity_ms FROM sessions WHERE id = ?`, id)
	return scanSession(row)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*model.Session, error) {
	var (
		sess                   model.Session
		status                 string
		stateJSON, historyJSON string
		createdMS, activityMS  int64
	)
	err := row.Scan(&sess.ID, &status, &stateJSON, &historyJSON, &createdMS, &activityMS)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errNotFound
	}
	if err != nil {
		return nil, err
	}
	sess.Status = model.Status(status)
	if err := json.Unmarshal([]byte(stateJSON), &sess.State); err != nil {
		return nil, fmt.Errorf("session %s: corrupt state: %w", sess.ID, err)
	}
	if err := json.Unmarshal([]byte(historyJSON), &sess.ValidationHistory); err != nil {
		return nil, fmt.Errorf("session %s: corrupt history: %w", sess.ID, err)
	}
	sess.CreatedAt = time.UnixMilli(createdMS).UTC()
	sess.LastActivity = time.UnixMilli(activityMS).UTC()
	return &sess, nil
}

// Update reads, mutates and writes back inside a single transaction so a
// crash cannot leave a half-applied session.
func (s *Store) Update(ctx context.Context, id string, mutate func(*model.Session) error) (*model.Session, error) {
	start := time.Now()
	defer func() { metrics.ObserveStoreOp("sqlite", "update", time.Since(start)) }()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx,
		`SELECT id, status, state_json, history_json, created_at_ms, last_activity_ms FROM sessions WHERE id = ?`, id)
	sess, err := scanSession(row)
	if err != nil {
		return nil, err
	}

	if err := mutate(sess); err != nil {
		return nil, err
	}

	stateJSON, err := json.Marshal(sess.State)
	if err != nil {
		return nil, err
	}
	historyJSON, err := json.Marshal(sess.ValidationHistory)
	if err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `
	UPDATE sessions SET status = ?, step = ?, awaiting = ?, state_json = ?, history_json = ?, last_activity_ms = ?
	WHERE id = ?`,
		string(sess.Status), string(sess.State.CurrentValidationStep),
		boolToInt(sess.State.AwaitingValidation), string(stateJSON), string(historyJSON),
		sess.LastActivity.UnixMilli(), id); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return sess, nil
}

func (s *Store) Scan(ctx context.Context, visit func(*model.Session) bool) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, status, state_json, history_json, created_at_ms, last_activity_ms FROM sessions`)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return err
		}
		if !visit(sess) {
			return nil
		}
	}
	return rows.Err()
}

// FlushAll checkpoints the WAL into the main database file.
func (s *Store) FlushAll(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)")
	return err
}

func (s *Store) Close() error { return s.db.Close() }

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
