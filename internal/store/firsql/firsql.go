// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package firsql persists final FIR records in MySQL. The schema is managed
// by embedded goose migrations; allocation collisions surface as a typed
// duplicate error so the orchestrator can retry with a fresh number.
package firsql

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"

	"github.com/ManuGH/fird/internal/fir/errs"
	"github.com/ManuGH/fird/internal/fir/model"
	"github.com/ManuGH/fird/internal/metrics"
)

//go:embed migrations/*.sql
var migrations embed.FS

// mysqlDupEntry is the server error number for a unique-key violation.
const mysqlDupEntry = 1062

// ErrDuplicateFIRNumber marks an allocation collision. The orchestrator
// retries with a fresh number up to three times.
var ErrDuplicateFIRNumber = errors.New("fir number already exists")

// Config holds the MySQL connection parameters.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	Timeout  time.Duration
}

// Store implements the FIR record store on sqlx over MySQL.
type Store struct {
	db      *sqlx.DB
	timeout time.Duration
}

// Open connects, configures the pool and runs pending migrations.
func Open(cfg Config) (*Store, error) {
	mc := mysql.NewConfig()
	mc.Net = "tcp"
	mc.Addr = fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	mc.User = cfg.User
	mc.Passwd = cfg.Password
	mc.DBName = cfg.Database
	mc.ParseTime = true
	mc.Loc = time.UTC

	db, err := sqlx.Connect("mysql", mc.FormatDSN())
	if err != nil {
		return nil, fmt.Errorf("firsql: connect: %w", err)
	}
	db.SetMaxOpenConns(15)
	db.SetConnMaxIdleTime(5 * time.Minute)
	db.SetConnMaxLifetime(30 * time.Minute)

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	s := &Store{db: db, timeout: timeout}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("firsql: migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("mysql"); err != nil {
		return err
	}
	return goose.Up(s.db.DB, "migrations")
}

func (s *Store) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

// InsertDraft stores a freshly allocated FIR as draft. A primary-key
// collision returns ErrDuplicateFIRNumber.
func (s *Store) InsertDraft(ctx context.Context, rec *model.FIRRecord) error {
	start := time.Now()
	defer func() { metrics.ObserveStoreOp("mysql", "insert_draft", time.Since(start)) }()

	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	_, err := s.db.NamedExecContext(ctx, `
	INSERT INTO fir_records (fir_number, session_id, status, fir_content, auth_key_hash, created_at)
	VALUES (:fir_number, :session_id, :status, :fir_content, :auth_key_hash, :created_at)`, rec)
	if err != nil {
		if isDuplicate(err) {
			return ErrDuplicateFIRNumber
		}
		return fmt.Errorf("insert draft: %w", err)
	}
	return nil
}

func isDuplicate(err error) bool {
	var myErr *mysql.MySQLError
	return errors.As(err, &myErr) && myErr.Number == mysqlDupEntry
}

// Finalize flips a draft to finalized, recording the auth key hash and the
// finalisation time. Finalizing an already-final record is a wrong-step
// conflict; an unknown number is not found.
func (s *Store) Finalize(ctx context.Context, firNumber, authKeyHash string, at time.Time) error {
	start := time.Now()
	defer func() { metrics.ObserveStoreOp("mysql", "finalize", time.Since(start)) }()

	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	res, err := s.db.ExecContext(ctx, `
	UPDATE fir_records SET status = ?, auth_key_hash = ?, finalized_at = ?
	WHERE fir_number = ? AND status = ?`,
		string(model.FIRFinalized), authKeyHash, at.UTC(), firNumber, string(model.FIRDraft))
	if err != nil {
		return fmt.Errorf("finalize: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finalize: rows affected: %w", err)
	}
	if n == 0 {
		// Distinguish missing from already-finalized for the caller.
		if _, err := s.GetMeta(ctx, firNumber); err != nil {
			return err
		}
		return errs.Ef(errs.KindWrongStep, "fir %s is not in draft status", firNumber)
	}
	return nil
}

// GetMeta loads a record without its body.
func (s *Store) GetMeta(ctx context.Context, firNumber string) (*model.FIRRecord, error) {
	start := time.Now()
	defer func() { metrics.ObserveStoreOp("mysql", "get_meta", time.Since(start)) }()

	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var rec model.FIRRecord
	err := s.db.GetContext(ctx, &rec, `
	SELECT fir_number, session_id, status, '' AS fir_content, COALESCE(auth_key_hash, '') AS auth_key_hash, created_at, finalized_at
	FROM fir_records WHERE fir_number = ?`, firNumber)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.Ef(errs.KindNotFound, "fir %s not found", firNumber)
	}
	if err != nil {
		return nil, fmt.Errorf("get meta: %w", err)
	}
	return &rec, nil
}

// GetContent loads a record including its body.
func (s *Store) GetContent(ctx context.Context, firNumber string) (*model.FIRRecord, error) {
	start := time.Now()
	defer func() { metrics.ObserveStoreOp("mysql", "get_content", time.Since(start)) }()

	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var rec model.FIRRecord
	err := s.db.GetContext(ctx, &rec, `
	SELECT fir_number, session_id, status, fir_content, COALESCE(auth_key_hash, '') AS auth_key_hash, created_at, finalized_at
	FROM fir_records WHERE fir_number = ?`, firNumber)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.Ef(errs.KindNotFound, "fir %s not found", firNumber)
	}
	if err != nil {
		return nil, fmt.Errorf("get content: %w", err)
	}
	return &rec, nil
}

// List returns record metadata newest first.
func (s *Store) List(ctx context.Context, limit, offset int) ([]model.FIRRecord, error) {
	start := time.Now()
	defer func() { metrics.ObserveStoreOp("mysql", "list", time.Since(start)) }()

	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	recs := []model.FIRRecord{}
	err := s.db.SelectContext(ctx, &recs, `
	SELECT fir_number, session_id, status, '' AS fir_content, COALESCE(auth_key_hash, '') AS auth_key_hash, created_at, finalized_at
	FROM fir_records ORDER BY created_at DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list: %w", err)
	}
	return recs, nil
}

// Flush verifies connectivity at shutdown. InnoDB's synchronous commit and
// doublewrite settings own actual durability; FLUSH TABLES is a DBA
// operation we deliberately do not issue.
func (s *Store) Flush(ctx context.Context) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	return s.db.PingContext(ctx)
}

// Ping reports connectivity; used by the health monitor.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error { return s.db.Close() }
