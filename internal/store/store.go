// Package store is the metadata store (SPEC_FULL §4.A): a single embedded
// SQLite file holding cameras, recordings and schedules, one writer handle,
// forward-only idempotent migrations applied on every startup.
package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrNotFound is returned by single-row lookups that match nothing.
var ErrNotFound = errors.New("record not found")

// DBTX is satisfied by *sql.DB and *sql.Tx (grounded on the teacher's
// internal/data.DBTX pattern). The repositories below hold the store's
// *sql.DB rather than a DBTX, so their methods do not run inside a
// transaction opened with WithTx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Store owns the single *sql.DB handle plus typed repositories over it.
type Store struct {
	DB *sql.DB

	Cameras   CameraRepo
	Recordings RecordingRepo
	Schedules SchedulesRepo
}

// Open opens (creating if absent) the SQLite file at path, applies pending
// migrations, and wires the repositories.
func Open(path string, log *zap.Logger) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	// A single writer handle is the documented concurrency model (§5);
	// SQLite's single-writer limitation makes this more than cosmetic.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("store: ping: %w", err)
	}

	if err := migrateUp(db, log); err != nil {
		return nil, fmt.Errorf("store: migrate: %w", err)
	}

	s := &Store{DB: db}
	s.Cameras = CameraRepo{db: db}
	s.Recordings = RecordingRepo{db: db}
	s.Schedules = SchedulesRepo{db: db}
	return s, nil
}

func migrateUp(db *sql.DB, log *zap.Logger) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return err
	}
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return err
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	if log != nil {
		log.Info("store migrations applied")
	}
	return nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.DB.Close()
}

// WithTx runs fn inside a single transaction, committing on success.
func (s *Store) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
