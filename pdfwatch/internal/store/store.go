// Package store persists discovered documents and the run log in SQLite.
//
// Documents are add-once: there is no update or delete. The dedup key
// data_sha512 is always computed here from the stored bytes and backed by a
// unique index, so concurrent writers cannot insert the same content twice.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a document id does not exist.
var ErrNotFound = errors.New("store: not found")

// ErrDuplicate is returned by Insert when a document with the same
// data_sha512 already exists.
var ErrDuplicate = errors.New("store: duplicate content")

// Store wraps the document database.
type Store struct {
	DB  *sql.DB
	now func() time.Time
}

type config struct {
	busyTimeout int
	mkdirAll    bool
	migrate     bool
	now         func() time.Time
}

// Option customises Open behaviour.
type Option func(*config)

// WithBusyTimeout sets PRAGMA busy_timeout in milliseconds. Default: 10000.
func WithBusyTimeout(ms int) Option { return func(c *config) { c.busyTimeout = ms } }

// WithMkdirAll creates parent directories of the database path before opening.
func WithMkdirAll() Option { return func(c *config) { c.mkdirAll = true } }

// WithoutMigrate skips applying pending migrations on open.
func WithoutMigrate() Option { return func(c *config) { c.migrate = false } }

// WithClock overrides the clock used for created_on.
func WithClock(now func() time.Time) Option { return func(c *config) { c.now = now } }

// Open opens the SQLite database at path, applies pragmas and runs pending
// migrations.
func Open(path string, opts ...Option) (*Store, error) {
	cfg := config{busyTimeout: 10_000, migrate: true, now: time.Now}
	for _, o := range opts {
		o(&cfg)
	}

	if cfg.mkdirAll && path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("store: mkdir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	if path == ":memory:" {
		// Each connection to ":memory:" is a separate database.
		db.SetMaxOpenConns(1)
	}

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.busyTimeout),
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("store: %s: %w", p, err)
		}
	}

	s := &Store{DB: db, now: cfg.now}
	if cfg.migrate {
		if err := s.MigrateUp(); err != nil {
			db.Close()
			return nil, err
		}
	}
	return s, nil
}

// OpenMemory opens a migrated in-memory store for testing and registers
// t.Cleanup to close it.
func OpenMemory(t testing.TB, opts ...Option) *Store {
	t.Helper()
	s, err := Open(":memory:", opts...)
	if err != nil {
		t.Fatalf("store.OpenMemory: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// Close closes the database.
func (s *Store) Close() error {
	return s.DB.Close()
}

// timeLayout is fixed-width so stored UTC timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.Format(timeLayout)
}

func formatTimePtr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func parseTimePtr(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
