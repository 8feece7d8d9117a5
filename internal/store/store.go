// Copyright: Jonathan Hall
// License: GNU AGPL, Version 3 or later; http://www.gnu.org/licenses/agpl.html

// Package store owns a single collection file: opening with the right
// pragmas, transaction wrapping, busy retry, online snapshots, and an
// idempotent checkpointing close. Nothing above this package touches SQLite
// directly.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	sqlite3 "github.com/mattn/go-sqlite3"
)

var (
	// ErrCollectionMissing is returned by Open when no file exists at the path.
	ErrCollectionMissing = errors.New("Collection not found")
	// ErrBusy is returned when SQLite reports the file locked after the retry
	// budget is exhausted.
	ErrBusy = errors.New("Collection is busy")
)

const (
	// Busy retry backoff: 10, 20, 40, 80, 160 ms.
	retryBase     = 10 * time.Millisecond
	RetryAttempts = 5
)

// Store is an open collection file.
type Store struct {
	db   *sqlx.DB
	path string

	mu       sync.Mutex
	closed   bool
	attempts int
}

// CollectionPath is the canonical location of a user's collection file under
// the data directory. Every code path that opens or creates a collection goes
// through this mapping.
func CollectionPath(dataDir string, userID int64) string {
	return filepath.Join(dataDir, fmt.Sprintf("user_%d.anki2", userID))
}

// Open opens the collection at path with WAL journaling, NORMAL synchronous
// and foreign keys on. The file must already exist; collections are created
// by anki.Initialize.
func Open(path string) (*Store, error) {
	return OpenWithRetries(path, RetryAttempts)
}

// OpenWithRetries is Open with a configurable busy retry budget.
func OpenWithRetries(path string, attempts int) (*Store, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrCollectionMissing, path)
	}
	dsn := path + "?_journal_mode=WAL&_synchronous=NORMAL&_foreign_keys=on&_txlock=immediate"
	db, err := sqlx.Connect("sqlite3", dsn)
	if err != nil {
		if isBusy(err) {
			return nil, fmt.Errorf("%w: %s", ErrBusy, path)
		}
		return nil, fmt.Errorf("open collection: %w", err)
	}
	// One connection: the registry already serializes per-user access, and a
	// single handle keeps the WAL checkpoint on Close deterministic.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if attempts <= 0 {
		attempts = RetryAttempts
	}
	return &Store{db: db, path: path, attempts: attempts}, nil
}

// Path returns the on-disk location of the collection.
func (s *Store) Path() string { return s.path }

// DB exposes the underlying handle for read queries. Writers should go
// through Execute or Transaction to get busy retry.
func (s *Store) DB() *sqlx.DB { return s.db }

// Execute runs a parameterized statement, retrying transient busy errors.
func (s *Store) Execute(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	var res sql.Result
	err := s.retry(ctx, func() error {
		var err error
		res, err = s.db.ExecContext(ctx, query, args...)
		return err
	})
	return res, err
}

// Transaction runs fn inside BEGIN IMMEDIATE / COMMIT, rolling back on any
// failure and surfacing the original error.
func (s *Store) Transaction(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	return s.retry(ctx, func() error {
		tx, err := s.db.BeginTxx(ctx, nil)
		if err != nil {
			return err
		}
		if err := fn(tx); err != nil {
			tx.Rollback()
			return err
		}
		return tx.Commit()
	})
}

// Snapshot produces a consistent copy of the collection suitable for export.
// VACUUM INTO gives online-backup semantics: readers and the WAL are not
// disturbed while the copy proceeds.
func (s *Store) Snapshot(ctx context.Context) ([]byte, error) {
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".snapshot-*")
	if err != nil {
		return nil, fmt.Errorf("snapshot temp file: %w", err)
	}
	tmpPath := tmp.Name()
	tmp.Close()
	os.Remove(tmpPath) // VACUUM INTO refuses to overwrite
	defer os.Remove(tmpPath)

	if err := s.retry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, "VACUUM INTO ?", tmpPath)
		return err
	}); err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	return os.ReadFile(tmpPath)
}

// Checkpoint flushes the WAL into the main database file.
func (s *Store) Checkpoint(ctx context.Context) error {
	return s.retry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)")
		return err
	})
}

// Close checkpoints the WAL and releases the handle. Safe to call more than
// once.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return s.db.Close()
}

// retry runs op, backing off on SQLITE_BUSY/SQLITE_LOCKED up to the attempt
// budget while honouring the caller's deadline.
func (s *Store) retry(ctx context.Context, op func() error) error {
	delay := retryBase
	var err error
	for attempt := 0; attempt < s.attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}
		if err = op(); err == nil || !isBusy(err) {
			return err
		}
	}
	return fmt.Errorf("%w: %v", ErrBusy, err)
}

func isBusy(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked
	}
	return false
}
