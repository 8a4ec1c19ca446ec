// Copyright 2025 The go-fieldsync Authors
// SPDX-License-Identifier: Apache-2.0

// Package localstore provides the on-device SQLite store that every other
// component treats as the single source of truth. It owns the schema for all
// synced entity tables plus the sync bookkeeping tables (mutation queue,
// cursors), and exposes generic row-map CRUD with last-write-wins upserts.
package localstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned by point lookups when no row matches.
var ErrNotFound = errors.New("localstore: row not found")

// TimeFormat is the canonical timestamp encoding for all TEXT time columns.
const TimeFormat = "2006-01-02T15:04:05.999Z07:00"

// Store wraps the SQLite database used for all local persistence.
type Store struct {
	DB     *sql.DB
	logger *slog.Logger
	tables *tableInfoProvider
}

// Open opens (or creates) the database at path and initializes the schema.
// Use ":memory:" for an in-memory database in tests.
func Open(path string, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection avoids SQLITE_BUSY between the UI write path and the
	// sync loops, and keeps :memory: databases coherent across goroutines.
	db.SetMaxOpenConns(1)

	s, err := NewStore(db, logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewStore wraps an existing database handle and initializes the schema.
func NewStore(db *sql.DB, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		DB:     db,
		logger: logger,
		tables: newTableInfoProvider(),
	}
	if err := s.init(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) init() error {
	if _, err := s.DB.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		return fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := s.DB.Exec(`PRAGMA foreign_keys=ON`); err != nil {
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	for _, ddl := range schemaDDL {
		if _, err := s.DB.Exec(ddl); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.DB.Close()
}

// WithTx runs fn inside a transaction, rolling back on error or panic.
func (s *Store) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	committed = true
	return nil
}

// Now returns the current UTC time truncated to the stored precision, so that
// values survive a text round-trip unchanged.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}

// FormatTime encodes t for storage in a TEXT column.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeFormat)
}

// ParseTime decodes a stored timestamp. Empty input yields the zero time.
func ParseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(TimeFormat, s)
	if err != nil {
		// Server timestamps may come without sub-second precision.
		t, err = time.Parse(time.RFC3339, s)
		if err != nil {
			return time.Time{}, fmt.Errorf("failed to parse timestamp %q: %w", s, err)
		}
	}
	return t.UTC(), nil
}
