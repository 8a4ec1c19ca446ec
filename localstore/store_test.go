// Copyright 2025 The go-fieldsync Authors
// SPDX-License-Identifier: Apache-2.0

package localstore

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(":memory:", slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func insertExpense(t *testing.T, store *Store, row Row) {
	t.Helper()
	err := store.WithTx(context.Background(), func(tx *sql.Tx) error {
		return store.InsertRowTx(context.Background(), tx, "expenses", row)
	})
	require.NoError(t, err)
}

func TestTimeRoundTrip(t *testing.T) {
	now := Now()
	parsed, err := ParseTime(FormatTime(now))
	require.NoError(t, err)
	require.True(t, parsed.Equal(now))
}

func TestParseTimeAcceptsSecondPrecision(t *testing.T) {
	parsed, err := ParseTime("2025-06-01T10:00:00Z")
	require.NoError(t, err)
	require.Equal(t, 2025, parsed.Year())

	_, err = ParseTime("not-a-timestamp")
	require.Error(t, err)
}

func TestGetRowNotFound(t *testing.T) {
	store := newTestStore(t)
	_, err := store.GetRow(context.Background(), "expenses", "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestInsertRejectsUnknownColumn(t *testing.T) {
	store := newTestStore(t)
	err := store.WithTx(context.Background(), func(tx *sql.Tx) error {
		return store.InsertRowTx(context.Background(), tx, "expenses", Row{
			"id": "e1", "technician_id": "tech-1", "bogus": 1,
			"created_at": FormatTime(Now()), "updated_at": FormatTime(Now()),
		})
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "bogus")
}

func TestUpdateRowNotFound(t *testing.T) {
	store := newTestStore(t)
	err := store.WithTx(context.Background(), func(tx *sql.Tx) error {
		return store.UpdateRowTx(context.Background(), tx, "expenses", "missing", Row{"amount": 5.0})
	})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestUpsertLastWriteWins(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	insertExpense(t, store, Row{
		"id": "e1", "technician_id": "tech-1", "amount": 10.0, "description": "local edit",
		"created_at": FormatTime(base), "updated_at": FormatTime(base.Add(time.Hour)),
	})

	// Older incoming copy must not overwrite the newer local one.
	err := store.WithTx(ctx, func(tx *sql.Tx) error {
		return store.UpsertRows(ctx, tx, "expenses", []Row{{
			"id": "e1", "technician_id": "tech-1", "amount": 99.0, "description": "stale server copy",
			"created_at": FormatTime(base), "updated_at": FormatTime(base.Add(time.Minute)),
		}})
	})
	require.NoError(t, err)

	row, err := store.GetRow(ctx, "expenses", "e1")
	require.NoError(t, err)
	require.Equal(t, "local edit", row["description"])
	require.Equal(t, 10.0, row["amount"])

	// Newer incoming copy wins.
	err = store.WithTx(ctx, func(tx *sql.Tx) error {
		return store.UpsertRows(ctx, tx, "expenses", []Row{{
			"id": "e1", "technician_id": "tech-1", "amount": 25.0, "description": "fresh server copy",
			"created_at": FormatTime(base), "updated_at": FormatTime(base.Add(2 * time.Hour)),
		}})
	})
	require.NoError(t, err)

	row, err = store.GetRow(ctx, "expenses", "e1")
	require.NoError(t, err)
	require.Equal(t, "fresh server copy", row["description"])
	require.Equal(t, 25.0, row["amount"])
}

func TestUpsertInsertsNewRows(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	err := store.WithTx(ctx, func(tx *sql.Tx) error {
		return store.UpsertRows(ctx, tx, "expenses", []Row{{
			"id": "e2", "technician_id": "tech-1", "amount": 7.5,
			"created_at": FormatTime(Now()), "updated_at": FormatTime(Now()),
		}})
	})
	require.NoError(t, err)

	n, err := store.CountWhere(ctx, "expenses", "id = ?", "e2")
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestUpsertRequiresIDAndUpdatedAt(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	err := store.WithTx(ctx, func(tx *sql.Tx) error {
		return store.UpsertRows(ctx, tx, "expenses", []Row{{"id": "e3", "amount": 1.0}})
	})
	require.Error(t, err)
}

func TestReplaceChildRows(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := FormatTime(Now())

	item := func(id, desc string) Row {
		return Row{
			"id": id, "quote_id": "q1", "description": desc,
			"quantity": 1.0, "unit_price": 10.0, "total": 10.0, "position": 0,
			"created_at": now, "updated_at": now,
		}
	}
	err := store.WithTx(ctx, func(tx *sql.Tx) error {
		return store.ReplaceChildRows(ctx, tx, "quote_items", "quote_id", "q1",
			[]Row{item("i1", "labor"), item("i2", "parts")})
	})
	require.NoError(t, err)

	err = store.WithTx(ctx, func(tx *sql.Tx) error {
		return store.ReplaceChildRows(ctx, tx, "quote_items", "quote_id", "q1",
			[]Row{item("i3", "labor only")})
	})
	require.NoError(t, err)

	rows, err := store.QueryRows(ctx, "quote_items", "quote_id = ?", "q1")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "i3", rows[0]["id"])
}

func TestDeleteMissingRowIsNotAnError(t *testing.T) {
	store := newTestStore(t)
	err := store.WithTx(context.Background(), func(tx *sql.Tx) error {
		return store.DeleteRowTx(context.Background(), tx, "expenses", "never-existed")
	})
	require.NoError(t, err)
}
