// Copyright 2025 The go-fieldsync Authors
// SPDX-License-Identifier: Apache-2.0

// Package fieldsync implements the offline-first sync engine: per-entity sync
// configuration, the durable mutation queue, the pull/push orchestrator, and
// the attachment upload pipeline. All components share one Engine context
// constructed explicitly at startup; there are no package-level singletons.
package fieldsync

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/fieldops/go-fieldsync/localstore"
)

// ConflictPolicy names how divergent copies are reconciled.
type ConflictPolicy string

// LastWriteWins keeps the copy with the newer updated_at timestamp. It is the
// only defined policy.
const LastWriteWins ConflictPolicy = "last_write_wins"

// Entity is the type-erased per-entity sync contract consumed by the
// orchestrator and mutation queue. Concrete values are built from Config.
type Entity interface {
	// Name is the wire name used in remote paths, e.g. "work-orders".
	Name() string
	// Table is the local table backing this entity.
	Table() string
	// BatchSize bounds pull pages and push batches.
	BatchSize() int
	// ApplyPull transforms and persists one pulled page inside tx. Malformed
	// records are skipped and logged, not fatal to the batch. maxCursor is
	// the highest cursor value observed (empty when nothing applied).
	ApplyPull(ctx context.Context, store *localstore.Store, tx *sql.Tx, logger *slog.Logger, records []json.RawMessage) (applied int, maxCursor string, err error)
	// ToWire converts a partial local payload to wire format. Fields absent
	// from the payload are omitted, never nulled.
	ToWire(partial map[string]any) (json.RawMessage, error)
	// Remap rewrites references to a temporary client id after the server
	// assigned a permanent one. Child-table foreign keys go here.
	Remap(ctx context.Context, store *localstore.Store, tx *sql.Tx, oldID, newID string) error
}

// Config describes how one entity of local type L syncs. Zero-value optional
// fields get defaults from Build.
type Config[L any] struct {
	// EntityName is the wire name (remote path segment).
	EntityName string
	// TableName is the local table. Defaults to EntityName.
	TableName string
	// CursorField is the column the incremental pull watermark is derived
	// from. Defaults to "updated_at".
	CursorField string
	// Batch bounds pull pages and push batches. Defaults to 100.
	Batch int
	// Conflict is the reconciliation policy. Defaults to LastWriteWins.
	Conflict ConflictPolicy

	// FromWire decodes one wire record into the local type.
	FromWire func(rec json.RawMessage) (L, error)
	// Row converts a local value to its column map.
	Row func(local L) localstore.Row
	// ToWire encodes a partial column payload to wire format, omitting
	// absent fields.
	ToWire func(partial map[string]any) (json.RawMessage, error)

	// Save, when set, replaces the default bulk upsert for pulled batches.
	// Used by entities whose local representation spans multiple tables.
	Save func(ctx context.Context, store *localstore.Store, tx *sql.Tx, locals []L, rows []localstore.Row) error
	// RemapRefs, when set, rewrites child-table references to a reassigned id.
	RemapRefs func(ctx context.Context, store *localstore.Store, tx *sql.Tx, oldID, newID string) error
}

// Build validates the config and returns its type-erased Entity.
func (c Config[L]) Build() (Entity, error) {
	if c.EntityName == "" {
		return nil, fmt.Errorf("entity config requires EntityName")
	}
	if c.FromWire == nil || c.Row == nil || c.ToWire == nil {
		return nil, fmt.Errorf("entity config %s requires FromWire, Row and ToWire", c.EntityName)
	}
	if c.TableName == "" {
		c.TableName = c.EntityName
	}
	if c.CursorField == "" {
		c.CursorField = "updated_at"
	}
	if c.Batch <= 0 {
		c.Batch = 100
	}
	if c.Conflict == "" {
		c.Conflict = LastWriteWins
	}
	if c.Conflict != LastWriteWins {
		return nil, fmt.Errorf("entity config %s: unsupported conflict policy %q", c.EntityName, c.Conflict)
	}
	return &entity[L]{cfg: c}, nil
}

// MustBuild is Build for static configs known to be valid.
func (c Config[L]) MustBuild() Entity {
	e, err := c.Build()
	if err != nil {
		panic(err)
	}
	return e
}

type entity[L any] struct {
	cfg Config[L]
}

func (e *entity[L]) Name() string   { return e.cfg.EntityName }
func (e *entity[L]) Table() string  { return e.cfg.TableName }
func (e *entity[L]) BatchSize() int { return e.cfg.Batch }

func (e *entity[L]) ApplyPull(ctx context.Context, store *localstore.Store, tx *sql.Tx, logger *slog.Logger, records []json.RawMessage) (int, string, error) {
	locals := make([]L, 0, len(records))
	rows := make([]localstore.Row, 0, len(records))
	maxCursor := ""
	for _, rec := range records {
		local, err := e.cfg.FromWire(rec)
		if err != nil {
			// One malformed record must not abort the remaining batch.
			logger.Warn("skipping malformed record",
				"entity", e.cfg.EntityName, "error", err)
			continue
		}
		row := e.cfg.Row(local)
		locals = append(locals, local)
		rows = append(rows, row)
		if cur, ok := row[e.cfg.CursorField].(string); ok && cur > maxCursor {
			maxCursor = cur
		}
	}
	if len(rows) == 0 {
		return 0, "", nil
	}

	if e.cfg.Save != nil {
		if err := e.cfg.Save(ctx, store, tx, locals, rows); err != nil {
			return 0, "", fmt.Errorf("custom save for %s failed: %w", e.cfg.EntityName, err)
		}
	} else if err := store.UpsertRows(ctx, tx, e.cfg.TableName, rows); err != nil {
		return 0, "", fmt.Errorf("bulk upsert for %s failed: %w", e.cfg.EntityName, err)
	}
	return len(rows), maxCursor, nil
}

func (e *entity[L]) ToWire(partial map[string]any) (json.RawMessage, error) {
	return e.cfg.ToWire(partial)
}

func (e *entity[L]) Remap(ctx context.Context, store *localstore.Store, tx *sql.Tx, oldID, newID string) error {
	if e.cfg.RemapRefs == nil {
		return nil
	}
	return e.cfg.RemapRefs(ctx, store, tx, oldID, newID)
}
