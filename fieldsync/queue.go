// Copyright 2025 The go-fieldsync Authors
// SPDX-License-Identifier: Apache-2.0

package fieldsync

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/fieldops/go-fieldsync/localstore"
)

// Op is the mutation operation kind.
type Op string

const (
	OpCreate Op = "CREATE"
	OpUpdate Op = "UPDATE"
	OpDelete Op = "DELETE"
)

// Mutation is one durably queued local change awaiting push.
type Mutation struct {
	Seq       int64
	Entity    string
	PK        string
	Op        Op
	Payload   localstore.Row // snapshot at enqueue time; nil for DELETE
	QueuedAt  time.Time
	Attempts  int
	LastError string
}

// Queue is the durable mutation queue. It is the only reader and writer of
// the _sync_mutations table.
type Queue struct {
	store  *localstore.Store
	logger *slog.Logger
	events *Events
}

// NewQueue creates a mutation queue over the given store.
func NewQueue(store *localstore.Store, logger *slog.Logger, events *Events) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{store: store, logger: logger, events: events}
}

// EnqueueTx appends a mutation inside the same transaction as the local write
// that caused it, so the write and its queue record are atomic.
func (q *Queue) EnqueueTx(ctx context.Context, tx *sql.Tx, entity, pk string, op Op, payload localstore.Row) error {
	var payloadText any
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal mutation payload: %w", err)
		}
		payloadText = string(data)
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO _sync_mutations (entity, pk, op, payload, queued_at)
		VALUES (?, ?, ?, ?, ?)
	`, entity, pk, string(op), payloadText, localstore.FormatTime(localstore.Now()))
	if err != nil {
		return fmt.Errorf("failed to enqueue mutation: %w", err)
	}
	return nil
}

// Pending returns queued mutations for one entity in enqueue order.
func (q *Queue) Pending(ctx context.Context, entity string, limit int) ([]Mutation, error) {
	rows, err := q.store.DB.QueryContext(ctx, `
		SELECT seq, entity, pk, op, payload, queued_at, attempts, COALESCE(last_error, '')
		FROM _sync_mutations
		WHERE entity = ?
		ORDER BY seq
		LIMIT ?
	`, entity, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending mutations: %w", err)
	}
	defer rows.Close()

	var out []Mutation
	for rows.Next() {
		var m Mutation
		var op, queuedAt string
		var payload sql.NullString
		if err := rows.Scan(&m.Seq, &m.Entity, &m.PK, &op, &payload, &queuedAt, &m.Attempts, &m.LastError); err != nil {
			return nil, fmt.Errorf("failed to scan mutation: %w", err)
		}
		m.Op = Op(op)
		if payload.Valid && payload.String != "" {
			var p localstore.Row
			if err := json.Unmarshal([]byte(payload.String), &p); err != nil {
				return nil, fmt.Errorf("failed to unmarshal mutation payload: %w", err)
			}
			m.Payload = p
		}
		if t, err := localstore.ParseTime(queuedAt); err == nil {
			m.QueuedAt = t
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// PendingCount returns the total number of queued mutations.
func (q *Queue) PendingCount(ctx context.Context) (int, error) {
	var n int
	err := q.store.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM _sync_mutations`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending mutations: %w", err)
	}
	return n, nil
}

// Drain pushes the entity's queued mutations in batches until the queue is
// empty or a batch makes no progress. Per-mutation results are applied
// independently: ok removes and reconciles, rejected removes and surfaces,
// error keeps the mutation queued with an incremented attempt counter.
func (q *Queue) Drain(ctx context.Context, ent Entity, transport *Transport) error {
	for {
		mutations, err := q.Pending(ctx, ent.Name(), ent.BatchSize())
		if err != nil {
			return err
		}
		if len(mutations) == 0 {
			return nil
		}

		wire := make([]WireMutation, len(mutations))
		for i, m := range mutations {
			wm := WireMutation{ID: m.PK, Op: string(m.Op)}
			if m.Op != OpDelete {
				payload, err := ent.ToWire(map[string]any(m.Payload))
				if err != nil {
					return fmt.Errorf("failed to encode mutation %d for %s: %w", m.Seq, ent.Name(), err)
				}
				wm.Payload = payload
			}
			wire[i] = wm
		}

		results, err := transport.PushMutations(ctx, ent.Name(), wire)
		if err != nil {
			// Whole-batch failure: leave everything queued, bump attempts so
			// the failure is visible, and let the next run retry.
			if markErr := q.markBatchFailed(ctx, mutations, err); markErr != nil {
				q.logger.Warn("failed to record batch failure", "entity", ent.Name(), "error", markErr)
			}
			return err
		}

		retained := 0
		err = q.store.WithTx(ctx, func(tx *sql.Tx) error {
			for i, res := range results {
				m := mutations[i]
				switch res.Status {
				case MutationOK:
					if err := q.applyOK(ctx, tx, ent, m, res); err != nil {
						return err
					}
				case MutationRejected:
					if _, err := tx.ExecContext(ctx, `DELETE FROM _sync_mutations WHERE seq = ?`, m.Seq); err != nil {
						return fmt.Errorf("failed to drop rejected mutation: %w", err)
					}
					q.logger.Warn("mutation rejected by server",
						"entity", m.Entity, "pk", m.PK, "op", m.Op, "message", res.Message)
					if q.events != nil {
						q.events.Emit(Event{Kind: EventMutationRejected, Entity: m.Entity, ID: m.PK, Message: res.Message})
					}
				default:
					retained++
					if _, err := tx.ExecContext(ctx, `
						UPDATE _sync_mutations SET attempts = attempts + 1, last_error = ? WHERE seq = ?
					`, res.Message, m.Seq); err != nil {
						return fmt.Errorf("failed to record mutation failure: %w", err)
					}
				}
			}
			return nil
		})
		if err != nil {
			return err
		}

		// A batch that retained mutations would resend them immediately;
		// leave them for the next drain instead.
		if retained > 0 || len(mutations) < ent.BatchSize() {
			return nil
		}
	}
}

// applyOK removes an acknowledged mutation, reconciles a server-assigned id
// against the temporary client id, and stamps synced_at on the record once no
// further mutations reference it. updated_at is deliberately left untouched.
func (q *Queue) applyOK(ctx context.Context, tx *sql.Tx, ent Entity, m Mutation, res MutationResult) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM _sync_mutations WHERE seq = ?`, m.Seq); err != nil {
		return fmt.Errorf("failed to remove acknowledged mutation: %w", err)
	}

	id := m.PK
	if res.ServerID != "" && res.ServerID != m.PK {
		if err := q.remapID(ctx, tx, ent, m.PK, res.ServerID); err != nil {
			return err
		}
		id = res.ServerID
	}

	if m.Op == OpDelete {
		return nil
	}
	_, err := tx.ExecContext(ctx, fmt.Sprintf(`
		UPDATE "%s" SET synced_at = ?
		WHERE id = ? AND NOT EXISTS (
			SELECT 1 FROM _sync_mutations WHERE entity = ? AND pk = ?
		)
	`, ent.Table()), localstore.FormatTime(localstore.Now()), id, ent.Name(), id)
	if err != nil {
		return fmt.Errorf("failed to stamp synced_at: %w", err)
	}
	return nil
}

// remapID rewrites a temporary client id to the server-assigned one across
// the entity row, every queued mutation still referencing it (key and payload
// snapshot), and the entity's child tables via its Remap hook. Temporary ids
// are UUIDs, so a textual payload replace cannot produce false matches.
func (q *Queue) remapID(ctx context.Context, tx *sql.Tx, ent Entity, oldID, newID string) error {
	if _, err := tx.ExecContext(ctx,
		fmt.Sprintf(`UPDATE "%s" SET id = ? WHERE id = ?`, ent.Table()), newID, oldID); err != nil {
		return fmt.Errorf("failed to remap %s id: %w", ent.Name(), err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE _sync_mutations SET pk = ? WHERE entity = ? AND pk = ?
	`, newID, ent.Name(), oldID); err != nil {
		return fmt.Errorf("failed to remap queued mutation keys: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE _sync_mutations SET payload = replace(payload, ?, ?)
		WHERE payload LIKE '%' || ? || '%'
	`, oldID, newID, oldID); err != nil {
		return fmt.Errorf("failed to remap queued mutation payloads: %w", err)
	}
	if err := ent.Remap(ctx, q.store, tx, oldID, newID); err != nil {
		return fmt.Errorf("failed to remap %s references: %w", ent.Name(), err)
	}
	return nil
}

func (q *Queue) markBatchFailed(ctx context.Context, mutations []Mutation, cause error) error {
	return q.store.WithTx(ctx, func(tx *sql.Tx) error {
		for _, m := range mutations {
			if _, err := tx.ExecContext(ctx, `
				UPDATE _sync_mutations SET attempts = attempts + 1, last_error = ? WHERE seq = ?
			`, cause.Error(), m.Seq); err != nil {
				return fmt.Errorf("failed to mark mutation failed: %w", err)
			}
		}
		return nil
	})
}
