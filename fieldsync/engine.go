// Copyright 2025 The go-fieldsync Authors
// SPDX-License-Identifier: Apache-2.0

package fieldsync

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/fieldops/go-fieldsync/localstore"
)

// Options configures an Engine.
type Options struct {
	BaseURL        string
	TechnicianID   string // sync scope
	Token          TokenFunc
	SyncInterval   time.Duration // background full-sync period
	DebounceWindow time.Duration // coalescing window for chatty writes
	BackoffMin     time.Duration
	BackoffMax     time.Duration
	AttachmentBatch int
}

// DefaultOptions returns the standard engine tuning.
func DefaultOptions(baseURL, technicianID string, token TokenFunc) Options {
	return Options{
		BaseURL:         baseURL,
		TechnicianID:    technicianID,
		Token:           token,
		SyncInterval:    30 * time.Second,
		DebounceWindow:  1500 * time.Millisecond,
		BackoffMin:      1 * time.Second,
		BackoffMax:      60 * time.Second,
		AttachmentBatch: 10,
	}
}

// Status is the aggregate sync state surfaced to the UI layer.
type Status struct {
	Online            bool
	PendingMutations  int
	FailedAttachments int
	LastSyncAt        time.Time
}

// Engine is the shared context object holding every sync component. It is
// constructed once at startup and injected into repositories and trackers.
type Engine struct {
	store     *localstore.Store
	opts      Options
	transport *Transport
	queue     *Queue
	uploader  *Uploader
	events    *Events
	debouncer *Debouncer
	logger    *slog.Logger

	// entities in dependency order: parents sync before children.
	entities []Entity
	byName   map[string]Entity

	online   atomic.Bool
	runMu    sync.Mutex // guards a full sync run; TryLock coalesces triggers
	lastSync atomic.Int64
}

// New creates an engine over the store with the given entity configs in
// dependency order.
func New(store *localstore.Store, opts Options, logger *slog.Logger, entities ...Entity) (*Engine, error) {
	if len(entities) == 0 {
		return nil, fmt.Errorf("engine requires at least one entity config")
	}
	if opts.SyncInterval <= 0 || opts.DebounceWindow <= 0 {
		def := DefaultOptions(opts.BaseURL, opts.TechnicianID, opts.Token)
		if opts.SyncInterval <= 0 {
			opts.SyncInterval = def.SyncInterval
		}
		if opts.DebounceWindow <= 0 {
			opts.DebounceWindow = def.DebounceWindow
		}
		if opts.BackoffMin <= 0 {
			opts.BackoffMin = def.BackoffMin
		}
		if opts.BackoffMax <= 0 {
			opts.BackoffMax = def.BackoffMax
		}
		if opts.AttachmentBatch <= 0 {
			opts.AttachmentBatch = def.AttachmentBatch
		}
	}
	if logger == nil {
		logger = slog.Default()
	}

	byName := make(map[string]Entity, len(entities))
	for _, ent := range entities {
		if _, dup := byName[ent.Name()]; dup {
			return nil, fmt.Errorf("duplicate entity config %q", ent.Name())
		}
		byName[ent.Name()] = ent
	}

	events := NewEvents()
	transport := NewTransport(opts.BaseURL, opts.TechnicianID, opts.Token)
	e := &Engine{
		store:     store,
		opts:      opts,
		transport: transport,
		queue:     NewQueue(store, logger, events),
		events:    events,
		debouncer: NewDebouncer(opts.DebounceWindow),
		logger:    logger,
		entities:  entities,
		byName:    byName,
	}
	e.uploader = NewUploader(store, transport, logger, events, opts.AttachmentBatch)
	e.online.Store(true)
	return e, nil
}

// Store returns the underlying local store.
func (e *Engine) Store() *localstore.Store { return e.store }

// Queue returns the mutation queue.
func (e *Engine) Queue() *Queue { return e.queue }

// Events returns the engine's event stream.
func (e *Engine) Events() *Events { return e.events }

// Uploader returns the attachment upload pipeline.
func (e *Engine) Uploader() *Uploader { return e.uploader }

// Debouncer returns the shared write debouncer.
func (e *Engine) Debouncer() *Debouncer { return e.debouncer }

// Transport returns the remote API client.
func (e *Engine) Transport() *Transport { return e.transport }

// TechnicianID returns the sync scope.
func (e *Engine) TechnicianID() string { return e.opts.TechnicianID }

// Logger returns the engine's logger.
func (e *Engine) Logger() *slog.Logger { return e.logger }

// Entity returns a registered entity config by wire name.
func (e *Engine) Entity(name string) (Entity, bool) {
	ent, ok := e.byName[name]
	return ent, ok
}

// SetOnline records the host connectivity signal. Local reads and writes are
// unaffected; only remote steps consult the flag.
func (e *Engine) SetOnline(online bool) {
	if e.online.Swap(online) != online {
		e.events.Emit(Event{Kind: EventConnectivity, Online: online})
	}
}

// Online reports the last known connectivity state.
func (e *Engine) Online() bool { return e.online.Load() }

// Status reports aggregate pending-sync and failure counts.
func (e *Engine) Status(ctx context.Context) (Status, error) {
	pending, err := e.queue.PendingCount(ctx)
	if err != nil {
		return Status{}, err
	}
	failed, err := e.store.CountWhere(ctx, "attachments",
		"sync_status = ? AND upload_attempts >= ?", "FAILED", MaxUploadAttempts)
	if err != nil {
		return Status{}, err
	}
	var last time.Time
	if ns := e.lastSync.Load(); ns > 0 {
		last = time.Unix(0, ns)
	}
	return Status{
		Online:            e.Online(),
		PendingMutations:  pending,
		FailedAttachments: failed,
		LastSyncAt:        last,
	}, nil
}

// SyncNow triggers one full sync run. A trigger while a run is active returns
// ErrSyncInFlight; offline returns ErrOffline. Entity failures abort only
// that entity's step, never the whole run.
func (e *Engine) SyncNow(ctx context.Context) error {
	if !e.online.Load() {
		return ErrOffline
	}
	if !e.runMu.TryLock() {
		return ErrSyncInFlight
	}
	defer e.runMu.Unlock()

	e.events.Emit(Event{Kind: EventSyncStarted})
	for _, ent := range e.entities {
		if !e.online.Load() {
			break
		}
		if err := e.syncEntity(ctx, ent); err != nil {
			if isDeferrable(err) {
				e.logger.Debug("entity sync deferred",
					"entity", ent.Name(), "error", err)
			} else {
				e.logger.Warn("entity sync failed",
					"entity", ent.Name(), "error", err)
				e.events.Emit(Event{Kind: EventEntitySyncFailed, Entity: ent.Name(), Err: err})
			}
			continue
		}
	}
	if _, err := e.uploader.RunOnce(ctx); err != nil && !isDeferrable(err) {
		e.logger.Warn("attachment upload pass failed", "error", err)
	}

	e.lastSync.Store(time.Now().UnixNano())
	e.events.Emit(Event{Kind: EventSyncCompleted})
	return nil
}

// syncEntity pulls fresh server state and then drains the entity's queued
// mutations. On failure the cursor and queue are left unchanged so the next
// run retries from the same point.
func (e *Engine) syncEntity(ctx context.Context, ent Entity) error {
	if err := e.pullEntity(ctx, ent); err != nil {
		return err
	}
	return e.queue.Drain(ctx, ent, e.transport)
}

func (e *Engine) pullEntity(ctx context.Context, ent Entity) error {
	for {
		since, err := e.cursor(ctx, ent.Name())
		if err != nil {
			return err
		}
		records, err := e.transport.Pull(ctx, ent.Name(), since, ent.BatchSize())
		if err != nil {
			return err
		}
		if len(records) == 0 {
			return nil
		}

		var advanced bool
		err = e.store.WithTx(ctx, func(tx *sql.Tx) error {
			applied, maxCursor, err := ent.ApplyPull(ctx, e.store, tx, e.logger, records)
			if err != nil {
				return err
			}
			e.logger.Debug("applied pulled records",
				"entity", ent.Name(), "applied", applied, "received", len(records))
			if maxCursor > since {
				advanced = true
				return setCursorTx(ctx, tx, ent.Name(), maxCursor)
			}
			return nil
		})
		if err != nil {
			return err
		}

		// A page that moved the cursor nowhere would be refetched verbatim on
		// the next iteration; stop and let the next run try again.
		if !advanced || len(records) < ent.BatchSize() {
			return nil
		}
	}
}

// cursor returns the entity's persisted pull watermark, empty when none.
func (e *Engine) cursor(ctx context.Context, entity string) (string, error) {
	var cur string
	err := e.store.DB.QueryRowContext(ctx,
		`SELECT cursor FROM _sync_cursors WHERE entity = ?`, entity).Scan(&cur)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read cursor for %s: %w", entity, err)
	}
	return cur, nil
}

func setCursorTx(ctx context.Context, tx *sql.Tx, entity, cursor string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO _sync_cursors (entity, cursor, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(entity) DO UPDATE SET cursor = excluded.cursor, updated_at = excluded.updated_at
	`, entity, cursor, localstore.FormatTime(localstore.Now()))
	if err != nil {
		return fmt.Errorf("failed to persist cursor for %s: %w", entity, err)
	}
	return nil
}

// Start runs the periodic background sync and the attachment storage sweep
// until ctx is cancelled. Errors inside the loop back off exponentially.
func (e *Engine) Start(ctx context.Context) {
	go e.syncLoop(ctx)
	go e.sweepLoop(ctx)
}

func (e *Engine) syncLoop(ctx context.Context) {
	backoff := e.opts.BackoffMin
	ticker := time.NewTicker(e.opts.SyncInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			e.debouncer.Flush()
			return
		case <-ticker.C:
		}
		err := e.SyncNow(ctx)
		switch {
		case err == nil, err == ErrSyncInFlight, err == ErrOffline:
			backoff = e.opts.BackoffMin
		default:
			ticker.Reset(backoff)
			backoff *= 2
			if backoff > e.opts.BackoffMax {
				backoff = e.opts.BackoffMax
			}
			continue
		}
		ticker.Reset(e.opts.SyncInterval)
	}
}

func (e *Engine) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(5 * e.opts.SyncInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := e.uploader.Sweep(ctx); err != nil {
				e.logger.Warn("attachment sweep failed", "error", err)
			}
		}
	}
}

// CreateRecord inserts a new record and enqueues its CREATE mutation in one
// transaction. A missing id gets a client-generated UUID (temporary until the
// server assigns one). Returns the record id.
func (e *Engine) CreateRecord(ctx context.Context, ent Entity, row localstore.Row) (string, error) {
	id, _ := row["id"].(string)
	if id == "" {
		id = uuid.New().String()
		row["id"] = id
	}
	now := localstore.FormatTime(localstore.Now())
	if row["created_at"] == nil {
		row["created_at"] = now
	}
	if row["updated_at"] == nil {
		row["updated_at"] = now
	}
	row["synced_at"] = nil

	err := e.store.WithTx(ctx, func(tx *sql.Tx) error {
		if err := e.store.InsertRowTx(ctx, tx, ent.Table(), row); err != nil {
			return &StorageError{Op: "create " + ent.Name(), Err: err}
		}
		return e.queue.EnqueueTx(ctx, tx, ent.Name(), id, OpCreate, row)
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// UpdateRecord applies a partial update, bumps updated_at, clears synced_at,
// and enqueues an UPDATE mutation carrying only the touched fields so that
// unrelated server-side fields are never clobbered.
func (e *Engine) UpdateRecord(ctx context.Context, ent Entity, id string, partial localstore.Row) error {
	if partial == nil {
		partial = localstore.Row{}
	}
	partial["updated_at"] = localstore.FormatTime(localstore.Now())
	partial["synced_at"] = nil

	return e.store.WithTx(ctx, func(tx *sql.Tx) error {
		if err := e.store.UpdateRowTx(ctx, tx, ent.Table(), id, partial); err != nil {
			return &StorageError{Op: "update " + ent.Name(), Err: err}
		}
		payload := make(localstore.Row, len(partial))
		for k, v := range partial {
			payload[k] = v
		}
		payload["id"] = id
		delete(payload, "synced_at")
		return e.queue.EnqueueTx(ctx, tx, ent.Name(), id, OpUpdate, payload)
	})
}

// DeleteRecord removes a record locally and enqueues its DELETE mutation.
func (e *Engine) DeleteRecord(ctx context.Context, ent Entity, id string) error {
	return e.store.WithTx(ctx, func(tx *sql.Tx) error {
		if err := e.store.DeleteRowTx(ctx, tx, ent.Table(), id); err != nil {
			return &StorageError{Op: "delete " + ent.Name(), Err: err}
		}
		return e.queue.EnqueueTx(ctx, tx, ent.Name(), id, OpDelete, nil)
	})
}
