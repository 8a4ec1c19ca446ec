// Copyright 2025 The go-fieldsync Authors
// SPDX-License-Identifier: Apache-2.0

package localstore

// schemaDDL creates every entity table plus the sync bookkeeping tables.
// Entity tables mirror the local record shape and carry the sync columns
// (created_at, updated_at, synced_at). synced_at IS NULL marks a record with
// local changes that have not been pushed yet.
var schemaDDL = []string{
	`CREATE TABLE IF NOT EXISTS work_orders (
		id              TEXT PRIMARY KEY,
		technician_id   TEXT NOT NULL,
		title           TEXT NOT NULL,
		description     TEXT,
		status          TEXT NOT NULL,
		priority        TEXT,
		customer_name   TEXT,
		address         TEXT,
		scheduled_for   TEXT,
		execution_start TEXT,
		execution_end   TEXT,
		created_at      TEXT NOT NULL,
		updated_at      TEXT NOT NULL,
		synced_at       TEXT
	)`,

	`CREATE TABLE IF NOT EXISTS checklist_instances (
		id            TEXT PRIMARY KEY,
		technician_id TEXT NOT NULL,
		work_order_id TEXT NOT NULL,
		template_id   TEXT,
		name          TEXT NOT NULL,
		status        TEXT NOT NULL,
		completed_at  TEXT,
		created_at    TEXT NOT NULL,
		updated_at    TEXT NOT NULL,
		synced_at     TEXT
	)`,

	`CREATE TABLE IF NOT EXISTS checklist_answers (
		id                    TEXT PRIMARY KEY,
		technician_id         TEXT NOT NULL,
		checklist_instance_id TEXT NOT NULL,
		question_id           TEXT NOT NULL,
		value                 TEXT,
		note                  TEXT,
		answered_at           TEXT,
		created_at            TEXT NOT NULL,
		updated_at            TEXT NOT NULL,
		synced_at             TEXT
	)`,

	`CREATE TABLE IF NOT EXISTS quotes (
		id            TEXT PRIMARY KEY,
		technician_id TEXT NOT NULL,
		work_order_id TEXT,
		customer_name TEXT,
		status        TEXT NOT NULL,
		currency      TEXT,
		subtotal      REAL NOT NULL DEFAULT 0,
		discount      REAL NOT NULL DEFAULT 0,
		total         REAL NOT NULL DEFAULT 0,
		valid_until   TEXT,
		created_at    TEXT NOT NULL,
		updated_at    TEXT NOT NULL,
		synced_at     TEXT
	)`,

	// Child rows of quotes; replaced wholesale whenever a quote is pulled.
	`CREATE TABLE IF NOT EXISTS quote_items (
		id          TEXT PRIMARY KEY,
		quote_id    TEXT NOT NULL,
		description TEXT NOT NULL,
		quantity    REAL NOT NULL DEFAULT 1,
		unit_price  REAL NOT NULL DEFAULT 0,
		total       REAL NOT NULL DEFAULT 0,
		position    INTEGER NOT NULL DEFAULT 0,
		created_at  TEXT NOT NULL,
		updated_at  TEXT NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS invoices (
		id            TEXT PRIMARY KEY,
		technician_id TEXT NOT NULL,
		work_order_id TEXT,
		quote_id      TEXT,
		number        TEXT,
		status        TEXT NOT NULL,
		amount        REAL NOT NULL DEFAULT 0,
		currency      TEXT,
		due_date      TEXT,
		issued_at     TEXT,
		paid_at       TEXT,
		created_at    TEXT NOT NULL,
		updated_at    TEXT NOT NULL,
		synced_at     TEXT
	)`,

	`CREATE TABLE IF NOT EXISTS expenses (
		id            TEXT PRIMARY KEY,
		technician_id TEXT NOT NULL,
		work_order_id TEXT,
		category      TEXT,
		description   TEXT,
		amount        REAL NOT NULL DEFAULT 0,
		currency      TEXT,
		incurred_at   TEXT,
		created_at    TEXT NOT NULL,
		updated_at    TEXT NOT NULL,
		synced_at     TEXT
	)`,

	`CREATE TABLE IF NOT EXISTS execution_sessions (
		id            TEXT PRIMARY KEY,
		technician_id TEXT NOT NULL,
		work_order_id TEXT NOT NULL,
		session_type  TEXT NOT NULL CHECK (session_type IN ('WORK','PAUSE')),
		started_at    TEXT NOT NULL,
		ended_at      TEXT,
		pause_reason  TEXT,
		notes         TEXT,
		created_at    TEXT NOT NULL,
		updated_at    TEXT NOT NULL,
		synced_at     TEXT
	)`,

	`CREATE TABLE IF NOT EXISTS attachments (
		id                TEXT PRIMARY KEY,
		technician_id     TEXT NOT NULL,
		work_order_id     TEXT,
		answer_id         TEXT,
		file_name         TEXT NOT NULL,
		mime_type         TEXT NOT NULL,
		file_size         INTEGER NOT NULL DEFAULT 0,
		local_path        TEXT,
		base64_data       TEXT,
		remote_path       TEXT,
		sync_status       TEXT NOT NULL DEFAULT 'PENDING'
			CHECK (sync_status IN ('PENDING','UPLOADING','SYNCED','FAILED')),
		upload_attempts   INTEGER NOT NULL DEFAULT 0,
		last_upload_error TEXT,
		created_at        TEXT NOT NULL,
		updated_at        TEXT NOT NULL,
		synced_at         TEXT
	)`,

	// Durable mutation queue. seq gives global enqueue order; per-entity+pk
	// FIFO ordering follows from draining in seq order.
	`CREATE TABLE IF NOT EXISTS _sync_mutations (
		seq        INTEGER PRIMARY KEY AUTOINCREMENT,
		entity     TEXT NOT NULL,
		pk         TEXT NOT NULL,
		op         TEXT NOT NULL CHECK (op IN ('CREATE','UPDATE','DELETE')),
		payload    TEXT,
		queued_at  TEXT NOT NULL,
		attempts   INTEGER NOT NULL DEFAULT 0,
		last_error TEXT
	)`,

	`CREATE INDEX IF NOT EXISTS idx_sync_mutations_entity ON _sync_mutations(entity, seq)`,

	// Per-entity incremental pull watermark.
	`CREATE TABLE IF NOT EXISTS _sync_cursors (
		entity     TEXT PRIMARY KEY,
		cursor     TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,
}
