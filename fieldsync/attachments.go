// Copyright 2025 The go-fieldsync Authors
// SPDX-License-Identifier: Apache-2.0

package fieldsync

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/fieldops/go-fieldsync/localstore"
)

// MaxUploadAttempts caps automatic attachment upload retries. A FAILED row at
// the cap is excluded from selection until a manual Retry resets it.
const MaxUploadAttempts = 5

// Uploader is the attachment upload pipeline. It runs independently of the
// pull/push orchestrator, consuming attachment rows the UI created, and owns
// the PENDING → UPLOADING → SYNCED/FAILED state machine.
type Uploader struct {
	store     *localstore.Store
	transport *Transport
	logger    *slog.Logger
	events    *Events
	batch     int
}

// NewUploader creates an attachment upload pipeline.
func NewUploader(store *localstore.Store, transport *Transport, logger *slog.Logger, events *Events, batch int) *Uploader {
	if logger == nil {
		logger = slog.Default()
	}
	if batch <= 0 {
		batch = 10
	}
	return &Uploader{store: store, transport: transport, logger: logger, events: events, batch: batch}
}

// RunOnce uploads one batch of eligible attachments: least-tried, oldest
// first. Rows stuck UPLOADING (interrupted mid-upload) are selected like
// FAILED ones. Returns the number of successful uploads.
func (u *Uploader) RunOnce(ctx context.Context) (int, error) {
	rows, err := u.store.QueryRows(ctx, "attachments", `
		sync_status IN ('PENDING','FAILED','UPLOADING') AND upload_attempts < ?
		ORDER BY upload_attempts ASC, created_at ASC LIMIT ?`,
		MaxUploadAttempts, u.batch)
	if err != nil {
		return 0, err
	}

	uploaded := 0
	for _, row := range rows {
		id, _ := row["id"].(string)
		if err := u.uploadOne(ctx, id, row); err != nil {
			var netErr *NetworkError
			if errors.As(err, &netErr) {
				// Connectivity loss defers the rest of the batch without
				// consuming an attempt; the row stays UPLOADING and is
				// selected again on the next scan.
				return uploaded, err
			}
			u.logger.Warn("attachment upload failed", "attachment", id, "error", err)
			continue
		}
		uploaded++
	}
	return uploaded, nil
}

func (u *Uploader) uploadOne(ctx context.Context, id string, row localstore.Row) error {
	if err := u.update(ctx, id, localstore.Row{"sync_status": "UPLOADING"}); err != nil {
		return err
	}

	base64Data, _ := row["base64_data"].(string)
	if base64Data == "" {
		return u.fail(ctx, id, row, fmt.Errorf("attachment has no payload"))
	}

	upload := &AttachmentUpload{
		ID:         id,
		FileName:   str(row["file_name"]),
		MimeType:   str(row["mime_type"]),
		Base64Data: base64Data,
	}
	upload.WorkOrderID = str(row["work_order_id"])
	upload.AnswerID = str(row["answer_id"])

	remotePath, err := u.transport.UploadAttachment(ctx, upload)
	if err != nil {
		var netErr *NetworkError
		if errors.As(err, &netErr) {
			return err
		}
		return u.fail(ctx, id, row, err)
	}

	// base64 payload is cleared as soon as the binary is durable remotely.
	err = u.update(ctx, id, localstore.Row{
		"sync_status": "SYNCED",
		"remote_path": remotePath,
		"synced_at":   localstore.FormatTime(localstore.Now()),
		"base64_data": nil,
	})
	if err != nil {
		return err
	}
	if u.events != nil {
		u.events.Emit(Event{Kind: EventAttachmentSynced, Entity: "attachments", ID: id})
	}
	return nil
}

// fail records one failed attempt and parks the row FAILED.
func (u *Uploader) fail(ctx context.Context, id string, row localstore.Row, cause error) error {
	attempts := intVal(row["upload_attempts"]) + 1
	err := u.update(ctx, id, localstore.Row{
		"sync_status":       "FAILED",
		"upload_attempts":   attempts,
		"last_upload_error": cause.Error(),
	})
	if err != nil {
		return err
	}
	if u.events != nil {
		u.events.Emit(Event{Kind: EventAttachmentFailed, Entity: "attachments", ID: id, Err: cause})
	}
	return &AttachmentUploadError{AttachmentID: id, Attempts: attempts, Err: cause}
}

// Retry resets a parked FAILED attachment for another round of automatic
// attempts. Explicitly user- or system-triggered.
func (u *Uploader) Retry(ctx context.Context, id string) error {
	return u.update(ctx, id, localstore.Row{
		"sync_status":       "PENDING",
		"upload_attempts":   0,
		"last_upload_error": nil,
	})
}

// Sweep clears the inline payload of already-synced rows to bound on-device
// storage growth. Runs periodically, independent of the upload flow.
func (u *Uploader) Sweep(ctx context.Context) error {
	_, err := u.store.DB.ExecContext(ctx, `
		UPDATE attachments SET base64_data = NULL
		WHERE sync_status = 'SYNCED' AND base64_data IS NOT NULL
	`)
	if err != nil {
		return fmt.Errorf("failed to sweep attachment payloads: %w", err)
	}
	return nil
}

func (u *Uploader) update(ctx context.Context, id string, fields localstore.Row) error {
	return u.store.WithTx(ctx, func(tx *sql.Tx) error {
		return u.store.UpdateRowTx(ctx, tx, "attachments", id, fields)
	})
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

func intVal(v any) int {
	switch n := v.(type) {
	case int64:
		return int(n)
	case int:
		return n
	case float64:
		return int(n)
	default:
		return 0
	}
}
