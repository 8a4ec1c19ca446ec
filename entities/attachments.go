// Copyright 2025 The go-fieldsync Authors
// SPDX-License-Identifier: Apache-2.0

package entities

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/fieldops/go-fieldsync/domain"
	"github.com/fieldops/go-fieldsync/fieldsync"
	"github.com/fieldops/go-fieldsync/localstore"
)

// Attachment wire keys carry metadata only. The binary payload moves through
// the dedicated upload endpoint, and the local pipeline columns (sync_status,
// upload_attempts, last_upload_error, base64_data, local_path) never leave
// the device.
var attachmentWireKeys = map[string]string{
	"id":            "id",
	"technician_id": "technicianId",
	"work_order_id": "workOrderId",
	"answer_id":     "answerId",
	"file_name":     "fileName",
	"mime_type":     "mimeType",
	"file_size":     "fileSize",
	"remote_path":   "remotePath",
	"created_at":    "createdAt",
	"updated_at":    "updatedAt",
}

func attachmentRow(a domain.Attachment) localstore.Row {
	row := metaRow(a.SyncMeta)
	row["work_order_id"] = a.WorkOrderID
	row["answer_id"] = a.AnswerID
	row["file_name"] = a.FileName
	row["mime_type"] = a.MimeType
	row["file_size"] = a.FileSize
	row["local_path"] = a.LocalPath
	row["remote_path"] = a.RemotePath
	row["sync_status"] = string(a.SyncStatus)
	row["upload_attempts"] = a.UploadAttempts
	row["last_upload_error"] = a.LastUploadError
	if a.Base64Data != "" {
		row["base64_data"] = a.Base64Data
	} else {
		row["base64_data"] = nil
	}
	return row
}

func attachmentFromRow(row localstore.Row) domain.Attachment {
	return domain.Attachment{
		SyncMeta:        parseMeta(row),
		WorkOrderID:     rowStr(row, "work_order_id"),
		AnswerID:        rowStr(row, "answer_id"),
		FileName:        rowStr(row, "file_name"),
		MimeType:        rowStr(row, "mime_type"),
		FileSize:        int64(rowInt(row, "file_size")),
		LocalPath:       rowStr(row, "local_path"),
		Base64Data:      rowStr(row, "base64_data"),
		RemotePath:      rowStr(row, "remote_path"),
		SyncStatus:      domain.AttachmentStatus(rowStr(row, "sync_status")),
		UploadAttempts:  rowInt(row, "upload_attempts"),
		LastUploadError: rowStr(row, "last_upload_error"),
	}
}

// Attachments builds the attachment sync config. Pulled records are server
// metadata, so rows land as SYNCED when the server already holds the binary
// and PENDING otherwise.
func Attachments() fieldsync.Entity {
	return fieldsync.Config[domain.Attachment]{
		EntityName: "attachments",
		FromWire: func(rec json.RawMessage) (domain.Attachment, error) {
			var a domain.Attachment
			if err := json.Unmarshal(rec, &a); err != nil {
				return a, fmt.Errorf("failed to decode attachment: %w", err)
			}
			if a.ID == "" {
				return a, fmt.Errorf("attachment record missing id")
			}
			if a.RemotePath != "" {
				a.SyncStatus = domain.AttachmentSynced
			} else if a.SyncStatus == "" {
				a.SyncStatus = domain.AttachmentPending
			}
			return a, nil
		},
		Row: attachmentRow,
		ToWire: func(partial map[string]any) (json.RawMessage, error) {
			return wireFromPartial(attachmentWireKeys, partial)
		},
	}.MustBuild()
}

// AttachmentRepo is the local write path for photos and signatures.
type AttachmentRepo struct {
	engine *fieldsync.Engine
	entity fieldsync.Entity
}

// NewAttachmentRepo creates the repository bound to the engine's attachment
// config.
func NewAttachmentRepo(engine *fieldsync.Engine) *AttachmentRepo {
	ent, ok := engine.Entity("attachments")
	if !ok {
		panic("attachments entity not registered")
	}
	return &AttachmentRepo{engine: engine, entity: ent}
}

// Get loads one attachment.
func (r *AttachmentRepo) Get(ctx context.Context, id string) (domain.Attachment, error) {
	row, err := r.engine.Store().GetRow(ctx, "attachments", id)
	if err != nil {
		return domain.Attachment{}, err
	}
	return attachmentFromRow(row), nil
}

// ForWorkOrder returns the attachments of one work order, oldest first.
func (r *AttachmentRepo) ForWorkOrder(ctx context.Context, workOrderID string) ([]domain.Attachment, error) {
	rows, err := r.engine.Store().QueryRows(ctx, "attachments",
		"work_order_id = ? ORDER BY created_at", workOrderID)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Attachment, len(rows))
	for i, row := range rows {
		out[i] = attachmentFromRow(row)
	}
	return out, nil
}

// Capture stores a new attachment with its base64 body and queues the
// metadata mutation. The binary upload happens later through the uploader.
func (r *AttachmentRepo) Capture(ctx context.Context, a domain.Attachment) (string, error) {
	if a.WorkOrderID == "" && a.AnswerID == "" {
		return "", fmt.Errorf("attachment requires a work order or answer id")
	}
	if a.Base64Data == "" {
		return "", fmt.Errorf("attachment requires base64 data")
	}
	if a.TechnicianID == "" {
		a.TechnicianID = r.engine.TechnicianID()
	}
	now := localstore.Now()
	a.CreatedAt, a.UpdatedAt = now, now
	a.SyncedAt = nil
	a.SyncStatus = domain.AttachmentPending
	a.UploadAttempts = 0
	a.RemotePath = ""
	return r.engine.CreateRecord(ctx, r.entity, attachmentRow(a))
}

// Retry resets a failed attachment so the uploader picks it up again.
func (r *AttachmentRepo) Retry(ctx context.Context, id string) error {
	return r.engine.Uploader().Retry(ctx, id)
}

// Failed returns attachments that exhausted their automatic upload attempts.
func (r *AttachmentRepo) Failed(ctx context.Context) ([]domain.Attachment, error) {
	rows, err := r.engine.Store().QueryRows(ctx, "attachments",
		"sync_status = ? AND upload_attempts >= ? ORDER BY created_at",
		string(domain.AttachmentFailed), domain.MaxUploadAttempts)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Attachment, len(rows))
	for i, row := range rows {
		out[i] = attachmentFromRow(row)
	}
	return out, nil
}
