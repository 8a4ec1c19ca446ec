// Copyright 2025 The go-fieldsync Authors
// SPDX-License-Identifier: Apache-2.0

package domain

// AttachmentStatus enumerates the binary upload state machine.
type AttachmentStatus string

const (
	AttachmentPending   AttachmentStatus = "PENDING"
	AttachmentUploading AttachmentStatus = "UPLOADING"
	AttachmentSynced    AttachmentStatus = "SYNCED"
	AttachmentFailed    AttachmentStatus = "FAILED"
)

// MaxUploadAttempts caps automatic upload retries; a FAILED attachment at the
// cap stays parked until a manual retry resets it.
const MaxUploadAttempts = 5

// Attachment is binary metadata (photo, signature) tied to an answer or work
// order. Base64Data holds the payload only while unsynced; it is cleared once
// the binary is durably uploaded.
type Attachment struct {
	SyncMeta
	WorkOrderID     string           `json:"workOrderId,omitempty"`
	AnswerID        string           `json:"answerId,omitempty"`
	FileName        string           `json:"fileName"`
	MimeType        string           `json:"mimeType"`
	FileSize        int64            `json:"fileSize"`
	LocalPath       string           `json:"localPath,omitempty"`
	Base64Data      string           `json:"base64Data,omitempty"`
	RemotePath      string           `json:"remotePath,omitempty"`
	SyncStatus      AttachmentStatus `json:"syncStatus"`
	UploadAttempts  int              `json:"uploadAttempts"`
	LastUploadError string           `json:"lastUploadError,omitempty"`
}

// Uploadable reports whether the attachment is eligible for automatic upload
// selection. A row stuck UPLOADING after a crash is retryable like FAILED.
func (a *Attachment) Uploadable() bool {
	if a.SyncStatus == AttachmentSynced {
		return false
	}
	return a.UploadAttempts < MaxUploadAttempts
}
