// Copyright 2025 The go-fieldsync Authors
// SPDX-License-Identifier: Apache-2.0

package domain

import "time"

// ChecklistStatus enumerates the checklist instance lifecycle.
type ChecklistStatus string

const (
	ChecklistPending    ChecklistStatus = "PENDING"
	ChecklistInProgress ChecklistStatus = "IN_PROGRESS"
	ChecklistCompleted  ChecklistStatus = "COMPLETED"
)

// ChecklistInstance is one checklist being filled out against a work order.
type ChecklistInstance struct {
	SyncMeta
	WorkOrderID string          `json:"workOrderId"`
	TemplateID  string          `json:"templateId,omitempty"`
	Name        string          `json:"name"`
	Status      ChecklistStatus `json:"status"`
	CompletedAt *time.Time      `json:"completedAt,omitempty"`
}

// ChecklistAnswer is one answered question inside a checklist instance.
type ChecklistAnswer struct {
	SyncMeta
	ChecklistInstanceID string     `json:"checklistInstanceId"`
	QuestionID          string     `json:"questionId"`
	Value               string     `json:"value,omitempty"`
	Note                string     `json:"note,omitempty"`
	AnsweredAt          *time.Time `json:"answeredAt,omitempty"`
}
