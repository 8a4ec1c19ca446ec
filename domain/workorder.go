// Copyright 2025 The go-fieldsync Authors
// SPDX-License-Identifier: Apache-2.0

// Package domain holds the business types of the field-service client and the
// pure rules attached to them: status enums, legal status transitions, and
// execution-session time accounting. Nothing here performs I/O.
package domain

import "time"

// SyncMeta carries the sync bookkeeping columns shared by every synced record.
// SyncedAt == nil marks a record with local changes pending push.
type SyncMeta struct {
	ID           string     `json:"id"`
	TechnicianID string     `json:"technicianId"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
	SyncedAt     *time.Time `json:"syncedAt,omitempty"`
}

// WorkOrderStatus enumerates the work order lifecycle.
type WorkOrderStatus string

const (
	WorkOrderScheduled  WorkOrderStatus = "SCHEDULED"
	WorkOrderInProgress WorkOrderStatus = "IN_PROGRESS"
	WorkOrderOnHold     WorkOrderStatus = "ON_HOLD"
	WorkOrderCompleted  WorkOrderStatus = "COMPLETED"
	WorkOrderCancelled  WorkOrderStatus = "CANCELLED"
)

// WorkOrder is one scheduled job assigned to a technician.
type WorkOrder struct {
	SyncMeta
	Title          string          `json:"title"`
	Description    string          `json:"description,omitempty"`
	Status         WorkOrderStatus `json:"status"`
	Priority       string          `json:"priority,omitempty"`
	CustomerName   string          `json:"customerName,omitempty"`
	Address        string          `json:"address,omitempty"`
	ScheduledFor   *time.Time      `json:"scheduledFor,omitempty"`
	ExecutionStart *time.Time      `json:"executionStart,omitempty"`
	ExecutionEnd   *time.Time      `json:"executionEnd,omitempty"`
}
