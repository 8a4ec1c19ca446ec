// Copyright 2025 The go-fieldsync Authors
// SPDX-License-Identifier: Apache-2.0

package domain

import "time"

// InvoiceStatus enumerates the invoice lifecycle. PAID is terminal.
type InvoiceStatus string

const (
	InvoiceDraft  InvoiceStatus = "DRAFT"
	InvoiceIssued InvoiceStatus = "ISSUED"
	InvoicePaid   InvoiceStatus = "PAID"
	InvoiceVoid   InvoiceStatus = "VOID"
)

// Invoice bills a completed job.
type Invoice struct {
	SyncMeta
	WorkOrderID string        `json:"workOrderId,omitempty"`
	QuoteID     string        `json:"quoteId,omitempty"`
	Number      string        `json:"number,omitempty"`
	Status      InvoiceStatus `json:"status"`
	Amount      float64       `json:"amount"`
	Currency    string        `json:"currency,omitempty"`
	DueDate     *time.Time    `json:"dueDate,omitempty"`
	IssuedAt    *time.Time    `json:"issuedAt,omitempty"`
	PaidAt      *time.Time    `json:"paidAt,omitempty"`
}

// Expense is an out-of-pocket cost recorded by the technician.
type Expense struct {
	SyncMeta
	WorkOrderID string     `json:"workOrderId,omitempty"`
	Category    string     `json:"category,omitempty"`
	Description string     `json:"description,omitempty"`
	Amount      float64    `json:"amount"`
	Currency    string     `json:"currency,omitempty"`
	IncurredAt  *time.Time `json:"incurredAt,omitempty"`
}
