// Copyright 2025 The go-fieldsync Authors
// SPDX-License-Identifier: Apache-2.0

package domain

import "time"

// QuoteStatus enumerates the quote lifecycle. REJECTED is terminal; EXPIRED
// may be reactivated back to DRAFT.
type QuoteStatus string

const (
	QuoteDraft    QuoteStatus = "DRAFT"
	QuoteSent     QuoteStatus = "SENT"
	QuoteApproved QuoteStatus = "APPROVED"
	QuoteRejected QuoteStatus = "REJECTED"
	QuoteExpired  QuoteStatus = "EXPIRED"
)

// Quote is a priced proposal, optionally tied to a work order. Its line items
// live in their own table and are replaced wholesale on every pull.
type Quote struct {
	SyncMeta
	WorkOrderID  string      `json:"workOrderId,omitempty"`
	CustomerName string      `json:"customerName,omitempty"`
	Status       QuoteStatus `json:"status"`
	Currency     string      `json:"currency,omitempty"`
	Subtotal     float64     `json:"subtotal"`
	Discount     float64     `json:"discount"`
	Total        float64     `json:"total"`
	ValidUntil   *time.Time  `json:"validUntil,omitempty"`
	Items        []QuoteItem `json:"items,omitempty"`
}

// QuoteItem is one line of a quote.
type QuoteItem struct {
	ID          string    `json:"id"`
	QuoteID     string    `json:"quoteId"`
	Description string    `json:"description"`
	Quantity    float64   `json:"quantity"`
	UnitPrice   float64   `json:"unitPrice"`
	Total       float64   `json:"total"`
	Position    int       `json:"position"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}
