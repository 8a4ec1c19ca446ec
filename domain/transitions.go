// Copyright 2025 The go-fieldsync Authors
// SPDX-License-Identifier: Apache-2.0

package domain

import "fmt"

// IllegalTransitionError is raised synchronously when a status change would
// leave an entity's legal transition set. It is never queued or retried.
type IllegalTransitionError struct {
	Entity string
	From   string
	To     string
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("illegal %s transition: %s -> %s", e.Entity, e.From, e.To)
}

// Transition tables. A status absent from its table, or mapped to an empty
// set, is terminal.
var workOrderTransitions = map[WorkOrderStatus][]WorkOrderStatus{
	WorkOrderScheduled:  {WorkOrderInProgress, WorkOrderCancelled},
	WorkOrderInProgress: {WorkOrderOnHold, WorkOrderCompleted, WorkOrderCancelled},
	WorkOrderOnHold:     {WorkOrderInProgress, WorkOrderCancelled},
	WorkOrderCompleted:  {},
	WorkOrderCancelled:  {},
}

var checklistTransitions = map[ChecklistStatus][]ChecklistStatus{
	ChecklistPending:    {ChecklistInProgress},
	ChecklistInProgress: {ChecklistCompleted},
	ChecklistCompleted:  {},
}

var quoteTransitions = map[QuoteStatus][]QuoteStatus{
	QuoteDraft:    {QuoteSent},
	QuoteSent:     {QuoteApproved, QuoteRejected, QuoteExpired},
	QuoteApproved: {},
	QuoteRejected: {},
	// Explicit reactivation path: an expired quote may be reworked.
	QuoteExpired: {QuoteDraft},
}

var invoiceTransitions = map[InvoiceStatus][]InvoiceStatus{
	InvoiceDraft:  {InvoiceIssued, InvoiceVoid},
	InvoiceIssued: {InvoicePaid, InvoiceVoid},
	InvoicePaid:   {},
	InvoiceVoid:   {},
}

func checkTransition[S ~string](entity string, table map[S][]S, from, to S) error {
	if from == to {
		return nil
	}
	for _, next := range table[from] {
		if next == to {
			return nil
		}
	}
	return &IllegalTransitionError{Entity: entity, From: string(from), To: string(to)}
}

// CheckWorkOrderTransition validates a work order status change.
func CheckWorkOrderTransition(from, to WorkOrderStatus) error {
	return checkTransition("work order", workOrderTransitions, from, to)
}

// CheckChecklistTransition validates a checklist instance status change.
func CheckChecklistTransition(from, to ChecklistStatus) error {
	return checkTransition("checklist", checklistTransitions, from, to)
}

// CheckQuoteTransition validates a quote status change.
func CheckQuoteTransition(from, to QuoteStatus) error {
	return checkTransition("quote", quoteTransitions, from, to)
}

// CheckInvoiceTransition validates an invoice status change.
func CheckInvoiceTransition(from, to InvoiceStatus) error {
	return checkTransition("invoice", invoiceTransitions, from, to)
}
