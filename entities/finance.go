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

var invoiceWireKeys = map[string]string{
	"id":            "id",
	"technician_id": "technicianId",
	"work_order_id": "workOrderId",
	"quote_id":      "quoteId",
	"number":        "number",
	"status":        "status",
	"amount":        "amount",
	"currency":      "currency",
	"due_date":      "dueDate",
	"issued_at":     "issuedAt",
	"paid_at":       "paidAt",
	"created_at":    "createdAt",
	"updated_at":    "updatedAt",
}

var expenseWireKeys = map[string]string{
	"id":            "id",
	"technician_id": "technicianId",
	"work_order_id": "workOrderId",
	"category":      "category",
	"description":   "description",
	"amount":        "amount",
	"currency":      "currency",
	"incurred_at":   "incurredAt",
	"created_at":    "createdAt",
	"updated_at":    "updatedAt",
}

func invoiceRow(in domain.Invoice) localstore.Row {
	row := metaRow(in.SyncMeta)
	row["work_order_id"] = in.WorkOrderID
	row["quote_id"] = in.QuoteID
	row["number"] = in.Number
	row["status"] = string(in.Status)
	row["amount"] = in.Amount
	row["currency"] = in.Currency
	row["due_date"] = timePtrText(in.DueDate)
	row["issued_at"] = timePtrText(in.IssuedAt)
	row["paid_at"] = timePtrText(in.PaidAt)
	return row
}

func invoiceFromRow(row localstore.Row) domain.Invoice {
	return domain.Invoice{
		SyncMeta:    parseMeta(row),
		WorkOrderID: rowStr(row, "work_order_id"),
		QuoteID:     rowStr(row, "quote_id"),
		Number:      rowStr(row, "number"),
		Status:      domain.InvoiceStatus(rowStr(row, "status")),
		Amount:      rowFloat(row, "amount"),
		Currency:    rowStr(row, "currency"),
		DueDate:     rowTimePtr(row, "due_date"),
		IssuedAt:    rowTimePtr(row, "issued_at"),
		PaidAt:      rowTimePtr(row, "paid_at"),
	}
}

func expenseRow(ex domain.Expense) localstore.Row {
	row := metaRow(ex.SyncMeta)
	row["work_order_id"] = ex.WorkOrderID
	row["category"] = ex.Category
	row["description"] = ex.Description
	row["amount"] = ex.Amount
	row["currency"] = ex.Currency
	row["incurred_at"] = timePtrText(ex.IncurredAt)
	return row
}

func expenseFromRow(row localstore.Row) domain.Expense {
	return domain.Expense{
		SyncMeta:    parseMeta(row),
		WorkOrderID: rowStr(row, "work_order_id"),
		Category:    rowStr(row, "category"),
		Description: rowStr(row, "description"),
		Amount:      rowFloat(row, "amount"),
		Currency:    rowStr(row, "currency"),
		IncurredAt:  rowTimePtr(row, "incurred_at"),
	}
}

// Invoices builds the invoice sync config.
func Invoices() fieldsync.Entity {
	return fieldsync.Config[domain.Invoice]{
		EntityName: "invoices",
		FromWire: func(rec json.RawMessage) (domain.Invoice, error) {
			var in domain.Invoice
			if err := json.Unmarshal(rec, &in); err != nil {
				return in, fmt.Errorf("failed to decode invoice: %w", err)
			}
			if in.ID == "" {
				return in, fmt.Errorf("invoice record missing id")
			}
			return in, nil
		},
		Row: invoiceRow,
		ToWire: func(partial map[string]any) (json.RawMessage, error) {
			return wireFromPartial(invoiceWireKeys, partial)
		},
	}.MustBuild()
}

// Expenses builds the expense sync config.
func Expenses() fieldsync.Entity {
	return fieldsync.Config[domain.Expense]{
		EntityName: "expenses",
		FromWire: func(rec json.RawMessage) (domain.Expense, error) {
			var ex domain.Expense
			if err := json.Unmarshal(rec, &ex); err != nil {
				return ex, fmt.Errorf("failed to decode expense: %w", err)
			}
			if ex.ID == "" {
				return ex, fmt.Errorf("expense record missing id")
			}
			return ex, nil
		},
		Row: expenseRow,
		ToWire: func(partial map[string]any) (json.RawMessage, error) {
			return wireFromPartial(expenseWireKeys, partial)
		},
	}.MustBuild()
}

// InvoiceRepo is the local write path for invoices.
type InvoiceRepo struct {
	engine *fieldsync.Engine
	entity fieldsync.Entity
}

// NewInvoiceRepo creates the repository bound to the engine's invoice config.
func NewInvoiceRepo(engine *fieldsync.Engine) *InvoiceRepo {
	ent, ok := engine.Entity("invoices")
	if !ok {
		panic("invoices entity not registered")
	}
	return &InvoiceRepo{engine: engine, entity: ent}
}

// Get loads one invoice.
func (r *InvoiceRepo) Get(ctx context.Context, id string) (domain.Invoice, error) {
	row, err := r.engine.Store().GetRow(ctx, "invoices", id)
	if err != nil {
		return domain.Invoice{}, err
	}
	return invoiceFromRow(row), nil
}

// Create inserts a new invoice and queues its CREATE mutation.
func (r *InvoiceRepo) Create(ctx context.Context, in domain.Invoice) (string, error) {
	if in.Status == "" {
		in.Status = domain.InvoiceDraft
	}
	if in.TechnicianID == "" {
		in.TechnicianID = r.engine.TechnicianID()
	}
	now := localstore.Now()
	in.CreatedAt, in.UpdatedAt = now, now
	in.SyncedAt = nil
	return r.engine.CreateRecord(ctx, r.entity, invoiceRow(in))
}

// SetStatus validates and applies an invoice status transition.
func (r *InvoiceRepo) SetStatus(ctx context.Context, id string, to domain.InvoiceStatus) error {
	in, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := domain.CheckInvoiceTransition(in.Status, to); err != nil {
		return err
	}
	fields := localstore.Row{"status": string(to)}
	now := localstore.FormatTime(localstore.Now())
	switch to {
	case domain.InvoiceIssued:
		fields["issued_at"] = now
	case domain.InvoicePaid:
		fields["paid_at"] = now
	}
	return r.engine.UpdateRecord(ctx, r.entity, id, fields)
}

// ExpenseRepo is the local write path for expenses.
type ExpenseRepo struct {
	engine *fieldsync.Engine
	entity fieldsync.Entity
}

// NewExpenseRepo creates the repository bound to the engine's expense config.
func NewExpenseRepo(engine *fieldsync.Engine) *ExpenseRepo {
	ent, ok := engine.Entity("expenses")
	if !ok {
		panic("expenses entity not registered")
	}
	return &ExpenseRepo{engine: engine, entity: ent}
}

// Create inserts a new expense and queues its CREATE mutation.
func (r *ExpenseRepo) Create(ctx context.Context, ex domain.Expense) (string, error) {
	if ex.TechnicianID == "" {
		ex.TechnicianID = r.engine.TechnicianID()
	}
	now := localstore.Now()
	ex.CreatedAt, ex.UpdatedAt = now, now
	ex.SyncedAt = nil
	return r.engine.CreateRecord(ctx, r.entity, expenseRow(ex))
}

// Update applies a partial expense update.
func (r *ExpenseRepo) Update(ctx context.Context, id string, fields localstore.Row) error {
	return r.engine.UpdateRecord(ctx, r.entity, id, fields)
}

// Delete removes an expense locally and queues its DELETE mutation.
func (r *ExpenseRepo) Delete(ctx context.Context, id string) error {
	return r.engine.DeleteRecord(ctx, r.entity, id)
}

// List returns the technician's expenses, newest first.
func (r *ExpenseRepo) List(ctx context.Context) ([]domain.Expense, error) {
	rows, err := r.engine.Store().QueryRows(ctx, "expenses",
		"technician_id = ? ORDER BY created_at DESC", r.engine.TechnicianID())
	if err != nil {
		return nil, err
	}
	out := make([]domain.Expense, len(rows))
	for i, row := range rows {
		out[i] = expenseFromRow(row)
	}
	return out, nil
}
