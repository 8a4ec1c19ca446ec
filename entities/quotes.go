// Copyright 2025 The go-fieldsync Authors
// SPDX-License-Identifier: Apache-2.0

package entities

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/fieldops/go-fieldsync/domain"
	"github.com/fieldops/go-fieldsync/fieldsync"
	"github.com/fieldops/go-fieldsync/localstore"
)

var quoteWireKeys = map[string]string{
	"id":            "id",
	"technician_id": "technicianId",
	"work_order_id": "workOrderId",
	"customer_name": "customerName",
	"status":        "status",
	"currency":      "currency",
	"subtotal":      "subtotal",
	"discount":      "discount",
	"total":         "total",
	"valid_until":   "validUntil",
	"created_at":    "createdAt",
	"updated_at":    "updatedAt",
	// items is not a quotes column; it rides along in mutation payloads and
	// is included on the wire only when explicitly present.
	"items": "items",
}

func quoteRow(q domain.Quote) localstore.Row {
	row := metaRow(q.SyncMeta)
	row["work_order_id"] = q.WorkOrderID
	row["customer_name"] = q.CustomerName
	row["status"] = string(q.Status)
	row["currency"] = q.Currency
	row["subtotal"] = q.Subtotal
	row["discount"] = q.Discount
	row["total"] = q.Total
	row["valid_until"] = timePtrText(q.ValidUntil)
	return row
}

func quoteFromRow(row localstore.Row) domain.Quote {
	return domain.Quote{
		SyncMeta:     parseMeta(row),
		WorkOrderID:  rowStr(row, "work_order_id"),
		CustomerName: rowStr(row, "customer_name"),
		Status:       domain.QuoteStatus(rowStr(row, "status")),
		Currency:     rowStr(row, "currency"),
		Subtotal:     rowFloat(row, "subtotal"),
		Discount:     rowFloat(row, "discount"),
		Total:        rowFloat(row, "total"),
		ValidUntil:   rowTimePtr(row, "valid_until"),
	}
}

func quoteItemRow(it domain.QuoteItem) localstore.Row {
	return localstore.Row{
		"id":          it.ID,
		"quote_id":    it.QuoteID,
		"description": it.Description,
		"quantity":    it.Quantity,
		"unit_price":  it.UnitPrice,
		"total":       it.Total,
		"position":    it.Position,
		"created_at":  localstore.FormatTime(it.CreatedAt),
		"updated_at":  localstore.FormatTime(it.UpdatedAt),
	}
}

func quoteItemFromRow(row localstore.Row) domain.QuoteItem {
	return domain.QuoteItem{
		ID:          rowStr(row, "id"),
		QuoteID:     rowStr(row, "quote_id"),
		Description: rowStr(row, "description"),
		Quantity:    rowFloat(row, "quantity"),
		UnitPrice:   rowFloat(row, "unit_price"),
		Total:       rowFloat(row, "total"),
		Position:    rowInt(row, "position"),
		CreatedAt:   rowTime(row, "created_at"),
		UpdatedAt:   rowTime(row, "updated_at"),
	}
}

// Quotes builds the quote sync config. A quote spans two tables, so pulls go
// through a custom save that upserts the quote row and transactionally
// replaces its item rows.
func Quotes() fieldsync.Entity {
	return fieldsync.Config[domain.Quote]{
		EntityName: "quotes",
		TableName:  "quotes",
		FromWire: func(rec json.RawMessage) (domain.Quote, error) {
			var q domain.Quote
			if err := json.Unmarshal(rec, &q); err != nil {
				return q, fmt.Errorf("failed to decode quote: %w", err)
			}
			if q.ID == "" {
				return q, fmt.Errorf("quote record missing id")
			}
			return q, nil
		},
		Row: quoteRow,
		ToWire: func(partial map[string]any) (json.RawMessage, error) {
			return wireFromPartial(quoteWireKeys, partial)
		},
		Save:      saveQuotes,
		RemapRefs: remapQuoteRefs,
	}.MustBuild()
}

func saveQuotes(ctx context.Context, store *localstore.Store, tx *sql.Tx, quotes []domain.Quote, rows []localstore.Row) error {
	if err := store.UpsertRows(ctx, tx, "quotes", rows); err != nil {
		return err
	}
	for _, q := range quotes {
		itemRows := make([]localstore.Row, len(q.Items))
		for i, it := range q.Items {
			if it.QuoteID == "" {
				it.QuoteID = q.ID
			}
			itemRows[i] = quoteItemRow(it)
		}
		if err := store.ReplaceChildRows(ctx, tx, "quote_items", "quote_id", q.ID, itemRows); err != nil {
			return err
		}
	}
	return nil
}

func remapQuoteRefs(ctx context.Context, store *localstore.Store, tx *sql.Tx, oldID, newID string) error {
	if _, err := tx.ExecContext(ctx, `UPDATE quote_items SET quote_id = ? WHERE quote_id = ?`, newID, oldID); err != nil {
		return fmt.Errorf("failed to remap quote_id in quote_items: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE invoices SET quote_id = ? WHERE quote_id = ?`, newID, oldID); err != nil {
		return fmt.Errorf("failed to remap quote_id in invoices: %w", err)
	}
	return nil
}

// QuoteRepo is the local write path for quotes and their line items.
type QuoteRepo struct {
	engine *fieldsync.Engine
	entity fieldsync.Entity
}

// NewQuoteRepo creates the repository bound to the engine's quote config.
func NewQuoteRepo(engine *fieldsync.Engine) *QuoteRepo {
	ent, ok := engine.Entity("quotes")
	if !ok {
		panic("quotes entity not registered")
	}
	return &QuoteRepo{engine: engine, entity: ent}
}

// Get loads one quote with its items.
func (r *QuoteRepo) Get(ctx context.Context, id string) (domain.Quote, error) {
	row, err := r.engine.Store().GetRow(ctx, "quotes", id)
	if err != nil {
		return domain.Quote{}, err
	}
	q := quoteFromRow(row)
	itemRows, err := r.engine.Store().QueryRows(ctx, "quote_items",
		"quote_id = ? ORDER BY position", id)
	if err != nil {
		return domain.Quote{}, err
	}
	for _, ir := range itemRows {
		q.Items = append(q.Items, quoteItemFromRow(ir))
	}
	return q, nil
}

// Create inserts a quote with its items and queues one CREATE mutation whose
// payload carries the item list.
func (r *QuoteRepo) Create(ctx context.Context, q domain.Quote) (string, error) {
	if q.ID == "" {
		q.ID = uuid.New().String()
	}
	if q.Status == "" {
		q.Status = domain.QuoteDraft
	}
	if q.TechnicianID == "" {
		q.TechnicianID = r.engine.TechnicianID()
	}
	now := localstore.Now()
	q.CreatedAt, q.UpdatedAt = now, now
	q.SyncedAt = nil
	for i := range q.Items {
		if q.Items[i].ID == "" {
			q.Items[i].ID = uuid.New().String()
		}
		q.Items[i].QuoteID = q.ID
		q.Items[i].CreatedAt, q.Items[i].UpdatedAt = now, now
	}

	store := r.engine.Store()
	err := store.WithTx(ctx, func(tx *sql.Tx) error {
		if err := store.InsertRowTx(ctx, tx, "quotes", quoteRow(q)); err != nil {
			return err
		}
		for _, it := range q.Items {
			if err := store.InsertRowTx(ctx, tx, "quote_items", quoteItemRow(it)); err != nil {
				return err
			}
		}
		payload := quoteRow(q)
		payload["items"] = q.Items
		delete(payload, "synced_at")
		return r.engine.Queue().EnqueueTx(ctx, tx, "quotes", q.ID, fieldsync.OpCreate, payload)
	})
	if err != nil {
		return "", err
	}
	return q.ID, nil
}

// SetStatus validates and applies a quote status transition. The mutation
// payload carries only the status, so the server-side item list is untouched.
func (r *QuoteRepo) SetStatus(ctx context.Context, id string, to domain.QuoteStatus) error {
	q, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := domain.CheckQuoteTransition(q.Status, to); err != nil {
		return err
	}
	return r.engine.UpdateRecord(ctx, r.entity, id, localstore.Row{"status": string(to)})
}

// ReplaceItems swaps the quote's item list and queues an UPDATE mutation that
// explicitly includes the new items and totals. The quote's existing discount
// carries over: total is the new subtotal minus it.
func (r *QuoteRepo) ReplaceItems(ctx context.Context, id string, items []domain.QuoteItem) error {
	current, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	now := localstore.Now()
	subtotal := 0.0
	for i := range items {
		if items[i].ID == "" {
			items[i].ID = uuid.New().String()
		}
		items[i].QuoteID = id
		if items[i].CreatedAt.IsZero() {
			items[i].CreatedAt = now
		}
		items[i].UpdatedAt = now
		items[i].Total = items[i].Quantity * items[i].UnitPrice
		subtotal += items[i].Total
	}

	store := r.engine.Store()
	return store.WithTx(ctx, func(tx *sql.Tx) error {
		itemRows := make([]localstore.Row, len(items))
		for i, it := range items {
			itemRows[i] = quoteItemRow(it)
		}
		if err := store.ReplaceChildRows(ctx, tx, "quote_items", "quote_id", id, itemRows); err != nil {
			return err
		}
		nowText := localstore.FormatTime(now)
		total := subtotal - current.Discount
		quoteFields := localstore.Row{
			"subtotal":   subtotal,
			"total":      total,
			"updated_at": nowText,
			"synced_at":  nil,
		}
		if err := store.UpdateRowTx(ctx, tx, "quotes", id, quoteFields); err != nil {
			return err
		}
		payload := localstore.Row{
			"id":         id,
			"subtotal":   subtotal,
			"total":      total,
			"updated_at": nowText,
			"items":      items,
		}
		return r.engine.Queue().EnqueueTx(ctx, tx, "quotes", id, fieldsync.OpUpdate, payload)
	})
}
