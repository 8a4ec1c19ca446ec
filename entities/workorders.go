// Copyright 2025 The go-fieldsync Authors
// SPDX-License-Identifier: Apache-2.0

package entities

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/fieldops/go-fieldsync/domain"
	"github.com/fieldops/go-fieldsync/fieldsync"
	"github.com/fieldops/go-fieldsync/localstore"
)

var workOrderWireKeys = map[string]string{
	"id":              "id",
	"technician_id":   "technicianId",
	"title":           "title",
	"description":     "description",
	"status":          "status",
	"priority":        "priority",
	"customer_name":   "customerName",
	"address":         "address",
	"scheduled_for":   "scheduledFor",
	"execution_start": "executionStart",
	"execution_end":   "executionEnd",
	"created_at":      "createdAt",
	"updated_at":      "updatedAt",
}

func workOrderFromWire(rec json.RawMessage) (domain.WorkOrder, error) {
	var wo domain.WorkOrder
	if err := json.Unmarshal(rec, &wo); err != nil {
		return wo, fmt.Errorf("failed to decode work order: %w", err)
	}
	if wo.ID == "" {
		return wo, fmt.Errorf("work order record missing id")
	}
	return wo, nil
}

func workOrderRow(wo domain.WorkOrder) localstore.Row {
	row := metaRow(wo.SyncMeta)
	row["title"] = wo.Title
	row["description"] = wo.Description
	row["status"] = string(wo.Status)
	row["priority"] = wo.Priority
	row["customer_name"] = wo.CustomerName
	row["address"] = wo.Address
	row["scheduled_for"] = timePtrText(wo.ScheduledFor)
	row["execution_start"] = timePtrText(wo.ExecutionStart)
	row["execution_end"] = timePtrText(wo.ExecutionEnd)
	return row
}

func workOrderFromRow(row localstore.Row) domain.WorkOrder {
	return domain.WorkOrder{
		SyncMeta:       parseMeta(row),
		Title:          rowStr(row, "title"),
		Description:    rowStr(row, "description"),
		Status:         domain.WorkOrderStatus(rowStr(row, "status")),
		Priority:       rowStr(row, "priority"),
		CustomerName:   rowStr(row, "customer_name"),
		Address:        rowStr(row, "address"),
		ScheduledFor:   rowTimePtr(row, "scheduled_for"),
		ExecutionStart: rowTimePtr(row, "execution_start"),
		ExecutionEnd:   rowTimePtr(row, "execution_end"),
	}
}

// WorkOrders builds the work order sync config. Work orders sync first; every
// other entity references them.
func WorkOrders() fieldsync.Entity {
	return fieldsync.Config[domain.WorkOrder]{
		EntityName: "work-orders",
		TableName:  "work_orders",
		FromWire:   workOrderFromWire,
		Row:        workOrderRow,
		ToWire: func(partial map[string]any) (json.RawMessage, error) {
			return wireFromPartial(workOrderWireKeys, partial)
		},
		RemapRefs: remapWorkOrderRefs,
	}.MustBuild()
}

// remapWorkOrderRefs rewrites child-table foreign keys after the server
// assigned a permanent id to a client-created work order.
func remapWorkOrderRefs(ctx context.Context, store *localstore.Store, tx *sql.Tx, oldID, newID string) error {
	for _, table := range []string{"checklist_instances", "quotes", "invoices", "expenses", "execution_sessions", "attachments"} {
		if _, err := tx.ExecContext(ctx,
			fmt.Sprintf(`UPDATE "%s" SET work_order_id = ? WHERE work_order_id = ?`, table), newID, oldID); err != nil {
			return fmt.Errorf("failed to remap work_order_id in %s: %w", table, err)
		}
	}
	return nil
}

// WorkOrderRepo is the optimistic local write path for work orders.
type WorkOrderRepo struct {
	engine *fieldsync.Engine
	entity fieldsync.Entity
}

// NewWorkOrderRepo creates the repository bound to the engine's work order
// config.
func NewWorkOrderRepo(engine *fieldsync.Engine) *WorkOrderRepo {
	ent, ok := engine.Entity("work-orders")
	if !ok {
		panic("work-orders entity not registered")
	}
	return &WorkOrderRepo{engine: engine, entity: ent}
}

// Get loads one work order.
func (r *WorkOrderRepo) Get(ctx context.Context, id string) (domain.WorkOrder, error) {
	row, err := r.engine.Store().GetRow(ctx, "work_orders", id)
	if err != nil {
		return domain.WorkOrder{}, err
	}
	return workOrderFromRow(row), nil
}

// List returns the technician's work orders, newest first.
func (r *WorkOrderRepo) List(ctx context.Context) ([]domain.WorkOrder, error) {
	rows, err := r.engine.Store().QueryRows(ctx, "work_orders",
		"technician_id = ? ORDER BY updated_at DESC", r.engine.TechnicianID())
	if err != nil {
		return nil, err
	}
	out := make([]domain.WorkOrder, len(rows))
	for i, row := range rows {
		out[i] = workOrderFromRow(row)
	}
	return out, nil
}

// Create inserts a new work order and queues its CREATE mutation. A missing
// id gets a temporary client UUID; missing status defaults to SCHEDULED.
func (r *WorkOrderRepo) Create(ctx context.Context, wo domain.WorkOrder) (string, error) {
	if wo.Status == "" {
		wo.Status = domain.WorkOrderScheduled
	}
	if wo.TechnicianID == "" {
		wo.TechnicianID = r.engine.TechnicianID()
	}
	now := localstore.Now()
	wo.CreatedAt, wo.UpdatedAt = now, now
	wo.SyncedAt = nil
	return r.engine.CreateRecord(ctx, r.entity, workOrderRow(wo))
}

// Update applies a partial field update.
func (r *WorkOrderRepo) Update(ctx context.Context, id string, fields localstore.Row) error {
	return r.engine.UpdateRecord(ctx, r.entity, id, fields)
}

// SetStatus validates and applies a status transition. Illegal transitions
// are rejected before any mutation is queued.
func (r *WorkOrderRepo) SetStatus(ctx context.Context, id string, to domain.WorkOrderStatus) error {
	wo, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := domain.CheckWorkOrderTransition(wo.Status, to); err != nil {
		return err
	}
	return r.Update(ctx, id, localstore.Row{"status": string(to)})
}
