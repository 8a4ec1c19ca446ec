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

var sessionWireKeys = map[string]string{
	"id":            "id",
	"technician_id": "technicianId",
	"work_order_id": "workOrderId",
	"session_type":  "sessionType",
	"started_at":    "startedAt",
	"ended_at":      "endedAt",
	"pause_reason":  "pauseReason",
	"notes":         "notes",
	"created_at":    "createdAt",
	"updated_at":    "updatedAt",
}

func sessionRow(s domain.ExecutionSession) localstore.Row {
	row := metaRow(s.SyncMeta)
	row["work_order_id"] = s.WorkOrderID
	row["session_type"] = string(s.SessionType)
	row["started_at"] = localstore.FormatTime(s.StartedAt)
	row["ended_at"] = timePtrText(s.EndedAt)
	row["pause_reason"] = s.PauseReason
	row["notes"] = s.Notes
	return row
}

func sessionFromRow(row localstore.Row) domain.ExecutionSession {
	return domain.ExecutionSession{
		SyncMeta:    parseMeta(row),
		WorkOrderID: rowStr(row, "work_order_id"),
		SessionType: domain.SessionType(rowStr(row, "session_type")),
		StartedAt:   rowTime(row, "started_at"),
		EndedAt:     rowTimePtr(row, "ended_at"),
		PauseReason: rowStr(row, "pause_reason"),
		Notes:       rowStr(row, "notes"),
	}
}

// ExecutionSessions builds the execution session sync config.
func ExecutionSessions() fieldsync.Entity {
	return fieldsync.Config[domain.ExecutionSession]{
		EntityName: "execution-sessions",
		TableName:  "execution_sessions",
		FromWire: func(rec json.RawMessage) (domain.ExecutionSession, error) {
			var s domain.ExecutionSession
			if err := json.Unmarshal(rec, &s); err != nil {
				return s, fmt.Errorf("failed to decode execution session: %w", err)
			}
			if s.ID == "" {
				return s, fmt.Errorf("execution session record missing id")
			}
			return s, nil
		},
		Row: sessionRow,
		ToWire: func(partial map[string]any) (json.RawMessage, error) {
			return wireFromPartial(sessionWireKeys, partial)
		},
	}.MustBuild()
}

// SessionRepo is the local write path for execution sessions.
type SessionRepo struct {
	engine *fieldsync.Engine
	entity fieldsync.Entity
}

// NewSessionRepo creates the repository bound to the engine's session config.
func NewSessionRepo(engine *fieldsync.Engine) *SessionRepo {
	ent, ok := engine.Entity("execution-sessions")
	if !ok {
		panic("execution-sessions entity not registered")
	}
	return &SessionRepo{engine: engine, entity: ent}
}

// ForWorkOrder returns every session of one work order in start order.
func (r *SessionRepo) ForWorkOrder(ctx context.Context, workOrderID string) ([]domain.ExecutionSession, error) {
	rows, err := r.engine.Store().QueryRows(ctx, "execution_sessions",
		"work_order_id = ? ORDER BY started_at", workOrderID)
	if err != nil {
		return nil, err
	}
	out := make([]domain.ExecutionSession, len(rows))
	for i, row := range rows {
		out[i] = sessionFromRow(row)
	}
	return out, nil
}

// Create opens a new session.
func (r *SessionRepo) Create(ctx context.Context, s domain.ExecutionSession) (string, error) {
	if s.WorkOrderID == "" {
		return "", fmt.Errorf("session requires a work order id")
	}
	if s.TechnicianID == "" {
		s.TechnicianID = r.engine.TechnicianID()
	}
	now := localstore.Now()
	if s.StartedAt.IsZero() {
		s.StartedAt = now
	}
	s.CreatedAt, s.UpdatedAt = now, now
	s.SyncedAt = nil
	return r.engine.CreateRecord(ctx, r.entity, sessionRow(s))
}

// End closes a session at the given instant.
func (r *SessionRepo) End(ctx context.Context, id string) error {
	return r.engine.UpdateRecord(ctx, r.entity, id, localstore.Row{
		"ended_at": localstore.FormatTime(localstore.Now()),
	})
}
