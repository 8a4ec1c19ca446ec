// Copyright 2025 The go-fieldsync Authors
// SPDX-License-Identifier: Apache-2.0

// Package entities binds the business entities to the sync engine: one
// concrete sync config per entity (wire transforms, custom saves, id-remap
// hooks), typed repositories for the optimistic local write path, and the
// execution session tracker.
package entities

import (
	"encoding/json"
	"time"

	"github.com/fieldops/go-fieldsync/domain"
	"github.com/fieldops/go-fieldsync/localstore"
)

// metaRow expands the shared sync columns of a record.
func metaRow(m domain.SyncMeta) localstore.Row {
	return localstore.Row{
		"id":            m.ID,
		"technician_id": m.TechnicianID,
		"created_at":    localstore.FormatTime(m.CreatedAt),
		"updated_at":    localstore.FormatTime(m.UpdatedAt),
		"synced_at":     timePtrText(m.SyncedAt),
	}
}

func parseMeta(row localstore.Row) domain.SyncMeta {
	return domain.SyncMeta{
		ID:           rowStr(row, "id"),
		TechnicianID: rowStr(row, "technician_id"),
		CreatedAt:    rowTime(row, "created_at"),
		UpdatedAt:    rowTime(row, "updated_at"),
		SyncedAt:     rowTimePtr(row, "synced_at"),
	}
}

func timePtrText(t *time.Time) any {
	if t == nil {
		return nil
	}
	return localstore.FormatTime(*t)
}

func rowStr(row localstore.Row, key string) string {
	s, _ := row[key].(string)
	return s
}

func rowFloat(row localstore.Row, key string) float64 {
	switch v := row[key].(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	default:
		return 0
	}
}

func rowInt(row localstore.Row, key string) int {
	switch v := row[key].(type) {
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

func rowTime(row localstore.Row, key string) time.Time {
	t, _ := localstore.ParseTime(rowStr(row, key))
	return t
}

func rowTimePtr(row localstore.Row, key string) *time.Time {
	s := rowStr(row, key)
	if s == "" {
		return nil
	}
	t, err := localstore.ParseTime(s)
	if err != nil {
		return nil
	}
	return &t
}

// wireFromPartial translates a partial column payload to wire field names.
// Columns absent from the mapping (synced_at, upload bookkeeping) and fields
// absent from the payload are omitted rather than nulled, so a narrow
// mutation never clobbers unrelated server-side fields.
func wireFromPartial(wireKeys map[string]string, partial map[string]any) (json.RawMessage, error) {
	out := make(map[string]any, len(partial))
	for col, v := range partial {
		if key, ok := wireKeys[col]; ok {
			out[key] = v
		}
	}
	return json.Marshal(out)
}
