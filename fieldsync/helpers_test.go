// Copyright 2025 The go-fieldsync Authors
// SPDX-License-Identifier: Apache-2.0

package fieldsync

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fieldops/go-fieldsync/localstore"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestStore(t *testing.T) *localstore.Store {
	t.Helper()
	store, err := localstore.Open(":memory:", testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func staticToken(token string) TokenFunc {
	return func(ctx context.Context) (string, error) { return token, nil }
}

// roundTripFunc lets a test stand in for the remote API without a listener.
type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func jsonResponse(status int, body any) *http.Response {
	data, err := json.Marshal(body)
	if err != nil {
		panic(err)
	}
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(bytes.NewReader(data)),
	}
}

func fakeTransport(scope string, rt roundTripFunc) *Transport {
	tr := NewTransport("http://sync.test", scope, staticToken("test-token"))
	tr.HTTP = &http.Client{Transport: rt}
	return tr
}

// testExpense is the minimal local type used to exercise the sync machinery
// against the expenses table.
type testExpense struct {
	ID           string  `json:"id"`
	TechnicianID string  `json:"technicianId"`
	Amount       float64 `json:"amount"`
	Description  string  `json:"description,omitempty"`
	CreatedAt    string  `json:"createdAt"`
	UpdatedAt    string  `json:"updatedAt"`
}

var testExpenseWireKeys = map[string]string{
	"id":            "id",
	"technician_id": "technicianId",
	"amount":        "amount",
	"description":   "description",
	"created_at":    "createdAt",
	"updated_at":    "updatedAt",
}

func testExpenseConfig(batch int) Config[testExpense] {
	return Config[testExpense]{
		EntityName: "expenses",
		Batch:      batch,
		FromWire: func(rec json.RawMessage) (testExpense, error) {
			var e testExpense
			if err := json.Unmarshal(rec, &e); err != nil {
				return e, err
			}
			if e.ID == "" {
				return e, fmt.Errorf("expense record missing id")
			}
			return e, nil
		},
		Row: func(e testExpense) localstore.Row {
			created := e.CreatedAt
			if created == "" {
				created = e.UpdatedAt
			}
			return localstore.Row{
				"id":            e.ID,
				"technician_id": e.TechnicianID,
				"amount":        e.Amount,
				"description":   e.Description,
				"created_at":    created,
				"updated_at":    e.UpdatedAt,
			}
		},
		ToWire: func(partial map[string]any) (json.RawMessage, error) {
			wire := make(map[string]any, len(partial))
			for col, v := range partial {
				if key, ok := testExpenseWireKeys[col]; ok {
					wire[key] = v
				}
			}
			return json.Marshal(wire)
		},
	}
}

func testEntity(t *testing.T, batch int) Entity {
	t.Helper()
	ent, err := testExpenseConfig(batch).Build()
	require.NoError(t, err)
	return ent
}

func insertTestExpense(t *testing.T, store *localstore.Store, id, updatedAt string) {
	t.Helper()
	err := store.WithTx(context.Background(), func(tx *sql.Tx) error {
		return store.InsertRowTx(context.Background(), tx, "expenses", localstore.Row{
			"id":            id,
			"technician_id": "tech-1",
			"amount":        10.0,
			"created_at":    updatedAt,
			"updated_at":    updatedAt,
		})
	})
	require.NoError(t, err)
}
