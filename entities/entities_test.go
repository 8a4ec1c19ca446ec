// Copyright 2025 The go-fieldsync Authors
// SPDX-License-Identifier: Apache-2.0

package entities

import (
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fieldops/go-fieldsync/domain"
	"github.com/fieldops/go-fieldsync/fieldsync"
	"github.com/fieldops/go-fieldsync/localstore"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEngine(t *testing.T) *fieldsync.Engine {
	t.Helper()
	store, err := localstore.Open(":memory:", testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	token := func(ctx context.Context) (string, error) { return "test-token", nil }
	opts := fieldsync.DefaultOptions("http://sync.test", "tech-1", token)
	engine, err := fieldsync.New(store, opts, testLogger(), All()...)
	require.NoError(t, err)
	return engine
}

func applyPull(t *testing.T, engine *fieldsync.Engine, entityName string, records ...any) {
	t.Helper()
	ent, ok := engine.Entity(entityName)
	require.True(t, ok)

	raw := make([]json.RawMessage, len(records))
	for i, rec := range records {
		data, err := json.Marshal(rec)
		require.NoError(t, err)
		raw[i] = data
	}
	err := engine.Store().WithTx(context.Background(), func(tx *sql.Tx) error {
		_, _, err := ent.ApplyPull(context.Background(), engine.Store(), tx, testLogger(), raw)
		return err
	})
	require.NoError(t, err)
}

func TestRegistryDependencyOrder(t *testing.T) {
	names := make([]string, 0)
	for _, ent := range All() {
		names = append(names, ent.Name())
	}
	require.Equal(t, []string{
		"work-orders", "checklist-instances", "checklist-answers",
		"quotes", "invoices", "expenses", "execution-sessions", "attachments",
	}, names)
}

func TestWorkOrderPullRoundTrip(t *testing.T) {
	engine := newTestEngine(t)
	repo := NewWorkOrderRepo(engine)

	applyPull(t, engine, "work-orders", map[string]any{
		"id":           "wo1",
		"technicianId": "tech-1",
		"title":        "Fix HVAC",
		"status":       "SCHEDULED",
		"customerName": "Acme",
		"scheduledFor": "2025-06-02T09:00:00Z",
		"createdAt":    "2025-06-01T08:00:00Z",
		"updatedAt":    "2025-06-01T08:00:00Z",
	})

	wo, err := repo.Get(context.Background(), "wo1")
	require.NoError(t, err)
	require.Equal(t, "Fix HVAC", wo.Title)
	require.Equal(t, domain.WorkOrderScheduled, wo.Status)
	require.Equal(t, "Acme", wo.CustomerName)
	require.NotNil(t, wo.ScheduledFor)
	require.Equal(t, 2025, wo.ScheduledFor.Year())
}

func TestPullIsIdempotent(t *testing.T) {
	engine := newTestEngine(t)
	rec := map[string]any{
		"id":           "wo1",
		"technicianId": "tech-1",
		"title":        "Fix HVAC",
		"status":       "SCHEDULED",
		"createdAt":    "2025-06-01T08:00:00Z",
		"updatedAt":    "2025-06-01T08:00:00Z",
	}
	applyPull(t, engine, "work-orders", rec)
	applyPull(t, engine, "work-orders", rec)

	n, err := engine.Store().CountWhere(context.Background(), "work_orders", "")
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

// Projecting a record to the wire and decoding it back must reach a fixed
// point, so repeated sync cycles never mutate unchanged data.
func TestWorkOrderWireTransformFixedPoint(t *testing.T) {
	wire := json.RawMessage(`{
		"id": "wo1", "technicianId": "tech-1", "title": "Fix HVAC",
		"description": "east wing", "status": "SCHEDULED", "priority": "HIGH",
		"customerName": "Acme", "address": "1 Main St",
		"scheduledFor": "2025-06-02T09:00:00Z",
		"createdAt": "2025-06-01T08:00:00Z", "updatedAt": "2025-06-01T08:00:00Z"
	}`)
	wo, err := workOrderFromWire(wire)
	require.NoError(t, err)
	row := workOrderRow(wo)

	wire2, err := wireFromPartial(workOrderWireKeys, row)
	require.NoError(t, err)
	wo2, err := workOrderFromWire(wire2)
	require.NoError(t, err)

	require.Equal(t, wo, wo2)
	require.Equal(t, row, workOrderRow(wo2))
}

func TestQuoteWireTransformFixedPoint(t *testing.T) {
	wire := json.RawMessage(`{
		"id": "q1", "technicianId": "tech-1", "workOrderId": "wo1",
		"customerName": "Acme", "status": "DRAFT", "currency": "EUR",
		"subtotal": 150.0, "discount": 30.0, "total": 120.0,
		"validUntil": "2025-07-01T00:00:00Z",
		"createdAt": "2025-06-01T08:00:00Z", "updatedAt": "2025-06-01T08:00:00Z"
	}`)
	var q domain.Quote
	require.NoError(t, json.Unmarshal(wire, &q))
	row := quoteRow(q)

	wire2, err := wireFromPartial(quoteWireKeys, row)
	require.NoError(t, err)
	var q2 domain.Quote
	require.NoError(t, json.Unmarshal(wire2, &q2))

	require.Equal(t, q, q2)
	require.Equal(t, row, quoteRow(q2))
}

func TestUpdateMutationOmitsUntouchedFields(t *testing.T) {
	engine := newTestEngine(t)
	repo := NewWorkOrderRepo(engine)
	ctx := context.Background()

	id, err := repo.Create(ctx, domain.WorkOrder{Title: "Inspect boiler"})
	require.NoError(t, err)
	require.NoError(t, repo.Update(ctx, id, localstore.Row{"description": "east wing"}))

	pending, err := engine.Queue().Pending(ctx, "work-orders", 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)

	ent, _ := engine.Entity("work-orders")
	wire, err := ent.ToWire(pending[1].Payload)
	require.NoError(t, err)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(wire, &payload))
	require.Equal(t, "east wing", payload["description"])
	require.Contains(t, payload, "id")
	require.Contains(t, payload, "updatedAt")
	// Untouched fields stay absent so the server never nulls them.
	require.NotContains(t, payload, "title")
	require.NotContains(t, payload, "status")
	require.NotContains(t, payload, "syncedAt")
}

func TestWorkOrderSetStatusRejectsIllegalTransition(t *testing.T) {
	engine := newTestEngine(t)
	repo := NewWorkOrderRepo(engine)
	ctx := context.Background()

	id, err := repo.Create(ctx, domain.WorkOrder{Title: "Job"})
	require.NoError(t, err)

	err = repo.SetStatus(ctx, id, domain.WorkOrderCompleted)
	var ite *domain.IllegalTransitionError
	require.ErrorAs(t, err, &ite)

	// Nothing was queued for the rejected change.
	pending, err := engine.Queue().Pending(ctx, "work-orders", 10)
	require.NoError(t, err)
	require.Len(t, pending, 1) // only the CREATE
}

func TestQuotePullReplacesItems(t *testing.T) {
	engine := newTestEngine(t)
	repo := NewQuoteRepo(engine)
	ctx := context.Background()

	quote := map[string]any{
		"id":           "q1",
		"technicianId": "tech-1",
		"customerName": "Acme",
		"status":       "DRAFT",
		"subtotal":     100.0,
		"total":        100.0,
		"createdAt":    "2025-06-01T08:00:00Z",
		"updatedAt":    "2025-06-01T08:00:00Z",
		"items": []map[string]any{
			{"id": "i1", "quoteId": "q1", "description": "labor", "quantity": 2.0, "unitPrice": 50.0, "total": 100.0, "position": 0,
				"createdAt": "2025-06-01T08:00:00Z", "updatedAt": "2025-06-01T08:00:00Z"},
		},
	}
	applyPull(t, engine, "quotes", quote)

	got, err := repo.Get(ctx, "q1")
	require.NoError(t, err)
	require.Len(t, got.Items, 1)
	require.Equal(t, "labor", got.Items[0].Description)

	// A newer copy with a different item set replaces the children wholesale.
	quote["updatedAt"] = "2025-06-01T09:00:00Z"
	quote["items"] = []map[string]any{
		{"id": "i2", "quoteId": "q1", "description": "parts", "quantity": 1.0, "unitPrice": 30.0, "total": 30.0, "position": 0,
			"createdAt": "2025-06-01T09:00:00Z", "updatedAt": "2025-06-01T09:00:00Z"},
	}
	applyPull(t, engine, "quotes", quote)

	got, err = repo.Get(ctx, "q1")
	require.NoError(t, err)
	require.Len(t, got.Items, 1)
	require.Equal(t, "parts", got.Items[0].Description)
}

func TestQuoteCreateQueuesItemsInPayload(t *testing.T) {
	engine := newTestEngine(t)
	repo := NewQuoteRepo(engine)
	ctx := context.Background()

	id, err := repo.Create(ctx, domain.Quote{
		CustomerName: "Acme",
		Items: []domain.QuoteItem{
			{Description: "labor", Quantity: 2, UnitPrice: 50, Total: 100},
		},
	})
	require.NoError(t, err)

	pending, err := engine.Queue().Pending(ctx, "quotes", 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, fieldsync.OpCreate, pending[0].Op)
	require.Contains(t, pending[0].Payload, "items")
	require.NotContains(t, pending[0].Payload, "synced_at")

	got, err := repo.Get(ctx, id)
	require.NoError(t, err)
	require.Len(t, got.Items, 1)
	require.Equal(t, id, got.Items[0].QuoteID)
}

func TestQuoteReplaceItemsRecomputesTotals(t *testing.T) {
	engine := newTestEngine(t)
	repo := NewQuoteRepo(engine)
	ctx := context.Background()

	id, err := repo.Create(ctx, domain.Quote{CustomerName: "Acme", Discount: 30})
	require.NoError(t, err)

	err = repo.ReplaceItems(ctx, id, []domain.QuoteItem{
		{Description: "labor", Quantity: 3, UnitPrice: 40},
		{Description: "parts", Quantity: 2, UnitPrice: 15},
	})
	require.NoError(t, err)

	got, err := repo.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, 150.0, got.Subtotal)
	require.Equal(t, 30.0, got.Discount)
	require.Equal(t, 120.0, got.Total)
	require.Len(t, got.Items, 2)
	require.Nil(t, got.SyncedAt)
}

func TestChecklistSaveAnswerCreatesThenUpdates(t *testing.T) {
	engine := newTestEngine(t)
	repo := NewChecklistRepo(engine)
	ctx := context.Background()

	answer := domain.ChecklistAnswer{
		ChecklistInstanceID: "ci1",
		QuestionID:          "qst1",
		Value:               "first",
	}
	require.NoError(t, repo.SaveAnswer(ctx, answer))

	answer.Value = "second"
	require.NoError(t, repo.SaveAnswer(ctx, answer))

	answers, err := repo.Answers(ctx, "ci1")
	require.NoError(t, err)
	require.Len(t, answers, 1)
	require.Equal(t, "second", answers[0].Value)
}

func TestChecklistDebouncedAnswerKeepsLastValue(t *testing.T) {
	store, err := localstore.Open(":memory:", testLogger())
	require.NoError(t, err)
	defer store.Close()

	token := func(ctx context.Context) (string, error) { return "t", nil }
	opts := fieldsync.DefaultOptions("http://sync.test", "tech-1", token)
	opts.DebounceWindow = 30 * time.Millisecond
	engine, err := fieldsync.New(store, opts, testLogger(), All()...)
	require.NoError(t, err)
	repo := NewChecklistRepo(engine)

	for _, v := range []string{"T", "Te", "Tes", "Test"} {
		repo.SaveAnswerDebounced(domain.ChecklistAnswer{
			ChecklistInstanceID: "ci1",
			QuestionID:          "qst1",
			Value:               v,
		})
	}

	require.Eventually(t, func() bool {
		answers, err := repo.Answers(context.Background(), "ci1")
		return err == nil && len(answers) == 1 && answers[0].Value == "Test"
	}, 2*time.Second, 10*time.Millisecond)

	// Four keystrokes, one persisted write, one queued mutation.
	pending, err := engine.Queue().Pending(context.Background(), "checklist-answers", 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
}

func TestChecklistStatusStampsCompletedAt(t *testing.T) {
	engine := newTestEngine(t)
	repo := NewChecklistRepo(engine)
	ctx := context.Background()

	applyPull(t, engine, "checklist-instances", map[string]any{
		"id":           "ci1",
		"technicianId": "tech-1",
		"workOrderId":  "wo1",
		"name":         "Safety checks",
		"status":       "PENDING",
		"createdAt":    "2025-06-01T08:00:00Z",
		"updatedAt":    "2025-06-01T08:00:00Z",
	})

	require.NoError(t, repo.SetInstanceStatus(ctx, "ci1", domain.ChecklistInProgress))
	require.NoError(t, repo.SetInstanceStatus(ctx, "ci1", domain.ChecklistCompleted))

	ci, err := repo.GetInstance(ctx, "ci1")
	require.NoError(t, err)
	require.Equal(t, domain.ChecklistCompleted, ci.Status)
	require.NotNil(t, ci.CompletedAt)
}

func TestInvoiceStatusStampsLifecycleTimes(t *testing.T) {
	engine := newTestEngine(t)
	repo := NewInvoiceRepo(engine)
	ctx := context.Background()

	id, err := repo.Create(ctx, domain.Invoice{Number: "INV-1", Amount: 150})
	require.NoError(t, err)

	require.NoError(t, repo.SetStatus(ctx, id, domain.InvoiceIssued))
	require.NoError(t, repo.SetStatus(ctx, id, domain.InvoicePaid))

	in, err := repo.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, domain.InvoicePaid, in.Status)
	require.NotNil(t, in.IssuedAt)
	require.NotNil(t, in.PaidAt)

	err = repo.SetStatus(ctx, id, domain.InvoiceVoid)
	var ite *domain.IllegalTransitionError
	require.ErrorAs(t, err, &ite)
}

func TestAttachmentCaptureAndPulledMetadata(t *testing.T) {
	engine := newTestEngine(t)
	repo := NewAttachmentRepo(engine)
	ctx := context.Background()

	id, err := repo.Capture(ctx, domain.Attachment{
		WorkOrderID: "wo1",
		FileName:    "photo.jpg",
		MimeType:    "image/jpeg",
		Base64Data:  "aGVsbG8=",
	})
	require.NoError(t, err)

	a, err := repo.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, domain.AttachmentPending, a.SyncStatus)
	require.Equal(t, "aGVsbG8=", a.Base64Data)

	_, err = repo.Capture(ctx, domain.Attachment{WorkOrderID: "wo1", FileName: "x", MimeType: "image/png"})
	require.Error(t, err)

	// Server metadata with a remote path lands as already-synced.
	applyPull(t, engine, "attachments", map[string]any{
		"id":           "a-server",
		"technicianId": "tech-1",
		"workOrderId":  "wo1",
		"fileName":     "old.jpg",
		"mimeType":     "image/jpeg",
		"remotePath":   "/files/tech-1/a-server/old.jpg",
		"createdAt":    "2025-06-01T08:00:00Z",
		"updatedAt":    "2025-06-01T08:00:00Z",
	})
	pulled, err := repo.Get(ctx, "a-server")
	require.NoError(t, err)
	require.Equal(t, domain.AttachmentSynced, pulled.SyncStatus)
}
