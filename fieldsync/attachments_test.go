// Copyright 2025 The go-fieldsync Authors
// SPDX-License-Identifier: Apache-2.0

package fieldsync

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fieldops/go-fieldsync/localstore"
)

func insertAttachment(t *testing.T, store *localstore.Store, row localstore.Row) {
	t.Helper()
	now := localstore.FormatTime(localstore.Now())
	base := localstore.Row{
		"id":            "a1",
		"technician_id": "tech-1",
		"work_order_id": "wo1",
		"file_name":     "photo.jpg",
		"mime_type":     "image/jpeg",
		"base64_data":   "aGVsbG8=",
		"sync_status":   "PENDING",
		"created_at":    now,
		"updated_at":    now,
	}
	for k, v := range row {
		base[k] = v
	}
	err := store.WithTx(context.Background(), func(tx *sql.Tx) error {
		return store.InsertRowTx(context.Background(), tx, "attachments", base)
	})
	require.NoError(t, err)
}

func attachmentRowByID(t *testing.T, store *localstore.Store, id string) localstore.Row {
	t.Helper()
	row, err := store.GetRow(context.Background(), "attachments", id)
	require.NoError(t, err)
	return row
}

func TestUploadSuccessClearsPayload(t *testing.T) {
	store := newTestStore(t)
	events := NewEvents()
	ch, cancel := events.Subscribe(4)
	defer cancel()

	insertAttachment(t, store, nil)

	tr := fakeTransport("tech-1", func(r *http.Request) (*http.Response, error) {
		require.Equal(t, "/attachments", r.URL.Path)
		return jsonResponse(http.StatusOK, map[string]string{"remotePath": "/files/tech-1/a1/photo.jpg"}), nil
	})
	u := NewUploader(store, tr, testLogger(), events, 10)

	uploaded, err := u.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, uploaded)

	row := attachmentRowByID(t, store, "a1")
	require.Equal(t, "SYNCED", row["sync_status"])
	require.Equal(t, "/files/tech-1/a1/photo.jpg", row["remote_path"])
	require.Nil(t, row["base64_data"])
	require.NotNil(t, row["synced_at"])

	ev := <-ch
	require.Equal(t, EventAttachmentSynced, ev.Kind)
	require.Equal(t, "a1", ev.ID)
}

func TestUploadFailureConsumesAttemptAndParksFailed(t *testing.T) {
	store := newTestStore(t)
	insertAttachment(t, store, nil)

	tr := fakeTransport("tech-1", func(r *http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusUnprocessableEntity, map[string]string{"error": "corrupt image"}), nil
	})
	u := NewUploader(store, tr, testLogger(), nil, 10)

	uploaded, err := u.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, uploaded)

	row := attachmentRowByID(t, store, "a1")
	require.Equal(t, "FAILED", row["sync_status"])
	require.EqualValues(t, 1, row["upload_attempts"])
	require.Contains(t, row["last_upload_error"], "corrupt image")
}

func TestUploadStopsAtAttemptCap(t *testing.T) {
	store := newTestStore(t)
	insertAttachment(t, store, nil)

	tr := fakeTransport("tech-1", func(r *http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusUnprocessableEntity, map[string]string{"error": "still broken"}), nil
	})
	u := NewUploader(store, tr, testLogger(), nil, 10)

	for i := 0; i < MaxUploadAttempts+3; i++ {
		_, err := u.RunOnce(context.Background())
		require.NoError(t, err)
	}

	row := attachmentRowByID(t, store, "a1")
	require.EqualValues(t, MaxUploadAttempts, row["upload_attempts"])
	require.Equal(t, "FAILED", row["sync_status"])
}

func TestNetworkErrorDoesNotConsumeAttempt(t *testing.T) {
	store := newTestStore(t)
	insertAttachment(t, store, nil)

	tr := fakeTransport("tech-1", func(r *http.Request) (*http.Response, error) {
		return nil, errors.New("connection reset")
	})
	u := NewUploader(store, tr, testLogger(), nil, 10)

	_, err := u.RunOnce(context.Background())
	var netErr *NetworkError
	require.ErrorAs(t, err, &netErr)

	row := attachmentRowByID(t, store, "a1")
	require.EqualValues(t, 0, row["upload_attempts"])
	// Interrupted mid-upload; the row stays UPLOADING and is picked up again.
	require.Equal(t, "UPLOADING", row["sync_status"])

	// Connectivity back: the retry succeeds on the attempt that was never
	// consumed.
	tr2 := fakeTransport("tech-1", func(r *http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusOK, map[string]string{"remotePath": "/files/tech-1/a1/photo.jpg"}), nil
	})
	u2 := NewUploader(store, tr2, testLogger(), nil, 10)
	uploaded, err := u2.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, uploaded)
	require.Equal(t, "SYNCED", attachmentRowByID(t, store, "a1")["sync_status"])
}

func TestSucceedsOnFinalAttempt(t *testing.T) {
	store := newTestStore(t)
	insertAttachment(t, store, localstore.Row{
		"sync_status":     "FAILED",
		"upload_attempts": MaxUploadAttempts - 1,
	})

	tr := fakeTransport("tech-1", func(r *http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusOK, map[string]string{"remotePath": "/files/tech-1/a1/photo.jpg"}), nil
	})
	u := NewUploader(store, tr, testLogger(), nil, 10)

	uploaded, err := u.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, uploaded)

	row := attachmentRowByID(t, store, "a1")
	require.Equal(t, "SYNCED", row["sync_status"])
	// Success does not touch the attempt counter.
	require.EqualValues(t, MaxUploadAttempts-1, row["upload_attempts"])
}

func TestMissingPayloadFailsWithoutUpload(t *testing.T) {
	store := newTestStore(t)
	insertAttachment(t, store, localstore.Row{"base64_data": nil})

	requested := false
	tr := fakeTransport("tech-1", func(r *http.Request) (*http.Response, error) {
		requested = true
		return jsonResponse(http.StatusOK, map[string]string{"remotePath": "/x"}), nil
	})
	u := NewUploader(store, tr, testLogger(), nil, 10)

	_, err := u.RunOnce(context.Background())
	require.NoError(t, err)
	require.False(t, requested)

	row := attachmentRowByID(t, store, "a1")
	require.Equal(t, "FAILED", row["sync_status"])
	require.EqualValues(t, 1, row["upload_attempts"])
}

func TestRetryResetsParkedAttachment(t *testing.T) {
	store := newTestStore(t)
	insertAttachment(t, store, localstore.Row{
		"sync_status":       "FAILED",
		"upload_attempts":   MaxUploadAttempts,
		"last_upload_error": "gave up",
	})

	u := NewUploader(store, fakeTransport("tech-1", nil), testLogger(), nil, 10)
	require.NoError(t, u.Retry(context.Background(), "a1"))

	row := attachmentRowByID(t, store, "a1")
	require.Equal(t, "PENDING", row["sync_status"])
	require.EqualValues(t, 0, row["upload_attempts"])
	require.Nil(t, row["last_upload_error"])
}

func TestSweepClearsSyncedPayloads(t *testing.T) {
	store := newTestStore(t)
	insertAttachment(t, store, localstore.Row{"id": "synced", "sync_status": "SYNCED"})
	insertAttachment(t, store, localstore.Row{"id": "pending"})

	u := NewUploader(store, fakeTransport("tech-1", nil), testLogger(), nil, 10)
	require.NoError(t, u.Sweep(context.Background()))

	require.Nil(t, attachmentRowByID(t, store, "synced")["base64_data"])
	// Unsynced payloads survive the sweep.
	require.Equal(t, "aGVsbG8=", attachmentRowByID(t, store, "pending")["base64_data"])
}
