// Copyright 2025 The go-fieldsync Authors
// SPDX-License-Identifier: Apache-2.0

package fieldsync

import (
	"errors"
	"fmt"
)

// ErrSyncInFlight is returned when a sync trigger arrives while a run is
// already active. The trigger is coalesced into a no-op, never queued.
var ErrSyncInFlight = errors.New("fieldsync: sync run already in flight")

// ErrOffline is returned when a remote operation is requested while the
// engine believes the device is offline.
var ErrOffline = errors.New("fieldsync: offline")

// NetworkError marks an unreachable or timed-out remote call. It is never
// surfaced as a user-facing failure; the affected step retries next run.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string { return fmt.Sprintf("network error: %v", e.Err) }
func (e *NetworkError) Unwrap() error { return e.Err }

// TransientServerError marks a 5xx (or equivalent) remote failure. The
// affected mutation stays queued and is retried on the next drain.
type TransientServerError struct {
	StatusCode int
	Message    string
}

func (e *TransientServerError) Error() string {
	return fmt.Sprintf("transient server error (status %d): %s", e.StatusCode, e.Message)
}

// ValidationError marks a remote 4xx rejection. The mutation that caused it
// is dropped from the queue and surfaced as a domain error; it is not retried.
type ValidationError struct {
	StatusCode int
	Message    string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error (status %d): %s", e.StatusCode, e.Message)
}

// StorageError marks a local write failure. It indicates a logic or schema
// defect, so it propagates to the caller instead of being retried silently.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string { return fmt.Sprintf("storage error during %s: %v", e.Op, e.Err) }
func (e *StorageError) Unwrap() error { return e.Err }

// AttachmentUploadError marks a failed binary upload attempt.
type AttachmentUploadError struct {
	AttachmentID string
	Attempts     int
	Err          error
}

func (e *AttachmentUploadError) Error() string {
	return fmt.Sprintf("attachment %s upload failed (attempt %d): %v", e.AttachmentID, e.Attempts, e.Err)
}
func (e *AttachmentUploadError) Unwrap() error { return e.Err }

// isDeferrable reports whether an error should be silently deferred to the
// next sync run rather than surfaced.
func isDeferrable(err error) bool {
	var netErr *NetworkError
	var srvErr *TransientServerError
	return errors.As(err, &netErr) || errors.As(err, &srvErr)
}
