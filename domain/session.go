// Copyright 2025 The go-fieldsync Authors
// SPDX-License-Identifier: Apache-2.0

package domain

import "time"

// SessionType distinguishes work time from pause time.
type SessionType string

const (
	SessionWork  SessionType = "WORK"
	SessionPause SessionType = "PAUSE"
)

// ExecutionSession is one WORK or PAUSE interval against a work order.
// EndedAt == nil means the session is still running. At most one session per
// work order may be active at a time.
type ExecutionSession struct {
	SyncMeta
	WorkOrderID string      `json:"workOrderId"`
	SessionType SessionType `json:"sessionType"`
	StartedAt   time.Time   `json:"startedAt"`
	EndedAt     *time.Time  `json:"endedAt,omitempty"`
	PauseReason string      `json:"pauseReason,omitempty"`
	Notes       string      `json:"notes,omitempty"`
}

// Active reports whether the session is still running.
func (s *ExecutionSession) Active() bool {
	return s.EndedAt == nil
}

// Duration returns the elapsed span of the session, using now for the open
// end of an active session.
func (s *ExecutionSession) Duration(now time.Time) time.Duration {
	end := now
	if s.EndedAt != nil {
		end = *s.EndedAt
	}
	if end.Before(s.StartedAt) {
		return 0
	}
	return end.Sub(s.StartedAt)
}

// ActiveSession returns the running session among the given ones, or nil.
func ActiveSession(sessions []ExecutionSession) *ExecutionSession {
	for i := range sessions {
		if sessions[i].Active() {
			return &sessions[i]
		}
	}
	return nil
}

// TotalDuration sums session durations of the given type. Live elapsed time
// for an active session is included, derived from now rather than stored.
func TotalDuration(sessions []ExecutionSession, kind SessionType, now time.Time) time.Duration {
	var total time.Duration
	for i := range sessions {
		if sessions[i].SessionType == kind {
			total += sessions[i].Duration(now)
		}
	}
	return total
}
