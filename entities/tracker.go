// Copyright 2025 The go-fieldsync Authors
// SPDX-License-Identifier: Apache-2.0

package entities

import (
	"context"
	"time"

	"github.com/fieldops/go-fieldsync/domain"
	"github.com/fieldops/go-fieldsync/fieldsync"
	"github.com/fieldops/go-fieldsync/localstore"
)

// Tracker drives work order execution: status transitions plus the WORK/PAUSE
// session ledger, kept consistent with each other. At most one session per
// work order is active at a time.
type Tracker struct {
	engine     *fieldsync.Engine
	workOrders *WorkOrderRepo
	sessions   *SessionRepo
}

// NewTracker creates a tracker over the engine's work order and session
// configs.
func NewTracker(engine *fieldsync.Engine) *Tracker {
	return &Tracker{
		engine:     engine,
		workOrders: NewWorkOrderRepo(engine),
		sessions:   NewSessionRepo(engine),
	}
}

// Start begins execution: the work order moves to IN_PROGRESS, execution_start
// is stamped, and a WORK session opens. Starting while a session is already
// active is illegal.
func (t *Tracker) Start(ctx context.Context, workOrderID string) error {
	wo, sessions, err := t.load(ctx, workOrderID)
	if err != nil {
		return err
	}
	if active := domain.ActiveSession(sessions); active != nil {
		return &domain.IllegalTransitionError{
			Entity: "execution_session",
			From:   string(active.SessionType),
			To:     string(domain.SessionWork),
		}
	}
	if err := domain.CheckWorkOrderTransition(wo.Status, domain.WorkOrderInProgress); err != nil {
		return err
	}

	now := localstore.Now()
	fields := localstore.Row{"status": string(domain.WorkOrderInProgress)}
	if wo.ExecutionStart == nil {
		fields["execution_start"] = localstore.FormatTime(now)
	}
	if err := t.workOrders.Update(ctx, workOrderID, fields); err != nil {
		return err
	}
	_, err = t.sessions.Create(ctx, domain.ExecutionSession{
		WorkOrderID: workOrderID,
		SessionType: domain.SessionWork,
		StartedAt:   now,
	})
	return err
}

// Pause closes the active WORK session, opens a PAUSE session, and moves the
// work order to ON_HOLD.
func (t *Tracker) Pause(ctx context.Context, workOrderID, reason string) error {
	wo, sessions, err := t.load(ctx, workOrderID)
	if err != nil {
		return err
	}
	active := domain.ActiveSession(sessions)
	if active == nil || active.SessionType != domain.SessionWork {
		return &domain.IllegalTransitionError{
			Entity: "execution_session",
			From:   activeType(active),
			To:     string(domain.SessionPause),
		}
	}
	if err := domain.CheckWorkOrderTransition(wo.Status, domain.WorkOrderOnHold); err != nil {
		return err
	}

	if err := t.sessions.End(ctx, active.ID); err != nil {
		return err
	}
	if _, err := t.sessions.Create(ctx, domain.ExecutionSession{
		WorkOrderID: workOrderID,
		SessionType: domain.SessionPause,
		PauseReason: reason,
	}); err != nil {
		return err
	}
	return t.workOrders.Update(ctx, workOrderID, localstore.Row{
		"status": string(domain.WorkOrderOnHold),
	})
}

// Resume closes the active PAUSE session, opens a new WORK session, and moves
// the work order back to IN_PROGRESS.
func (t *Tracker) Resume(ctx context.Context, workOrderID string) error {
	wo, sessions, err := t.load(ctx, workOrderID)
	if err != nil {
		return err
	}
	active := domain.ActiveSession(sessions)
	if active == nil || active.SessionType != domain.SessionPause {
		return &domain.IllegalTransitionError{
			Entity: "execution_session",
			From:   activeType(active),
			To:     string(domain.SessionWork),
		}
	}
	if err := domain.CheckWorkOrderTransition(wo.Status, domain.WorkOrderInProgress); err != nil {
		return err
	}

	if err := t.sessions.End(ctx, active.ID); err != nil {
		return err
	}
	if _, err := t.sessions.Create(ctx, domain.ExecutionSession{
		WorkOrderID: workOrderID,
		SessionType: domain.SessionWork,
	}); err != nil {
		return err
	}
	return t.workOrders.Update(ctx, workOrderID, localstore.Row{
		"status": string(domain.WorkOrderInProgress),
	})
}

// Complete closes any active session, stamps execution_end, and moves the work
// order to COMPLETED. A work order whose status drifted (an earlier status
// write was lost) but that demonstrably started execution is corrected to
// IN_PROGRESS first, so the transition stays legal.
func (t *Tracker) Complete(ctx context.Context, workOrderID string) error {
	wo, sessions, err := t.load(ctx, workOrderID)
	if err != nil {
		return err
	}
	if wo.Status != domain.WorkOrderInProgress && (len(sessions) > 0 || wo.ExecutionStart != nil) {
		if err := domain.CheckWorkOrderTransition(wo.Status, domain.WorkOrderInProgress); err == nil {
			if err := t.workOrders.Update(ctx, workOrderID, localstore.Row{
				"status": string(domain.WorkOrderInProgress),
			}); err != nil {
				return err
			}
			wo.Status = domain.WorkOrderInProgress
		}
	}
	if err := domain.CheckWorkOrderTransition(wo.Status, domain.WorkOrderCompleted); err != nil {
		return err
	}

	if active := domain.ActiveSession(sessions); active != nil {
		if err := t.sessions.End(ctx, active.ID); err != nil {
			return err
		}
	}
	return t.workOrders.Update(ctx, workOrderID, localstore.Row{
		"status":        string(domain.WorkOrderCompleted),
		"execution_end": localstore.FormatTime(localstore.Now()),
	})
}

// Cancel closes any active session and moves the work order to CANCELLED.
func (t *Tracker) Cancel(ctx context.Context, workOrderID string) error {
	wo, sessions, err := t.load(ctx, workOrderID)
	if err != nil {
		return err
	}
	if err := domain.CheckWorkOrderTransition(wo.Status, domain.WorkOrderCancelled); err != nil {
		return err
	}
	if active := domain.ActiveSession(sessions); active != nil {
		if err := t.sessions.End(ctx, active.ID); err != nil {
			return err
		}
	}
	return t.workOrders.Update(ctx, workOrderID, localstore.Row{
		"status": string(domain.WorkOrderCancelled),
	})
}

// Reconcile repairs state left behind by a crash or lost write: a work order
// IN_PROGRESS with no active session gets a fresh WORK session so elapsed time
// keeps accruing. Returns true when a repair was made.
func (t *Tracker) Reconcile(ctx context.Context, workOrderID string) (bool, error) {
	wo, sessions, err := t.load(ctx, workOrderID)
	if err != nil {
		return false, err
	}
	if wo.Status != domain.WorkOrderInProgress {
		return false, nil
	}
	if domain.ActiveSession(sessions) != nil {
		return false, nil
	}
	t.engine.Logger().Warn("work order in progress with no active session, opening one",
		"work_order", workOrderID)
	_, err = t.sessions.Create(ctx, domain.ExecutionSession{
		WorkOrderID: workOrderID,
		SessionType: domain.SessionWork,
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

// WorkTime returns accumulated WORK time, including the live span of an
// active session.
func (t *Tracker) WorkTime(ctx context.Context, workOrderID string) (time.Duration, error) {
	return t.total(ctx, workOrderID, domain.SessionWork)
}

// PauseTime returns accumulated PAUSE time, including the live span of an
// active session.
func (t *Tracker) PauseTime(ctx context.Context, workOrderID string) (time.Duration, error) {
	return t.total(ctx, workOrderID, domain.SessionPause)
}

func (t *Tracker) total(ctx context.Context, workOrderID string, kind domain.SessionType) (time.Duration, error) {
	sessions, err := t.sessions.ForWorkOrder(ctx, workOrderID)
	if err != nil {
		return 0, err
	}
	return domain.TotalDuration(sessions, kind, localstore.Now()), nil
}

func (t *Tracker) load(ctx context.Context, workOrderID string) (domain.WorkOrder, []domain.ExecutionSession, error) {
	wo, err := t.workOrders.Get(ctx, workOrderID)
	if err != nil {
		return domain.WorkOrder{}, nil, err
	}
	sessions, err := t.sessions.ForWorkOrder(ctx, workOrderID)
	if err != nil {
		return domain.WorkOrder{}, nil, err
	}
	return wo, sessions, nil
}

func activeType(s *domain.ExecutionSession) string {
	if s == nil {
		return "NONE"
	}
	return string(s.SessionType)
}
