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

var checklistWireKeys = map[string]string{
	"id":            "id",
	"technician_id": "technicianId",
	"work_order_id": "workOrderId",
	"template_id":   "templateId",
	"name":          "name",
	"status":        "status",
	"completed_at":  "completedAt",
	"created_at":    "createdAt",
	"updated_at":    "updatedAt",
}

var answerWireKeys = map[string]string{
	"id":                    "id",
	"technician_id":         "technicianId",
	"checklist_instance_id": "checklistInstanceId",
	"question_id":           "questionId",
	"value":                 "value",
	"note":                  "note",
	"answered_at":           "answeredAt",
	"created_at":            "createdAt",
	"updated_at":            "updatedAt",
}

func checklistRow(ci domain.ChecklistInstance) localstore.Row {
	row := metaRow(ci.SyncMeta)
	row["work_order_id"] = ci.WorkOrderID
	row["template_id"] = ci.TemplateID
	row["name"] = ci.Name
	row["status"] = string(ci.Status)
	row["completed_at"] = timePtrText(ci.CompletedAt)
	return row
}

func checklistFromRow(row localstore.Row) domain.ChecklistInstance {
	return domain.ChecklistInstance{
		SyncMeta:    parseMeta(row),
		WorkOrderID: rowStr(row, "work_order_id"),
		TemplateID:  rowStr(row, "template_id"),
		Name:        rowStr(row, "name"),
		Status:      domain.ChecklistStatus(rowStr(row, "status")),
		CompletedAt: rowTimePtr(row, "completed_at"),
	}
}

func answerRow(a domain.ChecklistAnswer) localstore.Row {
	row := metaRow(a.SyncMeta)
	row["checklist_instance_id"] = a.ChecklistInstanceID
	row["question_id"] = a.QuestionID
	row["value"] = a.Value
	row["note"] = a.Note
	row["answered_at"] = timePtrText(a.AnsweredAt)
	return row
}

func answerFromRow(row localstore.Row) domain.ChecklistAnswer {
	return domain.ChecklistAnswer{
		SyncMeta:            parseMeta(row),
		ChecklistInstanceID: rowStr(row, "checklist_instance_id"),
		QuestionID:          rowStr(row, "question_id"),
		Value:               rowStr(row, "value"),
		Note:                rowStr(row, "note"),
		AnsweredAt:          rowTimePtr(row, "answered_at"),
	}
}

// ChecklistInstances builds the checklist instance sync config.
func ChecklistInstances() fieldsync.Entity {
	return fieldsync.Config[domain.ChecklistInstance]{
		EntityName: "checklist-instances",
		TableName:  "checklist_instances",
		FromWire: func(rec json.RawMessage) (domain.ChecklistInstance, error) {
			var ci domain.ChecklistInstance
			if err := json.Unmarshal(rec, &ci); err != nil {
				return ci, fmt.Errorf("failed to decode checklist instance: %w", err)
			}
			if ci.ID == "" {
				return ci, fmt.Errorf("checklist instance record missing id")
			}
			return ci, nil
		},
		Row: checklistRow,
		ToWire: func(partial map[string]any) (json.RawMessage, error) {
			return wireFromPartial(checklistWireKeys, partial)
		},
	}.MustBuild()
}

// ChecklistAnswers builds the checklist answer sync config.
func ChecklistAnswers() fieldsync.Entity {
	return fieldsync.Config[domain.ChecklistAnswer]{
		EntityName: "checklist-answers",
		TableName:  "checklist_answers",
		FromWire: func(rec json.RawMessage) (domain.ChecklistAnswer, error) {
			var a domain.ChecklistAnswer
			if err := json.Unmarshal(rec, &a); err != nil {
				return a, fmt.Errorf("failed to decode checklist answer: %w", err)
			}
			if a.ID == "" {
				return a, fmt.Errorf("checklist answer record missing id")
			}
			return a, nil
		},
		Row: answerRow,
		ToWire: func(partial map[string]any) (json.RawMessage, error) {
			return wireFromPartial(answerWireKeys, partial)
		},
	}.MustBuild()
}

// ChecklistRepo is the local write path for checklist instances and answers.
type ChecklistRepo struct {
	engine    *fieldsync.Engine
	instances fieldsync.Entity
	answers   fieldsync.Entity
}

// NewChecklistRepo creates the repository bound to the engine's checklist
// configs.
func NewChecklistRepo(engine *fieldsync.Engine) *ChecklistRepo {
	instances, ok := engine.Entity("checklist-instances")
	if !ok {
		panic("checklist-instances entity not registered")
	}
	answers, ok := engine.Entity("checklist-answers")
	if !ok {
		panic("checklist-answers entity not registered")
	}
	return &ChecklistRepo{engine: engine, instances: instances, answers: answers}
}

// GetInstance loads one checklist instance.
func (r *ChecklistRepo) GetInstance(ctx context.Context, id string) (domain.ChecklistInstance, error) {
	row, err := r.engine.Store().GetRow(ctx, "checklist_instances", id)
	if err != nil {
		return domain.ChecklistInstance{}, err
	}
	return checklistFromRow(row), nil
}

// SetInstanceStatus validates and applies a checklist status transition, and
// stamps completed_at when the checklist completes.
func (r *ChecklistRepo) SetInstanceStatus(ctx context.Context, id string, to domain.ChecklistStatus) error {
	ci, err := r.GetInstance(ctx, id)
	if err != nil {
		return err
	}
	if err := domain.CheckChecklistTransition(ci.Status, to); err != nil {
		return err
	}
	fields := localstore.Row{"status": string(to)}
	if to == domain.ChecklistCompleted {
		fields["completed_at"] = localstore.FormatTime(localstore.Now())
	}
	return r.engine.UpdateRecord(ctx, r.instances, id, fields)
}

// Answers returns the answers of one checklist instance.
func (r *ChecklistRepo) Answers(ctx context.Context, instanceID string) ([]domain.ChecklistAnswer, error) {
	rows, err := r.engine.Store().QueryRows(ctx, "checklist_answers",
		"checklist_instance_id = ? ORDER BY created_at", instanceID)
	if err != nil {
		return nil, err
	}
	out := make([]domain.ChecklistAnswer, len(rows))
	for i, row := range rows {
		out[i] = answerFromRow(row)
	}
	return out, nil
}

// SaveAnswer persists an answer immediately: creates the row when the
// question has no answer yet, otherwise updates value and note.
func (r *ChecklistRepo) SaveAnswer(ctx context.Context, a domain.ChecklistAnswer) error {
	if a.ChecklistInstanceID == "" || a.QuestionID == "" {
		return fmt.Errorf("answer requires checklist instance and question ids")
	}
	if a.TechnicianID == "" {
		a.TechnicianID = r.engine.TechnicianID()
	}

	existing, err := r.engine.Store().QueryRows(ctx, "checklist_answers",
		"checklist_instance_id = ? AND question_id = ?", a.ChecklistInstanceID, a.QuestionID)
	if err != nil {
		return err
	}
	now := localstore.FormatTime(localstore.Now())
	if len(existing) == 0 {
		a.CreatedAt, a.UpdatedAt = localstore.Now(), localstore.Now()
		if a.AnsweredAt == nil {
			t := localstore.Now()
			a.AnsweredAt = &t
		}
		_, err := r.engine.CreateRecord(ctx, r.answers, answerRow(a))
		return err
	}
	id := rowStr(existing[0], "id")
	return r.engine.UpdateRecord(ctx, r.answers, id, localstore.Row{
		"value":       a.Value,
		"note":        a.Note,
		"answered_at": now,
	})
}

// SaveAnswerDebounced coalesces rapid successive edits of the same question
// into one persisted write and one mutation carrying the final value.
func (r *ChecklistRepo) SaveAnswerDebounced(a domain.ChecklistAnswer) {
	key := "answer:" + a.ChecklistInstanceID + ":" + a.QuestionID
	r.engine.Debouncer().Trigger(key, func() {
		if err := r.SaveAnswer(context.Background(), a); err != nil {
			// Surfaced through logs only; the next edit retries the write.
			r.engine.Logger().Warn("debounced answer save failed",
				"instance", a.ChecklistInstanceID, "question", a.QuestionID, "error", err)
		}
	})
}
