package domain

import (
	"fmt"
	"time"
)

// TaskSnapshot is the persisted form of a HumanTask.
type TaskSnapshot struct {
	ID                string
	WorkflowRunID     string
	NodeID            string
	TenantID          string
	TaskType          string
	Title             string
	Description       string
	Priority          int
	Context           map[string]any
	FormData          map[string]any
	Assignment        *Assignment
	AssignmentHistory []Assignment
	Status            TaskStatus
	CreatedAt         time.Time
	ClaimedAt         *time.Time
	ClaimedBy         string
	CompletedAt       *time.Time
	DueDate           *time.Time
	OutcomeKind       OutcomeKind
	OutcomeLabel      string
	CompletedBy       string
	CompletionData    map[string]any
	Comments          string
	Escalation        *EscalationRecord
	AuditTrail        []AuditEntry
	Version           int64
}

// Snapshot captures the current state for persistence.
func (t *HumanTask) Snapshot() TaskSnapshot {
	s := TaskSnapshot{
		ID:                t.id,
		WorkflowRunID:     t.workflowRunID,
		NodeID:            t.nodeID,
		TenantID:          t.tenantID,
		TaskType:          t.taskType,
		Title:             t.title,
		Description:       t.description,
		Priority:          t.priority,
		Context:           cloneMap(t.context),
		FormData:          cloneMap(t.formData),
		Assignment:        t.Assignment(),
		AssignmentHistory: t.AssignmentHistory(),
		Status:            t.status,
		CreatedAt:         t.createdAt,
		ClaimedAt:         copyTime(t.claimedAt),
		ClaimedBy:         t.claimedBy,
		CompletedAt:       copyTime(t.completedAt),
		DueDate:           copyTime(t.dueDate),
		CompletedBy:       t.completedBy,
		CompletionData:    cloneMap(t.completionData),
		Comments:          t.comments,
		Escalation:        t.Escalation(),
		AuditTrail:        t.AuditTrail(),
		Version:           t.version,
	}
	if t.outcome != nil {
		s.OutcomeKind = t.outcome.Kind()
		s.OutcomeLabel = t.outcome.Label()
	}
	return s
}

// Rehydrate rebuilds a task from its persisted form. Unlike NewHumanTask it
// raises no events: nothing happened, the task was only read back.
func Rehydrate(s TaskSnapshot) (*HumanTask, error) {
	if s.ID == "" {
		return nil, fmt.Errorf("%w: snapshot has no id", ErrValidation)
	}
	if !s.Status.IsValid() {
		return nil, fmt.Errorf("%w: snapshot %s has unknown status %q", ErrValidation, s.ID, s.Status)
	}
	if s.Priority < MinPriority || s.Priority > MaxPriority {
		return nil, fmt.Errorf("%w: %w: snapshot %s has priority %d", ErrValidation, ErrInvalidPriority, s.ID, s.Priority)
	}

	t := &HumanTask{
		id:                s.ID,
		workflowRunID:     s.WorkflowRunID,
		nodeID:            s.NodeID,
		tenantID:          s.TenantID,
		taskType:          s.TaskType,
		title:             s.Title,
		description:       s.Description,
		priority:          s.Priority,
		context:           cloneMap(s.Context),
		formData:          cloneMap(s.FormData),
		assignmentHistory: append([]Assignment(nil), s.AssignmentHistory...),
		status:            s.Status,
		createdAt:         s.CreatedAt,
		claimedAt:         copyTime(s.ClaimedAt),
		claimedBy:         s.ClaimedBy,
		completedAt:       copyTime(s.CompletedAt),
		dueDate:           copyTime(s.DueDate),
		outcome:           outcomeFromStored(s.OutcomeKind, s.OutcomeLabel),
		completedBy:       s.CompletedBy,
		completionData:    cloneMap(s.CompletionData),
		comments:          s.Comments,
		auditTrail:        append([]AuditEntry(nil), s.AuditTrail...),
		version:           s.Version,
	}
	if s.Assignment != nil {
		a := *s.Assignment
		t.assignment = &a
	}
	if s.Escalation != nil {
		rec := *s.Escalation
		t.escalation = &rec
	}
	return t, nil
}
