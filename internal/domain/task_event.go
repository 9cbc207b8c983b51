package domain

import (
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of task event.
type EventType string

const (
	EventTypeCreated      EventType = "task.created"
	EventTypeAssigned     EventType = "task.assigned"
	EventTypeClaimed      EventType = "task.claimed"
	EventTypeDelegated    EventType = "task.delegated"
	EventTypeReleased     EventType = "task.released"
	EventTypeApproved     EventType = "task.approved"
	EventTypeRejected     EventType = "task.rejected"
	EventTypeCompleted    EventType = "task.completed"
	EventTypeEscalated    EventType = "task.escalated"
	EventTypeCancelled    EventType = "task.cancelled"
	EventTypeExpired      EventType = "task.expired"
	EventTypeCommentAdded EventType = "task.comment_added"
)

// EventPayload carries the transition data of an event.
type EventPayload map[string]any

// Event is a domain fact raised by exactly one successful task command.
// Events are returned to the caller and published only after the task is saved.
type Event struct {
	ID            string       `json:"id"`
	Type          EventType    `json:"type"`
	TaskID        string       `json:"task_id"`
	TenantID      string       `json:"tenant_id"`
	WorkflowRunID string       `json:"workflow_run_id"`
	NodeID        string       `json:"node_id"`
	Actor         string       `json:"actor"`
	OccurredAt    time.Time    `json:"occurred_at"`
	Payload       EventPayload `json:"payload"`
}

// IsSystemEvent returns true if the event was raised by the system.
func (e Event) IsSystemEvent() bool {
	return e.Actor == SystemActor
}

func newEvent(t *HumanTask, typ EventType, actor string, at time.Time, payload EventPayload) Event {
	if payload == nil {
		payload = EventPayload{}
	}
	return Event{
		ID:            uuid.NewString(),
		Type:          typ,
		TaskID:        t.id,
		TenantID:      t.tenantID,
		WorkflowRunID: t.workflowRunID,
		NodeID:        t.nodeID,
		Actor:         actor,
		OccurredAt:    at.UTC(),
		Payload:       payload,
	}
}

// NewTaskCreated builds the event raised when a task is constructed.
func NewTaskCreated(t *HumanTask, actor string, at time.Time) Event {
	return newEvent(t, EventTypeCreated, actor, at, EventPayload{
		"task_type": t.taskType,
		"title":     t.title,
		"priority":  t.priority,
	})
}

// NewTaskAssigned builds the event raised when a task gets a new assignment.
func NewTaskAssigned(t *HumanTask, a Assignment, at time.Time) Event {
	return newEvent(t, EventTypeAssigned, a.AssignedBy, at, EventPayload{
		"assignee_kind": string(a.Kind),
		"assignee_id":   a.AssigneeID,
	})
}

// NewTaskClaimed builds the event raised when a user starts working on a task.
func NewTaskClaimed(t *HumanTask, userID string, at time.Time) Event {
	return newEvent(t, EventTypeClaimed, userID, at, nil)
}

// NewTaskDelegated builds the event raised when an assignee hands a task to another user.
func NewTaskDelegated(t *HumanTask, from, to, reason string, at time.Time) Event {
	return newEvent(t, EventTypeDelegated, from, at, EventPayload{
		"from":   from,
		"to":     to,
		"reason": reason,
	})
}

// NewTaskReleased builds the event raised when a claimed task goes back to its assignment.
func NewTaskReleased(t *HumanTask, userID string, at time.Time) Event {
	return newEvent(t, EventTypeReleased, userID, at, nil)
}

// NewTaskApproved builds the event raised by an approval.
func NewTaskApproved(t *HumanTask, userID string, data map[string]any, at time.Time) Event {
	return newEvent(t, EventTypeApproved, userID, at, EventPayload{"data": cloneMap(data)})
}

// NewTaskRejected builds the event raised by a rejection.
func NewTaskRejected(t *HumanTask, userID string, data map[string]any, at time.Time) Event {
	return newEvent(t, EventTypeRejected, userID, at, EventPayload{"data": cloneMap(data)})
}

// NewTaskCompleted builds the event raised by a completion with a custom outcome.
func NewTaskCompleted(t *HumanTask, userID, outcome string, data map[string]any, at time.Time) Event {
	return newEvent(t, EventTypeCompleted, userID, at, EventPayload{
		"outcome": outcome,
		"data":    cloneMap(data),
	})
}

// NewTaskEscalated builds the event raised when a task is forcibly reassigned.
func NewTaskEscalated(t *HumanTask, rec EscalationRecord) Event {
	payload := EventPayload{
		"reason":       string(rec.Reason),
		"escalated_to": rec.EscalatedTo,
	}
	if rec.Displaced != nil {
		payload["displaced_assignee"] = rec.Displaced.AssigneeID
	}
	return newEvent(t, EventTypeEscalated, SystemActor, rec.EscalatedAt, payload)
}

// NewTaskCancelled builds the event raised when a task is cancelled.
func NewTaskCancelled(t *HumanTask, by, reason string, at time.Time) Event {
	return newEvent(t, EventTypeCancelled, by, at, EventPayload{"reason": reason})
}

// NewTaskExpired builds the event raised when a task times out.
func NewTaskExpired(t *HumanTask, at time.Time) Event {
	return newEvent(t, EventTypeExpired, SystemActor, at, nil)
}

// NewCommentAdded builds the event raised when a comment is recorded.
func NewCommentAdded(t *HumanTask, userID, text string, at time.Time) Event {
	return newEvent(t, EventTypeCommentAdded, userID, at, EventPayload{"comment": text})
}
