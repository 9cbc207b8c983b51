package domain

import (
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TaskStatus represents the status of a task in the state machine.
type TaskStatus string

const (
	TaskStatusCreated    TaskStatus = "CREATED"
	TaskStatusAssigned   TaskStatus = "ASSIGNED"
	TaskStatusInProgress TaskStatus = "IN_PROGRESS"
	TaskStatusEscalated  TaskStatus = "ESCALATED"
	TaskStatusCompleted  TaskStatus = "COMPLETED"
	TaskStatusCancelled  TaskStatus = "CANCELLED"
	TaskStatusExpired    TaskStatus = "EXPIRED"
)

// ActiveStatuses lists every non-terminal status.
var ActiveStatuses = []TaskStatus{
	TaskStatusCreated,
	TaskStatusAssigned,
	TaskStatusInProgress,
	TaskStatusEscalated,
}

// IsTerminal returns true if the status is terminal (no transitions allowed).
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusCancelled || s == TaskStatusExpired
}

// IsClaimable returns true if a task in this status waits for someone to start it.
// ESCALATED behaves like ASSIGNED under the new assignee.
func (s TaskStatus) IsClaimable() bool {
	return s == TaskStatusAssigned || s == TaskStatusEscalated
}

// IsValid checks if the status is one of the allowed values.
func (s TaskStatus) IsValid() bool {
	switch s {
	case TaskStatusCreated, TaskStatusAssigned, TaskStatusInProgress, TaskStatusEscalated,
		TaskStatusCompleted, TaskStatusCancelled, TaskStatusExpired:
		return true
	default:
		return false
	}
}

const (
	MinPriority     = 1
	MaxPriority     = 5
	DefaultPriority = 3
)

// Audit trail actions.
const (
	ActionCreated   = "CREATED"
	ActionAssigned  = "ASSIGNED"
	ActionClaimed   = "CLAIMED"
	ActionDelegated = "DELEGATED"
	ActionReleased  = "RELEASED"
	ActionApproved  = "APPROVED"
	ActionRejected  = "REJECTED"
	ActionCompleted = "COMPLETED"
	ActionEscalated = "ESCALATED"
	ActionCancelled = "CANCELLED"
	ActionExpired   = "EXPIRED"
	ActionCommented = "COMMENTED"
)

// NewTaskParams holds everything needed to construct a HumanTask.
type NewTaskParams struct {
	ID            string // generated when empty
	WorkflowRunID string
	NodeID        string
	TenantID      string
	TaskType      string
	Title         string
	Description   string
	Priority      int
	Context       map[string]any
	FormData      map[string]any
	DueDate       *time.Time
	Assignment    *Assignment
	CreatedBy     string
}

// HumanTask is one unit of human work spawned by an automated process.
// All state changes go through its command methods; each successful command
// appends one audit entry and returns the one event it raised.
type HumanTask struct {
	id            string
	workflowRunID string
	nodeID        string
	tenantID      string
	taskType      string
	title         string
	description   string
	priority      int
	context       map[string]any
	formData      map[string]any

	assignment        *Assignment
	assignmentHistory []Assignment
	status            TaskStatus
	createdAt         time.Time
	claimedAt         *time.Time
	claimedBy         string
	completedAt       *time.Time
	dueDate           *time.Time
	outcome           Outcome
	completedBy       string
	completionData    map[string]any
	comments          string
	escalation        *EscalationRecord
	auditTrail        []AuditEntry
	version           int64
}

// NewHumanTask validates params and builds a task in CREATED status, or ASSIGNED
// when an initial assignment is given. It returns the created event followed
// by the assigned event when applicable.
func NewHumanTask(p NewTaskParams, now time.Time) (*HumanTask, []Event, error) {
	if err := validateNewTask(p); err != nil {
		return nil, nil, err
	}

	now = now.UTC()
	id := p.ID
	if id == "" {
		id = uuid.NewString()
	}
	createdBy := p.CreatedBy
	if createdBy == "" {
		createdBy = SystemActor
	}

	t := &HumanTask{
		id:            id,
		workflowRunID: p.WorkflowRunID,
		nodeID:        p.NodeID,
		tenantID:      p.TenantID,
		taskType:      p.TaskType,
		title:         p.Title,
		description:   p.Description,
		priority:      p.Priority,
		context:       cloneMap(p.Context),
		formData:      cloneMap(p.FormData),
		status:        TaskStatusCreated,
		createdAt:     now,
		dueDate:       utcPtr(p.DueDate),
	}

	t.appendAudit(ActionCreated, fmt.Sprintf("task %q created by node %s", p.Title, p.NodeID), createdBy, now)
	events := []Event{NewTaskCreated(t, createdBy, now)}

	if p.Assignment != nil {
		a := *p.Assignment
		if a.AssignedBy == "" {
			a.AssignedBy = createdBy
		}
		if a.AssignedAt.IsZero() {
			a.AssignedAt = now
		}
		events = append(events, t.applyAssignment(a, now))
	}

	return t, events, nil
}

func validateNewTask(p NewTaskParams) error {
	var missing []string
	if strings.TrimSpace(p.WorkflowRunID) == "" {
		missing = append(missing, "workflow run id")
	}
	if strings.TrimSpace(p.NodeID) == "" {
		missing = append(missing, "node id")
	}
	if strings.TrimSpace(p.TenantID) == "" {
		missing = append(missing, "tenant id")
	}
	if strings.TrimSpace(p.TaskType) == "" {
		missing = append(missing, "task type")
	}
	if strings.TrimSpace(p.Title) == "" {
		missing = append(missing, "title")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrValidation, strings.Join(missing, ", "))
	}
	if p.Priority < MinPriority || p.Priority > MaxPriority {
		return fmt.Errorf("%w: %w: %d not in [%d,%d]", ErrValidation, ErrInvalidPriority, p.Priority, MinPriority, MaxPriority)
	}
	if strings.ContainsAny(p.Title, "\r\n") {
		return fmt.Errorf("%w: title must be a single line", ErrValidation)
	}
	if p.Assignment != nil {
		if err := validateAssignment(*p.Assignment); err != nil {
			return err
		}
	}
	return nil
}

func validateAssignment(a Assignment) error {
	if !a.Kind.IsValid() {
		return fmt.Errorf("%w: unknown assignee kind %q", ErrValidation, a.Kind)
	}
	if strings.TrimSpace(a.AssigneeID) == "" {
		return fmt.Errorf("%w: assignee id is required", ErrValidation)
	}
	return nil
}

// Getters

func (t *HumanTask) ID() string                     { return t.id }
func (t *HumanTask) WorkflowRunID() string          { return t.workflowRunID }
func (t *HumanTask) NodeID() string                 { return t.nodeID }
func (t *HumanTask) TenantID() string               { return t.tenantID }
func (t *HumanTask) TaskType() string               { return t.taskType }
func (t *HumanTask) Title() string                  { return t.title }
func (t *HumanTask) Description() string            { return t.description }
func (t *HumanTask) Priority() int                  { return t.priority }
func (t *HumanTask) Context() map[string]any        { return cloneMap(t.context) }
func (t *HumanTask) FormData() map[string]any       { return cloneMap(t.formData) }
func (t *HumanTask) Status() TaskStatus             { return t.status }
func (t *HumanTask) CreatedAt() time.Time           { return t.createdAt }
func (t *HumanTask) ClaimedAt() *time.Time          { return copyTime(t.claimedAt) }
func (t *HumanTask) ClaimedBy() string              { return t.claimedBy }
func (t *HumanTask) CompletedAt() *time.Time        { return copyTime(t.completedAt) }
func (t *HumanTask) DueDate() *time.Time            { return copyTime(t.dueDate) }
func (t *HumanTask) Outcome() Outcome               { return t.outcome }
func (t *HumanTask) CompletedBy() string            { return t.completedBy }
func (t *HumanTask) CompletionData() map[string]any { return cloneMap(t.completionData) }
func (t *HumanTask) Comments() string               { return t.comments }
func (t *HumanTask) Version() int64                 { return t.version }

// Assignment returns a copy of the current assignment, or nil.
func (t *HumanTask) Assignment() *Assignment {
	if t.assignment == nil {
		return nil
	}
	a := *t.assignment
	return &a
}

// AssignmentHistory returns every assignment the task has had, oldest first.
func (t *HumanTask) AssignmentHistory() []Assignment {
	return append([]Assignment(nil), t.assignmentHistory...)
}

// Escalation returns a copy of the most recent escalation record, or nil.
func (t *HumanTask) Escalation() *EscalationRecord {
	if t.escalation == nil {
		return nil
	}
	rec := *t.escalation
	return &rec
}

// AuditTrail returns the audit entries, oldest first.
func (t *HumanTask) AuditTrail() []AuditEntry {
	return append([]AuditEntry(nil), t.auditTrail...)
}

// VerifyAuditTrail checks the audit hash chain.
func (t *HumanTask) VerifyAuditTrail() error {
	return VerifyAuditChain(t.auditTrail)
}

// MarkSaved advances the optimistic concurrency version after a successful write.
func (t *HumanTask) MarkSaved() {
	t.version++
}

// Commands

// Assign sets a new assignment and puts the task back into ASSIGNED.
func (t *HumanTask) Assign(a Assignment, now time.Time) (Event, error) {
	if err := t.ensureActive("assign"); err != nil {
		return Event{}, err
	}
	if err := validateAssignment(a); err != nil {
		return Event{}, err
	}
	if a.AssignedBy == "" {
		a.AssignedBy = SystemActor
	}
	if a.AssignedAt.IsZero() {
		a.AssignedAt = now.UTC()
	}
	return t.applyAssignment(a, now.UTC()), nil
}

// Claim moves an assigned task to IN_PROGRESS on behalf of userID.
func (t *HumanTask) Claim(userID string, isMember MembershipFunc, now time.Time) (Event, error) {
	if !t.status.IsClaimable() {
		return Event{}, fmt.Errorf("%w: task %s is in %s status, expected ASSIGNED", ErrInvalidState, t.id, t.status)
	}
	if t.assignment == nil || !t.assignment.PermitsClaim(userID, isMember) {
		return Event{}, fmt.Errorf("%w: user %s cannot claim task %s", ErrPermissionDenied, userID, t.id)
	}

	now = now.UTC()
	t.status = TaskStatusInProgress
	t.claimedAt = &now
	t.claimedBy = userID
	t.appendAudit(ActionClaimed, "task claimed", userID, now)
	return NewTaskClaimed(t, userID, now), nil
}

// Delegate hands the task from the current assignee to another user.
func (t *HumanTask) Delegate(from, to, reason string, now time.Time) (Event, error) {
	if err := t.ensureActive("delegate"); err != nil {
		return Event{}, err
	}
	if t.assignment == nil || t.assignment.AssigneeID != from {
		return Event{}, fmt.Errorf("%w: user %s is not the assignee of task %s", ErrPermissionDenied, from, t.id)
	}
	if strings.TrimSpace(to) == "" {
		return Event{}, fmt.Errorf("%w: delegate target is required", ErrValidation)
	}

	now = now.UTC()
	a := Assignment{
		Kind:             AssigneeUser,
		AssigneeID:       to,
		AssignedBy:       from,
		AssignedAt:       now,
		DelegationReason: reason,
	}
	t.setAssignment(a)
	t.appendAudit(ActionDelegated, fmt.Sprintf("delegated from %s to %s: %s", from, to, reason), from, now)
	return NewTaskDelegated(t, from, to, reason, now), nil
}

// Release gives up an in-progress task; it returns to ASSIGNED under the same assignment.
func (t *HumanTask) Release(userID string, now time.Time) (Event, error) {
	if t.status != TaskStatusInProgress {
		return Event{}, fmt.Errorf("%w: task %s is in %s status, expected IN_PROGRESS", ErrInvalidState, t.id, t.status)
	}

	now = now.UTC()
	t.status = TaskStatusAssigned
	t.claimedAt = nil
	t.claimedBy = ""
	t.appendAudit(ActionReleased, "task released", userID, now)
	return NewTaskReleased(t, userID, now), nil
}

// Approve completes the task with the Approved outcome.
func (t *HumanTask) Approve(userID string, data map[string]any, comments string, now time.Time) (Event, error) {
	return t.finish(userID, Approved{}, data, comments, now)
}

// Reject completes the task with the Rejected outcome.
func (t *HumanTask) Reject(userID string, data map[string]any, comments string, now time.Time) (Event, error) {
	return t.finish(userID, Rejected{}, data, comments, now)
}

// Complete completes the task with a custom outcome name.
// An empty result is checked after the status and assignee guards.
func (t *HumanTask) Complete(userID, result string, data map[string]any, comments string, now time.Time) (Event, error) {
	return t.finish(userID, Custom{Name: result}, data, comments, now)
}

func (t *HumanTask) finish(userID string, outcome Outcome, data map[string]any, comments string, now time.Time) (Event, error) {
	if t.status != TaskStatusInProgress {
		return Event{}, fmt.Errorf("%w: task %s is in %s status, expected IN_PROGRESS", ErrInvalidState, t.id, t.status)
	}
	if !t.IsAssignedTo(userID) {
		return Event{}, fmt.Errorf("%w: user %s is not the assignee of task %s", ErrPermissionDenied, userID, t.id)
	}
	if c, ok := outcome.(Custom); ok && strings.TrimSpace(c.Name) == "" {
		return Event{}, fmt.Errorf("%w: completion result is required", ErrValidation)
	}

	now = now.UTC()
	t.status = TaskStatusCompleted
	t.outcome = outcome
	t.completedBy = userID
	t.completionData = cloneMap(data)
	t.comments = comments
	t.completedAt = &now

	var (
		action string
		event  Event
	)
	switch o := outcome.(type) {
	case Approved:
		action = ActionApproved
		event = NewTaskApproved(t, userID, data, now)
	case Rejected:
		action = ActionRejected
		event = NewTaskRejected(t, userID, data, now)
	case Custom:
		action = ActionCompleted
		event = NewTaskCompleted(t, userID, o.Name, data, now)
	}
	t.appendAudit(action, fmt.Sprintf("outcome %s: %s", outcome.Label(), comments), userID, now)
	return event, nil
}

// Escalate forcibly reassigns the task to escalatedTo on behalf of the system.
func (t *HumanTask) Escalate(reason EscalationReason, escalatedTo string, now time.Time) (Event, error) {
	if err := t.ensureActive("escalate"); err != nil {
		return Event{}, err
	}
	if !reason.IsValid() {
		return Event{}, fmt.Errorf("%w: unknown escalation reason %q", ErrValidation, reason)
	}
	if strings.TrimSpace(escalatedTo) == "" {
		return Event{}, fmt.Errorf("%w: escalation target is required", ErrValidation)
	}

	now = now.UTC()
	rec := EscalationRecord{
		Reason:      reason,
		EscalatedTo: escalatedTo,
		EscalatedAt: now,
		Displaced:   t.Assignment(),
	}
	t.escalation = &rec
	t.setAssignment(NewUserAssignment(escalatedTo, SystemActor, now))
	t.status = TaskStatusEscalated
	t.appendAudit(ActionEscalated, fmt.Sprintf("escalated to %s (%s)", escalatedTo, reason), SystemActor, now)
	return NewTaskEscalated(t, rec), nil
}

// Cancel ends the task without an outcome.
func (t *HumanTask) Cancel(by, reason string, now time.Time) (Event, error) {
	if err := t.ensureActive("cancel"); err != nil {
		return Event{}, err
	}

	now = now.UTC()
	t.status = TaskStatusCancelled
	t.completedAt = &now
	t.appendAudit(ActionCancelled, reason, by, now)
	return NewTaskCancelled(t, by, reason, now), nil
}

// Expire times the task out. It never fails: on a terminal task it is a no-op
// and reports false.
func (t *HumanTask) Expire(now time.Time) (Event, bool) {
	if t.status.IsTerminal() {
		return Event{}, false
	}

	now = now.UTC()
	t.status = TaskStatusExpired
	t.completedAt = &now
	t.appendAudit(ActionExpired, "task expired", SystemActor, now)
	return NewTaskExpired(t, now), true
}

// AddComment records a comment in the audit trail.
func (t *HumanTask) AddComment(userID, text string, now time.Time) (Event, error) {
	if err := t.ensureActive("comment on"); err != nil {
		return Event{}, err
	}
	if strings.TrimSpace(text) == "" {
		return Event{}, fmt.Errorf("%w: %w", ErrValidation, ErrEmptyComment)
	}

	now = now.UTC()
	t.appendAudit(ActionCommented, text, userID, now)
	return NewCommentAdded(t, userID, text, now), nil
}

// Queries

// IsOverdue reports whether the task is still open past its due date.
func (t *HumanTask) IsOverdue(now time.Time) bool {
	return !t.status.IsTerminal() && t.dueDate != nil && t.dueDate.Before(now)
}

// IsAssignedTo reports whether userID is the named assignee or the user who claimed the task.
func (t *HumanTask) IsAssignedTo(userID string) bool {
	if userID == "" {
		return false
	}
	if t.claimedBy == userID {
		return true
	}
	return t.assignment != nil && t.assignment.Kind == AssigneeUser && t.assignment.AssigneeID == userID
}

// CanBeClaimedBy reports whether Claim would succeed for userID.
func (t *HumanTask) CanBeClaimedBy(userID string, isMember MembershipFunc) bool {
	return t.status.IsClaimable() && t.assignment != nil && t.assignment.PermitsClaim(userID, isMember)
}

// TimeToComplete returns the claimed-to-completed duration when both are known.
func (t *HumanTask) TimeToComplete() (time.Duration, bool) {
	if t.claimedAt == nil || t.completedAt == nil {
		return 0, false
	}
	return t.completedAt.Sub(*t.claimedAt), true
}

// TimeOpen returns how long the task has been (or was) open.
func (t *HumanTask) TimeOpen(now time.Time) time.Duration {
	if t.completedAt != nil {
		return t.completedAt.Sub(t.createdAt)
	}
	return now.Sub(t.createdAt)
}

func (t *HumanTask) ensureActive(op string) error {
	if t.status.IsTerminal() {
		return fmt.Errorf("%w: cannot %s task %s in terminal status %s", ErrInvalidState, op, t.id, t.status)
	}
	return nil
}

func (t *HumanTask) applyAssignment(a Assignment, now time.Time) Event {
	t.setAssignment(a)
	t.appendAudit(ActionAssigned, fmt.Sprintf("assigned to %s %s", a.Kind, a.AssigneeID), a.AssignedBy, now)
	return NewTaskAssigned(t, a, now)
}

func (t *HumanTask) setAssignment(a Assignment) {
	t.assignment = &a
	t.assignmentHistory = append(t.assignmentHistory, a)
	t.status = TaskStatusAssigned
	t.claimedAt = nil
	t.claimedBy = ""
}

func (t *HumanTask) appendAudit(action, detail, actor string, now time.Time) {
	prev := ""
	if n := len(t.auditTrail); n > 0 {
		prev = t.auditTrail[n-1].Hash
	}
	t.auditTrail = append(t.auditTrail, newAuditEntry(prev, action, detail, actor, now))
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	return maps.Clone(m)
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
