package dto

import (
	"time"

	"github.com/mtlprog/humantask/internal/domain"
)

// TaskListResponse represents a task in the list view.
type TaskListResponse struct {
	ID            string     `json:"id"`
	WorkflowRunID string     `json:"workflow_run_id"`
	NodeID        string     `json:"node_id"`
	TaskType      string     `json:"task_type"`
	Title         string     `json:"title"`
	Status        string     `json:"status"`
	Priority      int        `json:"priority"`
	AssigneeKind  *string    `json:"assignee_kind"`
	AssigneeID    *string    `json:"assignee_id"`
	ClaimedBy     *string    `json:"claimed_by"`
	IsOverdue     bool       `json:"is_overdue"`
	DueDate       *time.Time `json:"due_date"`
	CreatedAt     time.Time  `json:"created_at"`
}

// TasksListResponse represents the response for GET /tasks.
type TasksListResponse struct {
	Tasks []TaskListResponse `json:"tasks"`
	Total int                `json:"total"`
}

// TaskDetail represents the full task object.
type TaskDetail struct {
	TaskListResponse
	TenantID          string                   `json:"tenant_id"`
	Description       string                   `json:"description"`
	Context           map[string]any           `json:"context"`
	FormData          map[string]any           `json:"form_data"`
	AssignmentHistory []domain.Assignment      `json:"assignment_history"`
	ClaimedAt         *time.Time               `json:"claimed_at"`
	Outcome           *string                  `json:"outcome"`
	CompletedBy       *string                  `json:"completed_by"`
	CompletedAt       *time.Time               `json:"completed_at"`
	CompletionData    map[string]any           `json:"completion_data"`
	Comments          string                   `json:"comments"`
	Escalation        *domain.EscalationRecord `json:"escalation"`
	AuditTrail        []domain.AuditEntry      `json:"audit_trail,omitempty"`
	Version           int64                    `json:"version"`
}

// StatsResponse represents the response for GET /stats.
type StatsResponse struct {
	UserID                   string         `json:"user_id"`
	TenantID                 string         `json:"tenant_id"`
	Assigned                 int            `json:"assigned"`
	InProgress               int            `json:"in_progress"`
	Escalated                int            `json:"escalated"`
	Active                   int            `json:"active"`
	Overdue                  int            `json:"overdue"`
	Completed                int            `json:"completed"`
	Approved                 int            `json:"approved"`
	Rejected                 int            `json:"rejected"`
	AvgTimeToCompleteMinutes *float64       `json:"avg_time_to_complete_minutes"`
	TenantStatusCounts       map[string]int `json:"tenant_status_counts"`
}

// ToTaskListResponse converts a domain task to the list view.
func ToTaskListResponse(t *domain.HumanTask, now time.Time) TaskListResponse {
	resp := TaskListResponse{
		ID:            t.ID(),
		WorkflowRunID: t.WorkflowRunID(),
		NodeID:        t.NodeID(),
		TaskType:      t.TaskType(),
		Title:         t.Title(),
		Status:        string(t.Status()),
		Priority:      t.Priority(),
		ClaimedBy:     optional(t.ClaimedBy()),
		IsOverdue:     t.IsOverdue(now),
		DueDate:       t.DueDate(),
		CreatedAt:     t.CreatedAt(),
	}
	if a := t.Assignment(); a != nil {
		kind := string(a.Kind)
		resp.AssigneeKind = &kind
		resp.AssigneeID = &a.AssigneeID
	}
	return resp
}

// ToTasksListResponse converts domain tasks to the list response.
func ToTasksListResponse(tasks []*domain.HumanTask, now time.Time) TasksListResponse {
	items := make([]TaskListResponse, len(tasks))
	for i, t := range tasks {
		items[i] = ToTaskListResponse(t, now)
	}
	return TasksListResponse{Tasks: items, Total: len(items)}
}

// ToTaskDetail converts a domain task to the full response.
// The audit trail is included only when withAudit is set.
func ToTaskDetail(t *domain.HumanTask, now time.Time, withAudit bool) TaskDetail {
	d := TaskDetail{
		TaskListResponse:  ToTaskListResponse(t, now),
		TenantID:          t.TenantID(),
		Description:       t.Description(),
		Context:           t.Context(),
		FormData:          t.FormData(),
		AssignmentHistory: t.AssignmentHistory(),
		ClaimedAt:         t.ClaimedAt(),
		CompletedBy:       optional(t.CompletedBy()),
		CompletedAt:       t.CompletedAt(),
		CompletionData:    t.CompletionData(),
		Comments:          t.Comments(),
		Escalation:        t.Escalation(),
		Version:           t.Version(),
	}
	if o := t.Outcome(); o != nil {
		label := o.Label()
		d.Outcome = &label
	}
	if withAudit {
		d.AuditTrail = t.AuditTrail()
	}
	return d
}

// ToStatsResponse converts user statistics and the tenant-wide status counts.
func ToStatsResponse(s *domain.UserTaskStats, counts map[domain.TaskStatus]int) StatsResponse {
	resp := StatsResponse{
		UserID:     s.UserID,
		TenantID:   s.TenantID,
		Assigned:   s.Assigned,
		InProgress: s.InProgress,
		Escalated:  s.Escalated,
		Active:     s.Active(),
		Overdue:    s.Overdue,
		Completed:  s.Completed,
		Approved:   s.Approved,
		Rejected:   s.Rejected,

		TenantStatusCounts: make(map[string]int, len(counts)),
	}
	for status, n := range counts {
		resp.TenantStatusCounts[string(status)] = n
	}
	if s.AvgTimeToComplete > 0 {
		minutes := s.AvgTimeToComplete.Minutes()
		resp.AvgTimeToCompleteMinutes = &minutes
	}
	return resp
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
