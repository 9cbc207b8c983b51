package domain

import "time"

// ScheduleStatus tracks a scheduled escalation through processing.
type ScheduleStatus string

const (
	SchedulePending    ScheduleStatus = "PENDING"
	ScheduleProcessing ScheduleStatus = "PROCESSING"
	ScheduleProcessed  ScheduleStatus = "PROCESSED"
	ScheduleSkipped    ScheduleStatus = "SKIPPED"
	ScheduleFailed     ScheduleStatus = "FAILED"
)

// ScheduledEscalation is a timeout escalation waiting to fire.
type ScheduledEscalation struct {
	ID          string
	TaskID      string
	TenantID    string
	EscalateTo  string
	DueAt       time.Time
	Status      ScheduleStatus
	ProcessedAt *time.Time
	LastError   string
	CreatedAt   time.Time
}

// UserTaskStats summarizes one user's workload within a tenant.
type UserTaskStats struct {
	UserID            string
	TenantID          string
	Assigned          int
	InProgress        int
	Escalated         int
	Overdue           int
	Completed         int
	Approved          int
	Rejected          int
	AvgTimeToComplete time.Duration
}

// Active returns the number of open tasks the user holds.
func (s UserTaskStats) Active() int {
	return s.Assigned + s.InProgress + s.Escalated
}
