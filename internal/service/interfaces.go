package service

import (
	"context"
	"time"

	"github.com/mtlprog/humantask/internal/domain"
)

// TaskStore persists human tasks. *repository.TaskRepository implements it.
type TaskStore interface {
	Save(ctx context.Context, task *domain.HumanTask, events []domain.Event) error
	FindByTaskID(ctx context.Context, taskID, tenantID string) (*domain.TaskSnapshot, error)
	FindAssignedToUser(ctx context.Context, userID, tenantID string, statuses []domain.TaskStatus) ([]*domain.TaskSnapshot, error)
	FindByWorkflowRun(ctx context.Context, runID, tenantID string) ([]*domain.TaskSnapshot, error)
	FindOverdueTasks(ctx context.Context, tenantID string) ([]*domain.TaskSnapshot, error)
	FindPending(ctx context.Context, tenantID string) ([]*domain.TaskSnapshot, error)
	CountActiveTasksForUser(ctx context.Context, userID, tenantID string) (int, error)
	GetUserStats(ctx context.Context, tenantID, userID string) (*domain.UserTaskStats, error)
	StatusCounts(ctx context.Context, tenantID string) (map[domain.TaskStatus]int, error)
}

// Notifier delivers human-facing messages about tasks.
type Notifier interface {
	SendTaskAssignedNotification(ctx context.Context, task *domain.HumanTask) error
	SendSlackNotification(ctx context.Context, task *domain.HumanTask) error
	SendTaskCommentNotification(ctx context.Context, task *domain.HumanTask, userID, comment string) error
	SendOverdueNotification(ctx context.Context, task *domain.HumanTask) error
	SendTaskReminders(ctx context.Context) (int, error)
}

// Escalator schedules and executes timeout escalations.
type Escalator interface {
	ScheduleEscalation(ctx context.Context, taskID, tenantID, escalateTo string, delay time.Duration) error
	ProcessEscalations(ctx context.Context) (int, error)
}

// Publisher hands committed events to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, events []domain.Event) error
}

// OutboxRelay republishes events that were committed but never delivered.
type OutboxRelay interface {
	Relay(ctx context.Context) (int, error)
}

// MembershipResolver answers GROUP and ROLE membership questions.
type MembershipResolver interface {
	IsMember(ctx context.Context, tenantID, userID string, kind domain.AssigneeKind, principalID string) (bool, error)
}
