package service

import (
	"context"
	"fmt"

	"github.com/mtlprog/humantask/internal/domain"
)

// QueryService answers read-only questions about tasks. Tasks it returns are
// rehydrated from storage and never carry events.
type QueryService struct {
	store TaskStore
}

// NewQueryService creates a new QueryService.
func NewQueryService(store TaskStore) *QueryService {
	return &QueryService{store: store}
}

// GetTask loads one task.
func (q *QueryService) GetTask(ctx context.Context, tenantID, taskID string) (*domain.HumanTask, error) {
	snap, err := q.store.FindByTaskID(ctx, taskID, tenantID)
	if err != nil {
		return nil, err
	}
	return domain.Rehydrate(*snap)
}

// GetTasksForUser returns tasks the user can act on, filtered by status.
func (q *QueryService) GetTasksForUser(
	ctx context.Context,
	tenantID, userID string,
	statuses []domain.TaskStatus,
) ([]*domain.HumanTask, error) {
	snaps, err := q.store.FindAssignedToUser(ctx, userID, tenantID, statuses)
	if err != nil {
		return nil, fmt.Errorf("find tasks for user %s: %w", userID, err)
	}
	return rehydrateAll(snaps)
}

// GetTasksForWorkflowRun returns every task a workflow run spawned.
func (q *QueryService) GetTasksForWorkflowRun(ctx context.Context, tenantID, runID string) ([]*domain.HumanTask, error) {
	snaps, err := q.store.FindByWorkflowRun(ctx, runID, tenantID)
	if err != nil {
		return nil, fmt.Errorf("find tasks for run %s: %w", runID, err)
	}
	return rehydrateAll(snaps)
}

// PendingTasks returns every open task of a tenant.
func (q *QueryService) PendingTasks(ctx context.Context, tenantID string) ([]*domain.HumanTask, error) {
	snaps, err := q.store.FindPending(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("find pending tasks: %w", err)
	}
	return rehydrateAll(snaps)
}

// GetUserTaskStatistics summarizes a user's workload.
func (q *QueryService) GetUserTaskStatistics(ctx context.Context, tenantID, userID string) (*domain.UserTaskStats, error) {
	stats, err := q.store.GetUserStats(ctx, tenantID, userID)
	if err != nil {
		return nil, fmt.Errorf("get stats for user %s: %w", userID, err)
	}
	return stats, nil
}

// TenantStatusCounts returns how many tasks of a tenant are in each status.
func (q *QueryService) TenantStatusCounts(ctx context.Context, tenantID string) (map[domain.TaskStatus]int, error) {
	counts, err := q.store.StatusCounts(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("count tasks by status: %w", err)
	}
	return counts, nil
}

// CountActiveTasks returns how many open tasks a user holds.
func (q *QueryService) CountActiveTasks(ctx context.Context, tenantID, userID string) (int, error) {
	return q.store.CountActiveTasksForUser(ctx, userID, tenantID)
}

// VerifyAuditTrail checks the hash chain of a task's audit trail.
func (q *QueryService) VerifyAuditTrail(ctx context.Context, tenantID, taskID string) error {
	task, err := q.GetTask(ctx, tenantID, taskID)
	if err != nil {
		return err
	}
	return task.VerifyAuditTrail()
}

func rehydrateAll(snaps []*domain.TaskSnapshot) ([]*domain.HumanTask, error) {
	tasks := make([]*domain.HumanTask, 0, len(snaps))
	for _, s := range snaps {
		t, err := domain.Rehydrate(*s)
		if err != nil {
			return nil, fmt.Errorf("rehydrate task %s: %w", s.ID, err)
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}
