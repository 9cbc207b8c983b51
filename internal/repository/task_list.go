package repository

import (
	"context"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/mtlprog/humantask/internal/domain"
)

// TaskListFilters holds all supported filters for task listing.
type TaskListFilters struct {
	TenantID      string   // Required: filter by tenant
	Statuses      []string // Optional: filter by status
	AssigneeID    *string  // Optional: filter by assignee or claimant
	WorkflowRunID *string  // Optional: filter by workflow run
	Overdue       bool     // Optional: show only overdue
	Sort          []string // Optional: sort fields (with - prefix for DESC)
	Limit         int      // Required: page size
	Offset        int      // Required: page offset
}

var sortableColumns = map[string]bool{
	"priority":   true,
	"created_at": true,
	"due_date":   true,
	"status":     true,
}

// heldBy matches tasks a user holds directly: named USER assignee or claimant.
func heldBy(userID string) sq.Sqlizer {
	return sq.Or{
		sq.Eq{"assignee_kind": string(domain.AssigneeUser), "assignee_id": userID},
		sq.Eq{"claimed_by": userID},
	}
}

// reachableBy extends heldBy with GROUP and ROLE assignments the user is a member of.
func reachableBy(userID string) sq.Sqlizer {
	return sq.Or{
		heldBy(userID),
		sq.Expr(`assignee_kind IN ('GROUP', 'ROLE') AND EXISTS (
			SELECT 1 FROM principal_memberships m
			WHERE m.tenant_id = human_tasks.tenant_id
			  AND m.user_id = ?
			  AND m.kind = human_tasks.assignee_kind
			  AND m.principal_id = human_tasks.assignee_id)`, userID),
	}
}

// FindAssignedToUser returns tasks the user can act on: assigned to them,
// claimed by them, or assigned to one of their groups or roles.
// An empty statuses slice means every status.
func (r *TaskRepository) FindAssignedToUser(
	ctx context.Context,
	userID, tenantID string,
	statuses []domain.TaskStatus,
) ([]*domain.TaskSnapshot, error) {
	qb := psql.Select(taskColumns...).From("human_tasks").
		Where(sq.Eq{"tenant_id": tenantID}).
		Where(reachableBy(userID))
	if len(statuses) > 0 {
		qb = qb.Where(sq.Eq{"status": statusStrings(statuses)})
	}

	query, args, err := qb.OrderBy("priority DESC", "created_at ASC").ToSql()
	if err != nil {
		return nil, fmt.Errorf("build FindAssignedToUser query: %w", err)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query tasks for user: %w", err)
	}
	return scanTasks(rows)
}

// FindByWorkflowRun returns every task spawned by a workflow run.
func (r *TaskRepository) FindByWorkflowRun(ctx context.Context, runID, tenantID string) ([]*domain.TaskSnapshot, error) {
	query, args, err := psql.Select(taskColumns...).From("human_tasks").
		Where(sq.Eq{"tenant_id": tenantID, "workflow_run_id": runID}).
		OrderBy("created_at ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build FindByWorkflowRun query: %w", err)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query tasks for run: %w", err)
	}
	return scanTasks(rows)
}

// FindOverdueTasks returns open tasks past their due date. An empty tenantID
// selects all tenants.
func (r *TaskRepository) FindOverdueTasks(ctx context.Context, tenantID string) ([]*domain.TaskSnapshot, error) {
	qb := psql.Select(taskColumns...).From("human_tasks").
		Where("due_date < NOW()").
		Where(sq.Eq{"status": activeStatuses()})
	if tenantID != "" {
		qb = qb.Where(sq.Eq{"tenant_id": tenantID})
	}

	query, args, err := qb.OrderBy("due_date ASC").ToSql()
	if err != nil {
		return nil, fmt.Errorf("build FindOverdueTasks query: %w", err)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query overdue tasks: %w", err)
	}
	return scanTasks(rows)
}

// FindPending returns every open task of a tenant, highest priority first.
func (r *TaskRepository) FindPending(ctx context.Context, tenantID string) ([]*domain.TaskSnapshot, error) {
	query, args, err := psql.Select(taskColumns...).From("human_tasks").
		Where(sq.Eq{"tenant_id": tenantID, "status": activeStatuses()}).
		OrderBy("priority DESC", "created_at ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build FindPending query: %w", err)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query pending tasks: %w", err)
	}
	return scanTasks(rows)
}

// CountActiveTasksForUser counts open tasks the user holds directly.
func (r *TaskRepository) CountActiveTasksForUser(ctx context.Context, userID, tenantID string) (int, error) {
	query, args, err := psql.Select("COUNT(*)").From("human_tasks").
		Where(sq.Eq{"tenant_id": tenantID, "status": activeStatuses()}).
		Where(heldBy(userID)).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build CountActiveTasksForUser query: %w", err)
	}

	var count int
	if err := r.pool.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count active tasks: %w", err)
	}
	return count, nil
}

// List retrieves tasks with filters and pagination.
func (r *TaskRepository) List(ctx context.Context, filters TaskListFilters) ([]*domain.TaskSnapshot, int, error) {
	where := sq.And{sq.Eq{"tenant_id": filters.TenantID}}
	if len(filters.Statuses) > 0 {
		where = append(where, sq.Eq{"status": filters.Statuses})
	}
	if filters.AssigneeID != nil {
		where = append(where, heldBy(*filters.AssigneeID))
	}
	if filters.WorkflowRunID != nil {
		where = append(where, sq.Eq{"workflow_run_id": *filters.WorkflowRunID})
	}
	if filters.Overdue {
		where = append(where, sq.Expr("due_date < NOW()"), sq.Eq{"status": activeStatuses()})
	}

	qb := psql.Select(taskColumns...).From("human_tasks").Where(where)

	// Apply sorting (default: -priority,created_at)
	if len(filters.Sort) == 0 {
		qb = qb.OrderBy("priority DESC", "created_at ASC")
	}
	for _, sort := range filters.Sort {
		field, dir := sort, "ASC"
		if strings.HasPrefix(sort, "-") {
			field, dir = sort[1:], "DESC"
		}
		if !sortableColumns[field] {
			return nil, 0, fmt.Errorf("%w: cannot sort by %q", domain.ErrValidation, field)
		}
		qb = qb.OrderBy(field + " " + dir)
	}

	if filters.Limit > 0 {
		qb = qb.Limit(uint64(filters.Limit))
	}
	if filters.Offset > 0 {
		qb = qb.Offset(uint64(filters.Offset))
	}

	query, args, err := qb.ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build List query: %w", err)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query tasks: %w", err)
	}

	tasks, err := scanTasks(rows)
	if err != nil {
		return nil, 0, err
	}

	// Get total count (without pagination)
	countQuery, countArgs, err := psql.Select("COUNT(*)").From("human_tasks").Where(where).ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build count query: %w", err)
	}

	var total int
	if err := r.pool.QueryRow(ctx, countQuery, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count tasks: %w", err)
	}

	return tasks, total, nil
}
