package repository

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/mtlprog/humantask/internal/domain"
)

// FindDueForReminder returns open, assigned tasks that have not been reminded
// (or created) since before.
func (r *TaskRepository) FindDueForReminder(ctx context.Context, before time.Time, limit int) ([]*domain.TaskSnapshot, error) {
	query, args, err := psql.Select(taskColumns...).From("human_tasks").
		Where(sq.Eq{"status": activeStatuses()}).
		Where(sq.NotEq{"assignee_id": nil}).
		Where(sq.Lt{"COALESCE(last_reminded_at, created_at)": before}).
		OrderBy("priority DESC", "created_at ASC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build FindDueForReminder query: %w", err)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query tasks due for reminder: %w", err)
	}
	return scanTasks(rows)
}

// MarkReminded records when a reminder was last sent. It does not touch the
// task version: reminders are bookkeeping, not state transitions.
func (r *TaskRepository) MarkReminded(ctx context.Context, taskID string, at time.Time) error {
	query, args, err := psql.Update("human_tasks").
		Set("last_reminded_at", at).
		Where(sq.Eq{"id": taskID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build MarkReminded query for task %s: %w", taskID, err)
	}

	if _, err := r.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("mark task reminded: %w", err)
	}
	return nil
}
