package repository

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mtlprog/humantask/internal/domain"
)

var eventColumns = []string{
	"id", "task_id", "tenant_id", "workflow_run_id", "node_id", "type", "actor", "payload", "occurred_at",
}

// TaskEventRepository is the event outbox: events are written with their task
// and read back until a publisher confirms delivery.
type TaskEventRepository struct {
	pool *pgxpool.Pool
}

// NewTaskEventRepository creates a new TaskEventRepository.
func NewTaskEventRepository(pool *pgxpool.Pool) *TaskEventRepository {
	return &TaskEventRepository{pool: pool}
}

// Insert writes events inside the caller's transaction.
func (r *TaskEventRepository) Insert(ctx context.Context, tx pgx.Tx, events []domain.Event) error {
	if len(events) == 0 {
		return nil
	}

	qb := psql.Insert("task_events").Columns(eventColumns...)
	for _, e := range events {
		qb = qb.Values(e.ID, e.TaskID, e.TenantID, e.WorkflowRunID, e.NodeID, e.Type, e.Actor, e.Payload, e.OccurredAt)
	}
	query, args, err := qb.ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}

	if _, err := tx.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert task events: %w", err)
	}
	return nil
}

// FetchUnpublished returns up to limit undelivered events, oldest first.
func (r *TaskEventRepository) FetchUnpublished(ctx context.Context, limit int) ([]domain.Event, error) {
	query, args, err := psql.
		Select(eventColumns...).
		From("task_events").
		Where(sq.Eq{"published_at": nil}).
		OrderBy("seq ASC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	return r.query(ctx, query, args)
}

// ListByTask returns every event of a task, oldest first.
func (r *TaskEventRepository) ListByTask(ctx context.Context, taskID string) ([]domain.Event, error) {
	query, args, err := psql.
		Select(eventColumns...).
		From("task_events").
		Where(sq.Eq{"task_id": taskID}).
		OrderBy("seq ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	return r.query(ctx, query, args)
}

// MarkPublished records successful delivery.
func (r *TaskEventRepository) MarkPublished(ctx context.Context, ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	query, args, err := psql.
		Update("task_events").
		Set("published_at", at).
		Set("attempts", sq.Expr("attempts + 1")).
		Set("last_error", nil).
		Where(sq.Eq{"id": ids}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}

	if _, err := r.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("mark events published: %w", err)
	}
	return nil
}

// RecordFailure counts a failed delivery attempt.
func (r *TaskEventRepository) RecordFailure(ctx context.Context, ids []string, reason string) error {
	if len(ids) == 0 {
		return nil
	}
	query, args, err := psql.
		Update("task_events").
		Set("attempts", sq.Expr("attempts + 1")).
		Set("last_error", reason).
		Where(sq.Eq{"id": ids, "published_at": nil}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}

	if _, err := r.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("record event failure: %w", err)
	}
	return nil
}

func (r *TaskEventRepository) query(ctx context.Context, query string, args []any) ([]domain.Event, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query task events: %w", err)
	}
	defer rows.Close()

	var events []domain.Event
	for rows.Next() {
		var e domain.Event
		err := rows.Scan(
			&e.ID,
			&e.TaskID,
			&e.TenantID,
			&e.WorkflowRunID,
			&e.NodeID,
			&e.Type,
			&e.Actor,
			&e.Payload,
			&e.OccurredAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan task event: %w", err)
		}
		events = append(events, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return events, nil
}
