package repository

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mtlprog/humantask/internal/domain"
)

var escalationColumns = []string{
	"id", "task_id", "tenant_id", "escalate_to", "due_at", "status", "processed_at", "last_error", "created_at",
}

// EscalationRepository stores scheduled timeout escalations.
type EscalationRepository struct {
	pool *pgxpool.Pool
}

// NewEscalationRepository creates a new EscalationRepository.
func NewEscalationRepository(pool *pgxpool.Pool) *EscalationRepository {
	return &EscalationRepository{pool: pool}
}

func scanEscalation(row pgx.Row) (domain.ScheduledEscalation, error) {
	var (
		e         domain.ScheduledEscalation
		lastError *string
	)
	err := row.Scan(
		&e.ID,
		&e.TaskID,
		&e.TenantID,
		&e.EscalateTo,
		&e.DueAt,
		&e.Status,
		&e.ProcessedAt,
		&lastError,
		&e.CreatedAt,
	)
	if err != nil {
		return e, fmt.Errorf("scan escalation: %w", err)
	}
	e.LastError = deref(lastError)
	return e, nil
}

func collectEscalations(rows pgx.Rows) ([]domain.ScheduledEscalation, error) {
	defer rows.Close()

	var out []domain.ScheduledEscalation
	for rows.Next() {
		e, err := scanEscalation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return out, nil
}

// Schedule stores a pending escalation and returns it with its ID set.
func (r *EscalationRepository) Schedule(ctx context.Context, e domain.ScheduledEscalation) (domain.ScheduledEscalation, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	e.Status = domain.SchedulePending

	query, args, err := psql.
		Insert("task_escalations").
		Columns("id", "task_id", "tenant_id", "escalate_to", "due_at", "status").
		Values(e.ID, e.TaskID, e.TenantID, e.EscalateTo, e.DueAt, e.Status).
		Suffix("RETURNING created_at").
		ToSql()
	if err != nil {
		return e, fmt.Errorf("build Schedule query for task %s: %w", e.TaskID, err)
	}

	if err := r.pool.QueryRow(ctx, query, args...).Scan(&e.CreatedAt); err != nil {
		return e, fmt.Errorf("schedule escalation: %w", err)
	}
	return e, nil
}

// ClaimDue atomically moves up to limit due escalations to PROCESSING and
// returns them. Rows stuck in PROCESSING since before staleBefore are claimed
// again. SKIP LOCKED keeps two sweepers from claiming the same row.
func (r *EscalationRepository) ClaimDue(ctx context.Context, now, staleBefore time.Time, limit int) ([]domain.ScheduledEscalation, error) {
	rows, err := r.pool.Query(ctx, `
		UPDATE task_escalations
		SET status = 'PROCESSING', claimed_at = $1
		WHERE id IN (
			SELECT id FROM task_escalations
			WHERE due_at <= $1
			  AND (status = 'PENDING' OR (status = 'PROCESSING' AND claimed_at < $2))
			ORDER BY due_at
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, task_id, tenant_id, escalate_to, due_at, status, processed_at, last_error, created_at
	`, now, staleBefore, limit)
	if err != nil {
		return nil, fmt.Errorf("claim due escalations: %w", err)
	}
	return collectEscalations(rows)
}

// Finish records the final status of a claimed escalation.
func (r *EscalationRepository) Finish(
	ctx context.Context,
	id string,
	status domain.ScheduleStatus,
	reason string,
	at time.Time,
) error {
	query, args, err := psql.
		Update("task_escalations").
		Set("status", status).
		Set("processed_at", at).
		Set("last_error", nullable(reason)).
		Where(sq.Eq{"id": id, "status": domain.ScheduleProcessing}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build Finish query for escalation %s: %w", id, err)
	}

	tag, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("finish escalation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s is not being processed", domain.ErrEscalationNotFound, id)
	}
	return nil
}

// ListByTask returns every escalation scheduled for a task.
func (r *EscalationRepository) ListByTask(ctx context.Context, taskID string) ([]domain.ScheduledEscalation, error) {
	query, args, err := psql.
		Select(escalationColumns...).
		From("task_escalations").
		Where(sq.Eq{"task_id": taskID}).
		OrderBy("due_at ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build ListByTask query for task %s: %w", taskID, err)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query escalations: %w", err)
	}
	return collectEscalations(rows)
}
