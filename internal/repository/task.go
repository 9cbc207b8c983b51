package repository

import (
	"context"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mtlprog/humantask/internal/database"
	"github.com/mtlprog/humantask/internal/domain"
)

// taskColumns is the shared list of columns for task queries.
var taskColumns = []string{
	"id", "tenant_id", "workflow_run_id", "node_id", "task_type", "title", "description",
	"priority", "status", "context", "form_data", "assignment", "assignment_history",
	"claimed_by", "claimed_at", "due_date", "completed_at", "completed_by",
	"outcome_kind", "outcome_label", "completion_data", "comments", "escalation",
	"audit_trail", "version", "created_at",
}

// TaskRepository handles database operations for human tasks.
type TaskRepository struct {
	pool   *pgxpool.Pool
	events *TaskEventRepository
}

// NewTaskRepository creates a new TaskRepository.
func NewTaskRepository(pool *pgxpool.Pool) *TaskRepository {
	return &TaskRepository{pool: pool, events: NewTaskEventRepository(pool)}
}

// scanTask scans a single row into a TaskSnapshot.
func scanTask(row pgx.Row) (*domain.TaskSnapshot, error) {
	var (
		s                        domain.TaskSnapshot
		claimedBy, completedBy   *string
		outcomeKind, outcomeText *string
	)
	err := row.Scan(
		&s.ID,
		&s.TenantID,
		&s.WorkflowRunID,
		&s.NodeID,
		&s.TaskType,
		&s.Title,
		&s.Description,
		&s.Priority,
		&s.Status,
		&s.Context,
		&s.FormData,
		&s.Assignment,
		&s.AssignmentHistory,
		&claimedBy,
		&s.ClaimedAt,
		&s.DueDate,
		&s.CompletedAt,
		&completedBy,
		&outcomeKind,
		&outcomeText,
		&s.CompletionData,
		&s.Comments,
		&s.Escalation,
		&s.AuditTrail,
		&s.Version,
		&s.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrTaskNotFound
		}
		return nil, fmt.Errorf("scan task: %w", err)
	}

	s.ClaimedBy = deref(claimedBy)
	s.CompletedBy = deref(completedBy)
	s.OutcomeKind = domain.OutcomeKind(deref(outcomeKind))
	s.OutcomeLabel = deref(outcomeText)
	return &s, nil
}

// scanTasks scans multiple rows into a slice of snapshots.
func scanTasks(rows pgx.Rows) ([]*domain.TaskSnapshot, error) {
	defer rows.Close()

	var tasks []*domain.TaskSnapshot
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return tasks, nil
}

// FindByTaskID retrieves a task by ID within a tenant.
func (r *TaskRepository) FindByTaskID(ctx context.Context, taskID, tenantID string) (*domain.TaskSnapshot, error) {
	query, args, err := psql.
		Select(taskColumns...).
		From("human_tasks").
		Where(sq.Eq{"id": taskID, "tenant_id": tenantID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build FindByTaskID query for task %s: %w", taskID, err)
	}

	return scanTask(r.pool.QueryRow(ctx, query, args...))
}

// Save persists the task and its new events in one transaction.
// A task that was never saved is inserted; otherwise the row is updated only if
// its version still matches, and domain.ErrConcurrencyConflict is returned when
// another writer got there first. On success the task's version is advanced.
func (r *TaskRepository) Save(ctx context.Context, task *domain.HumanTask, events []domain.Event) error {
	err := database.InTx(ctx, r.pool, func(tx pgx.Tx) error {
		return r.SaveTx(ctx, tx, task, events)
	})
	if err != nil {
		return err
	}
	task.MarkSaved()
	return nil
}

// SaveTx writes the task and events inside an existing transaction. The caller
// must call task.MarkSaved after the transaction commits.
func (r *TaskRepository) SaveTx(ctx context.Context, tx pgx.Tx, task *domain.HumanTask, events []domain.Event) error {
	s := task.Snapshot()

	var err error
	if s.Version == 0 {
		err = r.insert(ctx, tx, s)
	} else {
		err = r.update(ctx, tx, s)
	}
	if err != nil {
		return err
	}

	return r.events.Insert(ctx, tx, events)
}

func (r *TaskRepository) insert(ctx context.Context, tx pgx.Tx, s domain.TaskSnapshot) error {
	kind, assignee := assigneeColumns(s.Assignment)
	query, args, err := psql.
		Insert("human_tasks").
		Columns(
			"id", "tenant_id", "workflow_run_id", "node_id", "task_type", "title", "description",
			"priority", "status", "context", "form_data", "assignee_kind", "assignee_id",
			"assignment", "assignment_history", "claimed_by", "claimed_at", "due_date",
			"completed_at", "completed_by", "outcome_kind", "outcome_label", "completion_data",
			"comments", "escalation", "audit_trail", "version", "created_at",
		).
		Values(
			s.ID, s.TenantID, s.WorkflowRunID, s.NodeID, s.TaskType, s.Title, s.Description,
			s.Priority, s.Status, s.Context, s.FormData, kind, assignee,
			s.Assignment, historyOrEmpty(s.AssignmentHistory), nullable(s.ClaimedBy), s.ClaimedAt, s.DueDate,
			s.CompletedAt, nullable(s.CompletedBy), nullable(string(s.OutcomeKind)), nullable(s.OutcomeLabel), s.CompletionData,
			s.Comments, s.Escalation, s.AuditTrail, 1, s.CreatedAt,
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert query for task %s: %w", s.ID, err)
	}

	if _, err := tx.Exec(ctx, query, args...); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: task %s already exists", domain.ErrConcurrencyConflict, s.ID)
		}
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

func (r *TaskRepository) update(ctx context.Context, tx pgx.Tx, s domain.TaskSnapshot) error {
	kind, assignee := assigneeColumns(s.Assignment)
	query, args, err := psql.
		Update("human_tasks").
		Set("status", s.Status).
		Set("assignee_kind", kind).
		Set("assignee_id", assignee).
		Set("assignment", s.Assignment).
		Set("assignment_history", historyOrEmpty(s.AssignmentHistory)).
		Set("claimed_by", nullable(s.ClaimedBy)).
		Set("claimed_at", s.ClaimedAt).
		Set("completed_at", s.CompletedAt).
		Set("completed_by", nullable(s.CompletedBy)).
		Set("outcome_kind", nullable(string(s.OutcomeKind))).
		Set("outcome_label", nullable(s.OutcomeLabel)).
		Set("completion_data", s.CompletionData).
		Set("comments", s.Comments).
		Set("escalation", s.Escalation).
		Set("audit_trail", s.AuditTrail).
		Set("version", s.Version+1).
		Set("updated_at", sq.Expr("NOW()")).
		Where(sq.Eq{
			"id":      s.ID,
			"version": s.Version,
		}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update query for task %s: %w", s.ID, err)
	}

	tag, err := tx.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: task %s at version %d", domain.ErrConcurrencyConflict, s.ID, s.Version)
	}

	return nil
}

func assigneeColumns(a *domain.Assignment) (*string, *string) {
	if a == nil {
		return nil, nil
	}
	kind := string(a.Kind)
	id := a.AssigneeID
	return &kind, &id
}

func historyOrEmpty(h []domain.Assignment) []domain.Assignment {
	if h == nil {
		return []domain.Assignment{}
	}
	return h
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
