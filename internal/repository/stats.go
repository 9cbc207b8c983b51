package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/mtlprog/humantask/internal/domain"
)

// GetUserStats summarizes a user's tasks within a tenant.
func (r *TaskRepository) GetUserStats(ctx context.Context, tenantID, userID string) (*domain.UserTaskStats, error) {
	query := `
		SELECT
			COUNT(*) FILTER (WHERE status = 'ASSIGNED' AND assignee_kind = 'USER' AND assignee_id = $2) AS assigned,
			COUNT(*) FILTER (WHERE status = 'IN_PROGRESS' AND claimed_by = $2) AS in_progress,
			COUNT(*) FILTER (WHERE status = 'ESCALATED' AND assignee_kind = 'USER' AND assignee_id = $2) AS escalated,
			COUNT(*) FILTER (WHERE status IN ('CREATED', 'ASSIGNED', 'IN_PROGRESS', 'ESCALATED')
				AND due_date < NOW()
				AND ((assignee_kind = 'USER' AND assignee_id = $2) OR claimed_by = $2)) AS overdue,
			COUNT(*) FILTER (WHERE status = 'COMPLETED' AND completed_by = $2) AS completed,
			COUNT(*) FILTER (WHERE outcome_kind = 'APPROVED' AND completed_by = $2) AS approved,
			COUNT(*) FILTER (WHERE outcome_kind = 'REJECTED' AND completed_by = $2) AS rejected,
			(AVG(EXTRACT(EPOCH FROM completed_at - claimed_at))
				FILTER (WHERE status = 'COMPLETED' AND completed_by = $2 AND claimed_at IS NOT NULL))::float8 AS avg_seconds
		FROM human_tasks
		WHERE tenant_id = $1
	`

	stats := domain.UserTaskStats{UserID: userID, TenantID: tenantID}
	var avgSeconds *float64
	err := r.pool.QueryRow(ctx, query, tenantID, userID).Scan(
		&stats.Assigned,
		&stats.InProgress,
		&stats.Escalated,
		&stats.Overdue,
		&stats.Completed,
		&stats.Approved,
		&stats.Rejected,
		&avgSeconds,
	)
	if err != nil {
		return nil, fmt.Errorf("query user stats: %w", err)
	}

	if avgSeconds != nil {
		stats.AvgTimeToComplete = time.Duration(*avgSeconds * float64(time.Second))
	}

	return &stats, nil
}

// StatusCounts returns the number of tasks per status for a tenant.
func (r *TaskRepository) StatusCounts(ctx context.Context, tenantID string) (map[domain.TaskStatus]int, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT status, COUNT(*)
		FROM human_tasks
		WHERE tenant_id = $1
		GROUP BY status
	`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("query tasks by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.TaskStatus]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		counts[domain.TaskStatus(status)] = count
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate status rows: %w", err)
	}

	return counts, nil
}
