package service

import (
	"context"
	"testing"
	"time"

	"github.com/mtlprog/humantask/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueryService(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	orch := NewOrchestrator(store, &recordingNotifier{}, &recordingEscalator{}, &recordingPublisher{}, nil, Defaults{TenantID: "acme"})
	orch.Now = func() time.Time { return time.Date(2025, 5, 1, 8, 0, 0, 0, time.UTC) }
	q := NewQueryService(store)

	first, err := orch.Execute(ctx, "run-1", "a", TaskConfig{AssignTo: "alice", Title: "First"})
	require.NoError(t, err)
	_, err = orch.Execute(ctx, "run-1", "b", TaskConfig{AssignTo: "bob", Title: "Second"})
	require.NoError(t, err)
	_, err = orch.Execute(ctx, "run-2", "a", TaskConfig{AssignTo: "alice", Title: "Third", TenantID: "globex"})
	require.NoError(t, err)

	t.Run("get task", func(t *testing.T) {
		got, err := q.GetTask(ctx, "acme", first.ID())
		require.NoError(t, err)
		assert.Equal(t, "First", got.Title())
		assert.Equal(t, first.Version(), got.Version())

		_, err = q.GetTask(ctx, "globex", first.ID())
		assert.ErrorIs(t, err, domain.ErrTaskNotFound)
	})

	t.Run("tasks for user are tenant scoped", func(t *testing.T) {
		tasks, err := q.GetTasksForUser(ctx, "acme", "alice", nil)
		require.NoError(t, err)
		require.Len(t, tasks, 1)
		assert.Equal(t, first.ID(), tasks[0].ID())
	})

	t.Run("tasks for run", func(t *testing.T) {
		tasks, err := q.GetTasksForWorkflowRun(ctx, "acme", "run-1")
		require.NoError(t, err)
		assert.Len(t, tasks, 2)
	})

	t.Run("pending and counts", func(t *testing.T) {
		pending, err := q.PendingTasks(ctx, "acme")
		require.NoError(t, err)
		assert.Len(t, pending, 2)

		n, err := q.CountActiveTasks(ctx, "acme", "bob")
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		stats, err := q.GetUserTaskStatistics(ctx, "acme", "alice")
		require.NoError(t, err)
		assert.Equal(t, 1, stats.Assigned)
	})

	t.Run("tenant status counts", func(t *testing.T) {
		counts, err := q.TenantStatusCounts(ctx, "acme")
		require.NoError(t, err)
		assert.Equal(t, map[domain.TaskStatus]int{domain.TaskStatusAssigned: 2}, counts)

		counts, err = q.TenantStatusCounts(ctx, "globex")
		require.NoError(t, err)
		assert.Equal(t, 1, counts[domain.TaskStatusAssigned])
	})

	t.Run("audit trail", func(t *testing.T) {
		assert.NoError(t, q.VerifyAuditTrail(ctx, "acme", first.ID()))
	})
}
