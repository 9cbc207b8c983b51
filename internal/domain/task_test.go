package domain_test

import (
	"testing"
	"time"

	"github.com/mtlprog/humantask/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func baseParams() domain.NewTaskParams {
	return domain.NewTaskParams{
		WorkflowRunID: "wf-1",
		NodeID:        "n-1",
		TenantID:      "t-1",
		TaskType:      "approval",
		Title:         "Review",
		Priority:      3,
	}
}

func newAssignedTask(t *testing.T, userID string) *domain.HumanTask {
	t.Helper()
	p := baseParams()
	a := domain.NewUserAssignment(userID, "SYSTEM", t0)
	p.Assignment = &a
	task, _, err := domain.NewHumanTask(p, t0)
	require.NoError(t, err)
	return task
}

func newInProgressTask(t *testing.T, userID string) *domain.HumanTask {
	t.Helper()
	task := newAssignedTask(t, userID)
	_, err := task.Claim(userID, nil, t0.Add(time.Minute))
	require.NoError(t, err)
	return task
}

func TestNewHumanTask_Priority(t *testing.T) {
	for p := -1; p <= 7; p++ {
		params := baseParams()
		params.Priority = p

		task, events, err := domain.NewHumanTask(params, t0)
		if p >= domain.MinPriority && p <= domain.MaxPriority {
			require.NoError(t, err, "priority %d", p)
			assert.Equal(t, p, task.Priority())
			assert.Len(t, events, 1)
			continue
		}
		require.Error(t, err, "priority %d", p)
		assert.ErrorIs(t, err, domain.ErrValidation)
		assert.ErrorIs(t, err, domain.ErrInvalidPriority)
		assert.Nil(t, task)
	}
}

func TestNewHumanTask_MissingFields(t *testing.T) {
	params := baseParams()
	params.Title = "  "
	params.NodeID = ""

	_, _, err := domain.NewHumanTask(params, t0)
	require.ErrorIs(t, err, domain.ErrValidation)
	assert.Contains(t, err.Error(), "node id")
	assert.Contains(t, err.Error(), "title")
}

func TestNewHumanTask_MultiLineTitle(t *testing.T) {
	for _, title := range []string{"Review\r\nBcc: someone@example.test", "Review\nsecond line", "Review\r"} {
		params := baseParams()
		params.Title = title

		_, _, err := domain.NewHumanTask(params, t0)
		assert.ErrorIs(t, err, domain.ErrValidation, "title %q", title)
	}
}

func TestNewHumanTask_Events(t *testing.T) {
	t.Run("without assignment", func(t *testing.T) {
		task, events, err := domain.NewHumanTask(baseParams(), t0)
		require.NoError(t, err)

		require.Len(t, events, 1)
		assert.Equal(t, domain.EventTypeCreated, events[0].Type)
		assert.Equal(t, domain.TaskStatusCreated, task.Status())
		assert.Nil(t, task.Assignment())
		assert.Len(t, task.AuditTrail(), 1)
	})

	t.Run("with assignment", func(t *testing.T) {
		p := baseParams()
		a := domain.NewUserAssignment("alice", "", time.Time{})
		p.Assignment = &a
		p.CreatedBy = "workflow-engine"

		task, events, err := domain.NewHumanTask(p, t0)
		require.NoError(t, err)

		require.Len(t, events, 2)
		assert.Equal(t, domain.EventTypeCreated, events[0].Type)
		assert.Equal(t, domain.EventTypeAssigned, events[1].Type)
		assert.Equal(t, "workflow-engine", events[1].Actor)
		assert.Equal(t, domain.TaskStatusAssigned, task.Status())
		assert.Len(t, task.AssignmentHistory(), 1)
		assert.Equal(t, t0, task.Assignment().AssignedAt)
		assert.Len(t, task.AuditTrail(), 2)
	})

	t.Run("invalid assignment kind", func(t *testing.T) {
		p := baseParams()
		p.Assignment = &domain.Assignment{Kind: "TEAM", AssigneeID: "x"}

		_, _, err := domain.NewHumanTask(p, t0)
		assert.ErrorIs(t, err, domain.ErrValidation)
	})
}

func TestScenario_CreateClaimApprove(t *testing.T) {
	task := newAssignedTask(t, "alice")
	assert.Equal(t, domain.TaskStatusAssigned, task.Status())
	assert.Len(t, task.AssignmentHistory(), 1)

	ev, err := task.Claim("alice", nil, t0.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, domain.EventTypeClaimed, ev.Type)
	assert.Equal(t, domain.TaskStatusInProgress, task.Status())
	require.NotNil(t, task.ClaimedAt())

	ev, err = task.Approve("alice", map[string]any{"result": "ok"}, "fine", t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, domain.EventTypeApproved, ev.Type)
	assert.Equal(t, domain.TaskStatusCompleted, task.Status())
	assert.Equal(t, domain.Approved{}, task.Outcome())
	assert.Equal(t, "alice", task.CompletedBy())
	assert.Equal(t, map[string]any{"result": "ok"}, task.CompletionData())
	assert.Equal(t, "fine", task.Comments())

	d, ok := task.TimeToComplete()
	require.True(t, ok)
	assert.Equal(t, 59*time.Minute, d)
	assert.NoError(t, task.VerifyAuditTrail())
}

func TestScenario_ClaimBeforeAssign(t *testing.T) {
	task, _, err := domain.NewHumanTask(baseParams(), t0)
	require.NoError(t, err)

	_, err = task.Claim("bob", nil, t0)
	assert.ErrorIs(t, err, domain.ErrInvalidState)
	assert.Equal(t, domain.TaskStatusCreated, task.Status())
}

func TestClaim_InvalidStateRegardlessOfUser(t *testing.T) {
	inProgress := newInProgressTask(t, "alice")
	completed := newInProgressTask(t, "alice")
	_, err := completed.Reject("alice", nil, "no", t0.Add(time.Hour))
	require.NoError(t, err)

	for _, task := range []*domain.HumanTask{inProgress, completed} {
		for _, user := range []string{"alice", "bob", ""} {
			_, err := task.Claim(user, nil, t0)
			assert.ErrorIs(t, err, domain.ErrInvalidState, "status %s user %q", task.Status(), user)
		}
	}
}

func TestClaim_UserAssignment(t *testing.T) {
	task := newAssignedTask(t, "alice")
	trail := len(task.AuditTrail())

	_, err := task.Claim("bob", nil, t0)
	require.ErrorIs(t, err, domain.ErrPermissionDenied)
	assert.Equal(t, domain.TaskStatusAssigned, task.Status())
	assert.Nil(t, task.ClaimedAt())
	assert.Len(t, task.AuditTrail(), trail)

	assert.True(t, task.CanBeClaimedBy("alice", nil))
	assert.False(t, task.CanBeClaimedBy("bob", nil))
}

func TestClaim_GroupAssignment(t *testing.T) {
	p := baseParams()
	p.Assignment = &domain.Assignment{Kind: domain.AssigneeGroup, AssigneeID: "finance"}
	task, _, err := domain.NewHumanTask(p, t0)
	require.NoError(t, err)

	member := func(kind domain.AssigneeKind, id string) bool {
		return kind == domain.AssigneeGroup && id == "finance"
	}
	outsider := func(domain.AssigneeKind, string) bool { return false }

	_, err = task.Claim("carol", nil, t0)
	assert.ErrorIs(t, err, domain.ErrPermissionDenied, "nil predicate denies")

	_, err = task.Claim("carol", outsider, t0)
	assert.ErrorIs(t, err, domain.ErrPermissionDenied)

	_, err = task.Claim("carol", member, t0)
	require.NoError(t, err)
	assert.Equal(t, "carol", task.ClaimedBy())
	assert.True(t, task.IsAssignedTo("carol"))

	_, err = task.Complete("carol", "reviewed", nil, "", t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, domain.Custom{Name: "reviewed"}, task.Outcome())
}

func TestDelegate(t *testing.T) {
	task := newAssignedTask(t, "alice")

	_, err := task.Delegate("bob", "carol", "vacation", t0)
	require.ErrorIs(t, err, domain.ErrPermissionDenied)
	assert.Len(t, task.AssignmentHistory(), 1)

	ev, err := task.Delegate("alice", "carol", "vacation", t0.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, domain.EventTypeDelegated, ev.Type)
	assert.Equal(t, "carol", ev.Payload["to"])

	history := task.AssignmentHistory()
	require.Len(t, history, 2)
	assert.Equal(t, "carol", history[1].AssigneeID)
	assert.Equal(t, "alice", history[1].AssignedBy)
	assert.Equal(t, "vacation", history[1].DelegationReason)
	assert.Equal(t, domain.TaskStatusAssigned, task.Status())
}

func TestDelegate_FromInProgressResetsClaim(t *testing.T) {
	task := newInProgressTask(t, "alice")

	_, err := task.Delegate("alice", "bob", "", t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusAssigned, task.Status())
	assert.Nil(t, task.ClaimedAt())
	assert.False(t, task.IsAssignedTo("alice"))
}

func TestRelease(t *testing.T) {
	task := newAssignedTask(t, "alice")
	_, err := task.Release("alice", t0)
	require.ErrorIs(t, err, domain.ErrInvalidState)

	_, err = task.Claim("alice", nil, t0)
	require.NoError(t, err)

	ev, err := task.Release("alice", t0.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, domain.EventTypeReleased, ev.Type)
	assert.Equal(t, domain.TaskStatusAssigned, task.Status())
	assert.Nil(t, task.ClaimedAt())
	assert.Equal(t, "alice", task.Assignment().AssigneeID)
}

func TestFinish_Guards(t *testing.T) {
	assigned := newAssignedTask(t, "alice")
	_, err := assigned.Approve("alice", nil, "", t0)
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	task := newInProgressTask(t, "alice")
	_, err = task.Approve("bob", nil, "", t0)
	assert.ErrorIs(t, err, domain.ErrPermissionDenied)
	_, err = task.Reject("bob", nil, "", t0)
	assert.ErrorIs(t, err, domain.ErrPermissionDenied)
	_, err = task.Complete("bob", "done", nil, "", t0)
	assert.ErrorIs(t, err, domain.ErrPermissionDenied)
	assert.Equal(t, domain.TaskStatusInProgress, task.Status())

	_, err = task.Complete("alice", " ", nil, "", t0)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestComplete_StateCheckedBeforeResult(t *testing.T) {
	created, _, err := domain.NewHumanTask(baseParams(), t0)
	require.NoError(t, err)

	_, err = created.Complete("alice", "", nil, "", t0)
	assert.ErrorIs(t, err, domain.ErrInvalidState)
	assert.NotErrorIs(t, err, domain.ErrValidation)

	task := newInProgressTask(t, "alice")
	_, err = task.Complete("bob", "", nil, "", t0)
	assert.ErrorIs(t, err, domain.ErrPermissionDenied)
}

func TestFinish_EventDataIsCopied(t *testing.T) {
	task := newInProgressTask(t, "alice")
	data := map[string]any{"amount": 100}

	ev, err := task.Approve("alice", data, "", t0.Add(time.Hour))
	require.NoError(t, err)

	data["amount"] = 999
	data["extra"] = true
	assert.Equal(t, map[string]any{"amount": 100}, ev.Payload["data"])
	assert.Equal(t, map[string]any{"amount": 100}, task.CompletionData())
}

func TestFinish_Outcomes(t *testing.T) {
	tests := []struct {
		name      string
		finish    func(*domain.HumanTask) (domain.Event, error)
		eventType domain.EventType
		outcome   domain.Outcome
	}{
		{
			name: "approve",
			finish: func(task *domain.HumanTask) (domain.Event, error) {
				return task.Approve("alice", nil, "", t0.Add(time.Hour))
			},
			eventType: domain.EventTypeApproved,
			outcome:   domain.Approved{},
		},
		{
			name: "reject",
			finish: func(task *domain.HumanTask) (domain.Event, error) {
				return task.Reject("alice", nil, "", t0.Add(time.Hour))
			},
			eventType: domain.EventTypeRejected,
			outcome:   domain.Rejected{},
		},
		{
			name: "custom",
			finish: func(task *domain.HumanTask) (domain.Event, error) {
				return task.Complete("alice", "signed", nil, "", t0.Add(time.Hour))
			},
			eventType: domain.EventTypeCompleted,
			outcome:   domain.Custom{Name: "signed"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			task := newInProgressTask(t, "alice")
			ev, err := tt.finish(task)
			require.NoError(t, err)
			assert.Equal(t, tt.eventType, ev.Type)
			assert.Equal(t, tt.outcome, task.Outcome())
			assert.Equal(t, domain.TaskStatusCompleted, task.Status())
			require.NotNil(t, task.CompletedAt())
		})
	}
}

func TestEscalate(t *testing.T) {
	task := newInProgressTask(t, "alice")

	ev, err := task.Escalate(domain.EscalationTimeout, "supervisor", t0.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, domain.EventTypeEscalated, ev.Type)
	assert.True(t, ev.IsSystemEvent())
	assert.Equal(t, domain.TaskStatusEscalated, task.Status())
	assert.Nil(t, task.ClaimedAt())

	rec := task.Escalation()
	require.NotNil(t, rec)
	assert.Equal(t, domain.EscalationTimeout, rec.Reason)
	require.NotNil(t, rec.Displaced)
	assert.Equal(t, "alice", rec.Displaced.AssigneeID)

	a := task.Assignment()
	assert.Equal(t, "supervisor", a.AssigneeID)
	assert.Equal(t, domain.SystemActor, a.AssignedBy)

	_, err = task.Claim("alice", nil, t0)
	assert.ErrorIs(t, err, domain.ErrPermissionDenied)
	_, err = task.Claim("supervisor", nil, t0.Add(25*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusInProgress, task.Status())
}

func TestEscalate_Validation(t *testing.T) {
	task := newAssignedTask(t, "alice")

	_, err := task.Escalate("BORED", "bob", t0)
	assert.ErrorIs(t, err, domain.ErrValidation)
	_, err = task.Escalate(domain.EscalationManual, "", t0)
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.Equal(t, domain.TaskStatusAssigned, task.Status())
}

func TestTerminalTasksRejectCommands(t *testing.T) {
	task := newAssignedTask(t, "alice")
	_, err := task.Cancel("ops", "duplicate", t0.Add(time.Minute))
	require.NoError(t, err)
	trail := len(task.AuditTrail())

	_, err = task.Assign(domain.NewUserAssignment("bob", "ops", t0), t0)
	assert.ErrorIs(t, err, domain.ErrInvalidState)
	_, err = task.Delegate("alice", "bob", "", t0)
	assert.ErrorIs(t, err, domain.ErrInvalidState)
	_, err = task.Escalate(domain.EscalationManual, "bob", t0)
	assert.ErrorIs(t, err, domain.ErrInvalidState)
	_, err = task.Cancel("ops", "again", t0)
	assert.ErrorIs(t, err, domain.ErrInvalidState)
	_, err = task.AddComment("alice", "hello", t0)
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	assert.Equal(t, domain.TaskStatusCancelled, task.Status())
	assert.Len(t, task.AuditTrail(), trail)
}

func TestExpire(t *testing.T) {
	t.Run("open task", func(t *testing.T) {
		task := newAssignedTask(t, "alice")
		ev, ok := task.Expire(t0.Add(time.Hour))
		require.True(t, ok)
		assert.Equal(t, domain.EventTypeExpired, ev.Type)
		assert.Equal(t, domain.TaskStatusExpired, task.Status())
		require.NotNil(t, task.CompletedAt())
	})

	t.Run("completed task is a no-op", func(t *testing.T) {
		task := newInProgressTask(t, "alice")
		_, err := task.Approve("alice", nil, "", t0.Add(time.Hour))
		require.NoError(t, err)
		trail := task.AuditTrail()
		completedAt := task.CompletedAt()

		ev, ok := task.Expire(t0.Add(48 * time.Hour))
		assert.False(t, ok)
		assert.Equal(t, domain.Event{}, ev)
		assert.Equal(t, domain.TaskStatusCompleted, task.Status())
		assert.Equal(t, trail, task.AuditTrail())
		assert.Equal(t, completedAt, task.CompletedAt())
	})

	t.Run("twice", func(t *testing.T) {
		task := newAssignedTask(t, "alice")
		_, ok := task.Expire(t0)
		require.True(t, ok)
		_, ok = task.Expire(t0)
		assert.False(t, ok)
	})
}

func TestAddComment(t *testing.T) {
	task := newAssignedTask(t, "alice")
	before := len(task.AuditTrail())

	_, err := task.AddComment("bob", "   ", t0)
	require.ErrorIs(t, err, domain.ErrEmptyComment)

	ev, err := task.AddComment("bob", "please hurry", t0.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, domain.EventTypeCommentAdded, ev.Type)
	assert.Equal(t, domain.TaskStatusAssigned, task.Status())

	trail := task.AuditTrail()
	require.Len(t, trail, before+1)
	last := trail[len(trail)-1]
	assert.Equal(t, domain.ActionCommented, last.Action)
	assert.Equal(t, "please hurry", last.Detail)
	assert.Equal(t, "bob", last.Actor)
}

func TestEveryCommandAppendsOneAuditEntry(t *testing.T) {
	task := newAssignedTask(t, "alice")
	steps := []func() error{
		func() error { _, err := task.AddComment("alice", "looking", t0); return err },
		func() error { _, err := task.Claim("alice", nil, t0); return err },
		func() error { _, err := task.Release("alice", t0); return err },
		func() error { _, err := task.Delegate("alice", "bob", "busy", t0); return err },
		func() error { _, err := task.Assign(domain.NewUserAssignment("carol", "ops", t0), t0); return err },
		func() error { _, err := task.Escalate(domain.EscalationManual, "dave", t0); return err },
		func() error { _, err := task.Claim("dave", nil, t0); return err },
		func() error { _, err := task.Approve("dave", nil, "", t0); return err },
	}

	for i, step := range steps {
		before := len(task.AuditTrail())
		require.NoError(t, step(), "step %d", i)
		assert.Len(t, task.AuditTrail(), before+1, "step %d", i)
	}
	assert.NoError(t, task.VerifyAuditTrail())
}

func TestIsOverdue(t *testing.T) {
	due := t0.Add(time.Hour)
	p := baseParams()
	p.DueDate = &due
	task, _, err := domain.NewHumanTask(p, t0)
	require.NoError(t, err)

	assert.False(t, task.IsOverdue(t0))
	assert.False(t, task.IsOverdue(due))
	assert.True(t, task.IsOverdue(due.Add(time.Second)))

	_, err = task.Cancel("ops", "", t0)
	require.NoError(t, err)
	assert.False(t, task.IsOverdue(due.Add(time.Hour)))

	noDue, _, err := domain.NewHumanTask(baseParams(), t0)
	require.NoError(t, err)
	assert.False(t, noDue.IsOverdue(t0.Add(1000*time.Hour)))
}

func TestTimeOpen(t *testing.T) {
	task := newAssignedTask(t, "alice")
	assert.Equal(t, 2*time.Hour, task.TimeOpen(t0.Add(2*time.Hour)))

	_, ok := task.TimeToComplete()
	assert.False(t, ok)

	_, err := task.Cancel("ops", "", t0.Add(30*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 30*time.Minute, task.TimeOpen(t0.Add(10*time.Hour)))
}

func TestGettersReturnCopies(t *testing.T) {
	p := baseParams()
	p.FormData = map[string]any{"amount": 10}
	task, _, err := domain.NewHumanTask(p, t0)
	require.NoError(t, err)

	p.FormData["amount"] = 99
	fd := task.FormData()
	assert.Equal(t, 10, fd["amount"])

	fd["amount"] = 42
	assert.Equal(t, 10, task.FormData()["amount"])
}
