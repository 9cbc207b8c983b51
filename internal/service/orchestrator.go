package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mtlprog/humantask/internal/domain"
)

// Defaults are fallbacks applied to task configurations that omit them.
type Defaults struct {
	TenantID          string
	EscalationTargets map[string]string // task type -> escalation target
}

// Orchestrator drives human tasks through their lifecycle: every command
// loads the task, applies one domain command, saves it with a version check
// and then runs side effects (event publication, notifications).
type Orchestrator struct {
	store     TaskStore
	notifier  Notifier
	escalator Escalator
	publisher Publisher
	members   MembershipResolver
	defaults  Defaults
	Now       func() time.Time
}

// NewOrchestrator creates a new Orchestrator.
func NewOrchestrator(
	store TaskStore,
	notifier Notifier,
	escalator Escalator,
	publisher Publisher,
	members MembershipResolver,
	defaults Defaults,
) *Orchestrator {
	return &Orchestrator{
		store:     store,
		notifier:  notifier,
		escalator: escalator,
		publisher: publisher,
		members:   members,
		defaults:  defaults,
		Now:       time.Now,
	}
}

func (o *Orchestrator) now() time.Time {
	if o.Now != nil {
		return o.Now().UTC()
	}
	return time.Now().UTC()
}

// ExecuteRaw decodes a generic node configuration and calls Execute.
func (o *Orchestrator) ExecuteRaw(ctx context.Context, runID, nodeID string, raw map[string]any) (*domain.HumanTask, error) {
	cfg, err := DecodeTaskConfig(raw)
	if err != nil {
		return nil, err
	}
	return o.Execute(ctx, runID, nodeID, cfg)
}

// Execute creates a human task for a workflow node.
// Notification failures are logged, not returned: the task is already
// committed. A failure to schedule the escalation is returned together with
// the created task.
func (o *Orchestrator) Execute(ctx context.Context, runID, nodeID string, cfg TaskConfig) (*domain.HumanTask, error) {
	cfg = cfg.withDefaults(o.defaults.TenantID)
	if cfg.Escalation != nil && cfg.Escalation.EscalateTo == "" {
		cfg.Escalation.EscalateTo = o.defaults.EscalationTargets[cfg.TaskType]
	}
	if err := ValidateTaskConfig(cfg); err != nil {
		return nil, err
	}

	now := o.now()
	params := domain.NewTaskParams{
		WorkflowRunID: runID,
		NodeID:        nodeID,
		TenantID:      cfg.TenantID,
		TaskType:      cfg.TaskType,
		Title:         cfg.Title,
		Description:   cfg.Description,
		Priority:      *cfg.Priority,
		Context:       cfg.Context,
		FormData:      cfg.FormData,
		DueDate:       CalculateDueDate(cfg, now),
		CreatedBy:     cfg.CreatedBy,
	}
	if cfg.AssignTo != "" {
		params.Assignment = &domain.Assignment{
			Kind:       cfg.AssigneeType,
			AssigneeID: cfg.AssignTo,
			AssignedBy: cfg.CreatedBy,
			AssignedAt: now,
		}
	}

	task, events, err := domain.NewHumanTask(params, now)
	if err != nil {
		return nil, err
	}

	if err := o.store.Save(ctx, task, events); err != nil {
		return nil, fmt.Errorf("save task: %w", err)
	}
	o.publish(ctx, events)

	slog.Info("human task created",
		"task_id", task.ID(),
		"tenant_id", task.TenantID(),
		"workflow_run_id", runID,
		"node_id", nodeID,
		"status", task.Status(),
	)

	if task.Assignment() != nil {
		o.notifyAssigned(ctx, task, cfg.Notification)
	}

	if cfg.Escalation != nil {
		delay := EscalationDelay(*cfg.Escalation)
		if err := o.escalator.ScheduleEscalation(ctx, task.ID(), task.TenantID(), cfg.Escalation.EscalateTo, delay); err != nil {
			return task, fmt.Errorf("schedule escalation for task %s: %w", task.ID(), err)
		}
	}

	return task, nil
}

// CompleteTask records a human decision on an in-progress task.
func (o *Orchestrator) CompleteTask(
	ctx context.Context,
	tenantID, taskID, userID string,
	outcome domain.Outcome,
	data map[string]any,
	comments string,
) (*domain.HumanTask, error) {
	return o.mutate(ctx, tenantID, taskID, func(task *domain.HumanTask, now time.Time) (domain.Event, error) {
		switch oc := outcome.(type) {
		case domain.Approved:
			return task.Approve(userID, data, comments, now)
		case domain.Rejected:
			return task.Reject(userID, data, comments, now)
		case domain.Custom:
			return task.Complete(userID, oc.Name, data, comments, now)
		default:
			return domain.Event{}, fmt.Errorf("%w: outcome is required", domain.ErrValidation)
		}
	})
}

// ClaimTask starts work on a task on behalf of userID.
func (o *Orchestrator) ClaimTask(ctx context.Context, tenantID, taskID, userID string) (*domain.HumanTask, error) {
	task, err := o.load(ctx, tenantID, taskID)
	if err != nil {
		return nil, err
	}

	isMember, err := o.membership(ctx, task, userID)
	if err != nil {
		return nil, err
	}

	ev, err := task.Claim(userID, isMember, o.now())
	if err != nil {
		return nil, err
	}
	if err := o.save(ctx, task, ev); err != nil {
		return nil, err
	}
	return task, nil
}

// ReleaseTask hands an in-progress task back to its assignment. Only the
// user who claimed the task may release it.
func (o *Orchestrator) ReleaseTask(ctx context.Context, tenantID, taskID, userID string) (*domain.HumanTask, error) {
	return o.mutate(ctx, tenantID, taskID, func(task *domain.HumanTask, now time.Time) (domain.Event, error) {
		if task.Status() == domain.TaskStatusInProgress && task.ClaimedBy() != userID {
			return domain.Event{}, fmt.Errorf("%w: task %s is claimed by another user", domain.ErrPermissionDenied, task.ID())
		}
		return task.Release(userID, now)
	})
}

// DelegateTask reassigns a task from its current assignee to another user and
// notifies the new assignee.
func (o *Orchestrator) DelegateTask(ctx context.Context, tenantID, taskID, fromUser, toUser, reason string) (*domain.HumanTask, error) {
	task, err := o.mutate(ctx, tenantID, taskID, func(task *domain.HumanTask, now time.Time) (domain.Event, error) {
		return task.Delegate(fromUser, toUser, reason, now)
	})
	if err != nil {
		return nil, err
	}

	if err := o.notifier.SendTaskAssignedNotification(ctx, task); err != nil {
		slog.Error("failed to notify delegate", "task_id", taskID, "to", toUser, "error", err)
	}
	return task, nil
}

// AddComment records a comment and notifies the task's stakeholders.
func (o *Orchestrator) AddComment(ctx context.Context, tenantID, taskID, userID, text string) (*domain.HumanTask, error) {
	task, err := o.mutate(ctx, tenantID, taskID, func(task *domain.HumanTask, now time.Time) (domain.Event, error) {
		return task.AddComment(userID, text, now)
	})
	if err != nil {
		return nil, err
	}

	if err := o.notifier.SendTaskCommentNotification(ctx, task, userID, text); err != nil {
		slog.Error("failed to send comment notification", "task_id", taskID, "error", err)
	}
	return task, nil
}

// CancelTask ends a task without an outcome.
func (o *Orchestrator) CancelTask(ctx context.Context, tenantID, taskID, by, reason string) (*domain.HumanTask, error) {
	return o.mutate(ctx, tenantID, taskID, func(task *domain.HumanTask, now time.Time) (domain.Event, error) {
		return task.Cancel(by, reason, now)
	})
}

// EscalateTask reassigns a task outside the timeout schedule and notifies the
// new assignee.
func (o *Orchestrator) EscalateTask(
	ctx context.Context,
	tenantID, taskID string,
	reason domain.EscalationReason,
	escalateTo string,
) (*domain.HumanTask, error) {
	task, err := o.mutate(ctx, tenantID, taskID, func(task *domain.HumanTask, now time.Time) (domain.Event, error) {
		return task.Escalate(reason, escalateTo, now)
	})
	if err != nil {
		return nil, err
	}

	if err := o.notifier.SendTaskAssignedNotification(ctx, task); err != nil {
		slog.Error("failed to notify escalation target", "task_id", taskID, "to", escalateTo, "error", err)
	}
	return task, nil
}

// ExpireTask times a task out. It reports false, without writing anything,
// when the task had already reached a terminal status.
func (o *Orchestrator) ExpireTask(ctx context.Context, tenantID, taskID string) (bool, error) {
	task, err := o.load(ctx, tenantID, taskID)
	if err != nil {
		return false, err
	}

	ev, ok := task.Expire(o.now())
	if !ok {
		return false, nil
	}
	if err := o.save(ctx, task, ev); err != nil {
		return false, err
	}
	return true, nil
}

func (o *Orchestrator) mutate(
	ctx context.Context,
	tenantID, taskID string,
	command func(task *domain.HumanTask, now time.Time) (domain.Event, error),
) (*domain.HumanTask, error) {
	task, err := o.load(ctx, tenantID, taskID)
	if err != nil {
		return nil, err
	}

	ev, err := command(task, o.now())
	if err != nil {
		return nil, err
	}
	if err := o.save(ctx, task, ev); err != nil {
		return nil, err
	}
	return task, nil
}

func (o *Orchestrator) load(ctx context.Context, tenantID, taskID string) (*domain.HumanTask, error) {
	snap, err := o.store.FindByTaskID(ctx, taskID, tenantID)
	if err != nil {
		return nil, err
	}
	return domain.Rehydrate(*snap)
}

func (o *Orchestrator) save(ctx context.Context, task *domain.HumanTask, ev domain.Event) error {
	events := []domain.Event{ev}
	if err := o.store.Save(ctx, task, events); err != nil {
		return fmt.Errorf("save task %s: %w", task.ID(), err)
	}
	o.publish(ctx, events)

	slog.Info("task event",
		"task_id", task.ID(),
		"tenant_id", task.TenantID(),
		"event_type", ev.Type,
		"actor", ev.Actor,
		"status", task.Status(),
	)
	return nil
}

// publish delivers committed events. A failure is only logged: the events are
// already in the outbox and the relay sweep retries them.
func (o *Orchestrator) publish(ctx context.Context, events []domain.Event) {
	if err := o.publisher.Publish(ctx, events); err != nil {
		slog.Warn("event publication deferred to outbox relay", "count", len(events), "error", err)
	}
}

// membership resolves the one membership question Claim can ask, so the
// aggregate stays free of I/O.
func (o *Orchestrator) membership(ctx context.Context, task *domain.HumanTask, userID string) (domain.MembershipFunc, error) {
	a := task.Assignment()
	if a == nil || a.Kind == domain.AssigneeUser || o.members == nil || userID == "" {
		return nil, nil
	}

	ok, err := o.members.IsMember(ctx, task.TenantID(), userID, a.Kind, a.AssigneeID)
	if err != nil {
		return nil, fmt.Errorf("resolve membership of %s in %s %s: %w", userID, a.Kind, a.AssigneeID, err)
	}
	return func(kind domain.AssigneeKind, id string) bool {
		return ok && kind == a.Kind && id == a.AssigneeID
	}, nil
}
