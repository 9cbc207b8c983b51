// Package escalation schedules timeout escalations and fires them when due.
package escalation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mtlprog/humantask/internal/domain"
	"github.com/sethvargo/go-retry"
	"go.uber.org/multierr"
)

const (
	defaultBatch      = 50
	defaultStaleAfter = 15 * time.Minute
	conflictRetries   = 2
)

// ScheduleStore persists scheduled escalations.
// *repository.EscalationRepository implements it.
type ScheduleStore interface {
	Schedule(ctx context.Context, e domain.ScheduledEscalation) (domain.ScheduledEscalation, error)
	ClaimDue(ctx context.Context, now, staleBefore time.Time, limit int) ([]domain.ScheduledEscalation, error)
	Finish(ctx context.Context, id string, status domain.ScheduleStatus, reason string, at time.Time) error
}

// TaskStore loads and saves tasks.
type TaskStore interface {
	FindByTaskID(ctx context.Context, taskID, tenantID string) (*domain.TaskSnapshot, error)
	Save(ctx context.Context, task *domain.HumanTask, events []domain.Event) error
}

// Publisher hands committed events downstream.
type Publisher interface {
	Publish(ctx context.Context, events []domain.Event) error
}

// Notifier tells the new assignee about the task.
type Notifier interface {
	SendTaskAssignedNotification(ctx context.Context, task *domain.HumanTask) error
}

// Options tunes the escalation Service.
type Options struct {
	Batch      int           // rows claimed per run
	StaleAfter time.Duration // PROCESSING rows older than this are claimed again
}

// Service schedules escalations and executes the due ones.
type Service struct {
	schedules ScheduleStore
	tasks     TaskStore
	publisher Publisher
	notifier  Notifier
	opts      Options
	Now       func() time.Time
}

// NewService creates a new escalation Service.
func NewService(schedules ScheduleStore, tasks TaskStore, publisher Publisher, notifier Notifier, opts Options) *Service {
	if opts.Batch <= 0 {
		opts.Batch = defaultBatch
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = defaultStaleAfter
	}
	return &Service{
		schedules: schedules,
		tasks:     tasks,
		publisher: publisher,
		notifier:  notifier,
		opts:      opts,
		Now:       time.Now,
	}
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// ScheduleEscalation records an escalation that fires after delay.
func (s *Service) ScheduleEscalation(ctx context.Context, taskID, tenantID, escalateTo string, delay time.Duration) error {
	e, err := s.schedules.Schedule(ctx, domain.ScheduledEscalation{
		TaskID:     taskID,
		TenantID:   tenantID,
		EscalateTo: escalateTo,
		DueAt:      s.now().Add(delay),
	})
	if err != nil {
		return err
	}

	slog.Info("escalation scheduled",
		"escalation_id", e.ID,
		"task_id", taskID,
		"escalate_to", escalateTo,
		"due_at", e.DueAt,
	)
	return nil
}

// ProcessEscalations fires every due escalation. Escalations of tasks that
// already finished are skipped. Failures are recorded per escalation and
// combined into the returned error.
// Returns the number of tasks escalated.
func (s *Service) ProcessEscalations(ctx context.Context) (int, error) {
	now := s.now()
	due, err := s.schedules.ClaimDue(ctx, now, now.Add(-s.opts.StaleAfter), s.opts.Batch)
	if err != nil {
		return 0, fmt.Errorf("claim due escalations: %w", err)
	}

	if len(due) == 0 {
		slog.Debug("no due escalations")
		return 0, nil
	}

	escalated := 0
	var errs error
	for _, e := range due {
		status, err := s.fire(ctx, e)
		reason := ""
		if err != nil {
			reason = err.Error()
			errs = multierr.Append(errs, fmt.Errorf("escalation %s (task %s): %w", e.ID, e.TaskID, err))
			slog.Error("failed to escalate task",
				"escalation_id", e.ID,
				"task_id", e.TaskID,
				"error", err,
			)
		}
		if status == domain.ScheduleProcessed {
			escalated++
		}

		if err := s.schedules.Finish(ctx, e.ID, status, reason, s.now()); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("finish escalation %s: %w", e.ID, err))
		}
	}

	slog.Info("processed escalations",
		"total", len(due),
		"escalated", escalated,
	)
	return escalated, errs
}

// fire escalates the task of e, reloading it when a concurrent writer wins.
func (s *Service) fire(ctx context.Context, e domain.ScheduledEscalation) (domain.ScheduleStatus, error) {
	var (
		task   *domain.HumanTask
		events []domain.Event
	)
	b := retry.WithMaxRetries(conflictRetries, retry.NewConstant(10*time.Millisecond))
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		task, events = nil, nil

		snap, err := s.tasks.FindByTaskID(ctx, e.TaskID, e.TenantID)
		if err != nil {
			return err
		}
		t, err := domain.Rehydrate(*snap)
		if err != nil {
			return err
		}
		if t.Status().IsTerminal() {
			return nil
		}

		ev, err := t.Escalate(domain.EscalationTimeout, e.EscalateTo, s.now())
		if err != nil {
			return err
		}
		if err := s.tasks.Save(ctx, t, []domain.Event{ev}); err != nil {
			if errors.Is(err, domain.ErrConcurrencyConflict) {
				return retry.RetryableError(err)
			}
			return err
		}
		task, events = t, []domain.Event{ev}
		return nil
	})
	if err != nil {
		return domain.ScheduleFailed, err
	}
	if task == nil {
		slog.Info("escalation skipped, task already finished", "task_id", e.TaskID)
		return domain.ScheduleSkipped, nil
	}

	if err := s.publisher.Publish(ctx, events); err != nil {
		slog.Warn("event publication deferred to outbox relay", "task_id", task.ID(), "error", err)
	}
	if err := s.notifier.SendTaskAssignedNotification(ctx, task); err != nil {
		slog.Error("failed to notify escalation target", "task_id", task.ID(), "to", e.EscalateTo, "error", err)
	}

	slog.Info("task escalated",
		"task_id", task.ID(),
		"tenant_id", task.TenantID(),
		"escalate_to", e.EscalateTo,
	)
	return domain.ScheduleProcessed, nil
}
