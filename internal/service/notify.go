package service

import (
	"context"
	"log/slog"

	"github.com/mtlprog/humantask/internal/domain"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

// notifyAssigned sends the assignment notice on every enabled channel.
// Channels run concurrently and all of them run to completion; their failures
// are combined so that none hides another.
func (o *Orchestrator) notifyAssigned(ctx context.Context, task *domain.HumanTask, cfg NotificationConfig) {
	var sends []func(context.Context) error
	if cfg.EmailEnabled() {
		sends = append(sends, func(ctx context.Context) error {
			return o.notifier.SendTaskAssignedNotification(ctx, task)
		})
	}
	if cfg.Slack {
		sends = append(sends, func(ctx context.Context) error {
			return o.notifier.SendSlackNotification(ctx, task)
		})
	}

	if err := joinAll(ctx, sends...); err != nil {
		for _, e := range multierr.Errors(err) {
			slog.Error("failed to send assignment notification", "task_id", task.ID(), "error", e)
		}
	}
}

// joinAll runs every fn concurrently, waits for all of them and combines their errors.
func joinAll(ctx context.Context, fns ...func(context.Context) error) error {
	errs := make([]error, len(fns))
	var g errgroup.Group
	for i, fn := range fns {
		g.Go(func() error {
			errs[i] = fn(ctx)
			return nil
		})
	}
	_ = g.Wait()
	return multierr.Combine(errs...)
}
