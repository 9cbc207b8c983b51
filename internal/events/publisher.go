// Package events delivers committed task events to downstream consumers.
package events

import (
	"context"
	"log/slog"

	"github.com/mtlprog/humantask/internal/domain"
	"go.uber.org/multierr"
)

// Publisher hands events to one consumer.
type Publisher interface {
	Publish(ctx context.Context, events []domain.Event) error
}

// LogPublisher writes every event to the structured log.
type LogPublisher struct {
	logger *slog.Logger
}

// NewLogPublisher creates a LogPublisher. A nil logger means slog.Default().
func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(ctx context.Context, events []domain.Event) error {
	for _, e := range events {
		p.logger.InfoContext(ctx, "task event published",
			"event_id", e.ID,
			"event_type", e.Type,
			"task_id", e.TaskID,
			"tenant_id", e.TenantID,
			"workflow_run_id", e.WorkflowRunID,
			"actor", e.Actor,
			"system", e.IsSystemEvent(),
		)
	}
	return nil
}

// MultiPublisher publishes to every publisher in order. All of them are
// attempted; their failures are combined.
type MultiPublisher []Publisher

func (m MultiPublisher) Publish(ctx context.Context, events []domain.Event) error {
	var errs error
	for _, p := range m {
		errs = multierr.Append(errs, p.Publish(ctx, events))
	}
	return errs
}
