package events

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mtlprog/humantask/internal/domain"
	"go.uber.org/multierr"
)

const defaultRelayBatch = 100

// EventStore is the persistent side of the outbox.
// *repository.TaskEventRepository implements it.
type EventStore interface {
	FetchUnpublished(ctx context.Context, limit int) ([]domain.Event, error)
	MarkPublished(ctx context.Context, ids []string, at time.Time) error
	RecordFailure(ctx context.Context, ids []string, reason string) error
}

// Outbox publishes committed events and records their delivery. Events whose
// delivery fails stay unpublished and are retried by Relay.
type Outbox struct {
	store     EventStore
	publisher Publisher
	batch     int
	Now       func() time.Time
}

// NewOutbox creates a new Outbox.
func NewOutbox(store EventStore, publisher Publisher, batch int) *Outbox {
	if batch <= 0 {
		batch = defaultRelayBatch
	}
	return &Outbox{store: store, publisher: publisher, batch: batch, Now: time.Now}
}

func (o *Outbox) now() time.Time {
	if o.Now != nil {
		return o.Now().UTC()
	}
	return time.Now().UTC()
}

// Publish delivers events and marks them published.
func (o *Outbox) Publish(ctx context.Context, events []domain.Event) error {
	if len(events) == 0 {
		return nil
	}
	ids := eventIDs(events)

	if err := o.publisher.Publish(ctx, events); err != nil {
		if ferr := o.store.RecordFailure(ctx, ids, err.Error()); ferr != nil {
			slog.Error("failed to record event delivery failure", "count", len(ids), "error", ferr)
		}
		return err
	}
	return o.store.MarkPublished(ctx, ids, o.now())
}

// Relay republishes up to one batch of unpublished events, one event at a time
// so that a poisoned event does not block the others.
// Returns the number of events delivered.
func (o *Outbox) Relay(ctx context.Context) (int, error) {
	pending, err := o.store.FetchUnpublished(ctx, o.batch)
	if err != nil {
		return 0, fmt.Errorf("fetch unpublished events: %w", err)
	}
	if len(pending) == 0 {
		return 0, nil
	}

	var (
		delivered []string
		errs      error
	)
	for _, e := range pending {
		if err := o.publisher.Publish(ctx, []domain.Event{e}); err != nil {
			slog.Warn("event relay failed", "event_id", e.ID, "task_id", e.TaskID, "error", err)
			errs = multierr.Append(errs, fmt.Errorf("event %s: %w", e.ID, err))
			if ferr := o.store.RecordFailure(ctx, []string{e.ID}, err.Error()); ferr != nil {
				errs = multierr.Append(errs, ferr)
			}
			continue
		}
		delivered = append(delivered, e.ID)
	}

	if err := o.store.MarkPublished(ctx, delivered, o.now()); err != nil {
		return 0, multierr.Append(errs, err)
	}

	slog.Info("relayed task events",
		"total", len(pending),
		"delivered", len(delivered),
		"failed", len(pending)-len(delivered),
	)
	return len(delivered), errs
}

func eventIDs(events []domain.Event) []string {
	ids := make([]string, len(events))
	for i, e := range events {
		ids[i] = e.ID
	}
	return ids
}
