package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mtlprog/humantask/internal/domain"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

// SweepIntervals configures the periodic sweeps. A zero interval disables a sweep.
type SweepIntervals struct {
	Overdue            time.Duration
	Escalation         time.Duration
	Reminder           time.Duration
	Outbox             time.Duration
	ExpireOverdueAfter time.Duration
}

// sweep is one periodic job with its single-flight guard.
type sweep struct {
	name     string
	interval time.Duration
	run      func(ctx context.Context) (int, error)
	running  atomic.Bool
}

// Sweeper runs the background sweeps. Each sweep skips a tick while its
// previous run is still in flight, and failures are logged, never propagated,
// so one bad run cannot stop future ticks.
type Sweeper struct {
	store        TaskStore
	notifier     Notifier
	escalator    Escalator
	relay        OutboxRelay
	orchestrator *Orchestrator
	intervals    SweepIntervals

	overdue, escalations, reminders, outbox *sweep
}

// NewSweeper creates a new Sweeper.
func NewSweeper(
	store TaskStore,
	notifier Notifier,
	escalator Escalator,
	relay OutboxRelay,
	orchestrator *Orchestrator,
	intervals SweepIntervals,
) *Sweeper {
	s := &Sweeper{
		store:        store,
		notifier:     notifier,
		escalator:    escalator,
		relay:        relay,
		orchestrator: orchestrator,
		intervals:    intervals,
	}
	s.overdue = &sweep{name: "overdue", interval: intervals.Overdue, run: s.processOverdue}
	s.escalations = &sweep{name: "escalation", interval: intervals.Escalation, run: s.escalator.ProcessEscalations}
	s.reminders = &sweep{name: "reminder", interval: intervals.Reminder, run: s.notifier.SendTaskReminders}
	s.outbox = &sweep{name: "outbox", interval: intervals.Outbox, run: s.relay.Relay}
	return s
}

// Run starts every enabled sweep and blocks until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, sw := range []*sweep{s.overdue, s.escalations, s.reminders, s.outbox} {
		if sw.interval <= 0 {
			slog.Info("sweep disabled", "sweep", sw.name)
			continue
		}
		g.Go(func() error {
			s.loop(ctx, sw)
			return nil
		})
	}
	return g.Wait()
}

func (s *Sweeper) loop(ctx context.Context, sw *sweep) {
	ticker := time.NewTicker(sw.interval)
	defer ticker.Stop()

	var inflight sync.WaitGroup
	defer inflight.Wait()

	slog.Info("sweep started", "sweep", sw.name, "interval", sw.interval)
	for {
		select {
		case <-ctx.Done():
			slog.Info("sweep stopped", "sweep", sw.name)
			return
		case <-ticker.C:
			// Each tick runs in its own goroutine so a slow run cannot delay
			// the ticker; the guard turns overlapping ticks into skips.
			inflight.Add(1)
			go func() {
				defer inflight.Done()
				s.tick(ctx, sw)
			}()
		}
	}
}

// tick runs sw once unless a previous run is still in flight. It reports
// whether the sweep ran.
func (s *Sweeper) tick(ctx context.Context, sw *sweep) bool {
	if !sw.running.CompareAndSwap(false, true) {
		slog.Warn("sweep still running, skipping tick", "sweep", sw.name)
		return false
	}
	defer sw.running.Store(false)

	start := time.Now()
	n, err := sw.run(ctx)
	if err != nil {
		slog.Error("sweep failed",
			"sweep", sw.name,
			"processed", n,
			"duration", time.Since(start),
			"error", err,
		)
		return true
	}
	slog.Info("sweep completed",
		"sweep", sw.name,
		"processed", n,
		"duration", time.Since(start),
	)
	return true
}

// RunOverdueOnce runs the overdue sweep now. Used by the CLI.
func (s *Sweeper) RunOverdueOnce(ctx context.Context) (int, error) { return s.overdue.run(ctx) }

// RunEscalationsOnce runs the escalation sweep now.
func (s *Sweeper) RunEscalationsOnce(ctx context.Context) (int, error) { return s.escalations.run(ctx) }

// RunRemindersOnce runs the reminder sweep now.
func (s *Sweeper) RunRemindersOnce(ctx context.Context) (int, error) { return s.reminders.run(ctx) }

// RunOutboxOnce runs the outbox relay now.
func (s *Sweeper) RunOutboxOnce(ctx context.Context) (int, error) { return s.outbox.run(ctx) }

// processOverdue notifies about every overdue task across tenants and expires
// those overdue longer than the configured grace period.
// Returns the number of tasks handled, and an error if any task failed.
func (s *Sweeper) processOverdue(ctx context.Context) (int, error) {
	snaps, err := s.store.FindOverdueTasks(ctx, "")
	if err != nil {
		return 0, fmt.Errorf("find overdue tasks: %w", err)
	}

	if len(snaps) == 0 {
		slog.Debug("no overdue tasks found")
		return 0, nil
	}

	now := s.orchestrator.now()
	count := 0
	var errs error
	for _, snap := range snaps {
		if err := s.processOverdueTask(ctx, snap, now); err != nil {
			slog.Error("failed to process overdue task",
				"task_id", snap.ID,
				"error", err,
			)
			errs = multierr.Append(errs, fmt.Errorf("task %s: %w", snap.ID, err))
			continue
		}
		count++
	}

	slog.Info("processed overdue tasks",
		"total", len(snaps),
		"successful", count,
		"failed", len(snaps)-count,
	)
	return count, errs
}

func (s *Sweeper) processOverdueTask(ctx context.Context, snap *domain.TaskSnapshot, now time.Time) error {
	if ShouldExpire(snap.DueDate, s.intervals.ExpireOverdueAfter, now) {
		if _, err := s.orchestrator.ExpireTask(ctx, snap.TenantID, snap.ID); err != nil {
			return fmt.Errorf("expire: %w", err)
		}
		return nil
	}

	task, err := domain.Rehydrate(*snap)
	if err != nil {
		return err
	}
	if err := s.notifier.SendOverdueNotification(ctx, task); err != nil {
		return fmt.Errorf("send overdue notification: %w", err)
	}
	return nil
}
