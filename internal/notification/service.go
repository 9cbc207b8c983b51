package notification

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mtlprog/humantask/internal/domain"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

const (
	defaultReminderBatch = 100
	maxParallelSends     = 4
)

// ReminderStore finds tasks that need a reminder and records sent reminders.
// *repository.TaskRepository implements it.
type ReminderStore interface {
	FindDueForReminder(ctx context.Context, before time.Time, limit int) ([]*domain.TaskSnapshot, error)
	MarkReminded(ctx context.Context, taskID string, at time.Time) error
}

// Config configures the notification Service.
type Config struct {
	EmailDomain   string        // appended to assignee ids that are not addresses
	BaseURL       string        // used to build task links
	ReminderAfter time.Duration // quiet period before an open task is reminded
	ReminderBatch int
}

// Service sends task notifications by email and chat.
type Service struct {
	email EmailSender
	chat  ChatClient
	store ReminderStore
	cfg   Config
	Now   func() time.Time
}

// NewService creates a new notification Service.
func NewService(email EmailSender, chat ChatClient, store ReminderStore, cfg Config) *Service {
	if cfg.ReminderBatch <= 0 {
		cfg.ReminderBatch = defaultReminderBatch
	}
	return &Service{email: email, chat: chat, store: store, cfg: cfg, Now: time.Now}
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// SendTaskAssignedNotification emails the current assignee of a task.
func (s *Service) SendTaskAssignedNotification(ctx context.Context, task *domain.HumanTask) error {
	a := task.Assignment()
	if a == nil {
		return nil
	}
	return s.email.Send(ctx, Message{
		To:      []string{s.address(a.AssigneeID)},
		Subject: fmt.Sprintf("[%s] New task: %s", priorityLabel(task.Priority()), task.Title()),
		Body:    s.taskBody(task, "A task has been assigned to you."),
	})
}

// SendSlackNotification announces a task in the team channel.
func (s *Service) SendSlackNotification(ctx context.Context, task *domain.HumanTask) error {
	assignee := "nobody"
	if a := task.Assignment(); a != nil {
		assignee = fmt.Sprintf("%s %s", strings.ToLower(string(a.Kind)), a.AssigneeID)
	}
	text := fmt.Sprintf("New %s task *%s* for %s (priority %d): %s",
		task.TaskType(), task.Title(), assignee, task.Priority(), s.taskLink(task))
	return s.chat.Post(ctx, text)
}

// SendTaskCommentNotification emails every stakeholder of the task except the
// commenter. Stakeholders are the assignee and the user who claimed the task.
func (s *Service) SendTaskCommentNotification(ctx context.Context, task *domain.HumanTask, userID, comment string) error {
	recipients := stakeholders(task, userID)
	if len(recipients) == 0 {
		return nil
	}

	sends := make([]func(context.Context) error, 0, len(recipients))
	for _, r := range recipients {
		sends = append(sends, func(ctx context.Context) error {
			return s.email.Send(ctx, Message{
				To:      []string{s.address(r)},
				Subject: fmt.Sprintf("New comment on task: %s", task.Title()),
				Body:    s.taskBody(task, fmt.Sprintf("%s commented:\n\n%s", userID, comment)),
			})
		})
	}
	return fanOut(ctx, sends...)
}

// SendOverdueNotification warns the assignee by email and the team in chat.
func (s *Service) SendOverdueNotification(ctx context.Context, task *domain.HumanTask) error {
	due := "unknown"
	if d := task.DueDate(); d != nil {
		due = d.Format(time.RFC1123)
	}

	sends := []func(context.Context) error{
		func(ctx context.Context) error {
			return s.chat.Post(ctx, fmt.Sprintf("Task *%s* is overdue (due %s): %s", task.Title(), due, s.taskLink(task)))
		},
	}
	if a := task.Assignment(); a != nil {
		sends = append(sends, func(ctx context.Context) error {
			return s.email.Send(ctx, Message{
				To:      []string{s.address(a.AssigneeID)},
				Subject: fmt.Sprintf("Overdue task: %s", task.Title()),
				Body:    s.taskBody(task, fmt.Sprintf("This task was due %s.", due)),
			})
		})
	}
	return fanOut(ctx, sends...)
}

// SendTaskReminders emails the assignee of every open task that has seen no
// reminder for the configured quiet period, then records the reminder.
// Returns the number of reminders sent.
func (s *Service) SendTaskReminders(ctx context.Context) (int, error) {
	now := s.now()
	snaps, err := s.store.FindDueForReminder(ctx, now.Add(-s.cfg.ReminderAfter), s.cfg.ReminderBatch)
	if err != nil {
		return 0, fmt.Errorf("find tasks due for reminder: %w", err)
	}

	count := 0
	var errs error
	for _, snap := range snaps {
		if err := s.remind(ctx, snap, now); err != nil {
			slog.Error("failed to send task reminder", "task_id", snap.ID, "error", err)
			errs = multierr.Append(errs, fmt.Errorf("task %s: %w", snap.ID, err))
			continue
		}
		count++
	}

	if len(snaps) > 0 {
		slog.Info("sent task reminders", "total", len(snaps), "successful", count)
	}
	return count, errs
}

func (s *Service) remind(ctx context.Context, snap *domain.TaskSnapshot, now time.Time) error {
	task, err := domain.Rehydrate(*snap)
	if err != nil {
		return err
	}
	a := task.Assignment()
	if a == nil {
		return nil
	}

	err = s.email.Send(ctx, Message{
		To:      []string{s.address(a.AssigneeID)},
		Subject: fmt.Sprintf("Reminder: %s", task.Title()),
		Body:    s.taskBody(task, fmt.Sprintf("This task has been open for %s.", task.TimeOpen(now).Round(time.Minute))),
	})
	if err != nil {
		return err
	}
	return s.store.MarkReminded(ctx, task.ID(), now)
}

// address turns a principal id into an email address.
func (s *Service) address(id string) string {
	if strings.Contains(id, "@") || s.cfg.EmailDomain == "" {
		return id
	}
	return id + "@" + s.cfg.EmailDomain
}

func (s *Service) taskLink(task *domain.HumanTask) string {
	return strings.TrimRight(s.cfg.BaseURL, "/") + "/api/v1/tasks/" + task.ID()
}

func (s *Service) taskBody(task *domain.HumanTask, lead string) string {
	var b strings.Builder
	b.WriteString(lead)
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "Title: %s\n", task.Title())
	if task.Description() != "" {
		fmt.Fprintf(&b, "Description: %s\n", task.Description())
	}
	fmt.Fprintf(&b, "Type: %s\n", task.TaskType())
	fmt.Fprintf(&b, "Priority: %s\n", priorityLabel(task.Priority()))
	fmt.Fprintf(&b, "Status: %s\n", task.Status())
	if d := task.DueDate(); d != nil {
		fmt.Fprintf(&b, "Due: %s\n", d.Format(time.RFC1123))
	}
	fmt.Fprintf(&b, "\n%s\n", s.taskLink(task))
	return b.String()
}

func stakeholders(task *domain.HumanTask, exclude string) []string {
	seen := map[string]bool{exclude: true, "": true}
	var out []string
	add := func(id string) {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	if a := task.Assignment(); a != nil {
		add(a.AssigneeID)
	}
	add(task.ClaimedBy())
	return out
}

func priorityLabel(p int) string {
	switch {
	case p <= 1:
		return "LOW"
	case p == 2:
		return "NORMAL"
	case p == 3:
		return "MEDIUM"
	case p == 4:
		return "HIGH"
	default:
		return "CRITICAL"
	}
}

// fanOut runs every send concurrently and waits for all of them.
func fanOut(ctx context.Context, sends ...func(context.Context) error) error {
	errs := make([]error, len(sends))
	var g errgroup.Group
	g.SetLimit(maxParallelSends)
	for i, send := range sends {
		g.Go(func() error {
			errs[i] = send(ctx)
			return nil
		})
	}
	_ = g.Wait()
	return multierr.Combine(errs...)
}
