package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mtlprog/humantask/internal/domain"
)

// memStore is an in-memory TaskStore with the same version check as the
// PostgreSQL repository.
type memStore struct {
	mu      sync.Mutex
	tasks   map[string]domain.TaskSnapshot
	events  []domain.Event
	saveErr error
}

func newMemStore() *memStore {
	return &memStore{tasks: make(map[string]domain.TaskSnapshot)}
}

func (m *memStore) Save(_ context.Context, task *domain.HumanTask, events []domain.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.saveErr != nil {
		return m.saveErr
	}
	stored, exists := m.tasks[task.ID()]
	switch {
	case task.Version() == 0 && exists:
		return fmt.Errorf("%w: task %s already exists", domain.ErrConcurrencyConflict, task.ID())
	case task.Version() > 0 && (!exists || stored.Version != task.Version()):
		return fmt.Errorf("%w: task %s at version %d", domain.ErrConcurrencyConflict, task.ID(), task.Version())
	}

	task.MarkSaved()
	m.tasks[task.ID()] = task.Snapshot()
	m.events = append(m.events, events...)
	return nil
}

func (m *memStore) FindByTaskID(_ context.Context, taskID, tenantID string) (*domain.TaskSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.tasks[taskID]
	if !ok || s.TenantID != tenantID {
		return nil, domain.ErrTaskNotFound
	}
	return &s, nil
}

func (m *memStore) filter(keep func(domain.TaskSnapshot) bool) []*domain.TaskSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*domain.TaskSnapshot
	for _, s := range m.tasks {
		if keep(s) {
			out = append(out, &s)
		}
	}
	return out
}

func (m *memStore) FindAssignedToUser(_ context.Context, userID, tenantID string, statuses []domain.TaskStatus) ([]*domain.TaskSnapshot, error) {
	return m.filter(func(s domain.TaskSnapshot) bool {
		if s.TenantID != tenantID || s.Assignment == nil || s.Assignment.AssigneeID != userID {
			return false
		}
		if len(statuses) == 0 {
			return true
		}
		for _, st := range statuses {
			if s.Status == st {
				return true
			}
		}
		return false
	}), nil
}

func (m *memStore) FindByWorkflowRun(_ context.Context, runID, tenantID string) ([]*domain.TaskSnapshot, error) {
	return m.filter(func(s domain.TaskSnapshot) bool {
		return s.TenantID == tenantID && s.WorkflowRunID == runID
	}), nil
}

func (m *memStore) FindOverdueTasks(_ context.Context, tenantID string) ([]*domain.TaskSnapshot, error) {
	now := time.Now()
	return m.filter(func(s domain.TaskSnapshot) bool {
		return (tenantID == "" || s.TenantID == tenantID) &&
			!s.Status.IsTerminal() && s.DueDate != nil && s.DueDate.Before(now)
	}), nil
}

func (m *memStore) FindPending(_ context.Context, tenantID string) ([]*domain.TaskSnapshot, error) {
	return m.filter(func(s domain.TaskSnapshot) bool {
		return s.TenantID == tenantID && !s.Status.IsTerminal()
	}), nil
}

func (m *memStore) CountActiveTasksForUser(ctx context.Context, userID, tenantID string) (int, error) {
	snaps, err := m.FindAssignedToUser(ctx, userID, tenantID, domain.ActiveStatuses)
	return len(snaps), err
}

func (m *memStore) GetUserStats(_ context.Context, tenantID, userID string) (*domain.UserTaskStats, error) {
	stats := &domain.UserTaskStats{UserID: userID, TenantID: tenantID}
	for _, s := range m.filter(func(s domain.TaskSnapshot) bool {
		return s.TenantID == tenantID && s.Assignment != nil && s.Assignment.AssigneeID == userID
	}) {
		switch s.Status {
		case domain.TaskStatusAssigned:
			stats.Assigned++
		case domain.TaskStatusInProgress:
			stats.InProgress++
		case domain.TaskStatusEscalated:
			stats.Escalated++
		case domain.TaskStatusCompleted:
			stats.Completed++
		}
	}
	return stats, nil
}

func (m *memStore) StatusCounts(_ context.Context, tenantID string) (map[domain.TaskStatus]int, error) {
	counts := make(map[domain.TaskStatus]int)
	for _, s := range m.filter(func(s domain.TaskSnapshot) bool { return s.TenantID == tenantID }) {
		counts[s.Status]++
	}
	return counts, nil
}

func (m *memStore) put(s domain.TaskSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks[s.ID] = s
}

func (m *memStore) get(id string) domain.TaskSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tasks[id]
}

// recordingNotifier records every notification it is asked to send.
type recordingNotifier struct {
	mu       sync.Mutex
	assigned []string
	slack    []string
	comments []string
	overdue  []string
	failWith error
	reminded int
}

func (n *recordingNotifier) SendTaskAssignedNotification(_ context.Context, task *domain.HumanTask) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.assigned = append(n.assigned, task.ID())
	return n.failWith
}

func (n *recordingNotifier) SendSlackNotification(_ context.Context, task *domain.HumanTask) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.slack = append(n.slack, task.ID())
	return n.failWith
}

func (n *recordingNotifier) SendTaskCommentNotification(_ context.Context, _ *domain.HumanTask, userID, comment string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.comments = append(n.comments, userID+": "+comment)
	return n.failWith
}

func (n *recordingNotifier) SendOverdueNotification(_ context.Context, task *domain.HumanTask) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.overdue = append(n.overdue, task.ID())
	return n.failWith
}

func (n *recordingNotifier) SendTaskReminders(context.Context) (int, error) {
	return n.reminded, nil
}

type scheduled struct {
	taskID, tenantID, escalateTo string
	delay                        time.Duration
}

// recordingEscalator records scheduled escalations.
type recordingEscalator struct {
	mu        sync.Mutex
	scheduled []scheduled
	failWith  error
	process   func(ctx context.Context) (int, error)
}

func (e *recordingEscalator) ScheduleEscalation(_ context.Context, taskID, tenantID, escalateTo string, delay time.Duration) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.failWith != nil {
		return e.failWith
	}
	e.scheduled = append(e.scheduled, scheduled{taskID, tenantID, escalateTo, delay})
	return nil
}

func (e *recordingEscalator) ProcessEscalations(ctx context.Context) (int, error) {
	if e.process != nil {
		return e.process(ctx)
	}
	return 0, nil
}

// recordingPublisher records published events.
type recordingPublisher struct {
	mu       sync.Mutex
	events   []domain.Event
	failWith error
}

func (p *recordingPublisher) Publish(_ context.Context, events []domain.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failWith != nil {
		return p.failWith
	}
	p.events = append(p.events, events...)
	return nil
}

func (p *recordingPublisher) types() []domain.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.EventType, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

type nopRelay struct{}

func (nopRelay) Relay(context.Context) (int, error) { return 0, nil }

// staticMembers answers membership from a fixed table keyed by "user/kind/principal".
type staticMembers map[string]bool

func (m staticMembers) IsMember(_ context.Context, _, userID string, kind domain.AssigneeKind, principalID string) (bool, error) {
	if m == nil {
		return false, errors.New("membership lookup unavailable")
	}
	return m[userID+"/"+string(kind)+"/"+principalID], nil
}
