package notification

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/smtp"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mtlprog/humantask/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC)

type outbox struct {
	mu       sync.Mutex
	messages []Message
	failFor  string
}

func (o *outbox) Send(_ context.Context, msg Message) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.failFor != "" && msg.To[0] == o.failFor {
		return errors.New("mailbox full")
	}
	o.messages = append(o.messages, msg)
	return nil
}

func (o *outbox) recipients() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []string
	for _, m := range o.messages {
		out = append(out, m.To...)
	}
	sort.Strings(out)
	return out
}

type channel struct {
	mu    sync.Mutex
	posts []string
	err   error
}

func (c *channel) Post(_ context.Context, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.posts = append(c.posts, text)
	return c.err
}

type reminderStore struct {
	due      []*domain.TaskSnapshot
	before   time.Time
	reminded map[string]time.Time
}

func (r *reminderStore) FindDueForReminder(_ context.Context, before time.Time, _ int) ([]*domain.TaskSnapshot, error) {
	r.before = before
	return r.due, nil
}

func (r *reminderStore) MarkReminded(_ context.Context, taskID string, at time.Time) error {
	if r.reminded == nil {
		r.reminded = make(map[string]time.Time)
	}
	r.reminded[taskID] = at
	return nil
}

func newTask(t *testing.T, assignee string) *domain.HumanTask {
	t.Helper()
	due := t0.Add(24 * time.Hour)
	task, _, err := domain.NewHumanTask(domain.NewTaskParams{
		WorkflowRunID: "run-1",
		NodeID:        "node-1",
		TenantID:      "acme",
		TaskType:      "approval",
		Title:         "Approve budget",
		Priority:      4,
		DueDate:       &due,
		Assignment:    &domain.Assignment{Kind: domain.AssigneeUser, AssigneeID: assignee},
	}, t0)
	require.NoError(t, err)
	return task
}

func newTestService(mail *outbox, chat *channel, store *reminderStore) *Service {
	svc := NewService(mail, chat, store, Config{
		EmailDomain:   "example.com",
		BaseURL:       "https://tasks.example.com/",
		ReminderAfter: 24 * time.Hour,
	})
	svc.Now = func() time.Time { return t0.Add(48 * time.Hour) }
	return svc
}

func TestSendTaskAssignedNotification(t *testing.T) {
	mail := &outbox{}
	svc := newTestService(mail, &channel{}, &reminderStore{})
	task := newTask(t, "alice")

	require.NoError(t, svc.SendTaskAssignedNotification(context.Background(), task))

	require.Len(t, mail.messages, 1)
	msg := mail.messages[0]
	assert.Equal(t, []string{"alice@example.com"}, msg.To)
	assert.Equal(t, "[HIGH] New task: Approve budget", msg.Subject)
	assert.Contains(t, msg.Body, "https://tasks.example.com/api/v1/tasks/"+task.ID())
}

func TestSendTaskAssignedNotification_KeepsFullAddress(t *testing.T) {
	mail := &outbox{}
	svc := newTestService(mail, &channel{}, &reminderStore{})

	require.NoError(t, svc.SendTaskAssignedNotification(context.Background(), newTask(t, "bob@corp.io")))
	assert.Equal(t, []string{"bob@corp.io"}, mail.recipients())
}

func TestSendSlackNotification(t *testing.T) {
	chat := &channel{}
	svc := newTestService(&outbox{}, chat, &reminderStore{})

	require.NoError(t, svc.SendSlackNotification(context.Background(), newTask(t, "alice")))

	require.Len(t, chat.posts, 1)
	assert.Contains(t, chat.posts[0], "*Approve budget*")
	assert.Contains(t, chat.posts[0], "user alice")
}

func TestSendTaskCommentNotification(t *testing.T) {
	mail := &outbox{}
	svc := newTestService(mail, &channel{}, &reminderStore{})
	task, _, err := domain.NewHumanTask(domain.NewTaskParams{
		WorkflowRunID: "run-1",
		NodeID:        "node-1",
		TenantID:      "acme",
		TaskType:      "approval",
		Title:         "Pay invoice",
		Priority:      3,
		Assignment:    &domain.Assignment{Kind: domain.AssigneeGroup, AssigneeID: "finance"},
	}, t0)
	require.NoError(t, err)
	_, err = task.Claim("carol", func(domain.AssigneeKind, string) bool { return true }, t0)
	require.NoError(t, err)

	require.NoError(t, svc.SendTaskCommentNotification(context.Background(), task, "dave", "looks good"))
	assert.Equal(t, []string{"carol@example.com", "finance@example.com"}, mail.recipients())

	mail.messages = nil
	require.NoError(t, svc.SendTaskCommentNotification(context.Background(), task, "carol", "thanks"))
	assert.Equal(t, []string{"finance@example.com"}, mail.recipients())
}

func TestSendOverdueNotification_AllChannelsAttempted(t *testing.T) {
	mail := &outbox{}
	chat := &channel{err: errors.New("webhook gone")}
	svc := newTestService(mail, chat, &reminderStore{})

	err := svc.SendOverdueNotification(context.Background(), newTask(t, "alice"))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "webhook gone")
	assert.Len(t, chat.posts, 1)
	assert.Equal(t, []string{"alice@example.com"}, mail.recipients())
}

func TestSendTaskReminders(t *testing.T) {
	mail := &outbox{failFor: "bob@example.com"}
	alice := newTask(t, "alice").Snapshot()
	bob := newTask(t, "bob").Snapshot()
	store := &reminderStore{due: []*domain.TaskSnapshot{&alice, &bob}}
	svc := newTestService(mail, &channel{}, store)

	n, err := svc.SendTaskReminders(context.Background())

	require.Error(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, t0.Add(24*time.Hour), store.before)
	assert.Equal(t, t0.Add(48*time.Hour), store.reminded[alice.ID])
	assert.NotContains(t, store.reminded, bob.ID)
	assert.Contains(t, mail.messages[0].Body, "open for 48h0m0s")
}

func TestSMTPSender(t *testing.T) {
	var (
		gotAddr string
		gotTo   []string
		gotMsg  string
	)
	s := NewSMTPSender(SMTPConfig{Host: "mail.local", Port: "2525", From: "humantask@example.com"})
	s.send = func(addr string, _ smtp.Auth, _ string, to []string, msg []byte) error {
		gotAddr, gotTo, gotMsg = addr, to, string(msg)
		return nil
	}

	err := s.Send(context.Background(), Message{To: []string{"a@example.com"}, Subject: "Hi", Body: "line1\nline2"})

	require.NoError(t, err)
	assert.Equal(t, "mail.local:2525", gotAddr)
	assert.Equal(t, []string{"a@example.com"}, gotTo)
	assert.Contains(t, gotMsg, "Subject: Hi\r\n")
	assert.Contains(t, gotMsg, "line1\r\nline2")
}

func TestSMTPSender_HeaderValuesStayOnOneLine(t *testing.T) {
	var gotMsg string
	s := NewSMTPSender(SMTPConfig{Host: "mail.local", Port: "2525", From: "humantask@example.com"})
	s.send = func(_ string, _ smtp.Auth, _ string, _ []string, msg []byte) error {
		gotMsg = string(msg)
		return nil
	}

	err := s.Send(context.Background(), Message{
		To:      []string{"a@example.com"},
		Subject: "[MEDIUM] New task: Review\r\nBcc: attacker@example.test",
		Body:    "body",
	})
	require.NoError(t, err)

	headers, _, found := strings.Cut(gotMsg, "\r\n\r\n")
	require.True(t, found)
	for _, line := range strings.Split(headers, "\r\n") {
		assert.False(t, strings.HasPrefix(line, "Bcc:"), "unexpected header line %q", line)
	}
	assert.Contains(t, headers, "Subject: [MEDIUM] New task: Review  Bcc: attacker@example.test\r\n")
}

func TestSMTPSender_EncodesNonASCIISubject(t *testing.T) {
	var gotMsg string
	s := NewSMTPSender(SMTPConfig{Host: "mail.local", Port: "2525", From: "humantask@example.com"})
	s.send = func(_ string, _ smtp.Auth, _ string, _ []string, msg []byte) error {
		gotMsg = string(msg)
		return nil
	}

	require.NoError(t, s.Send(context.Background(), Message{To: []string{"a@example.com"}, Subject: "Prüfung", Body: "x"}))
	assert.Contains(t, gotMsg, "Subject: =?utf-8?q?")
}

func TestSlackWebhook(t *testing.T) {
	var calls atomic.Int32
	var got slackPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	hook := NewSlackWebhook(srv.URL)
	hook.backoff = time.Millisecond

	require.NoError(t, hook.Post(context.Background(), "hello"))
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, "hello", got.Text)
}

func TestSlackWebhook_BadRequestNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		http.Error(w, "invalid_payload", http.StatusBadRequest)
	}))
	defer srv.Close()

	hook := NewSlackWebhook(srv.URL)
	hook.backoff = time.Millisecond

	err := hook.Post(context.Background(), "hello")
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestPriorityLabel(t *testing.T) {
	assert.Equal(t, "LOW", priorityLabel(1))
	assert.Equal(t, "MEDIUM", priorityLabel(3))
	assert.Equal(t, "CRITICAL", priorityLabel(5))
}
