package service

import (
	"testing"
	"time"

	"github.com/mtlprog/humantask/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(v int) *int { return &v }

func TestDecodeTaskConfig(t *testing.T) {
	cfg, err := DecodeTaskConfig(map[string]any{
		"assignTo":     "ops",
		"assigneeType": "ROLE",
		"title":        "Deploy",
		"priority":     float64(2),
		"dueInHours":   "6",
		"escalationConfig": map[string]any{
			"escalateTo":         "cto",
			"escalateAfterHours": float64(4),
		},
		"notificationConfig": map[string]any{"email": false, "slack": true},
	})
	require.NoError(t, err)

	assert.Equal(t, domain.AssigneeRole, cfg.AssigneeType)
	assert.Equal(t, 2, *cfg.Priority)
	assert.Equal(t, 6, *cfg.DueInHours)
	require.NotNil(t, cfg.Escalation)
	assert.Equal(t, "cto", cfg.Escalation.EscalateTo)
	assert.Equal(t, 4, cfg.Escalation.EscalateAfterHours)
	assert.False(t, cfg.Notification.EmailEnabled())
	assert.True(t, cfg.Notification.Slack)
}

func TestDecodeTaskConfig_RejectsFractionalNumbers(t *testing.T) {
	tests := []struct {
		name string
		raw  map[string]any
	}{
		{"priority", map[string]any{"title": "x", "priority": 4.9}},
		{"dueInHours", map[string]any{"title": "x", "dueInHours": 1.5}},
		{"escalateAfterHours", map[string]any{
			"title":            "x",
			"escalationConfig": map[string]any{"escalateTo": "cto", "escalateAfterHours": 0.5},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeTaskConfig(tt.raw)
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrValidation)
			assert.Contains(t, err.Error(), "not a whole number")
		})
	}

	cfg, err := DecodeTaskConfig(map[string]any{"title": "x", "priority": 4.0, "dueInDays": float32(2)})
	require.NoError(t, err)
	assert.Equal(t, 4, *cfg.Priority)
	assert.Equal(t, 2, *cfg.DueInDays)
}

func TestWithDefaults(t *testing.T) {
	cfg := TaskConfig{Title: "x", Escalation: &EscalationConfig{EscalateTo: "boss"}}.withDefaults("fallback")

	assert.Equal(t, domain.AssigneeUser, cfg.AssigneeType)
	assert.Equal(t, DefaultTaskType, cfg.TaskType)
	assert.Equal(t, domain.DefaultPriority, *cfg.Priority)
	assert.Equal(t, "fallback", cfg.TenantID)
	assert.Equal(t, domain.SystemActor, cfg.CreatedBy)
	assert.Equal(t, DefaultEscalateAfterHours, cfg.Escalation.EscalateAfterHours)
	assert.True(t, cfg.Notification.EmailEnabled())
}

func TestWithDefaults_DoesNotAliasEscalation(t *testing.T) {
	esc := &EscalationConfig{EscalateTo: "boss"}
	_ = TaskConfig{Title: "x", Escalation: esc}.withDefaults("t")

	assert.Zero(t, esc.EscalateAfterHours)
}

func TestValidateTaskConfig(t *testing.T) {
	valid := func() TaskConfig {
		return TaskConfig{Title: "x"}.withDefaults("acme")
	}

	tests := []struct {
		name     string
		mutate   func(*TaskConfig)
		priority bool
	}{
		{name: "missing title", mutate: func(c *TaskConfig) { c.Title = "" }},
		{name: "missing tenant", mutate: func(c *TaskConfig) { c.TenantID = "" }},
		{name: "priority too low", mutate: func(c *TaskConfig) { c.Priority = intPtr(0) }, priority: true},
		{name: "priority too high", mutate: func(c *TaskConfig) { c.Priority = intPtr(6) }, priority: true},
		{name: "unknown assignee type", mutate: func(c *TaskConfig) { c.AssigneeType = "TEAM" }},
		{name: "group without id", mutate: func(c *TaskConfig) { c.AssigneeType = domain.AssigneeGroup }},
		{name: "both due dates", mutate: func(c *TaskConfig) {
			c.DueInHours = intPtr(1)
			c.DueInDays = intPtr(1)
		}},
		{name: "negative due", mutate: func(c *TaskConfig) { c.DueInDays = intPtr(-1) }},
		{name: "title with line break", mutate: func(c *TaskConfig) { c.Title = "Review\r\nBcc: someone@example.test" }},
		{name: "escalation without target", mutate: func(c *TaskConfig) {
			c.Escalation = &EscalationConfig{EscalateAfterHours: 1}
		}},
	}

	require.NoError(t, ValidateTaskConfig(valid()))

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)

			err := ValidateTaskConfig(cfg)
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrValidation)
			if tt.priority {
				assert.ErrorIs(t, err, domain.ErrInvalidPriority)
			}
		})
	}
}

func TestCalculateDueDate(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	assert.Nil(t, CalculateDueDate(TaskConfig{}, now))
	assert.Equal(t, now.Add(3*time.Hour), *CalculateDueDate(TaskConfig{DueInHours: intPtr(3)}, now))
	assert.Equal(t, now.Add(48*time.Hour), *CalculateDueDate(TaskConfig{DueInDays: intPtr(2)}, now))
}

func TestEscalationDelay(t *testing.T) {
	assert.Equal(t, 24*time.Hour, EscalationDelay(EscalationConfig{}))
	assert.Equal(t, 2*time.Hour, EscalationDelay(EscalationConfig{EscalateAfterHours: 2}))
}

func TestShouldExpire(t *testing.T) {
	now := time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)
	due := now.Add(-48 * time.Hour)

	assert.False(t, ShouldExpire(nil, time.Hour, now))
	assert.False(t, ShouldExpire(&due, 0, now))
	assert.False(t, ShouldExpire(&due, 72*time.Hour, now))
	assert.True(t, ShouldExpire(&due, 24*time.Hour, now))
}
