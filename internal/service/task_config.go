package service

import (
	"fmt"
	"math"
	"reflect"

	"github.com/go-viper/mapstructure/v2"
	"github.com/mtlprog/humantask/internal/domain"
)

const (
	DefaultTaskType           = "approval"
	DefaultEscalateAfterHours = 24
)

// TaskConfig is the typed configuration a workflow node passes when it hands
// control to a human.
type TaskConfig struct {
	AssignTo     string              `mapstructure:"assignTo"`
	AssigneeType domain.AssigneeKind `mapstructure:"assigneeType" validate:"omitempty,oneof=USER GROUP ROLE"`
	TaskType     string              `mapstructure:"taskType" validate:"required,max=100"`
	Title        string              `mapstructure:"title" validate:"required,max=500,singleline"`
	Description  string              `mapstructure:"description"`
	Priority     *int                `mapstructure:"priority" validate:"omitempty,min=1,max=5"`
	DueInHours   *int                `mapstructure:"dueInHours" validate:"omitempty,min=1"`
	DueInDays    *int                `mapstructure:"dueInDays" validate:"omitempty,min=1"`
	FormData     map[string]any      `mapstructure:"formData"`
	Context      map[string]any      `mapstructure:"context"`
	TenantID     string              `mapstructure:"tenantId" validate:"required"`
	Escalation   *EscalationConfig   `mapstructure:"escalationConfig"`
	Notification NotificationConfig  `mapstructure:"notificationConfig"`
	CreatedBy    string              `mapstructure:"createdBy"`
}

// EscalationConfig asks for a timeout escalation after the task is created.
type EscalationConfig struct {
	EscalateTo         string `mapstructure:"escalateTo"`
	EscalateAfterHours int    `mapstructure:"escalateAfterHours" validate:"gte=0"`
}

// NotificationConfig selects the channels used for the assignment notice.
// Email is on unless explicitly disabled.
type NotificationConfig struct {
	Email *bool `mapstructure:"email"`
	Slack bool  `mapstructure:"slack"`
}

// EmailEnabled reports whether the email channel is on.
func (n NotificationConfig) EmailEnabled() bool {
	return n.Email == nil || *n.Email
}

// DecodeTaskConfig converts a generic node configuration map into a TaskConfig.
// Numbers arriving as float64 or strings are accepted; a fractional number for
// an integer field is an error. Unknown keys are ignored.
func DecodeTaskConfig(raw map[string]any) (TaskConfig, error) {
	var cfg TaskConfig
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &cfg,
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.DecodeHookFuncType(rejectFractionalInts),
	})
	if err != nil {
		return cfg, fmt.Errorf("create config decoder: %w", err)
	}
	if err := dec.Decode(raw); err != nil {
		return cfg, fmt.Errorf("%w: task config: %w", domain.ErrValidation, err)
	}
	return cfg, nil
}

// rejectFractionalInts stops mapstructure from truncating 4.9 to 4.
func rejectFractionalInts(from, to reflect.Type, data any) (any, error) {
	if from.Kind() != reflect.Float32 && from.Kind() != reflect.Float64 {
		return data, nil
	}
	for to.Kind() == reflect.Pointer {
		to = to.Elem()
	}
	switch to.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		f := reflect.ValueOf(data).Float()
		if f != math.Trunc(f) {
			return nil, fmt.Errorf("%v is not a whole number", data)
		}
	}
	return data, nil
}

// withDefaults fills every unset field.
func (c TaskConfig) withDefaults(tenantFallback string) TaskConfig {
	if c.AssigneeType == "" {
		c.AssigneeType = domain.AssigneeUser
	}
	if c.TaskType == "" {
		c.TaskType = DefaultTaskType
	}
	if c.Priority == nil {
		p := domain.DefaultPriority
		c.Priority = &p
	}
	if c.TenantID == "" {
		c.TenantID = tenantFallback
	}
	if c.CreatedBy == "" {
		c.CreatedBy = domain.SystemActor
	}
	if c.Escalation != nil {
		esc := *c.Escalation
		if esc.EscalateAfterHours == 0 {
			esc.EscalateAfterHours = DefaultEscalateAfterHours
		}
		c.Escalation = &esc
	}
	return c
}
