package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultPort is the default HTTP server port.
	DefaultPort = "8080"

	// DefaultDatabaseURL is empty; must be provided via flag or environment.
	DefaultDatabaseURL = ""

	// DefaultTenantID is used when a task configuration names no tenant.
	DefaultTenantID = "default-tenant"
)

// Config models the optional humantask YAML file.
type Config struct {
	Sweeps        SweepConfig        `yaml:"sweeps"`
	Notifications NotificationConfig `yaml:"notifications"`
	Escalation    EscalationConfig   `yaml:"escalation"`
	Defaults      DefaultsConfig     `yaml:"defaults"`
}

// SweepConfig holds the periodic sweep intervals.
type SweepConfig struct {
	OverdueInterval    time.Duration `yaml:"overdue_interval" validate:"gt=0"`
	EscalationInterval time.Duration `yaml:"escalation_interval" validate:"gt=0"`
	ReminderInterval   time.Duration `yaml:"reminder_interval" validate:"gt=0"`
	OutboxInterval     time.Duration `yaml:"outbox_interval" validate:"gt=0"`
	// ExpireOverdueAfter expires tasks that stay overdue this long. Zero disables it.
	ExpireOverdueAfter time.Duration `yaml:"expire_overdue_after" validate:"gte=0"`
}

// NotificationConfig configures outgoing messages.
type NotificationConfig struct {
	EmailFrom     string        `yaml:"email_from" validate:"required,email"`
	EmailDomain   string        `yaml:"email_domain" validate:"required,hostname"`
	ReminderAfter time.Duration `yaml:"reminder_after" validate:"gt=0"`
	BaseURL       string        `yaml:"base_url" validate:"required,url"`
}

// EscalationConfig holds fallback escalation targets keyed by task type.
type EscalationConfig struct {
	DefaultTargets map[string]string `yaml:"default_targets" validate:"dive,keys,required,endkeys,required"`
}

// DefaultsConfig holds values applied to task configurations that omit them.
type DefaultsConfig struct {
	TenantID string `yaml:"tenant_id" validate:"required"`
}

var validate = validator.New()

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Sweeps: SweepConfig{
			OverdueInterval:    5 * time.Minute,
			EscalationInterval: 10 * time.Minute,
			ReminderInterval:   60 * time.Minute,
			OutboxInterval:     time.Minute,
		},
		Notifications: NotificationConfig{
			EmailFrom:     "humantask@example.com",
			EmailDomain:   "example.com",
			ReminderAfter: 24 * time.Hour,
			BaseURL:       "http://localhost:" + DefaultPort,
		},
		Escalation: EscalationConfig{DefaultTargets: map[string]string{}},
		Defaults:   DefaultsConfig{TenantID: DefaultTenantID},
	}
}

// Load reads the YAML file at path over the defaults. An empty path yields Default().
func Load(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return FromYAML(data)
}

// FromYAML parses and validates config from raw YAML bytes. Keys missing from
// data keep their default values.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validate config: %w", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}
