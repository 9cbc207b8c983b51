package service

import (
	"time"
)

// CalculateDueDate turns the relative due date of a task configuration into an
// absolute time. Returns nil when the configuration sets no due date.
func CalculateDueDate(cfg TaskConfig, now time.Time) *time.Time {
	var d time.Duration
	switch {
	case cfg.DueInHours != nil:
		d = time.Duration(*cfg.DueInHours) * time.Hour
	case cfg.DueInDays != nil:
		d = time.Duration(*cfg.DueInDays) * 24 * time.Hour
	default:
		return nil
	}

	due := now.Add(d)
	return &due
}

// EscalationDelay returns how long after creation the escalation fires.
func EscalationDelay(cfg EscalationConfig) time.Duration {
	hours := cfg.EscalateAfterHours
	if hours <= 0 {
		hours = DefaultEscalateAfterHours
	}
	return time.Duration(hours) * time.Hour
}

// ShouldExpire reports whether an overdue task has been overdue longer than grace.
// A zero grace disables expiry.
func ShouldExpire(due *time.Time, grace time.Duration, now time.Time) bool {
	if due == nil || grace <= 0 {
		return false
	}
	return now.Sub(*due) > grace
}
