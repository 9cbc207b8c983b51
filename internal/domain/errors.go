package domain

import "errors"

// Domain-specific errors for business logic validation.
var (
	// Task errors
	ErrTaskNotFound        = errors.New("task not found")
	ErrInvalidState        = errors.New("invalid task state")
	ErrConcurrencyConflict = errors.New("task was modified concurrently")

	// Permission errors
	ErrPermissionDenied = errors.New("permission denied")

	// Escalation errors
	ErrEscalationNotFound = errors.New("escalation not found")

	// Validation errors
	ErrValidation      = errors.New("validation failed")
	ErrInvalidPriority = errors.New("invalid task priority")
	ErrEmptyComment    = errors.New("comment is required")
)
