package domain

import (
	"fmt"
	"strings"
)

// OutcomeKind is the persisted discriminator of an Outcome.
type OutcomeKind string

const (
	OutcomeApproved OutcomeKind = "APPROVED"
	OutcomeRejected OutcomeKind = "REJECTED"
	OutcomeCustom   OutcomeKind = "COMPLETED"
)

// Outcome is the result a human recorded when finishing a task.
// The set of implementations is closed: Approved, Rejected and Custom.
type Outcome interface {
	Kind() OutcomeKind
	Label() string
	isOutcome()
}

// Approved is the outcome of an approval.
type Approved struct{}

// Rejected is the outcome of a rejection.
type Rejected struct{}

// Custom is a completion with a free-form result name, e.g. "reviewed".
type Custom struct {
	Name string
}

func (Approved) Kind() OutcomeKind { return OutcomeApproved }
func (Rejected) Kind() OutcomeKind { return OutcomeRejected }
func (Custom) Kind() OutcomeKind   { return OutcomeCustom }

func (Approved) Label() string { return string(OutcomeApproved) }
func (Rejected) Label() string { return string(OutcomeRejected) }
func (c Custom) Label() string { return c.Name }

func (Approved) isOutcome() {}
func (Rejected) isOutcome() {}
func (Custom) isOutcome()   {}

// ParseOutcome converts a wire value into an Outcome.
// "APPROVED" and "REJECTED" (any case) map to their variants; anything else is Custom.
func ParseOutcome(s string) (Outcome, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("%w: outcome is required", ErrValidation)
	}
	switch OutcomeKind(strings.ToUpper(s)) {
	case OutcomeApproved:
		return Approved{}, nil
	case OutcomeRejected:
		return Rejected{}, nil
	default:
		return Custom{Name: s}, nil
	}
}

// outcomeFromStored rebuilds an Outcome from its persisted kind and label.
func outcomeFromStored(kind OutcomeKind, label string) Outcome {
	switch kind {
	case OutcomeApproved:
		return Approved{}
	case OutcomeRejected:
		return Rejected{}
	case OutcomeCustom:
		return Custom{Name: label}
	default:
		return nil
	}
}
