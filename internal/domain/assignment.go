package domain

import "time"

// SystemActor is the identity recorded for transitions not caused by a user.
const SystemActor = "SYSTEM"

// AssigneeKind tells whether an assignment names a user, a group or a role.
type AssigneeKind string

const (
	AssigneeUser  AssigneeKind = "USER"
	AssigneeGroup AssigneeKind = "GROUP"
	AssigneeRole  AssigneeKind = "ROLE"
)

// IsValid checks if the kind is one of the allowed values.
func (k AssigneeKind) IsValid() bool {
	switch k {
	case AssigneeUser, AssigneeGroup, AssigneeRole:
		return true
	default:
		return false
	}
}

// MembershipFunc reports whether the acting user belongs to the given group or role.
// Resolving membership is the caller's job; the aggregate only asks.
type MembershipFunc func(kind AssigneeKind, groupOrRoleID string) bool

// Assignment designates who may currently act on a task.
type Assignment struct {
	Kind             AssigneeKind `json:"kind"`
	AssigneeID       string       `json:"assignee_id"`
	AssignedBy       string       `json:"assigned_by"`
	AssignedAt       time.Time    `json:"assigned_at"`
	DelegationReason string       `json:"delegation_reason,omitempty"`
}

// NewUserAssignment creates an assignment to a single user.
func NewUserAssignment(userID, assignedBy string, at time.Time) Assignment {
	return Assignment{Kind: AssigneeUser, AssigneeID: userID, AssignedBy: assignedBy, AssignedAt: at}
}

// PermitsClaim reports whether userID may claim a task under this assignment.
// USER assignments compare identifiers; GROUP and ROLE assignments defer to
// isMember and deny when no predicate is supplied.
func (a Assignment) PermitsClaim(userID string, isMember MembershipFunc) bool {
	if userID == "" {
		return false
	}
	switch a.Kind {
	case AssigneeUser:
		return a.AssigneeID == userID
	case AssigneeGroup, AssigneeRole:
		if isMember == nil {
			return false
		}
		return isMember(a.Kind, a.AssigneeID)
	default:
		return false
	}
}

// EscalationReason explains why a task was escalated.
type EscalationReason string

const (
	EscalationTimeout        EscalationReason = "TIMEOUT"
	EscalationManual         EscalationReason = "MANUAL"
	EscalationSLABreach      EscalationReason = "SLA_BREACH"
	EscalationPriorityChange EscalationReason = "PRIORITY_CHANGE"
)

// IsValid checks if the reason is one of the allowed values.
func (r EscalationReason) IsValid() bool {
	switch r {
	case EscalationTimeout, EscalationManual, EscalationSLABreach, EscalationPriorityChange:
		return true
	default:
		return false
	}
}

// EscalationRecord describes the most recent forced reassignment of a task.
type EscalationRecord struct {
	Reason      EscalationReason `json:"reason"`
	EscalatedTo string           `json:"escalated_to"`
	EscalatedAt time.Time        `json:"escalated_at"`
	Displaced   *Assignment      `json:"displaced,omitempty"`
}
