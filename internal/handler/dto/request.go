package dto

// CreateTaskRequest is the node configuration posted by the workflow engine
// to POST /runs/:runId/nodes/:nodeId/tasks. Keys follow the node config
// format (assignTo, assigneeType, taskType, title, priority, dueInHours, ...).
type CreateTaskRequest map[string]any

// DelegateTaskRequest represents the request body for POST /tasks/:id/delegate.
type DelegateTaskRequest struct {
	To     string `json:"to"`
	Reason string `json:"reason"`
}

// CompleteTaskRequest represents the request body for POST /tasks/:id/complete.
// Outcome is APPROVED, REJECTED or any custom result name.
type CompleteTaskRequest struct {
	Outcome  string         `json:"outcome"`
	Data     map[string]any `json:"data,omitempty"`
	Comments string         `json:"comments,omitempty"`
}

// CommentTaskRequest represents the request body for POST /tasks/:id/comments.
type CommentTaskRequest struct {
	Comment string `json:"comment"`
}

// CancelTaskRequest represents the request body for POST /tasks/:id/cancel.
type CancelTaskRequest struct {
	Reason string `json:"reason"`
}

// EscalateTaskRequest represents the request body for POST /tasks/:id/escalate.
type EscalateTaskRequest struct {
	EscalateTo string `json:"escalate_to"`
	Reason     string `json:"reason,omitempty"` // defaults to MANUAL
}

// ListTasksFilters represents query parameters for GET /tasks.
type ListTasksFilters struct {
	Status []string // ?status=ASSIGNED,IN_PROGRESS
}
