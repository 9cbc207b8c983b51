package handler

import (
	"net/http"
	"strings"

	"github.com/mtlprog/humantask/internal/domain"
	"github.com/mtlprog/humantask/internal/handler/dto"
)

// handleCreateTask creates a human task for a workflow node.
// @Summary Create a human task
// @Description Called by the workflow engine when a node hands control to a human. The body is the node configuration.
// @Tags tasks
// @Accept json
// @Produce json
// @Param runId path string true "Workflow run ID"
// @Param nodeId path string true "Node ID"
// @Param request body dto.CreateTaskRequest true "Node configuration"
// @Success 201 {object} dto.TaskDetail
// @Failure 400 {object} dto.ErrorResponse
// @Failure 422 {object} dto.ErrorResponse
// @Security BearerAuth
// @Router /runs/{runId}/nodes/{nodeId}/tasks [post]
func (h *Handler) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	var req dto.CreateTaskRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req == nil {
		req = dto.CreateTaskRequest{}
	}

	// Tenant and creator come from the token, never from the body.
	req["tenantId"] = p.TenantID
	req["createdBy"] = p.UserID

	task, err := h.orchestrator.ExecuteRaw(r.Context(), r.PathValue("runId"), r.PathValue("nodeId"), req)
	if err != nil {
		if task == nil {
			respondDomainError(w, err)
			return
		}
		// The task exists; only the follow-up escalation could not be scheduled.
		respondError(w, http.StatusInternalServerError, "ESCALATION_NOT_SCHEDULED", err.Error())
		return
	}

	respondJSON(w, http.StatusCreated, dto.ToTaskDetail(task, h.now(), false))
}

// handleListTasks lists tasks the caller can act on.
// @Summary List my tasks
// @Description Tasks assigned to the caller directly or through a group or role
// @Tags tasks
// @Produce json
// @Param status query string false "Comma-separated statuses"
// @Success 200 {object} dto.TasksListResponse
// @Failure 422 {object} dto.ErrorResponse
// @Security BearerAuth
// @Router /tasks [get]
func (h *Handler) handleListTasks(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	filters, err := parseListFilters(r)
	if err != nil {
		respondError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error())
		return
	}

	statuses := make([]domain.TaskStatus, 0, len(filters.Status))
	for _, s := range filters.Status {
		statuses = append(statuses, domain.TaskStatus(s))
	}

	tasks, err := h.queries.GetTasksForUser(r.Context(), p.TenantID, p.UserID, statuses)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, dto.ToTasksListResponse(tasks, h.now()))
}

// handleListRunTasks lists the tasks of a workflow run.
// @Summary List tasks of a workflow run
// @Tags tasks
// @Produce json
// @Param runId path string true "Workflow run ID"
// @Success 200 {object} dto.TasksListResponse
// @Security BearerAuth
// @Router /runs/{runId}/tasks [get]
func (h *Handler) handleListRunTasks(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	tasks, err := h.queries.GetTasksForWorkflowRun(r.Context(), p.TenantID, r.PathValue("runId"))
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, dto.ToTasksListResponse(tasks, h.now()))
}

// handleGetTask retrieves task details.
// @Summary Get task details
// @Description Full task details; ?audit=true adds the audit trail
// @Tags tasks
// @Produce json
// @Param id path string true "Task ID"
// @Param audit query bool false "Include the audit trail"
// @Success 200 {object} dto.TaskDetail
// @Failure 404 {object} dto.ErrorResponse
// @Security BearerAuth
// @Router /tasks/{id} [get]
func (h *Handler) handleGetTask(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	taskID, ok := extractTaskID(w, r)
	if !ok {
		return
	}

	task, err := h.queries.GetTask(r.Context(), p.TenantID, taskID)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	withAudit := r.URL.Query().Get("audit") == "true"
	respondJSON(w, http.StatusOK, dto.ToTaskDetail(task, h.now(), withAudit))
}

// handleClaimTask starts work on an assigned task.
// @Summary Claim a task
// @Description Caller must be the assignee or a member of the assigned group or role
// @Tags tasks
// @Produce json
// @Param id path string true "Task ID"
// @Success 200 {object} dto.TaskDetail
// @Failure 403 {object} dto.ErrorResponse
// @Failure 409 {object} dto.ErrorResponse
// @Security BearerAuth
// @Router /tasks/{id}/claim [post]
func (h *Handler) handleClaimTask(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	taskID, ok := extractTaskID(w, r)
	if !ok {
		return
	}

	task, err := h.orchestrator.ClaimTask(r.Context(), p.TenantID, taskID, p.UserID)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, dto.ToTaskDetail(task, h.now(), false))
}

// handleReleaseTask returns an in-progress task to its assignment.
// @Summary Release a task
// @Tags tasks
// @Produce json
// @Param id path string true "Task ID"
// @Success 200 {object} dto.TaskDetail
// @Failure 403 {object} dto.ErrorResponse
// @Failure 409 {object} dto.ErrorResponse
// @Security BearerAuth
// @Router /tasks/{id}/release [post]
func (h *Handler) handleReleaseTask(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	taskID, ok := extractTaskID(w, r)
	if !ok {
		return
	}

	task, err := h.orchestrator.ReleaseTask(r.Context(), p.TenantID, taskID, p.UserID)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, dto.ToTaskDetail(task, h.now(), false))
}

// handleDelegateTask hands a task to another user.
// @Summary Delegate a task
// @Tags tasks
// @Accept json
// @Produce json
// @Param id path string true "Task ID"
// @Param request body dto.DelegateTaskRequest true "Delegate request"
// @Success 200 {object} dto.TaskDetail
// @Failure 403 {object} dto.ErrorResponse
// @Failure 422 {object} dto.ErrorResponse
// @Security BearerAuth
// @Router /tasks/{id}/delegate [post]
func (h *Handler) handleDelegateTask(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	taskID, ok := extractTaskID(w, r)
	if !ok {
		return
	}

	var req dto.DelegateTaskRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.To) == "" {
		respondError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "to is required")
		return
	}

	task, err := h.orchestrator.DelegateTask(r.Context(), p.TenantID, taskID, p.UserID, req.To, req.Reason)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, dto.ToTaskDetail(task, h.now(), false))
}

// handleCompleteTask records the caller's decision.
// @Summary Complete a task
// @Description Outcome APPROVED, REJECTED or a custom result name
// @Tags tasks
// @Accept json
// @Produce json
// @Param id path string true "Task ID"
// @Param request body dto.CompleteTaskRequest true "Completion request"
// @Success 200 {object} dto.TaskDetail
// @Failure 403 {object} dto.ErrorResponse
// @Failure 409 {object} dto.ErrorResponse
// @Failure 422 {object} dto.ErrorResponse
// @Security BearerAuth
// @Router /tasks/{id}/complete [post]
func (h *Handler) handleCompleteTask(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	taskID, ok := extractTaskID(w, r)
	if !ok {
		return
	}

	var req dto.CompleteTaskRequest
	if !decodeBody(w, r, &req) {
		return
	}

	outcome, err := domain.ParseOutcome(req.Outcome)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	task, err := h.orchestrator.CompleteTask(r.Context(), p.TenantID, taskID, p.UserID, outcome, req.Data, req.Comments)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, dto.ToTaskDetail(task, h.now(), false))
}

// handleCommentTask adds a comment.
// @Summary Comment on a task
// @Tags tasks
// @Accept json
// @Produce json
// @Param id path string true "Task ID"
// @Param request body dto.CommentTaskRequest true "Comment request"
// @Success 201 {object} dto.TaskDetail
// @Failure 422 {object} dto.ErrorResponse
// @Security BearerAuth
// @Router /tasks/{id}/comments [post]
func (h *Handler) handleCommentTask(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	taskID, ok := extractTaskID(w, r)
	if !ok {
		return
	}

	var req dto.CommentTaskRequest
	if !decodeBody(w, r, &req) {
		return
	}

	task, err := h.orchestrator.AddComment(r.Context(), p.TenantID, taskID, p.UserID, req.Comment)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, dto.ToTaskDetail(task, h.now(), false))
}

// handleCancelTask ends a task without an outcome.
// @Summary Cancel a task
// @Tags tasks
// @Accept json
// @Produce json
// @Param id path string true "Task ID"
// @Param request body dto.CancelTaskRequest true "Cancel request"
// @Success 200 {object} dto.TaskDetail
// @Failure 409 {object} dto.ErrorResponse
// @Security BearerAuth
// @Router /tasks/{id}/cancel [post]
func (h *Handler) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	taskID, ok := extractTaskID(w, r)
	if !ok {
		return
	}

	var req dto.CancelTaskRequest
	if !decodeBody(w, r, &req) {
		return
	}

	task, err := h.orchestrator.CancelTask(r.Context(), p.TenantID, taskID, p.UserID, req.Reason)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, dto.ToTaskDetail(task, h.now(), false))
}

// handleEscalateTask reassigns a task to an escalation target.
// @Summary Escalate a task
// @Tags tasks
// @Accept json
// @Produce json
// @Param id path string true "Task ID"
// @Param request body dto.EscalateTaskRequest true "Escalate request"
// @Success 200 {object} dto.TaskDetail
// @Failure 409 {object} dto.ErrorResponse
// @Failure 422 {object} dto.ErrorResponse
// @Security BearerAuth
// @Router /tasks/{id}/escalate [post]
func (h *Handler) handleEscalateTask(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	taskID, ok := extractTaskID(w, r)
	if !ok {
		return
	}

	var req dto.EscalateTaskRequest
	if !decodeBody(w, r, &req) {
		return
	}

	reason := domain.EscalationManual
	if req.Reason != "" {
		reason = domain.EscalationReason(strings.ToUpper(req.Reason))
	}

	task, err := h.orchestrator.EscalateTask(r.Context(), p.TenantID, taskID, reason, req.EscalateTo)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, dto.ToTaskDetail(task, h.now(), false))
}
