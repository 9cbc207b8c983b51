package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/mtlprog/humantask/internal/handler/dto"
	"github.com/mtlprog/humantask/internal/middleware"
	"github.com/mtlprog/humantask/internal/service"
)

// Pinger reports whether the database is reachable. *pgxpool.Pool implements it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	db             Pinger
	orchestrator   *service.Orchestrator
	queries        *service.QueryService
	authMiddleware *middleware.AuthMiddleware
	now            func() time.Time
}

// New creates a new Handler instance with all dependencies.
func New(
	db Pinger,
	orchestrator *service.Orchestrator,
	queries *service.QueryService,
	authMiddleware *middleware.AuthMiddleware,
) *Handler {
	return &Handler{
		db:             db,
		orchestrator:   orchestrator,
		queries:        queries,
		authMiddleware: authMiddleware,
		now:            time.Now,
	}
}

// RegisterRoutes registers all HTTP routes.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.handleHealthz)

	auth := func(fn http.HandlerFunc) http.Handler {
		return h.authMiddleware.Authenticate(fn)
	}

	mux.Handle("POST /api/v1/runs/{runId}/nodes/{nodeId}/tasks", auth(h.handleCreateTask))
	mux.Handle("GET /api/v1/runs/{runId}/tasks", auth(h.handleListRunTasks))
	mux.Handle("GET /api/v1/tasks", auth(h.handleListTasks))
	mux.Handle("GET /api/v1/tasks/{id}", auth(h.handleGetTask))
	mux.Handle("POST /api/v1/tasks/{id}/claim", auth(h.handleClaimTask))
	mux.Handle("POST /api/v1/tasks/{id}/release", auth(h.handleReleaseTask))
	mux.Handle("POST /api/v1/tasks/{id}/delegate", auth(h.handleDelegateTask))
	mux.Handle("POST /api/v1/tasks/{id}/complete", auth(h.handleCompleteTask))
	mux.Handle("POST /api/v1/tasks/{id}/comments", auth(h.handleCommentTask))
	mux.Handle("POST /api/v1/tasks/{id}/cancel", auth(h.handleCancelTask))
	mux.Handle("POST /api/v1/tasks/{id}/escalate", auth(h.handleEscalateTask))
	mux.Handle("GET /api/v1/stats", auth(h.handleGetStats))
}

// handleHealthz returns 200 OK if the database is reachable.
func (h *Handler) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if err := h.db.Ping(r.Context()); err != nil {
		slog.Error("database health check failed", "error", err)
		http.Error(w, "database unavailable", http.StatusServiceUnavailable)
		return
	}

	w.WriteHeader(http.StatusOK)
}

// respondJSON writes a JSON response with the given status code.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", "error", err)
	}
}

// respondError writes a standard error response.
func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, dto.NewErrorResponse(code, message))
}

// respondDomainError maps err through dto.MapDomainError.
func respondDomainError(w http.ResponseWriter, err error) {
	status, code, message := dto.MapDomainError(err)
	respondError(w, status, code, message)
}

// extractTaskID extracts and validates task ID from path parameter.
// Returns (taskID, true) if valid, ("", false) if invalid (error already sent to client).
func extractTaskID(w http.ResponseWriter, r *http.Request) (string, bool) {
	taskID := r.PathValue("id")
	if taskID == "" {
		respondError(w, http.StatusBadRequest, "INVALID_REQUEST", "task id is required")
		return "", false
	}

	if _, err := uuid.Parse(taskID); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_REQUEST", "task_id must be a valid UUID")
		return "", false
	}

	return taskID, true
}

// principal returns the authenticated caller, answering 401 when there is none.
func principal(w http.ResponseWriter, r *http.Request) (middleware.Principal, bool) {
	p, err := middleware.GetPrincipalFromContext(r.Context())
	if err != nil {
		respondError(w, http.StatusUnauthorized, "INVALID_TOKEN", "Authentication required")
		return middleware.Principal{}, false
	}
	return p, true
}

// decodeBody decodes the JSON request body into dst, answering 400 on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid request body")
		return false
	}
	return true
}
