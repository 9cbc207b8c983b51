package handler

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/mtlprog/humantask/internal/domain"
	"github.com/mtlprog/humantask/internal/handler/dto"
)

// handleGetStats returns workload statistics for a user along with the
// tenant's task counts per status.
// @Summary Get statistics
// @Description Task counts and average completion time for the caller or ?user_id, plus tenant-wide counts per status
// @Tags stats
// @Produce json
// @Param user_id query string false "User to report on (defaults to the caller)"
// @Success 200 {object} dto.StatsResponse
// @Security BearerAuth
// @Router /stats [get]
func (h *Handler) handleGetStats(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		userID = p.UserID
	}

	stats, err := h.queries.GetUserTaskStatistics(r.Context(), p.TenantID, userID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to fetch stats")
		return
	}

	counts, err := h.queries.TenantStatusCounts(r.Context(), p.TenantID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to fetch stats")
		return
	}

	respondJSON(w, http.StatusOK, dto.ToStatsResponse(stats, counts))
}

// parseListFilters reads GET /tasks query parameters.
func parseListFilters(r *http.Request) (dto.ListTasksFilters, error) {
	var f dto.ListTasksFilters
	raw := r.URL.Query().Get("status")
	if raw == "" {
		return f, nil
	}

	for _, s := range strings.Split(raw, ",") {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		if !domain.TaskStatus(s).IsValid() {
			return f, fmt.Errorf("invalid status %q", s)
		}
		f.Status = append(f.Status, s)
	}
	return f, nil
}
