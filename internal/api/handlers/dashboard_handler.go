package handlers

import (
	"net/http"

	"github.com/reqtrace/engine/internal/services"
)

type DashboardHandler struct {
	svc services.StatsService
}

func NewDashboardHandler(svc services.StatsService) *DashboardHandler {
	return &DashboardHandler{svc: svc}
}

func (h *DashboardHandler) Stats(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.Dashboard(r.Context(), r.URL.Query().Get("project_id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, st)
}
