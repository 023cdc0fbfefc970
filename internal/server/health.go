package server

import (
	"net/http"

	"runbox/internal/store"
	"runbox/pkg/api"
)

// Health handles GET /api/health with a database ping.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	resp := api.HealthResponse{
		Status:        "ok",
		DB:            "ok",
		ServerTimeUTC: store.FormatTime(store.UTCNow()),
	}
	status := http.StatusOK

	if err := h.store.Ping(r.Context()); err != nil {
		resp.Status = "degraded"
		resp.DB = "unreachable"
		status = http.StatusServiceUnavailable
	}

	h.respondJSON(w, status, resp)
}
