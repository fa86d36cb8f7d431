package handler

import (
	"context"
	"net/http"
)

// Pinger is anything that can report whether it is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler serves the unauthenticated service endpoints.
type HealthHandler struct {
	store Pinger
	rs    *Responder
}

func NewHealthHandler(store Pinger, rs *Responder) *HealthHandler {
	return &HealthHandler{store: store, rs: rs}
}

// HandleRoot identifies the API.
//
// HTTP: GET /
func (h *HealthHandler) HandleRoot(w http.ResponseWriter, _ *http.Request) {
	h.rs.writeJSON(w, http.StatusOK, map[string]string{"message": "Mumbai DAO API"})
}

// HandleHealth reports whether the store answers.
//
// HTTP: GET /healthz
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		h.rs.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	h.rs.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
