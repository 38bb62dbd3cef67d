package server

import (
	"net/http"

	"github.com/hearthctl/hearthctl/internal/apierr"
)

// handleHealthz is a liveness probe: it never depends on collaborators,
// only on the process having reached the point of serving requests.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReadyz is a readiness probe backed by the HealthGate: it
// reports 503 with INFRASTRUCTURE_DOWN while any registered dependency
// (audit log writer, idempotency store, ...) is unhealthy.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if s.health == nil || s.health.Healthy() {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
		return
	}
	apierr.WriteJSON(w, apierr.InfrastructureDown("one or more dependencies are unhealthy"))
}
