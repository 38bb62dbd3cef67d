package server

import (
	"errors"
	"net/http"

	"github.com/hearthctl/hearthctl/internal/apierr"
	"github.com/hearthctl/hearthctl/internal/system"
)

// classifySystemErr maps system.Registry's typed errors onto the REST
// boundary's closed error taxonomy.
func classifySystemErr(err error) error {
	var notFound *system.ErrNotFound
	if errors.As(err, &notFound) {
		return apierr.NotFound("%v", err)
	}
	var versionConflict *system.ErrVersionConflict
	if errors.As(err, &versionConflict) {
		return apierr.Conflict("%v", err)
	}
	var memberConflict *system.ErrDeviceAlreadyMember
	if errors.As(err, &memberConflict) {
		return apierr.Conflict("%v", err)
	}
	return apierr.Wrap(apierr.CodeInfrastructureDown, err, "system registry operation failed")
}

// handleCreateSystem is POST /v1/systems.
func (s *Server) handleCreateSystem(w http.ResponseWriter, r *http.Request) {
	var req createSystemRequest
	if err := decodeJSON(r, &req); err != nil {
		apierr.WriteJSON(w, err)
		return
	}

	fs, err := s.systems.Create(req.Type, req.Name, req.Configuration)
	if err != nil {
		apierr.WriteJSON(w, classifySystemErr(err))
		return
	}
	writeJSON(w, http.StatusCreated, encodeSystem(fs))
}

// handleListSystems is GET /v1/systems.
func (s *Server) handleListSystems(w http.ResponseWriter, r *http.Request) {
	systems := s.systems.List()
	out := make([]systemResponse, len(systems))
	for i, fs := range systems {
		out[i] = encodeSystem(fs)
	}
	writeJSON(w, http.StatusOK, out)
}

// handleGetSystem is GET /v1/systems/{id}.
func (s *Server) handleGetSystem(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	fs, ok := s.systems.FindByID(id)
	if !ok {
		apierr.WriteJSON(w, apierr.NotFound("system %s not found", id))
		return
	}
	writeJSON(w, http.StatusOK, encodeSystem(fs))
}

// handlePatchSystemConfiguration is PATCH /v1/systems/{id}/configuration,
// under optimistic concurrency control via the request's expectedVersion.
func (s *Server) handlePatchSystemConfiguration(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req patchConfigurationRequest
	if err := decodeJSON(r, &req); err != nil {
		apierr.WriteJSON(w, err)
		return
	}

	fs, err := s.systems.UpdateConfiguration(id, req.ExpectedVersion, req.Configuration)
	if err != nil {
		apierr.WriteJSON(w, classifySystemErr(err))
		return
	}
	writeJSON(w, http.StatusOK, encodeSystem(fs))
}
