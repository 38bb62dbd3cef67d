package server

import (
	"net/http"
	"time"

	"github.com/hearthctl/hearthctl/internal/apierr"
	"github.com/hearthctl/hearthctl/internal/device"
	"github.com/hearthctl/hearthctl/internal/override"
	"github.com/hearthctl/hearthctl/internal/overridepipeline"
)

func pathCategory(r *http.Request) (override.Category, error) {
	cat := override.Category(r.PathValue("category"))
	if !cat.Valid() {
		return "", apierr.Validation("unknown override category %q", cat)
	}
	return cat, nil
}

func (s *Server) putOverride(w http.ResponseWriter, r *http.Request, targetID string, scope override.Scope) {
	cat, err := pathCategory(r)
	if err != nil {
		apierr.WriteJSON(w, err)
		return
	}

	var req overrideRequest
	if err := decodeJSON(r, &req); err != nil {
		apierr.WriteJSON(w, err)
		return
	}

	typ := device.Type(req.DeviceType)
	value, err := decodeValue(typ, req.Value)
	if err != nil {
		apierr.WriteJSON(w, err)
		return
	}

	ovrReq := overridepipeline.Request{
		TargetID:  targetID,
		Scope:     scope,
		Category:  cat,
		Value:     value,
		Reason:    req.Reason,
		CreatedBy: req.CreatedBy,
	}
	if req.TTLSeconds > 0 {
		ovrReq.TTL = time.Duration(req.TTLSeconds) * time.Second
	}

	decision, err := s.overrides.Apply(ovrReq)
	if err != nil {
		apierr.WriteJSON(w, apierr.Wrap(apierr.CodeInfrastructureDown, err, "override could not be persisted"))
		return
	}

	switch decision.Kind() {
	case overridepipeline.KindApplied, overridepipeline.KindModified:
		writeJSON(w, http.StatusOK, encodeOverride(decision.Override()))
	case overridepipeline.KindBlocked:
		apierr.WriteJSON(w, apierr.SafetyBlock("%s", decision.Reason()))
	}
}

func (s *Server) deleteOverride(w http.ResponseWriter, r *http.Request, targetID string) {
	cat, err := pathCategory(r)
	if err != nil {
		apierr.WriteJSON(w, err)
		return
	}
	if err := s.overrides.CancelOverride(targetID, cat, ""); err != nil {
		apierr.WriteJSON(w, apierr.Wrap(apierr.CodeInfrastructureDown, err, "override could not be cancelled"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handlePutDeviceOverride is PUT /devices/{controllerId}/{componentId}/override/{category}.
func (s *Server) handlePutDeviceOverride(w http.ResponseWriter, r *http.Request) {
	id, err := pathDeviceID(r)
	if err != nil {
		apierr.WriteJSON(w, err)
		return
	}
	s.putOverride(w, r, id.String(), override.ScopeDevice)
}

// handleDeleteDeviceOverride is DELETE /devices/{controllerId}/{componentId}/override/{category}.
func (s *Server) handleDeleteDeviceOverride(w http.ResponseWriter, r *http.Request) {
	id, err := pathDeviceID(r)
	if err != nil {
		apierr.WriteJSON(w, err)
		return
	}
	s.deleteOverride(w, r, id.String())
}

// handlePutSystemOverride is PUT /v1/systems/{id}/override/{category}.
func (s *Server) handlePutSystemOverride(w http.ResponseWriter, r *http.Request) {
	s.putOverride(w, r, r.PathValue("id"), override.ScopeSystem)
}

// handleDeleteSystemOverride is DELETE /v1/systems/{id}/override/{category}.
func (s *Server) handleDeleteSystemOverride(w http.ResponseWriter, r *http.Request) {
	s.deleteOverride(w, r, r.PathValue("id"))
}
