package server

import (
	"net/http"
	"time"

	"github.com/hearthctl/hearthctl/internal/apierr"
	"github.com/hearthctl/hearthctl/internal/device"
	"github.com/hearthctl/hearthctl/internal/reconcile"
)

func pathDeviceID(r *http.Request) (device.ID, error) {
	id, err := device.NewID(r.PathValue("controllerId"), r.PathValue("componentId"))
	if err != nil {
		return device.ID{}, apierr.Validation("%v", err)
	}
	return id, nil
}

// handleSubmitIntent is POST /devices/{controllerId}/{componentId}/intent:
// it records the user's requested value and runs reconciliation inline so
// the response carries the safety-checked outcome.
func (s *Server) handleSubmitIntent(w http.ResponseWriter, r *http.Request) {
	id, err := pathDeviceID(r)
	if err != nil {
		apierr.WriteJSON(w, err)
		return
	}

	var req intentRequest
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

	intent := device.UserIntent{
		ID:          id,
		Type:        typ,
		Value:       value,
		RequestedAt: time.Now(),
	}
	if err := s.twins.SaveIntent(intent); err != nil {
		apierr.WriteJSON(w, apierr.Wrap(apierr.CodeInfrastructureDown, err, "failed to record intent"))
		return
	}

	result, err := s.coordinator.Reconcile(id, req.Metadata)
	if err != nil {
		apierr.WriteJSON(w, apierr.Wrap(apierr.CodeInfrastructureDown, err, "reconciliation failed"))
		return
	}

	switch result.Kind() {
	case reconcile.KindDesiredCalculated:
		writeJSON(w, http.StatusAccepted, map[string]any{
			"deviceId": id.String(),
			"desired":  encodeValue(result.Desired().Value),
		})
	case reconcile.KindRefused:
		apierr.WriteJSON(w, apierr.SafetyBlock("%s (rule %s)", result.Reason(), result.BlockingRuleID()))
	case reconcile.KindNoChange:
		writeJSON(w, http.StatusOK, map[string]any{
			"deviceId": id.String(),
			"reason":   result.Reason(),
		})
	case reconcile.KindDeviceNotFound:
		apierr.WriteJSON(w, apierr.NotFound("device %s not found", id))
	}
}

// handleGetTwin is GET /devices/{controllerId}/{componentId}/twin.
func (s *Server) handleGetTwin(w http.ResponseWriter, r *http.Request) {
	id, err := pathDeviceID(r)
	if err != nil {
		apierr.WriteJSON(w, err)
		return
	}

	snap, ok := s.twins.FindSnapshot(id)
	if !ok {
		apierr.WriteJSON(w, apierr.NotFound("device %s not found", id))
		return
	}
	writeJSON(w, http.StatusOK, encodeSnapshot(snap))
}
