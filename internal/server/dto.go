package server

import (
	"encoding/json"
	"net/http"

	"github.com/hearthctl/hearthctl/internal/apierr"
	"github.com/hearthctl/hearthctl/internal/device"
	"github.com/hearthctl/hearthctl/internal/override"
	"github.com/hearthctl/hearthctl/internal/system"
)

// valueDTO is the wire shape of a device.Value: exactly one of its fields
// is populated, selected by the sibling deviceType field in whatever
// request/response embeds it.
type valueDTO struct {
	Relay *bool `json:"relay,omitempty"`
	Fan   *int  `json:"fan,omitempty"`
}

func decodeValue(typ device.Type, dto valueDTO) (device.Value, error) {
	switch typ {
	case device.TypeRelay:
		if dto.Relay == nil {
			return device.Value{}, apierr.Validation("value.relay is required for RELAY devices")
		}
		return device.NewRelayValue(*dto.Relay), nil
	case device.TypeFan:
		if dto.Fan == nil {
			return device.Value{}, apierr.Validation("value.fan is required for FAN devices")
		}
		v, err := device.NewFanValue(*dto.Fan)
		if err != nil {
			return device.Value{}, apierr.Validation("%v", err)
		}
		return v, nil
	default:
		return device.Value{}, apierr.Validation("device type %q does not accept a commanded value", typ)
	}
}

func encodeValue(v device.Value) valueDTO {
	switch v.Type() {
	case device.TypeRelay:
		on, _ := v.Relay()
		return valueDTO{Relay: &on}
	case device.TypeFan:
		speed, _ := v.Fan()
		return valueDTO{Fan: &speed}
	default:
		return valueDTO{}
	}
}

type intentRequest struct {
	DeviceType string         `json:"deviceType" validate:"required,oneof=RELAY FAN TEMPERATURE_SENSOR"`
	Value      valueDTO       `json:"value"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

type intentStateDTO struct {
	Value       valueDTO `json:"value"`
	RequestedAt string   `json:"requestedAt"`
}

type reportedStateDTO struct {
	Value      valueDTO `json:"value,omitempty"`
	HasValue   bool     `json:"hasValue"`
	Known      bool     `json:"known"`
	ReportedAt string   `json:"reportedAt,omitempty"`
}

type desiredStateDTO struct {
	Value valueDTO `json:"value"`
}

type snapshotResponse struct {
	DeviceID  string            `json:"deviceId"`
	Type      string            `json:"type"`
	Intent    *intentStateDTO   `json:"intent,omitempty"`
	Reported  *reportedStateDTO `json:"reported,omitempty"`
	Desired   *desiredStateDTO  `json:"desired,omitempty"`
	Converged bool              `json:"converged"`
}

func encodeSnapshot(snap device.Snapshot) snapshotResponse {
	resp := snapshotResponse{
		DeviceID:  snap.ID.String(),
		Type:      string(snap.Type),
		Converged: snap.Converged(),
	}
	if snap.Intent != nil {
		resp.Intent = &intentStateDTO{
			Value:       encodeValue(snap.Intent.Value),
			RequestedAt: snap.Intent.RequestedAt.Format(rfc3339Milli),
		}
	}
	if snap.Reported != nil {
		resp.Reported = &reportedStateDTO{
			Value:      encodeValue(snap.Reported.Value),
			HasValue:   snap.Reported.HasValue,
			Known:      snap.Reported.Known,
			ReportedAt: snap.Reported.ReportedAt.Format(rfc3339Milli),
		}
	}
	if snap.Desired != nil {
		resp.Desired = &desiredStateDTO{Value: encodeValue(snap.Desired.Value)}
	}
	return resp
}

const rfc3339Milli = "2006-01-02T15:04:05.000Z07:00"

type createSystemRequest struct {
	Name          string            `json:"name" validate:"required"`
	Type          string            `json:"type" validate:"required"`
	Configuration map[string]string `json:"configuration,omitempty"`
}

type patchConfigurationRequest struct {
	ExpectedVersion uint64            `json:"expectedVersion" validate:"required"`
	Configuration   map[string]string `json:"configuration"`
}

type systemResponse struct {
	ID            string            `json:"id"`
	Name          string            `json:"name"`
	Type          string            `json:"type"`
	Configuration map[string]string `json:"configuration,omitempty"`
	DeviceIDs     []string          `json:"deviceIds"`
	Version       uint64            `json:"version"`
}

func encodeSystem(fs system.FunctionalSystem) systemResponse {
	ids := fs.DeviceIDList()
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return systemResponse{
		ID:            fs.ID,
		Name:          fs.Name,
		Type:          fs.Type,
		Configuration: fs.Configuration,
		DeviceIDs:     out,
		Version:       fs.Version,
	}
}

type overrideRequest struct {
	DeviceType string         `json:"deviceType" validate:"required,oneof=RELAY FAN TEMPERATURE_SENSOR"`
	Value      valueDTO       `json:"value"`
	Reason     string         `json:"reason,omitempty"`
	TTLSeconds int            `json:"ttlSeconds,omitempty"`
	CreatedBy  string         `json:"createdBy,omitempty"`
}

type overrideResponse struct {
	ID        string   `json:"id"`
	TargetID  string   `json:"targetId"`
	Scope     string   `json:"scope"`
	Category  string   `json:"category"`
	Value     valueDTO `json:"value"`
	Reason    string   `json:"reason,omitempty"`
	ExpiresAt string   `json:"expiresAt,omitempty"`
}

func encodeOverride(o override.Override) overrideResponse {
	resp := overrideResponse{
		ID:       o.ID,
		TargetID: o.TargetID,
		Scope:    string(o.Scope),
		Category: string(o.Category),
		Value:    encodeValue(o.Value),
		Reason:   o.Reason,
	}
	if o.ExpiresAt != nil {
		resp.ExpiresAt = o.ExpiresAt.Format(rfc3339Milli)
	}
	return resp
}

// decodeJSON reads and validates a JSON request body, returning a
// VALIDATION_ERROR apierr.Error on either a malformed body or a failed
// struct-tag check.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return apierr.Validation("malformed request body: %v", err)
	}
	if err := validate.Struct(dst); err != nil {
		return apierr.Validation("%v", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
