package sse

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hearthctl/hearthctl/internal/device"
	"github.com/hearthctl/hearthctl/internal/events"
)

// desiredPayload is the JSON payload for a "desired" dashboard event,
// fired whenever the StateCalculator produces a new desired value.
type desiredPayload struct {
	DeviceID      string    `json:"deviceId"`
	Value         valueWire `json:"value"`
	CorrelationID string    `json:"correlationId,omitempty"`
	OccurredAt    time.Time `json:"occurredAt"`
}

// commandPayload is the JSON payload for a "command" dashboard event,
// fired whenever the Reconciler dispatches a command toward a device.
type commandPayload struct {
	DeviceID      string    `json:"deviceId"`
	Type          string    `json:"type"`
	Value         valueWire `json:"value"`
	CorrelationID string    `json:"correlationId,omitempty"`
	OccurredAt    time.Time `json:"occurredAt"`
}

// overridePayload is the JSON payload for "overrideApplied",
// "overrideCancelled" and "overrideExpired" dashboard events.
type overridePayload struct {
	TargetID      string    `json:"targetId"`
	Category      string    `json:"category"`
	CorrelationID string    `json:"correlationId,omitempty"`
	OccurredAt    time.Time `json:"occurredAt"`
}

// valueWire is a minimal, lossy rendering of a device.Value for the
// dashboard stream: just enough to paint a live tile, not a full
// round-trippable encoding (that boundary belongs to internal/server).
type valueWire struct {
	Relay *bool `json:"relay,omitempty"`
	Fan   *int  `json:"fan,omitempty"`
}

func valueWireFrom(v device.Value) valueWire {
	switch v.Type() {
	case device.TypeRelay:
		on, _ := v.Relay()
		return valueWire{Relay: &on}
	case device.TypeFan:
		speed, _ := v.Fan()
		return valueWire{Fan: &speed}
	default:
		return valueWire{}
	}
}

func desiredPayloadFrom(e events.DesiredStateCalculated) desiredPayload {
	return desiredPayload{
		DeviceID:      e.Desired.ID.String(),
		Value:         valueWireFrom(e.Desired.Value),
		CorrelationID: e.CorrelationID,
		OccurredAt:    e.OccurredAt,
	}
}

func commandPayloadFrom(e events.DeviceCommandEvent) commandPayload {
	return commandPayload{
		DeviceID:      e.DeviceID.String(),
		Type:          string(e.Type),
		Value:         valueWireFrom(e.Value),
		CorrelationID: e.CorrelationID,
		OccurredAt:    e.OccurredAt,
	}
}

func overridePayloadFrom(targetID, category, correlationID string, occurredAt time.Time) overridePayload {
	return overridePayload{
		TargetID:      targetID,
		Category:      category,
		CorrelationID: correlationID,
		OccurredAt:    occurredAt,
	}
}

// formatSSEEvent formats an SSE event with the given type and JSON-encoded data.
func formatSSEEvent(eventType string, data interface{}) ([]byte, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal SSE event data: %w", err)
	}
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "event: %s\ndata: %s\n\n", eventType, jsonData)
	return buf.Bytes(), nil
}

// formatKeepalive returns a SSE keepalive comment.
func formatKeepalive() []byte {
	return []byte(":keepalive\n\n")
}
