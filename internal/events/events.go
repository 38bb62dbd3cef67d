// Package events defines the typed event payloads the event bus
// carries. Kept separate from eventbus itself so every producer and
// listener package can depend on the event shapes without depending on
// the bus.
package events

import (
	"time"

	"github.com/hearthctl/hearthctl/internal/device"
)

// UserIntentChanged fires when a user's intent for a device is written,
// routing to the ReconciliationCoordinator.
type UserIntentChanged struct {
	DeviceID      device.ID
	CorrelationID string
	OccurredAt    time.Time
}

// ActuatorFeedbackReceived carries a raw inbound actuator telemetry
// reading for the FeedbackProcessor to parse and store.
type ActuatorFeedbackReceived struct {
	DeviceID      device.ID
	Type          device.Type
	RawValue      string
	CorrelationID string
	OccurredAt    time.Time
}

// ReportedStateChanged fires once FeedbackProcessor has saved a parsed
// reported state, routing to the ReconciliationCoordinator.
type ReportedStateChanged struct {
	DeviceID      device.ID
	CorrelationID string
	OccurredAt    time.Time
}

// DesiredStateCalculated fires whenever the StateCalculator produces a
// new desired value that TwinStore.saveDesired has just persisted.
type DesiredStateCalculated struct {
	Desired       device.DesiredDeviceState
	CorrelationID string
	OccurredAt    time.Time
}

// OverrideApplied fires when the OverrideValidationPipeline persists an
// Applied or Modified override.
type OverrideApplied struct {
	TargetID      string
	Category      string
	CorrelationID string
	OccurredAt    time.Time
}

// OverrideCancelled fires when an override is explicitly cancelled.
type OverrideCancelled struct {
	TargetID      string
	Category      string
	CorrelationID string
	OccurredAt    time.Time
}

// OverrideExpired fires when the sweeper removes a lapsed override.
type OverrideExpired struct {
	TargetID      string
	Category      string
	CorrelationID string
	OccurredAt    time.Time
}

// DeviceCommandEvent fires when the Reconciler decides a device needs a
// command dispatched to converge it toward its desired value.
type DeviceCommandEvent struct {
	DeviceID      device.ID
	Type          device.Type
	Value         device.Value
	CorrelationID string
	OccurredAt    time.Time
}
