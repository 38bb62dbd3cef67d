// Package feedback parses inbound actuator telemetry, runs it through an
// idempotency filter, writes the twin store's reported field, and
// publishes ReportedStateChanged for the reconciliation coordinator to
// act on. It follows a check-then-act shape: consult a keyed TTL store
// before doing the real work, so duplicate deliveries are dropped.
package feedback

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/hearthctl/hearthctl/internal/device"
	"github.com/hearthctl/hearthctl/internal/events"
	"github.com/hearthctl/hearthctl/internal/idempotency"
)

// TwinStore is the subset of twin.Store the processor needs.
type TwinStore interface {
	SaveReported(reported device.ReportedDeviceState) error
}

// Publisher is the subset of eventbus.Bus the processor needs.
type Publisher interface {
	Publish(event any, orderKey string)
}

// IdempotencyFilter is the subset of idempotency.Filter the processor needs.
type IdempotencyFilter interface {
	Admit(key string) bool
}

// Processor turns raw inbound telemetry into reported-state updates.
type Processor struct {
	twins  TwinStore
	bus    Publisher
	filter IdempotencyFilter
	logger *slog.Logger
	clock  func() time.Time
}

// New builds a Processor. filter may be nil, in which case every message
// is admitted (no dedup) — the fail-open stance taken whenever a filter
// cannot be consulted.
func New(twins TwinStore, bus Publisher, filter IdempotencyFilter, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{twins: twins, bus: bus, filter: filter, logger: logger, clock: time.Now}
}

// HandleActuatorFeedbackReceived handles an ActuatorFeedbackReceived
// event: parse the raw value, write the twin store's reported field, and
// publish ReportedStateChanged.
func (p *Processor) HandleActuatorFeedbackReceived(_ context.Context, e events.ActuatorFeedbackReceived) {
	occurredAt := e.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = p.clock()
	}

	if p.filter != nil {
		key := idempotency.Key(e.CorrelationID, e.DeviceID.String(), occurredAt, e.RawValue)
		if !p.filter.Admit(key) {
			p.logger.Debug("feedback: duplicate message dropped", "device", e.DeviceID, "key", key)
			return
		}
	}

	value, err := parseValue(e.Type, e.RawValue)
	if err != nil {
		p.logger.Warn("feedback: failed to parse actuator feedback, reported state left unknown",
			"device", e.DeviceID, "type", e.Type, "raw", e.RawValue, "error", err)
		return
	}

	reported := device.ReportedDeviceState{
		ID:         e.DeviceID,
		Type:       e.Type,
		Value:      value,
		HasValue:   true,
		ReportedAt: occurredAt,
		Known:      true,
	}
	if err := p.twins.SaveReported(reported); err != nil {
		p.logger.Error("feedback: failed to save reported state", "device", e.DeviceID, "error", err)
		return
	}

	if p.bus != nil {
		p.bus.Publish(events.ReportedStateChanged{
			DeviceID:      e.DeviceID,
			CorrelationID: e.CorrelationID,
			OccurredAt:    occurredAt,
		}, e.DeviceID.String())
	}
}

// parseValue decodes the ASCII wire payload of an inbound telemetry
// message: "true"/"false"/"1"/"0" for RELAY, an integer 0..4 for FAN.
func parseValue(typ device.Type, raw string) (device.Value, error) {
	switch typ {
	case device.TypeRelay:
		switch raw {
		case "1", "true", "ON", "on":
			return device.NewRelayValue(true), nil
		case "0", "false", "OFF", "off":
			return device.NewRelayValue(false), nil
		default:
			return device.Value{}, fmt.Errorf("feedback: unrecognized RELAY payload %q", raw)
		}
	case device.TypeFan:
		speed, err := strconv.Atoi(raw)
		if err != nil {
			return device.Value{}, fmt.Errorf("feedback: unrecognized FAN payload %q: %w", raw, err)
		}
		return device.NewFanValue(speed)
	default:
		return device.Value{}, fmt.Errorf("feedback: device type %q has no actuator feedback encoding", typ)
	}
}
