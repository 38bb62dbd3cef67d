package safety

import (
	"strconv"
	"strings"

	"github.com/hearthctl/hearthctl/internal/device"
)

const defaultMaxFanSpeed = 4

func matchesPattern(id device.ID, pattern string) bool {
	return strings.Contains(strings.ToLower(id.ComponentID), pattern)
}

// findRelated returns the desired value of the first related device whose
// component id matches pattern, searching ctx.RelatedDeviceStates (already
// scoped to the proposing device's functional system by the caller).
func findRelated(ctx Context, pattern string) (device.Value, bool) {
	for id, snap := range ctx.RelatedDeviceStates {
		if !matchesPattern(id, pattern) {
			continue
		}
		if snap.Desired == nil {
			continue
		}
		return snap.Desired.Value, true
	}
	return device.Value{}, false
}

// pumpFireInterlock refuses turning a "fire" device off while its related
// pump is desired on.
type pumpFireInterlock struct{}

// NewPumpFireInterlock builds the PumpFireInterlock hardcoded rule.
func NewPumpFireInterlock() Rule { return pumpFireInterlock{} }

func (pumpFireInterlock) ID() string          { return "PUMP_FIRE_INTERLOCK" }
func (pumpFireInterlock) Name() string        { return "Pump/Fire Interlock" }
func (pumpFireInterlock) Category() Category  { return CategoryHardcodedSafety }
func (pumpFireInterlock) Priority() int       { return 0 }

func (pumpFireInterlock) AppliesTo(ctx Context) bool {
	if !matchesPattern(ctx.DeviceID, "fire") {
		return false
	}
	on, ok := ctx.ProposedValue.Relay()
	return ok && !on
}

func (r pumpFireInterlock) Evaluate(ctx Context) (Outcome, error) {
	pumpDesired, found := findRelated(ctx, "pump")
	if !found {
		return Accepted(), nil
	}
	pumpOn, ok := pumpDesired.Relay()
	if ok && pumpOn {
		return Refused(r.ID(), "pump is running, fire cannot be turned off", ""), nil
	}
	return Accepted(), nil
}

// firePumpInterlock forces a pump back on when it is proposed off while
// its related fire device is still desired on.
type firePumpInterlock struct{}

// NewFirePumpInterlock builds the FirePumpInterlock hardcoded rule.
func NewFirePumpInterlock() Rule { return firePumpInterlock{} }

func (firePumpInterlock) ID() string         { return "FIRE_PUMP_INTERLOCK" }
func (firePumpInterlock) Name() string       { return "Fire/Pump Interlock" }
func (firePumpInterlock) Category() Category { return CategoryHardcodedSafety }
func (firePumpInterlock) Priority() int      { return 1 }

func (firePumpInterlock) AppliesTo(ctx Context) bool {
	if !matchesPattern(ctx.DeviceID, "pump") {
		return false
	}
	on, ok := ctx.ProposedValue.Relay()
	return ok && !on
}

func (r firePumpInterlock) Evaluate(ctx Context) (Outcome, error) {
	fireDesired, found := findRelated(ctx, "fire")
	if !found {
		return Accepted(), nil
	}
	fireOn, ok := fireDesired.Relay()
	if ok && fireOn {
		return Modified(r.ID(), ctx.ProposedValue, device.NewRelayValue(true),
			"pump cannot be stopped while the fire it serves is still running"), nil
	}
	return Accepted(), nil
}

// maxFanSpeed clamps a proposed fan speed to a configured ceiling.
type maxFanSpeed struct {
	max int
}

// NewMaxFanSpeed builds the MaxFanSpeed hardcoded rule. max<=0 falls back
// to the default ceiling of 4.
func NewMaxFanSpeed(max int) Rule {
	if max <= 0 {
		max = defaultMaxFanSpeed
	}
	return maxFanSpeed{max: max}
}

func (maxFanSpeed) ID() string         { return "MAX_FAN_SPEED" }
func (maxFanSpeed) Name() string       { return "Maximum Fan Speed" }
func (maxFanSpeed) Category() Category { return CategoryHardcodedSafety }
func (maxFanSpeed) Priority() int      { return 2 }

func (r maxFanSpeed) AppliesTo(ctx Context) bool {
	if ctx.DeviceType != device.TypeFan {
		return false
	}
	speed, ok := ctx.ProposedValue.Fan()
	return ok && speed > r.max
}

func (r maxFanSpeed) Evaluate(ctx Context) (Outcome, error) {
	speed, _ := ctx.ProposedValue.Fan()
	clamped := ctx.ProposedValue.Clamp(r.max)
	reason := "fan speed " + strconv.Itoa(speed) + " exceeds maximum " + strconv.Itoa(r.max)
	return Modified(r.ID(), ctx.ProposedValue, clamped, reason), nil
}
