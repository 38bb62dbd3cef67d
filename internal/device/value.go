package device

import "fmt"

// Value is a closed tagged union over the device payloads this system
// knows how to drive. Construct via NewRelayValue/NewFanValue so range
// checks are enforced at the boundary rather than scattered through
// call sites.
type Value struct {
	typ   Type
	relay bool
	fan   int
}

const maxFanSpeedHardLimit = 4

// NewRelayValue builds a RELAY-tagged value.
func NewRelayValue(on bool) Value {
	return Value{typ: TypeRelay, relay: on}
}

// NewFanValue builds a FAN-tagged value, rejecting speeds outside 0..4.
func NewFanValue(speed int) (Value, error) {
	if speed < 0 || speed > maxFanSpeedHardLimit {
		return Value{}, fmt.Errorf("device: fan speed %d out of range 0..%d", speed, maxFanSpeedHardLimit)
	}
	return Value{typ: TypeFan, fan: speed}, nil
}

// Type reports which variant this value carries.
func (v Value) Type() Type {
	return v.typ
}

// Relay returns the boolean payload and whether this value is RELAY-tagged.
func (v Value) Relay() (bool, bool) {
	return v.relay, v.typ == TypeRelay
}

// Fan returns the speed payload and whether this value is FAN-tagged.
func (v Value) Fan() (int, bool) {
	return v.fan, v.typ == TypeFan
}

// Equal performs structural equality, consistent across variants.
func (v Value) Equal(other Value) bool {
	if v.typ != other.typ {
		return false
	}
	switch v.typ {
	case TypeRelay:
		return v.relay == other.relay
	case TypeFan:
		return v.fan == other.fan
	default:
		return false
	}
}

// ConsistentWith reports whether this value's own tag matches the type
// a wrapping state claims to carry — the type/value consistency
// invariant every state wrapper must enforce.
func (v Value) ConsistentWith(t Type) bool {
	return v.typ == t
}

func (v Value) String() string {
	switch v.typ {
	case TypeRelay:
		return fmt.Sprintf("Relay(%v)", v.relay)
	case TypeFan:
		return fmt.Sprintf("Fan(%d)", v.fan)
	default:
		return "Value(invalid)"
	}
}

// Clamp returns a new Fan value with speed capped at max, or v unchanged
// for non-FAN values. Used by the MaxFanSpeed safety rule.
func (v Value) Clamp(max int) Value {
	if v.typ != TypeFan || v.fan <= max {
		return v
	}
	clamped, _ := NewFanValue(max)
	return clamped
}
