package device

// Type is the closed set of device tags the twin store and safety engine
// know how to reason about.
type Type string

const (
	TypeRelay             Type = "RELAY"
	TypeFan               Type = "FAN"
	TypeTemperatureSensor Type = "TEMPERATURE_SENSOR"
)

// Capability is the direction of control a device type supports.
type Capability string

const (
	CapabilityInput  Capability = "INPUT"
	CapabilityOutput Capability = "OUTPUT"
)

// Capability returns the capability tag carried by a device type. Only
// OUTPUT devices participate in reconciliation.
func (t Type) Capability() Capability {
	switch t {
	case TypeRelay, TypeFan:
		return CapabilityOutput
	case TypeTemperatureSensor:
		return CapabilityInput
	default:
		return CapabilityInput
	}
}

// IsOutput reports whether the type is reconciled toward a desired state.
func (t Type) IsOutput() bool {
	return t.Capability() == CapabilityOutput
}

// Valid reports whether t is one of the closed set of known types.
func (t Type) Valid() bool {
	switch t {
	case TypeRelay, TypeFan, TypeTemperatureSensor:
		return true
	default:
		return false
	}
}
