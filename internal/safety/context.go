// Package safety implements the safety rule engine: an ordered,
// fail-closed rule pipeline that accepts, refuses, or modifies a proposed
// device value before it becomes a desired state. Rules are held as an
// ordered list and evaluated in sequence, each seeing the running
// outcome of the rules before it, producing one of three outcomes:
// accepted, refused, or modified.
package safety

import (
	"github.com/hearthctl/hearthctl/internal/device"
	"github.com/hearthctl/hearthctl/internal/system"
)

// Context is the immutable input to a SafetyRule evaluation. Evaluate
// never mutates a Context; advancing "current" across a Modified result
// is done by constructing a new Context via WithProposedValue.
type Context struct {
	DeviceID            device.ID
	DeviceType          device.Type
	CurrentSnapshot     *device.Snapshot
	ProposedValue       device.Value
	FunctionalSystem    *system.FunctionalSystem
	RelatedDeviceStates map[device.ID]device.Snapshot
	Metadata            map[string]any
}

// WithProposedValue returns a copy of c with ProposedValue replaced. Used
// by Engine to thread a Modified rule's output into the next rule's input
// without mutating the caller's context.
func (c Context) WithProposedValue(v device.Value) Context {
	c.ProposedValue = v
	return c
}

// env builds the bound-variable map handed to the sandboxed expression
// evaluator for configurable rules.
func (c Context) env() map[string]any {
	systemType := ""
	if c.FunctionalSystem != nil {
		systemType = c.FunctionalSystem.Type
	}

	var currentValue, reportedValue any
	if c.CurrentSnapshot != nil {
		if c.CurrentSnapshot.Desired != nil {
			currentValue = valueEnv(c.CurrentSnapshot.Desired.Value)
		}
		if c.CurrentSnapshot.Reported != nil && c.CurrentSnapshot.Reported.Known {
			reportedValue = valueEnv(c.CurrentSnapshot.Reported.Value)
		}
	}

	metadata := make(map[string]any, len(c.Metadata))
	for k, v := range c.Metadata {
		metadata[k] = v
	}

	return map[string]any{
		"deviceId":      c.DeviceID.String(),
		"deviceType":    string(c.DeviceType),
		"proposedValue": valueEnv(c.ProposedValue),
		"currentValue":  currentValue,
		"reportedValue": reportedValue,
		"systemType":    systemType,
		"metadata":      metadata,
	}
}

// valueEnv projects a device.Value into the map-shaped form the expression
// evaluator can index — the evaluator has no notion of device.Value as a
// Go type, only bound maps/strings/numbers/bools.
func valueEnv(v device.Value) map[string]any {
	out := map[string]any{"type": string(v.Type())}
	if on, ok := v.Relay(); ok {
		out["relay"] = on
	}
	if speed, ok := v.Fan(); ok {
		out["speed"] = float64(speed)
	}
	return out
}
