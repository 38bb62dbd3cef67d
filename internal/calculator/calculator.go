// Package calculator implements the StateCalculator: the pure
// function that folds a device's twin snapshot, its functional system
// (if any), and the active override set into a single desired-state
// decision by invoking the SafetyRuleEngine. It performs no persistence
// and emits no events — callers (the ReconciliationCoordinator) own both.
package calculator

import (
	"github.com/hearthctl/hearthctl/internal/device"
	"github.com/hearthctl/hearthctl/internal/override"
	"github.com/hearthctl/hearthctl/internal/safety"
	"github.com/hearthctl/hearthctl/internal/system"
)

// Source reports which input produced the proposed value that fed the
// safety engine, carried through into Result for audit purposes.
type Source string

const (
	SourceOverride Source = "OVERRIDE"
	SourceIntent   Source = "INTENT"
)

// Result is the closed set of outcomes a calculation can produce.
type Result struct {
	kind Kind

	desired     *device.DesiredDeviceState
	source      Source
	reason      string
	original    device.Value
	blockingID  string
}

// Kind discriminates a Result.
type Kind int

const (
	KindFromIntent Kind = iota
	KindFromOverride
	KindSafetyModified
	KindSafetyRefused
	KindNoValue
)

func (r Result) Kind() Kind                        { return r.kind }
func (r Result) Desired() *device.DesiredDeviceState { return r.desired }
func (r Result) Source() Source                    { return r.source }
func (r Result) Reason() string                     { return r.reason }
func (r Result) OriginalValue() device.Value        { return r.original }
func (r Result) BlockingRuleID() string              { return r.blockingID }

func fromIntent(desired device.DesiredDeviceState) Result {
	return Result{kind: KindFromIntent, desired: &desired, source: SourceIntent}
}

func fromOverride(desired device.DesiredDeviceState, reason string) Result {
	return Result{kind: KindFromOverride, desired: &desired, source: SourceOverride, reason: reason}
}

func safetyModified(desired device.DesiredDeviceState, original device.Value, reason string, source Source) Result {
	return Result{kind: KindSafetyModified, desired: &desired, original: original, reason: reason, source: source}
}

func safetyRefused(reason, ruleID string) Result {
	return Result{kind: KindSafetyRefused, reason: reason, blockingID: ruleID}
}

func noValue(reason string) Result {
	return Result{kind: KindNoValue, reason: reason}
}

// EffectiveOverrideResolver resolves the highest-priority active
// override for a device, optionally considering its functional system,
// breaking ties in favor of the device scope. Satisfied by
// *override.Store.
type EffectiveOverrideResolver interface {
	ResolveEffectiveForDevice(deviceID, systemID string) (override.Override, bool, error)
}

// SnapshotResolver looks up a single device's twin snapshot, used to
// gather the sibling states a safety rule like the pump/fire interlock
// needs to see. Satisfied by *twin.Store.
type SnapshotResolver interface {
	FindSnapshot(id device.ID) (device.Snapshot, bool)
}

// Calculator is the StateCalculator.
type Calculator struct {
	overrides EffectiveOverrideResolver
	snapshots SnapshotResolver
	engine    *safety.Engine
}

// New builds a Calculator over an override resolver, a sibling-snapshot
// resolver, and a safety engine.
func New(overrides EffectiveOverrideResolver, snapshots SnapshotResolver, engine *safety.Engine) *Calculator {
	return &Calculator{overrides: overrides, snapshots: snapshots, engine: engine}
}

// Calculate folds a device's inputs into one desired-state decision. sys
// is nil when the device belongs to no functional system.
func (c *Calculator) Calculate(snapshot device.Snapshot, sys *system.FunctionalSystem, metadata map[string]any) Result {
	systemID := ""
	if sys != nil {
		systemID = sys.ID
	}

	var proposed device.Value
	var source Source
	var overrideReason string

	ov, ok, err := c.overrides.ResolveEffectiveForDevice(snapshot.ID.String(), systemID)
	if err != nil {
		return noValue("override store unavailable: " + err.Error())
	}
	if ok {
		proposed = ov.Value
		source = SourceOverride
		overrideReason = ov.Reason
	} else if snapshot.Intent != nil {
		proposed = snapshot.Intent.Value
		source = SourceIntent
	} else {
		return noValue("no override or user intent")
	}

	related := map[device.ID]device.Snapshot{}
	if sys != nil {
		for _, id := range sys.DeviceIDList() {
			if id == snapshot.ID {
				continue
			}
			if s, ok := c.snapshots.FindSnapshot(id); ok {
				related[id] = s
			}
		}
	}

	ctx := safety.Context{
		DeviceID:            snapshot.ID,
		DeviceType:          snapshot.Type,
		CurrentSnapshot:     &snapshot,
		ProposedValue:       proposed,
		FunctionalSystem:    sys,
		RelatedDeviceStates: related,
		Metadata:            metadata,
	}

	res := c.engine.Evaluate(ctx)
	switch res.Outcome.Kind() {
	case safety.KindAccepted:
		desired := device.DesiredDeviceState{ID: snapshot.ID, Type: snapshot.Type, Value: proposed}
		if source == SourceOverride {
			return fromOverride(desired, overrideReason)
		}
		return fromIntent(desired)
	case safety.KindModified:
		_, original, modified, reason := res.Outcome.Modification()
		desired := device.DesiredDeviceState{ID: snapshot.ID, Type: snapshot.Type, Value: modified}
		return safetyModified(desired, original, reason, source)
	case safety.KindRefused:
		ruleID, reason, _ := res.Outcome.Refusal()
		return safetyRefused(reason, ruleID)
	default:
		return noValue("unreachable safety outcome")
	}
}
