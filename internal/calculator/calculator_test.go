package calculator

import (
	"testing"

	"github.com/hearthctl/hearthctl/internal/device"
	"github.com/hearthctl/hearthctl/internal/override"
	"github.com/hearthctl/hearthctl/internal/safety"
	"github.com/hearthctl/hearthctl/internal/system"
)

type fakeOverrides struct {
	ov  override.Override
	ok  bool
	err error
}

func (f fakeOverrides) ResolveEffectiveForDevice(string, string) (override.Override, bool, error) {
	return f.ov, f.ok, f.err
}

type fakeSnapshots struct {
	snaps map[device.ID]device.Snapshot
}

func (f fakeSnapshots) FindSnapshot(id device.ID) (device.Snapshot, bool) {
	s, ok := f.snaps[id]
	return s, ok
}

func mustID(t *testing.T, controller, component string) device.ID {
	t.Helper()
	id, err := device.NewID(controller, component)
	if err != nil {
		t.Fatalf("NewID: %v", err)
	}
	return id
}

func TestCalculateReturnsNoValueWithoutIntentOrOverride(t *testing.T) {
	calc := New(fakeOverrides{}, fakeSnapshots{}, safety.NewEngine(nil, nil))
	id := mustID(t, "esp", "relay")
	res := calc.Calculate(device.Snapshot{ID: id, Type: device.TypeRelay}, nil, nil)
	if res.Kind() != KindNoValue {
		t.Fatalf("expected NoValue, got %v", res.Kind())
	}
}

func TestCalculateFromIntentWhenNoOverride(t *testing.T) {
	calc := New(fakeOverrides{}, fakeSnapshots{}, safety.NewEngine(nil, nil))
	id := mustID(t, "esp", "relay")
	intent := &device.UserIntent{ID: id, Type: device.TypeRelay, Value: device.NewRelayValue(true)}
	res := calc.Calculate(device.Snapshot{ID: id, Type: device.TypeRelay, Intent: intent}, nil, nil)
	if res.Kind() != KindFromIntent {
		t.Fatalf("expected FromIntent, got %v", res.Kind())
	}
	on, _ := res.Desired().Value.Relay()
	if !on {
		t.Fatal("expected desired relay on")
	}
}

func TestCalculateFromOverrideTakesPrecedenceOverIntent(t *testing.T) {
	id := mustID(t, "esp", "relay")
	ov := override.Override{TargetID: id.String(), Category: override.CategoryManual, Value: device.NewRelayValue(false), Reason: "manual off"}
	calc := New(fakeOverrides{ov: ov, ok: true}, fakeSnapshots{}, safety.NewEngine(nil, nil))

	intent := &device.UserIntent{ID: id, Type: device.TypeRelay, Value: device.NewRelayValue(true)}
	res := calc.Calculate(device.Snapshot{ID: id, Type: device.TypeRelay, Intent: intent}, nil, nil)
	if res.Kind() != KindFromOverride {
		t.Fatalf("expected FromOverride, got %v", res.Kind())
	}
	if res.Reason() != "manual off" {
		t.Fatalf("expected override reason to be carried, got %q", res.Reason())
	}
}

func TestCalculateSafetyModifiedClampsFanSpeed(t *testing.T) {
	id := mustID(t, "esp", "fan")
	intentValue, _ := device.NewFanValue(4)
	intent := &device.UserIntent{ID: id, Type: device.TypeFan, Value: intentValue}

	engine := safety.NewEngine([]safety.Rule{safety.NewMaxFanSpeed(2)}, nil)
	calc := New(fakeOverrides{}, fakeSnapshots{}, engine)

	res := calc.Calculate(device.Snapshot{ID: id, Type: device.TypeFan, Intent: intent}, nil, nil)
	if res.Kind() != KindSafetyModified {
		t.Fatalf("expected SafetyModified, got %v", res.Kind())
	}
	speed, _ := res.Desired().Value.Fan()
	if speed != 2 {
		t.Fatalf("expected clamp to 2, got %d", speed)
	}
}

func TestCalculateSafetyRefusedBlocksFireWhilePumpRuns(t *testing.T) {
	fireID := mustID(t, "esp", "fire")
	pumpID := mustID(t, "esp", "pump")
	sys := &system.FunctionalSystem{
		ID:        "sys-1",
		DeviceIDs: map[device.ID]struct{}{fireID: {}, pumpID: {}},
	}

	intent := &device.UserIntent{ID: fireID, Type: device.TypeRelay, Value: device.NewRelayValue(false)}
	snaps := fakeSnapshots{snaps: map[device.ID]device.Snapshot{
		pumpID: {ID: pumpID, Type: device.TypeRelay, Desired: &device.DesiredDeviceState{ID: pumpID, Type: device.TypeRelay, Value: device.NewRelayValue(true)}},
	}}
	engine := safety.NewEngine([]safety.Rule{safety.NewPumpFireInterlock()}, nil)
	calc := New(fakeOverrides{}, snaps, engine)

	res := calc.Calculate(device.Snapshot{ID: fireID, Type: device.TypeRelay, Intent: intent}, sys, nil)
	if res.Kind() != KindSafetyRefused {
		t.Fatalf("expected SafetyRefused, got %v", res.Kind())
	}
	if res.BlockingRuleID() != "PUMP_FIRE_INTERLOCK" {
		t.Fatalf("expected blocking rule id PUMP_FIRE_INTERLOCK, got %q", res.BlockingRuleID())
	}
}
