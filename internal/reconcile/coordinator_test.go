package reconcile

import (
	"testing"

	"github.com/hearthctl/hearthctl/internal/calculator"
	"github.com/hearthctl/hearthctl/internal/device"
	"github.com/hearthctl/hearthctl/internal/override"
	"github.com/hearthctl/hearthctl/internal/safety"
	"github.com/hearthctl/hearthctl/internal/system"
)

type fakeTwins struct {
	snaps       map[device.ID]device.Snapshot
	savedDesired []device.DesiredDeviceState
}

func (f *fakeTwins) FindSnapshot(id device.ID) (device.Snapshot, bool) {
	s, ok := f.snaps[id]
	return s, ok
}

func (f *fakeTwins) SaveDesired(d device.DesiredDeviceState) error {
	f.savedDesired = append(f.savedDesired, d)
	return nil
}

func (f *fakeTwins) FindAllActiveOutputDevices() []device.DesiredDeviceState {
	return f.savedDesired
}

type fakeSystemFinder struct {
	byDevice map[device.ID]system.FunctionalSystem
	byID     map[string]system.FunctionalSystem
}

func (f fakeSystemFinder) FindByDevice(id device.ID) (system.FunctionalSystem, bool) {
	fs, ok := f.byDevice[id]
	return fs, ok
}

func (f fakeSystemFinder) FindByID(id string) (system.FunctionalSystem, bool) {
	fs, ok := f.byID[id]
	return fs, ok
}

type fakeOverrides struct{}

func (fakeOverrides) ResolveEffectiveForDevice(string, string) (override.Override, bool, error) {
	return override.Override{}, false, nil
}

type recordingPublisher struct{ published []any }

func (p *recordingPublisher) Publish(event any, orderKey string) { p.published = append(p.published, event) }

func mustID(t *testing.T, controller, component string) device.ID {
	t.Helper()
	id, err := device.NewID(controller, component)
	if err != nil {
		t.Fatalf("NewID: %v", err)
	}
	return id
}

func TestReconcileDeviceNotFound(t *testing.T) {
	twins := &fakeTwins{snaps: map[device.ID]device.Snapshot{}}
	calc := calculator.New(fakeOverrides{}, twins, safety.NewEngine(nil, nil))
	coord := New(twins, fakeSystemFinder{}, calc, nil, nil)

	id := mustID(t, "esp", "relay")
	res, err := coord.Reconcile(id, nil)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if res.Kind() != KindDeviceNotFound {
		t.Fatalf("expected DeviceNotFound, got %v", res.Kind())
	}
}

func TestReconcileFromIntentSavesDesiredAndPublishes(t *testing.T) {
	id := mustID(t, "esp", "relay")
	intent := &device.UserIntent{ID: id, Type: device.TypeRelay, Value: device.NewRelayValue(true)}
	twins := &fakeTwins{snaps: map[device.ID]device.Snapshot{
		id: {ID: id, Type: device.TypeRelay, Intent: intent},
	}}
	calc := calculator.New(fakeOverrides{}, twins, safety.NewEngine(nil, nil))
	pub := &recordingPublisher{}
	coord := New(twins, fakeSystemFinder{}, calc, pub, nil)

	res, err := coord.Reconcile(id, nil)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if res.Kind() != KindDesiredCalculated {
		t.Fatalf("expected DesiredCalculated, got %v", res.Kind())
	}
	if len(twins.savedDesired) != 1 {
		t.Fatalf("expected 1 saved desired state, got %d", len(twins.savedDesired))
	}
	if len(pub.published) != 1 {
		t.Fatalf("expected 1 published event, got %d", len(pub.published))
	}
}

func TestReconcileSafetyRefusedDoesNotSaveDesired(t *testing.T) {
	fireID := mustID(t, "esp", "fire")
	pumpID := mustID(t, "esp", "pump")
	sys := system.FunctionalSystem{ID: "sys-1", DeviceIDs: map[device.ID]struct{}{fireID: {}, pumpID: {}}}

	intent := &device.UserIntent{ID: fireID, Type: device.TypeRelay, Value: device.NewRelayValue(false)}
	twins := &fakeTwins{snaps: map[device.ID]device.Snapshot{
		fireID: {ID: fireID, Type: device.TypeRelay, Intent: intent},
		pumpID: {ID: pumpID, Type: device.TypeRelay, Desired: &device.DesiredDeviceState{ID: pumpID, Type: device.TypeRelay, Value: device.NewRelayValue(true)}},
	}}
	systems := fakeSystemFinder{byDevice: map[device.ID]system.FunctionalSystem{fireID: sys, pumpID: sys}, byID: map[string]system.FunctionalSystem{"sys-1": sys}}
	calc := calculator.New(fakeOverrides{}, twins, safety.NewEngine([]safety.Rule{safety.NewPumpFireInterlock()}, nil))
	coord := New(twins, systems, calc, nil, nil)

	res, err := coord.Reconcile(fireID, nil)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if res.Kind() != KindRefused {
		t.Fatalf("expected Refused, got %v", res.Kind())
	}
	if res.BlockingRuleID() != "PUMP_FIRE_INTERLOCK" {
		t.Fatalf("expected blocking rule id, got %q", res.BlockingRuleID())
	}
	if len(twins.savedDesired) != 0 {
		t.Fatal("expected no desired state to be saved on refusal")
	}
}

func TestReconcileNoValueReturnsNoChange(t *testing.T) {
	id := mustID(t, "esp", "relay")
	twins := &fakeTwins{snaps: map[device.ID]device.Snapshot{
		id: {ID: id, Type: device.TypeRelay},
	}}
	calc := calculator.New(fakeOverrides{}, twins, safety.NewEngine(nil, nil))
	coord := New(twins, fakeSystemFinder{}, calc, nil, nil)

	res, err := coord.Reconcile(id, nil)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if res.Kind() != KindNoChange {
		t.Fatalf("expected NoChange, got %v", res.Kind())
	}
}
