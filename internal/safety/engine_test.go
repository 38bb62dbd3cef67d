package safety

import (
	"errors"
	"testing"

	"github.com/hearthctl/hearthctl/internal/device"
)

func mustID(t *testing.T, controller, component string) device.ID {
	t.Helper()
	id, err := device.NewID(controller, component)
	if err != nil {
		t.Fatalf("NewID: %v", err)
	}
	return id
}

func TestEngineOrdersByCategoryDescendingThenPriorityAscending(t *testing.T) {
	var order []string
	mk := func(id string, cat Category, prio int) Rule {
		return recordingRule{id: id, cat: cat, prio: prio, order: &order}
	}
	eng := NewEngine([]Rule{
		mk("b", CategorySystemSafety, 5),
		mk("a", CategoryHardcodedSafety, 1),
		mk("c", CategoryHardcodedSafety, 0),
	}, nil)

	eng.Evaluate(Context{DeviceID: mustID(t, "esp", "fan"), DeviceType: device.TypeFan, ProposedValue: device.NewRelayValue(true)})

	want := []string{"c", "a", "b"}
	if len(order) != len(want) {
		t.Fatalf("expected %v, got %v", want, order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, order)
		}
	}
}

type recordingRule struct {
	id    string
	cat   Category
	prio  int
	order *[]string
}

func (r recordingRule) ID() string         { return r.id }
func (r recordingRule) Name() string       { return r.id }
func (r recordingRule) Category() Category { return r.cat }
func (r recordingRule) Priority() int      { return r.prio }
func (r recordingRule) AppliesTo(Context) bool { return true }
func (r recordingRule) Evaluate(Context) (Outcome, error) {
	*r.order = append(*r.order, r.id)
	return Accepted(), nil
}

func TestEngineStopsAtFirstRefusal(t *testing.T) {
	var order []string
	eng := NewEngine([]Rule{
		recordingRule{id: "first", cat: CategoryHardcodedSafety, prio: 0, order: &order},
		refusingRule{id: "second"},
		recordingRule{id: "third", cat: CategoryHardcodedSafety, prio: 2, order: &order},
	}, nil)

	res := eng.Evaluate(Context{DeviceID: mustID(t, "esp", "fan"), ProposedValue: device.NewRelayValue(true)})
	if res.Outcome.Kind() != KindRefused {
		t.Fatalf("expected Refused, got %v", res.Outcome.Kind())
	}
	if len(order) != 1 || order[0] != "first" {
		t.Fatalf("expected only 'first' to have run, ran %v", order)
	}
}

type refusingRule struct{ id string }

func (r refusingRule) ID() string             { return r.id }
func (r refusingRule) Name() string           { return r.id }
func (r refusingRule) Category() Category     { return CategoryHardcodedSafety }
func (r refusingRule) Priority() int          { return 1 }
func (r refusingRule) AppliesTo(Context) bool { return true }
func (r refusingRule) Evaluate(Context) (Outcome, error) {
	return Refused(r.id, "nope", ""), nil
}

func TestEngineChainsModifications(t *testing.T) {
	eng := NewEngine([]Rule{
		modifyingRule{id: "cap3", to: 3},
		modifyingRule{id: "cap1", to: 1},
	}, nil)

	fan, _ := device.NewFanValue(4)
	res := eng.Evaluate(Context{DeviceID: mustID(t, "esp", "fan"), DeviceType: device.TypeFan, ProposedValue: fan})
	if res.Outcome.Kind() != KindModified {
		t.Fatalf("expected Modified, got %v", res.Outcome.Kind())
	}
	_, _, final, _ := res.Outcome.Modification()
	speed, _ := final.Fan()
	if speed != 1 {
		t.Fatalf("expected chained modification to settle at 1, got %d", speed)
	}
}

type modifyingRule struct {
	id string
	to int
}

func (r modifyingRule) ID() string             { return r.id }
func (r modifyingRule) Name() string           { return r.id }
func (r modifyingRule) Category() Category     { return CategoryHardcodedSafety }
func (r modifyingRule) Priority() int          { return 0 }
func (r modifyingRule) AppliesTo(Context) bool { return true }
func (r modifyingRule) Evaluate(ctx Context) (Outcome, error) {
	v, _ := device.NewFanValue(r.to)
	return Modified(r.id, ctx.ProposedValue, v, ""), nil
}

func TestEngineAcceptsWhenNoRuleAltersValue(t *testing.T) {
	eng := NewEngine(nil, nil)
	proposed := device.NewRelayValue(true)
	res := eng.Evaluate(Context{DeviceID: mustID(t, "esp", "relay"), ProposedValue: proposed})
	if res.Outcome.Kind() != KindAccepted {
		t.Fatalf("expected Accepted, got %v", res.Outcome.Kind())
	}
}

func TestEngineReloadReplacesRuleSet(t *testing.T) {
	eng := NewEngine([]Rule{erroringRule{}}, nil)
	eng.Reload(nil)
	res := eng.Evaluate(Context{DeviceID: mustID(t, "esp", "relay"), ProposedValue: device.NewRelayValue(true)})
	if res.Outcome.Kind() != KindAccepted {
		t.Fatalf("expected Accepted after reloading to an empty rule set, got %v", res.Outcome.Kind())
	}
}

func TestEngineFailsClosedOnRuleError(t *testing.T) {
	eng := NewEngine([]Rule{erroringRule{}}, nil)
	res := eng.Evaluate(Context{DeviceID: mustID(t, "esp", "relay"), ProposedValue: device.NewRelayValue(true)})
	if res.Outcome.Kind() != KindRefused {
		t.Fatalf("expected erroring rule to fail closed into Refused, got %v", res.Outcome.Kind())
	}
}

type erroringRule struct{}

func (erroringRule) ID() string             { return "boom" }
func (erroringRule) Name() string           { return "boom" }
func (erroringRule) Category() Category     { return CategoryHardcodedSafety }
func (erroringRule) Priority() int          { return 0 }
func (erroringRule) AppliesTo(Context) bool { return true }
func (erroringRule) Evaluate(Context) (Outcome, error) {
	return Outcome{}, errors.New("boom")
}

func TestEngineEvaluateHardcodedOnlySkipsConfigurableCategory(t *testing.T) {
	var order []string
	eng := NewEngine([]Rule{
		recordingRule{id: "hard", cat: CategoryHardcodedSafety, prio: 0, order: &order},
		recordingRule{id: "soft", cat: CategorySystemSafety, prio: 0, order: &order},
	}, nil)

	eng.EvaluateHardcodedOnly(Context{DeviceID: mustID(t, "esp", "relay"), ProposedValue: device.NewRelayValue(true)})
	if len(order) != 1 || order[0] != "hard" {
		t.Fatalf("expected only hardcoded rule to run, ran %v", order)
	}
}

func TestPumpFireInterlockRefusesTurningFireOffWhilePumpRuns(t *testing.T) {
	rule := NewPumpFireInterlock()
	fireID := mustID(t, "esp", "fire")
	pumpID := mustID(t, "esp", "pump")

	ctx := Context{
		DeviceID:      fireID,
		ProposedValue: device.NewRelayValue(false),
		RelatedDeviceStates: map[device.ID]device.Snapshot{
			pumpID: {Desired: &device.DesiredDeviceState{Value: device.NewRelayValue(true)}},
		},
	}
	if !rule.AppliesTo(ctx) {
		t.Fatal("expected rule to apply")
	}
	outcome, err := rule.Evaluate(ctx)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if outcome.Kind() != KindRefused {
		t.Fatalf("expected Refused, got %v", outcome.Kind())
	}
}

func TestFirePumpInterlockForcesPumpBackOn(t *testing.T) {
	rule := NewFirePumpInterlock()
	fireID := mustID(t, "esp", "fire")
	pumpID := mustID(t, "esp", "pump")

	ctx := Context{
		DeviceID:      pumpID,
		ProposedValue: device.NewRelayValue(false),
		RelatedDeviceStates: map[device.ID]device.Snapshot{
			fireID: {Desired: &device.DesiredDeviceState{Value: device.NewRelayValue(true)}},
		},
	}
	outcome, err := rule.Evaluate(ctx)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if outcome.Kind() != KindModified {
		t.Fatalf("expected Modified, got %v", outcome.Kind())
	}
	_, _, modified, _ := outcome.Modification()
	on, _ := modified.Relay()
	if !on {
		t.Fatal("expected pump to be forced back on")
	}
}

func TestMaxFanSpeedClampsOverLimit(t *testing.T) {
	rule := NewMaxFanSpeed(2)
	fan, _ := device.NewFanValue(4)
	ctx := Context{DeviceID: mustID(t, "esp", "fan"), DeviceType: device.TypeFan, ProposedValue: fan}
	if !rule.AppliesTo(ctx) {
		t.Fatal("expected rule to apply to over-limit fan speed")
	}
	outcome, err := rule.Evaluate(ctx)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	_, _, modified, _ := outcome.Modification()
	speed, _ := modified.Fan()
	if speed != 2 {
		t.Fatalf("expected clamp to 2, got %d", speed)
	}
}

func TestMaxFanSpeedDoesNotApplyWithinLimit(t *testing.T) {
	rule := NewMaxFanSpeed(4)
	fan, _ := device.NewFanValue(2)
	ctx := Context{DeviceID: mustID(t, "esp", "fan"), DeviceType: device.TypeFan, ProposedValue: fan}
	if rule.AppliesTo(ctx) {
		t.Fatal("expected rule not to apply within limit")
	}
}
