package config

import (
	"testing"

	"github.com/hearthctl/hearthctl/internal/device"
	"github.com/hearthctl/hearthctl/internal/safety"
	"github.com/hearthctl/hearthctl/internal/system"
)

func TestRegisterSystems_CreatesSystemsDevicesAndFailSafeDefaults(t *testing.T) {
	registry := system.NewRegistry()
	cfg := &Config{
		Systems: []SystemDeclaration{
			{
				Name:          "wood-stove",
				Type:          "HEATING",
				Configuration: map[string]string{"maxFanSpeed": "3"},
				Devices: []DeviceDeclaration{
					{ControllerID: "esp-stove", ComponentID: "fan", Type: "FAN", FailSafe: "0"},
					{ControllerID: "esp-stove", ComponentID: "igniter", Type: "RELAY", FailSafe: "false"},
				},
			},
		},
	}

	errs := RegisterSystems(registry, cfg)
	if len(errs) != 0 {
		t.Fatalf("expected no errors, got %v", errs)
	}

	systems := registry.List()
	if len(systems) != 1 {
		t.Fatalf("expected 1 system, got %d", len(systems))
	}
	fs := systems[0]
	if fs.Name != "wood-stove" || fs.Type != "HEATING" {
		t.Errorf("unexpected system: %+v", fs)
	}
	if len(fs.DeviceIDs) != 2 {
		t.Fatalf("expected 2 member devices, got %d", len(fs.DeviceIDs))
	}

	fanID, _ := device.NewID("esp-stove", "fan")
	if _, ok := fs.FailSafeDefaults[fanID]; !ok {
		t.Error("expected fail-safe default recorded for fan")
	}
}

func TestRegisterSystems_SkipsAlreadyExistingSystemsByName(t *testing.T) {
	registry := system.NewRegistry()
	registry.Create("HEATING", "wood-stove", nil)

	cfg := &Config{
		Systems: []SystemDeclaration{
			{Name: "wood-stove", Type: "HEATING"},
		},
	}
	RegisterSystems(registry, cfg)

	if len(registry.List()) != 1 {
		t.Fatalf("expected no duplicate system created, got %d", len(registry.List()))
	}
}

func TestRegisterSystems_InvalidFailSafeReportsErrorButKeepsDevice(t *testing.T) {
	registry := system.NewRegistry()
	cfg := &Config{
		Systems: []SystemDeclaration{
			{
				Name: "sys",
				Type: "HEATING",
				Devices: []DeviceDeclaration{
					{ControllerID: "esp", ComponentID: "relay", Type: "RELAY", FailSafe: "not-a-bool"},
				},
			},
		},
	}

	errs := RegisterSystems(registry, cfg)
	if len(errs) != 1 {
		t.Fatalf("expected 1 error, got %d: %v", len(errs), errs)
	}

	fs := registry.List()[0]
	if len(fs.DeviceIDs) != 1 {
		t.Fatal("expected device to still be registered despite bad fail-safe value")
	}
}

func TestRegisterSystems_NilConfig(t *testing.T) {
	registry := system.NewRegistry()
	if errs := RegisterSystems(registry, nil); errs != nil {
		t.Fatalf("expected nil errs for nil config, got %v", errs)
	}
	if len(registry.List()) != 0 {
		t.Error("expected empty registry")
	}
}

func TestBuildSafetyRules_CompilesConfigurableRules(t *testing.T) {
	cfg := &Config{
		Rules: []RuleDeclaration{
			{
				ID:        "NO_NIGHT_MAX_FAN",
				Category:  string(safety.CategorySystemSafety),
				Enabled:   true,
				Condition: `deviceType == "FAN" and metadata["hour"] > 22`,
				Action:    "REFUSE",
				Reason:    "fan changes blocked overnight",
			},
		},
	}

	rules, errs := BuildSafetyRules(cfg)
	if len(errs) != 0 {
		t.Fatalf("expected no errors, got %v", errs)
	}
	if len(rules) != 1 {
		t.Fatalf("expected 1 compiled rule, got %d", len(rules))
	}
	if rules[0].ID() != "NO_NIGHT_MAX_FAN" {
		t.Errorf("unexpected rule id %q", rules[0].ID())
	}
}

func TestBuildSafetyRules_ReportsCompileErrorsPerRule(t *testing.T) {
	cfg := &Config{
		Rules: []RuleDeclaration{
			{ID: "bad", Condition: `deviceType ==`, Action: "REFUSE"},
			{ID: "good", Condition: "true", Action: "ACCEPT"},
		},
	}

	rules, errs := BuildSafetyRules(cfg)
	if len(errs) != 1 {
		t.Fatalf("expected 1 compile error, got %d: %v", len(errs), errs)
	}
	if len(rules) != 1 || rules[0].ID() != "good" {
		t.Fatalf("expected only the good rule compiled, got %+v", rules)
	}
}

func TestBuildSafetyRules_NilConfig(t *testing.T) {
	rules, errs := BuildSafetyRules(nil)
	if rules != nil || errs != nil {
		t.Fatal("expected nil rules and errs for nil config")
	}
}
