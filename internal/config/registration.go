package config

import (
	"fmt"

	"github.com/hearthctl/hearthctl/internal/device"
	"github.com/hearthctl/hearthctl/internal/safety"
	"github.com/hearthctl/hearthctl/internal/system"
)

// SystemRegistry is the subset of system.Registry config registration needs.
type SystemRegistry interface {
	Create(typ, name string, configuration map[string]string) (system.FunctionalSystem, error)
	AddDevice(systemID string, id device.ID) (system.FunctionalSystem, error)
	SetFailSafeDefault(systemID string, id device.ID, value device.Value) (system.FunctionalSystem, error)
	List() []system.FunctionalSystem
}

// RegisterSystems creates every declared functional system, registers its
// member devices, and records any declared fail-safe defaults. Registry
// has no delete-system operation, so reload only adds systems that are new
// by name; systems already present are left untouched.
func RegisterSystems(registry SystemRegistry, cfg *Config) []error {
	if cfg == nil {
		return nil
	}

	existing := make(map[string]struct{})
	for _, fs := range registry.List() {
		existing[fs.Name] = struct{}{}
	}

	var errs []error
	for _, decl := range cfg.Systems {
		if _, ok := existing[decl.Name]; ok {
			continue
		}
		fs, err := registry.Create(decl.Type, decl.Name, decl.Configuration)
		if err != nil {
			errs = append(errs, fmt.Errorf("config: create system %q: %w", decl.Name, err))
			continue
		}
		for _, dd := range decl.Devices {
			id, err := device.NewID(dd.ControllerID, dd.ComponentID)
			if err != nil {
				errs = append(errs, fmt.Errorf("config: system %q: %w", decl.Name, err))
				continue
			}
			if _, err := registry.AddDevice(fs.ID, id); err != nil {
				errs = append(errs, fmt.Errorf("config: system %q: add device %s: %w", decl.Name, id, err))
				continue
			}
			if dd.FailSafe == "" {
				continue
			}
			value, err := parseFailSafeValue(device.Type(dd.Type), dd.FailSafe)
			if err != nil {
				errs = append(errs, fmt.Errorf("config: system %q: device %s: %w", decl.Name, id, err))
				continue
			}
			if _, err := registry.SetFailSafeDefault(fs.ID, id, value); err != nil {
				errs = append(errs, fmt.Errorf("config: system %q: fail-safe default for %s: %w", decl.Name, id, err))
			}
		}
	}
	return errs
}

// parseFailSafeValue interprets a fail-safe literal against the device
// type it applies to: "true"/"false" for RELAY, an integer speed for FAN.
func parseFailSafeValue(typ device.Type, raw string) (device.Value, error) {
	switch typ {
	case device.TypeRelay:
		switch raw {
		case "true", "on":
			return device.NewRelayValue(true), nil
		case "false", "off":
			return device.NewRelayValue(false), nil
		default:
			return device.Value{}, fmt.Errorf("failSafe: expected true/false for RELAY, got %q", raw)
		}
	case device.TypeFan:
		var speed int
		if _, err := fmt.Sscanf(raw, "%d", &speed); err != nil {
			return device.Value{}, fmt.Errorf("failSafe: expected an integer speed for FAN, got %q", raw)
		}
		return device.NewFanValue(speed)
	default:
		return device.Value{}, fmt.Errorf("failSafe: device type %q has no fail-safe representation", typ)
	}
}

// BuildSafetyRules compiles every declared rule into a safety.Rule,
// returning the rules that compiled successfully plus an error per rule
// that didn't. A rule set with compile errors should not be handed to
// safety.NewEngine/Engine.Reload until the offending declarations are
// fixed — an engine running on a partial rule set silently drops the
// broken rule's protection.
func BuildSafetyRules(cfg *Config) ([]safety.Rule, []error) {
	if cfg == nil {
		return nil, nil
	}
	var rules []safety.Rule
	var errs []error
	for _, decl := range cfg.Rules {
		spec := safety.ConfigurableSpec{
			ID:          decl.ID,
			Name:        decl.Name,
			Description: decl.Description,
			Category:    safety.Category(decl.Category),
			Priority:    decl.Priority,
			Enabled:     decl.Enabled,
			Condition:   decl.Condition,
			Action:      safety.Action(decl.Action),
			Expression:  decl.Expression,
			Reason:      decl.Reason,
			FailOpen:    decl.FailOpen,
		}
		rule, err := safety.NewConfigurable(spec)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		rules = append(rules, rule)
	}
	return rules, errs
}
