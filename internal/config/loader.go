package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/hearthctl/hearthctl/internal/device"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

func parseDuration(field, s string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", field, s, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s: duration must be positive, got %q", field, s)
	}
	return d, nil
}

// Load reads and parses a YAML configuration file at path.
// If path does not exist or is empty, it returns an empty Config with no errors.
// If the YAML is malformed, it returns nil config with a parse error.
// For validation errors, it returns a valid config with invalid entries stripped
// plus errors describing what was removed.
func Load(path string) (*Config, []error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Config{}, nil
		}
		return nil, []error{fmt.Errorf("failed to read config file: %w", err)}
	}

	if len(strings.TrimSpace(string(data))) == 0 {
		return &Config{}, nil
	}

	// Expand ${ENV_VAR} references before parsing YAML
	data = []byte(os.Expand(string(data), os.Getenv))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, []error{fmt.Errorf("failed to parse config YAML: %w", err)}
	}

	var validationErrors []error

	if cfg.Reconciler.Interval != "" {
		if _, err := parseDuration("reconciler.interval", cfg.Reconciler.Interval); err != nil {
			validationErrors = append(validationErrors, err)
			cfg.Reconciler.Interval = ""
		}
	}
	if cfg.Sweeper.Interval != "" {
		if _, err := parseDuration("sweeper.interval", cfg.Sweeper.Interval); err != nil {
			validationErrors = append(validationErrors, err)
			cfg.Sweeper.Interval = ""
		}
	}
	if cfg.Idempotency.TTL != "" {
		if _, err := parseDuration("idempotency.ttl", cfg.Idempotency.TTL); err != nil {
			validationErrors = append(validationErrors, err)
			cfg.Idempotency.TTL = ""
		}
	}

	validSystems := make([]SystemDeclaration, 0, len(cfg.Systems))
	seenNames := make(map[string]struct{}, len(cfg.Systems))
	for i, sys := range cfg.Systems {
		name := strings.TrimSpace(sys.Name)
		if name == "" {
			validationErrors = append(validationErrors, fmt.Errorf("systems[%d].name: required field missing", i))
			continue
		}
		if _, dup := seenNames[name]; dup {
			validationErrors = append(validationErrors, fmt.Errorf("systems[%d].name: duplicate system name %q", i, name))
			continue
		}
		if strings.TrimSpace(sys.Type) == "" {
			validationErrors = append(validationErrors, fmt.Errorf("systems[%d].type: required field missing", i))
			continue
		}

		validDevices := make([]DeviceDeclaration, 0, len(sys.Devices))
		for j, dev := range sys.Devices {
			field := fmt.Sprintf("systems[%d].devices[%d]", i, j)
			if strings.TrimSpace(dev.ControllerID) == "" || strings.TrimSpace(dev.ComponentID) == "" {
				validationErrors = append(validationErrors, fmt.Errorf("%s: controllerId and componentId are required", field))
				continue
			}
			if !device.Type(dev.Type).Valid() {
				validationErrors = append(validationErrors, fmt.Errorf("%s.type: unknown device type %q", field, dev.Type))
				continue
			}
			validDevices = append(validDevices, dev)
		}
		sys.Devices = validDevices

		seenNames[name] = struct{}{}
		validSystems = append(validSystems, sys)
	}
	cfg.Systems = validSystems

	validRules := make([]RuleDeclaration, 0, len(cfg.Rules))
	seenRuleIDs := make(map[string]struct{}, len(cfg.Rules))
	for i, rule := range cfg.Rules {
		field := fmt.Sprintf("rules[%d]", i)
		id := strings.TrimSpace(rule.ID)
		if id == "" {
			validationErrors = append(validationErrors, fmt.Errorf("%s.id: required field missing", field))
			continue
		}
		if _, dup := seenRuleIDs[id]; dup {
			validationErrors = append(validationErrors, fmt.Errorf("%s.id: duplicate rule id %q", field, id))
			continue
		}
		if strings.TrimSpace(rule.Condition) == "" {
			validationErrors = append(validationErrors, fmt.Errorf("%s.condition: required field missing", field))
			continue
		}
		switch rule.Action {
		case "ACCEPT", "REFUSE", "MODIFY":
		default:
			validationErrors = append(validationErrors, fmt.Errorf("%s.action: must be one of ACCEPT, REFUSE, MODIFY, got %q", field, rule.Action))
			continue
		}
		if rule.Action == "MODIFY" && strings.TrimSpace(rule.Expression) == "" {
			validationErrors = append(validationErrors, fmt.Errorf("%s.expression: required when action is MODIFY", field))
			continue
		}
		seenRuleIDs[id] = struct{}{}
		validRules = append(validRules, rule)
	}
	cfg.Rules = validRules

	if err := validate.Struct(cfg); err != nil {
		if _, ok := err.(*validator.InvalidValidationError); !ok {
			validationErrors = append(validationErrors, fmt.Errorf("config: %w", err))
		}
	}

	return &cfg, validationErrors
}
