package safety

import (
	"fmt"

	"github.com/hearthctl/hearthctl/internal/device"
	"github.com/hearthctl/hearthctl/internal/safety/expr"
)

// Action is the configurable rule's verdict-when-matched.
type Action string

const (
	ActionAccept Action = "ACCEPT"
	ActionRefuse Action = "REFUSE"
	ActionModify Action = "MODIFY"
)

// ConfigurableSpec is the declarative record a configurable rule is
// built from, before it is compiled into a Rule.
type ConfigurableSpec struct {
	ID          string
	Name        string
	Description string
	Category    Category
	Priority    int
	Enabled     bool
	Condition   string
	Action      Action
	Expression  string
	Reason      string
	Version     uint64
	FailOpen    bool
}

// configurable is a Rule backed by sandboxed expressions rather than Go
// code — the same Rule capability applied to an expression tree instead
// of a value type holding constants.
type configurable struct {
	spec      ConfigurableSpec
	condition *expr.Expr
	action    *expr.Expr // nil when Action == ACCEPT (nothing further to compute)
}

// NewConfigurable compiles a ConfigurableSpec's condition/expression
// strings and returns the resulting Rule. A compile error here is a
// config-time error, not a fail-closed evaluation-time one — the caller
// (config loader) should reject the rule set rather than register a rule
// that will always fail closed.
func NewConfigurable(spec ConfigurableSpec) (Rule, error) {
	cond, err := expr.Parse(spec.Condition)
	if err != nil {
		return nil, fmt.Errorf("safety: rule %s: invalid condition: %w", spec.ID, err)
	}
	var action *expr.Expr
	if spec.Action != ActionAccept && spec.Expression != "" {
		action, err = expr.Parse(spec.Expression)
		if err != nil {
			return nil, fmt.Errorf("safety: rule %s: invalid expression: %w", spec.ID, err)
		}
	}
	return configurable{spec: spec, condition: cond, action: action}, nil
}

func (r configurable) ID() string         { return r.spec.ID }
func (r configurable) Name() string       { return r.spec.Name }
func (r configurable) Category() Category { return r.spec.Category }
func (r configurable) Priority() int      { return r.spec.Priority }

func (r configurable) AppliesTo(ctx Context) bool {
	if !r.spec.Enabled {
		return false
	}
	match, err := r.condition.EvalBool(ctx.env())
	if err != nil {
		// AppliesTo has no error channel of its own; a condition that
		// fails to evaluate is treated as matching so Evaluate can
		// apply the configured fail-closed/fail-open policy.
		return true
	}
	return match
}

func (r configurable) Evaluate(ctx Context) (Outcome, error) {
	switch r.spec.Action {
	case ActionAccept:
		return Accepted(), nil
	case ActionRefuse:
		if _, err := r.condition.EvalBool(ctx.env()); err != nil {
			return r.onError(err)
		}
		return Refused(r.spec.ID, r.spec.Reason, ""), nil
	case ActionModify:
		if r.action == nil {
			return Outcome{}, fmt.Errorf("safety: rule %s: MODIFY action requires a non-empty expression", r.spec.ID)
		}
		v, err := r.action.Eval(ctx.env())
		if err != nil {
			return r.onError(err)
		}
		modified, err := valueFromEnv(ctx.DeviceType, v)
		if err != nil {
			return r.onError(err)
		}
		return Modified(r.spec.ID, ctx.ProposedValue, modified, r.spec.Reason), nil
	default:
		return Outcome{}, fmt.Errorf("safety: rule %s: unknown action %q", r.spec.ID, r.spec.Action)
	}
}

func (r configurable) onError(err error) (Outcome, error) {
	if r.spec.FailOpen {
		return Accepted(), nil
	}
	return Outcome{}, err
}

// valueFromEnv converts an expression result back into a device.Value of
// the expected type, the inverse of Context.env's valueEnv projection.
func valueFromEnv(typ device.Type, v any) (device.Value, error) {
	switch typ {
	case device.TypeRelay:
		b, ok := v.(bool)
		if !ok {
			return device.Value{}, fmt.Errorf("safety: expected boolean result for relay device, got %T", v)
		}
		return device.NewRelayValue(b), nil
	case device.TypeFan:
		f, ok := v.(float64)
		if !ok {
			return device.Value{}, fmt.Errorf("safety: expected numeric result for fan device, got %T", v)
		}
		return device.NewFanValue(int(f))
	default:
		return device.Value{}, fmt.Errorf("safety: unsupported device type %q", typ)
	}
}
