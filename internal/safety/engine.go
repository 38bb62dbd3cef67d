package safety

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Recorder receives evaluation metrics. Satisfied by
// internal/metrics.Recorder; a nil Recorder is legal and evaluation
// proceeds unobserved.
type Recorder interface {
	RulesEvaluated(n int)
	RuleRefused()
	RuleModified()
	RuleAccepted()
	EvaluationDuration(d time.Duration)
}

// Result is the engine-level outcome of a full rule-set evaluation: the
// final Outcome plus the ids of every rule that was invoked, in order.
type Result struct {
	Outcome  Outcome
	Final    Context // carries the post-evaluation proposed value
	Evaluated []string
}

// Engine is the SafetyRuleEngine. Rules are held pre-sorted by
// category descending then priority ascending; ties keep insertion order
// because sort.SliceStable is used.
type Engine struct {
	mu       sync.RWMutex
	rules    []Rule
	recorder Recorder
}

// NewEngine builds an Engine over rules, ordering them by category
// descending, then priority ascending, ties broken by the order rules
// were passed in.
func NewEngine(rules []Rule, recorder Recorder) *Engine {
	return &Engine{rules: orderRules(rules), recorder: recorder}
}

func orderRules(rules []Rule) []Rule {
	ordered := make([]Rule, len(rules))
	copy(ordered, rules)
	sort.SliceStable(ordered, func(i, j int) bool {
		ri, rj := ordered[i].Category().Rank(), ordered[j].Category().Rank()
		if ri != rj {
			return ri > rj
		}
		return ordered[i].Priority() < ordered[j].Priority()
	})
	return ordered
}

// Reload atomically replaces the rule set, re-ordering it the same way
// NewEngine does. Safe to call while Evaluate is running concurrently on
// other goroutines — lets the config watcher hot-reload rules without
// restarting the engine.
func (e *Engine) Reload(rules []Rule) {
	ordered := orderRules(rules)
	e.mu.Lock()
	e.rules = ordered
	e.mu.Unlock()
}

// Evaluate runs the full ordered rule set against ctx: each applicable
// rule sees the running "current" value as ctx.ProposedValue; a Refused
// short-circuits; a Modified rewrites current and continues; a rule that
// errors is treated as Refused ("evaluation failed") — fail closed.
func (e *Engine) Evaluate(ctx Context) Result {
	e.mu.RLock()
	rules := e.rules
	e.mu.RUnlock()
	return e.evaluate(ctx, rules)
}

// EvaluateHardcodedOnly restricts evaluation to HARDCODED_SAFETY rules,
// for use when the sandboxed expression engine is unavailable.
func (e *Engine) EvaluateHardcodedOnly(ctx Context) Result {
	e.mu.RLock()
	defer e.mu.RUnlock()
	hardcoded := make([]Rule, 0, len(e.rules))
	for _, r := range e.rules {
		if r.Category() == CategoryHardcodedSafety {
			hardcoded = append(hardcoded, r)
		}
	}
	return e.evaluate(ctx, hardcoded)
}

func (e *Engine) evaluate(ctx Context, rules []Rule) Result {
	start := time.Now()
	current := ctx.ProposedValue
	evaluated := make([]string, 0, len(rules))

	for _, rule := range rules {
		trial := ctx.WithProposedValue(current)
		if !rule.AppliesTo(trial) {
			continue
		}
		evaluated = append(evaluated, rule.ID())

		outcome, err := safeEvaluate(rule, trial)
		if err != nil {
			res := Result{
				Outcome:   Refused(rule.ID(), "evaluation failed", err.Error()),
				Final:     trial,
				Evaluated: evaluated,
			}
			e.recordOutcome(res.Outcome)
			e.record(evaluated, &start)
			return res
		}

		switch outcome.Kind() {
		case KindRefused:
			e.recordOutcome(outcome)
			e.record(evaluated, &start)
			return Result{Outcome: outcome, Final: trial, Evaluated: evaluated}
		case KindModified:
			_, _, modifiedValue, _ := outcome.Modification()
			current = modifiedValue
			continue
		case KindAccepted:
			continue
		}
	}

	final := ctx.WithProposedValue(current)
	var outcome Outcome
	if current.Equal(ctx.ProposedValue) {
		outcome = Accepted()
	} else {
		outcome = Modified("", ctx.ProposedValue, current, "")
	}
	e.recordOutcome(outcome)
	e.record(evaluated, &start)
	return Result{Outcome: outcome, Final: final, Evaluated: evaluated}
}

// safeEvaluate wraps rule.Evaluate, additionally converting a panic into
// an error so an engine bug in one rule cannot escape the loop — the
// engine as a whole must remain fail-closed.
func safeEvaluate(rule Rule, ctx Context) (outcome Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("rule %s panicked: %v", rule.ID(), r)
		}
	}()
	return rule.Evaluate(ctx)
}

func (e *Engine) record(evaluated []string, start *time.Time) {
	if e.recorder == nil {
		return
	}
	e.recorder.RulesEvaluated(len(evaluated))
	if start != nil {
		e.recorder.EvaluationDuration(time.Since(*start))
	}
}

func (e *Engine) recordOutcome(o Outcome) {
	if e.recorder == nil {
		return
	}
	switch o.Kind() {
	case KindRefused:
		e.recorder.RuleRefused()
	case KindModified:
		e.recorder.RuleModified()
	case KindAccepted:
		e.recorder.RuleAccepted()
	}
}
