// Package expr is a small, read-only, sandboxed expression evaluator for
// configurable safety rule condition/action strings. The grammar is
// deliberately tiny: literals, bound identifiers, map indexing,
// arithmetic/comparison/logical operators. There is no function-call
// syntax, no method syntax, and no way to construct a composite value —
// the forbidden surfaces (method invocation, static access, construction
// of non-whitelisted types) simply don't exist in the grammar.
package expr

import (
	"context"
	"fmt"
	"time"
)

// EvalTimeout is the hard per-rule evaluation timeout.
const EvalTimeout = 100 * time.Millisecond

// Eval evaluates e against env, enforcing EvalTimeout in a goroutine race
// so a pathological expression cannot hang its caller. A timeout or
// evaluation error returns a non-nil error so the caller can fail closed.
func (e *Expr) Eval(env map[string]any) (any, error) {
	ctx, cancel := context.WithTimeout(context.Background(), EvalTimeout)
	defer cancel()

	type result struct {
		v   any
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := e.eval(env)
		ch <- result{v, err}
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("expr: evaluation exceeded %s timeout", EvalTimeout)
	case r := <-ch:
		return r.v, r.err
	}
}

// EvalBool evaluates e and coerces the result to a bool.
func (e *Expr) EvalBool(env map[string]any) (bool, error) {
	v, err := e.Eval(env)
	if err != nil {
		return false, err
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("expr: expected boolean result, got %T", v)
	}
	return b, nil
}

// Eval is a convenience wrapper that parses src and evaluates it in one
// step, for one-off callers that don't hold onto the compiled Expr.
func Eval(src string, env map[string]any) (any, error) {
	e, err := Parse(src)
	if err != nil {
		return nil, fmt.Errorf("expr: parse: %w", err)
	}
	return e.Eval(env)
}

// EvalBool is the string-argument convenience form of (*Expr).EvalBool.
func EvalBool(src string, env map[string]any) (bool, error) {
	e, err := Parse(src)
	if err != nil {
		return false, fmt.Errorf("expr: parse: %w", err)
	}
	return e.EvalBool(env)
}
