// Package rules evaluates control-rule conditions and emits effect
// instructions. It is pure: rules never mutate the snapshot themselves; the
// scheduler applies SetValue effects and the caller applies the rest.
package rules

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/ganad831/doc-helper-sub004/internal/domain"
)

// EvalRule returns the rule's effect iff every condition holds against the
// snapshot. Conditions are conjunctive.
func EvalRule(rule domain.ControlRule, snap domain.Snapshot) (domain.Effect, bool) {
	for _, cond := range rule.Conditions {
		if !EvalCondition(cond, snap) {
			return domain.Effect{}, false
		}
	}
	effect := domain.Effect{RuleID: rule.ID, Target: rule.Target, Kind: rule.Effect}
	switch rule.Effect {
	case domain.EffectSetValue:
		effect.Value = rule.Value
	case domain.EffectSetVisibility:
		v := rule.Visible
		effect.Visible = &v
	case domain.EffectSetEnabled:
		v := rule.Enabled
		effect.Enabled = &v
	}
	return effect, true
}

// EvalCondition evaluates one predicate. Unknown operators are false, never
// an error: a misauthored rule must not take the pass down.
func EvalCondition(cond domain.Condition, snap domain.Snapshot) bool {
	v := snap[cond.Field]
	switch cond.Op {
	case domain.OpEquals:
		return looseEqual(v, cond.Value)
	case domain.OpNotEquals:
		return !looseEqual(v, cond.Value)
	case domain.OpIn:
		for _, candidate := range cond.Values {
			if looseEqual(v, candidate) {
				return true
			}
		}
		return false
	case domain.OpRange:
		n, ok := toNumber(v)
		if !ok {
			return false
		}
		if cond.Min != nil && n < *cond.Min {
			return false
		}
		if cond.Max != nil && n > *cond.Max {
			return false
		}
		return true
	case domain.OpNonEmpty:
		return nonEmpty(v)
	}
	return false
}

func nonEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case string:
		return strings.TrimSpace(t) != ""
	case []any:
		return len(t) > 0
	case []string:
		return len(t) > 0
	}
	return true
}

// Equal compares two snapshot values with numeric widening so YAML/JSON
// sourced ints and floats match, mirroring the formula evaluator's equality.
// The scheduler uses it to decide whether an effect actually changed a value.
func Equal(a, b any) bool { return looseEqual(a, b) }

// looseEqual compares with numeric widening so YAML/JSON-sourced ints and
// floats match, mirroring the formula evaluator's equality.
func looseEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if an, ok := toNumber(a); ok {
		if bn, ok := toNumber(b); ok {
			return an == bn
		}
		return false
	}
	return a == b
}

func toNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := strconv.ParseFloat(string(n), 64)
		return f, err == nil
	}
	return 0, false
}
