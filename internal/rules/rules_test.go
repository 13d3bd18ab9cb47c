package rules_test

import (
	"testing"

	"github.com/ganad831/doc-helper-sub004/internal/domain"
	"github.com/ganad831/doc-helper-sub004/internal/rules"
)

func f64(v float64) *float64 { return &v }

func TestEvalConditionOps(t *testing.T) {
	snap := domain.Snapshot{
		"kind":  "invoice",
		"count": 3,
		"note":  "   ",
		"tags":  []any{"a"},
	}
	cases := []struct {
		name string
		cond domain.Condition
		want bool
	}{
		{"equals", domain.Condition{Field: "kind", Op: domain.OpEquals, Value: "invoice"}, true},
		{"equals numeric widening", domain.Condition{Field: "count", Op: domain.OpEquals, Value: 3.0}, true},
		{"not equals", domain.Condition{Field: "kind", Op: domain.OpNotEquals, Value: "receipt"}, true},
		{"in", domain.Condition{Field: "kind", Op: domain.OpIn, Values: []any{"receipt", "invoice"}}, true},
		{"in miss", domain.Condition{Field: "kind", Op: domain.OpIn, Values: []any{"receipt"}}, false},
		{"range inside", domain.Condition{Field: "count", Op: domain.OpRange, Min: f64(1), Max: f64(5)}, true},
		{"range below", domain.Condition{Field: "count", Op: domain.OpRange, Min: f64(4)}, false},
		{"range non-numeric", domain.Condition{Field: "kind", Op: domain.OpRange, Min: f64(0)}, false},
		{"non_empty whitespace", domain.Condition{Field: "note", Op: domain.OpNonEmpty}, false},
		{"non_empty list", domain.Condition{Field: "tags", Op: domain.OpNonEmpty}, true},
		{"non_empty missing", domain.Condition{Field: "ghost", Op: domain.OpNonEmpty}, false},
		{"equals null both", domain.Condition{Field: "ghost", Op: domain.OpEquals, Value: nil}, true},
	}
	for _, c := range cases {
		if got := rules.EvalCondition(c.cond, snap); got != c.want {
			t.Errorf("%s: got %v, want %v", c.name, got, c.want)
		}
	}
}

func TestEvalRuleConjunction(t *testing.T) {
	rule := domain.ControlRule{
		ID: "r1",
		Conditions: []domain.Condition{
			{Field: "kind", Op: domain.OpEquals, Value: "invoice"},
			{Field: "count", Op: domain.OpRange, Min: f64(1)},
		},
		Target: "due_date",
		Effect: domain.EffectSetVisibility,
		Visible: true,
	}
	snap := domain.Snapshot{"kind": "invoice", "count": 2}
	effect, fired := rules.EvalRule(rule, snap)
	if !fired {
		t.Fatal("rule should fire")
	}
	if effect.Target != "due_date" || effect.Kind != domain.EffectSetVisibility {
		t.Fatalf("effect = %+v", effect)
	}
	if effect.Visible == nil || !*effect.Visible {
		t.Fatalf("visible = %v", effect.Visible)
	}

	snap["count"] = 0
	if _, fired := rules.EvalRule(rule, snap); fired {
		t.Fatal("rule must not fire when one condition fails")
	}
}

func TestEvalRuleSetValueEffect(t *testing.T) {
	rule := domain.ControlRule{
		ID:         "r2",
		Conditions: []domain.Condition{{Field: "kind", Op: domain.OpEquals, Value: "receipt"}},
		Target:     "tax",
		Effect:     domain.EffectSetValue,
		Value:      0,
	}
	effect, fired := rules.EvalRule(rule, domain.Snapshot{"kind": "receipt"})
	if !fired {
		t.Fatal("rule should fire")
	}
	if effect.Kind != domain.EffectSetValue || effect.Value != 0 {
		t.Fatalf("effect = %+v", effect)
	}
}
