package engine_test

import (
	"errors"
	"reflect"
	"testing"

	"github.com/ganad831/doc-helper-sub004/internal/domain"
	"github.com/ganad831/doc-helper-sub004/internal/engine"
)

func newEngine(t *testing.T, fields []domain.FieldDefinition, ruleList ...domain.ControlRule) engine.Engine {
	t.Helper()
	schema := &domain.Schema{
		ProjectID: "p1",
		Version:   1,
		Entities:  []domain.EntityDefinition{{ID: "doc", Fields: fields}},
		Rules:     ruleList,
	}
	e, err := engine.New(schema, engine.Limits{MaxChainDepth: 3})
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	return e
}

func calc(id, expr string) domain.FieldDefinition {
	return domain.FieldDefinition{ID: id, Type: domain.FieldCalculated, Formula: expr}
}

func num(id string) domain.FieldDefinition {
	return domain.FieldDefinition{ID: id, Type: domain.FieldNumber}
}

// setValueRule fires when trigger equals match and sets target to value.
func setValueRule(id, trigger string, match any, target string, value any) domain.ControlRule {
	return domain.ControlRule{
		ID:         id,
		Conditions: []domain.Condition{{Field: trigger, Op: domain.OpEquals, Value: match}},
		Target:     target,
		Effect:     domain.EffectSetValue,
		Value:      value,
	}
}

func TestApplyChangeRecomputesTransitiveDependents(t *testing.T) {
	e := newEngine(t, []domain.FieldDefinition{
		num("a"), num("b"),
		calc("subtotal", `{{a}} + {{b}}`),
		calc("total", `{{subtotal}} * 2`),
	})
	res, err := e.ApplyChange(domain.Snapshot{"a": 1, "b": 2, "subtotal": 3.0, "total": 6.0}, "a", 5)
	if err != nil {
		t.Fatalf("ApplyChange: %v", err)
	}
	if res.Snapshot["subtotal"] != 7.0 {
		t.Fatalf("subtotal = %v", res.Snapshot["subtotal"])
	}
	if res.Snapshot["total"] != 14.0 {
		t.Fatalf("total = %v", res.Snapshot["total"])
	}
	if len(res.FieldErrors) != 0 {
		t.Fatalf("field errors = %v", res.FieldErrors)
	}
}

func TestApplyChangeDoesNotMutateCallerSnapshot(t *testing.T) {
	e := newEngine(t, []domain.FieldDefinition{num("a"), calc("double", `{{a}} * 2`)})
	snap := domain.Snapshot{"a": 1, "double": 2.0}
	if _, err := e.ApplyChange(snap, "a", 10); err != nil {
		t.Fatalf("ApplyChange: %v", err)
	}
	if snap["a"] != 1 || snap["double"] != 2.0 {
		t.Fatalf("caller snapshot mutated: %v", snap)
	}
}

func TestApplyChangeIsolatesFieldErrors(t *testing.T) {
	e := newEngine(t, []domain.FieldDefinition{
		num("a"),
		calc("bad", `{{a}} / 0`),
		calc("good", `{{a}} + 1`),
	})
	res, err := e.ApplyChange(domain.Snapshot{"a": 1, "bad": 99.0}, "a", 4)
	if err != nil {
		t.Fatalf("ApplyChange: %v", err)
	}
	if res.Snapshot["good"] != 5.0 {
		t.Fatalf("sibling not recomputed: %v", res.Snapshot["good"])
	}
	// The erroring field keeps its prior value.
	if res.Snapshot["bad"] != 99.0 {
		t.Fatalf("erroring field value = %v, want prior 99", res.Snapshot["bad"])
	}
	if len(res.FieldErrors) != 1 {
		t.Fatalf("field errors = %v", res.FieldErrors)
	}
	fe := res.FieldErrors[0]
	if fe.FieldID != "bad" || fe.Code != "DIVISION_BY_ZERO" {
		t.Fatalf("field error = %+v", fe)
	}
}

func TestApplyChangeUnknownField(t *testing.T) {
	e := newEngine(t, []domain.FieldDefinition{num("a")})
	if _, err := e.ApplyChange(domain.Snapshot{}, "ghost", 1); err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestControlRuleFiresAndChains(t *testing.T) {
	// step1 -> step2 -> step3: a chain of length 2 under a bound of 3.
	e := newEngine(t, []domain.FieldDefinition{num("step1"), num("step2"), num("step3")},
		setValueRule("r1", "step1", 1, "step2", 1),
		setValueRule("r2", "step2", 1, "step3", 1),
	)
	res, err := e.ApplyChange(domain.Snapshot{}, "step1", 1)
	if err != nil {
		t.Fatalf("ApplyChange: %v", err)
	}
	if res.Snapshot["step2"] != 1 || res.Snapshot["step3"] != 1 {
		t.Fatalf("chain did not propagate: %v", res.Snapshot)
	}
	if len(res.Effects) != 2 {
		t.Fatalf("effects = %v", res.Effects)
	}
	if res.ChainDepth != 2 {
		t.Fatalf("chain depth = %d, want 2", res.ChainDepth)
	}
}

func TestChainAtBoundSucceeds(t *testing.T) {
	e := newEngine(t, []domain.FieldDefinition{num("f0"), num("f1"), num("f2"), num("f3")},
		setValueRule("r1", "f0", 1, "f1", 1),
		setValueRule("r2", "f1", 1, "f2", 1),
		setValueRule("r3", "f2", 1, "f3", 1),
	)
	res, err := e.ApplyChange(domain.Snapshot{}, "f0", 1)
	if err != nil {
		t.Fatalf("chain of exactly the bound must succeed: %v", err)
	}
	if res.Snapshot["f3"] != 1 {
		t.Fatalf("snapshot = %v", res.Snapshot)
	}
}

func TestChainBeyondBoundKeepsPartialEffects(t *testing.T) {
	e := newEngine(t, []domain.FieldDefinition{num("f0"), num("f1"), num("f2"), num("f3"), num("f4")},
		setValueRule("r1", "f0", 1, "f1", 1),
		setValueRule("r2", "f1", 1, "f2", 1),
		setValueRule("r3", "f2", 1, "f3", 1),
		setValueRule("r4", "f3", 1, "f4", 1),
	)
	res, err := e.ApplyChange(domain.Snapshot{}, "f0", 1)
	if !errors.Is(err, engine.ErrChainDepthExceeded) {
		t.Fatalf("want ErrChainDepthExceeded, got %v", err)
	}
	var cde *engine.ChainDepthError
	if !errors.As(err, &cde) || cde.Limit != 3 {
		t.Fatalf("chain depth error = %v", err)
	}
	// Effects within the bound are kept, the offending wave is not applied.
	if res.Snapshot["f3"] != 1 {
		t.Fatalf("effects within bound lost: %v", res.Snapshot)
	}
	if _, ok := res.Snapshot["f4"]; ok {
		t.Fatalf("wave beyond bound applied: %v", res.Snapshot)
	}
	if len(res.Effects) != 3 {
		t.Fatalf("effects = %v", res.Effects)
	}
}

func TestLastWriteWinsForSameTargetAndKind(t *testing.T) {
	hide := domain.ControlRule{
		ID:         "hide",
		Conditions: []domain.Condition{{Field: "kind", Op: domain.OpEquals, Value: "simple"}},
		Target:     "details",
		Effect:     domain.EffectSetVisibility,
		Visible:    false,
	}
	show := domain.ControlRule{
		ID:         "show",
		Conditions: []domain.Condition{{Field: "kind", Op: domain.OpEquals, Value: "simple"}},
		Target:     "details",
		Effect:     domain.EffectSetVisibility,
		Visible:    true,
	}
	e := newEngine(t, []domain.FieldDefinition{num("kind"), num("details")}, hide, show)
	res, err := e.ApplyChange(domain.Snapshot{}, "kind", "simple")
	if err != nil {
		t.Fatalf("ApplyChange: %v", err)
	}
	if len(res.Effects) != 1 {
		t.Fatalf("effects = %v", res.Effects)
	}
	eff := res.Effects[0]
	if eff.RuleID != "show" || eff.Visible == nil || !*eff.Visible {
		t.Fatalf("last rule should win: %+v", eff)
	}
}

func TestEffectTriggersFormulaRecompute(t *testing.T) {
	e := newEngine(t, []domain.FieldDefinition{
		num("mode"), num("rate"),
		calc("fee", `{{rate}} * 100`),
	}, setValueRule("r1", "mode", "fixed", "rate", 0.2))
	res, err := e.ApplyChange(domain.Snapshot{"rate": 0.1, "fee": 10.0}, "mode", "fixed")
	if err != nil {
		t.Fatalf("ApplyChange: %v", err)
	}
	if res.Snapshot["fee"] != 20.0 {
		t.Fatalf("fee = %v, want 20 after effect-driven recompute", res.Snapshot["fee"])
	}
}

func TestNonComputableFieldSkippedSiblingsRun(t *testing.T) {
	e := newEngine(t, []domain.FieldDefinition{
		num("a"),
		calc("loop1", `{{loop2}}`),
		calc("loop2", `{{loop1}}`),
		calc("ok", `{{a}} * 3`),
	})
	if len(e.Graph.Issues()) != 2 {
		t.Fatalf("issues = %v", e.Graph.Issues())
	}
	res, err := e.ApplyChange(domain.Snapshot{"loop1": 7}, "a", 2)
	if err != nil {
		t.Fatalf("ApplyChange: %v", err)
	}
	if res.Snapshot["ok"] != 6.0 {
		t.Fatalf("ok = %v", res.Snapshot["ok"])
	}
	if res.Snapshot["loop1"] != 7 {
		t.Fatalf("non-computable field value changed: %v", res.Snapshot["loop1"])
	}
}

func TestApplyChangeDeterministic(t *testing.T) {
	fields := []domain.FieldDefinition{
		num("a"),
		calc("m", `{{a}} + 1`),
		calc("n", `{{a}} + 2`),
		calc("z", `{{m}} + {{n}}`),
	}
	e := newEngine(t, fields)
	snap := domain.Snapshot{"a": 0}
	first, err := e.ApplyChange(snap, "a", 10)
	if err != nil {
		t.Fatalf("ApplyChange: %v", err)
	}
	for i := 0; i < 10; i++ {
		got, err := e.ApplyChange(snap, "a", 10)
		if err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
		if !reflect.DeepEqual(got, first) {
			t.Fatalf("run %d differs: %+v vs %+v", i, got, first)
		}
	}
}

func TestValidateDelegates(t *testing.T) {
	e := newEngine(t, []domain.FieldDefinition{
		{ID: "title", Type: domain.FieldText, Constraints: []domain.Constraint{{Kind: domain.ConstraintRequired}}},
	})
	res := e.Validate("doc", domain.Snapshot{"title": "  "})
	if !res.Blocking || len(res.Errors) != 1 {
		t.Fatalf("result = %+v", res)
	}
}
