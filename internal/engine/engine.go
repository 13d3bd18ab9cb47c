// Package engine orchestrates formula recomputation, control-rule propagation
// and validation into single evaluation passes over an explicit snapshot.
//
// The engine is synchronous and pure: it holds no locks, performs no I/O and
// never retains a snapshot between calls. Callers must serialize schema
// mutation against in-flight passes, e.g. by fencing on Schema.Version.
package engine

import (
	"fmt"
	"sort"

	"github.com/ganad831/doc-helper-sub004/internal/depgraph"
	"github.com/ganad831/doc-helper-sub004/internal/domain"
	"github.com/ganad831/doc-helper-sub004/internal/formula"
	"github.com/ganad831/doc-helper-sub004/internal/rules"
	"github.com/ganad831/doc-helper-sub004/internal/validate"
)

// Limits bounds recursive structures at runtime.
type Limits struct {
	// MaxExprDepth bounds formula nesting at parse time.
	MaxExprDepth int
	// MaxChainDepth bounds sequential control-rule trigger waves per change.
	MaxChainDepth int
}

// DefaultLimits mirrors the config defaults.
func DefaultLimits() Limits {
	return Limits{MaxExprDepth: formula.DefaultMaxDepth, MaxChainDepth: 8}
}

// Engine evaluates changes against one immutable schema version.
type Engine struct {
	Schema *domain.Schema
	Graph  *depgraph.Graph
	Limits Limits

	known map[string]struct{}
}

// New builds the dependency graph for a schema and returns an engine bound to
// it. Schema-level issues (parse failures, cycles, unresolved references) are
// available on Graph.Issues(); they disable the affected fields only.
func New(schema *domain.Schema, limits Limits) (Engine, error) {
	if limits.MaxChainDepth <= 0 {
		limits.MaxChainDepth = DefaultLimits().MaxChainDepth
	}
	graph, err := depgraph.Build(schema, limits.MaxExprDepth)
	if err != nil {
		return Engine{}, err
	}
	known := map[string]struct{}{}
	for _, id := range schema.FieldIDs() {
		known[id] = struct{}{}
	}
	return Engine{Schema: schema, Graph: graph, Limits: limits, known: known}, nil
}

// BuildGraph is the schema-load entry point: it parses every formula and
// returns the dependency graph with its per-field issues.
func BuildGraph(schema *domain.Schema, limits Limits) (*depgraph.Graph, error) {
	return depgraph.Build(schema, limits.MaxExprDepth)
}

// ChangeResult is the atomic unit a caller records: the complete updated
// snapshot, the effect instructions to apply, and any per-field computation
// errors recovered during the pass.
type ChangeResult struct {
	Snapshot    domain.Snapshot     `json:"snapshot"`
	Effects     []domain.Effect     `json:"effects,omitempty"`
	FieldErrors []domain.FieldError `json:"field_errors,omitempty"`
	ChainDepth  int                 `json:"chain_depth"`
}

// ApplyChange runs one evaluation pass for a single field edit.
//
// The caller's snapshot is never mutated. On ErrChainDepthExceeded the
// returned result holds the state after the last complete wave: effects
// applied within the bound are kept, nothing is rolled back, and the wave
// that crossed the bound is not applied. For any other error the caller
// should keep its prior snapshot.
func (e Engine) ApplyChange(snap domain.Snapshot, field string, value any) (ChangeResult, error) {
	if _, ok := e.known[field]; !ok {
		return ChangeResult{}, fmt.Errorf("unknown field %q", field)
	}

	working := snap.Clone()
	working[field] = value

	res := ChangeResult{}
	errIndex := map[string]int{}
	recordErr := func(fe domain.FieldError) {
		if i, ok := errIndex[fe.FieldID]; ok {
			res.FieldErrors[i] = fe
			return
		}
		errIndex[fe.FieldID] = len(res.FieldErrors)
		res.FieldErrors = append(res.FieldErrors, fe)
	}

	effectIndex := map[string]int{}
	recordEffect := func(eff domain.Effect) {
		key := eff.Target + "\x00" + string(eff.Kind)
		if i, ok := effectIndex[key]; ok {
			// Last write wins for the same target and effect kind.
			res.Effects[i] = eff
			return
		}
		effectIndex[key] = len(res.Effects)
		res.Effects = append(res.Effects, eff)
	}

	// Wave 0: the edit itself plus its formula dependents.
	dirty := map[string]struct{}{field: {}}
	for _, changed := range e.recompute(working, []string{field}, recordErr) {
		dirty[changed] = struct{}{}
	}

	for {
		fired := e.firingRules(working, dirty)
		if len(fired) == 0 {
			break
		}
		res.ChainDepth++
		if res.ChainDepth > e.Limits.MaxChainDepth {
			res.ChainDepth = e.Limits.MaxChainDepth
			res.Snapshot = working
			return res, &ChainDepthError{Limit: e.Limits.MaxChainDepth, Origin: field}
		}

		var changedTargets []string
		for _, eff := range fired {
			recordEffect(eff)
			if eff.Kind != domain.EffectSetValue {
				continue
			}
			if rules.Equal(working[eff.Target], eff.Value) {
				continue
			}
			working[eff.Target] = eff.Value
			changedTargets = append(changedTargets, eff.Target)
		}
		if len(changedTargets) == 0 {
			break
		}
		sort.Strings(changedTargets)

		dirty = map[string]struct{}{}
		for _, t := range changedTargets {
			dirty[t] = struct{}{}
		}
		for _, changed := range e.recompute(working, changedTargets, recordErr) {
			dirty[changed] = struct{}{}
		}
	}

	res.Snapshot = working
	return res, nil
}

// recompute re-evaluates the transitive formula dependents of the changed
// fields in deterministic topological order, updating working in place. A
// per-field evaluation error leaves that field at its prior value and is
// recorded; it never aborts the pass. Returns the fields whose value changed.
func (e Engine) recompute(working domain.Snapshot, changed []string, recordErr func(domain.FieldError)) []string {
	affected := map[string]struct{}{}
	queue := append([]string(nil), changed...)
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		for _, dep := range e.Graph.FormulaDependents(n) {
			if _, ok := affected[dep]; ok {
				continue
			}
			affected[dep] = struct{}{}
			queue = append(queue, dep)
		}
	}
	if len(affected) == 0 {
		return nil
	}

	fields := make([]string, 0, len(affected))
	for f := range affected {
		fields = append(fields, f)
	}
	order := e.Graph.TopoOrder(fields)

	var out []string
	for _, f := range order {
		ast, ok := e.Graph.AST(f)
		if !ok {
			// Non-computable fields were reported at build time; they are
			// excluded from recomputation and keep their prior value.
			continue
		}
		v, err := formula.Eval(ast, working, e.known)
		if err != nil {
			recordErr(domain.FieldError{FieldID: f, Code: formula.ErrorCode(err), Message: err.Error()})
			continue
		}
		if rules.Equal(working[f], v) {
			continue
		}
		working[f] = v
		out = append(out, f)
	}
	return out
}

// firingRules evaluates, in registration order, every rule with at least one
// source in the dirty set and returns the effects of those whose conditions
// hold.
func (e Engine) firingRules(working domain.Snapshot, dirty map[string]struct{}) []domain.Effect {
	var out []domain.Effect
	for _, rule := range e.Schema.Rules {
		triggered := false
		for _, src := range rule.Sources() {
			if _, ok := dirty[src]; ok {
				triggered = true
				break
			}
		}
		if !triggered {
			continue
		}
		if eff, fired := rules.EvalRule(rule, working); fired {
			out = append(out, eff)
		}
	}
	return out
}

// Validate runs the pull-based constraint evaluator against one entity.
func (e Engine) Validate(entityID string, snap domain.Snapshot) domain.EvaluationResult {
	return validate.Evaluate(e.Schema, entityID, snap)
}
