// Package depgraph builds the per-schema dependency graph the scheduler walks.
//
// Nodes are field ids. Formula edges point from a referenced field to the
// calculated field that reads it; control edges point from a rule's source
// fields to its target. The graph is built once per schema version and is
// safe for concurrent reads; schema mutation must build a new graph.
package depgraph

import (
	"fmt"
	"sort"

	"github.com/ganad831/doc-helper-sub004/internal/domain"
	"github.com/ganad831/doc-helper-sub004/internal/formula"
)

// EdgeKind distinguishes formula reads from control-rule triggers.
type EdgeKind string

const (
	EdgeFormula EdgeKind = "formula"
	EdgeControl EdgeKind = "control"
)

// Edge is one (dependency -> dependent) pair.
type Edge struct {
	From string   `json:"from"`
	To   string   `json:"to"`
	Kind EdgeKind `json:"kind"`
}

// Issue codes reported against individual fields at build time.
const (
	CodeFormulaParse = "FORMULA_PARSE_ERROR"
	CodeFormulaCycle = "FORMULA_CYCLE"
	CodeUnresolved   = "UNRESOLVED_REFERENCE"
)

// Issue is a schema-level problem pinned to one field. It is fatal to that
// field only: the field is excluded from recomputation, nothing else blocks.
type Issue struct {
	FieldID string   `json:"field_id"`
	Code    string   `json:"code"`
	Message string   `json:"message"`
	Cycle   []string `json:"cycle,omitempty"`
}

// Graph is the immutable dependency graph for one schema version.
type Graph struct {
	version int

	nodes []string // sorted
	index map[string]int

	edges []Edge // canonical order: (From, To, Kind)

	formulaOut map[string][]string // formula edges, adjacency sorted
	allOut     map[string][]string // formula + control edges, adjacency sorted

	asts   map[string]formula.Node // parsed formulas for computable fields
	issues []Issue
	broken map[string]Issue // non-computable calculated fields
}

// Build constructs the graph for a schema. Formulas that fail to parse,
// reference unknown fields, or sit on a formula cycle yield Issues and mark
// their field non-computable; Build itself only fails on a nil schema.
func Build(schema *domain.Schema, maxExprDepth int) (*Graph, error) {
	if schema == nil {
		return nil, fmt.Errorf("nil schema")
	}

	g := &Graph{
		version:    schema.Version,
		index:      map[string]int{},
		formulaOut: map[string][]string{},
		allOut:     map[string][]string{},
		asts:       map[string]formula.Node{},
		broken:     map[string]Issue{},
	}

	known := map[string]struct{}{}
	for _, id := range schema.FieldIDs() {
		if _, ok := known[id]; ok {
			continue
		}
		known[id] = struct{}{}
		g.nodes = append(g.nodes, id)
	}
	sort.Strings(g.nodes)
	for i, id := range g.nodes {
		g.index[id] = i
	}

	edgeSet := map[Edge]struct{}{}
	addEdge := func(from, to string, kind EdgeKind) {
		e := Edge{From: from, To: to, Kind: kind}
		if _, dup := edgeSet[e]; dup {
			return
		}
		edgeSet[e] = struct{}{}
		g.edges = append(g.edges, e)
	}

	// Formula edges, walking fields in schema order so issue ordering is stable.
	for _, entity := range schema.Entities {
		for _, f := range entity.Fields {
			if f.Type != domain.FieldCalculated {
				continue
			}
			node, err := formula.ParseWithDepth(f.Formula, maxExprDepth)
			if err != nil {
				g.addIssue(Issue{FieldID: f.ID, Code: CodeFormulaParse, Message: err.Error()})
				continue
			}
			refs := formula.Refs(node)
			unresolved := ""
			for _, ref := range refs {
				if _, ok := known[ref]; !ok {
					unresolved = ref
					break
				}
			}
			if unresolved != "" {
				g.addIssue(Issue{
					FieldID: f.ID,
					Code:    CodeUnresolved,
					Message: fmt.Sprintf("formula references unknown field %q", unresolved),
				})
				continue
			}
			g.asts[f.ID] = node
			for _, ref := range refs {
				addEdge(ref, f.ID, EdgeFormula)
			}
		}
	}

	// Control edges. Unknown sources/targets are schemafile.Check territory;
	// the graph simply has no node for them and the edge is dropped.
	for _, rule := range schema.Rules {
		if _, ok := known[rule.Target]; !ok {
			continue
		}
		for _, src := range rule.Sources() {
			if _, ok := known[src]; !ok {
				continue
			}
			addEdge(src, rule.Target, EdgeControl)
		}
	}

	sort.Slice(g.edges, func(i, j int) bool {
		a, b := g.edges[i], g.edges[j]
		if a.From != b.From {
			return a.From < b.From
		}
		if a.To != b.To {
			return a.To < b.To
		}
		return a.Kind < b.Kind
	})
	for _, e := range g.edges {
		g.allOut[e.From] = append(g.allOut[e.From], e.To)
		if e.Kind == EdgeFormula {
			g.formulaOut[e.From] = append(g.formulaOut[e.From], e.To)
		}
	}
	for k := range g.allOut {
		g.allOut[k] = dedupSorted(g.allOut[k])
	}
	for k := range g.formulaOut {
		g.formulaOut[k] = dedupSorted(g.formulaOut[k])
	}

	g.detectFormulaCycles()
	return g, nil
}

func (g *Graph) addIssue(issue Issue) {
	g.issues = append(g.issues, issue)
	g.broken[issue.FieldID] = issue
}

// detectFormulaCycles runs Kahn's algorithm over formula edges only. Nodes
// left over are on a cycle or strictly downstream of one; the calculated
// fields among them are marked non-computable with one concrete cycle path.
func (g *Graph) detectFormulaCycles() {
	indeg := map[string]int{}
	for from, tos := range g.formulaOut {
		_ = from
		for _, to := range tos {
			indeg[to]++
		}
	}
	queue := []string{}
	for _, n := range g.nodes {
		if indeg[n] == 0 {
			queue = append(queue, n)
		}
	}
	resolved := map[string]struct{}{}
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		resolved[n] = struct{}{}
		for _, to := range g.formulaOut[n] {
			indeg[to]--
			if indeg[to] == 0 {
				queue = append(queue, to)
			}
		}
	}
	if len(resolved) == len(g.nodes) {
		return
	}

	var stuck []string
	for _, n := range g.nodes {
		if _, ok := resolved[n]; !ok {
			stuck = append(stuck, n)
		}
	}
	cycle := g.findCycle(stuck)
	for _, n := range stuck {
		if _, calculated := g.asts[n]; !calculated {
			continue
		}
		delete(g.asts, n)
		g.addIssue(Issue{
			FieldID: n,
			Code:    CodeFormulaCycle,
			Message: fmt.Sprintf("formula cycle in this field's dependency chain: %v", cycle),
			Cycle:   cycle,
		})
	}
}

// findCycle extracts one deterministic cycle path from the stuck set.
func (g *Graph) findCycle(stuck []string) []string {
	inStuck := map[string]struct{}{}
	for _, n := range stuck {
		inStuck[n] = struct{}{}
	}
	// Walk from the smallest stuck node, always taking the smallest stuck
	// successor, until a node repeats.
	seen := map[string]int{}
	var path []string
	cur := stuck[0]
	for {
		if at, ok := seen[cur]; ok {
			return append(path[at:], cur)
		}
		seen[cur] = len(path)
		path = append(path, cur)
		next := ""
		for _, to := range g.formulaOut[cur] {
			if _, ok := inStuck[to]; ok {
				next = to
				break
			}
		}
		if next == "" {
			// Dead end inside the stuck set; cannot happen for true cycle
			// members, but bail deterministically rather than loop.
			return path
		}
		cur = next
	}
}

func dedupSorted(in []string) []string {
	sort.Strings(in)
	out := in[:0]
	for i, v := range in {
		if i > 0 && in[i-1] == v {
			continue
		}
		out = append(out, v)
	}
	return out
}

// Version returns the schema version the graph was built from.
func (g *Graph) Version() int { return g.version }

// Nodes returns all field ids in sorted order.
func (g *Graph) Nodes() []string {
	out := make([]string, len(g.nodes))
	copy(out, g.nodes)
	return out
}

// Edges returns all edges in canonical order.
func (g *Graph) Edges() []Edge {
	out := make([]Edge, len(g.edges))
	copy(out, g.edges)
	return out
}

// Issues returns the schema issues found at build time, in discovery order.
func (g *Graph) Issues() []Issue {
	out := make([]Issue, len(g.issues))
	copy(out, g.issues)
	return out
}

// AST returns the parsed formula for a computable calculated field.
func (g *Graph) AST(field string) (formula.Node, bool) {
	node, ok := g.asts[field]
	return node, ok
}

// Computable reports whether a calculated field can be recomputed.
func (g *Graph) Computable(field string) bool {
	_, ok := g.asts[field]
	return ok
}

// Broken returns the build issue for a non-computable field, if any.
func (g *Graph) Broken(field string) (Issue, bool) {
	issue, ok := g.broken[field]
	return issue, ok
}

// Dependents returns the transitive dependents of a field across both edge
// kinds, sorted, excluding the field itself.
func (g *Graph) Dependents(field string) []string {
	seen := map[string]struct{}{}
	stack := []string{field}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, to := range g.allOut[n] {
			if _, ok := seen[to]; ok {
				continue
			}
			seen[to] = struct{}{}
			stack = append(stack, to)
		}
	}
	delete(seen, field)
	out := make([]string, 0, len(seen))
	for n := range seen {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// FormulaDependents returns the direct formula dependents of a field, sorted.
func (g *Graph) FormulaDependents(field string) []string {
	out := make([]string, len(g.formulaOut[field]))
	copy(out, g.formulaOut[field])
	return out
}

// TopoOrder orders the given fields so every formula dependency comes before
// its dependents, restricted to the induced subgraph. Ready-set ties break by
// field id, so identical inputs always order identically. Fields trapped in a
// cycle (possible only for non-computable fields) append in sorted order.
func (g *Graph) TopoOrder(fields []string) []string {
	inSet := map[string]struct{}{}
	for _, f := range fields {
		if _, known := g.index[f]; known {
			inSet[f] = struct{}{}
		}
	}
	indeg := map[string]int{}
	for f := range inSet {
		indeg[f] = 0
	}
	for f := range inSet {
		for _, to := range g.formulaOut[f] {
			if _, ok := inSet[to]; ok {
				indeg[to]++
			}
		}
	}

	ready := make([]string, 0, len(inSet))
	for f, d := range indeg {
		if d == 0 {
			ready = append(ready, f)
		}
	}
	sort.Strings(ready)

	order := make([]string, 0, len(inSet))
	for len(ready) > 0 {
		n := ready[0]
		ready = ready[1:]
		order = append(order, n)
		changed := false
		for _, to := range g.formulaOut[n] {
			if _, ok := inSet[to]; !ok {
				continue
			}
			indeg[to]--
			if indeg[to] == 0 {
				ready = append(ready, to)
				changed = true
			}
		}
		if changed {
			sort.Strings(ready)
		}
	}

	if len(order) < len(inSet) {
		var rest []string
		placed := map[string]struct{}{}
		for _, n := range order {
			placed[n] = struct{}{}
		}
		for f := range inSet {
			if _, ok := placed[f]; !ok {
				rest = append(rest, f)
			}
		}
		sort.Strings(rest)
		order = append(order, rest...)
	}
	return order
}
