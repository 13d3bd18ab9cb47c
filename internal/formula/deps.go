package formula

import "sort"

// Refs returns the set of field ids the expression reads, sorted and
// deduplicated. It is a static traversal; nothing is evaluated.
func Refs(node Node) []string {
	seen := map[string]struct{}{}
	collectRefs(node, seen)
	out := make([]string, 0, len(seen))
	for f := range seen {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

func collectRefs(node Node, seen map[string]struct{}) {
	switch n := node.(type) {
	case *Ref:
		seen[n.Field] = struct{}{}
	case *Unary:
		collectRefs(n.X, seen)
	case *Binary:
		collectRefs(n.X, seen)
		collectRefs(n.Y, seen)
	case *Call:
		for _, arg := range n.Args {
			collectRefs(arg, seen)
		}
	}
}
