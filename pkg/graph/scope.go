package graph

import (
	"slices"

	"github.com/celsiustx/metaflow/pkg/api"
)

type scopeVisit struct {
	name    string
	parents []string
}

// assignScopes walks the graph breadth-first from start and records, for
// every node, the split and foreach ancestors whose scope is still open.
// Splits and foreaches open a scope for their successors; a join closes the
// innermost one and records itself as that scope's matching join.
func assignScopes(g *Graph) error {
	queue := []scopeVisit{{name: StartStep}}
	seen := make(map[string][]string, len(g.nodes))

	for len(queue) > 0 {
		v := queue[0]
		queue = queue[1:]

		if prev, ok := seen[v.name]; ok {
			if !slices.Equal(prev, v.parents) {
				return api.NewStructuralConflict(v.name,
					"step is reached from different split scopes %v and %v", prev, v.parents)
			}
			continue
		}
		seen[v.name] = v.parents

		n := g.nodes[v.name]
		children := v.parents
		switch n.typ {
		case TypeSplit, TypeForeach:
			n.splitParents = slices.Clone(v.parents)
			children = append(slices.Clone(v.parents), n.name)
		case TypeJoin:
			if len(v.parents) == 0 {
				return api.NewStructuralConflict(n.name, "join has no enclosing split or foreach")
			}
			n.splitParents = slices.Clone(v.parents)
			opener := g.nodes[v.parents[len(v.parents)-1]]
			if opener.matchingJoin != "" && opener.matchingJoin != n.name {
				return api.NewStructuralConflict(opener.name,
					"scope is closed by both %q and %q", opener.matchingJoin, n.name)
			}
			opener.matchingJoin = n.name
			children = slices.Clone(v.parents[:len(v.parents)-1])
		case TypeEnd:
			if len(v.parents) > 0 {
				return api.NewStructuralConflict(n.name,
					"end is reached inside the open scope of %q", v.parents[len(v.parents)-1])
			}
		default:
			n.splitParents = slices.Clone(v.parents)
		}

		for _, succ := range n.out {
			queue = append(queue, scopeVisit{name: succ, parents: children})
		}
	}

	for _, name := range g.order {
		n := g.nodes[name]
		if (n.typ == TypeSplit || n.typ == TypeForeach) && n.matchingJoin == "" {
			return api.NewStructuralConflict(n.name, "%s scope is never joined", n.typ)
		}
	}
	return nil
}
