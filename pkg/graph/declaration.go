package graph

import (
	"github.com/celsiustx/metaflow/pkg/api"
)

// Declaration is one step record handed to the builder, in source order.
type Declaration struct {
	Name string

	// After names the explicit predecessor. Empty means the immediately
	// preceding declaration.
	After string

	Foreach *ForeachSpec
	Join    *JoinSpec

	// Doc is carried through to graph info output.
	Doc string
}

// ForeachSpec makes the declared step the body of a foreach over Field.
// Step names the foreach source; empty means the preceding declaration.
type ForeachSpec struct {
	Step  string
	Field string
}

// JoinSpec makes the declared step a join. A nil Steps joins the preceding
// declaration; a non-nil Steps must be non-empty.
type JoinSpec struct {
	Steps []string
}

// Step declares a step that follows the preceding declaration.
func Step(name string) Declaration {
	return Declaration{Name: name}
}

// StepAfter declares a step whose predecessor is prev. Declaring several
// steps after the same predecessor makes it a split.
func StepAfter(name, prev string) Declaration {
	return Declaration{Name: name, After: prev}
}

// Foreach declares name as the body of a foreach over field of step from.
// An empty from selects the preceding declaration.
func Foreach(name, field, from string) Declaration {
	return Declaration{Name: name, Foreach: &ForeachSpec{Step: from, Field: field}}
}

// Join declares a join. Without steps it joins the preceding declaration,
// closing a foreach.
func Join(name string, steps ...string) Declaration {
	if len(steps) == 0 {
		return Declaration{Name: name, Join: &JoinSpec{}}
	}
	return Declaration{Name: name, Join: &JoinSpec{Steps: steps}}
}

// Compose concatenates declaration lists in order, as when a flow mixes in
// the steps of other flows. A step name may appear in only one part.
func Compose(flow string, parts ...[]Declaration) ([]Declaration, error) {
	seen := make(map[string]struct{})
	var out []Declaration
	for _, part := range parts {
		for _, d := range part {
			if _, dup := seen[d.Name]; dup {
				return nil, api.NewStructuralConflict(d.Name,
					"flow %s: refusing to mix in multiple implementations of step %q", flow, d.Name)
			}
			seen[d.Name] = struct{}{}
			out = append(out, d)
		}
	}
	return out, nil
}
