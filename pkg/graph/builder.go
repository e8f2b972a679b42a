package graph

import (
	"log/slog"
	"slices"

	"github.com/celsiustx/metaflow/pkg/api"
)

// Builder turns an ordered list of declarations into a Graph.
//
// Each declaration is resolved against the one immediately before it, in a
// single left-to-right pass. Steps may only reference steps declared earlier,
// which keeps every graph acyclic by construction.
type Builder struct {
	// Name is the flow name recorded on the graph.
	Name string

	// Logger receives one debug record per wiring decision. Nil discards.
	Logger *slog.Logger
}

// Build is a shorthand for (&Builder{Name: name}).Build(decls).
func Build(name string, decls []Declaration) (*Graph, error) {
	return (&Builder{Name: name}).Build(decls)
}

type buildState struct {
	logger *slog.Logger
	nodes  map[string]*Node
	seq    []*Node
	decls  map[string]Declaration
}

// Build validates decls and returns the typed, fully linked graph.
// All failures unwrap to api.ErrStructuralConflict.
func (b *Builder) Build(decls []Declaration) (*Graph, error) {
	logger := b.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	logger = logger.With(slog.String("flow", b.Name))

	st := &buildState{
		logger: logger,
		nodes:  make(map[string]*Node, len(decls)+2),
		decls:  make(map[string]Declaration, len(decls)),
	}
	if err := st.declare(decls); err != nil {
		return nil, err
	}

	for i := 1; i < len(st.seq); i++ {
		if err := st.process(st.seq[i-1], st.seq[i]); err != nil {
			return nil, err
		}
	}

	start := st.nodes[StartStep]
	if start.typ == TypeUnset || start.typ == TypeLinear {
		start.typ = TypeStart
	}

	if err := st.checkAdjacency(); err != nil {
		return nil, err
	}

	g := &Graph{
		name:  b.Name,
		nodes: st.nodes,
		order: make([]string, 0, len(st.seq)),
	}
	for _, n := range st.seq {
		g.order = append(g.order, n.name)
	}
	if err := assignScopes(g); err != nil {
		return nil, err
	}

	logger.Debug("graph_built", slog.Int("steps", len(g.order)), slog.String("fingerprint", g.Fingerprint()))
	return g, nil
}

// declare validates names and lays out the node sequence, synthesizing the
// start and end nodes that were not declared.
func (st *buildState) declare(decls []Declaration) error {
	for i, d := range decls {
		if d.Name == "" {
			return api.NewStructuralConflict("", "declaration %d has no name", i)
		}
		if _, dup := st.nodes[d.Name]; dup {
			return api.NewStructuralConflict(d.Name, "step is declared more than once")
		}
		switch d.Name {
		case StartStep:
			if i != 0 {
				return api.NewStructuralConflict(d.Name, "start must be the first declared step")
			}
			if d.After != "" || d.Foreach != nil || d.Join != nil {
				return api.NewStructuralConflict(d.Name, "start cannot have a predecessor, foreach or join")
			}
		case EndStep:
			if i != len(decls)-1 {
				return api.NewStructuralConflict(d.Name, "end must be the last declared step")
			}
			if d.After != "" || d.Foreach != nil || d.Join != nil {
				return api.NewStructuralConflict(d.Name, "end cannot have a predecessor, foreach or join")
			}
		}
		if d.Foreach != nil && d.Join != nil {
			return api.NewStructuralConflict(d.Name, "step cannot be both a foreach body and a join")
		}
		if d.Foreach != nil && d.Foreach.Field == "" {
			return api.NewStructuralConflict(d.Name, "foreach requires a field name")
		}
		if d.Join != nil && d.Join.Steps != nil && len(d.Join.Steps) == 0 {
			return api.NewStructuralConflict(d.Name, "join step list must not be empty")
		}

		n := newNode(d.Name, i+1)
		n.declared = true
		n.doc = d.Doc
		st.nodes[d.Name] = n
		st.decls[d.Name] = d
	}

	if len(decls) == 0 || decls[0].Name != StartStep {
		first := EndStep
		if len(decls) > 0 {
			first = decls[0].Name
		}
		start := newNode(StartStep, 0)
		start.out = []string{first}
		st.nodes[StartStep] = start
		st.seq = append(st.seq, start)
		st.logger.Debug("graph_synthesized", slog.String("step", StartStep), slog.String("next", first))
	}
	for _, d := range decls {
		st.seq = append(st.seq, st.nodes[d.Name])
	}
	if _, ok := st.nodes[EndStep]; !ok {
		end := newNode(EndStep, len(decls)+1)
		st.nodes[EndStep] = end
		st.seq = append(st.seq, end)
		st.logger.Debug("graph_synthesized", slog.String("step", EndStep))
	}
	return nil
}

// lookup resolves a referenced step, which must be declared before cur.
func (st *buildState) lookup(cur *Node, name string) (*Node, error) {
	n, ok := st.nodes[name]
	if !ok {
		return nil, api.NewStructuralConflict(cur.name, "references unknown step %q", name)
	}
	if n.index >= cur.index {
		return nil, api.NewStructuralConflict(cur.name, "references step %q, which is not declared before it", name)
	}
	if n.name == EndStep {
		return nil, api.NewStructuralConflict(cur.name, "end cannot have successors")
	}
	return n, nil
}

// retypeSplit turns a node that gained a further successor into a split.
// Only untyped and linear nodes may fan out this way.
func retypeSplit(n *Node) error {
	switch n.typ {
	case TypeUnset, TypeLinear, TypeSplit:
		n.typ = TypeSplit
		return nil
	}
	return api.NewStructuralConflict(n.name, "a %s step cannot fan out to several steps", n.typ)
}

func link(from, to *Node) {
	from.AddSuccessor(to.name)
	to.AddPredecessor(from.name)
}

func (st *buildState) process(prev, cur *Node) error {
	logger := st.logger.With(slog.String("step", cur.name), slog.String("prev", prev.name))

	if cur.name == EndStep {
		if err := cur.AssignType(TypeEnd); err != nil {
			return err
		}
		if len(prev.out) > 0 {
			if prev.name != StartStep || !slices.Equal(prev.out, []string{EndStep}) {
				return api.NewStructuralConflict(prev.name, "last step already has successors %v and cannot lead to end", prev.out)
			}
		}
		prev.defaultType(TypeLinear)
		link(prev, cur)
		logger.Debug("graph_end")
		return nil
	}

	d := st.decls[cur.name]
	switch {
	case d.Foreach != nil:
		srcName := d.Foreach.Step
		if srcName == "" {
			srcName = prev.name
		}
		src, err := st.lookup(cur, srcName)
		if err != nil {
			return err
		}
		if src.typ != TypeUnset {
			return api.NewStructuralConflict(cur.name, "foreach source %q is already a %s step", src.name, src.typ)
		}
		if len(src.out) > 0 {
			return api.NewStructuralConflict(cur.name, "foreach source %q already has successors %v", src.name, src.out)
		}
		if len(cur.in) > 0 {
			return api.NewStructuralConflict(cur.name, "foreach body already has predecessors")
		}
		src.typ = TypeForeach
		src.foreachParam = d.Foreach.Field
		link(src, cur)
		if err := cur.AssignType(TypeLinear); err != nil {
			return err
		}
		logger.Debug("graph_foreach", slog.String("source", src.name), slog.String("field", d.Foreach.Field))

	case d.Join != nil:
		if err := cur.AssignType(TypeJoin); err != nil {
			return err
		}
		if d.Join.Steps == nil {
			prev.defaultType(TypeLinear)
			if len(prev.out) > 0 {
				return api.NewStructuralConflict(cur.name, "joined step %q already has successors %v", prev.name, prev.out)
			}
			if len(cur.in) > 0 {
				return api.NewStructuralConflict(cur.name, "join already has predecessors")
			}
			link(prev, cur)
			logger.Debug("graph_join", slog.Any("steps", []string{prev.name}))
			return nil
		}
		for _, name := range d.Join.Steps {
			src, err := st.lookup(cur, name)
			if err != nil {
				return err
			}
			if len(src.out) > 0 && !slices.Contains(src.out, cur.name) {
				if err := retypeSplit(src); err != nil {
					return err
				}
			}
			src.defaultType(TypeLinear)
			link(src, cur)
		}
		logger.Debug("graph_join", slog.Any("steps", d.Join.Steps))

	default:
		predName := d.After
		if predName == "" {
			predName = prev.name
		}
		pred, err := st.lookup(cur, predName)
		if err != nil {
			return err
		}
		switch {
		case slices.Contains(pred.out, cur.name):
			// Pre-wired by start synthesis.
		case len(pred.out) > 0:
			if err := retypeSplit(pred); err != nil {
				return err
			}
		default:
			pred.defaultType(TypeLinear)
		}
		link(pred, cur)
		logger.Debug("graph_link", slog.String("pred", pred.name), slog.String("pred_type", string(pred.typ)))
	}
	return nil
}

// checkAdjacency enforces that only start lacks predecessors and only end
// lacks successors.
func (st *buildState) checkAdjacency() error {
	for _, n := range st.seq {
		if n.name != StartStep && len(n.in) == 0 {
			return api.NewStructuralConflict(n.name, "step has no predecessors")
		}
		if n.name != EndStep && len(n.out) == 0 {
			return api.NewStructuralConflict(n.name, "step has no successors; every branch must lead to a join or end")
		}
		if n.typ == TypeSplit && len(n.out) < 2 {
			return api.NewStructuralConflict(n.name, "split must have at least two successors")
		}
	}
	return nil
}
