package graph

import (
	"slices"
	"sort"

	"github.com/celsiustx/metaflow/pkg/api"
)

// Type is the structural role of a node.
type Type string

const (
	TypeUnset   Type = ""
	TypeStart   Type = "start"
	TypeLinear  Type = "linear"
	TypeSplit   Type = "split"
	TypeForeach Type = "foreach"
	TypeJoin    Type = "join"
	TypeEnd     Type = "end"
)

// Reserved step names.
const (
	StartStep = "start"
	EndStep   = "end"
)

// Node is one step of a flow graph.
//
// Nodes are mutated only while a graph is being built. Once returned from
// Build, a Node is read-only and safe for concurrent use.
type Node struct {
	name         string
	typ          Type
	in           map[string]struct{}
	out          []string
	foreachParam string
	splitParents []string
	matchingJoin string
	doc          string

	declared bool
	index    int
}

func newNode(name string, index int) *Node {
	return &Node{
		name:  name,
		in:    make(map[string]struct{}),
		index: index,
	}
}

// Name returns the step name.
func (n *Node) Name() string { return n.name }

// Type returns the structural role of the node.
func (n *Node) Type() Type { return n.typ }

// ForeachParam returns the field driving fan-out. Only set on foreach nodes.
func (n *Node) ForeachParam() string { return n.foreachParam }

// MatchingJoin returns the join closing this node's scope, for split and
// foreach nodes.
func (n *Node) MatchingJoin() string { return n.matchingJoin }

// Doc returns the declaration's documentation, if any.
func (n *Node) Doc() string { return n.doc }

// Synthetic reports whether the node was inserted by the builder rather
// than declared.
func (n *Node) Synthetic() bool { return !n.declared }

// In returns the predecessor names, sorted.
func (n *Node) In() []string {
	out := make([]string, 0, len(n.in))
	for name := range n.in {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// HasPredecessor reports whether name is a predecessor of n.
func (n *Node) HasPredecessor(name string) bool {
	_, ok := n.in[name]
	return ok
}

// Out returns the successor names in branch order.
func (n *Node) Out() []string { return slices.Clone(n.out) }

// SplitParents returns the still-open split/foreach ancestors, outermost first.
func (n *Node) SplitParents() []string { return slices.Clone(n.splitParents) }

// AssignType sets the node type. It fails if a different type was already
// assigned.
func (n *Node) AssignType(t Type) error {
	if n.typ == t {
		return nil
	}
	if n.typ != TypeUnset {
		return api.NewStructuralConflict(n.name, "cannot change type from %s to %s", n.typ, t)
	}
	n.typ = t
	return nil
}

// defaultType assigns t only when the node is still untyped.
func (n *Node) defaultType(t Type) {
	if n.typ == TypeUnset {
		n.typ = t
	}
}

// AddSuccessor appends name to the successors unless already present.
func (n *Node) AddSuccessor(name string) {
	if slices.Contains(n.out, name) {
		return
	}
	n.out = append(n.out, name)
}

// AddPredecessor adds name to the predecessor set.
func (n *Node) AddPredecessor(name string) {
	n.in[name] = struct{}{}
}
