package graph

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"hash"
)

// Graph is an immutable, validated flow graph.
//
// A Graph is created by Build and is safe for concurrent use by any number
// of task executions. Iteration follows declaration order, with start first
// and end last.
type Graph struct {
	name  string
	nodes map[string]*Node
	order []string
}

// Name returns the flow name.
func (g *Graph) Name() string { return g.name }

// Len returns the number of nodes, including start and end.
func (g *Graph) Len() int { return len(g.order) }

// Node returns the node called name.
func (g *Graph) Node(name string) (*Node, bool) {
	n, ok := g.nodes[name]
	return n, ok
}

// Has reports whether the graph contains a step called name.
func (g *Graph) Has(name string) bool {
	_, ok := g.nodes[name]
	return ok
}

// Start returns the start node.
func (g *Graph) Start() *Node { return g.nodes[StartStep] }

// End returns the end node.
func (g *Graph) End() *Node { return g.nodes[EndStep] }

// Names returns the step names in graph order.
func (g *Graph) Names() []string {
	out := make([]string, len(g.order))
	copy(out, g.order)
	return out
}

// Nodes returns the nodes in graph order.
func (g *Graph) Nodes() []*Node {
	out := make([]*Node, 0, len(g.order))
	for _, name := range g.order {
		out = append(out, g.nodes[name])
	}
	return out
}

// OutputSteps returns the steps that lead directly into end.
func (g *Graph) OutputSteps() []string {
	return g.End().In()
}

// Fingerprint returns a stable hex digest of the graph topology. Two builds
// of equivalent declarations have the same fingerprint.
func (g *Graph) Fingerprint() string {
	h := sha256.New()
	writeField(h, g.name)
	for _, n := range g.Nodes() {
		writeField(h, n.name)
		writeField(h, string(n.typ))
		writeField(h, n.foreachParam)
		writeList(h, n.In())
		writeList(h, n.out)
		writeList(h, n.splitParents)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// writeField writes a length-prefixed string so that adjacent fields cannot
// run into each other.
func writeField(h hash.Hash, s string) {
	var lenBuf [8]byte
	binary.BigEndian.PutUint64(lenBuf[:], uint64(len(s)))
	h.Write(lenBuf[:])
	h.Write([]byte(s))
}

func writeList(h hash.Hash, items []string) {
	var lenBuf [8]byte
	binary.BigEndian.PutUint64(lenBuf[:], uint64(len(items)))
	h.Write(lenBuf[:])
	for _, s := range items {
		writeField(h, s)
	}
}
