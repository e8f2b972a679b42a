package graph

import (
	"fmt"
	"io"
	"strings"
)

// StepInfo is the serializable description of one node.
type StepInfo struct {
	Name         string   `json:"name"`
	Type         Type     `json:"type"`
	In           []string `json:"in"`
	Next         []string `json:"next"`
	Foreach      string   `json:"foreach,omitempty"`
	SplitParents []string `json:"split_parents"`
	MatchingJoin string   `json:"matching_join,omitempty"`
	Doc          string   `json:"doc,omitempty"`
}

// Info is the serializable description of a graph.
type Info struct {
	Name        string              `json:"name"`
	Fingerprint string              `json:"fingerprint"`
	Order       []string            `json:"order"`
	Steps       map[string]StepInfo `json:"steps"`
	OutputSteps []string            `json:"output_steps"`
}

// Info describes the graph in a JSON-friendly form.
func (g *Graph) Info() Info {
	info := Info{
		Name:        g.name,
		Fingerprint: g.Fingerprint(),
		Order:       g.Names(),
		Steps:       make(map[string]StepInfo, len(g.order)),
		OutputSteps: g.OutputSteps(),
	}
	for _, n := range g.Nodes() {
		info.Steps[n.name] = StepInfo{
			Name:         n.name,
			Type:         n.typ,
			In:           n.In(),
			Next:         nonNil(n.Out()),
			Foreach:      n.foreachParam,
			SplitParents: nonNil(n.SplitParents()),
			MatchingJoin: n.matchingJoin,
			Doc:          n.doc,
		}
	}
	return info
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// WriteShow writes the human-readable step listing:
//
//	Step start
//	    ?
//	    => one
//
// The "?" line is replaced by the step's doc when it has one.
func (g *Graph) WriteShow(w io.Writer) error {
	for _, n := range g.Nodes() {
		doc := n.doc
		if doc == "" {
			doc = "?"
		}
		if _, err := fmt.Fprintf(w, "\nStep %s\n    %s\n", n.name, doc); err != nil {
			return err
		}
		if len(n.out) > 0 {
			if _, err := fmt.Fprintf(w, "    => %s\n", strings.Join(n.out, ", ")); err != nil {
				return err
			}
		}
	}
	return nil
}

// Show returns the WriteShow output as a string.
func (g *Graph) Show() string {
	var sb strings.Builder
	_ = g.WriteShow(&sb)
	return sb.String()
}
