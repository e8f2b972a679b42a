// Package flowfile loads flow declarations from YAML and HCL files.
//
// A file holds one or more flows. Each flow lists its steps in declaration
// order and may mix in the steps of other flows of the same file:
//
//	flows:
//	  - name: Branching
//	    steps:
//	      - name: one
//	      - {name: aaa, after: one}
//	      - {name: bbb, after: one}
//	      - {name: join, join: true, inputs: [aaa, bbb]}
//
// The HCL form uses flow and step blocks with the same attributes.
package flowfile

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/celsiustx/metaflow/pkg/graph"
	"github.com/celsiustx/metaflow/pkg/task"
)

var (
	// ErrUnsupportedFormat is returned for files that are neither YAML nor HCL.
	ErrUnsupportedFormat = errors.New("unsupported flow file format")

	// ErrFlowNotFound is returned when a path spec names a flow the file
	// does not hold.
	ErrFlowNotFound = errors.New("flow not found in file")

	// ErrInvalidStep is returned for step records with contradicting
	// attributes.
	ErrInvalidStep = errors.New("invalid step")
)

// StepSpec is one step record of a flow file.
type StepSpec struct {
	Name string `yaml:"name" hcl:"name,label"`
	Doc  string `yaml:"doc,omitempty" hcl:"doc,optional"`

	// After names the predecessor when it is not the previous record.
	After string `yaml:"after,omitempty" hcl:"after,optional"`

	// Foreach makes the step a foreach body over this artifact of From.
	Foreach string `yaml:"foreach,omitempty" hcl:"foreach,optional"`
	From    string `yaml:"from,omitempty" hcl:"from,optional"`

	// Parallel makes the step a parallel body of From.
	Parallel bool `yaml:"parallel,omitempty" hcl:"parallel,optional"`

	// Join makes the step a join of Inputs, or of the previous record when
	// Inputs is absent. An explicit empty list is rejected by the builder.
	Join   bool      `yaml:"join,omitempty" hcl:"join,optional"`
	Inputs *[]string `yaml:"inputs,omitempty" hcl:"inputs,optional"`
}

// FlowSpec is one flow of a flow file.
type FlowSpec struct {
	Name   string     `yaml:"name" hcl:"name,label"`
	Mixins []string   `yaml:"mixins,omitempty" hcl:"mixins,optional"`
	Steps  []StepSpec `yaml:"steps" hcl:"step,block"`
}

// Document is a parsed flow file.
type Document struct {
	Path  string     `yaml:"-"`
	Flows []FlowSpec `yaml:"flows" hcl:"flow,block"`
}

// LoadFile reads and parses the flow file at path.
func LoadFile(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read flow file: %w", err)
	}
	return Parse(path, data)
}

// Parse decodes data according to the extension of filename.
func Parse(filename string, data []byte) (*Document, error) {
	var (
		doc *Document
		err error
	)
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
		doc, err = parseYAML(data)
	case ".hcl":
		doc, err = parseHCL(filename, data)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filename)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	doc.Path = filename
	return doc, nil
}

// SplitPathSpec splits "<file>:<flow>" into its parts. The flow part is
// empty when spec names only a file.
func SplitPathSpec(spec string) (file, flow string) {
	i := strings.LastIndex(spec, ":")
	if i < 0 || strings.ContainsAny(spec[i+1:], `/\`) {
		return spec, ""
	}
	return spec[:i], spec[i+1:]
}

// Load builds the flow graph named by spec.
func Load(spec string, logger *slog.Logger) (*graph.Graph, error) {
	file, flow := SplitPathSpec(spec)
	doc, err := LoadFile(file)
	if err != nil {
		return nil, err
	}
	return doc.Graph(flow, logger)
}

// Names lists the flows of the document in file order.
func (d *Document) Names() []string {
	names := make([]string, len(d.Flows))
	for i, f := range d.Flows {
		names[i] = f.Name
	}
	return names
}

func (d *Document) flow(name string) (*FlowSpec, error) {
	if name == "" {
		if len(d.Flows) == 1 {
			return &d.Flows[0], nil
		}
		return nil, fmt.Errorf("%w: %s holds %d flows %v; name one with <file>:<flow>",
			ErrFlowNotFound, d.Path, len(d.Flows), d.Names())
	}
	for i := range d.Flows {
		if d.Flows[i].Name == name {
			return &d.Flows[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s has no flow %q", ErrFlowNotFound, d.Path, name)
}

// Declarations returns the declarations of flow with its mixins resolved.
// Mixed-in steps come first, in the order the mixins are listed.
func (d *Document) Declarations(flow string) ([]graph.Declaration, error) {
	f, err := d.flow(flow)
	if err != nil {
		return nil, err
	}
	return d.resolve(f, map[string]bool{})
}

func (d *Document) resolve(f *FlowSpec, visiting map[string]bool) ([]graph.Declaration, error) {
	if visiting[f.Name] {
		return nil, fmt.Errorf("flow %s mixes itself in", f.Name)
	}
	visiting[f.Name] = true
	defer delete(visiting, f.Name)

	var parts [][]graph.Declaration
	for _, name := range f.Mixins {
		m, err := d.flow(name)
		if err != nil {
			return nil, fmt.Errorf("flow %s: mixin: %w", f.Name, err)
		}
		decls, err := d.resolve(m, visiting)
		if err != nil {
			return nil, err
		}
		parts = append(parts, decls)
	}

	own := make([]graph.Declaration, 0, len(f.Steps))
	for _, s := range f.Steps {
		decl, err := s.declaration()
		if err != nil {
			return nil, fmt.Errorf("flow %s: %w", f.Name, err)
		}
		own = append(own, decl)
	}
	return graph.Compose(f.Name, append(parts, own)...)
}

// Graph builds the graph of flow. An empty flow selects the only flow of
// the document.
func (d *Document) Graph(flow string, logger *slog.Logger) (*graph.Graph, error) {
	f, err := d.flow(flow)
	if err != nil {
		return nil, err
	}
	decls, err := d.resolve(f, map[string]bool{})
	if err != nil {
		return nil, err
	}
	return (&graph.Builder{Name: f.Name, Logger: logger}).Build(decls)
}

func (s StepSpec) declaration() (graph.Declaration, error) {
	invalid := func(format string, args ...any) (graph.Declaration, error) {
		return graph.Declaration{}, fmt.Errorf("%w %q: %s", ErrInvalidStep, s.Name, fmt.Sprintf(format, args...))
	}

	switch {
	case s.Name == "":
		return invalid("step has no name")
	case s.Foreach != "" && s.Parallel:
		return invalid("foreach and parallel are exclusive")
	case (s.Foreach != "" || s.Parallel) && s.Join:
		return invalid("a join cannot be a foreach body")
	case (s.Foreach != "" || s.Parallel) && s.After != "":
		return invalid("a foreach body names its source with from, not after")
	case s.From != "" && s.Foreach == "" && !s.Parallel:
		return invalid("from is only valid with foreach or parallel")
	case s.Inputs != nil && !s.Join:
		return invalid("inputs is only valid with join")
	case s.Join && s.After != "":
		return invalid("a join lists its predecessors in inputs")
	}

	var d graph.Declaration
	switch {
	case s.Parallel:
		d = graph.Foreach(s.Name, task.ParallelField, s.From)
	case s.Foreach != "":
		d = graph.Foreach(s.Name, s.Foreach, s.From)
	case s.Join && s.Inputs != nil:
		d = graph.Declaration{Name: s.Name, Join: &graph.JoinSpec{Steps: *s.Inputs}}
	case s.Join:
		d = graph.Join(s.Name)
	default:
		d = graph.StepAfter(s.Name, s.After)
	}
	d.Doc = s.Doc
	return d, nil
}
