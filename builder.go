package metaflow

import (
	"fmt"
	"log/slog"
	"maps"

	"github.com/celsiustx/metaflow/pkg/graph"
	"github.com/celsiustx/metaflow/pkg/task"
)

// FlowBuilder provides a fluent API for defining flows:
//
//	flow := metaflow.New("Branching").
//	    Step("one", one).
//	    StepAfter("aaa", "one", aaa).
//	    StepAfter("bbb", "one", bbb).
//	    JoinSteps("join", join, "aaa", "bbb")
//
//	if err := flow.Register(engine); err != nil {
//	    log.Fatal(err)
//	}
//
// A nil StepFunc is allowed: the step then only passes its inputs along and
// follows its static out-edges.
type FlowBuilder struct {
	name   string
	parts  [][]graph.Declaration
	own    []graph.Declaration
	steps  map[string]StepFunc
	logger *slog.Logger
}

// New creates a new flow builder with the given name.
func New(name string) *FlowBuilder {
	if name == "" {
		panic("metaflow: flow name must not be empty")
	}
	return &FlowBuilder{
		name:  name,
		steps: make(map[string]StepFunc),
	}
}

// Name returns the flow name.
func (b *FlowBuilder) Name() string {
	return b.name
}

// WithLogger sets the logger receiving the graph builder's debug records.
func (b *FlowBuilder) WithLogger(logger *slog.Logger) *FlowBuilder {
	b.logger = logger
	return b
}

func (b *FlowBuilder) add(d graph.Declaration, fn StepFunc) *FlowBuilder {
	if d.Name == "" {
		panic("metaflow: step name must not be empty")
	}
	b.own = append(b.own, d)
	if fn != nil {
		b.steps[d.Name] = fn
	}
	return b
}

// Step appends a step that follows the previous one.
func (b *FlowBuilder) Step(name string, fn StepFunc) *FlowBuilder {
	return b.add(graph.Step(name), fn)
}

// StepAfter appends a step following prev. Several steps after the same
// predecessor make it a split.
func (b *FlowBuilder) StepAfter(name, prev string, fn StepFunc) *FlowBuilder {
	return b.add(graph.StepAfter(name, prev), fn)
}

// Foreach appends the body of a foreach over artifact field of step from.
// An empty from selects the previous step.
func (b *FlowBuilder) Foreach(name, field, from string, fn StepFunc) *FlowBuilder {
	return b.add(graph.Foreach(name, field, from), fn)
}

// Parallel appends a step run in parallel a number of times chosen at run
// time with Context.NextParallel.
func (b *FlowBuilder) Parallel(name, from string, fn StepFunc) *FlowBuilder {
	return b.add(graph.Foreach(name, task.ParallelField, from), fn)
}

// Join appends a join of the previous step, closing a foreach.
func (b *FlowBuilder) Join(name string, fn StepFunc) *FlowBuilder {
	return b.add(graph.Join(name), fn)
}

// JoinSteps appends a join of the named branches.
func (b *FlowBuilder) JoinSteps(name string, fn StepFunc, steps ...string) *FlowBuilder {
	if len(steps) == 0 {
		panic(fmt.Sprintf("metaflow: join %q needs at least one step", name))
	}
	return b.add(graph.Join(name, steps...), fn)
}

// Doc sets the description of the most recently added step.
func (b *FlowBuilder) Doc(doc string) *FlowBuilder {
	if len(b.own) == 0 {
		panic("metaflow: Doc called before any step")
	}
	b.own[len(b.own)-1].Doc = doc
	return b
}

// Mixin appends the steps of other at this point. A step may be
// implemented only once across a flow and its mixins.
func (b *FlowBuilder) Mixin(other *FlowBuilder) *FlowBuilder {
	b.flush()
	b.parts = append(b.parts, other.declarations()...)
	for name, fn := range other.steps {
		if _, taken := b.steps[name]; !taken {
			b.steps[name] = fn
		}
	}
	return b
}

func (b *FlowBuilder) flush() {
	if len(b.own) > 0 {
		b.parts = append(b.parts, b.own)
		b.own = nil
	}
}

func (b *FlowBuilder) declarations() [][]graph.Declaration {
	parts := append([][]graph.Declaration(nil), b.parts...)
	if len(b.own) > 0 {
		parts = append(parts, b.own)
	}
	return parts
}

// Build composes the declarations and builds the flow graph.
func (b *FlowBuilder) Build() (Flow, error) {
	decls, err := graph.Compose(b.name, b.declarations()...)
	if err != nil {
		return Flow{}, err
	}
	g, err := (&graph.Builder{Name: b.name, Logger: b.logger}).Build(decls)
	if err != nil {
		return Flow{}, err
	}
	return Flow{Graph: g, Steps: maps.Clone(b.steps)}, nil
}

// Register builds the flow and registers it with the given engine.
func (b *FlowBuilder) Register(eng *Engine) error {
	f, err := b.Build()
	if err != nil {
		return err
	}
	return eng.Register(f)
}

// MustRegister is like Register but panics on error.
// Useful for initialization in main().
func (b *FlowBuilder) MustRegister(eng *Engine) {
	if err := b.Register(eng); err != nil {
		panic(err)
	}
}
