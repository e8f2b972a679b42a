package task

import (
	"fmt"
	"slices"

	"github.com/celsiustx/metaflow/pkg/api"
	"github.com/celsiustx/metaflow/pkg/graph"
)

// Options configures a new task Context.
type Options struct {
	TaskID    string
	Artifacts Artifacts
	// Stack is the foreach stack the task runs in, outermost first.
	Stack []Frame
	// Inputs are the incoming branches of a join task.
	Inputs []Branch
}

// Context is the execution context of a single task. It is task-local and
// not safe for concurrent use.
type Context struct {
	graph     *graph.Graph
	node      *graph.Node
	taskID    string
	artifacts Artifacts
	stack     []Frame
	inputs    []Branch

	transition *Transition
	cache      map[int]any
}

// New returns the context of a task executing step of g.
func New(g *graph.Graph, step string, opts Options) (*Context, error) {
	node, ok := g.Node(step)
	if !ok {
		return nil, fmt.Errorf("flow %s has no step %q", g.Name(), step)
	}
	if opts.Artifacts == nil {
		return nil, fmt.Errorf("task %s/%s: no artifact store", step, opts.TaskID)
	}
	return &Context{
		graph:     g,
		node:      node,
		taskID:    opts.TaskID,
		artifacts: opts.Artifacts,
		stack:     slices.Clone(opts.Stack),
		inputs:    slices.Clone(opts.Inputs),
		cache:     make(map[int]any),
	}, nil
}

func (c *Context) Graph() *graph.Graph  { return c.graph }
func (c *Context) Node() *graph.Node    { return c.node }
func (c *Context) Step() string         { return c.node.Name() }
func (c *Context) TaskID() string       { return c.taskID }
func (c *Context) Artifacts() Artifacts { return c.artifacts }

// Pathspec returns "<step>/<task id>".
func (c *Context) Pathspec() string { return c.node.Name() + "/" + c.taskID }

// Inputs returns the incoming branches. It is empty unless the task runs a
// join step.
func (c *Context) Inputs() []Branch { return slices.Clone(c.inputs) }

// Stack returns a copy of the task's foreach stack.
func (c *Context) Stack() []Frame { return slices.Clone(c.stack) }

// Transition returns the declared transition, or nil if none was declared.
func (c *Context) Transition() *Transition {
	if c.transition == nil {
		return nil
	}
	t := *c.transition
	t.Steps = slices.Clone(t.Steps)
	return &t
}

// Get returns artifact name. It fails with api.ErrUnknownArtifact when the
// task cannot see it.
func (c *Context) Get(name string) (any, error) {
	v, ok, err := c.artifacts.Get(name)
	if err != nil {
		return nil, fmt.Errorf("task %s: read %s: %w", c.Pathspec(), name, err)
	}
	if !ok {
		return nil, fmt.Errorf("task %s: %w %q", c.Pathspec(), api.ErrUnknownArtifact, name)
	}
	return v, nil
}

// Set stores artifact name on the task.
func (c *Context) Set(name string, value any) error {
	if err := c.artifacts.Set(name, value); err != nil {
		return fmt.Errorf("task %s: write %s: %w", c.Pathspec(), name, err)
	}
	return nil
}

// Value reads artifact name and asserts it to T.
func Value[T any](c *Context, name string) (T, error) {
	var zero T
	v, err := c.Get(name)
	if err != nil {
		return zero, err
	}
	t, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("task %s: artifact %s is %T, not %T", c.Pathspec(), name, v, zero)
	}
	return t, nil
}
