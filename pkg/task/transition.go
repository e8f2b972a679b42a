package task

import (
	"github.com/celsiustx/metaflow/pkg/api"
	"github.com/celsiustx/metaflow/pkg/graph"
)

// Transition is the next-step declaration of a task.
type Transition struct {
	Steps []string
	// Foreach is the artifact the single target iterates over, if any.
	Foreach string
	// NumSplits is the size of a bounded foreach. It is 0 otherwise.
	NumSplits int
	// Unbounded is set when Foreach names an UnboundedInput.
	Unbounded bool
}

// TransitionRequest is the raw next-step call of a task.
type TransitionRequest struct {
	Steps         []string
	Foreach       string
	ParallelWidth int
}

// State is what the validator needs to know about the calling task.
type State struct {
	Step      string
	Declared  bool
	Artifacts Artifacts
}

// Result is an accepted transition. When Artifact is set, the caller must
// store Value under that name before fanning out.
type Result struct {
	Transition Transition
	Artifact   string
	Value      any
}

// Validate checks req against g for the task described by st. It does not
// modify st.
func Validate(g *graph.Graph, st State, req TransitionRequest) (Result, error) {
	step := st.Step
	if st.Declared {
		return Result{}, api.NewInvalidTransition(step, "multiple next() calls detected; call next() only once")
	}

	for i, dst := range req.Steps {
		if dst == "" {
			return Result{}, api.NewInvalidTransition(step, "argument %d of next() is not a step", i+1)
		}
		if !g.Has(dst) {
			return Result{}, api.NewInvalidTransition(step, "next() names an unknown step, *%s*", dst)
		}
	}

	res := Result{Transition: Transition{Steps: append([]string(nil), req.Steps...)}}
	foreach := req.Foreach
	var value any
	haveValue := false

	if req.ParallelWidth >= 1 {
		if len(req.Steps) > 1 {
			return Result{}, api.NewInvalidTransition(step, "only one destination allowed when parallel is used in next()")
		}
		foreach = ParallelField
		value, haveValue = ParallelInput{Width: req.ParallelWidth}, true
		res.Artifact, res.Value = ParallelField, value
	}

	if foreach != "" {
		if len(req.Steps) != 1 {
			return Result{}, api.NewInvalidTransition(step, "specify exactly one target for foreach")
		}
		if !haveValue {
			v, ok, err := lookup(st.Artifacts, foreach)
			if err != nil {
				return Result{}, api.NewInvalidTransition(step, "cannot read foreach variable *%s*: %v", foreach, err)
			}
			if !ok {
				return Result{}, api.NewInvalidTransition(step, "foreach variable *%s* does not exist", foreach)
			}
			value = v
		}

		if _, ok := value.(UnboundedInput); ok {
			if err := validateUnbounded(g, step, req.Steps[0]); err != nil {
				return Result{}, err
			}
			res.Transition.Unbounded = true
		} else {
			n, ok := countSplits(value)
			if !ok {
				return Result{}, api.NewInvalidTransition(step, "foreach variable *%s* is not iterable", foreach)
			}
			if n == 0 {
				return Result{}, api.NewInvalidTransition(step, "foreach iterator over *%s* produced zero splits", foreach)
			}
			res.Transition.NumSplits = n
		}
		res.Transition.Foreach = foreach
		return res, nil
	}

	if len(req.Steps) < 1 {
		return Result{}, api.NewInvalidTransition(step, "specify at least one step in next()")
	}
	return res, nil
}

func lookup(a Artifacts, name string) (any, bool, error) {
	if a == nil {
		return nil, false, nil
	}
	return a.Get(name)
}

// validateUnbounded requires target to flow into exactly one join.
func validateUnbounded(g *graph.Graph, step, target string) error {
	node, _ := g.Node(target)
	out := node.Out()
	if len(out) != 1 {
		return api.NewInvalidTransition(step, "unbounded foreach is supported only over a single node; specify a single join instead of %v", out)
	}
	if join, _ := g.Node(out[0]); join.Type() != graph.TypeJoin {
		return api.NewInvalidTransition(step, "unbounded foreach found for %s -> %s; %s is not a join", target, out[0], out[0])
	}
	return nil
}

// Next declares the successors of the task.
func (c *Context) Next(steps ...string) error {
	return c.Declare(TransitionRequest{Steps: steps})
}

// NextForeach declares a foreach over artifact field into step.
func (c *Context) NextForeach(field, step string) error {
	return c.Declare(TransitionRequest{Steps: []string{step}, Foreach: field})
}

// NextParallel runs step width times in parallel.
func (c *Context) NextParallel(width int, step string) error {
	return c.Declare(TransitionRequest{Steps: []string{step}, ParallelWidth: width})
}

// Declare validates req and records it as the task's transition.
func (c *Context) Declare(req TransitionRequest) error {
	res, err := Validate(c.graph, State{
		Step:      c.node.Name(),
		Declared:  c.transition != nil,
		Artifacts: c.artifacts,
	}, req)
	if err != nil {
		return err
	}
	if res.Artifact != "" {
		if err := c.artifacts.Set(res.Artifact, res.Value); err != nil {
			return err
		}
	}
	c.transition = &res.Transition
	return nil
}
