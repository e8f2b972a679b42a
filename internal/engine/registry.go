package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/celsiustx/metaflow/pkg/graph"
	"github.com/celsiustx/metaflow/pkg/task"
)

var (
	// ErrFlowNotFound is returned when no flow of the given name is registered.
	ErrFlowNotFound = errors.New("flow not found")

	// ErrFlowAlreadyRegistered is returned when a flow name is registered twice.
	ErrFlowAlreadyRegistered = errors.New("flow already registered")
)

// StepFunc is the body of a step. It reads and writes artifacts through t
// and may declare its own transition. A step that does not declare one
// follows its static out-edges.
type StepFunc func(ctx context.Context, t *task.Context) error

// Flow is a built graph plus the functions of its steps. Steps without a
// function only pass their inputs along.
type Flow struct {
	Graph *graph.Graph
	Steps map[string]StepFunc
}

// Name returns the flow name.
func (f Flow) Name() string { return f.Graph.Name() }

func (f Flow) validate() error {
	if f.Graph == nil {
		return errors.New("flow has no graph")
	}
	for name := range f.Steps {
		if !f.Graph.Has(name) {
			return fmt.Errorf("flow %s: function for unknown step %q", f.Graph.Name(), name)
		}
	}
	return nil
}

type flowRegistry struct {
	mu     sync.RWMutex
	byName map[string]Flow
}

func newFlowRegistry() *flowRegistry {
	return &flowRegistry{
		byName: make(map[string]Flow),
	}
}

func (r *flowRegistry) Register(f Flow) error {
	if err := f.validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byName[f.Name()]; exists {
		return fmt.Errorf("%w: %s", ErrFlowAlreadyRegistered, f.Name())
	}
	r.byName[f.Name()] = f
	return nil
}

func (r *flowRegistry) Get(name string) (Flow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	f, ok := r.byName[name]
	if !ok {
		return Flow{}, fmt.Errorf("%w: %s", ErrFlowNotFound, name)
	}
	return f, nil
}

func (r *flowRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.byName))
	for name := range r.byName {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
