package metaflow

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/celsiustx/metaflow/pkg/api"
)

func withTimeout(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// TestLocalRunner_ForeachRunsConcurrently runs a foreach whose splits wait
// for each other, which only completes when they run in parallel.
func TestLocalRunner_ForeachRunsConcurrently(t *testing.T) {
	runner := NewLocalRunnerWithConfig(LocalRunnerConfig{Workers: 3})
	defer runner.Stop()

	var barrier sync.WaitGroup
	barrier.Add(3)

	New("Concurrent").
		Step("numbers", func(_ context.Context, t *Context) error {
			return t.Set("xs", []int{1, 2, 3})
		}).
		Foreach("wait", "xs", "", func(ctx context.Context, t *Context) error {
			barrier.Done()
			done := make(chan struct{})
			go func() { barrier.Wait(); close(done) }()
			select {
			case <-done:
				return t.Set("n", t.Input())
			case <-ctx.Done():
				return ctx.Err()
			}
		}).
		Join("collect", func(_ context.Context, t *Context) error {
			var ns []int
			for _, in := range t.Inputs() {
				v, _, err := in.Artifacts.Get("n")
				if err != nil {
					return err
				}
				ns = append(ns, v.(int))
			}
			return t.Set("ns", ns)
		}).
		MustRegister(runner.Engine)

	run, err := runner.Run(withTimeout(t), "Concurrent", nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if run.Status != StatusCompleted {
		t.Fatalf("expected COMPLETED, got %s", run.Status)
	}

	collect := run.TasksFor("collect")
	if len(collect) != 1 {
		t.Fatalf("expected one collect task, got %d", len(collect))
	}
	arts, err := runner.Engine.Artifacts(context.Background(), run.ID, collect[0])
	if err != nil {
		t.Fatalf("Artifacts failed: %v", err)
	}
	ns, _, err := arts.Get("ns")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	got := ns.([]int)
	if len(got) != 3 || got[0] != 1 || got[1] != 2 || got[2] != 3 {
		t.Fatalf("expected join inputs in split order, got %v", got)
	}
}

func TestLocalRunner_MergeArtifacts(t *testing.T) {
	runner := NewLocalRunner()
	defer runner.Stop()

	var final int
	New("Merge").
		Step("one", func(_ context.Context, t *Context) error { return t.Set("base", 1) }).
		StepAfter("aaa", "one", func(_ context.Context, t *Context) error { return t.Set("x", 5) }).
		StepAfter("bbb", "one", func(_ context.Context, t *Context) error { return t.Set("x", 5) }).
		JoinSteps("join", func(_ context.Context, t *Context) error {
			applied, err := t.MergeArtifacts(t.Inputs(), MergeOptions{})
			if err != nil {
				return err
			}
			sort.Strings(applied)
			if len(applied) != 2 {
				return errors.New("expected base and x to be merged")
			}
			return nil
		}, "aaa", "bbb").
		Step("end", func(_ context.Context, t *Context) error {
			v, err := Value[int](t, "x")
			final = v
			return err
		}).
		MustRegister(runner.Engine)

	run, err := runner.Run(withTimeout(t), "Merge", nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if run.Status != StatusCompleted || final != 5 {
		t.Fatalf("expected COMPLETED with x=5, got %s x=%d", run.Status, final)
	}
}

func TestLocalRunner_MergeConflict(t *testing.T) {
	runner := NewLocalRunner()
	defer runner.Stop()

	New("Conflict").
		Step("one", nil).
		StepAfter("aaa", "one", func(_ context.Context, t *Context) error { return t.Set("x", 5) }).
		StepAfter("bbb", "one", func(_ context.Context, t *Context) error { return t.Set("x", 6) }).
		JoinSteps("join", func(_ context.Context, t *Context) error {
			_, err := t.MergeArtifacts(t.Inputs(), MergeOptions{})
			return err
		}, "aaa", "bbb").
		MustRegister(runner.Engine)

	run, err := runner.Run(withTimeout(t), "Conflict", nil)
	names, ok := IsMergeConflict(err)
	if !ok {
		t.Fatalf("expected merge conflict, got %v", err)
	}
	if len(names) != 1 || names[0] != "x" {
		t.Fatalf("expected unresolved [x], got %v", names)
	}
	if run.Status != StatusFailed {
		t.Fatalf("expected FAILED, got %s", run.Status)
	}
}

func TestLocalRunner_ParallelAndObserver(t *testing.T) {
	metrics := &BasicMetrics{}
	runner := NewLocalRunnerWithConfig(LocalRunnerConfig{
		Engine: NewEngine(EngineConfig{Observer: metrics}),
	})
	defer runner.Stop()

	var mu sync.Mutex
	var seen []int
	New("Parallel").
		Step("plan", func(_ context.Context, t *Context) error {
			width, err := Value[int](t, "width")
			if err != nil {
				return err
			}
			return t.NextParallel(width, "work")
		}).
		Parallel("work", "", func(_ context.Context, t *Context) error {
			mu.Lock()
			seen = append(seen, t.Index())
			mu.Unlock()
			return nil
		}).
		Join("done", nil).
		MustRegister(runner.Engine)

	run, err := runner.Run(withTimeout(t), "Parallel", map[string]any{"width": 4})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	sort.Ints(seen)
	if len(seen) != 4 || seen[0] != 0 || seen[3] != 3 {
		t.Fatalf("expected indexes 0..3, got %v", seen)
	}

	snap := metrics.Snapshot()
	if snap.RunsCompleted != 1 || snap.TasksCompleted != int64(len(run.Tasks)) {
		t.Fatalf("unexpected metrics %+v for %d tasks", snap, len(run.Tasks))
	}

	events, err := runner.Engine.Events(context.Background(), run.ID)
	if err != nil {
		t.Fatalf("Events failed: %v", err)
	}
	if len(events) == 0 || events[len(events)-1].Type != api.EventRunCompleted {
		t.Fatalf("expected history ending in run.completed, got %v", events)
	}
}

func TestLocalRunner_UnknownFlow(t *testing.T) {
	runner := NewLocalRunner()
	defer runner.Stop()

	if _, err := runner.Run(withTimeout(t), "Missing", nil); err == nil {
		t.Fatalf("expected error for unknown flow")
	}
}

func TestLocalRunner_ForeachWiderThanQueue(t *testing.T) {
	runner := NewLocalRunnerWithConfig(LocalRunnerConfig{Workers: 1, QueueCapacity: 8})
	defer runner.Stop()

	xs := make([]int, 20)
	for i := range xs {
		xs[i] = i
	}

	New("Wide").
		Step("numbers", func(_ context.Context, t *Context) error {
			return t.Set("xs", xs)
		}).
		Foreach("double", "xs", "", func(_ context.Context, t *Context) error {
			return t.Set("n", t.Input().(int)*2)
		}).
		Join("collect", func(_ context.Context, t *Context) error {
			return t.Set("count", len(t.Inputs()))
		}).
		MustRegister(runner.Engine)

	run, err := runner.Run(withTimeout(t), "Wide", nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if run.Status != StatusCompleted {
		t.Fatalf("expected COMPLETED, got %s", run.Status)
	}
	if n := len(run.TasksFor("double")); n != len(xs) {
		t.Fatalf("expected %d double tasks, got %d", len(xs), n)
	}

	collect := run.TasksFor("collect")
	if len(collect) != 1 {
		t.Fatalf("expected one collect task, got %d", len(collect))
	}
	arts, err := runner.Engine.Artifacts(context.Background(), run.ID, collect[0])
	if err != nil {
		t.Fatalf("Artifacts failed: %v", err)
	}
	count, _, err := arts.Get("count")
	if err != nil || count != len(xs) {
		t.Fatalf("expected count=%d, got %v (%v)", len(xs), count, err)
	}
}
