package worker

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/celsiustx/metaflow/internal/engine"
	"github.com/celsiustx/metaflow/internal/taskqueue"
	"github.com/celsiustx/metaflow/pkg/api"
	"github.com/celsiustx/metaflow/pkg/graph"
	"github.com/celsiustx/metaflow/pkg/task"
)

type engineFactory func(t *testing.T) *engine.Engine

func inMemoryEngine(t *testing.T) *engine.Engine {
	t.Helper()
	return engine.NewInMemoryEngine()
}

func sqliteEngine(t *testing.T) *engine.Engine {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("sql.Open failed: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	eng, err := engine.NewSQLiteEngine(db)
	if err != nil {
		t.Fatalf("NewSQLiteEngine failed: %v", err)
	}
	return eng
}

func squaresFlow(t *testing.T) engine.Flow {
	t.Helper()
	g, err := graph.Build("Squares", []graph.Declaration{
		graph.Step("numbers"),
		graph.Foreach("square", "ns", ""),
		graph.Join("sum"),
	})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	return engine.Flow{Graph: g, Steps: map[string]engine.StepFunc{
		"numbers": func(_ context.Context, tc *task.Context) error {
			return tc.Set("ns", []int{1, 2, 3, 4})
		},
		"square": func(_ context.Context, tc *task.Context) error {
			n := tc.Input().(int)
			return tc.Set("sq", n*n)
		},
		"sum": func(_ context.Context, tc *task.Context) error {
			total := 0
			for _, in := range tc.Inputs() {
				v, _, err := in.Artifacts.Get("sq")
				if err != nil {
					return err
				}
				total += v.(int)
			}
			return tc.Set("total", total)
		},
	}}
}

// drain processes tasks until the queue is empty.
func drain(t *testing.T, w *Worker, q taskqueue.Queue) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for q.Len() > 0 {
		processed, err := w.ProcessOne(ctx)
		if err != nil {
			t.Fatalf("ProcessOne failed (processed=%v): %v", processed, err)
		}
	}
}

func TestWorker_DrivesRunToCompletion(t *testing.T) {
	factories := map[string]engineFactory{
		"in-memory": inMemoryEngine,
		"sqlite":    sqliteEngine,
	}

	for name, factory := range factories {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			eng := factory(t)
			if err := eng.Register(squaresFlow(t)); err != nil {
				t.Fatalf("Register failed: %v", err)
			}
			queue := taskqueue.NewInMemoryQueue(16)
			w := New(eng, queue)

			runID, err := w.EnqueueRun(ctx, "Squares", nil)
			if err != nil {
				t.Fatalf("EnqueueRun failed: %v", err)
			}
			if queue.Len() != 1 {
				t.Fatalf("expected only the start task queued, got %d", queue.Len())
			}

			drain(t, w, queue)

			run, err := eng.GetRun(ctx, runID)
			if err != nil {
				t.Fatalf("GetRun failed: %v", err)
			}
			if run.Status != api.StatusCompleted {
				t.Fatalf("expected COMPLETED, got %s (err=%v)", run.Status, run.Err)
			}
			if got := len(run.TasksFor("square")); got != 4 {
				t.Fatalf("expected 4 square tasks, got %d", got)
			}

			sums := run.TasksFor("sum")
			if len(sums) != 1 {
				t.Fatalf("expected one sum task, got %d", len(sums))
			}
			arts, err := eng.Artifacts(ctx, runID, sums[0])
			if err != nil {
				t.Fatalf("Artifacts failed: %v", err)
			}
			total, _, err := arts.Get("total")
			if err != nil {
				t.Fatalf("Get failed: %v", err)
			}
			if total != 30 {
				t.Fatalf("expected total 30, got %v", total)
			}
		})
	}
}

func TestWorker_SQLiteQueue(t *testing.T) {
	ctx := context.Background()

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("sql.Open failed: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	queue, err := taskqueue.NewSQLiteQueue(db)
	if err != nil {
		t.Fatalf("NewSQLiteQueue failed: %v", err)
	}
	eng := engine.NewInMemoryEngine()
	if err := eng.Register(squaresFlow(t)); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	w := New(eng, queue)

	runID, err := w.EnqueueRun(ctx, "Squares", nil)
	if err != nil {
		t.Fatalf("EnqueueRun failed: %v", err)
	}
	drain(t, w, queue)

	run, err := eng.Wait(ctx, runID)
	if err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	if run.Status != api.StatusCompleted {
		t.Fatalf("expected COMPLETED, got %s", run.Status)
	}
}

func TestWorker_StepFailureIsReported(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("boom")

	flow := squaresFlow(t)
	flow.Steps["square"] = func(context.Context, *task.Context) error { return boom }

	eng := engine.NewInMemoryEngine()
	if err := eng.Register(flow); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	queue := taskqueue.NewInMemoryQueue(16)
	w := New(eng, queue)

	runID, err := w.EnqueueRun(ctx, "Squares", nil)
	if err != nil {
		t.Fatalf("EnqueueRun failed: %v", err)
	}

	var stepErr error
	for queue.Len() > 0 {
		if _, err := w.ProcessOne(ctx); err != nil && stepErr == nil {
			stepErr = err
		}
	}
	if !errors.Is(stepErr, boom) {
		t.Fatalf("expected boom, got %v", stepErr)
	}

	run, err := eng.GetRun(ctx, runID)
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if run.Status != api.StatusFailed {
		t.Fatalf("expected FAILED, got %s", run.Status)
	}
}

func TestWorker_RunStopsOnCancel(t *testing.T) {
	eng := engine.NewInMemoryEngine()
	w := New(eng, taskqueue.NewInMemoryQueue(1))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := w.Run(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestWorker_EnqueueRunUnknownFlow(t *testing.T) {
	w := New(engine.NewInMemoryEngine(), taskqueue.NewInMemoryQueue(1))
	if _, err := w.EnqueueRun(context.Background(), "Missing", nil); !errors.Is(err, engine.ErrFlowNotFound) {
		t.Fatalf("expected ErrFlowNotFound, got %v", err)
	}
}
