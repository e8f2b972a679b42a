package metaflow

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

func TestSQLiteBundle_PersistsRunAndArtifacts(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("sql.Open failed: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	bundle, err := NewSQLiteBundle(db)
	if err != nil {
		t.Fatalf("NewSQLiteBundle failed: %v", err)
	}

	New("Durable").
		Step("hello", func(_ context.Context, t *Context) error {
			return t.Set("greeting", "hello")
		}).
		MustRegister(bundle.Engine)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	runID, err := bundle.Worker.EnqueueRun(ctx, "Durable", nil)
	if err != nil {
		t.Fatalf("EnqueueRun failed: %v", err)
	}
	for bundle.Pending() > 0 {
		if _, err := bundle.Worker.ProcessOne(ctx); err != nil {
			t.Fatalf("ProcessOne failed: %v", err)
		}
	}

	runs, err := bundle.Engine.ListRuns(ctx, RunFilter{Flow: "Durable"})
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(runs) != 1 || runs[0].ID != runID || runs[0].Status != StatusCompleted {
		t.Fatalf("unexpected stored runs: %+v", runs)
	}

	hello := runs[0].TasksFor("hello")
	if len(hello) != 1 {
		t.Fatalf("expected one hello task, got %d", len(hello))
	}
	arts, err := bundle.Engine.Artifacts(ctx, runID, hello[0])
	if err != nil {
		t.Fatalf("Artifacts failed: %v", err)
	}
	v, ok, err := arts.Get("greeting")
	if err != nil || !ok || v != "hello" {
		t.Fatalf("expected greeting=hello, got %v %v %v", v, ok, err)
	}
}

func TestSQLiteEngine_RunReportsTypedFailure(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("sql.Open failed: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	eng, err := NewSQLiteEngine(db)
	if err != nil {
		t.Fatalf("NewSQLiteEngine failed: %v", err)
	}
	runner := NewLocalRunnerWithConfig(LocalRunnerConfig{Engine: eng})
	defer runner.Stop()

	New("Conflict").
		Step("one", nil).
		StepAfter("aaa", "one", func(_ context.Context, t *Context) error { return t.Set("x", 5) }).
		StepAfter("bbb", "one", func(_ context.Context, t *Context) error { return t.Set("x", 6) }).
		JoinSteps("join", func(_ context.Context, t *Context) error {
			_, err := t.MergeArtifacts(t.Inputs(), MergeOptions{})
			return err
		}, "aaa", "bbb").
		MustRegister(eng)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	run, err := runner.Run(ctx, "Conflict", nil)
	names, ok := IsMergeConflict(err)
	if !ok || len(names) != 1 || names[0] != "x" {
		t.Fatalf("expected merge conflict on [x], got %v", err)
	}
	if run.Status != StatusFailed {
		t.Fatalf("expected FAILED, got %s", run.Status)
	}

	// A later lookup of the finished run keeps the typed error too.
	again, err := eng.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if _, ok := IsMergeConflict(again.Err); !ok {
		t.Fatalf("expected GetRun to keep the merge conflict, got %v", again.Err)
	}

	// The stored record holds the failure message.
	stored, err := eng.ListRuns(ctx, RunFilter{Flow: "Conflict"})
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(stored) != 1 || stored[0].Err == nil || stored[0].Err.Error() != again.Err.Error() {
		t.Fatalf("unexpected stored runs: %+v", stored)
	}
}
