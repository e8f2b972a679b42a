package api

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// Observer receives callbacks from the engine for logging and metrics.
//
// Implementations should be fast and non-blocking; heavy work should be done
// asynchronously so as not to delay task execution. Callbacks for sibling
// foreach tasks may arrive concurrently.
type Observer interface {
	// OnRunStart is called once when a run is created, before its start
	// task is scheduled.
	OnRunStart(ctx context.Context, run *Run)

	// OnRunCompleted is called when the end step of a run has completed.
	OnRunCompleted(ctx context.Context, run *Run)

	// OnRunFailed is called when a run transitions to StatusFailed.
	OnRunFailed(ctx context.Context, run *Run, err error)

	// OnTaskStart is called before invoking a step function.
	OnTaskStart(ctx context.Context, run *Run, task TaskInfo)

	// OnTaskCompleted is called after a step function returns and its
	// transition was validated, for both successes and failures (err != nil).
	OnTaskCompleted(ctx context.Context, run *Run, task TaskInfo, err error, duration time.Duration)
}

// NoopObserver is an Observer that does nothing.
// It is used as the default when no observer is configured.
type NoopObserver struct{}

func (NoopObserver) OnRunStart(ctx context.Context, run *Run)                     {}
func (NoopObserver) OnRunCompleted(ctx context.Context, run *Run)                 {}
func (NoopObserver) OnRunFailed(ctx context.Context, run *Run, err error)         {}
func (NoopObserver) OnTaskStart(ctx context.Context, run *Run, task TaskInfo)     {}
func (NoopObserver) OnTaskCompleted(ctx context.Context, run *Run, task TaskInfo, err error, d time.Duration) {
}

// CompositeObserver fans out events to multiple observers.
type CompositeObserver struct {
	observers []Observer
}

// NewCompositeObserver creates an Observer that forwards events to each
// non-nil observer in obs.
func NewCompositeObserver(obs ...Observer) Observer {
	filtered := make([]Observer, 0, len(obs))
	for _, o := range obs {
		if o != nil {
			filtered = append(filtered, o)
		}
	}
	if len(filtered) == 0 {
		return NoopObserver{}
	}
	if len(filtered) == 1 {
		return filtered[0]
	}
	return &CompositeObserver{observers: filtered}
}

func (c *CompositeObserver) OnRunStart(ctx context.Context, run *Run) {
	for _, o := range c.observers {
		o.OnRunStart(ctx, run)
	}
}

func (c *CompositeObserver) OnRunCompleted(ctx context.Context, run *Run) {
	for _, o := range c.observers {
		o.OnRunCompleted(ctx, run)
	}
}

func (c *CompositeObserver) OnRunFailed(ctx context.Context, run *Run, err error) {
	for _, o := range c.observers {
		o.OnRunFailed(ctx, run, err)
	}
}

func (c *CompositeObserver) OnTaskStart(ctx context.Context, run *Run, task TaskInfo) {
	for _, o := range c.observers {
		o.OnTaskStart(ctx, run, task)
	}
}

func (c *CompositeObserver) OnTaskCompleted(ctx context.Context, run *Run, task TaskInfo, err error, d time.Duration) {
	for _, o := range c.observers {
		o.OnTaskCompleted(ctx, run, task, err, d)
	}
}

// LoggingObserver writes structured logs using log/slog.
type LoggingObserver struct {
	Logger *slog.Logger
}

// NewLoggingObserver creates an Observer that logs run / task lifecycle
// events using the provided slog.Logger. If logger is nil, slog.Default()
// is used.
func NewLoggingObserver(logger *slog.Logger) Observer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingObserver{Logger: logger}
}

func (o *LoggingObserver) OnRunStart(ctx context.Context, run *Run) {
	o.Logger.InfoContext(ctx, "run_start",
		slog.String("flow", run.Flow),
		slog.String("run_id", run.ID),
	)
}

func (o *LoggingObserver) OnRunCompleted(ctx context.Context, run *Run) {
	o.Logger.InfoContext(ctx, "run_completed",
		slog.String("flow", run.Flow),
		slog.String("run_id", run.ID),
		slog.Int("tasks", len(run.Tasks)),
	)
}

func (o *LoggingObserver) OnRunFailed(ctx context.Context, run *Run, err error) {
	o.Logger.ErrorContext(ctx, "run_failed",
		slog.String("flow", run.Flow),
		slog.String("run_id", run.ID),
		slog.Any("error", err),
	)
}

func (o *LoggingObserver) OnTaskStart(ctx context.Context, run *Run, task TaskInfo) {
	o.Logger.DebugContext(ctx, "task_start",
		slog.String("flow", run.Flow),
		slog.String("run_id", run.ID),
		slog.String("step", task.Step),
		slog.String("task_id", task.ID),
		slog.Int("index", task.Index),
	)
}

func (o *LoggingObserver) OnTaskCompleted(ctx context.Context, run *Run, task TaskInfo, err error, d time.Duration) {
	level := slog.LevelDebug
	if err != nil {
		level = slog.LevelError
	}
	o.Logger.Log(ctx, level, "task_completed",
		slog.String("flow", run.Flow),
		slog.String("run_id", run.ID),
		slog.String("step", task.Step),
		slog.String("task_id", task.ID),
		slog.Int("index", task.Index),
		slog.Duration("duration", d),
		slog.Any("error", err),
	)
}

// BasicMetrics collects simple counters and aggregate task durations.
// It implements Observer, and can be combined with LoggingObserver via
// NewCompositeObserver.
type BasicMetrics struct {
	NoopObserver

	runsStarted       atomic.Int64
	runsCompleted     atomic.Int64
	runsFailed        atomic.Int64
	tasksCompleted    atomic.Int64
	totalTaskDuration atomic.Int64 // nanoseconds
}

// BasicMetricsSnapshot is an immutable snapshot of BasicMetrics.
type BasicMetricsSnapshot struct {
	RunsStarted   int64
	RunsCompleted int64
	RunsFailed    int64
	PendingRuns   int64

	TasksCompleted  int64
	AvgTaskDuration time.Duration
}

func (m *BasicMetrics) OnRunStart(ctx context.Context, run *Run) {
	m.runsStarted.Add(1)
}

func (m *BasicMetrics) OnRunCompleted(ctx context.Context, run *Run) {
	m.runsCompleted.Add(1)
}

func (m *BasicMetrics) OnRunFailed(ctx context.Context, run *Run, err error) {
	m.runsFailed.Add(1)
}

func (m *BasicMetrics) OnTaskCompleted(ctx context.Context, run *Run, task TaskInfo, err error, d time.Duration) {
	// Only count successful tasks for average duration.
	if err == nil {
		m.tasksCompleted.Add(1)
		m.totalTaskDuration.Add(d.Nanoseconds())
	}
}

// Snapshot returns a snapshot of the current metrics.
func (m *BasicMetrics) Snapshot() BasicMetricsSnapshot {
	started := m.runsStarted.Load()
	completed := m.runsCompleted.Load()
	failed := m.runsFailed.Load()
	tasks := m.tasksCompleted.Load()
	totalNs := m.totalTaskDuration.Load()

	var avg time.Duration
	if tasks > 0 {
		avg = time.Duration(totalNs / tasks)
	}

	return BasicMetricsSnapshot{
		RunsStarted:     started,
		RunsCompleted:   completed,
		RunsFailed:      failed,
		PendingRuns:     started - completed - failed,
		TasksCompleted:  tasks,
		AvgTaskDuration: avg,
	}
}
