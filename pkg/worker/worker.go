package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/celsiustx/metaflow/internal/logging"
	"github.com/celsiustx/metaflow/internal/taskqueue"
)

// Executor runs the tasks of flow runs. *engine.Engine implements it.
type Executor interface {
	Start(ctx context.Context, flow string, params map[string]any) (taskqueue.Task, error)
	Execute(ctx context.Context, t taskqueue.Task) ([]taskqueue.Task, error)
}

// Worker pulls tasks from a Queue and executes them using an Executor.
type Worker struct {
	exec   Executor
	queue  taskqueue.Queue
	logger *slog.Logger
}

// Option configures a Worker.
type Option func(*Worker)

// WithLogger sets the logger used for task failures.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Worker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// New creates a new Worker.
func New(exec Executor, queue taskqueue.Queue, opts ...Option) *Worker {
	w := &Worker{
		exec:   exec,
		queue:  queue,
		logger: logging.Discard(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// EnqueueRun creates a run of flow and enqueues its start task. It does NOT
// execute anything; that is done by ProcessOne.
func (w *Worker) EnqueueRun(ctx context.Context, flow string, params map[string]any) (string, error) {
	t, err := w.exec.Start(ctx, flow, params)
	if err != nil {
		return "", err
	}
	if err := w.queue.Enqueue(ctx, t); err != nil {
		return "", fmt.Errorf("enqueue start task of run %s: %w", t.RunID, err)
	}
	return t.RunID, nil
}

// ProcessOne pulls a single task from the queue, executes it and enqueues
// the tasks that became ready.
// Returns (processed, error):
//   - processed == false: no task was obtained; err is the dequeue error.
//   - processed == true: a task was executed; err reports a step failure or a
//     failure to enqueue follow-ups.
func (w *Worker) ProcessOne(ctx context.Context) (bool, error) {
	t, err := w.queue.Dequeue(ctx)
	if err != nil {
		return false, err
	}
	if t == nil {
		return false, nil
	}

	next, err := w.exec.Execute(ctx, *t)
	if err != nil {
		return true, err
	}
	for _, n := range next {
		if err := w.queue.Enqueue(ctx, n); err != nil {
			return true, fmt.Errorf("enqueue %s/%s: %w", n.Step, n.ID, err)
		}
	}
	return true, nil
}

// Run processes tasks until ctx is done. Step failures fail their run, not
// the worker, so they are only logged.
func (w *Worker) Run(ctx context.Context) error {
	for {
		processed, err := w.ProcessOne(ctx)
		switch {
		case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.logger.Warn("task_failed", slog.Any("error", err))
		case err != nil && !processed:
			return err
		case err != nil:
			w.logger.Warn("task_failed", slog.Any("error", err))
		}
	}
}
