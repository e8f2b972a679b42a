package metaflow

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/celsiustx/metaflow/internal/logging"
	"github.com/celsiustx/metaflow/internal/taskqueue"
	"github.com/celsiustx/metaflow/pkg/worker"
)

// LocalRunnerConfig configures a LocalRunner. Zero values select an
// in-memory engine, 4 workers and a queue channel of 1024 tasks. Enqueueing
// beyond the channel never blocks.
type LocalRunnerConfig struct {
	Engine        *Engine
	Workers       int
	QueueCapacity int
	Logger        *slog.Logger
}

// LocalRunner bundles an Engine, an in-memory task queue, and a Worker to
// run flows inside the current process. Foreach splits and split branches
// execute concurrently on the runner's worker goroutines.
//
// Typical usage:
//
//	runner := metaflow.NewLocalRunner()
//	metaflow.New("HelloFlow").Step("hello", hello).MustRegister(runner.Engine)
//
//	run, err := runner.Run(ctx, "HelloFlow", nil)
//	...
//	runner.Stop()
type LocalRunner struct {
	// Engine schedules the runs executed by this runner.
	Engine *Engine

	// Queue is the in-memory task queue used by the Worker.
	Queue taskqueue.Queue

	// Worker processes tasks from Queue using Engine.
	Worker *worker.Worker

	workers int
	logger  *slog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewLocalRunner constructs a LocalRunner with default settings.
func NewLocalRunner() *LocalRunner {
	return NewLocalRunnerWithConfig(LocalRunnerConfig{})
}

// NewLocalRunnerWithConfig constructs a LocalRunner from cfg.
func NewLocalRunnerWithConfig(cfg LocalRunnerConfig) *LocalRunner {
	eng := cfg.Engine
	if eng == nil {
		eng = NewInMemoryEngine()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = 1024
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	q := taskqueue.NewInMemoryQueue(cfg.QueueCapacity)
	return &LocalRunner{
		Engine:  eng,
		Queue:   q,
		Worker:  worker.New(eng, q, worker.WithLogger(logger)),
		workers: cfg.Workers,
		logger:  logger,
	}
}

// StartWorkers starts 'concurrency' worker goroutines that continuously call
// Worker.ProcessOne(ctx) until the context is cancelled via Stop.
//
// If StartWorkers is called more than once without Stop, it returns an error.
func (r *LocalRunner) StartWorkers(ctx context.Context, concurrency int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return errors.New("metaflow: LocalRunner already started")
	}
	r.startLocked(ctx, concurrency)
	return nil
}

func (r *LocalRunner) startLocked(ctx context.Context, concurrency int) {
	if concurrency <= 0 {
		concurrency = 1
	}

	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.running = true

	r.wg.Add(concurrency)
	for range concurrency {
		go func() {
			defer r.wg.Done()

			for {
				processed, err := r.Worker.ProcessOne(ctx)
				if err == nil {
					continue
				}
				if ctx.Err() != nil {
					return
				}
				// A failing step fails its run, not the worker loop.
				if processed {
					r.logger.Debug("local_runner_task_failed", slog.Any("error", err))
					continue
				}
				r.logger.Warn("local_runner_dequeue_failed", slog.Any("error", err))
			}
		}()
	}
}

// Stop cancels all worker goroutines and waits for them to exit.
func (r *LocalRunner) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	cancel := r.cancel
	r.running = false
	r.cancel = nil
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	r.wg.Wait()
}

// StartRun enqueues a run of flow and returns its ID without waiting. The
// workers are started if they are not running yet.
func (r *LocalRunner) StartRun(ctx context.Context, flow string, params map[string]any) (string, error) {
	r.mu.Lock()
	if !r.running {
		r.startLocked(context.Background(), r.workers)
	}
	r.mu.Unlock()

	return r.Worker.EnqueueRun(ctx, flow, params)
}

// Run executes flow with params and waits for the run to finish. The
// returned error is the run's failure, if any.
func (r *LocalRunner) Run(ctx context.Context, flow string, params map[string]any) (*Run, error) {
	runID, err := r.StartRun(ctx, flow, params)
	if err != nil {
		return nil, err
	}
	return r.Engine.Wait(ctx, runID)
}
