package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/celsiustx/metaflow/internal/datastore"
	"github.com/celsiustx/metaflow/internal/logging"
	"github.com/celsiustx/metaflow/internal/persistence"
	"github.com/celsiustx/metaflow/internal/taskqueue"
	"github.com/celsiustx/metaflow/pkg/api"
	"github.com/celsiustx/metaflow/pkg/graph"
	"github.com/celsiustx/metaflow/pkg/task"
)

// Config describes how to construct an Engine. Unset fields get in-memory
// stores, a NoopObserver and a discarding logger.
type Config struct {
	Persistence persistence.Persistence
	Observer    api.Observer
	Logger      *slog.Logger
}

// Engine schedules the tasks of flow runs. It does not execute anything on
// its own: a worker dequeues a task, calls Execute and enqueues the
// follow-ups it returns.
type Engine struct {
	flows    *flowRegistry
	p        persistence.Persistence
	observer api.Observer
	logger   *slog.Logger

	mu   sync.Mutex // guards runs and finished
	runs map[string]*runState

	// finished keeps the last maxFinished runs that ended in this engine,
	// with their typed errors, in the order they ended.
	finished      map[string]*api.Run
	finishedOrder []string
}

// maxFinished bounds the finished runs an Engine keeps in memory. Older
// runs are served by the run store, where a failure is only its message.
const maxFinished = 256

type barrierKey struct {
	join   string
	opener string
}

type arrival struct {
	branch int
	ref    taskqueue.Ref
}

// barrier collects the branches of one scope instance until all of them
// reached the closing join.
type barrier struct {
	width    int
	arrivals []arrival
}

type runState struct {
	mu       sync.Mutex
	run      *api.Run
	flow     Flow
	nextTask int
	pending  int
	barriers map[barrierKey]*barrier
	done     chan struct{}
}

// New creates an Engine using the given configuration.
func New(cfg Config) *Engine {
	obs := cfg.Observer
	if obs == nil {
		obs = api.NoopObserver{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &Engine{
		flows:    newFlowRegistry(),
		p:        cfg.Persistence.WithDefaults(),
		observer: obs,
		logger:   logger,
		runs:     make(map[string]*runState),
		finished: make(map[string]*api.Run),
	}
}

// NewInMemoryEngine returns an Engine whose stores live in process memory.
func NewInMemoryEngine() *Engine {
	return New(Config{Persistence: persistence.NewInMemory()})
}

// NewSQLiteEngine returns an Engine persisting artifacts, runs and events in db.
func NewSQLiteEngine(db *sql.DB) (*Engine, error) {
	p, err := persistence.NewSQLite(db)
	if err != nil {
		return nil, err
	}
	return New(Config{Persistence: p}), nil
}

// NewRedisEngine returns an Engine persisting artifacts and runs in Redis.
func NewRedisEngine(client *redis.Client, prefix string) *Engine {
	return New(Config{Persistence: persistence.NewRedis(client, prefix)})
}

// Register adds a flow. Flow names are unique per engine.
func (e *Engine) Register(f Flow) error {
	return e.flows.Register(f)
}

// Flow returns a registered flow.
func (e *Engine) Flow(name string) (Flow, error) {
	return e.flows.Get(name)
}

// Flows lists the registered flow names, sorted.
func (e *Engine) Flows() []string {
	return e.flows.Names()
}

// Start creates a run of the named flow and returns its start task. params
// become artifacts of the start task.
func (e *Engine) Start(ctx context.Context, flowName string, params map[string]any) (taskqueue.Task, error) {
	flow, err := e.flows.Get(flowName)
	if err != nil {
		return taskqueue.Task{}, err
	}

	rs := &runState{
		run: &api.Run{
			ID:        uuid.NewString(),
			Flow:      flowName,
			Status:    api.StatusRunning,
			StartedAt: time.Now(),
		},
		flow:     flow,
		pending:  1,
		barriers: make(map[barrierKey]*barrier),
		done:     make(chan struct{}),
	}
	start := taskqueue.Task{
		ID:    rs.newTaskID(),
		RunID: rs.run.ID,
		Flow:  flowName,
		Step:  graph.StartStep,
	}

	ds, err := datastore.Open(ctx, e.p, taskKey(start))
	if err != nil {
		return taskqueue.Task{}, err
	}
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := ds.Set(name, params[name]); err != nil {
			return taskqueue.Task{}, fmt.Errorf("parameter %s: %w", name, err)
		}
	}

	if err := e.p.Runs.SaveRun(ctx, rs.run); err != nil {
		return taskqueue.Task{}, err
	}

	e.mu.Lock()
	e.runs[rs.run.ID] = rs
	e.mu.Unlock()

	e.observer.OnRunStart(ctx, rs.snapshot())
	e.record(ctx, api.Event{RunID: rs.run.ID, Type: api.EventRunStarted, Flow: flowName})
	e.logger.Debug("run_created", slog.String("run_id", rs.run.ID), slog.String("flow", flowName))

	return start, nil
}

// Execute runs one task and returns the tasks that become ready because of
// it. Tasks of runs that already finished are dropped.
func (e *Engine) Execute(ctx context.Context, t taskqueue.Task) ([]taskqueue.Task, error) {
	rs, err := e.lookupRun(ctx, t.RunID)
	if err != nil || rs == nil {
		return nil, err
	}
	if !rs.running() {
		return nil, nil
	}

	info := api.TaskInfo{ID: t.ID, Step: t.Step, Index: -1}
	if len(t.Stack) > 0 {
		info.Index = t.Stack[len(t.Stack)-1].Index
	}
	for _, in := range t.Inputs {
		info.Inputs = append(info.Inputs, in.TaskID)
	}

	node, ok := rs.flow.Graph.Node(t.Step)
	if !ok {
		err := fmt.Errorf("flow %s has no step %q", t.Flow, t.Step)
		e.failRun(ctx, rs, info, err)
		return nil, err
	}

	started := time.Now()
	e.observer.OnTaskStart(ctx, rs.snapshot(), info)
	e.record(ctx, api.Event{RunID: t.RunID, Type: api.EventTaskStarted, Flow: t.Flow, Step: t.Step, TaskID: t.ID})

	tr, err := e.runTask(ctx, rs, t, node)
	e.observer.OnTaskCompleted(ctx, rs.snapshot(), info, err, time.Since(started))
	if err != nil {
		e.failRun(ctx, rs, info, err)
		return nil, err
	}
	e.record(ctx, api.Event{RunID: t.RunID, Type: api.EventTaskCompleted, Flow: t.Flow, Step: t.Step, TaskID: t.ID})

	if node.Type() == graph.TypeEnd {
		e.completeRun(ctx, rs, info)
		return nil, nil
	}

	e.record(ctx, api.Event{
		RunID: t.RunID, Type: api.EventTransition, Flow: t.Flow, Step: t.Step, TaskID: t.ID,
		Detail: describeTransition(tr),
	})

	followups, err := e.schedule(ctx, rs, t, node, tr)
	if err != nil {
		e.failRun(ctx, rs, info, err)
		return nil, err
	}

	rs.mu.Lock()
	rs.run.Tasks = append(rs.run.Tasks, info)
	rs.pending += len(followups) - 1
	stalled := rs.pending <= 0
	saveErr := e.p.Runs.SaveRun(ctx, rs.run)
	rs.mu.Unlock()

	if saveErr != nil {
		e.logger.Warn("run_save_failed", slog.String("run_id", t.RunID), slog.Any("error", saveErr))
	}
	if stalled {
		err := fmt.Errorf("run %s stalled after %s: no task left to schedule", t.RunID, info.Pathspec())
		e.failRun(ctx, rs, api.TaskInfo{}, err)
		return nil, err
	}
	return followups, nil
}

// runTask executes the step function of t and returns its validated
// transition. The end step has none.
func (e *Engine) runTask(ctx context.Context, rs *runState, t taskqueue.Task, node *graph.Node) (*task.Transition, error) {
	ds, err := datastore.Open(ctx, e.p, taskKey(t))
	if err != nil {
		return nil, err
	}

	var branches []task.Branch
	if node.Type() == graph.TypeJoin {
		for _, in := range t.Inputs {
			bds, err := datastore.Open(ctx, e.p, persistence.TaskKey{RunID: t.RunID, Step: in.Step, TaskID: in.TaskID})
			if err != nil {
				return nil, err
			}
			branches = append(branches, task.Branch{Step: in.Step, TaskID: in.TaskID, Artifacts: bds})
		}
	} else if len(t.Inputs) == 1 {
		in := t.Inputs[0]
		parent, err := datastore.Open(ctx, e.p, persistence.TaskKey{RunID: t.RunID, Step: in.Step, TaskID: in.TaskID})
		if err != nil {
			return nil, err
		}
		if err := ds.PassdownAll(parent); err != nil {
			return nil, err
		}
	}

	tc, err := task.New(rs.flow.Graph, t.Step, task.Options{
		TaskID:    t.ID,
		Artifacts: ds,
		Stack:     t.Stack,
		Inputs:    branches,
	})
	if err != nil {
		return nil, err
	}

	if fn := rs.flow.Steps[t.Step]; fn != nil {
		logger := e.logger.With(slog.String("run_id", t.RunID), slog.String("step", t.Step), slog.String("task_id", t.ID))
		if err := fn(logging.WithLogger(ctx, logger), tc); err != nil {
			return nil, fmt.Errorf("step %s: %w", tc.Pathspec(), err)
		}
	}

	tr := tc.Transition()
	if node.Type() == graph.TypeEnd {
		if tr != nil {
			return nil, api.NewInvalidTransition(t.Step, "the end step cannot call next()")
		}
		return nil, nil
	}
	if tr == nil {
		if err := tc.Declare(staticTransition(node)); err != nil {
			return nil, err
		}
		tr = tc.Transition()
	}
	if err := matchGraph(node, tr); err != nil {
		return nil, err
	}
	return tr, nil
}

func staticTransition(node *graph.Node) task.TransitionRequest {
	req := task.TransitionRequest{Steps: node.Out()}
	if node.Type() == graph.TypeForeach {
		req.Foreach = node.ForeachParam()
	}
	return req
}

// matchGraph checks a declared transition against the node's out-edges.
func matchGraph(node *graph.Node, tr *task.Transition) error {
	out := node.Out()
	same := len(out) == len(tr.Steps)
	for _, s := range tr.Steps {
		same = same && slices.Contains(out, s)
	}
	if !same {
		return api.NewInvalidTransition(node.Name(), "next() goes to [%s] but the graph expects [%s]",
			strings.Join(tr.Steps, ", "), strings.Join(out, ", "))
	}

	switch {
	case node.Type() == graph.TypeForeach && tr.Foreach == "":
		return api.NewInvalidTransition(node.Name(), "step is a foreach over *%s*; next() must name a foreach", node.ForeachParam())
	case node.Type() == graph.TypeForeach && tr.Foreach != node.ForeachParam() && tr.Foreach != task.ParallelField:
		return api.NewInvalidTransition(node.Name(), "next() iterates over *%s* but the graph iterates over *%s*", tr.Foreach, node.ForeachParam())
	case node.Type() != graph.TypeForeach && tr.Foreach != "":
		return api.NewInvalidTransition(node.Name(), "step is not a foreach but next() iterates over *%s*", tr.Foreach)
	}
	return nil
}

// schedule turns a completed task's transition into follow-up tasks.
// Branches arriving at a join are held until their scope is complete.
func (e *Engine) schedule(ctx context.Context, rs *runState, t taskqueue.Task, node *graph.Node, tr *task.Transition) ([]taskqueue.Task, error) {
	parent := []taskqueue.Ref{{Step: t.Step, TaskID: t.ID}}
	var children []taskqueue.Task

	switch {
	case tr.Foreach != "":
		n := tr.NumSplits
		if tr.Unbounded {
			var err error
			if n, err = e.unboundedSplits(ctx, t, tr.Foreach); err != nil {
				return nil, err
			}
		}
		for i := range n {
			children = append(children, taskqueue.Task{
				RunID:  t.RunID,
				Flow:   t.Flow,
				Step:   tr.Steps[0],
				Stack:  task.Push(t.Stack, task.Frame{Index: i, NumSplits: n, Var: tr.Foreach}),
				Scopes: pushScope(t.Scopes, taskqueue.Scope{Opener: t.ID, Step: t.Step, Width: n, Branch: i}),
				Inputs: parent,
			})
		}
		e.record(ctx, api.Event{
			RunID: t.RunID, Type: api.EventForeachSplit, Flow: t.Flow, Step: t.Step, TaskID: t.ID,
			Detail: fmt.Sprintf("%d splits over %s", n, tr.Foreach),
		})

	case len(tr.Steps) > 1:
		out := node.Out()
		for i, step := range out {
			children = append(children, taskqueue.Task{
				RunID:  t.RunID,
				Flow:   t.Flow,
				Step:   step,
				Stack:  t.Stack,
				Scopes: pushScope(t.Scopes, taskqueue.Scope{Opener: t.ID, Step: t.Step, Width: len(out), Branch: i}),
				Inputs: parent,
			})
		}

	default:
		children = append(children, taskqueue.Task{
			RunID:  t.RunID,
			Flow:   t.Flow,
			Step:   tr.Steps[0],
			Stack:  t.Stack,
			Scopes: t.Scopes,
			Inputs: parent,
		})
	}

	var ready []taskqueue.Task
	for _, child := range children {
		target, _ := rs.flow.Graph.Node(child.Step)
		if target.Type() != graph.TypeJoin {
			child.ID = rs.newTaskID()
			ready = append(ready, child)
			continue
		}
		join, err := e.arrive(ctx, rs, child)
		if err != nil {
			return nil, err
		}
		if join != nil {
			ready = append(ready, *join)
		}
	}

	for _, r := range ready {
		e.logger.Debug("task_scheduled",
			slog.String("run_id", r.RunID), slog.String("step", r.Step), slog.String("task_id", r.ID))
	}
	return ready, nil
}

func (e *Engine) unboundedSplits(ctx context.Context, t taskqueue.Task, field string) (int, error) {
	ds, err := datastore.Open(ctx, e.p, taskKey(t))
	if err != nil {
		return 0, err
	}
	u, _, err := datastore.Value[task.UnboundedInput](ds, field)
	if err != nil && !errors.Is(err, persistence.ErrTypeMismatch) {
		return 0, err
	}
	if u == nil {
		return 0, api.NewInvalidTransition(t.Step, "foreach variable *%s* is no longer an unbounded input", field)
	}
	n := u.Splits()
	if n < 1 {
		return 0, api.NewInvalidTransition(t.Step, "unbounded foreach over *%s* produced zero splits", field)
	}
	return n, nil
}

func pushScope(scopes []taskqueue.Scope, s taskqueue.Scope) []taskqueue.Scope {
	out := make([]taskqueue.Scope, len(scopes), len(scopes)+1)
	copy(out, scopes)
	return append(out, s)
}

// arrive records a branch reaching a join. It returns the join task once
// every branch of the branch's innermost scope has arrived.
func (e *Engine) arrive(ctx context.Context, rs *runState, child taskqueue.Task) (*taskqueue.Task, error) {
	if len(child.Scopes) == 0 {
		return nil, api.NewInvalidTransition(child.Inputs[0].Step, "join %s reached outside any split", child.Step)
	}
	top := child.Scopes[len(child.Scopes)-1]
	key := barrierKey{join: child.Step, opener: top.Opener}

	rs.mu.Lock()
	b := rs.barriers[key]
	if b == nil {
		b = &barrier{width: top.Width}
		rs.barriers[key] = b
	}
	b.arrivals = append(b.arrivals, arrival{branch: top.Branch, ref: child.Inputs[0]})
	if len(b.arrivals) < b.width {
		rs.mu.Unlock()
		return nil, nil
	}
	delete(rs.barriers, key)
	id := rs.newTaskIDLocked()
	rs.mu.Unlock()

	sort.Slice(b.arrivals, func(i, j int) bool { return b.arrivals[i].branch < b.arrivals[j].branch })
	inputs := make([]taskqueue.Ref, len(b.arrivals))
	ids := make([]string, len(b.arrivals))
	for i, a := range b.arrivals {
		inputs[i] = a.ref
		ids[i] = a.ref.TaskID
	}

	stack := child.Stack
	if opener, ok := rs.flow.Graph.Node(top.Step); ok && opener.Type() == graph.TypeForeach {
		stack = task.Pop(stack)
	}

	join := &taskqueue.Task{
		ID:     id,
		RunID:  child.RunID,
		Flow:   child.Flow,
		Step:   child.Step,
		Stack:  stack,
		Scopes: slices.Clone(child.Scopes[:len(child.Scopes)-1]),
		Inputs: inputs,
	}
	e.record(ctx, api.Event{
		RunID: child.RunID, Type: api.EventJoinScheduled, Flow: child.Flow, Step: child.Step, TaskID: id,
		Detail: strings.Join(ids, ","),
	})
	return join, nil
}

func (e *Engine) completeRun(ctx context.Context, rs *runState, last api.TaskInfo) {
	rs.mu.Lock()
	if rs.run.Status != api.StatusRunning {
		rs.mu.Unlock()
		return
	}
	rs.run.Tasks = append(rs.run.Tasks, last)
	rs.run.Status = api.StatusCompleted
	rs.run.FinishedAt = time.Now()
	rs.pending--
	snap := rs.snapshotLocked()
	saveErr := e.p.Runs.SaveRun(ctx, rs.run)
	rs.mu.Unlock()

	if saveErr != nil {
		e.logger.Warn("run_save_failed", slog.String("run_id", snap.ID), slog.Any("error", saveErr))
	}
	e.forget(snap)
	e.observer.OnRunCompleted(ctx, snap)
	e.record(ctx, api.Event{RunID: snap.ID, Type: api.EventRunCompleted, Flow: snap.Flow})
	close(rs.done)
}

func (e *Engine) failRun(ctx context.Context, rs *runState, at api.TaskInfo, err error) {
	rs.mu.Lock()
	if rs.run.Status != api.StatusRunning {
		rs.mu.Unlock()
		return
	}
	if at.ID != "" {
		rs.run.Tasks = append(rs.run.Tasks, at)
	}
	rs.run.Status = api.StatusFailed
	rs.run.Err = err
	rs.run.FinishedAt = time.Now()
	snap := rs.snapshotLocked()
	saveErr := e.p.Runs.SaveRun(ctx, rs.run)
	rs.mu.Unlock()
	defer close(rs.done)

	if saveErr != nil {
		e.logger.Warn("run_save_failed", slog.String("run_id", snap.ID), slog.Any("error", saveErr))
	}
	e.forget(snap)
	e.observer.OnRunFailed(ctx, snap, err)
	if at.ID != "" {
		e.record(ctx, api.Event{RunID: snap.ID, Type: api.EventTaskFailed, Flow: snap.Flow, Step: at.Step, TaskID: at.ID, Detail: err.Error()})
	}
	e.record(ctx, api.Event{RunID: snap.ID, Type: api.EventRunFailed, Flow: snap.Flow, Detail: err.Error()})
}

// forget drops the live state of a finished run and keeps its final
// snapshot among the recently finished runs.
func (e *Engine) forget(snap *api.Run) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.runs, snap.ID)
	e.finished[snap.ID] = snap
	e.finishedOrder = append(e.finishedOrder, snap.ID)
	for len(e.finishedOrder) > maxFinished {
		delete(e.finished, e.finishedOrder[0])
		e.finishedOrder[0] = ""
		e.finishedOrder = e.finishedOrder[1:]
	}
}

// recentRun returns a copy of a recently finished run.
func (e *Engine) recentRun(id string) (*api.Run, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	run, ok := e.finished[id]
	if !ok {
		return nil, false
	}
	c := *run
	c.Tasks = slices.Clone(run.Tasks)
	return &c, true
}

// lookupRun returns the live state of a run. It returns nil without an
// error when the run already finished.
func (e *Engine) lookupRun(ctx context.Context, id string) (*runState, error) {
	e.mu.Lock()
	rs := e.runs[id]
	_, done := e.finished[id]
	e.mu.Unlock()
	if rs != nil {
		return rs, nil
	}
	if done {
		return nil, nil
	}

	run, err := e.p.Runs.GetRun(ctx, id)
	if err != nil {
		return nil, err
	}
	if run.Status == api.StatusCompleted || run.Status == api.StatusFailed {
		return nil, nil
	}
	return nil, fmt.Errorf("%w: %s is not active in this engine", persistence.ErrRunNotFound, id)
}

// Wait blocks until the run finishes or ctx is done. The returned error is
// the run's failure, if any, as the typed error the step or the scheduler
// raised.
func (e *Engine) Wait(ctx context.Context, runID string) (*api.Run, error) {
	e.mu.Lock()
	rs := e.runs[runID]
	e.mu.Unlock()

	if rs != nil {
		select {
		case <-rs.done:
			run := rs.snapshot()
			return run, run.Err
		case <-ctx.Done():
			return rs.snapshot(), ctx.Err()
		}
	}

	run, err := e.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	return run, run.Err
}

// GetRun returns the current state of a run.
func (e *Engine) GetRun(ctx context.Context, id string) (*api.Run, error) {
	e.mu.Lock()
	rs := e.runs[id]
	e.mu.Unlock()
	if rs != nil {
		return rs.snapshot(), nil
	}
	if run, ok := e.recentRun(id); ok {
		return run, nil
	}
	return e.p.Runs.GetRun(ctx, id)
}

// ListRuns returns the stored runs matching filter.
func (e *Engine) ListRuns(ctx context.Context, filter persistence.RunFilter) ([]*api.Run, error) {
	return e.p.Runs.ListRuns(ctx, filter)
}

// Events returns the recorded history of a run.
func (e *Engine) Events(ctx context.Context, runID string) ([]api.Event, error) {
	return e.p.Events.ListEvents(ctx, runID)
}

// Artifacts opens the artifact view of a finished or running task.
func (e *Engine) Artifacts(ctx context.Context, runID string, ti api.TaskInfo) (task.Artifacts, error) {
	return datastore.Open(ctx, e.p, persistence.TaskKey{RunID: runID, Step: ti.Step, TaskID: ti.ID})
}

func (e *Engine) record(ctx context.Context, ev api.Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	if err := e.p.Events.AppendEvent(ctx, ev); err != nil && !errors.Is(err, context.Canceled) {
		e.logger.Warn("event_append_failed", slog.String("run_id", ev.RunID), slog.Any("error", err))
	}
}

func (rs *runState) running() bool {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.run.Status == api.StatusRunning
}

func (rs *runState) newTaskID() string {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.newTaskIDLocked()
}

func (rs *runState) newTaskIDLocked() string {
	rs.nextTask++
	return strconv.Itoa(rs.nextTask)
}

func (rs *runState) snapshot() *api.Run {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.snapshotLocked()
}

func (rs *runState) snapshotLocked() *api.Run {
	c := *rs.run
	c.Tasks = slices.Clone(rs.run.Tasks)
	return &c
}

func taskKey(t taskqueue.Task) persistence.TaskKey {
	return persistence.TaskKey{RunID: t.RunID, Step: t.Step, TaskID: t.ID}
}

func describeTransition(tr *task.Transition) string {
	s := strings.Join(tr.Steps, ",")
	if tr.Foreach != "" {
		s += " foreach " + tr.Foreach
	}
	return s
}
