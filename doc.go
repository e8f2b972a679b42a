// Package metaflow provides an embeddable engine for dataflow graphs of
// steps.
//
// A flow is an ordered list of steps. Steps communicate through named
// artifacts: a step reads the artifacts of the step before it and writes
// its own. Steps can fan out into a split (several different branches) or a
// foreach (the same step once per element of an artifact), and every fan-out
// is closed by a join that decides which branch artifacts to keep.
//
// # Core Concepts
//
//  1. FlowBuilder
//  2. StepFunc and Context
//  3. Engine
//  4. Worker
//  5. LocalRunner
//
// # FlowBuilder
//
// FlowBuilder declares the steps of a flow in source order. The start and
// end steps are added automatically when they are not declared:
//
//	metaflow.New("ForeachFlow").
//	    Step("numbers", func(ctx context.Context, t *metaflow.Context) error {
//	        return t.Set("xs", []int{10, 20, 30})
//	    }).
//	    Foreach("square", "xs", "", square).
//	    Join("sum", sum)
//
// Build checks the graph's structure and fails with an error that unwraps to
// api.ErrStructuralConflict when the declarations cannot form a valid graph.
// Mixin appends the steps of another builder; a step may be implemented only
// once.
//
// # StepFunc and Context
//
// A StepFunc receives the task's Context. It reads and writes artifacts with
// Get, Set and Value, and it may declare its transition with Next,
// NextForeach or NextParallel. A step that declares nothing follows the
// graph. Inside a foreach, Index and Input identify the element. A join sees
// its branches through Inputs and combines them with MergeArtifacts.
//
// # Engine
//
// The Engine keeps registered flows, schedules tasks and stores artifacts
// content-addressed by fingerprint. Artifacts a step does not change are
// passed to its successors by reference. Engines can be backed by
//
//   - in-memory stores (non-durable, best for tests)
//   - SQLite (embedded durability)
//   - Redis
//
// # Worker
//
// A Worker pulls tasks from a queue, asks the engine to execute them and
// enqueues the tasks that became ready. Several workers may share a queue.
//
// # LocalRunner
//
// LocalRunner bundles an engine, an in-memory queue and a pool of workers
// into a process-local runtime. Its Run method executes a flow and waits for
// the result, with foreach splits running concurrently.
package metaflow
