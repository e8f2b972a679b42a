package taskqueue

import (
	"context"
	"time"

	"github.com/celsiustx/metaflow/pkg/task"
)

// Ref names a task by step and ID inside a run.
type Ref struct {
	Step   string
	TaskID string
}

// Scope is an open split or foreach instance a task runs inside.
type Scope struct {
	// Opener is the ID of the task that fanned out.
	Opener string
	// Step is the split or foreach step that fanned out.
	Step string
	// Width is the number of branches that will reach the closing join.
	Width int
	// Branch is the position of this task's branch among the Width.
	Branch int
}

// Task is one step execution waiting for a worker.
type Task struct {
	ID    string
	RunID string
	Flow  string
	Step  string

	// Stack is the foreach stack the task runs in.
	Stack []task.Frame

	// Scopes are the enclosing split/foreach instances, outermost first.
	Scopes []Scope

	// Inputs are the tasks whose artifacts flow into this one: the parent
	// of a regular task, every branch of a join.
	Inputs []Ref

	EnqueuedAt time.Time
}

// Queue is a simple async task queue interface.
type Queue interface {
	// Enqueue adds a task to the queue. It should respect ctx for cancellation.
	Enqueue(ctx context.Context, t Task) error

	// Dequeue removes and returns the next task, blocking until one is available
	// or the context is cancelled.
	Dequeue(ctx context.Context) (*Task, error)

	// Len returns the approximate number of tasks queued.
	Len() int
}
