package api

import "time"

// Status represents the lifecycle state of a run.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusRunning   Status = "RUNNING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
)

// Run is the externally visible state of one execution of a flow.
type Run struct {
	ID     string
	Flow   string
	Status Status
	Err    error

	StartedAt  time.Time
	FinishedAt time.Time

	// Tasks lists every task the run executed, in completion order.
	Tasks []TaskInfo
}

// TaskInfo identifies a task instance inside a run.
type TaskInfo struct {
	ID   string
	Step string

	// Index is the task's foreach index, or -1 outside a foreach.
	Index int

	// Inputs are the IDs of the tasks this task was scheduled from. A join
	// task lists every branch it waited for.
	Inputs []string
}

// Pathspec returns "<step>/<id>".
func (t TaskInfo) Pathspec() string {
	return t.Step + "/" + t.ID
}

// TasksFor returns the tasks of run r that executed step.
func (r *Run) TasksFor(step string) []TaskInfo {
	var out []TaskInfo
	for _, t := range r.Tasks {
		if t.Step == step {
			out = append(out, t)
		}
	}
	return out
}
