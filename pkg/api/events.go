package api

import "time"

// EventType identifies a run history event.
type EventType string

const (
	EventRunStarted   EventType = "run.started"
	EventRunCompleted EventType = "run.completed"
	EventRunFailed    EventType = "run.failed"

	EventTaskStarted   EventType = "task.started"
	EventTaskCompleted EventType = "task.completed"
	EventTaskFailed    EventType = "task.failed"

	EventTransition    EventType = "task.transition"
	EventForeachSplit  EventType = "foreach.split"
	EventJoinScheduled EventType = "join.scheduled"
)

// Event is a minimal append-only history record for audit/debugging.
type Event struct {
	RunID string
	At    time.Time
	Type  EventType

	// Optional context.
	Flow   string
	Step   string
	TaskID string

	// Small, human-oriented details (e.g. successor list, error string).
	// Keep this low-volume: do NOT dump artifact values here.
	Detail string
}
