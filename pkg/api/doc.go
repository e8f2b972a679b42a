// Package api holds the types shared by the graph builder, the engine and
// the workers: runs and task descriptors, the typed errors returned while
// building or executing a flow, recorded events, and the Observer hooks.
//
// Errors wrap one of the sentinels ErrStructuralConflict,
// ErrInvalidTransition, ErrMergeConflict or ErrMergeMissing, so callers can
// test for a class of failure with errors.Is and recover the details with
// errors.As or the IsMergeConflict and IsInvalidTransition helpers.
//
// Observers receive run and task lifecycle callbacks. NoopObserver is meant
// for embedding, LoggingObserver writes through log/slog, BasicMetrics keeps
// in-memory counters and CompositeObserver fans out to several observers.
package api
