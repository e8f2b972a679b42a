// Package worker provides the queue worker used to drive flow runs forward.
//
// A worker dequeues one task at a time, hands it to an Executor (normally
// *engine.Engine) and enqueues the follow-up tasks the executor returns:
// the next step, every branch of a split, one task per foreach split, or a
// join once all of its branches have arrived.
//
// Workers are decoupled from any particular backend. Several workers can
// operate on the same queue; the in-memory and SQLite queues are safe for
// concurrent use.
//
//	w := worker.New(eng, taskqueue.NewInMemoryQueue(64))
//	runID, err := w.EnqueueRun(ctx, "HelloFlow", nil)
//	...
//	for {
//	    if _, err := w.ProcessOne(ctx); err != nil {
//	        break
//	    }
//	}
package worker
