package metaflow

import (
	"database/sql"

	"github.com/redis/go-redis/v9"

	"github.com/celsiustx/metaflow/internal/taskqueue"
	workerpkg "github.com/celsiustx/metaflow/pkg/worker"
)

// WorkerBundle wires together an Engine, a task queue, and a Worker that
// consumes tasks from that queue.
type WorkerBundle struct {
	Engine *Engine
	Worker *workerpkg.Worker

	// queue is kept unexported; it is primarily useful for internal
	// inspection and tests. The public API focuses on Engine and Worker.
	queue taskqueue.Queue
}

// NewSQLiteBundle constructs a durable Engine + Queue + Worker combo sharing
// the same SQLite database. Artifacts, runs, events and queued tasks are
// persisted in the provided *sql.DB.
//
// Typical usage:
//
//	db, _ := sql.Open("sqlite", "file:metaflow.db?_journal=WAL")
//	bundle, err := metaflow.NewSQLiteBundle(db)
//	// register flows on bundle.Engine
//	// enqueue runs via bundle.Worker
func NewSQLiteBundle(db *sql.DB, opts ...workerpkg.Option) (*WorkerBundle, error) {
	eng, err := NewSQLiteEngine(db)
	if err != nil {
		return nil, err
	}

	q, err := taskqueue.NewSQLiteQueue(db)
	if err != nil {
		return nil, err
	}

	return &WorkerBundle{
		Engine: eng,
		Worker: workerpkg.New(eng, q, opts...),
		queue:  q,
	}, nil
}

// NewRedisBundle constructs an Engine storing artifacts and runs in Redis,
// and a Redis list queue under the same key prefix.
//
// Join barriers and pending counts live in the Engine, so every worker
// consuming the queue must use this bundle's Engine. Another process
// sharing the prefix would dequeue tasks its engine does not know and drop
// their follow-ups. Give each engine its own prefix.
func NewRedisBundle(client *redis.Client, prefix string, opts ...workerpkg.Option) *WorkerBundle {
	eng := NewRedisEngine(client, prefix)
	q := taskqueue.NewRedisQueue(client, prefix)
	return &WorkerBundle{
		Engine: eng,
		Worker: workerpkg.New(eng, q, opts...),
		queue:  q,
	}
}

// Pending returns the approximate number of queued tasks.
func (b *WorkerBundle) Pending() int {
	return b.queue.Len()
}
