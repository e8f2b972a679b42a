package taskqueue

import (
	"context"
	"sync"
	"time"
)

// InMemoryQueue is a simple Queue implementation backed by a buffered channel.
// It is safe for concurrent use.
//
// Enqueue never blocks. Once the channel is full, tasks wait in an unbounded
// overflow list and move into the channel, in order, as workers dequeue. A
// worker enqueueing the splits of a wide foreach therefore cannot stall the
// workers that would drain them.
type InMemoryQueue struct {
	ch chan Task

	mu       sync.Mutex
	overflow []Task
}

// NewInMemoryQueue creates a new queue whose channel holds capacity tasks.
// A capacity <= 0 selects 1024.
func NewInMemoryQueue(capacity int) *InMemoryQueue {
	if capacity <= 0 {
		capacity = 1024
	}
	return &InMemoryQueue{
		ch: make(chan Task, capacity),
	}
}

var _ Queue = (*InMemoryQueue)(nil)

func (q *InMemoryQueue) Enqueue(ctx context.Context, t Task) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if t.EnqueuedAt.IsZero() {
		t.EnqueuedAt = time.Now()
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	// Tasks already waiting in overflow go first.
	if len(q.overflow) == 0 {
		select {
		case q.ch <- t:
			return nil
		default:
		}
	}
	q.overflow = append(q.overflow, t)
	return nil
}

func (q *InMemoryQueue) Dequeue(ctx context.Context) (*Task, error) {
	select {
	case t := <-q.ch:
		q.refill()
		return &t, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// refill moves overflow tasks into the channel while it has room.
func (q *InMemoryQueue) refill() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.overflow) > 0 {
		select {
		case q.ch <- q.overflow[0]:
			q.overflow[0] = Task{}
			q.overflow = q.overflow[1:]
		default:
			return
		}
	}
}

func (q *InMemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ch) + len(q.overflow)
}
