package taskqueue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const blockTimeout = time.Second

// RedisQueue implements the Queue interface using Redis.
//
// It uses a single Redis list with key:
//
//	<prefix>tasks
//
// Values are gob-encoded Task structs. The list is not a distribution
// mechanism: the engine that scheduled a task must be the one executing it,
// so a prefix must not be shared between engines.
type RedisQueue struct {
	client *redis.Client
	key    string
	logger *slog.Logger
}

// NewRedisQueue constructs a Redis-backed Queue.
// prefix is optional but recommended (e.g. "metaflow:").
func NewRedisQueue(client *redis.Client, prefix string) *RedisQueue {
	if prefix == "" {
		prefix = "metaflow:"
	}
	return &RedisQueue{
		client: client,
		key:    prefix + "tasks",
		logger: slog.New(slog.DiscardHandler),
	}
}

// WithLogger sets the logger used for Len failures.
func (q *RedisQueue) WithLogger(logger *slog.Logger) *RedisQueue {
	q.logger = logger
	return q
}

var _ Queue = (*RedisQueue)(nil)

// Enqueue pushes a task onto the Redis list (LPUSH).
func (q *RedisQueue) Enqueue(ctx context.Context, t Task) error {
	data, err := EncodeTask(t)
	if err != nil {
		return err
	}
	return q.client.LPush(ctx, q.key, data).Err()
}

// Dequeue blocks on BRPOP until a task is available or ctx is cancelled.
// BRPOP waits at most blockTimeout per call so a cancelled ctx is noticed
// even when the client does not enforce context deadlines.
func (q *RedisQueue) Dequeue(ctx context.Context) (*Task, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		// BRPop returns [key, value].
		res, err := q.client.BRPop(ctx, blockTimeout, q.key).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, err
		}
		if len(res) != 2 {
			return nil, fmt.Errorf("redis queue: BRPOP returned %d elements", len(res))
		}
		return DecodeTask([]byte(res[1]))
	}
}

// Len returns the approximate number of tasks queued (LLEN).
func (q *RedisQueue) Len() int {
	n, err := q.client.LLen(context.Background(), q.key).Result()
	if err != nil {
		q.logger.Warn("redis_queue_len_failed", slog.String("key", q.key), slog.Any("error", err))
		return 0
	}
	return int(n)
}
