package persistence

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"

	"github.com/celsiustx/metaflow/pkg/api"
)

// RedisStore is a BlobStore, ArtifactIndex and RunStore backed by Redis.
// It uses a simple key structure:
//
//	<prefix>blob:<fingerprint>        => encoded artifact
//	<prefix>art:<run>/<step>/<task>   => HASH of artifact name -> fingerprint
//	<prefix>run:<id>                  => gob-encoded redisRunPayload
//	<prefix>idx:all                   => SET of all run IDs
//	<prefix>idx:flow:<flow>           => SET of run IDs for a given flow
//	<prefix>idx:status:<status>       => SET of run IDs for a given status
//
// The run indexes are best-effort. They are updated on every SaveRun and
// ListRuns re-checks the filter against the payload.
type RedisStore struct {
	client *redis.Client
	prefix string
}

var (
	_ BlobStore     = (*RedisStore)(nil)
	_ ArtifactIndex = (*RedisStore)(nil)
	_ RunStore      = (*RedisStore)(nil)
)

type redisRunPayload struct {
	ID         string
	Flow       string
	Status     string
	Error      string
	StartedAt  int64
	FinishedAt int64
	Tasks      []byte
}

// NewRedisStore creates a RedisStore.
// prefix is optional but recommended (e.g. "metaflow:").
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "metaflow:"
	}
	return &RedisStore{
		client: client,
		prefix: prefix,
	}
}

func (s *RedisStore) keyBlob(sha string) string     { return s.prefix + "blob:" + sha }
func (s *RedisStore) keyArtifacts(k TaskKey) string { return s.prefix + "art:" + k.String() }
func (s *RedisStore) keyRun(id string) string       { return s.prefix + "run:" + id }
func (s *RedisStore) keyAll() string                { return s.prefix + "idx:all" }
func (s *RedisStore) keyFlow(flow string) string    { return s.prefix + "idx:flow:" + flow }

func (s *RedisStore) keyStatus(status api.Status) string {
	return s.prefix + "idx:status:" + string(status)
}

func (s *RedisStore) PutBlob(ctx context.Context, data []byte) (string, error) {
	sha := Fingerprint(data)
	if err := s.client.SetNX(ctx, s.keyBlob(sha), data, 0).Err(); err != nil {
		return "", err
	}
	return sha, nil
}

func (s *RedisStore) GetBlob(ctx context.Context, fingerprint string) ([]byte, error) {
	data, err := s.client.Get(ctx, s.keyBlob(fingerprint)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrBlobNotFound
		}
		return nil, err
	}
	return data, nil
}

func (s *RedisStore) RecordArtifact(ctx context.Context, key TaskKey, name, fingerprint string) error {
	return s.client.HSet(ctx, s.keyArtifacts(key), name, fingerprint).Err()
}

func (s *RedisStore) ListArtifacts(ctx context.Context, key TaskKey) (map[string]string, error) {
	out, err := s.client.HGetAll(ctx, s.keyArtifacts(key)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return map[string]string{}, nil
		}
		return nil, err
	}
	return out, nil
}

func encodeRedisRun(run *api.Run) ([]byte, error) {
	tasks, err := encodeTasks(run.Tasks)
	if err != nil {
		return nil, err
	}
	payload := redisRunPayload{
		ID:         run.ID,
		Flow:       run.Flow,
		Status:     string(run.Status),
		StartedAt:  unixNano(run.StartedAt),
		FinishedAt: unixNano(run.FinishedAt),
		Tasks:      tasks,
	}
	if run.Err != nil {
		payload.Error = run.Err.Error()
	}
	return encodeGob(&payload)
}

func decodeRedisRun(data []byte) (*api.Run, error) {
	if len(data) == 0 {
		return nil, ErrRunNotFound
	}
	var payload redisRunPayload
	if err := decodeGob(data, &payload); err != nil {
		return nil, err
	}
	tasks, err := decodeTasks(payload.Tasks)
	if err != nil {
		return nil, err
	}
	run := &api.Run{
		ID:         payload.ID,
		Flow:       payload.Flow,
		Status:     api.Status(payload.Status),
		StartedAt:  fromUnixNano(payload.StartedAt),
		FinishedAt: fromUnixNano(payload.FinishedAt),
		Tasks:      tasks,
	}
	if payload.Error != "" {
		run.Err = errors.New(payload.Error)
	}
	return run, nil
}

func (s *RedisStore) SaveRun(ctx context.Context, run *api.Run) error {
	data, err := encodeRedisRun(run)
	if err != nil {
		return err
	}

	if err := s.client.Set(ctx, s.keyRun(run.ID), data, 0).Err(); err != nil {
		return err
	}

	// Index failures are not fatal; ListRuns filters by payload.
	pipe := s.client.TxPipeline()
	pipe.SAdd(ctx, s.keyAll(), run.ID)
	pipe.SAdd(ctx, s.keyFlow(run.Flow), run.ID)
	pipe.SAdd(ctx, s.keyStatus(run.Status), run.ID)
	_, _ = pipe.Exec(ctx)

	return nil
}

func (s *RedisStore) GetRun(ctx context.Context, id string) (*api.Run, error) {
	data, err := s.client.Get(ctx, s.keyRun(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrRunNotFound
		}
		return nil, err
	}
	return decodeRedisRun(data)
}

func (s *RedisStore) ListRuns(ctx context.Context, filter RunFilter) ([]*api.Run, error) {
	var ids []string
	var err error

	switch {
	case filter.Flow != "" && filter.Status != "":
		ids, err = s.client.SInter(ctx, s.keyFlow(filter.Flow), s.keyStatus(filter.Status)).Result()
	case filter.Flow != "":
		ids, err = s.client.SMembers(ctx, s.keyFlow(filter.Flow)).Result()
	case filter.Status != "":
		ids, err = s.client.SMembers(ctx, s.keyStatus(filter.Status)).Result()
	default:
		ids, err = s.client.SMembers(ctx, s.keyAll()).Result()
	}
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []*api.Run{}, nil
		}
		return nil, err
	}
	if len(ids) == 0 {
		return []*api.Run{}, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.StringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.Get(ctx, s.keyRun(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}

	var runs []*api.Run
	for _, cmd := range cmds {
		data, err := cmd.Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return nil, err
		}
		run, err := decodeRedisRun(data)
		if err != nil {
			return nil, err
		}
		if filter.matches(run) {
			runs = append(runs, run)
		}
	}
	sortRuns(runs)
	return runs, nil
}
