package persistence

import (
	"context"
	"maps"
	"slices"
	"sort"
	"sync"

	"github.com/celsiustx/metaflow/pkg/api"
)

// InMemoryStore is a simple, goroutine-safe implementation of BlobStore,
// ArtifactIndex and RunStore backed by maps.
type InMemoryStore struct {
	mu        sync.RWMutex
	blobs     map[string][]byte
	artifacts map[TaskKey]map[string]string
	runs      map[string]*api.Run
}

// NewInMemoryStore creates a new InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		blobs:     make(map[string][]byte),
		artifacts: make(map[TaskKey]map[string]string),
		runs:      make(map[string]*api.Run),
	}
}

var (
	_ BlobStore     = (*InMemoryStore)(nil)
	_ ArtifactIndex = (*InMemoryStore)(nil)
	_ RunStore      = (*InMemoryStore)(nil)
)

func (s *InMemoryStore) PutBlob(_ context.Context, data []byte) (string, error) {
	sha := Fingerprint(data)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.blobs[sha]; !ok {
		s.blobs[sha] = slices.Clone(data)
	}
	return sha, nil
}

func (s *InMemoryStore) GetBlob(_ context.Context, fingerprint string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.blobs[fingerprint]
	if !ok {
		return nil, ErrBlobNotFound
	}
	return slices.Clone(data), nil
}

func (s *InMemoryStore) RecordArtifact(_ context.Context, key TaskKey, name, fingerprint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	names, ok := s.artifacts[key]
	if !ok {
		names = make(map[string]string)
		s.artifacts[key] = names
	}
	names[name] = fingerprint
	return nil
}

func (s *InMemoryStore) ListArtifacts(_ context.Context, key TaskKey) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]string, len(s.artifacts[key]))
	maps.Copy(out, s.artifacts[key])
	return out, nil
}

func (s *InMemoryStore) SaveRun(_ context.Context, run *api.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.runs[run.ID] = cloneRun(run)
	return nil
}

func (s *InMemoryStore) GetRun(_ context.Context, id string) (*api.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[id]
	if !ok {
		return nil, ErrRunNotFound
	}
	return cloneRun(run), nil
}

func (s *InMemoryStore) ListRuns(_ context.Context, filter RunFilter) ([]*api.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*api.Run
	for _, run := range s.runs {
		if !filter.matches(run) {
			continue
		}
		result = append(result, cloneRun(run))
	}
	sortRuns(result)
	return result, nil
}

func (f RunFilter) matches(run *api.Run) bool {
	if f.Flow != "" && run.Flow != f.Flow {
		return false
	}
	if f.Status != "" && run.Status != f.Status {
		return false
	}
	return true
}

func sortRuns(runs []*api.Run) {
	sort.Slice(runs, func(i, j int) bool {
		if !runs[i].StartedAt.Equal(runs[j].StartedAt) {
			return runs[i].StartedAt.Before(runs[j].StartedAt)
		}
		return runs[i].ID < runs[j].ID
	})
}

func cloneRun(run *api.Run) *api.Run {
	c := *run
	c.Tasks = make([]api.TaskInfo, len(run.Tasks))
	for i, t := range run.Tasks {
		t.Inputs = slices.Clone(t.Inputs)
		c.Tasks[i] = t
	}
	return &c
}

// InMemoryEventStore keeps events in process memory.
type InMemoryEventStore struct {
	mu     sync.RWMutex
	events map[string][]api.Event
}

var _ EventStore = (*InMemoryEventStore)(nil)

func NewInMemoryEventStore() *InMemoryEventStore {
	return &InMemoryEventStore{events: make(map[string][]api.Event)}
}

func (s *InMemoryEventStore) AppendEvent(_ context.Context, ev api.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events[ev.RunID] = append(s.events[ev.RunID], ev)
	return nil
}

func (s *InMemoryEventStore) ListEvents(_ context.Context, runID string) ([]api.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return slices.Clone(s.events[runID]), nil
}
