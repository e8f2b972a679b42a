// Package datastore gives a task its artifact view over the persistence
// stores. Values live in the content-addressed blob store; each task only
// records which blob every artifact name points to.
package datastore

import (
	"context"
	"fmt"
	"maps"
	"sync"

	"github.com/celsiustx/metaflow/internal/persistence"
	"github.com/celsiustx/metaflow/pkg/task"
)

func init() {
	persistence.RegisterType(task.ParallelInput{})
}

// TaskDatastore implements task.Artifacts for one task. It is bound to the
// context of the task execution that opened it.
type TaskDatastore struct {
	ctx context.Context
	p   persistence.Persistence
	key persistence.TaskKey

	mu    sync.Mutex
	fps   map[string]string
	cache map[string]any
}

var _ task.Artifacts = (*TaskDatastore)(nil)

// Open loads the artifact names already recorded for key.
func Open(ctx context.Context, p persistence.Persistence, key persistence.TaskKey) (*TaskDatastore, error) {
	fps, err := p.Artifacts.ListArtifacts(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("open datastore %s: %w", key, err)
	}
	return &TaskDatastore{
		ctx:   ctx,
		p:     p,
		key:   key,
		fps:   fps,
		cache: make(map[string]any),
	}, nil
}

// Key returns the task the datastore belongs to.
func (d *TaskDatastore) Key() persistence.TaskKey { return d.key }

func (d *TaskDatastore) Get(name string) (any, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	sha, ok := d.fps[name]
	if !ok {
		return nil, false, nil
	}
	if v, ok := d.cache[name]; ok {
		return v, true, nil
	}
	data, err := d.p.Blobs.GetBlob(d.ctx, sha)
	if err != nil {
		return nil, true, fmt.Errorf("load %s of %s: %w", name, d.key, err)
	}
	v, err := persistence.DecodeArtifact(data)
	if err != nil {
		return nil, true, fmt.Errorf("load %s of %s: %w", name, d.key, err)
	}
	d.cache[name] = v
	return v, true, nil
}

// Value reads name as a T. ok is false when the task has no such artifact.
// A value of another type fails with persistence.ErrTypeMismatch.
func Value[T any](d *TaskDatastore, name string) (v T, ok bool, err error) {
	d.mu.Lock()
	sha, ok := d.fps[name]
	cached, hit := d.cache[name]
	d.mu.Unlock()
	if !ok {
		return v, false, nil
	}
	if hit {
		if t, ok := cached.(T); ok {
			return t, true, nil
		}
		if cached == nil {
			return v, true, nil
		}
		return v, true, fmt.Errorf("load %s of %s: %w: %T", name, d.key, persistence.ErrTypeMismatch, cached)
	}

	data, err := d.p.Blobs.GetBlob(d.ctx, sha)
	if err != nil {
		return v, true, fmt.Errorf("load %s of %s: %w", name, d.key, err)
	}
	v, err = persistence.DecodeValue[T](data)
	if err != nil {
		return v, true, fmt.Errorf("load %s of %s: %w", name, d.key, err)
	}
	return v, true, nil
}

func (d *TaskDatastore) Set(name string, value any) error {
	data, err := persistence.EncodeArtifact(value)
	if err != nil {
		return err
	}
	sha, err := d.p.Blobs.PutBlob(d.ctx, data)
	if err != nil {
		return fmt.Errorf("store %s of %s: %w", name, d.key, err)
	}
	if err := d.p.Artifacts.RecordArtifact(d.ctx, d.key, name, sha); err != nil {
		return fmt.Errorf("record %s of %s: %w", name, d.key, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.fps[name] = sha
	d.cache[name] = value
	return nil
}

func (d *TaskDatastore) Has(name string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	_, ok := d.fps[name]
	return ok
}

func (d *TaskDatastore) Fingerprints() map[string]string {
	d.mu.Lock()
	defer d.mu.Unlock()

	return maps.Clone(d.fps)
}

// Passdown records the fingerprints of src's artifacts under this task.
// Nothing is re-encoded.
func (d *TaskDatastore) Passdown(src task.Artifacts, names ...string) error {
	srcFps := src.Fingerprints()
	for _, name := range names {
		sha, ok := srcFps[name]
		if !ok {
			return fmt.Errorf("passdown %s to %s: %w", name, d.key, persistence.ErrArtifactNotFound)
		}
		if err := d.p.Artifacts.RecordArtifact(d.ctx, d.key, name, sha); err != nil {
			return fmt.Errorf("passdown %s to %s: %w", name, d.key, err)
		}

		var cached any
		var haveCached bool
		if other, ok := src.(*TaskDatastore); ok && other != d {
			other.mu.Lock()
			cached, haveCached = other.cache[name]
			other.mu.Unlock()
		}

		d.mu.Lock()
		d.fps[name] = sha
		if haveCached {
			d.cache[name] = cached
		} else {
			delete(d.cache, name)
		}
		d.mu.Unlock()
	}
	return nil
}

// PassdownAll makes every artifact of src visible on d, except the ones d
// already has.
func (d *TaskDatastore) PassdownAll(src task.Artifacts) error {
	var names []string
	for name := range src.Fingerprints() {
		if !d.Has(name) {
			names = append(names, name)
		}
	}
	return d.Passdown(src, names...)
}
