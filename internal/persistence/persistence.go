package persistence

import (
	"database/sql"

	"github.com/redis/go-redis/v9"
)

// Persistence bundles the store interfaces so the engine can depend on a
// single abstraction.
type Persistence struct {
	Blobs     BlobStore
	Artifacts ArtifactIndex
	Runs      RunStore
	Events    EventStore
}

// NewInMemory returns a Persistence backed entirely by process memory.
func NewInMemory() Persistence {
	store := NewInMemoryStore()
	return Persistence{
		Blobs:     store,
		Artifacts: store,
		Runs:      store,
		Events:    NewInMemoryEventStore(),
	}
}

// NewSQLite returns a Persistence keeping everything in db. The schema is
// created when missing.
func NewSQLite(db *sql.DB) (Persistence, error) {
	store, err := NewSQLiteStore(db)
	if err != nil {
		return Persistence{}, err
	}
	runs, err := NewSQLiteRunStore(db)
	if err != nil {
		return Persistence{}, err
	}
	events, err := NewSQLiteEventStore(db)
	if err != nil {
		return Persistence{}, err
	}
	return Persistence{Blobs: store, Artifacts: store, Runs: runs, Events: events}, nil
}

// NewRedis returns a Persistence keeping blobs, artifacts and runs in Redis.
// Events stay in process memory.
func NewRedis(client *redis.Client, prefix string) Persistence {
	store := NewRedisStore(client, prefix)
	return Persistence{
		Blobs:     store,
		Artifacts: store,
		Runs:      store,
		Events:    NewInMemoryEventStore(),
	}
}

// WithDefaults fills unset stores with in-memory ones.
func (p Persistence) WithDefaults() Persistence {
	if p.Blobs == nil || p.Artifacts == nil || p.Runs == nil {
		mem := NewInMemoryStore()
		if p.Blobs == nil {
			p.Blobs = mem
		}
		if p.Artifacts == nil {
			p.Artifacts = mem
		}
		if p.Runs == nil {
			p.Runs = mem
		}
	}
	if p.Events == nil {
		p.Events = NoopEventStore{}
	}
	return p
}
