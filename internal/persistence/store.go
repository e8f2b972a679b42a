package persistence

import (
	"context"
	"errors"

	"github.com/celsiustx/metaflow/pkg/api"
)

var (
	// ErrBlobNotFound is returned when no blob has the requested fingerprint.
	ErrBlobNotFound = errors.New("blob not found")

	// ErrArtifactNotFound is returned when a task has no artifact of the
	// requested name.
	ErrArtifactNotFound = errors.New("artifact not found")

	// ErrTypeMismatch is returned by DecodeValue when the stored value is
	// not of the requested type.
	ErrTypeMismatch = errors.New("artifact type mismatch")

	// ErrRunNotFound is returned when a run is not found.
	ErrRunNotFound = errors.New("run not found")
)

// TaskKey identifies the artifact namespace of one task.
type TaskKey struct {
	RunID  string
	Step   string
	TaskID string
}

func (k TaskKey) String() string {
	return k.RunID + "/" + k.Step + "/" + k.TaskID
}

// BlobStore is a content-addressed store of encoded artifacts.
type BlobStore interface {
	// PutBlob stores data and returns its fingerprint. Storing the same
	// content twice is a no-op.
	PutBlob(ctx context.Context, data []byte) (string, error)
	GetBlob(ctx context.Context, fingerprint string) ([]byte, error)
}

// ArtifactIndex maps each task's artifact names to blob fingerprints.
type ArtifactIndex interface {
	RecordArtifact(ctx context.Context, key TaskKey, name, fingerprint string) error
	// ListArtifacts returns name -> fingerprint for the task. A task
	// without artifacts yields an empty map.
	ListArtifacts(ctx context.Context, key TaskKey) (map[string]string, error)
}

// RunFilter selects runs. Empty fields mean "no filter".
type RunFilter struct {
	Flow   string
	Status api.Status
}

// RunStore keeps the externally visible state of runs.
type RunStore interface {
	// SaveRun inserts or replaces run.
	SaveRun(ctx context.Context, run *api.Run) error
	GetRun(ctx context.Context, id string) (*api.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]*api.Run, error)
}

// EventStore is an append-only history of run events.
type EventStore interface {
	AppendEvent(ctx context.Context, ev api.Event) error
	ListEvents(ctx context.Context, runID string) ([]api.Event, error)
}

// NoopEventStore discards all events.
type NoopEventStore struct{}

func (NoopEventStore) AppendEvent(ctx context.Context, ev api.Event) error { return nil }
func (NoopEventStore) ListEvents(ctx context.Context, runID string) ([]api.Event, error) {
	return nil, nil
}
