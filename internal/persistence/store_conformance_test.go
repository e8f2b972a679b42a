package persistence

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/celsiustx/metaflow/pkg/api"
)

func exerciseBlobs(t *testing.T, blobs BlobStore) {
	t.Helper()
	ctx := context.Background()

	data, err := EncodeArtifact([]int{1, 2, 3})
	require.NoError(t, err)

	sha, err := blobs.PutBlob(ctx, data)
	require.NoError(t, err)
	require.Equal(t, Fingerprint(data), sha)

	again, err := blobs.PutBlob(ctx, data)
	require.NoError(t, err)
	require.Equal(t, sha, again, "the same content maps to the same blob")

	got, err := blobs.GetBlob(ctx, sha)
	require.NoError(t, err)
	require.Equal(t, data, got)

	_, err = blobs.GetBlob(ctx, "missing")
	require.ErrorIs(t, err, ErrBlobNotFound)
}

func exerciseArtifactIndex(t *testing.T, idx ArtifactIndex) {
	t.Helper()
	ctx := context.Background()
	a := TaskKey{RunID: "r1", Step: "start", TaskID: "1"}
	b := TaskKey{RunID: "r1", Step: "next", TaskID: "2"}

	empty, err := idx.ListArtifacts(ctx, a)
	require.NoError(t, err)
	require.Empty(t, empty)

	require.NoError(t, idx.RecordArtifact(ctx, a, "x", "sha-x"))
	require.NoError(t, idx.RecordArtifact(ctx, a, "y", "sha-y"))
	require.NoError(t, idx.RecordArtifact(ctx, a, "x", "sha-x2"))
	require.NoError(t, idx.RecordArtifact(ctx, b, "x", "sha-x"))

	got, err := idx.ListArtifacts(ctx, a)
	require.NoError(t, err)
	require.Equal(t, map[string]string{"x": "sha-x2", "y": "sha-y"}, got)

	got, err = idx.ListArtifacts(ctx, b)
	require.NoError(t, err)
	require.Equal(t, map[string]string{"x": "sha-x"}, got)
}

func exerciseRuns(t *testing.T, runs RunStore) {
	t.Helper()
	ctx := context.Background()
	base := time.Unix(1_700_000_000, 0)

	_, err := runs.GetRun(ctx, "nope")
	require.ErrorIs(t, err, ErrRunNotFound)

	r1 := &api.Run{ID: "run-1", Flow: "A", Status: api.StatusRunning, StartedAt: base}
	require.NoError(t, runs.SaveRun(ctx, r1))
	require.NoError(t, runs.SaveRun(ctx, &api.Run{ID: "run-2", Flow: "A", Status: api.StatusCompleted, StartedAt: base.Add(time.Second)}))
	require.NoError(t, runs.SaveRun(ctx, &api.Run{ID: "run-3", Flow: "B", Status: api.StatusCompleted, StartedAt: base.Add(2 * time.Second)}))

	r1.Status = api.StatusFailed
	r1.Err = errors.New("boom")
	r1.FinishedAt = base.Add(3 * time.Second)
	r1.Tasks = []api.TaskInfo{
		{ID: "1", Step: "start", Index: -1},
		{ID: "2", Step: "join", Index: -1, Inputs: []string{"a", "b"}},
	}
	require.NoError(t, runs.SaveRun(ctx, r1))

	got, err := runs.GetRun(ctx, "run-1")
	require.NoError(t, err)
	require.Equal(t, api.StatusFailed, got.Status)
	require.EqualError(t, got.Err, "boom")
	require.True(t, got.StartedAt.Equal(base))
	require.True(t, got.FinishedAt.Equal(r1.FinishedAt))
	require.Equal(t, r1.Tasks, got.Tasks)

	all, err := runs.ListRuns(ctx, RunFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, "run-1", all[0].ID)

	flowA, err := runs.ListRuns(ctx, RunFilter{Flow: "A"})
	require.NoError(t, err)
	require.Len(t, flowA, 2)

	completed, err := runs.ListRuns(ctx, RunFilter{Status: api.StatusCompleted})
	require.NoError(t, err)
	require.Len(t, completed, 2)

	completedA, err := runs.ListRuns(ctx, RunFilter{Flow: "A", Status: api.StatusCompleted})
	require.NoError(t, err)
	require.Len(t, completedA, 1)
	require.Equal(t, "run-2", completedA[0].ID)
}

func exerciseEvents(t *testing.T, events EventStore) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, events.AppendEvent(ctx, api.Event{RunID: "r1", Type: api.EventRunStarted, Flow: "F"}))
	require.NoError(t, events.AppendEvent(ctx, api.Event{RunID: "r2", Type: api.EventRunStarted, Flow: "F"}))
	require.NoError(t, events.AppendEvent(ctx, api.Event{
		RunID: "r1", At: time.Now(), Type: api.EventTaskCompleted, Flow: "F", Step: "start", TaskID: "1", Detail: "ok",
	}))

	got, err := events.ListEvents(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, api.EventRunStarted, got[0].Type)
	require.Equal(t, api.EventTaskCompleted, got[1].Type)
	require.Equal(t, "start", got[1].Step)
	require.Equal(t, "1", got[1].TaskID)
	require.Equal(t, "ok", got[1].Detail)
}
