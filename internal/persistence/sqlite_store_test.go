package persistence

import (
	"database/sql"
	"testing"

	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	// A :memory: database lives on a single connection.
	db.SetMaxOpenConns(1)
	t.Cleanup(func() {
		_ = db.Close()
	})
	return db
}

func TestSQLiteStore(t *testing.T) {
	t.Run("blobs", func(t *testing.T) {
		s, err := NewSQLiteStore(openTestDB(t))
		require.NoError(t, err)
		exerciseBlobs(t, s)
	})
	t.Run("artifacts", func(t *testing.T) {
		s, err := NewSQLiteStore(openTestDB(t))
		require.NoError(t, err)
		exerciseArtifactIndex(t, s)
	})
	t.Run("runs", func(t *testing.T) {
		s, err := NewSQLiteRunStore(openTestDB(t))
		require.NoError(t, err)
		exerciseRuns(t, s)
	})
	t.Run("events", func(t *testing.T) {
		s, err := NewSQLiteEventStore(openTestDB(t))
		require.NoError(t, err)
		exerciseEvents(t, s)
	})
}

func TestSQLiteStore_SchemaIsIdempotent(t *testing.T) {
	db := openTestDB(t)

	_, err := NewSQLiteStore(db)
	require.NoError(t, err)
	_, err = NewSQLiteStore(db)
	require.NoError(t, err)
	_, err = NewSQLiteRunStore(db)
	require.NoError(t, err)
	_, err = NewSQLiteRunStore(db)
	require.NoError(t, err)
}
