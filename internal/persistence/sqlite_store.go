package persistence

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/celsiustx/metaflow/pkg/api"
)

// SQLiteStore is a BlobStore and ArtifactIndex backed by SQLite.
//
// It expects an *sql.DB that uses a SQLite driver (for example,
// "modernc.org/sqlite"). The caller is responsible for importing
// the driver, e.g.:
//
//	import _ "modernc.org/sqlite"
type SQLiteStore struct {
	db *sql.DB
}

var (
	_ BlobStore     = (*SQLiteStore)(nil)
	_ ArtifactIndex = (*SQLiteStore)(nil)
)

// NewSQLiteStore initializes the required schema in the given database and
// returns a new SQLiteStore.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS blobs (
			fingerprint TEXT PRIMARY KEY,
			data BLOB NOT NULL
		);
		CREATE TABLE IF NOT EXISTS artifacts (
			run_id TEXT NOT NULL,
			step TEXT NOT NULL,
			task_id TEXT NOT NULL,
			name TEXT NOT NULL,
			fingerprint TEXT NOT NULL,
			PRIMARY KEY (run_id, step, task_id, name)
		);`,
	)
	return err
}

func (s *SQLiteStore) PutBlob(ctx context.Context, data []byte) (string, error) {
	sha := Fingerprint(data)
	if data == nil {
		data = []byte{}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO blobs (fingerprint, data) VALUES (?, ?)`, sha, data)
	if err != nil {
		return "", err
	}
	return sha, nil
}

func (s *SQLiteStore) GetBlob(ctx context.Context, fingerprint string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM blobs WHERE fingerprint = ?`, fingerprint).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrBlobNotFound
		}
		return nil, err
	}
	return data, nil
}

func (s *SQLiteStore) RecordArtifact(ctx context.Context, key TaskKey, name, fingerprint string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO artifacts (run_id, step, task_id, name, fingerprint)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (run_id, step, task_id, name) DO UPDATE SET fingerprint = excluded.fingerprint`,
		key.RunID, key.Step, key.TaskID, name, fingerprint,
	)
	return err
}

func (s *SQLiteStore) ListArtifacts(ctx context.Context, key TaskKey) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, fingerprint FROM artifacts
		WHERE run_id = ? AND step = ? AND task_id = ?`,
		key.RunID, key.Step, key.TaskID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var name, sha string
		if err := rows.Scan(&name, &sha); err != nil {
			return nil, err
		}
		out[name] = sha
	}
	return out, rows.Err()
}

// SQLiteRunStore is a RunStore backed by SQLite.
type SQLiteRunStore struct {
	db *sql.DB
}

var _ RunStore = (*SQLiteRunStore)(nil)

func NewSQLiteRunStore(db *sql.DB) (*SQLiteRunStore, error) {
	s := &SQLiteRunStore{db: db}
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			flow TEXT NOT NULL,
			status TEXT NOT NULL,
			error TEXT NOT NULL DEFAULT '',
			started_at INTEGER NOT NULL DEFAULT 0,
			finished_at INTEGER NOT NULL DEFAULT 0,
			tasks BLOB
		);`); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteRunStore) SaveRun(ctx context.Context, run *api.Run) error {
	tasks, err := encodeTasks(run.Tasks)
	if err != nil {
		return err
	}
	errStr := ""
	if run.Err != nil {
		errStr = run.Err.Error()
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runs (id, flow, status, error, started_at, finished_at, tasks)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			flow = excluded.flow, status = excluded.status, error = excluded.error,
			started_at = excluded.started_at, finished_at = excluded.finished_at, tasks = excluded.tasks`,
		run.ID, run.Flow, string(run.Status), errStr,
		unixNano(run.StartedAt), unixNano(run.FinishedAt), tasks,
	)
	return err
}

func (s *SQLiteRunStore) GetRun(ctx context.Context, id string) (*api.Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, flow, status, error, started_at, finished_at, tasks
		FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	return run, err
}

func (s *SQLiteRunStore) ListRuns(ctx context.Context, filter RunFilter) ([]*api.Run, error) {
	query := `SELECT id, flow, status, error, started_at, finished_at, tasks FROM runs`
	var args []any
	var clauses []string

	if filter.Flow != "" {
		clauses = append(clauses, "flow = ?")
		args = append(args, filter.Flow)
	}
	if filter.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, string(filter.Status))
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY started_at, id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*api.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*api.Run, error) {
	var (
		run               api.Run
		status, errStr    string
		started, finished int64
		tasks             []byte
	)
	if err := row.Scan(&run.ID, &run.Flow, &status, &errStr, &started, &finished, &tasks); err != nil {
		return nil, err
	}
	run.Status = api.Status(status)
	run.StartedAt = fromUnixNano(started)
	run.FinishedAt = fromUnixNano(finished)
	if errStr != "" {
		run.Err = errors.New(errStr)
	}
	var err error
	if run.Tasks, err = decodeTasks(tasks); err != nil {
		return nil, err
	}
	return &run, nil
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}
