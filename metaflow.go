package metaflow

import (
	"database/sql"

	"github.com/redis/go-redis/v9"

	"github.com/celsiustx/metaflow/internal/engine"
	"github.com/celsiustx/metaflow/internal/persistence"
	"github.com/celsiustx/metaflow/pkg/api"
	"github.com/celsiustx/metaflow/pkg/graph"
	"github.com/celsiustx/metaflow/pkg/task"
)

// Re-export key types so users don't need to dig into pkg/ and internal/.

type (
	Engine       = engine.Engine
	EngineConfig = engine.Config
	Flow         = engine.Flow
	StepFunc     = engine.StepFunc
	Persistence  = persistence.Persistence
	RunFilter    = persistence.RunFilter

	Graph       = graph.Graph
	Declaration = graph.Declaration

	Context        = task.Context
	Branch         = task.Branch
	MergeOptions   = task.MergeOptions
	Sequence       = task.Sequence
	UnboundedInput = task.UnboundedInput
	ParallelInput  = task.ParallelInput

	Run                  = api.Run
	TaskInfo             = api.TaskInfo
	Status               = api.Status
	Event                = api.Event
	Observer             = api.Observer
	LoggingObserver      = api.LoggingObserver
	BasicMetrics         = api.BasicMetrics
	BasicMetricsSnapshot = api.BasicMetricsSnapshot
	CompositeObserver    = api.CompositeObserver
	NoopObserver         = api.NoopObserver
)

// Re-export common observer helpers.

var (
	NewLoggingObserver   = api.NewLoggingObserver
	NewCompositeObserver = api.NewCompositeObserver
)

// Re-export status values for convenience.

const (
	StatusPending   = api.StatusPending
	StatusRunning   = api.StatusRunning
	StatusFailed    = api.StatusFailed
	StatusCompleted = api.StatusCompleted
)

// Engine constructors
// These wrap the internal/engine package so external callers
// never need to import internal packages.

// NewEngine returns an Engine configured by cfg.
func NewEngine(cfg EngineConfig) *Engine {
	return engine.New(cfg)
}

// NewInMemoryEngine returns an Engine backed entirely by in-memory stores.
func NewInMemoryEngine() *Engine {
	return engine.NewInMemoryEngine()
}

// NewSQLiteEngine returns an Engine that persists artifacts, runs and events
// in a SQLite database. Flows are kept in memory.
func NewSQLiteEngine(db *sql.DB) (*Engine, error) {
	return engine.NewSQLiteEngine(db)
}

// NewRedisEngine returns an Engine that persists artifacts and runs in Redis.
func NewRedisEngine(client *redis.Client, prefix string) *Engine {
	return engine.NewRedisEngine(client, prefix)
}

// NewInMemoryPersistence returns stores that live in process memory.
func NewInMemoryPersistence() Persistence {
	return persistence.NewInMemory()
}

// NewSQLitePersistence returns stores backed by db.
func NewSQLitePersistence(db *sql.DB) (Persistence, error) {
	return persistence.NewSQLite(db)
}

// NewRedisPersistence returns stores backed by a Redis client.
func NewRedisPersistence(client *redis.Client, prefix string) Persistence {
	return persistence.NewRedis(client, prefix)
}

// Value reads artifact name from a task context as a T.
func Value[T any](c *Context, name string) (T, error) {
	return task.Value[T](c, name)
}

// IsMergeConflict reports the unresolved artifact names of a merge failure.
func IsMergeConflict(err error) ([]string, bool) {
	return api.IsMergeConflict(err)
}

// IsInvalidTransition reports the step of a rejected transition.
func IsInvalidTransition(err error) (string, bool) {
	return api.IsInvalidTransition(err)
}
