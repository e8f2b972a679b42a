// Package config loads the CLI and runner configuration.
//
// Values come, in increasing precedence, from defaults, an optional config
// file, METAFLOW_* environment variables and bound command-line flags.
package config

import (
	"database/sql"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"
	_ "modernc.org/sqlite"

	"github.com/celsiustx/metaflow/internal/persistence"
)

const (
	// AppName is the base name of the config file.
	AppName = "metaflow"

	// EnvPrefix is the prefix for environment variables.
	EnvPrefix = "METAFLOW"
)

// Store drivers.
const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
	DriverRedis  = "redis"
)

// Config holds the application configuration.
type Config struct {
	Log struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"log"`

	Store StoreConfig `mapstructure:"store"`

	Runner struct {
		Workers       int `mapstructure:"workers"`
		QueueCapacity int `mapstructure:"queue_capacity"`
	} `mapstructure:"runner"`
}

// StoreConfig selects where artifacts, runs and events are kept.
type StoreConfig struct {
	Driver    string `mapstructure:"driver"`
	DSN       string `mapstructure:"dsn"`
	RedisAddr string `mapstructure:"redis_addr"`
	Prefix    string `mapstructure:"prefix"`
}

// New returns a viper instance with defaults and environment binding set up.
func New() *viper.Viper {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return v
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("store.driver", DriverMemory)
	v.SetDefault("store.dsn", "file:metaflow.db?_journal=WAL")
	v.SetDefault("store.redis_addr", "localhost:6379")
	v.SetDefault("store.prefix", "metaflow:")

	v.SetDefault("runner.workers", 4)
	v.SetDefault("runner.queue_capacity", 1024)
}

// Load reads cfgFile into v, when given, and decodes the result. Without a
// file, a metaflow.yaml in the working directory is used if present.
func Load(v *viper.Viper, cfgFile string) (Config, error) {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName(AppName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("error parsing config: %w", err)
	}
	return cfg, cfg.Validate()
}

// Validate checks value ranges and enumerations.
func (c Config) Validate() error {
	switch c.Store.Driver {
	case DriverMemory, DriverSQLite, DriverRedis:
	default:
		return fmt.Errorf("store.driver: unknown driver %q", c.Store.Driver)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format: must be text or json, got %q", c.Log.Format)
	}
	if c.Runner.Workers < 1 {
		return fmt.Errorf("runner.workers: must be at least 1, got %d", c.Runner.Workers)
	}
	if c.Runner.QueueCapacity < 1 {
		return fmt.Errorf("runner.queue_capacity: must be at least 1, got %d", c.Runner.QueueCapacity)
	}
	return nil
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

// Open connects the configured store. The returned Closer releases the
// underlying connection.
func (s StoreConfig) Open() (persistence.Persistence, io.Closer, error) {
	switch s.Driver {
	case DriverMemory, "":
		return persistence.NewInMemory(), closerFunc(func() error { return nil }), nil

	case DriverSQLite:
		db, err := sql.Open("sqlite", s.DSN)
		if err != nil {
			return persistence.Persistence{}, nil, fmt.Errorf("open sqlite store: %w", err)
		}
		p, err := persistence.NewSQLite(db)
		if err != nil {
			_ = db.Close()
			return persistence.Persistence{}, nil, err
		}
		return p, db, nil

	case DriverRedis:
		client := redis.NewClient(&redis.Options{Addr: s.RedisAddr})
		return persistence.NewRedis(client, s.Prefix), client, nil

	default:
		return persistence.Persistence{}, nil, fmt.Errorf("unknown store driver %q", s.Driver)
	}
}
