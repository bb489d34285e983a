package surrealodm

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/surrealdb/surrealodm/pkg/logger"
	"github.com/surrealdb/surrealodm/pkg/mapping"
	"github.com/surrealdb/surrealodm/pkg/persistent"
	"github.com/surrealdb/surrealodm/pkg/storage"
	"github.com/surrealdb/surrealodm/pkg/storage/cache"
	"github.com/surrealdb/surrealodm/pkg/storage/gormstore"
	"github.com/surrealdb/surrealodm/pkg/storage/memory"
	"github.com/surrealdb/surrealodm/pkg/storage/sqlitestore"
	"github.com/surrealdb/surrealodm/pkg/storage/surrealstore"
	"github.com/surrealdb/surrealodm/pkg/unitofwork"
)

// Config wires a DocumentManager. Storage and Registry are required.
type Config struct {
	Storage  storage.Storage
	Registry *mapping.Registry

	// Logger defaults to a no-op logger.
	Logger logger.Logger
	// DanglingPolicy decides what hydration does with references to
	// documents that no longer exist.
	DanglingPolicy persistent.DanglingPolicy
	// Observer receives operation and flush events, see pkg/metrics.
	Observer unitofwork.Observer
}

// Storage drivers accepted in FileConfig.
const (
	DriverMemory    = "memory"
	DriverSQLite    = "sqlite"
	DriverPostgres  = "postgres"
	DriverSurrealDB = "surrealdb"
)

// Environment variables overriding FileConfig values.
const (
	EnvStorageDriver = "SURREALODM_STORAGE_DRIVER"
	EnvDSN           = "SURREALODM_DSN"
	EnvNamespace     = "SURREALODM_NAMESPACE"
	EnvDatabase      = "SURREALODM_DATABASE"
	EnvCacheSize     = "SURREALODM_CACHE_SIZE"
	EnvDangling      = "SURREALODM_DANGLING"
	EnvLogLevel      = "SURREALODM_LOG_LEVEL"
)

type StorageConfig struct {
	// Driver is one of memory, sqlite, postgres or surrealdb
	Driver string `yaml:"driver"`
	// DSN is the SQLite file path, the PostgreSQL connection string or the
	// SurrealDB endpoint (e.g., "ws://localhost:8000")
	DSN string `yaml:"dsn"`

	// SurrealDB namespace and database
	Namespace string `yaml:"namespace"`
	Database  string `yaml:"database"`

	// Number of records kept in the read cache, 0 disables it
	CacheSize int `yaml:"cacheSize"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	// Log file, stdout when empty
	Path string `yaml:"path"`
}

// FileConfig is the YAML form of a document manager's configuration.
//
//	storage:
//	  driver: sqlite
//	  dsn: ./documents.db
//	  cacheSize: 1024
//	danglingReferences: skip
//	mappingFile: ./mapping.yaml
//	log:
//	  level: debug
type FileConfig struct {
	Storage StorageConfig `yaml:"storage"`
	// abort or skip
	DanglingReferences string `yaml:"danglingReferences"`
	// Optional mapping overlay applied to the registry passed to Open
	MappingFile string    `yaml:"mappingFile"`
	Log         LogConfig `yaml:"log"`
}

// NewFileConfig creates a FileConfig with default values
func NewFileConfig() *FileConfig {
	return &FileConfig{
		Storage:            StorageConfig{Driver: DriverMemory},
		DanglingReferences: persistent.DanglingAbort.String(),
		Log:                LogConfig{Level: zerolog.InfoLevel.String()},
	}
}

// LoadFileConfig reads path over the defaults, applies the environment
// overrides and validates the result.
func LoadFileConfig(path string) (*FileConfig, error) {
	cfg := NewFileConfig()

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides values with the SURREALODM_* environment variables that
// are set.
func (c *FileConfig) ApplyEnv() {
	c.Storage.Driver = GetEnvOrDefault(EnvStorageDriver, c.Storage.Driver)
	c.Storage.DSN = GetEnvOrDefault(EnvDSN, c.Storage.DSN)
	c.Storage.Namespace = GetEnvOrDefault(EnvNamespace, c.Storage.Namespace)
	c.Storage.Database = GetEnvOrDefault(EnvDatabase, c.Storage.Database)
	c.Storage.CacheSize = GetEnvIntOrDefault(EnvCacheSize, c.Storage.CacheSize)
	c.DanglingReferences = GetEnvOrDefault(EnvDangling, c.DanglingReferences)
	c.Log.Level = GetEnvOrDefault(EnvLogLevel, c.Log.Level)
}

// Validate checks if the configuration is valid
func (c *FileConfig) Validate() error {
	switch c.Storage.Driver {
	case DriverMemory:
	case DriverSQLite, DriverPostgres:
		if c.Storage.DSN == "" {
			return fmt.Errorf("dsn is required for the %s driver", c.Storage.Driver)
		}
	case DriverSurrealDB:
		if c.Storage.DSN == "" {
			return fmt.Errorf("dsn is required for the %s driver", c.Storage.Driver)
		}
		if c.Storage.Namespace == "" || c.Storage.Database == "" {
			return fmt.Errorf("namespace and database are required for the %s driver", c.Storage.Driver)
		}
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	if c.Storage.CacheSize < 0 {
		return fmt.Errorf("cacheSize must not be negative")
	}
	if _, err := persistent.ParseDanglingPolicy(c.DanglingReferences); err != nil {
		return err
	}
	if _, err := zerolog.ParseLevel(strings.ToLower(c.Log.Level)); err != nil {
		return fmt.Errorf("invalid log level %q: %w", c.Log.Level, err)
	}
	return nil
}

// OpenStorage connects the configured backend, wrapped in the read cache when
// cacheSize is set.
func (c *FileConfig) OpenStorage(ctx context.Context, log logger.Logger) (storage.Storage, error) {
	var (
		store storage.Storage
		err   error
	)
	switch c.Storage.Driver {
	case DriverMemory:
		store = memory.New()
	case DriverSQLite:
		store, err = sqlitestore.Open(c.Storage.DSN)
	case DriverPostgres:
		var pg *gormstore.Store
		if pg, err = gormstore.Open(c.Storage.DSN); err == nil {
			if err = pg.Migrate(ctx); err != nil {
				err = errors.Join(err, pg.Close())
			}
			store = pg
		}
	case DriverSurrealDB:
		store, err = surrealstore.Open(ctx, c.Storage.DSN, c.Storage.Namespace, c.Storage.Database, log)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	if err != nil {
		return nil, err
	}

	if c.Storage.CacheSize > 0 {
		cached, err := cache.New(store, c.Storage.CacheSize)
		if err != nil {
			return nil, errors.Join(err, closeStorage(store))
		}
		store = cached
	}
	return store, nil
}

// MakeLogger builds the zerolog logger described by the log section.
func (c *FileConfig) MakeLogger() (*logger.LogData, error) {
	level, err := zerolog.ParseLevel(strings.ToLower(c.Log.Level))
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", c.Log.Level, err)
	}
	return logger.New().FromPath(c.Log.Path).Level(level).Make()
}

// Open builds a DocumentManager from file configuration. The mapping overlay
// named by mappingFile is applied to registry before use.
func Open(ctx context.Context, fc *FileConfig, registry *mapping.Registry) (*DocumentManager, error) {
	if err := fc.Validate(); err != nil {
		return nil, err
	}
	if fc.MappingFile != "" {
		if err := applyMappingFile(registry, fc.MappingFile); err != nil {
			return nil, err
		}
	}
	policy, err := persistent.ParseDanglingPolicy(fc.DanglingReferences)
	if err != nil {
		return nil, err
	}

	logData, err := fc.MakeLogger()
	if err != nil {
		return nil, err
	}
	log := logData.Handler()

	store, err := fc.OpenStorage(ctx, log)
	if err != nil {
		log.Error("failed to open storage", "driver", fc.Storage.Driver, "error", err)
		return nil, errors.Join(err, logData.Close())
	}

	dm, err := New(Config{
		Storage:        store,
		Registry:       registry,
		Logger:         log,
		DanglingPolicy: policy,
	})
	if err != nil {
		return nil, errors.Join(err, closeStorage(store), logData.Close())
	}
	dm.closers = append(dm.closers, logData.Close)
	log.Debug("document manager opened", "driver", fc.Storage.Driver, "tables", strings.Join(registry.Tables(), ","))
	return dm, nil
}

func applyMappingFile(registry *mapping.Registry, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to read mapping file: %w", err)
	}
	defer f.Close()

	if err := registry.ApplyOverlay(f); err != nil {
		return fmt.Errorf("mapping file %s: %w", path, err)
	}
	return nil
}

// closeStorage closes store, or the backend it decorates, when it holds
// external resources.
func closeStorage(store storage.Storage) error {
	for store != nil {
		if c, ok := store.(storage.Closer); ok {
			return c.Close()
		}
		u, ok := store.(interface{ Unwrap() storage.Storage })
		if !ok {
			return nil
		}
		store = u.Unwrap()
	}
	return nil
}
