package config

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tendant/simple-blob/pkg/simpleblob"
	memoryrepo "github.com/tendant/simple-blob/pkg/simpleblob/repo/memory"
	pgrepo "github.com/tendant/simple-blob/pkg/simpleblob/repo/postgres"
	sqliterepo "github.com/tendant/simple-blob/pkg/simpleblob/repo/sqlite"
	fsstorage "github.com/tendant/simple-blob/pkg/simpleblob/storage/fs"
	"github.com/tendant/simple-blob/pkg/simpleblob/storage/hybrid"
	memorystorage "github.com/tendant/simple-blob/pkg/simpleblob/storage/memory"
	s3storage "github.com/tendant/simple-blob/pkg/simpleblob/storage/s3"
	"github.com/tendant/simple-blob/pkg/simpleblob/storage/versioned"
)

// Option applies configuration to a ServerConfig instance.
type Option func(*ServerConfig) error

// Load constructs a ServerConfig by applying the supplied options on top of
// library defaults.
func Load(opts ...Option) (*ServerConfig, error) {
	cfg := defaults()

	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func defaults() ServerConfig {
	return ServerConfig{
		Environment:           "development",
		DatabaseType:          "memory",
		DBSchema:              "blob",
		DefaultStorageBackend: "memory",
		StorageBackends: []StorageBackendConfig{
			{
				Name:   "memory",
				Type:   "memory",
				Config: map[string]interface{}{},
			},
		},
		EnableEventLogging: true,
	}
}

// ServerConfig represents configuration for the simple-blob service
type ServerConfig struct {
	Environment string // development, production, testing

	// Database configuration
	DatabaseURL  string
	DatabaseType string // "memory", "sqlite", "postgres"
	DatabasePath string // SQLite file path (":memory:" for ephemeral)
	DBSchema     string // Postgres schema to use (default: blob)

	// Storage configuration
	DefaultStorageBackend string
	StorageBackends       []StorageBackendConfig

	// Service options
	EnableEventLogging bool
}

// StorageBackendConfig represents configuration for a storage backend
type StorageBackendConfig struct {
	Name   string
	Type   string // "memory", "fs", "s3", "versioned", "hybrid"
	Config map[string]interface{}
}

// Validate validates the configuration
func (c *ServerConfig) Validate() error {
	switch c.DatabaseType {
	case "memory", "sqlite", "postgres":
	default:
		return errors.New("database_type must be 'memory', 'sqlite' or 'postgres'")
	}

	if c.DatabaseType == "postgres" && c.DatabaseURL == "" {
		return errors.New("database_url is required when using postgres")
	}
	if c.DatabaseType == "sqlite" && c.DatabasePath == "" {
		return errors.New("database_path is required when using sqlite")
	}

	found := false
	for _, backend := range c.StorageBackends {
		if backend.Name == c.DefaultStorageBackend {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("default storage backend '%s' not found in configured backends", c.DefaultStorageBackend)
	}

	return nil
}

// BuildService creates a Service instance from the configuration
func (c *ServerConfig) BuildService() (simpleblob.Service, error) {
	var options []simpleblob.Option

	repo, err := c.BuildRepository()
	if err != nil {
		return nil, fmt.Errorf("failed to build repository: %w", err)
	}
	options = append(options, simpleblob.WithRepository(repo))

	stores, err := c.buildStorageBackends()
	if err != nil {
		return nil, err
	}
	for name, store := range stores {
		options = append(options, simpleblob.WithStorageBackend(name, store))
	}
	options = append(options, simpleblob.WithDefaultBackend(c.DefaultStorageBackend))

	if c.EnableEventLogging {
		options = append(options, simpleblob.WithEventSink(simpleblob.NewSlogEventSink(nil)))
	}

	return simpleblob.New(options...)
}

// BuildRepository creates a Repository based on the configuration
func (c *ServerConfig) BuildRepository() (simpleblob.Repository, error) {
	switch c.DatabaseType {
	case "memory":
		return memoryrepo.New(), nil
	case "sqlite":
		return sqliterepo.Open(c.DatabasePath)
	case "postgres":
		if c.DatabaseURL == "" {
			return nil, errors.New("database_url is required for postgres")
		}
		cfg, err := pgxpool.ParseConfig(c.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse DATABASE_URL: %w", err)
		}
		schema := c.DBSchema
		cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
			if schema == "" {
				return nil
			}
			_, err := conn.Exec(ctx, fmt.Sprintf("SET search_path TO %s", schema))
			return err
		}
		pool, err := pgxpool.NewWithConfig(context.Background(), cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create pgx pool: %w", err)
		}
		return pgrepo.NewWithPool(pool), nil
	default:
		return nil, fmt.Errorf("unsupported database type: %s", c.DatabaseType)
	}
}

// PingPostgres verifies connectivity to Postgres and optionally sets
// search_path for the session. It fails if the schema (when provided) does
// not exist.
func PingPostgres(databaseURL, schema string) error {
	if databaseURL == "" {
		return errors.New("database_url is required")
	}
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return fmt.Errorf("failed to parse DATABASE_URL: %w", err)
	}
	if schema != "" {
		cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
			_, err := conn.Exec(ctx, fmt.Sprintf("SET search_path TO %s", schema))
			return err
		}
	}
	pool, err := pgxpool.NewWithConfig(context.Background(), cfg)
	if err != nil {
		return fmt.Errorf("failed to create pgx pool: %w", err)
	}
	defer pool.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	return nil
}

// buildStorageBackends builds every configured backend. Hybrid backends are
// resolved in a second pass so their children exist first.
func (c *ServerConfig) buildStorageBackends() (map[string]simpleblob.StorageBackend, error) {
	stores := make(map[string]simpleblob.StorageBackend)

	var hybrids []StorageBackendConfig
	for _, backendConfig := range c.StorageBackends {
		if backendConfig.Type == "hybrid" {
			hybrids = append(hybrids, backendConfig)
			continue
		}
		store, err := buildStorageBackend(backendConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to build storage backend %s: %w", backendConfig.Name, err)
		}
		stores[backendConfig.Name] = store
	}

	for _, backendConfig := range hybrids {
		store, err := buildHybridBackend(backendConfig, stores)
		if err != nil {
			return nil, fmt.Errorf("failed to build storage backend %s: %w", backendConfig.Name, err)
		}
		stores[backendConfig.Name] = store
	}

	return stores, nil
}

// buildStorageBackend creates a StorageBackend based on the backend configuration
func buildStorageBackend(config StorageBackendConfig) (simpleblob.StorageBackend, error) {
	switch config.Type {
	case "memory":
		return memorystorage.New(), nil

	case "fs":
		return fsstorage.New(fsstorage.Config{
			BaseDir: getString(config.Config, "base_dir", "./data/storage"),
		})

	case "versioned":
		return versioned.New(versioned.Config{
			BaseDir: getString(config.Config, "base_dir", "./data/versioned"),
		})

	case "s3":
		return s3storage.New(s3storage.Config{
			Region:                 getString(config.Config, "region", "us-east-1"),
			Bucket:                 getString(config.Config, "bucket", ""),
			AccessKeyID:            getString(config.Config, "access_key_id", ""),
			SecretAccessKey:        getString(config.Config, "secret_access_key", ""),
			Endpoint:               getString(config.Config, "endpoint", ""),
			UsePathStyle:           getBool(config.Config, "use_path_style", false),
			EnableSSE:              getBool(config.Config, "enable_sse", false),
			SSEAlgorithm:           getString(config.Config, "sse_algorithm", "AES256"),
			SSEKMSKeyID:            getString(config.Config, "sse_kms_key_id", ""),
			CreateBucketIfNotExist: getBool(config.Config, "create_bucket_if_not_exist", false),
		})

	default:
		return nil, fmt.Errorf("unsupported storage backend type: %s", config.Type)
	}
}

// buildHybridBackend resolves a hybrid backend's children by name from the
// already-built backends.
func buildHybridBackend(config StorageBackendConfig, stores map[string]simpleblob.StorageBackend) (simpleblob.StorageBackend, error) {
	smallName := getString(config.Config, "small_backend", "")
	largeName := getString(config.Config, "large_backend", "")

	small, ok := stores[smallName]
	if !ok {
		return nil, fmt.Errorf("small_backend %q is not a configured backend", smallName)
	}
	large, ok := stores[largeName]
	if !ok {
		return nil, fmt.Errorf("large_backend %q is not a configured backend", largeName)
	}

	return hybrid.New(hybrid.Config{
		Small:          small,
		Large:          large,
		LargeThreshold: int64(getInt(config.Config, "large_threshold", 0)),
	})
}

func getString(config map[string]interface{}, key string, defaultValue string) string {
	if value, exists := config[key]; exists {
		if str, ok := value.(string); ok {
			return str
		}
	}
	return defaultValue
}

func getBool(config map[string]interface{}, key string, defaultValue bool) bool {
	if value, exists := config[key]; exists {
		if b, ok := value.(bool); ok {
			return b
		}
		if str, ok := value.(string); ok {
			if b, err := strconv.ParseBool(str); err == nil {
				return b
			}
		}
	}
	return defaultValue
}

func getInt(config map[string]interface{}, key string, defaultValue int) int {
	if value, exists := config[key]; exists {
		if i, ok := value.(int); ok {
			return i
		}
		if str, ok := value.(string); ok {
			if i, err := strconv.Atoi(str); err == nil {
				return i
			}
		}
		if f, ok := value.(float64); ok {
			return int(f)
		}
	}
	return defaultValue
}
