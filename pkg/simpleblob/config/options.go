package config

import (
	"fmt"
)

// WithEnvironment sets the environment (development, production, testing)
func WithEnvironment(env string) Option {
	return func(c *ServerConfig) error {
		if env == "" {
			return fmt.Errorf("environment cannot be empty")
		}
		c.Environment = env
		return nil
	}
}

// WithDatabase configures the database backend
func WithDatabase(dbType, url string) Option {
	return func(c *ServerConfig) error {
		switch dbType {
		case "memory":
		case "postgres":
			if url == "" {
				return fmt.Errorf("database URL is required for postgres")
			}
		default:
			return fmt.Errorf("database type must be 'memory', 'sqlite' or 'postgres', got: %s", dbType)
		}
		c.DatabaseType = dbType
		c.DatabaseURL = url
		return nil
	}
}

// WithSQLiteDatabase configures a SQLite-backed repository.
// Use ":memory:" for an ephemeral database.
func WithSQLiteDatabase(path string) Option {
	return func(c *ServerConfig) error {
		if path == "" {
			return fmt.Errorf("SQLite database path cannot be empty")
		}
		c.DatabaseType = "sqlite"
		c.DatabasePath = path
		return nil
	}
}

// WithDatabaseSchema sets the database schema (for Postgres)
func WithDatabaseSchema(schema string) Option {
	return func(c *ServerConfig) error {
		c.DBSchema = schema
		return nil
	}
}

// WithDefaultStorage sets the default storage backend name
func WithDefaultStorage(name string) Option {
	return func(c *ServerConfig) error {
		if name == "" {
			return fmt.Errorf("default storage backend name cannot be empty")
		}
		c.DefaultStorageBackend = name
		return nil
	}
}

// WithMemoryStorage adds a memory storage backend (for testing)
// If name is empty, defaults to "memory"
func WithMemoryStorage(name string) Option {
	return func(c *ServerConfig) error {
		if name == "" {
			name = "memory"
		}

		backend := StorageBackendConfig{
			Name:   name,
			Type:   "memory",
			Config: map[string]interface{}{},
		}

		c.StorageBackends = upsertStorageBackend(c.StorageBackends, backend)
		return nil
	}
}

// WithFilesystemStorage adds a filesystem storage backend
// If name is empty, defaults to "fs"
func WithFilesystemStorage(name, baseDir string) Option {
	return func(c *ServerConfig) error {
		if name == "" {
			name = "fs"
		}
		if baseDir == "" {
			return fmt.Errorf("filesystem base directory cannot be empty")
		}

		backend := StorageBackendConfig{
			Name: name,
			Type: "fs",
			Config: map[string]interface{}{
				"base_dir": baseDir,
			},
		}

		c.StorageBackends = upsertStorageBackend(c.StorageBackends, backend)
		return nil
	}
}

// WithVersionedStorage adds an append-only versioned storage backend
// If name is empty, defaults to "versioned"
func WithVersionedStorage(name, baseDir string) Option {
	return func(c *ServerConfig) error {
		if name == "" {
			name = "versioned"
		}
		if baseDir == "" {
			return fmt.Errorf("versioned base directory cannot be empty")
		}

		backend := StorageBackendConfig{
			Name: name,
			Type: "versioned",
			Config: map[string]interface{}{
				"base_dir": baseDir,
			},
		}

		c.StorageBackends = upsertStorageBackend(c.StorageBackends, backend)
		return nil
	}
}

// WithS3Storage adds an S3 storage backend
// If name is empty, defaults to "s3"
func WithS3Storage(name, bucket, region string) Option {
	return func(c *ServerConfig) error {
		if name == "" {
			name = "s3"
		}
		if bucket == "" {
			return fmt.Errorf("S3 bucket cannot be empty")
		}
		if region == "" {
			region = "us-east-1"
		}

		backend := StorageBackendConfig{
			Name: name,
			Type: "s3",
			Config: map[string]interface{}{
				"bucket": bucket,
				"region": region,
			},
		}

		c.StorageBackends = upsertStorageBackend(c.StorageBackends, backend)
		return nil
	}
}

// WithS3Credentials sets AWS credentials for S3 storage
func WithS3Credentials(name, accessKeyID, secretAccessKey string) Option {
	return func(c *ServerConfig) error {
		if name == "" {
			name = "s3"
		}

		for i := range c.StorageBackends {
			if c.StorageBackends[i].Name == name && c.StorageBackends[i].Type == "s3" {
				c.StorageBackends[i].Config["access_key_id"] = accessKeyID
				c.StorageBackends[i].Config["secret_access_key"] = secretAccessKey
				return nil
			}
		}

		backend := StorageBackendConfig{
			Name: name,
			Type: "s3",
			Config: map[string]interface{}{
				"access_key_id":     accessKeyID,
				"secret_access_key": secretAccessKey,
			},
		}
		c.StorageBackends = append(c.StorageBackends, backend)
		return nil
	}
}

// WithS3Endpoint sets a custom S3 endpoint (for MinIO, LocalStack, etc.)
func WithS3Endpoint(name, endpoint string, usePathStyle bool) Option {
	return func(c *ServerConfig) error {
		if name == "" {
			name = "s3"
		}

		for i := range c.StorageBackends {
			if c.StorageBackends[i].Name == name && c.StorageBackends[i].Type == "s3" {
				c.StorageBackends[i].Config["endpoint"] = endpoint
				c.StorageBackends[i].Config["use_path_style"] = usePathStyle
				return nil
			}
		}

		backend := StorageBackendConfig{
			Name: name,
			Type: "s3",
			Config: map[string]interface{}{
				"endpoint":       endpoint,
				"use_path_style": usePathStyle,
			},
		}
		c.StorageBackends = append(c.StorageBackends, backend)
		return nil
	}
}

// WithHybridStorage adds a hybrid storage backend that routes writes between
// two previously configured backends by size and content type.
// If name is empty, defaults to "hybrid". A largeThreshold of 0 keeps the
// backend's built-in default.
func WithHybridStorage(name, smallBackend, largeBackend string, largeThreshold int64) Option {
	return func(c *ServerConfig) error {
		if name == "" {
			name = "hybrid"
		}
		if smallBackend == "" || largeBackend == "" {
			return fmt.Errorf("hybrid storage requires both small_backend and large_backend names")
		}

		backend := StorageBackendConfig{
			Name: name,
			Type: "hybrid",
			Config: map[string]interface{}{
				"small_backend": smallBackend,
				"large_backend": largeBackend,
			},
		}
		if largeThreshold > 0 {
			backend.Config["large_threshold"] = int(largeThreshold)
		}

		c.StorageBackends = upsertStorageBackend(c.StorageBackends, backend)
		return nil
	}
}

// WithEventLogging enables or disables event logging
func WithEventLogging(enabled bool) Option {
	return func(c *ServerConfig) error {
		c.EnableEventLogging = enabled
		return nil
	}
}
