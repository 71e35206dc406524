package stoker

import (
	"time"
)

// Config consolidates engine settings.
type Config struct {
	Database DatabaseConfig `json:"database" yaml:"database"`
	Store    StoreConfig    `json:"store" yaml:"store"`
	Sync     SyncConfig     `json:"sync" yaml:"sync"`
	AuditLog AuditLogConfig `json:"auditLog" yaml:"auditLog"`
	Archive  ArchiveConfig  `json:"archive" yaml:"archive"`
	Logging  LoggingConfig  `json:"logging" yaml:"logging"`
}

// DatabaseConfig contains connection settings for the Postgres-backed
// document store.
type DatabaseConfig struct {
	Host            string        `json:"host" yaml:"host"`
	Port            int           `json:"port" yaml:"port"`
	Database        string        `json:"database" yaml:"database"`
	Username        string        `json:"username" yaml:"username"`
	Password        string        `json:"password" yaml:"password"`
	SSLMode         string        `json:"sslMode" yaml:"sslMode"`
	MaxConnections  int           `json:"maxConnections" yaml:"maxConnections"`
	ConnMaxLifetime time.Duration `json:"connMaxLifetime" yaml:"connMaxLifetime"`
	ConnMaxIdleTime time.Duration `json:"connMaxIdleTime" yaml:"connMaxIdleTime"`
	Timeout         time.Duration `json:"timeout" yaml:"timeout"`
	TableNames      TableNames    `json:"tableNames" yaml:"tableNames"`
}

// TableNames configures the physical tables backing the document store.
// Shadow, unique-index, and audit documents live in the documents table; they
// are ordinary documents addressed by path.
type TableNames struct {
	Documents string `json:"documents" yaml:"documents"`
}

// StoreConfig contains document-store behavior settings.
type StoreConfig struct {
	QueryTimeout time.Duration `json:"queryTimeout" yaml:"queryTimeout"`
	MaxBatchSize int           `json:"maxBatchSize" yaml:"maxBatchSize"`
}

// SyncConfig bounds the denormalization and uniqueness maintenance
// transactions.
type SyncConfig struct {
	ShadowRetry RetryPolicy `json:"shadowRetry" yaml:"shadowRetry"`
	UniqueRetry RetryPolicy `json:"uniqueRetry" yaml:"uniqueRetry"`
}

// AuditLogConfig controls the write audit log.
type AuditLogConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
	// TTLDays expires entries via the store's native TTL field. Zero keeps
	// entries forever.
	TTLDays int `json:"ttlDays" yaml:"ttlDays"`
}

// ArchiveConfig controls S3 archival of expired audit entries.
type ArchiveConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Bucket  string `json:"bucket" yaml:"bucket"`
	Prefix  string `json:"prefix" yaml:"prefix"`
	Region  string `json:"region" yaml:"region"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level            string `json:"level" yaml:"level"`
	Format           string `json:"format" yaml:"format"`
	LogDenials       bool   `json:"logDenials" yaml:"logDenials"`
	LogSyncFailures  bool   `json:"logSyncFailures" yaml:"logSyncFailures"`
	LogAllOperations bool   `json:"logAllOperations" yaml:"logAllOperations"`
	SanitizePayloads bool   `json:"sanitizePayloads" yaml:"sanitizePayloads"`
}

// DefaultConfig returns a default configuration.
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Host:            "localhost",
			Port:            5432,
			SSLMode:         "disable",
			MaxConnections:  25,
			ConnMaxLifetime: 5 * time.Minute,
			ConnMaxIdleTime: 5 * time.Minute,
			Timeout:         30 * time.Second,
			TableNames: TableNames{
				Documents: "stoker_documents",
			},
		},
		Store: StoreConfig{
			QueryTimeout: 30 * time.Second,
			MaxBatchSize: 500,
		},
		Sync: SyncConfig{
			ShadowRetry: RetryPolicy{MaxAttempts: 10, Backoff: 50 * time.Millisecond},
			UniqueRetry: RetryPolicy{MaxAttempts: 10, Backoff: 50 * time.Millisecond},
		},
		AuditLog: AuditLogConfig{
			Enabled: true,
			TTLDays: 90,
		},
		Archive: ArchiveConfig{
			Enabled: false,
			Prefix:  "write-log",
		},
		Logging: LoggingConfig{
			Level:            "info",
			Format:           "json",
			LogDenials:       true,
			LogSyncFailures:  true,
			SanitizePayloads: true,
		},
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Database.MaxConnections <= 0 {
		return &ConfigError{Field: "database.maxConnections", Message: "must be greater than 0"}
	}
	if c.Sync.ShadowRetry.MaxAttempts <= 0 {
		return &ConfigError{Field: "sync.shadowRetry.maxAttempts", Message: "must be greater than 0"}
	}
	if c.Sync.UniqueRetry.MaxAttempts <= 0 {
		return &ConfigError{Field: "sync.uniqueRetry.maxAttempts", Message: "must be greater than 0"}
	}
	if c.AuditLog.TTLDays < 0 {
		return &ConfigError{Field: "auditLog.ttlDays", Message: "must not be negative"}
	}
	if c.Archive.Enabled && c.Archive.Bucket == "" {
		return &ConfigError{Field: "archive.bucket", Message: "required when archive is enabled"}
	}
	return nil
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *ConfigError) Error() string {
	return "config validation error for field '" + e.Field + "': " + e.Message
}
