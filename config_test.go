package stoker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "stoker_documents", cfg.Database.TableNames.Documents)
	assert.True(t, cfg.AuditLog.Enabled)
	assert.False(t, cfg.Archive.Enabled)
}

func TestConfigValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"no connections", func(c *Config) { c.Database.MaxConnections = 0 }, "database.maxConnections"},
		{"no shadow retries", func(c *Config) { c.Sync.ShadowRetry.MaxAttempts = 0 }, "sync.shadowRetry.maxAttempts"},
		{"no unique retries", func(c *Config) { c.Sync.UniqueRetry.MaxAttempts = 0 }, "sync.uniqueRetry.maxAttempts"},
		{"negative ttl", func(c *Config) { c.AuditLog.TTLDays = -1 }, "auditLog.ttlDays"},
		{"archive without bucket", func(c *Config) { c.Archive.Enabled = true }, "archive.bucket"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			var ce *ConfigError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, tc.field, ce.Field)
		})
	}
}

func TestConfigYAMLRoundTrip(t *testing.T) {
	src := `
database:
  host: db.internal
  port: 5433
  maxConnections: 10
  tableNames:
    documents: docs
auditLog:
  enabled: true
  ttlDays: 14
archive:
  enabled: true
  bucket: audit-archive
  prefix: write-log
`
	cfg := DefaultConfig()
	require.NoError(t, yaml.Unmarshal([]byte(src), cfg))
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, 5433, cfg.Database.Port)
	assert.Equal(t, 10, cfg.Database.MaxConnections)
	assert.Equal(t, "docs", cfg.Database.TableNames.Documents)
	assert.Equal(t, 14, cfg.AuditLog.TTLDays)
	assert.Equal(t, "audit-archive", cfg.Archive.Bucket)
	// Untouched sections keep their defaults.
	assert.Equal(t, 10, cfg.Sync.ShadowRetry.MaxAttempts)
}
