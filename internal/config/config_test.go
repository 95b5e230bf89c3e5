package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"portioncore/internal/blob"
	"portioncore/internal/core"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "portiond.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, core.DefaultAlertPolicy(), cfg.AlertPolicy())
	assert.Equal(t, core.DefaultQualityPolicy(), cfg.QualityPolicy())
	assert.Equal(t, core.StorageSQLite, cfg.StorageConfig().Driver)
	assert.Equal(t, blob.DriverFilesystem, cfg.BlobConfig().Driver)
}

func TestLoadYAMLOverDefaults(t *testing.T) {
	path := writeConfig(t, `
log_level: debug
sweep_interval: 90s
storage:
  driver: memory
blob:
  driver: s3
  s3:
    bucket: archive
    prefix: site-a
    path_style: true
audit:
  codec: msgpack
alerts:
  portion_low_threshold: 4
  expiry_warning: 12h
quality:
  good_ratio: 0.25
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 90*time.Second, cfg.SweepInterval)
	assert.Equal(t, ":9090", cfg.HTTPAddr)
	assert.Equal(t, core.StorageMemory, cfg.StorageConfig().Driver)
	bc := cfg.BlobConfig()
	assert.Equal(t, blob.DriverS3, bc.Driver)
	assert.Equal(t, "archive", bc.S3.Bucket)
	assert.True(t, bc.S3.PathStyle)
	assert.Equal(t, "msgpack", cfg.Audit.Codec)
	assert.True(t, cfg.Audit.Enabled)

	policy := cfg.AlertPolicy()
	assert.Equal(t, 4, policy.PortionLowThreshold)
	assert.Equal(t, 12*time.Hour, policy.ExpiryWarning)
	assert.Equal(t, 4*time.Hour, policy.ExpiryCritical)
	assert.Equal(t, core.QualityPolicy{PoorRatio: 0.8, FairRatio: 0.6, GoodRatio: 0.25}, cfg.QualityPolicy())

	level, err := cfg.SlogLevel()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, level)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "storage:\n  driver: memory\nlog_level: info\n")
	t.Setenv("PORTIONCORE_STORAGE_DRIVER", "sqlite")
	t.Setenv("PORTIONCORE_SQLITE_PATH", "/tmp/other.db")
	t.Setenv("PORTIONCORE_LOG_LEVEL", "warn")
	t.Setenv("PORTIONCORE_BLOB_DRIVER", "memory")
	t.Setenv("PORTIONCORE_SWEEP_INTERVAL", "30s")
	t.Setenv("PORTIONCORE_AUDIT_ENABLED", "false")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	assert.Equal(t, "/tmp/other.db", cfg.Storage.SQLitePath)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, "memory", cfg.Blob.Driver)
	assert.Equal(t, 30*time.Second, cfg.SweepInterval)
	assert.False(t, cfg.Audit.Enabled)
}

func TestLoadRejectsBadEnv(t *testing.T) {
	t.Setenv("PORTIONCORE_SWEEP_INTERVAL", "soon")
	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PORTIONCORE_SWEEP_INTERVAL")
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	_, err = Load(writeConfig(t, "storage: [unclosed"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"storage driver", func(c *Config) { c.Storage.Driver = "mongo" }, "storage: unknown driver"},
		{"postgres dsn", func(c *Config) { c.Storage.Driver = "postgres" }, "postgres requires postgres_dsn"},
		{"blob driver", func(c *Config) { c.Blob.Driver = "tape" }, "blob: unknown driver"},
		{"s3 bucket", func(c *Config) { c.Blob.Driver = "s3" }, "s3 requires a bucket"},
		{"codec", func(c *Config) { c.Audit.Codec = "xml" }, "audit: unknown codec"},
		{"log level", func(c *Config) { c.LogLevel = "loud" }, "log_level"},
		{"sweep", func(c *Config) { c.SweepInterval = 0 }, "sweep_interval"},
		{"threshold", func(c *Config) { c.Alerts.PortionLowThreshold = -1 }, "portion_low_threshold"},
		{"expiry order", func(c *Config) { c.Alerts.ExpiryCritical = 48 * time.Hour }, "expiry_critical"},
		{"quality order", func(c *Config) { c.Quality.GoodRatio = 0.7 }, "quality"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}
