// Package config loads the portiond configuration from YAML with
// PORTIONCORE_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"portioncore/internal/blob"
	"portioncore/internal/core"
	"portioncore/internal/infra/audit"
	"portioncore/pkg/domain"
)

// Config is the daemon configuration.
type Config struct {
	LogLevel      string        `yaml:"log_level"`
	HTTPAddr      string        `yaml:"http_addr"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
	Actor         string        `yaml:"actor"`
	Storage       Storage       `yaml:"storage"`
	Blob          Blob          `yaml:"blob"`
	Audit         Audit         `yaml:"audit"`
	Alerts        Alerts        `yaml:"alerts"`
	Quality       Quality       `yaml:"quality"`
}

// Storage selects the persistent store driver and its connection settings.
type Storage struct {
	Driver      string `yaml:"driver"`
	SQLitePath  string `yaml:"sqlite_path"`
	PostgresDSN string `yaml:"postgres_dsn"`
}

// Blob selects the blob driver used for audit archives and exports.
type Blob struct {
	Driver string `yaml:"driver"`
	FSRoot string `yaml:"fs_root"`
	S3     S3     `yaml:"s3"`
}

// S3 addresses the bucket used by the s3 blob driver.
type S3 struct {
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	Prefix    string `yaml:"prefix"`
	Endpoint  string `yaml:"endpoint"`
	PathStyle bool   `yaml:"path_style"`
}

// Audit controls the blob-backed audit archive.
type Audit struct {
	Enabled bool   `yaml:"enabled"`
	Codec   string `yaml:"codec"`
}

// Alerts tunes the low-portion and expiry alert thresholds.
type Alerts struct {
	PortionLowThreshold int           `yaml:"portion_low_threshold"`
	ExpiryWarning       time.Duration `yaml:"expiry_warning"`
	ExpiryCritical      time.Duration `yaml:"expiry_critical"`
}

// Quality holds the elapsed/max hour ratios above which a stock grades
// POOR, FAIR and GOOD.
type Quality struct {
	PoorRatio float64 `yaml:"poor_ratio"`
	FairRatio float64 `yaml:"fair_ratio"`
	GoodRatio float64 `yaml:"good_ratio"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	alerts := core.DefaultAlertPolicy()
	quality := core.DefaultQualityPolicy()
	return Config{
		LogLevel:      "info",
		HTTPAddr:      ":9090",
		SweepInterval: 5 * time.Minute,
		Actor:         domain.TriggeredBySystem,
		Storage:       Storage{Driver: string(core.StorageSQLite), SQLitePath: "./portioncore.db"},
		Blob:          Blob{Driver: string(blob.DriverFilesystem), FSRoot: "./blobdata"},
		Audit:         Audit{Enabled: true, Codec: string(audit.CodecJSON)},
		Alerts: Alerts{
			PortionLowThreshold: alerts.PortionLowThreshold,
			ExpiryWarning:       alerts.ExpiryWarning,
			ExpiryCritical:      alerts.ExpiryCritical,
		},
		Quality: Quality{PoorRatio: quality.PoorRatio, FairRatio: quality.FairRatio, GoodRatio: quality.GoodRatio},
	}
}

// Load reads path over the defaults, applies the environment and validates
// the result. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from set PORTIONCORE_* variables.
//
//	PORTIONCORE_LOG_LEVEL, PORTIONCORE_HTTP_ADDR, PORTIONCORE_SWEEP_INTERVAL
//	PORTIONCORE_STORAGE_DRIVER, PORTIONCORE_SQLITE_PATH, PORTIONCORE_POSTGRES_DSN
//	PORTIONCORE_BLOB_DRIVER, PORTIONCORE_BLOB_FS_ROOT, PORTIONCORE_BLOB_S3_*
//	PORTIONCORE_AUDIT_ENABLED, PORTIONCORE_AUDIT_CODEC
func (c *Config) ApplyEnv() error {
	override(&c.LogLevel, "PORTIONCORE_LOG_LEVEL")
	override(&c.HTTPAddr, "PORTIONCORE_HTTP_ADDR")
	override(&c.Storage.Driver, "PORTIONCORE_STORAGE_DRIVER")
	override(&c.Storage.SQLitePath, "PORTIONCORE_SQLITE_PATH")
	override(&c.Storage.PostgresDSN, "PORTIONCORE_POSTGRES_DSN")
	override(&c.Audit.Codec, "PORTIONCORE_AUDIT_CODEC")

	env := blob.ConfigFromEnv()
	overrideValue(&c.Blob.Driver, string(env.Driver))
	overrideValue(&c.Blob.FSRoot, env.FSRoot)
	overrideValue(&c.Blob.S3.Bucket, env.S3.Bucket)
	overrideValue(&c.Blob.S3.Region, env.S3.Region)
	overrideValue(&c.Blob.S3.Prefix, env.S3.Prefix)
	overrideValue(&c.Blob.S3.Endpoint, env.S3.Endpoint)
	if _, ok := os.LookupEnv("PORTIONCORE_BLOB_S3_PATH_STYLE"); ok {
		c.Blob.S3.PathStyle = env.S3.PathStyle
	}

	if v := os.Getenv("PORTIONCORE_SWEEP_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("PORTIONCORE_SWEEP_INTERVAL: %w", err)
		}
		c.SweepInterval = d
	}
	if v := os.Getenv("PORTIONCORE_AUDIT_ENABLED"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("PORTIONCORE_AUDIT_ENABLED: %w", err)
		}
		c.Audit.Enabled = enabled
	}
	return nil
}

// Validate rejects unknown drivers and codecs and impossible thresholds.
func (c Config) Validate() error {
	var errs []error
	if _, err := c.SlogLevel(); err != nil {
		errs = append(errs, err)
	}
	switch core.StorageDriver(c.Storage.Driver) {
	case core.StorageMemory, core.StorageSQLite:
	case core.StoragePostgres:
		if c.Storage.PostgresDSN == "" {
			errs = append(errs, errors.New("storage: postgres requires postgres_dsn"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage: unknown driver %q", c.Storage.Driver))
	}
	if d := blob.Driver(c.Blob.Driver); !d.Valid() {
		errs = append(errs, fmt.Errorf("blob: unknown driver %q", c.Blob.Driver))
	} else if d == blob.DriverS3 && c.Blob.S3.Bucket == "" {
		errs = append(errs, errors.New("blob: s3 requires a bucket"))
	}
	if !audit.Codec(c.Audit.Codec).Valid() {
		errs = append(errs, fmt.Errorf("audit: unknown codec %q", c.Audit.Codec))
	}
	if c.SweepInterval <= 0 {
		errs = append(errs, fmt.Errorf("sweep_interval must be positive, got %s", c.SweepInterval))
	}
	if c.Alerts.PortionLowThreshold < 0 {
		errs = append(errs, fmt.Errorf("alerts: negative portion_low_threshold %d", c.Alerts.PortionLowThreshold))
	}
	if c.Alerts.ExpiryCritical <= 0 || c.Alerts.ExpiryWarning < c.Alerts.ExpiryCritical {
		errs = append(errs, fmt.Errorf("alerts: need 0 < expiry_critical (%s) <= expiry_warning (%s)", c.Alerts.ExpiryCritical, c.Alerts.ExpiryWarning))
	}
	q := c.Quality
	if !(q.GoodRatio > 0 && q.GoodRatio < q.FairRatio && q.FairRatio < q.PoorRatio && q.PoorRatio <= 1) {
		errs = append(errs, fmt.Errorf("quality: need 0 < good_ratio < fair_ratio < poor_ratio <= 1, got %v/%v/%v", q.GoodRatio, q.FairRatio, q.PoorRatio))
	}
	return errors.Join(errs...)
}

// SlogLevel parses LogLevel.
func (c Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(c.LogLevel))); err != nil {
		return 0, fmt.Errorf("log_level: %w", err)
	}
	return level, nil
}

// StorageConfig converts the storage section for core.OpenPersistentStore.
func (c Config) StorageConfig() core.StorageConfig {
	return core.StorageConfig{
		Driver:      core.StorageDriver(c.Storage.Driver),
		SQLitePath:  c.Storage.SQLitePath,
		PostgresDSN: c.Storage.PostgresDSN,
	}
}

// BlobConfig converts the blob section for blob.Open.
func (c Config) BlobConfig() blob.Config {
	return blob.Config{
		Driver: blob.Driver(c.Blob.Driver),
		FSRoot: c.Blob.FSRoot,
		S3: blob.S3Config{
			Bucket:    c.Blob.S3.Bucket,
			Region:    c.Blob.S3.Region,
			Prefix:    c.Blob.S3.Prefix,
			Endpoint:  c.Blob.S3.Endpoint,
			PathStyle: c.Blob.S3.PathStyle,
		},
	}
}

func (c Config) AlertPolicy() core.AlertPolicy {
	return core.AlertPolicy{
		PortionLowThreshold: c.Alerts.PortionLowThreshold,
		ExpiryWarning:       c.Alerts.ExpiryWarning,
		ExpiryCritical:      c.Alerts.ExpiryCritical,
	}
}

func (c Config) QualityPolicy() core.QualityPolicy {
	return core.QualityPolicy{PoorRatio: c.Quality.PoorRatio, FairRatio: c.Quality.FairRatio, GoodRatio: c.Quality.GoodRatio}
}

func override(dst *string, key string) {
	overrideValue(dst, os.Getenv(key))
}

func overrideValue(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
