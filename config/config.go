/*
config.go - Process configuration from the environment

SOURCES:
  Environment variables, optionally preloaded from a .env file by the CLI.
  Every variable has a default suitable for a local single-node install.

VARIABLES:
  DATABASE_PATH                    SQLite file (":memory:" allowed)
  HTTP_PORT                        API listen port
  BLOB_BACKEND                     fs | gcs | memory
  BLOB_DIR                         Root for the fs backend
  GCS_BUCKET, GCS_PREFIX           Target for the gcs backend
  GOOGLE_APPLICATION_CREDENTIALS   Service account key for gcs (optional)
  ARCHIVE_TIMEZONE                 IANA zone the date gates are evaluated in
  ARCHIVE_LOCALE                   fr | en, month names in snapshot paths
  ARCHIVE_WORKERS                  Parallel entity units per run
  STORE_TIMEOUT                    Deadline for each store call
  LOCK_TTL                         Lease of the per-period job lock
  SCHEDULER_ENABLED                Run jobs from the API process
  SCHEDULER_INTERVAL               Scheduler tick
  CORS_ALLOWED_ORIGINS             Comma-separated origins
  LOG_LEVEL, LOG_FORMAT, LOG_TIME_FORMAT, LOG_OUTPUT
*/
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/agencyops/ledger-archive/blob"
	"github.com/agencyops/ledger-archive/logger"
)

type Config struct {
	DatabasePath string
	HTTPPort     int

	// Blob storage
	BlobBackend        string
	BlobDir            string
	GCSBucket          string
	GCSPrefix          string
	GCSCredentialsFile string

	// Archival
	Timezone     string
	Locale       string
	Workers      int
	StoreTimeout time.Duration
	LockTTL      time.Duration

	// Scheduler
	SchedulerEnabled  bool
	SchedulerInterval time.Duration

	CORSAllowedOrigins []string

	// Logging Configuration
	LogLevel      string
	LogFormat     string
	LogTimeFormat string
	LogOutput     string

	location *time.Location
}

func Load() (*Config, error) {
	c := &Config{
		DatabasePath:       getEnv("DATABASE_PATH", "ledger.db"),
		BlobBackend:        getEnv("BLOB_BACKEND", "fs"),
		BlobDir:            getEnv("BLOB_DIR", "archives"),
		GCSBucket:          getEnv("GCS_BUCKET", ""),
		GCSPrefix:          getEnv("GCS_PREFIX", ""),
		GCSCredentialsFile: getEnv("GOOGLE_APPLICATION_CREDENTIALS", ""),
		Timezone:           getEnv("ARCHIVE_TIMEZONE", "UTC"),
		Locale:             getEnv("ARCHIVE_LOCALE", "fr"),
		CORSAllowedOrigins: splitList(getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:5173,http://localhost:8080")),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		LogFormat:          getEnv("LOG_FORMAT", "console"),
		LogTimeFormat:      getEnv("LOG_TIME_FORMAT", time.RFC3339),
		LogOutput:          getEnv("LOG_OUTPUT", "stderr"),
	}

	var err error
	if c.HTTPPort, err = getInt("HTTP_PORT", 8080); err != nil {
		return nil, err
	}
	if c.Workers, err = getInt("ARCHIVE_WORKERS", 4); err != nil {
		return nil, err
	}
	if c.StoreTimeout, err = getDuration("STORE_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if c.LockTTL, err = getDuration("LOCK_TTL", 15*time.Minute); err != nil {
		return nil, err
	}
	if c.SchedulerEnabled, err = getBool("SCHEDULER_ENABLED", true); err != nil {
		return nil, err
	}
	if c.SchedulerInterval, err = getDuration("SCHEDULER_INTERVAL", time.Hour); err != nil {
		return nil, err
	}

	if err := c.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return c, nil
}

func (c *Config) validate() error {
	if c.DatabasePath == "" {
		return fmt.Errorf("DATABASE_PATH is required")
	}
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("HTTP_PORT out of range: %d", c.HTTPPort)
	}
	switch c.BlobBackend {
	case "fs":
		if c.BlobDir == "" {
			return fmt.Errorf("BLOB_DIR is required for the fs backend")
		}
	case "gcs":
		if c.GCSBucket == "" {
			return fmt.Errorf("GCS_BUCKET is required for the gcs backend")
		}
	case "memory":
	default:
		return fmt.Errorf("BLOB_BACKEND must be fs, gcs or memory, got %q", c.BlobBackend)
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return fmt.Errorf("ARCHIVE_TIMEZONE: %w", err)
	}
	c.location = loc
	if c.Locale != "fr" && c.Locale != "en" {
		return fmt.Errorf("ARCHIVE_LOCALE must be fr or en, got %q", c.Locale)
	}
	if c.Workers < 1 {
		return fmt.Errorf("ARCHIVE_WORKERS must be at least 1")
	}
	if c.StoreTimeout <= 0 || c.LockTTL <= 0 || c.SchedulerInterval <= 0 {
		return fmt.Errorf("STORE_TIMEOUT, LOCK_TTL and SCHEDULER_INTERVAL must be positive")
	}
	return nil
}

// Location is the parsed ARCHIVE_TIMEZONE.
func (c *Config) Location() *time.Location {
	if c.location == nil {
		return time.UTC
	}
	return c.location
}

// GetLoggerConfig returns a logger configuration from the main config
func (c *Config) GetLoggerConfig() logger.LogConfig {
	return logger.LogConfig{
		Level:      c.LogLevel,
		Format:     c.LogFormat,
		TimeFormat: c.LogTimeFormat,
		Output:     c.LogOutput,
	}
}

// GetBlobConfig returns the blob backend selection.
func (c *Config) GetBlobConfig() blob.Config {
	return blob.Config{
		Backend:         c.BlobBackend,
		Dir:             c.BlobDir,
		Bucket:          c.GCSBucket,
		Prefix:          c.GCSPrefix,
		CredentialsFile: c.GCSCredentialsFile,
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func getBool(key string, def bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
