// Package config loads process configuration from COMMANDCORE_* environment
// variables.
package config

import (
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"
)

// Storage drivers accepted by COMMANDCORE_STORAGE_DRIVER.
const (
	StorageMemory   = "memory"
	StorageSQLite   = "sqlite"
	StoragePostgres = "postgres"
)

// Config is the full process configuration.
type Config struct {
	Storage Storage
	Blob    Blob
	Log     Log
	Metrics Metrics
}

// Storage selects and configures the repository backend.
type Storage struct {
	Driver      string `env:"COMMANDCORE_STORAGE_DRIVER" envDefault:"memory"`
	SQLitePath  string `env:"COMMANDCORE_SQLITE_PATH" envDefault:"commandcore.db"`
	PostgresDSN string `env:"COMMANDCORE_POSTGRES_DSN"`
}

// Blob selects and configures the archive blob store.
type Blob struct {
	Driver string `env:"COMMANDCORE_BLOB_DRIVER" envDefault:"fs"`
	FSRoot string `env:"COMMANDCORE_BLOB_FS_ROOT" envDefault:"./blobdata"`
	S3     S3
}

// S3 configures the S3 blob driver. Credentials come from the default AWS
// chain unless both static keys are set.
type S3 struct {
	Bucket          string `env:"COMMANDCORE_BLOB_S3_BUCKET"`
	Region          string `env:"COMMANDCORE_BLOB_S3_REGION" envDefault:"us-east-1"`
	Endpoint        string `env:"COMMANDCORE_BLOB_S3_ENDPOINT"`
	PathStyle       bool   `env:"COMMANDCORE_BLOB_S3_PATH_STYLE" envDefault:"false"`
	AccessKeyID     string `env:"AWS_ACCESS_KEY_ID"`
	SecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY"`
	SessionToken    string `env:"AWS_SESSION_TOKEN"`
}

// Log configures the zap logger.
type Log struct {
	Mode string `env:"COMMANDCORE_LOG_MODE" envDefault:"development"`
}

// Metrics configures the Prometheus recorder.
type Metrics struct {
	Namespace string `env:"COMMANDCORE_METRICS_NAMESPACE" envDefault:"commandcore"`
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Load parses and validates the process configuration.
func Load() (Config, error) {
	var cfg Config
	if err := ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks driver names and the settings each driver requires.
func (c Config) Validate() error {
	switch strings.ToLower(c.Storage.Driver) {
	case StorageMemory, StorageSQLite:
	case StoragePostgres:
		if strings.TrimSpace(c.Storage.PostgresDSN) == "" {
			return fmt.Errorf("COMMANDCORE_POSTGRES_DSN is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	switch strings.ToLower(c.Blob.Driver) {
	case "fs", "memory":
	case "s3":
		if strings.TrimSpace(c.Blob.S3.Bucket) == "" {
			return fmt.Errorf("COMMANDCORE_BLOB_S3_BUCKET is required for the s3 driver")
		}
	default:
		return fmt.Errorf("unknown blob driver %q", c.Blob.Driver)
	}
	return nil
}
