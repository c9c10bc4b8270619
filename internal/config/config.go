// ============================================================================
// litewal Configuration
// ============================================================================
//
// Package: internal/config
// File: config.go
// Purpose: Load the replicator's recognised options (spec.md §6) from
// a YAML file, overridable by environment variables for the handful
// of values spec.md's "Environment" note calls out as operator
// convenience (endpoint, bucket, db-id).
// ============================================================================

package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every recognised option from spec.md §6.
type Config struct {
	CreateBucketIfNotExists bool          `yaml:"create_bucket_if_not_exists"`
	VerifyCRC               bool          `yaml:"verify_crc"`
	UseCompression          bool          `yaml:"use_compression"`
	Endpoint                string        `yaml:"endpoint"`
	BucketName              string        `yaml:"bucket_name"`
	DBID                    string        `yaml:"db_id"`
	MaxFramesPerBatch       uint32        `yaml:"max_frames_per_batch"`
	MaxBatchInterval        time.Duration `yaml:"max_batch_interval"`
	Region                  string        `yaml:"region"`
	AccessKeyID             string        `yaml:"access_key_id"`
	SecretAccessKey         string        `yaml:"secret_access_key"`
}

// Default returns a Config populated with spec.md §6's documented
// defaults: verify_crc=true, max_frames_per_batch=64,
// max_batch_interval=15s.
func Default() Config {
	return Config{
		VerifyCRC:         true,
		MaxFramesPerBatch: 64,
		MaxBatchInterval:  15 * time.Second,
	}
}

// Load reads a YAML config file, starting from Default() so any
// field the file omits keeps its documented default, then applies
// environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}

	applyEnv(&cfg)

	if cfg.BucketName == "" {
		return Config{}, fmt.Errorf("config: bucket_name is required")
	}
	if cfg.MaxFramesPerBatch == 0 {
		cfg.MaxFramesPerBatch = 64
	}
	if cfg.MaxBatchInterval <= 0 {
		cfg.MaxBatchInterval = 15 * time.Second
	}
	return cfg, nil
}

// applyEnv overrides endpoint/bucket/db-id from the environment, per
// spec.md §6: "endpoint, bucket, db-id may be sourced from environment
// variables of corresponding names."
func applyEnv(cfg *Config) {
	if v := os.Getenv("LITEWAL_ENDPOINT"); v != "" {
		cfg.Endpoint = v
	}
	if v := os.Getenv("LITEWAL_BUCKET"); v != "" {
		cfg.BucketName = v
	}
	if v := os.Getenv("LITEWAL_DB_ID"); v != "" {
		cfg.DBID = v
	}
}

// DBName composes the object-key database name from db_id and the
// basename of the local database path (spec.md §6, supplemented by
// original_source/bottomless's db_id-prefixed naming; see SPEC_FULL.md
// §6).
func (c Config) DBName(dbBaseName string) string {
	if c.DBID == "" {
		return dbBaseName
	}
	return c.DBID + "-" + dbBaseName
}
