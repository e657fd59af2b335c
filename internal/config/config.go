// Package config loads medkb settings from YAML with MEDKB_* environment overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds all medkb configuration.
type Config struct {
	Storage   StorageConfig   `yaml:"storage"`
	Logging   LoggingConfig   `yaml:"logging"`
	HTTP      HTTPConfig      `yaml:"http"`
	History   HistoryConfig   `yaml:"history"`
	Inference InferenceConfig `yaml:"inference"`
}

// StorageConfig selects the corpus backend.
type StorageConfig struct {
	Driver      string     `yaml:"driver"` // file, memory, blob, sqlite, postgres, badger
	CorpusPath  string     `yaml:"corpus_path"`
	SQLitePath  string     `yaml:"sqlite_path"`
	PostgresDSN string     `yaml:"postgres_dsn"`
	BadgerPath  string     `yaml:"badger_path"`
	Blob        BlobConfig `yaml:"blob"`
}

// BlobConfig configures revisioned corpus storage in a blob store.
type BlobConfig struct {
	Driver string   `yaml:"driver"` // fs, s3, memory
	FSRoot string   `yaml:"fs_root"`
	Prefix string   `yaml:"prefix"`
	Retain int      `yaml:"retain"`
	S3     S3Config `yaml:"s3"`
}

// S3Config configures the S3 blob driver. Credentials come from the default AWS chain.
type S3Config struct {
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint"`
	PathStyle bool   `yaml:"path_style"`
}

// LoggingConfig configures the zap logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, console
}

// HTTPConfig configures the HTTP adapter.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// HistoryConfig configures the search-history side channel. An empty path disables it.
type HistoryConfig struct {
	Path string `yaml:"path"`
}

// InferenceConfig tunes the service.
type InferenceConfig struct {
	BatchLimit int    `yaml:"batch_limit"`
	RulePrefix string `yaml:"rule_prefix"`
}

// Storage drivers.
const (
	DriverFile     = "file"
	DriverMemory   = "memory"
	DriverBlob     = "blob"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverBadger   = "badger"
)

// ValidDrivers lists the supported storage drivers.
var ValidDrivers = []string{DriverFile, DriverMemory, DriverBlob, DriverSQLite, DriverPostgres, DriverBadger}

// ValidBlobDrivers lists the supported blob drivers.
var ValidBlobDrivers = []string{"fs", "s3", "memory"}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Storage: StorageConfig{
			Driver:      DriverFile,
			CorpusPath:  "data/knowledge_base.json",
			SQLitePath:  "medkb.db",
			PostgresDSN: "postgres://localhost/medkb?sslmode=disable",
			BadgerPath:  "medkb.badger",
			Blob: BlobConfig{
				Driver: "fs",
				FSRoot: "./blobdata",
				Prefix: "corpus/",
			},
		},
		Logging: LoggingConfig{Level: "info", Format: "console"},
		HTTP:    HTTPConfig{Addr: ":8080"},
		Inference: InferenceConfig{
			BatchLimit: 8,
			RulePrefix: "R",
		},
	}
}

// Load reads path over the defaults and applies environment overrides. A
// missing file or empty path yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
		case os.IsNotExist(err):
		default:
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}
	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration as YAML.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

func (c *Config) applyEnvOverrides() error {
	str := func(name string, dst *string) {
		if v, ok := os.LookupEnv(name); ok && v != "" {
			*dst = v
		}
	}
	str("MEDKB_STORAGE_DRIVER", &c.Storage.Driver)
	str("MEDKB_CORPUS_PATH", &c.Storage.CorpusPath)
	str("MEDKB_SQLITE_PATH", &c.Storage.SQLitePath)
	str("MEDKB_POSTGRES_DSN", &c.Storage.PostgresDSN)
	str("MEDKB_BADGER_PATH", &c.Storage.BadgerPath)
	str("MEDKB_BLOB_DRIVER", &c.Storage.Blob.Driver)
	str("MEDKB_BLOB_FS_ROOT", &c.Storage.Blob.FSRoot)
	str("MEDKB_BLOB_PREFIX", &c.Storage.Blob.Prefix)
	str("MEDKB_BLOB_S3_BUCKET", &c.Storage.Blob.S3.Bucket)
	str("MEDKB_BLOB_S3_REGION", &c.Storage.Blob.S3.Region)
	str("MEDKB_BLOB_S3_ENDPOINT", &c.Storage.Blob.S3.Endpoint)
	str("MEDKB_LOG_LEVEL", &c.Logging.Level)
	str("MEDKB_LOG_FORMAT", &c.Logging.Format)
	str("MEDKB_HTTP_ADDR", &c.HTTP.Addr)
	// An explicitly empty MEDKB_HISTORY_PATH disables history.
	if v, ok := os.LookupEnv("MEDKB_HISTORY_PATH"); ok {
		c.History.Path = v
	}
	if v := os.Getenv("MEDKB_BLOB_S3_PATH_STYLE"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("MEDKB_BLOB_S3_PATH_STYLE: %w", err)
		}
		c.Storage.Blob.S3.PathStyle = b
	}
	if v := os.Getenv("MEDKB_BATCH_LIMIT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("MEDKB_BATCH_LIMIT: %w", err)
		}
		c.Inference.BatchLimit = n
	}
	return nil
}

// Validate checks enumerated settings.
func (c *Config) Validate() error {
	c.Storage.Driver = strings.ToLower(strings.TrimSpace(c.Storage.Driver))
	if !contains(ValidDrivers, c.Storage.Driver) {
		return fmt.Errorf("invalid storage driver: %s (valid: %v)", c.Storage.Driver, ValidDrivers)
	}
	if c.Storage.Driver == DriverBlob {
		if !contains(ValidBlobDrivers, c.Storage.Blob.Driver) {
			return fmt.Errorf("invalid blob driver: %s (valid: %v)", c.Storage.Blob.Driver, ValidBlobDrivers)
		}
		if c.Storage.Blob.Driver == "s3" && c.Storage.Blob.S3.Bucket == "" {
			return fmt.Errorf("blob driver s3 requires a bucket (set MEDKB_BLOB_S3_BUCKET)")
		}
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("invalid log format: %s (valid: json, console)", c.Logging.Format)
	}
	if c.Inference.BatchLimit < 1 {
		return fmt.Errorf("batch limit must be positive, got %d", c.Inference.BatchLimit)
	}
	return nil
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
