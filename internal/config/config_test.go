package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if diff := cmp.Diff(DefaultConfig(), cfg); diff != "" {
		t.Fatalf("defaults mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadYAMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "medkb.yaml")
	body := `
storage:
  driver: sqlite
  sqlite_path: /tmp/kb.db
logging:
  level: debug
  format: json
inference:
  batch_limit: 3
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Storage.Driver != DriverSQLite || cfg.Storage.SQLitePath != "/tmp/kb.db" {
		t.Fatalf("unexpected storage config: %+v", cfg.Storage)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Fatalf("unexpected logging config: %+v", cfg.Logging)
	}
	if cfg.Inference.BatchLimit != 3 {
		t.Fatalf("expected batch limit 3, got %d", cfg.Inference.BatchLimit)
	}
	if cfg.Storage.CorpusPath != "data/knowledge_base.json" {
		t.Fatalf("unset fields should keep defaults, got %q", cfg.Storage.CorpusPath)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("MEDKB_STORAGE_DRIVER", "blob")
	t.Setenv("MEDKB_BLOB_DRIVER", "s3")
	t.Setenv("MEDKB_BLOB_S3_BUCKET", "kb")
	t.Setenv("MEDKB_BLOB_S3_PATH_STYLE", "true")
	t.Setenv("MEDKB_HTTP_ADDR", ":9090")
	t.Setenv("MEDKB_HISTORY_PATH", "/var/log/medkb/history.jsonl")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	want := S3Config{Bucket: "kb", PathStyle: true}
	if diff := cmp.Diff(want, cfg.Storage.Blob.S3); diff != "" {
		t.Fatalf("s3 config mismatch (-want +got):\n%s", diff)
	}
	if cfg.Storage.Driver != DriverBlob || cfg.Storage.Blob.Driver != "s3" {
		t.Fatalf("unexpected drivers: %+v", cfg.Storage)
	}
	if cfg.HTTP.Addr != ":9090" {
		t.Fatalf("expected :9090, got %s", cfg.HTTP.Addr)
	}
	if cfg.History.Path != "/var/log/medkb/history.jsonl" {
		t.Fatalf("unexpected history path %q", cfg.History.Path)
	}
}

func TestEnvOverrideParseErrors(t *testing.T) {
	t.Setenv("MEDKB_BATCH_LIMIT", "many")
	if _, err := Load(""); err == nil || !strings.Contains(err.Error(), "MEDKB_BATCH_LIMIT") {
		t.Fatalf("expected batch limit parse error, got %v", err)
	}
}

func TestValidateRejectsUnknownValues(t *testing.T) {
	cases := map[string]func(*Config){
		"driver":      func(c *Config) { c.Storage.Driver = "mongo" },
		"blob driver": func(c *Config) { c.Storage.Driver = DriverBlob; c.Storage.Blob.Driver = "gcs" },
		"s3 bucket":   func(c *Config) { c.Storage.Driver = DriverBlob; c.Storage.Blob.Driver = "s3" },
		"log format":  func(c *Config) { c.Logging.Format = "xml" },
		"batch limit": func(c *Config) { c.Inference.BatchLimit = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "medkb.yaml")
	cfg := DefaultConfig()
	cfg.Storage.Driver = DriverBadger
	if err := cfg.Save(path); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if diff := cmp.Diff(cfg, loaded); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
}
