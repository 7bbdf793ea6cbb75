package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestManager_ReadDocument(t *testing.T) {
	doc := `
base_dir = "/srv/connsync"
log_dir = "/srv/connsync/log"

[database]
type = "postgres"
dsn = "postgres://sync@localhost/connsync?sslmode=disable"

[docstore]
type = "minio"
bucket = "docs"
endpoint = "localhost:9000"

[docstore.encryption]
type = "age"
public_key_path = "/srv/connsync/keys/connsync.pub"

[cache]
type = "redis"
redis_addr = "localhost:6379"

[temporal]
host_port = "temporal:7233"
namespace = "sync"
task_queue = "connectors"
max_concurrent_activities = 4

[sync]
concurrency = 3
page_size = 500
intercom_retention_days = 30
`
	m := &Manager{}
	got, err := m.Read(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}

	if got.Database.Type != "postgres" {
		t.Errorf("Database.Type = %q, want %q", got.Database.Type, "postgres")
	}
	if got.DocStore.Endpoint != "localhost:9000" {
		t.Errorf("DocStore.Endpoint = %q, want %q", got.DocStore.Endpoint, "localhost:9000")
	}
	if got.DocStore.Encryption.Type != "age" {
		t.Errorf("DocStore.Encryption.Type = %q, want %q", got.DocStore.Encryption.Type, "age")
	}
	if got.Cache.RedisAddr != "localhost:6379" {
		t.Errorf("Cache.RedisAddr = %q", got.Cache.RedisAddr)
	}
	if got.Temporal.MaxConcurrentActivities != 4 {
		t.Errorf("Temporal.MaxConcurrentActivities = %d, want 4", got.Temporal.MaxConcurrentActivities)
	}
	if got.Sync.IntercomRetentionDays != 30 {
		t.Errorf("Sync.IntercomRetentionDays = %d, want 30", got.Sync.IntercomRetentionDays)
	}
	if err := got.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestNewConfig(t *testing.T) {
	cfg := NewConfig("/data/connsync")

	if cfg.BaseDir != "/data/connsync" {
		t.Errorf("BaseDir = %q, want %q", cfg.BaseDir, "/data/connsync")
	}
	if cfg.LogDir != "/data/connsync/log" {
		t.Errorf("LogDir = %q, want %q", cfg.LogDir, "/data/connsync/log")
	}
	if cfg.DocStore.Encryption.PublicKeyPath != "/data/connsync/keys/connsync.pub" {
		t.Errorf("PublicKeyPath = %q", cfg.DocStore.Encryption.PublicKeyPath)
	}
	if cfg.Temporal.MaxConcurrentActivities != 10 {
		t.Errorf("MaxConcurrentActivities = %d, want 10", cfg.Temporal.MaxConcurrentActivities)
	}
	if cfg.Sync.Concurrency != 5 {
		t.Errorf("Sync.Concurrency = %d, want 5", cfg.Sync.Concurrency)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() on defaults error = %v", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"unknown database", func(c *Config) { c.Database.Type = "mysql" }, "database: unknown type"},
		{"postgres without dsn", func(c *Config) { c.Database = DatabaseConfig{Type: "postgres"} }, "dsn required"},
		{"sqlite without data_dir", func(c *Config) { c.Database = DatabaseConfig{Type: "sqlite"} }, "data_dir required"},
		{"unknown docstore", func(c *Config) { c.DocStore.Type = "ftp" }, "docstore: unknown type"},
		{"s3 without bucket", func(c *Config) { c.DocStore.Type = "s3" }, "bucket required"},
		{"minio without endpoint", func(c *Config) { c.DocStore.Type = "minio"; c.DocStore.Bucket = "b" }, "endpoint required"},
		{"graph without uri", func(c *Config) { c.DocStore.Type = "graph" }, "uri required"},
		{"http without base url", func(c *Config) { c.DocStore.Type = "http" }, "base_url required"},
		{"redis without addr", func(c *Config) { c.Cache.Type = "redis" }, "redis_addr required"},
		{"negative concurrency", func(c *Config) { c.Sync.Concurrency = -1 }, "must not be negative"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig("/tmp/connsync")
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatalf("Validate() expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %q, want substring %q", err, tt.wantErr)
			}
		})
	}
}

func TestInit(t *testing.T) {
	t.Run("creates config file", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "connsync.toml")

		if err := Init(path, NewConfig(dir)); err != nil {
			t.Fatalf("Init() error = %v", err)
		}
		if _, err := os.Stat(path); err != nil {
			t.Fatalf("config file not created: %v", err)
		}
	})

	t.Run("fails if file already exists", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "connsync.toml")
		cfg := NewConfig(dir)

		if err := Init(path, cfg); err != nil {
			t.Fatalf("first Init() error = %v", err)
		}
		if err := Init(path, cfg); err == nil {
			t.Fatal("second Init() expected error")
		}
	})
}

func TestReadFromFile(t *testing.T) {
	t.Run("reads valid config", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "connsync.toml")
		cfg := NewConfig(dir)
		cfg.Database = DatabaseConfig{Type: "memory"}

		if err := Init(path, cfg); err != nil {
			t.Fatalf("Init() error = %v", err)
		}

		got, err := ReadFromFile(path)
		if err != nil {
			t.Fatalf("ReadFromFile() error = %v", err)
		}
		if got.Database.Type != "memory" {
			t.Errorf("Database.Type = %q, want %q", got.Database.Type, "memory")
		}
		if got.BaseDir != dir {
			t.Errorf("BaseDir = %q, want %q", got.BaseDir, dir)
		}
	})

	t.Run("returns error for missing file", func(t *testing.T) {
		if _, err := ReadFromFile("/nonexistent/path/connsync.toml"); err == nil {
			t.Fatal("ReadFromFile() expected error for missing file")
		}
	})
}
