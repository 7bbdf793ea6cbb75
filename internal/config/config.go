package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the main configuration for connsync.
type Config struct {
	BaseDir  string         `toml:"base_dir"`
	LogDir   string         `toml:"log_dir"`
	EnvFile  string         `toml:"env_file,omitempty"`
	Database DatabaseConfig `toml:"database"`
	DocStore DocStoreConfig `toml:"docstore"`
	Cache    CacheConfig    `toml:"cache"`
	Temporal TemporalConfig `toml:"temporal"`
	Sync     SyncConfig     `toml:"sync"`
	API      APIConfig      `toml:"api"`
}

// DatabaseConfig represents configuration for the tracking database.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type DatabaseConfig struct {
	Type    string `toml:"type"`               // "sqlite", "postgres" or "memory"
	DataDir string `toml:"data_dir,omitempty"` // only used for type=sqlite
	DSN     string `toml:"dsn,omitempty"`      // only used for type=postgres
}

// DocStoreConfig represents configuration for the document store the engine
// writes into. Tagged union on Type.
type DocStoreConfig struct {
	Type string `toml:"type"` // "memory", "filesystem", "s3", "minio", "graph" or "http"

	// filesystem
	Root string `toml:"root,omitempty"`

	// s3 and minio
	Bucket    string `toml:"bucket,omitempty"`
	Prefix    string `toml:"prefix,omitempty"`
	Region    string `toml:"region,omitempty"`
	Endpoint  string `toml:"endpoint,omitempty"`
	AccessKey string `toml:"access_key,omitempty"`
	SecretKey string `toml:"secret_key,omitempty"`
	UseSSL    bool   `toml:"use_ssl,omitempty"`

	// graph (neo4j)
	URI      string `toml:"uri,omitempty"`
	Username string `toml:"username,omitempty"`
	Password string `toml:"password,omitempty"`

	// http
	BaseURL  string `toml:"base_url,omitempty"`
	TokenEnv string `toml:"token_env,omitempty"`

	Encryption EncryptionConfig `toml:"encryption"`
}

// EncryptionConfig holds paths to the age key pair used to encrypt document
// bodies in blob-backed stores. An empty Type disables encryption.
type EncryptionConfig struct {
	Type           string `toml:"type,omitempty"` // "", "age" or "test"
	PublicKeyPath  string `toml:"public_key_path,omitempty"`
	PrivateKeyPath string `toml:"private_key_path,omitempty"`
}

// CacheConfig configures the memo cache used by hierarchy walks.
type CacheConfig struct {
	Type      string `toml:"type"` // "memory" or "redis"
	RedisAddr string `toml:"redis_addr,omitempty"`
	TTL       string `toml:"ttl,omitempty"` // Go duration, defaults to 1h
}

// TemporalConfig configures the orchestration client and worker.
type TemporalConfig struct {
	HostPort                string `toml:"host_port"`
	Namespace               string `toml:"namespace"`
	TaskQueue               string `toml:"task_queue"`
	CronSchedule            string `toml:"cron_schedule,omitempty"`
	MaxConcurrentActivities int    `toml:"max_concurrent_activities"`
}

// SyncConfig tunes the sync engine.
type SyncConfig struct {
	Concurrency           int `toml:"concurrency"`
	PageSize              int `toml:"page_size"`
	IntercomRetentionDays int `toml:"intercom_retention_days"`
}

// APIConfig configures the admin/status HTTP server.
type APIConfig struct {
	ListenAddr string `toml:"listen_addr"`
}

// NewConfig creates a new Config rooted at baseDir with default settings.
func NewConfig(baseDir string) *Config {
	return &Config{
		BaseDir: baseDir,
		LogDir:  filepath.Join(baseDir, "log"),
		EnvFile: filepath.Join(baseDir, ".env"),
		Database: DatabaseConfig{
			Type:    "sqlite",
			DataDir: filepath.Join(baseDir, "db"),
		},
		DocStore: DocStoreConfig{
			Type: "filesystem",
			Root: filepath.Join(baseDir, "docstore"),
			Encryption: EncryptionConfig{
				PublicKeyPath:  filepath.Join(baseDir, "keys", "connsync.pub"),
				PrivateKeyPath: filepath.Join(baseDir, "keys", "connsync.key"),
			},
		},
		Cache: CacheConfig{Type: "memory", TTL: "1h"},
		Temporal: TemporalConfig{
			HostPort:                "localhost:7233",
			Namespace:               "default",
			TaskQueue:               "connsync",
			MaxConcurrentActivities: 10,
		},
		Sync: SyncConfig{
			Concurrency:           5,
			PageSize:              1024,
			IntercomRetentionDays: 90,
		},
		API: APIConfig{ListenAddr: "127.0.0.1:8080"},
	}
}

// Validate checks the tagged unions for unknown types and missing fields.
func (c *Config) Validate() error {
	switch c.Database.Type {
	case "sqlite":
		if c.Database.DataDir == "" {
			return fmt.Errorf("database: data_dir required for sqlite")
		}
	case "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("database: dsn required for postgres")
		}
	case "memory":
	default:
		return fmt.Errorf("database: unknown type %q", c.Database.Type)
	}

	d := c.DocStore
	switch d.Type {
	case "memory":
	case "filesystem":
		if d.Root == "" {
			return fmt.Errorf("docstore: root required for filesystem")
		}
	case "s3":
		if d.Bucket == "" {
			return fmt.Errorf("docstore: bucket required for s3")
		}
	case "minio":
		if d.Bucket == "" || d.Endpoint == "" {
			return fmt.Errorf("docstore: bucket and endpoint required for minio")
		}
	case "graph":
		if d.URI == "" {
			return fmt.Errorf("docstore: uri required for graph")
		}
	case "http":
		if d.BaseURL == "" {
			return fmt.Errorf("docstore: base_url required for http")
		}
	default:
		return fmt.Errorf("docstore: unknown type %q", d.Type)
	}

	switch c.Cache.Type {
	case "", "memory":
	case "redis":
		if c.Cache.RedisAddr == "" {
			return fmt.Errorf("cache: redis_addr required for redis")
		}
	default:
		return fmt.Errorf("cache: unknown type %q", c.Cache.Type)
	}

	if c.Sync.Concurrency < 0 || c.Sync.PageSize < 0 {
		return fmt.Errorf("sync: concurrency and page_size must not be negative")
	}
	return nil
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

func writeToFile(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init writes cfg to path, refusing to overwrite an existing file.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
