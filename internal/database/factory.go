package database

import (
	"fmt"
	"os"
	"path/filepath"

	"connsync/internal/config"
	"connsync/internal/connectors"
)

// NewDatabaseFromConfig creates a tracking database based on the database config type.
// In-memory databases are migrated on open; persistent ones must be migrated
// explicitly and are checked by the caller.
func NewDatabaseFromConfig(cfg config.DatabaseConfig, clock connectors.Clock) (*SQLDatabase, error) {
	switch cfg.Type {
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite database")
		}
		if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
			return nil, fmt.Errorf("creating data dir: %w", err)
		}
		return NewSQLiteDatabase(filepath.Join(cfg.DataDir, "connsync.db"), clock)
	case "postgres":
		if cfg.DSN == "" {
			return nil, fmt.Errorf("dsn required for postgres database")
		}
		return NewPostgresDatabase(cfg.DSN, clock)
	case "memory":
		db, err := NewSQLiteDatabase(":memory:", clock)
		if err != nil {
			return nil, err
		}
		if err := db.Migrate(); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrating memory database: %w", err)
		}
		return db, nil
	default:
		return nil, fmt.Errorf("unknown database type: %s", cfg.Type)
	}
}
