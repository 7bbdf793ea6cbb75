package database

import (
	"database/sql"
	"fmt"

	"connsync/internal/connectors"
	"connsync/internal/database/migrations"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// NewSQLiteDatabase opens a SQLite tracking database.
// path can be a file path or ":memory:" for an in-memory database.
func NewSQLiteDatabase(path string, clock connectors.Clock) (*SQLDatabase, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	return newSQLDatabase(db, migrations.SQLite, clock, path), nil
}

// OpenConnection opens and configures a SQLite connection with the PRAGMAs
// the schema relies on.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Every pooled connection to ":memory:" would be a separate database, and
	// SQLite serializes writers anyway.
	db.SetMaxOpenConns(1)

	// SQLite default is OFF for backward compatibility
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}
	return db, nil
}

// BackupTo writes a consistent copy of a SQLite database to destPath using VACUUM INTO.
func (s *SQLDatabase) BackupTo(destPath string) error {
	if s.dialect != migrations.SQLite {
		return fmt.Errorf("backup is only supported for sqlite databases")
	}
	if _, err := s.db.Exec("VACUUM INTO ?", destPath); err != nil {
		return fmt.Errorf("backing up database: %w", err)
	}
	return nil
}
