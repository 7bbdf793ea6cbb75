package migrations

import (
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

func TestMigrateUp_FreshDatabase(t *testing.T) {
	db := openTestDB(t)

	if err := MigrateUp(db, SQLite); err != nil {
		t.Fatalf("MigrateUp() failed: %v", err)
	}

	tables := []string{"connectors", "nodes", "sync_cursors", "pending_scopes", "sync_operations", "schema_migrations"}
	for _, table := range tables {
		var name string
		err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		if err != nil {
			t.Errorf("Table %s was not created: %v", table, err)
		}
	}
}

func TestCheckDBMigrationStatus_FreshDatabase(t *testing.T) {
	db := openTestDB(t)

	err := CheckDBMigrationStatus(db, SQLite)
	if err == nil {
		t.Fatal("CheckDBMigrationStatus() expected error for fresh database, got nil")
	}
	if err.Error() != "database has no schema version (needs migration)" {
		t.Errorf("CheckDBMigrationStatus() error = %q, want error about needing migration", err.Error())
	}
}

func TestMigrateUp_Idempotent(t *testing.T) {
	db := openTestDB(t)

	if err := MigrateUp(db, SQLite); err != nil {
		t.Fatalf("First MigrateUp() failed: %v", err)
	}
	if err := MigrateUp(db, SQLite); err != nil {
		t.Errorf("Second MigrateUp() failed: %v (should be idempotent)", err)
	}
	if err := CheckDBMigrationStatus(db, SQLite); err != nil {
		t.Errorf("CheckDBMigrationStatus() after double migration returned error: %v", err)
	}
}

func TestMigrateUp_UnknownDialect(t *testing.T) {
	db := openTestDB(t)

	if err := MigrateUp(db, Dialect("mysql")); err == nil {
		t.Error("MigrateUp() expected error for unknown dialect")
	}
}

func TestSchema_NodesCascadeWithConnector(t *testing.T) {
	db := openTestDB(t)
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		t.Fatalf("Failed to enable foreign keys: %v", err)
	}
	if err := MigrateUp(db, SQLite); err != nil {
		t.Fatalf("MigrateUp() failed: %v", err)
	}

	res, err := db.Exec(`INSERT INTO connectors (provider, workspace_id, data_source_id, connection_id, created_at)
		VALUES ('google_drive', 'w1', 'ds1', 'conn', datetime('now'))`)
	if err != nil {
		t.Fatalf("inserting connector: %v", err)
	}
	connectorID, _ := res.LastInsertId()

	if _, err := db.Exec(`INSERT INTO nodes (connector_id, kind, internal_id, permission, created_at, updated_at)
		VALUES (?, 'gdrive_folder', 'f1', 'selected', datetime('now'), datetime('now'))`, connectorID); err != nil {
		t.Fatalf("inserting node: %v", err)
	}

	if _, err := db.Exec(`INSERT INTO nodes (connector_id, kind, internal_id, permission, created_at, updated_at)
		VALUES (?, 'gdrive_folder', 'f1', 'selected', datetime('now'), datetime('now'))`, connectorID); err == nil {
		t.Error("expected unique violation on (connector_id, internal_id)")
	}

	if _, err := db.Exec(`INSERT INTO nodes (connector_id, kind, internal_id, permission, created_at, updated_at)
		VALUES (?, 'gdrive_folder', 'f2', 'everything', datetime('now'), datetime('now'))`, connectorID); err == nil {
		t.Error("expected check violation for unknown permission")
	}

	if _, err := db.Exec(`INSERT INTO nodes (connector_id, kind, internal_id, permission, created_at, updated_at)
		VALUES (999, 'gdrive_folder', 'f3', 'selected', datetime('now'), datetime('now'))`); err == nil {
		t.Error("expected foreign key violation for unknown connector")
	}

	if _, err := db.Exec("DELETE FROM connectors WHERE id = ?", connectorID); err != nil {
		t.Fatalf("deleting connector: %v", err)
	}
	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM nodes").Scan(&count); err != nil {
		t.Fatalf("counting nodes: %v", err)
	}
	if count != 0 {
		t.Errorf("nodes after connector delete = %d, want 0", count)
	}
}

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}
