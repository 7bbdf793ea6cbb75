package testutil

import (
	"context"
	"testing"

	"connsync/internal/connectors"
	"connsync/internal/database"
	"connsync/internal/model"
)

// NewTestDatabase creates a new in-memory SQLite database with migrations applied.
// The database is automatically closed when the test completes.
func NewTestDatabase(t *testing.T, clock connectors.Clock) *database.SQLDatabase {
	t.Helper()

	db, err := database.NewSQLiteDatabase(":memory:", clock)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		t.Fatalf("failed to migrate database: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})
	return db
}

// NewTestConnector inserts a connector for provider with a unique data source.
func NewTestConnector(t *testing.T, db connectors.Database, provider model.Provider) *model.Connector {
	t.Helper()

	c, err := db.CreateConnector(context.Background(), &model.Connector{
		Provider:     provider,
		WorkspaceID:  "ws-test",
		DataSourceID: "ds-" + string(provider) + "-" + t.Name(),
		ConnectionID: "TEST_CONNECTION",
	})
	if err != nil {
		t.Fatalf("creating connector: %v", err)
	}
	return c
}
