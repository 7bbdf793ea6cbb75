package database

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"connsync/internal/connectors"
	"connsync/internal/internalid"
	"connsync/internal/model"
)

type stubClock struct{ now time.Time }

func (c *stubClock) Now() time.Time { return c.now }

// newTestDB creates a new in-memory database with migrations applied.
func newTestDB(t *testing.T) (*SQLDatabase, *stubClock) {
	t.Helper()

	clock := &stubClock{now: time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)}
	db, err := NewSQLiteDatabase(":memory:", clock)
	if err != nil {
		t.Fatalf("failed to create database: %v", err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		t.Fatalf("failed to migrate: %v", err)
	}
	t.Cleanup(func() {
		db.Close()
	})
	return db, clock
}

func newTestConnector(t *testing.T, db *SQLDatabase, provider model.Provider, dataSource string) *model.Connector {
	t.Helper()
	c, err := db.CreateConnector(context.Background(), &model.Connector{
		Provider:     provider,
		WorkspaceID:  "w1",
		DataSourceID: dataSource,
		ConnectionID: "CONN",
		Config:       map[string]string{"subdomain": "acme"},
	})
	if err != nil {
		t.Fatalf("CreateConnector() error = %v", err)
	}
	return c
}

func TestSQLDatabase_Connectors(t *testing.T) {
	ctx := context.Background()

	t.Run("returns nil when connector not found", func(t *testing.T) {
		db, _ := newTestDB(t)

		c, err := db.FindConnector(ctx, 42)
		if err != nil {
			t.Fatalf("FindConnector() error = %v", err)
		}
		if c != nil {
			t.Errorf("FindConnector() = %v, want nil", c)
		}
	})

	t.Run("creates and finds connector with config", func(t *testing.T) {
		db, _ := newTestDB(t)
		created := newTestConnector(t, db, model.ProviderZendesk, "ds1")

		found, err := db.FindConnector(ctx, created.ID)
		if err != nil {
			t.Fatalf("FindConnector() error = %v", err)
		}
		if found.Provider != model.ProviderZendesk {
			t.Errorf("Provider = %q, want %q", found.Provider, model.ProviderZendesk)
		}
		if found.Setting("subdomain", "") != "acme" {
			t.Errorf("Config[subdomain] = %q, want %q", found.Setting("subdomain", ""), "acme")
		}
		if found.LastSyncStatus != "" {
			t.Errorf("LastSyncStatus = %q, want empty", found.LastSyncStatus)
		}
	})

	t.Run("rejects unknown provider", func(t *testing.T) {
		db, _ := newTestDB(t)
		if _, err := db.CreateConnector(ctx, &model.Connector{Provider: "dropbox", WorkspaceID: "w", DataSourceID: "d"}); err == nil {
			t.Error("CreateConnector() expected error for unknown provider")
		}
	})

	t.Run("rejects duplicate data source", func(t *testing.T) {
		db, _ := newTestDB(t)
		newTestConnector(t, db, model.ProviderPostgres, "ds1")
		if _, err := db.CreateConnector(ctx, &model.Connector{Provider: model.ProviderPostgres, WorkspaceID: "w1", DataSourceID: "ds1"}); err == nil {
			t.Error("CreateConnector() expected unique violation")
		}
	})

	t.Run("persists sync status and pause", func(t *testing.T) {
		db, clock := newTestDB(t)
		c := newTestConnector(t, db, model.ProviderGoogleDrive, "ds1")

		c.LastSyncStatus = model.SyncStatusFailed
		c.LastSyncFinishTime = sql.NullTime{Time: clock.now, Valid: true}
		c.ErrorType = "oauth_token_revoked"
		if err := db.UpdateConnectorSyncStatus(ctx, c); err != nil {
			t.Fatalf("UpdateConnectorSyncStatus() error = %v", err)
		}
		if err := db.SetConnectorPaused(ctx, c.ID, true); err != nil {
			t.Fatalf("SetConnectorPaused() error = %v", err)
		}

		got, _ := db.FindConnector(ctx, c.ID)
		if got.LastSyncStatus != model.SyncStatusFailed || got.ErrorType != "oauth_token_revoked" {
			t.Errorf("status = %q/%q", got.LastSyncStatus, got.ErrorType)
		}
		if !got.LastSyncFinishTime.Valid || !got.LastSyncFinishTime.Time.Equal(clock.now) {
			t.Errorf("LastSyncFinishTime = %v, want %v", got.LastSyncFinishTime, clock.now)
		}
		if !got.PausedAt.Valid {
			t.Error("PausedAt not set")
		}

		list, err := db.ListConnectors(ctx)
		if err != nil {
			t.Fatalf("ListConnectors() error = %v", err)
		}
		if len(list) != 1 {
			t.Errorf("len(ListConnectors()) = %d, want 1", len(list))
		}
	})
}

func TestSQLDatabase_Nodes(t *testing.T) {
	ctx := context.Background()

	t.Run("returns nil when node not found", func(t *testing.T) {
		db, _ := newTestDB(t)
		c := newTestConnector(t, db, model.ProviderGoogleDrive, "ds1")

		n, err := db.FindNode(ctx, c.ID, "missing")
		if err != nil {
			t.Fatalf("FindNode() error = %v", err)
		}
		if n != nil {
			t.Errorf("FindNode() = %v, want nil", n)
		}
	})

	t.Run("creates node and marks it upserted", func(t *testing.T) {
		db, clock := newTestDB(t)
		c := newTestConnector(t, db, model.ProviderGoogleDrive, "ds1")

		n, err := db.CreateNode(ctx, &model.Node{
			ConnectorID: c.ID,
			Kind:        string(internalid.KindDriveFile),
			InternalID:  "file1",
			Permission:  model.PermissionInherited,
		})
		if err != nil {
			t.Fatalf("CreateNode() error = %v", err)
		}
		if n.LastUpsertedAt.Valid {
			t.Error("new node should not be upserted")
		}
		if len(n.Parents) != 0 {
			t.Errorf("Parents = %v, want empty", n.Parents)
		}

		n.Title = "Budget"
		n.Parents = []string{"file1", "f1"}
		n.ParentInternalID = "f1"
		n.ContentHash = "h1"
		n.LastUpsertedAt = sql.NullTime{Time: clock.now, Valid: true}
		n.LastSeenAt = sql.NullTime{Time: clock.now, Valid: true}
		if err := db.MarkNodeUpserted(ctx, n); err != nil {
			t.Fatalf("MarkNodeUpserted() error = %v", err)
		}

		got, err := db.FindNode(ctx, c.ID, "file1")
		if err != nil {
			t.Fatalf("FindNode() error = %v", err)
		}
		if got.Title != "Budget" || got.ContentHash != "h1" || got.ParentInternalID != "f1" {
			t.Errorf("node = %+v", got)
		}
		if len(got.Parents) != 2 || got.Parents[1] != "f1" {
			t.Errorf("Parents = %v, want [file1 f1]", got.Parents)
		}
		if got.Anchor() != "f1" {
			t.Errorf("Anchor() = %q, want f1", got.Anchor())
		}

		if err := db.ClearNodeUpserted(ctx, got.ID); err != nil {
			t.Fatalf("ClearNodeUpserted() error = %v", err)
		}
		got, _ = db.FindNode(ctx, c.ID, "file1")
		if got.LastUpsertedAt.Valid {
			t.Error("LastUpsertedAt still set after ClearNodeUpserted")
		}
	})

	t.Run("set permission upserts grant row", func(t *testing.T) {
		db, _ := newTestDB(t)
		c := newTestConnector(t, db, model.ProviderPostgres, "ds1")

		n, err := db.SetNodePermission(ctx, c.ID, internalid.KindSchema, "db1.s1", model.PermissionRead)
		if err != nil {
			t.Fatalf("SetNodePermission() error = %v", err)
		}
		again, err := db.SetNodePermission(ctx, c.ID, internalid.KindSchema, "db1.s1", model.PermissionNone)
		if err != nil {
			t.Fatalf("SetNodePermission() second call error = %v", err)
		}
		if again.ID != n.ID {
			t.Errorf("second call created a new row: %d != %d", again.ID, n.ID)
		}
		if again.Permission != model.PermissionNone {
			t.Errorf("Permission = %q, want none", again.Permission)
		}

		if _, err := db.SetNodePermission(ctx, c.ID, internalid.KindSchema, "db1.s2", "owner"); err == nil {
			t.Error("SetNodePermission() expected error for invalid permission")
		}
	})

	t.Run("granted ids only include read and selected", func(t *testing.T) {
		db, _ := newTestDB(t)
		c := newTestConnector(t, db, model.ProviderPostgres, "ds1")
		other := newTestConnector(t, db, model.ProviderPostgres, "ds2")

		db.SetNodePermission(ctx, c.ID, internalid.KindDatabase, "db1", model.PermissionRead)
		db.SetNodePermission(ctx, c.ID, internalid.KindSchema, "db2.s", model.PermissionSelected)
		db.SetNodePermission(ctx, c.ID, internalid.KindSchema, "db3.s", model.PermissionNone)
		db.SetNodePermission(ctx, other.ID, internalid.KindDatabase, "db9", model.PermissionRead)

		ids, err := db.GrantedInternalIDs(ctx, c.ID)
		if err != nil {
			t.Fatalf("GrantedInternalIDs() error = %v", err)
		}
		if len(ids) != 2 || ids[0] != "db1" || ids[1] != "db2.s" {
			t.Errorf("GrantedInternalIDs() = %v, want [db1 db2.s]", ids)
		}
	})

	t.Run("list nodes filters and pages", func(t *testing.T) {
		db, clock := newTestDB(t)
		c := newTestConnector(t, db, model.ProviderGoogleDrive, "ds1")

		old := clock.now.Add(-time.Hour)
		for i, id := range []string{"a", "b", "c", "d"} {
			n, err := db.CreateNode(ctx, &model.Node{
				ConnectorID:      c.ID,
				Kind:             string(internalid.KindDriveFile),
				InternalID:       id,
				ParentInternalID: "f1",
				Permission:       model.PermissionInherited,
			})
			if err != nil {
				t.Fatalf("CreateNode(%s) error = %v", id, err)
			}
			seen := clock.now
			if i%2 == 0 {
				seen = old
			}
			if err := db.MarkNodeSeen(ctx, n.ID, seen); err != nil {
				t.Fatalf("MarkNodeSeen() error = %v", err)
			}
		}
		db.CreateNode(ctx, &model.Node{ConnectorID: c.ID, Kind: string(internalid.KindDriveFolder), InternalID: "f1", Permission: model.PermissionSelected})

		page, err := db.ListNodes(ctx, connectors.NodeQuery{
			ConnectorID: c.ID,
			Kinds:       []internalid.Kind{internalid.KindDriveFile},
			Limit:       3,
		})
		if err != nil {
			t.Fatalf("ListNodes() error = %v", err)
		}
		if len(page) != 3 {
			t.Fatalf("len(page) = %d, want 3", len(page))
		}
		rest, _ := db.ListNodes(ctx, connectors.NodeQuery{
			ConnectorID: c.ID,
			Kinds:       []internalid.Kind{internalid.KindDriveFile},
			AfterID:     page[2].ID,
			Limit:       3,
		})
		if len(rest) != 1 || rest[0].InternalID != "d" {
			t.Errorf("second page = %v, want [d]", rest)
		}

		stale, _ := db.ListNodes(ctx, connectors.NodeQuery{
			ConnectorID: c.ID,
			Kinds:       []internalid.Kind{internalid.KindDriveFile},
			SeenBefore:  clock.now.Add(-time.Minute),
		})
		if len(stale) != 2 || stale[0].InternalID != "a" || stale[1].InternalID != "c" {
			t.Errorf("stale nodes = %v, want [a c]", stale)
		}

		selected, _ := db.ListNodes(ctx, connectors.NodeQuery{
			ConnectorID: c.ID,
			Permissions: []model.Permission{model.PermissionSelected},
		})
		if len(selected) != 1 || selected[0].InternalID != "f1" {
			t.Errorf("selected nodes = %v, want [f1]", selected)
		}

		children, _ := db.ListNodes(ctx, connectors.NodeQuery{ConnectorID: c.ID, ParentInternalIDs: []string{"f1"}})
		if len(children) != 4 {
			t.Errorf("children of f1 = %d, want 4", len(children))
		}
	})

	t.Run("delete node", func(t *testing.T) {
		db, _ := newTestDB(t)
		c := newTestConnector(t, db, model.ProviderGoogleDrive, "ds1")
		n, _ := db.CreateNode(ctx, &model.Node{ConnectorID: c.ID, Kind: string(internalid.KindDriveFile), InternalID: "x", Permission: model.PermissionInherited})

		if err := db.DeleteNode(ctx, n.ID); err != nil {
			t.Fatalf("DeleteNode() error = %v", err)
		}
		got, _ := db.FindNode(ctx, c.ID, "x")
		if got != nil {
			t.Error("node still present after DeleteNode")
		}
	})
}

func TestSQLDatabase_Cursors(t *testing.T) {
	ctx := context.Background()
	db, _ := newTestDB(t)
	c := newTestConnector(t, db, model.ProviderZendesk, "ds1")

	got, err := db.GetCursor(ctx, c.ID, "articles")
	if err != nil {
		t.Fatalf("GetCursor() error = %v", err)
	}
	if got != nil {
		t.Fatalf("GetCursor() = %v, want nil", got)
	}

	if err := db.SetCursor(ctx, c.ID, "articles", "100"); err != nil {
		t.Fatalf("SetCursor() error = %v", err)
	}
	if err := db.SetCursor(ctx, c.ID, "articles", "200"); err != nil {
		t.Fatalf("SetCursor() overwrite error = %v", err)
	}
	got, _ = db.GetCursor(ctx, c.ID, "articles")
	if got == nil || got.Value != "200" {
		t.Fatalf("GetCursor() = %v, want value 200", got)
	}

	if err := db.ResetCursor(ctx, c.ID, "articles"); err != nil {
		t.Fatalf("ResetCursor() error = %v", err)
	}
	got, _ = db.GetCursor(ctx, c.ID, "articles")
	if got != nil {
		t.Errorf("GetCursor() after reset = %v, want nil", got)
	}

	if err := db.SetCursor(ctx, c.ID, "articles", "300"); err != nil {
		t.Fatalf("SetCursor() after reset error = %v", err)
	}
	got, _ = db.GetCursor(ctx, c.ID, "articles")
	if got == nil || got.Value != "300" || got.DeletedAt.Valid {
		t.Errorf("GetCursor() after revive = %+v", got)
	}
}

func TestSQLDatabase_PendingScopes(t *testing.T) {
	ctx := context.Background()
	db, _ := newTestDB(t)
	c := newTestConnector(t, db, model.ProviderGoogleDrive, "ds1")

	for _, p := range []*model.PendingScope{
		{ConnectorID: c.ID, ScopeType: "folder", ScopeID: "f1", Action: "added"},
		{ConnectorID: c.ID, ScopeType: "folder", ScopeID: "f2", Action: "added"},
		{ConnectorID: c.ID, ScopeType: "folder", ScopeID: "f1", Action: "removed"},
		{ConnectorID: c.ID, ScopeType: "team", ScopeID: "t1", Action: "added"},
	} {
		if err := db.AddPendingScope(ctx, p); err != nil {
			t.Fatalf("AddPendingScope() error = %v", err)
		}
	}

	got, err := db.TakePendingScopes(ctx, c.ID, "folder")
	if err != nil {
		t.Fatalf("TakePendingScopes() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len(TakePendingScopes()) = %d, want 2", len(got))
	}
	if got[0].ScopeID != "f1" || got[0].Action != "removed" {
		t.Errorf("first scope = %+v, want f1 removed", got[0])
	}

	again, _ := db.TakePendingScopes(ctx, c.ID, "folder")
	if len(again) != 0 {
		t.Errorf("scopes not consumed: %v", again)
	}
	teams, _ := db.TakePendingScopes(ctx, c.ID, "team")
	if len(teams) != 1 {
		t.Errorf("team scopes = %d, want 1", len(teams))
	}
}

func TestSQLDatabase_SyncOperations(t *testing.T) {
	ctx := context.Background()
	db, _ := newTestDB(t)
	c := newTestConnector(t, db, model.ProviderIntercom, "ds1")

	for _, wf := range []string{"wf-1", "wf-2"} {
		if _, err := db.CreateSyncOperation(ctx, &model.SyncOperation{ConnectorID: c.ID, WorkflowID: wf, Operation: "sync"}); err != nil {
			t.Fatalf("CreateSyncOperation() error = %v", err)
		}
		if err := db.FinishSyncOperations(ctx, c.ID, model.SyncStatusSucceeded, ""); err != nil {
			t.Fatalf("FinishSyncOperations() error = %v", err)
		}
	}
	if _, err := db.CreateSyncOperation(ctx, &model.SyncOperation{ConnectorID: c.ID, WorkflowID: "wf-3", Operation: "sync"}); err != nil {
		t.Fatalf("CreateSyncOperation() error = %v", err)
	}

	ops, err := db.ListSyncOperations(ctx, c.ID, 10)
	if err != nil {
		t.Fatalf("ListSyncOperations() error = %v", err)
	}
	if len(ops) != 3 {
		t.Fatalf("len(ops) = %d, want 3", len(ops))
	}
	if ops[0].WorkflowID != "wf-3" || ops[0].Status != "running" || ops[0].FinishedAt.Valid {
		t.Errorf("latest op = %+v, want running wf-3", ops[0])
	}
	if ops[1].Status != "succeeded" || !ops[1].FinishedAt.Valid {
		t.Errorf("older op = %+v, want finished", ops[1])
	}
}

func TestSQLDatabase_Rebind(t *testing.T) {
	s := &SQLDatabase{dialect: "postgres"}
	got := s.rebind("SELECT a FROM t WHERE x = ? AND y IN (?,?)")
	want := "SELECT a FROM t WHERE x = $1 AND y IN ($2,$3)"
	if got != want {
		t.Errorf("rebind() = %q, want %q", got, want)
	}

	s.dialect = "sqlite3"
	if got := s.rebind("x = ?"); got != "x = ?" {
		t.Errorf("rebind() for sqlite = %q", got)
	}
}

func TestSQLDatabase_BackupTo(t *testing.T) {
	db, _ := newTestDB(t)
	newTestConnector(t, db, model.ProviderPostgres, "ds1")

	dest := t.TempDir() + "/backup.db"
	if err := db.BackupTo(dest); err != nil {
		t.Fatalf("BackupTo() error = %v", err)
	}

	restored, err := NewSQLiteDatabase(dest, nil)
	if err != nil {
		t.Fatalf("opening backup: %v", err)
	}
	defer restored.Close()
	if err := restored.CheckMigrations(); err != nil {
		t.Errorf("backup CheckMigrations() error = %v", err)
	}
	list, err := restored.ListConnectors(context.Background())
	if err != nil {
		t.Fatalf("ListConnectors() error = %v", err)
	}
	if len(list) != 1 {
		t.Errorf("connectors in backup = %d, want 1", len(list))
	}
}
