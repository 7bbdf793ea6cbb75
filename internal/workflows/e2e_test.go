package workflows_test

import (
	"context"
	"testing"
	"time"

	"connsync/internal/connectors"
	"connsync/internal/docstore"
	"connsync/internal/internalid"
	"connsync/internal/model"
	"connsync/internal/providers/warehouse"
	"connsync/internal/testutil"
	"connsync/internal/workflows"
)

type warehouseHarness struct {
	db     connectors.Database
	store  *docstore.MemoryStore
	clock  *testutil.StubClock
	conn   *model.Connector
	client *warehouse.FakeClient
	acts   *workflows.Activities
}

func newWarehouseHarness(t *testing.T) *warehouseHarness {
	t.Helper()
	clock := testutil.FixedClock()
	db := testutil.NewTestDatabase(t, clock)
	store := testutil.NewTestDocumentStore(clock)
	logger := connectors.NewNopLogger()
	conn := testutil.NewTestConnector(t, db, model.ProviderSnowflake)
	client := warehouse.NewFakeClient(
		warehouse.Table{Database: "db1", Schema: "s1", Name: "t1"},
		warehouse.Table{Database: "db1", Schema: "s1", Name: "t2"},
	)
	h := &warehouseHarness{db: db, store: store, clock: clock, conn: conn, client: client}
	h.acts = &workflows.Activities{
		DB:        db,
		Status:    connectors.NewStatusTracker(db, clock, logger),
		Warehouse: warehouse.NewSyncer(db, store, logger, clock, 2),
		Dialers: workflows.Dialers{
			Warehouse: func(ctx context.Context, c *model.Connector) (warehouse.Client, error) { return client, nil },
		},
		Logger: logger,
	}
	if _, err := db.SetNodePermission(context.Background(), conn.ID, internalid.KindDatabase, "db1", model.PermissionRead); err != nil {
		t.Fatalf("SetNodePermission() error = %v", err)
	}
	return h
}

func (h *warehouseHarness) run(t *testing.T) error {
	t.Helper()
	h.clock.Advance(time.Hour)
	env := newEnv(t, h.acts)
	env.ExecuteWorkflow(workflows.WarehouseSyncWorkflow, workflows.SyncInput{ConnectorID: h.conn.ID})
	if !env.IsWorkflowCompleted() {
		t.Fatal("workflow did not complete")
	}
	return env.GetWorkflowError()
}

func (h *warehouseHarness) connector(t *testing.T) *model.Connector {
	t.Helper()
	c, err := h.db.FindConnector(context.Background(), h.conn.ID)
	if err != nil || c == nil {
		t.Fatalf("FindConnector() = %v, %v", c, err)
	}
	return c
}

func TestWarehouseSync_EndToEnd(t *testing.T) {
	h := newWarehouseHarness(t)

	if err := h.run(t); err != nil {
		t.Fatalf("first sync error = %v", err)
	}
	ds := connectors.DataSourceOf(h.conn)
	if got := h.store.IDs(ds, connectors.ArtifactTable); len(got) != 2 {
		t.Fatalf("tables after sync = %v, want 2", got)
	}
	c := h.connector(t)
	if c.LastSyncStatus != model.SyncStatusSucceeded || !c.FirstSuccessfulSyncTime.Valid {
		t.Errorf("connector status = %s, first success %v", c.LastSyncStatus, c.FirstSuccessfulSyncTime)
	}

	t.Run("credentials that can write revoke everything", func(t *testing.T) {
		h.client.SetReadOnly(false)

		err := h.run(t)
		if err == nil {
			t.Fatal("sync succeeded with writable credentials")
		}
		if got := workflows.ErrorType(err); got != connectors.ErrorTypeConnectionNotReadOnly {
			t.Errorf("ErrorType = %s, want %s", got, connectors.ErrorTypeConnectionNotReadOnly)
		}
		if got := h.store.IDs(ds, connectors.ArtifactTable); len(got) != 0 {
			t.Errorf("tables left after revoke: %v", got)
		}
		if got := h.store.IDs(ds, connectors.ArtifactFolder); len(got) != 0 {
			t.Errorf("folders left after revoke: %v", got)
		}
		c := h.connector(t)
		if c.LastSyncStatus != model.SyncStatusFailed || c.ErrorType != string(connectors.ErrorTypeConnectionNotReadOnly) {
			t.Errorf("connector status = %s, error type %q", c.LastSyncStatus, c.ErrorType)
		}
		grant, err := h.db.FindNode(context.Background(), h.conn.ID, "db1")
		if err != nil || grant == nil || grant.Permission != model.PermissionRead {
			t.Errorf("explicit grant = %+v, %v, want kept", grant, err)
		}
	})

	t.Run("read-only again syncs back", func(t *testing.T) {
		h.client.SetReadOnly(true)

		if err := h.run(t); err != nil {
			t.Fatalf("sync error = %v", err)
		}
		if got := h.store.IDs(ds, connectors.ArtifactTable); len(got) != 2 {
			t.Errorf("tables = %v, want 2", got)
		}
		if c := h.connector(t); c.LastSyncStatus != model.SyncStatusSucceeded || c.ErrorType != "" {
			t.Errorf("connector status = %s, error type %q", c.LastSyncStatus, c.ErrorType)
		}
	})
}
