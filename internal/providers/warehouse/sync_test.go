package warehouse_test

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"connsync/internal/connectors"
	"connsync/internal/docstore"
	"connsync/internal/internalid"
	"connsync/internal/model"
	"connsync/internal/providers/warehouse"
	"connsync/internal/testutil"
)

type fixture struct {
	db     connectors.Database
	store  *docstore.MemoryStore
	clock  *testutil.StubClock
	conn   *model.Connector
	ds     connectors.DataSource
	syncer *warehouse.Syncer
}

func newFixture(t *testing.T, config map[string]string) *fixture {
	t.Helper()
	clock := testutil.FixedClock()
	db := testutil.NewTestDatabase(t, clock)
	conn, err := db.CreateConnector(context.Background(), &model.Connector{
		Provider:     model.ProviderSnowflake,
		WorkspaceID:  "w1",
		DataSourceID: "ds1",
		ConnectionID: "SNOWFLAKE_DSN",
		Config:       config,
	})
	if err != nil {
		t.Fatalf("creating connector: %v", err)
	}
	store := testutil.NewTestDocumentStore(clock)
	return &fixture{
		db:     db,
		store:  store,
		clock:  clock,
		conn:   conn,
		ds:     connectors.DataSourceOf(conn),
		syncer: warehouse.NewSyncer(db, store, connectors.NewNopLogger(), clock, 2),
	}
}

func (f *fixture) grant(t *testing.T, kind internalid.Kind, id string, perm model.Permission) {
	t.Helper()
	if _, err := f.db.SetNodePermission(context.Background(), f.conn.ID, kind, id, perm); err != nil {
		t.Fatalf("SetNodePermission(%s) error = %v", id, err)
	}
}

func (f *fixture) sync(t *testing.T, client warehouse.Client) warehouse.Result {
	t.Helper()
	f.clock.Advance(time.Hour)
	res, err := f.syncer.Sync(context.Background(), f.conn, client)
	if err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	return res
}

func (f *fixture) node(t *testing.T, id string) *model.Node {
	t.Helper()
	n, err := f.db.FindNode(context.Background(), f.conn.ID, id)
	if err != nil {
		t.Fatalf("FindNode(%s) error = %v", id, err)
	}
	return n
}

func (f *fixture) table(t *testing.T, id string) *connectors.StoredNode {
	t.Helper()
	got, err := f.store.GetTable(context.Background(), f.ds, id)
	if err != nil {
		t.Fatalf("GetTable(%s) error = %v", id, err)
	}
	return got
}

func TestSync_DatabaseGrant(t *testing.T) {
	f := newFixture(t, nil)
	f.grant(t, internalid.KindDatabase, "db1", model.PermissionRead)
	client := warehouse.NewFakeClient(
		warehouse.Table{Database: "db1", Schema: "s1", Name: "t1"},
		warehouse.Table{Database: "db2", Schema: "s1", Name: "t1"},
	)

	res := f.sync(t, client)

	if res.Tables != 1 {
		t.Errorf("Tables = %d, want 1", res.Tables)
	}
	got := f.table(t, "db1.s1.t1")
	if got == nil {
		t.Fatal("db1.s1.t1 not synced")
	}
	if want := []string{"db1.s1.t1", "db1.s1", "db1"}; !slices.Equal(got.Parents, want) {
		t.Errorf("parents = %v, want %v", got.Parents, want)
	}
	if got.ParentID != "db1.s1" {
		t.Errorf("ParentID = %q, want db1.s1", got.ParentID)
	}
	if f.table(t, "db2.s1.t1") != nil {
		t.Error("db2.s1.t1 should not be synced")
	}
	if f.node(t, "db2.s1.t1") != nil {
		t.Error("db2.s1.t1 should not be tracked")
	}

	schema, _ := f.store.GetFolder(context.Background(), f.ds, "db1.s1")
	if schema == nil || !slices.Equal(schema.Parents, []string{"db1.s1", "db1"}) {
		t.Errorf("schema folder = %+v", schema)
	}
	db, _ := f.store.GetFolder(context.Background(), f.ds, "db1")
	if db == nil || !slices.Equal(db.Parents, []string{"db1"}) {
		t.Errorf("database folder = %+v", db)
	}

	row := f.node(t, "db1.s1.t1")
	if row == nil || row.Permission != model.PermissionInherited || !row.LastUpsertedAt.Valid {
		t.Errorf("table row = %+v", row)
	}
	if grant := f.node(t, "db1"); grant.Permission != model.PermissionRead {
		t.Errorf("grant permission = %s, want read", grant.Permission)
	}
}

func TestSync_Idempotent(t *testing.T) {
	f := newFixture(t, nil)
	f.grant(t, internalid.KindDatabase, "db1", model.PermissionRead)
	client := warehouse.NewFakeClient(
		warehouse.Table{Database: "db1", Schema: "s1", Name: "t1"},
		warehouse.Table{Database: "db1", Schema: "s1", Name: "t2"},
	)

	first := f.sync(t, client)
	if first.Stats.Upserted != 4 {
		t.Errorf("first pass Upserted = %d, want 4", first.Stats.Upserted)
	}
	writes := f.store.Upserts()

	second := f.sync(t, client)
	if second.Stats.Upserted != 0 || second.Stats.Skipped != 4 {
		t.Errorf("second pass stats = %+v", second.Stats)
	}
	if f.store.Upserts() != writes {
		t.Errorf("store writes = %d, want %d", f.store.Upserts(), writes)
	}
	if second.Sweep.Removed != 0 || second.Sweep.Revoked != 0 {
		t.Errorf("second pass sweep = %+v", second.Sweep)
	}
}

func TestSync_SchemaGrantCascades(t *testing.T) {
	f := newFixture(t, nil)
	f.grant(t, internalid.KindSchema, "db1.s1", model.PermissionRead)
	client := warehouse.NewFakeClient(
		warehouse.Table{Database: "db1", Schema: "s1", Name: "t1"},
		warehouse.Table{Database: "db1", Schema: "s1", Name: "t2"},
		warehouse.Table{Database: "db1", Schema: "s2", Name: "t1"},
	)

	f.sync(t, client)

	for _, id := range []string{"db1.s1.t1", "db1.s1.t2"} {
		got := f.table(t, id)
		if got == nil || !slices.Equal(got.Parents, []string{id, "db1.s1"}) {
			t.Errorf("%s = %+v", id, got)
		}
	}
	if f.table(t, "db1.s2.t1") != nil {
		t.Error("db1.s2.t1 should not be synced")
	}
	if db, _ := f.store.GetFolder(context.Background(), f.ds, "db1"); db != nil {
		t.Error("database folder should not be written for a schema grant")
	}
}

func TestSync_TableRemovedUpstream(t *testing.T) {
	f := newFixture(t, nil)
	f.grant(t, internalid.KindDatabase, "db1", model.PermissionRead)
	client := warehouse.NewFakeClient(
		warehouse.Table{Database: "db1", Schema: "s1", Name: "t1"},
		warehouse.Table{Database: "db1", Schema: "s1", Name: "t2"},
	)
	f.sync(t, client)

	client.SetTables(warehouse.Table{Database: "db1", Schema: "s1", Name: "t1"})
	res := f.sync(t, client)

	if res.Sweep.Removed != 1 {
		t.Errorf("Removed = %d, want 1", res.Sweep.Removed)
	}
	if f.table(t, "db1.s1.t2") != nil {
		t.Error("t2 artifact should be deleted")
	}
	if f.node(t, "db1.s1.t2") != nil {
		t.Error("t2 row should be destroyed")
	}
	if f.table(t, "db1.s1.t1") == nil {
		t.Error("t1 should be untouched")
	}
}

func TestSync_GrantRevoked(t *testing.T) {
	f := newFixture(t, nil)
	f.grant(t, internalid.KindDatabase, "db1", model.PermissionRead)
	client := warehouse.NewFakeClient(warehouse.Table{Database: "db1", Schema: "s1", Name: "t1"})
	f.sync(t, client)

	f.grant(t, internalid.KindDatabase, "db1", model.PermissionNone)
	f.sync(t, client)

	if f.table(t, "db1.s1.t1") != nil {
		t.Error("table artifact should be deleted")
	}
	if f.node(t, "db1.s1.t1") != nil {
		t.Error("inherited table row should be destroyed")
	}
	grant := f.node(t, "db1")
	if grant == nil {
		t.Fatal("explicit row should be kept")
	}
	if grant.LastUpsertedAt.Valid {
		t.Error("explicit row should have LastUpsertedAt cleared")
	}
	if db, _ := f.store.GetFolder(context.Background(), f.ds, "db1"); db != nil {
		t.Error("database folder should be deleted")
	}
}

func TestSync_NotReadOnly(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.grant(t, internalid.KindDatabase, "db1", model.PermissionRead)
	f.grant(t, internalid.KindTable, "db2.s1.t1", model.PermissionSelected)
	client := warehouse.NewFakeClient(
		warehouse.Table{Database: "db1", Schema: "s1", Name: "t1"},
		warehouse.Table{Database: "db2", Schema: "s1", Name: "t1"},
	)
	f.sync(t, client)
	if f.table(t, "db2.s1.t1") == nil {
		t.Fatal("selected table should be synced")
	}

	client.SetReadOnly(false)
	_, err := f.syncer.Sync(ctx, f.conn, client)
	if !errors.Is(err, connectors.ErrConnectionNotReadOnly) {
		t.Fatalf("Sync() error = %v, want ErrConnectionNotReadOnly", err)
	}
	if got := connectors.ErrorTypeOf(err); got != connectors.ErrorTypeConnectionNotReadOnly {
		t.Errorf("ErrorTypeOf() = %s", got)
	}

	if _, err := f.syncer.RevokeAll(ctx, f.conn); err != nil {
		t.Fatalf("RevokeAll() error = %v", err)
	}

	if f.table(t, "db1.s1.t1") != nil || f.node(t, "db1.s1.t1") != nil {
		t.Error("inherited table should be garbage collected")
	}
	selected := f.node(t, "db2.s1.t1")
	if selected == nil {
		t.Fatal("selected table row should be retained")
	}
	if selected.LastUpsertedAt.Valid {
		t.Error("selected table should have LastUpsertedAt cleared")
	}
	if f.table(t, "db2.s1.t1") != nil {
		t.Error("selected table artifact should be deleted")
	}
}

func TestSync_ExcludePatterns(t *testing.T) {
	f := newFixture(t, map[string]string{"exclude": "tmp_*, db1/s2/*"})
	f.grant(t, internalid.KindDatabase, "db1", model.PermissionRead)
	client := warehouse.NewFakeClient(
		warehouse.Table{Database: "db1", Schema: "s1", Name: "orders"},
		warehouse.Table{Database: "db1", Schema: "s1", Name: "tmp_orders"},
		warehouse.Table{Database: "db1", Schema: "s2", Name: "events"},
	)

	res := f.sync(t, client)

	if res.Tables != 1 {
		t.Errorf("Tables = %d, want 1", res.Tables)
	}
	if f.table(t, "db1.s1.orders") == nil {
		t.Error("orders should be synced")
	}
	if f.table(t, "db1.s1.tmp_orders") != nil || f.table(t, "db1.s2.events") != nil {
		t.Error("excluded tables should not be synced")
	}
}

func TestSync_DeleteFailureKeepsRow(t *testing.T) {
	f := newFixture(t, nil)
	f.grant(t, internalid.KindDatabase, "db1", model.PermissionRead)
	client := warehouse.NewFakeClient(
		warehouse.Table{Database: "db1", Schema: "s1", Name: "t1"},
		warehouse.Table{Database: "db1", Schema: "s1", Name: "t2"},
	)
	f.sync(t, client)

	boom := errors.New("store unavailable")
	f.store.FailOn("delete", "db1.s1.t2", boom)
	client.SetTables(warehouse.Table{Database: "db1", Schema: "s1", Name: "t1"})
	f.clock.Advance(time.Hour)
	if _, err := f.syncer.Sync(context.Background(), f.conn, client); !errors.Is(err, boom) {
		t.Fatalf("Sync() error = %v, want %v", err, boom)
	}

	row := f.node(t, "db1.s1.t2")
	if row == nil || !row.LastUpsertedAt.Valid {
		t.Fatalf("row should be unchanged, got %+v", row)
	}

	f.store.FailOn("delete", "db1.s1.t2", nil)
	f.sync(t, client)
	if f.node(t, "db1.s1.t2") != nil {
		t.Error("row should be destroyed on retry")
	}
}

func TestSync_ListingError(t *testing.T) {
	f := newFixture(t, nil)
	f.grant(t, internalid.KindDatabase, "db1", model.PermissionRead)
	client := warehouse.NewFakeClient(warehouse.Table{Database: "db1", Schema: "s1", Name: "t1"})
	client.Err = &connectors.ProviderError{Provider: "snowflake", Kind: connectors.ProviderErrorTransient}

	_, err := f.syncer.Sync(context.Background(), f.conn, client)
	if err == nil {
		t.Fatal("Sync() expected error")
	}
	if connectors.IsPermanent(err) {
		t.Error("listing errors should be retryable")
	}
}
