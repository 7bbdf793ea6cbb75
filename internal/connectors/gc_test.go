package connectors_test

import (
	"errors"
	"slices"
	"testing"
	"time"

	"connsync/internal/connectors"
	"connsync/internal/internalid"
	"connsync/internal/model"
)

var sweptKinds = []internalid.Kind{internalid.KindDatabase, internalid.KindTable}

func (f *engineFixture) sweep(t *testing.T, p connectors.SweepPolicy) connectors.SweepResult {
	t.Helper()
	p.ConnectorID = f.conn.ID
	if p.Kinds == nil {
		p.Kinds = sweptKinds
	}
	res, err := f.collector.Sweep(f.ctx, f.ds, p)
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	return res
}

func TestSweep_SeenBefore(t *testing.T) {
	f := newEngineFixture(t)
	f.grant(t, internalid.KindDatabase, "db1")
	f.grant(t, internalid.KindDatabase, "db2")
	f.grant(t, internalid.KindDatabase, "db3")
	f.reconcile(t,
		folder(internalid.KindDatabase, "db1"),
		folder(internalid.KindDatabase, "db3"),
		table("t1", "db1"),
		table("t2", "db1"),
	)

	f.clock.Advance(time.Hour)
	syncStart := f.clock.Now()
	f.reconcile(t, folder(internalid.KindDatabase, "db1"), table("t1", "db1"))

	res := f.sweep(t, connectors.SweepPolicy{SeenBefore: syncStart})
	if res.Removed != 1 || res.Revoked != 1 || res.More {
		t.Errorf("result = %+v, want t2 removed and db3 revoked", res)
	}
	if got := f.store.IDs(f.ds, connectors.ArtifactTable); !slices.Equal(got, []string{"t1"}) {
		t.Errorf("tables = %v, want [t1]", got)
	}
	if got := f.store.IDs(f.ds, connectors.ArtifactFolder); !slices.Equal(got, []string{"db1"}) {
		t.Errorf("folders = %v, want [db1]", got)
	}
	if f.row(t, "t2") != nil {
		t.Error("inherited row t2 survived")
	}
	// Explicit rows outlive the entity; the never synced grant is untouched.
	if n := f.row(t, "db3"); n == nil || n.LastUpsertedAt.Valid {
		t.Errorf("db3 row = %+v, want kept and not upserted", n)
	}
	if f.row(t, "db2") == nil {
		t.Error("db2 grant deleted")
	}
}

func TestSweep_KeepsExcludedRow(t *testing.T) {
	f := newEngineFixture(t)
	f.grant(t, internalid.KindDatabase, "db1")
	if _, err := f.db.SetNodePermission(f.ctx, f.conn.ID, internalid.KindTable, "t2", model.PermissionNone); err != nil {
		t.Fatalf("SetNodePermission(t2) error = %v", err)
	}
	f.reconcile(t, folder(internalid.KindDatabase, "db1"), table("t1", "db1"))

	f.clock.Advance(time.Hour)
	syncStart := f.clock.Now()
	f.reconcile(t, folder(internalid.KindDatabase, "db1"), table("t1", "db1"))

	res := f.sweep(t, connectors.SweepPolicy{SeenBefore: syncStart})
	if res.Removed != 0 || res.Revoked != 0 {
		t.Errorf("result = %+v, want nothing collected", res)
	}
	// Never visited because excluded; destroying it would re-enable inheritance.
	if n := f.row(t, "t2"); n == nil || n.Permission != model.PermissionNone {
		t.Errorf("t2 row = %+v, want kept with none", n)
	}
}

func TestSweep_Resolver(t *testing.T) {
	f := newEngineFixture(t)
	f.grant(t, internalid.KindDatabase, "db1")
	f.reconcile(t, folder(internalid.KindDatabase, "db1"), table("t1", "db1"))

	t.Run("granted anchors are kept", func(t *testing.T) {
		res := f.sweep(t, connectors.SweepPolicy{Resolver: connectors.NewResolver([]string{"db1"})})
		if res.Revoked != 0 || res.Examined != 2 {
			t.Errorf("result = %+v, want nothing revoked", res)
		}
	})

	t.Run("lost grant revokes the subtree", func(t *testing.T) {
		res := f.sweep(t, connectors.SweepPolicy{Resolver: connectors.NewResolver(nil)})
		if res.Revoked != 2 {
			t.Errorf("result = %+v, want 2 revoked", res)
		}
		if got := f.store.IDs(f.ds, connectors.ArtifactTable); len(got) != 0 {
			t.Errorf("tables = %v, want none", got)
		}
		if f.row(t, "t1") != nil {
			t.Error("inherited row t1 survived")
		}
		if n := f.row(t, "db1"); n == nil || n.LastUpsertedAt.Valid {
			t.Errorf("db1 row = %+v, want kept with upsert cleared", n)
		}
	})
}

func TestSweep_Limit(t *testing.T) {
	f := newEngineFixture(t)
	var items []connectors.Item
	for _, id := range []string{"t1", "t2", "t3", "t4", "t5"} {
		items = append(items, table(id))
	}
	f.reconcile(t, items...)
	f.clock.Advance(time.Hour)

	p := connectors.SweepPolicy{SeenBefore: f.clock.Now(), Limit: 2}
	removed, calls := 0, 0
	for {
		res := f.sweep(t, p)
		calls++
		removed += res.Removed
		if !res.More {
			break
		}
		p.AfterID = res.NextAfterID
	}
	if removed != 5 || calls != 3 {
		t.Errorf("removed %d rows in %d calls, want 5 in 3", removed, calls)
	}
}

func TestSweep_StoreFailureKeepsRow(t *testing.T) {
	for _, failing := range []string{"t1", "t2"} {
		t.Run(failing, func(t *testing.T) {
			f := newEngineFixture(t)
			// Separate calls pin the row id order.
			f.reconcile(t, table("t1"))
			f.reconcile(t, table("t2"))
			f.clock.Advance(time.Hour)
			f.store.FailOn("delete", failing, errors.New("unavailable"))

			res, err := f.collector.Sweep(f.ctx, f.ds, connectors.SweepPolicy{
				ConnectorID: f.conn.ID,
				Kinds:       sweptKinds,
				SeenBefore:  f.clock.Now(),
			})
			var storeErr *connectors.StoreError
			if !errors.As(err, &storeErr) {
				t.Fatalf("Sweep() error = %v, want StoreError", err)
			}
			if connectors.ErrorTypeOf(err) != connectors.ErrorTypeDocumentStore {
				t.Errorf("ErrorTypeOf() = %s", connectors.ErrorTypeOf(err))
			}
			if res.Removed != 1 || res.Examined != 2 {
				t.Errorf("result = %+v, want 1 removed of 2 examined", res)
			}
			if f.row(t, failing) == nil {
				t.Error("row deleted although the store delete failed")
			}
			other := "t1"
			if failing == "t1" {
				other = "t2"
			}
			if f.row(t, other) != nil {
				t.Errorf("%s not removed", other)
			}
		})
	}
}

func TestRevokeAll_StoreFailure(t *testing.T) {
	f := newEngineFixture(t)
	f.grant(t, internalid.KindDatabase, "db1")
	f.grant(t, internalid.KindDatabase, "db2")
	f.reconcile(t, folder(internalid.KindDatabase, "db1"), folder(internalid.KindDatabase, "db2"))
	f.store.FailOn("delete", "db1", errors.New("unavailable"))

	n, err := f.collector.RevokeAll(f.ctx, f.ds, f.conn.ID, sweptKinds)
	if connectors.ErrorTypeOf(err) != connectors.ErrorTypeDocumentStore {
		t.Fatalf("RevokeAll() error = %v, want document store error", err)
	}
	if n != 1 {
		t.Errorf("revoked = %d, want 1", n)
	}
	if !f.row(t, "db1").LastUpsertedAt.Valid {
		t.Error("db1 cleared although its delete failed")
	}
	if f.row(t, "db2").LastUpsertedAt.Valid {
		t.Error("db2 not revoked")
	}
}

func TestRevokeAll(t *testing.T) {
	f := newEngineFixture(t)
	f.grant(t, internalid.KindDatabase, "db1")
	f.grant(t, internalid.KindDatabase, "db2")
	f.reconcile(t, folder(internalid.KindDatabase, "db1"), table("t1", "db1"))

	n, err := f.collector.RevokeAll(f.ctx, f.ds, f.conn.ID, sweptKinds)
	if err != nil {
		t.Fatalf("RevokeAll() error = %v", err)
	}
	if n != 2 {
		t.Errorf("revoked = %d, want 2", n)
	}
	if f.store.Deletes() != 2 {
		t.Errorf("store deletes = %d, want 2", f.store.Deletes())
	}
	if f.row(t, "db1") == nil || f.row(t, "db2") == nil {
		t.Error("explicit grants must survive RevokeAll")
	}
	if f.row(t, "t1") != nil {
		t.Error("inherited row t1 survived")
	}
}

func TestRemove_DeletesExplicitRow(t *testing.T) {
	f := newEngineFixture(t)
	f.grant(t, internalid.KindDatabase, "db1")
	f.reconcile(t, folder(internalid.KindDatabase, "db1"))

	if err := f.collector.Remove(f.ctx, f.ds, f.row(t, "db1")); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if f.row(t, "db1") != nil {
		t.Error("row survived Remove")
	}
	if got, _ := f.store.GetFolder(f.ctx, f.ds, "db1"); got != nil {
		t.Errorf("folder survived Remove: %+v", got)
	}
}
