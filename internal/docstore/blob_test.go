package docstore

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"connsync/internal/connectors"
	"connsync/internal/encryption"
)

func TestFileSystemStore(t *testing.T) {
	ctx := context.Background()

	t.Run("writes entries under data source", func(t *testing.T) {
		root := t.TempDir()
		s, err := NewFileSystemStore(root, nil, nil)
		if err != nil {
			t.Fatalf("NewFileSystemStore() error = %v", err)
		}

		tbl := connectors.Table{ID: "db1.s1.t1", Title: "t1", Parents: []string{"db1.s1.t1", "db1.s1", "db1"}, ParentID: "db1.s1"}
		if err := s.UpsertTable(ctx, testDS, tbl); err != nil {
			t.Fatalf("UpsertTable() error = %v", err)
		}
		if _, err := os.Stat(filepath.Join(root, "w1", "ds1", "table", "db1.s1.t1.json")); err != nil {
			t.Errorf("table file not written: %v", err)
		}

		got, err := s.GetTable(ctx, testDS, "db1.s1.t1")
		if err != nil {
			t.Fatalf("GetTable() error = %v", err)
		}
		if got == nil || got.ParentID != "db1.s1" || len(got.Parents) != 3 {
			t.Errorf("GetTable() = %+v", got)
		}

		if err := s.DeleteTable(ctx, testDS, "db1.s1.t1"); err != nil {
			t.Fatalf("DeleteTable() error = %v", err)
		}
		if err := s.DeleteTable(ctx, testDS, "db1.s1.t1"); err != nil {
			t.Errorf("second DeleteTable() error = %v", err)
		}
		got, _ = s.GetTable(ctx, testDS, "db1.s1.t1")
		if got != nil {
			t.Errorf("GetTable() after delete = %+v", got)
		}
	})

	t.Run("escapes ids", func(t *testing.T) {
		root := t.TempDir()
		s, _ := NewFileSystemStore(root, nil, nil)
		id := "a%2Eb/c"
		if err := s.UpsertFolder(ctx, testDS, connectors.Folder{ID: id, Parents: []string{id}}); err != nil {
			t.Fatalf("UpsertFolder() error = %v", err)
		}
		got, err := s.GetFolder(ctx, testDS, id)
		if err != nil || got == nil || got.ID != id {
			t.Errorf("GetFolder() = %+v, %v", got, err)
		}
	})

	t.Run("validate setup", func(t *testing.T) {
		s, _ := NewFileSystemStore(t.TempDir(), nil, nil)
		if err := s.ValidateSetup(ctx); err != nil {
			t.Errorf("ValidateSetup() error = %v", err)
		}
	})

	t.Run("encrypts document bodies", func(t *testing.T) {
		root := t.TempDir()
		enc := encryption.NewTestEncryptor()
		s, _ := NewFileSystemStore(root, nil, enc)
		doc := connectors.Document{ID: "zendesk-1-article-5", Title: "Refunds", Parents: []string{"zendesk-1-article-5"}, Content: "returns accepted"}
		if err := s.UpsertDocument(ctx, testDS, doc); err != nil {
			t.Fatalf("UpsertDocument() error = %v", err)
		}

		raw, err := os.ReadFile(filepath.Join(root, "w1", "ds1", "document", "zendesk-1-article-5.json"))
		if err != nil {
			t.Fatalf("reading raw entry: %v", err)
		}
		if !strings.Contains(string(raw), "CSENC:returns accepted") {
			t.Errorf("raw entry not sealed: %s", raw)
		}

		if _, _, err := s.ReadDocument(ctx, testDS, doc.ID, nil); err == nil {
			t.Error("ReadDocument() without key should fail")
		}
		dec, _ := enc.Unlock("")
		content, ok, err := s.ReadDocument(ctx, testDS, doc.ID, dec)
		if err != nil || !ok || content != "returns accepted" {
			t.Errorf("ReadDocument() = %q, %v, %v", content, ok, err)
		}

		_, ok, err = s.ReadDocument(ctx, testDS, "missing", dec)
		if err != nil || ok {
			t.Errorf("ReadDocument(missing) = %v, %v", ok, err)
		}
	})
}
