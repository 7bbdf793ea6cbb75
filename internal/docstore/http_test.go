package docstore

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"connsync/internal/connectors"
	"connsync/internal/providers/httpclient"
)

// fakeCoreAPI is a minimal in-process document store service.
type fakeCoreAPI struct {
	mu      sync.Mutex
	entries map[string]record
}

func (f *fakeCoreAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if r.URL.Path == "/v1/health" {
		w.WriteHeader(http.StatusOK)
		return
	}
	if r.Header.Get("Authorization") != "Bearer core-token" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	key := strings.TrimPrefix(r.URL.EscapedPath(), "/v1/w/")
	switch r.Method {
	case http.MethodPost:
		var rec record
		if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f.entries[key] = rec
	case http.MethodGet:
		rec, ok := f.entries[key]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		json.NewEncoder(w).Encode(rec)
	case http.MethodDelete:
		if _, ok := f.entries[key]; !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		delete(f.entries, key)
	}
}

func TestHTTPStore(t *testing.T) {
	ctx := context.Background()
	api := &fakeCoreAPI{entries: map[string]record{}}
	srv := httptest.NewServer(api)
	defer srv.Close()

	s := NewHTTPStore(srv.URL, httpclient.StaticToken("core-token"), srv.Client())

	if err := s.ValidateSetup(ctx); err != nil {
		t.Fatalf("ValidateSetup() error = %v", err)
	}

	folder := connectors.Folder{ID: "intercom-1-help-center-9", Title: "Help", Parents: []string{"intercom-1-help-center-9"}}
	if err := s.UpsertFolder(ctx, testDS, folder); err != nil {
		t.Fatalf("UpsertFolder() error = %v", err)
	}
	if _, ok := api.entries["w1/data_sources/ds1/folders/intercom-1-help-center-9"]; !ok {
		t.Errorf("entry not posted, have %v", api.entries)
	}

	got, err := s.GetFolder(ctx, testDS, folder.ID)
	if err != nil {
		t.Fatalf("GetFolder() error = %v", err)
	}
	if got == nil || got.Title != "Help" || got.ContentHash == "" {
		t.Errorf("GetFolder() = %+v", got)
	}

	if err := s.DeleteFolder(ctx, testDS, folder.ID); err != nil {
		t.Fatalf("DeleteFolder() error = %v", err)
	}
	if err := s.DeleteFolder(ctx, testDS, folder.ID); err != nil {
		t.Errorf("DeleteFolder() of absent entry error = %v", err)
	}
	got, err = s.GetFolder(ctx, testDS, folder.ID)
	if err != nil || got != nil {
		t.Errorf("GetFolder() after delete = %+v, %v", got, err)
	}

	bad := NewHTTPStore(srv.URL, httpclient.StaticToken("wrong"), srv.Client())
	err = bad.UpsertFolder(ctx, testDS, folder)
	if !connectors.IsAuthRevoked(err) {
		t.Errorf("UpsertFolder() with bad token error = %v, want auth revoked", err)
	}
}
