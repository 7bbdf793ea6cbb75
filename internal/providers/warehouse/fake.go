package warehouse

import (
	"context"
	"slices"
	"sync"

	"connsync/internal/connectors"
)

// FakeClient serves a fixed set of tables from memory.
type FakeClient struct {
	mu          sync.Mutex
	tables      []Table
	notReadOnly bool
	// Err, when set, is returned by every listing call.
	Err error
}

var _ Client = (*FakeClient)(nil)

// NewFakeClient creates a FakeClient holding tables.
func NewFakeClient(tables ...Table) *FakeClient {
	return &FakeClient{tables: tables}
}

// SetTables replaces the served tables.
func (f *FakeClient) SetTables(tables ...Table) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tables = tables
}

// SetReadOnly controls the result of CheckReadOnly.
func (f *FakeClient) SetReadOnly(readOnly bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notReadOnly = !readOnly
}

func (f *FakeClient) ListDatabases(ctx context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	var dbs []string
	for _, t := range f.tables {
		if !slices.Contains(dbs, t.Database) {
			dbs = append(dbs, t.Database)
		}
	}
	return dbs, nil
}

func (f *FakeClient) ListSchemas(ctx context.Context, database string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	var schemas []string
	for _, t := range f.tables {
		if t.Database == database && !slices.Contains(schemas, t.Schema) {
			schemas = append(schemas, t.Schema)
		}
	}
	return schemas, nil
}

func (f *FakeClient) ListTables(ctx context.Context, database, schema string) ([]Table, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	var tables []Table
	for _, t := range f.tables {
		if t.Database == database && t.Schema == schema {
			tables = append(tables, t)
		}
	}
	return tables, nil
}

func (f *FakeClient) CheckReadOnly(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.notReadOnly {
		return connectors.ErrConnectionNotReadOnly
	}
	return nil
}

func (f *FakeClient) Close() error { return nil }
