package docstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"connsync/internal/connectors"
)

// MemoryStore is an in-memory implementation of connectors.DocumentStore.
// It records write counts and can be told to fail specific calls, which makes
// it the store of choice in tests. Safe for concurrent use.
type MemoryStore struct {
	mu       sync.RWMutex
	clock    connectors.Clock
	records  map[string]record // "<ds>|<artifact>|<id>"
	upserts  int
	deletes  int
	failures map[string]error // "<op>|<id>" or "<op>|*"
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore(clock connectors.Clock) *MemoryStore {
	if clock == nil {
		clock = connectors.RealClock{}
	}
	return &MemoryStore{
		clock:    clock,
		records:  make(map[string]record),
		failures: make(map[string]error),
	}
}

func memoryKey(ds connectors.DataSource, artifact connectors.Artifact, id string) string {
	return ds.String() + "|" + string(artifact) + "|" + id
}

// FailOn makes op ("upsert" or "delete") fail with err for id. An id of "*"
// matches every id. A nil err clears the failure.
func (m *MemoryStore) FailOn(op, id string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := op + "|" + id
	if err == nil {
		delete(m.failures, key)
		return
	}
	m.failures[key] = err
}

func (m *MemoryStore) failure(op, id string) error {
	if err, ok := m.failures[op+"|"+id]; ok {
		return err
	}
	return m.failures[op+"|*"]
}

func (m *MemoryStore) put(r record, ds connectors.DataSource) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("upsert", r.ID); err != nil {
		return err
	}
	if len(r.Parents) == 0 || r.Parents[0] != r.ID {
		return fmt.Errorf("parents of %s must start with its own id", r.ID)
	}
	m.records[memoryKey(ds, r.Artifact, r.ID)] = r
	m.upserts++
	return nil
}

func (m *MemoryStore) remove(ds connectors.DataSource, artifact connectors.Artifact, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("delete", id); err != nil {
		return err
	}
	// Deleting an absent key is not an error.
	delete(m.records, memoryKey(ds, artifact, id))
	m.deletes++
	return nil
}

func (m *MemoryStore) get(ds connectors.DataSource, artifact connectors.Artifact, id string) *connectors.StoredNode {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.records[memoryKey(ds, artifact, id)]
	if !ok {
		return nil
	}
	return r.stored()
}

func (m *MemoryStore) UpsertDocument(ctx context.Context, ds connectors.DataSource, doc connectors.Document) error {
	return m.put(documentRecord(doc, m.clock.Now()), ds)
}

func (m *MemoryStore) DeleteDocument(ctx context.Context, ds connectors.DataSource, id string) error {
	return m.remove(ds, connectors.ArtifactDocument, id)
}

func (m *MemoryStore) GetDocument(ctx context.Context, ds connectors.DataSource, id string) (*connectors.StoredNode, error) {
	return m.get(ds, connectors.ArtifactDocument, id), nil
}

func (m *MemoryStore) UpsertTable(ctx context.Context, ds connectors.DataSource, t connectors.Table) error {
	return m.put(tableRecord(t, m.clock.Now()), ds)
}

func (m *MemoryStore) DeleteTable(ctx context.Context, ds connectors.DataSource, id string) error {
	return m.remove(ds, connectors.ArtifactTable, id)
}

func (m *MemoryStore) GetTable(ctx context.Context, ds connectors.DataSource, id string) (*connectors.StoredNode, error) {
	return m.get(ds, connectors.ArtifactTable, id), nil
}

func (m *MemoryStore) UpsertFolder(ctx context.Context, ds connectors.DataSource, f connectors.Folder) error {
	return m.put(folderRecord(f, m.clock.Now()), ds)
}

func (m *MemoryStore) DeleteFolder(ctx context.Context, ds connectors.DataSource, id string) error {
	return m.remove(ds, connectors.ArtifactFolder, id)
}

func (m *MemoryStore) GetFolder(ctx context.Context, ds connectors.DataSource, id string) (*connectors.StoredNode, error) {
	return m.get(ds, connectors.ArtifactFolder, id), nil
}

// ValidateSetup always succeeds for the in-memory store.
func (m *MemoryStore) ValidateSetup(ctx context.Context) error {
	return nil
}

// Upserts returns the number of successful writes.
func (m *MemoryStore) Upserts() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.upserts
}

// Deletes returns the number of successful deletes.
func (m *MemoryStore) Deletes() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.deletes
}

// IDs returns the sorted ids of all entries of one artifact type in ds.
func (m *MemoryStore) IDs(ds connectors.DataSource, artifact connectors.Artifact) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	prefix := ds.String() + "|" + string(artifact) + "|"
	var ids []string
	for key, r := range m.records {
		if len(key) > len(prefix) && key[:len(prefix)] == prefix {
			ids = append(ids, r.ID)
		}
	}
	sort.Strings(ids)
	return ids
}

// Content returns the body of a stored document.
func (m *MemoryStore) Content(ds connectors.DataSource, id string) (string, bool) {
	return m.content(ds, connectors.ArtifactDocument, id)
}

// TableCSV returns the rows of a stored table.
func (m *MemoryStore) TableCSV(ds connectors.DataSource, id string) (string, bool) {
	return m.content(ds, connectors.ArtifactTable, id)
}

func (m *MemoryStore) content(ds connectors.DataSource, artifact connectors.Artifact, id string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.records[memoryKey(ds, artifact, id)]
	return r.Content, ok
}

var _ connectors.DocumentStore = (*MemoryStore)(nil)
