package docstore

import (
	"context"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"connsync/internal/config"
	"connsync/internal/connectors"
	"connsync/internal/encryption"
)

// GraphStore implements connectors.DocumentStore on Neo4j. Every entry is an
// :Entry node keyed by data source and internal id, linked to its parent by a
// CHILD_OF relationship, so the rendered hierarchy can be queried directly.
type GraphStore struct {
	driver neo4j.DriverWithContext
	clock  connectors.Clock
	enc    connectors.Encryptor
}

// NewGraphStore connects to Neo4j and verifies connectivity.
func NewGraphStore(ctx context.Context, cfg config.DocStoreConfig, clock connectors.Clock, enc connectors.Encryptor) (*GraphStore, error) {
	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.Username, cfg.Password, ""))
	if err != nil {
		return nil, fmt.Errorf("creating neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("connecting to neo4j: %w", err)
	}
	if clock == nil {
		clock = connectors.RealClock{}
	}
	s := &GraphStore{driver: driver, clock: clock, enc: enc}
	if _, err := s.run(ctx, `CREATE CONSTRAINT entry_key IF NOT EXISTS FOR (n:Entry) REQUIRE n.key IS UNIQUE`, nil); err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("creating entry constraint: %w", err)
	}
	return s, nil
}

func graphKey(ds connectors.DataSource, id string) string {
	return ds.String() + "|" + id
}

func (s *GraphStore) run(ctx context.Context, cypher string, params map[string]any) (*neo4j.EagerResult, error) {
	return neo4j.ExecuteQuery(ctx, s.driver, cypher, params, neo4j.EagerResultTransformer)
}

const upsertEntryCypher = `
MERGE (n:Entry {key: $key})
SET n += $props
WITH n
OPTIONAL MATCH (n)-[old:CHILD_OF]->()
DELETE old
WITH DISTINCT n
FOREACH (pk IN CASE WHEN $parent_key = '' THEN [] ELSE [$parent_key] END |
  MERGE (p:Entry {key: pk})
  MERGE (n)-[:CHILD_OF]->(p))`

func (s *GraphStore) write(ctx context.Context, ds connectors.DataSource, r record) error {
	if len(r.Parents) == 0 || r.Parents[0] != r.ID {
		return fmt.Errorf("parents of %s must start with its own id", r.ID)
	}
	if s.enc != nil && r.Content != "" {
		sealed, err := encryption.Seal(s.enc, r.Content)
		if err != nil {
			return fmt.Errorf("encrypting %s: %w", r.ID, err)
		}
		r.Content = sealed
		r.Encrypted = true
	}

	parentKey := ""
	if r.ParentID != "" {
		parentKey = graphKey(ds, r.ParentID)
	}
	props := map[string]any{
		"workspace":    ds.WorkspaceID,
		"data_source":  ds.DataSourceID,
		"artifact":     string(r.Artifact),
		"id":           r.ID,
		"title":        r.Title,
		"parents":      r.Parents,
		"parent_id":    r.ParentID,
		"source_url":   r.SourceURL,
		"mime_type":    r.MimeType,
		"tags":         r.Tags,
		"description":  r.Description,
		"content":      r.Content,
		"encrypted":    r.Encrypted,
		"content_hash": r.ContentHash,
		"updated_at":   r.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
	_, err := s.run(ctx, upsertEntryCypher, map[string]any{
		"key":        graphKey(ds, r.ID),
		"props":      props,
		"parent_key": parentKey,
	})
	if err != nil {
		return fmt.Errorf("writing %s: %w", r.ID, err)
	}
	return nil
}

func (s *GraphStore) remove(ctx context.Context, ds connectors.DataSource, artifact connectors.Artifact, id string) error {
	_, err := s.run(ctx, `MATCH (n:Entry {key: $key, artifact: $artifact}) DETACH DELETE n`,
		map[string]any{"key": graphKey(ds, id), "artifact": string(artifact)})
	if err != nil {
		return fmt.Errorf("deleting %s: %w", id, err)
	}
	return nil
}

func (s *GraphStore) get(ctx context.Context, ds connectors.DataSource, artifact connectors.Artifact, id string) (*connectors.StoredNode, error) {
	result, err := s.run(ctx, `MATCH (n:Entry {key: $key, artifact: $artifact})
		RETURN n.id AS id, n.title AS title, n.parents AS parents, n.parent_id AS parent_id,
		       n.source_url AS source_url, n.content_hash AS content_hash, n.updated_at AS updated_at`,
		map[string]any{"key": graphKey(ds, id), "artifact": string(artifact)})
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", id, err)
	}
	if len(result.Records) == 0 {
		return nil, nil
	}
	return storedFromRecord(result.Records[0].AsMap())
}

func storedFromRecord(m map[string]any) (*connectors.StoredNode, error) {
	str := func(key string) string {
		v, _ := m[key].(string)
		return v
	}
	n := &connectors.StoredNode{
		ID:          str("id"),
		Title:       str("title"),
		ParentID:    str("parent_id"),
		SourceURL:   str("source_url"),
		ContentHash: str("content_hash"),
	}
	if raw, ok := m["parents"].([]any); ok {
		for _, p := range raw {
			if s, ok := p.(string); ok {
				n.Parents = append(n.Parents, s)
			}
		}
	}
	if ts := str("updated_at"); ts != "" {
		t, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("parsing updated_at of %s: %w", n.ID, err)
		}
		n.UpdatedAt = t
	}
	return n, nil
}

func (s *GraphStore) UpsertDocument(ctx context.Context, ds connectors.DataSource, doc connectors.Document) error {
	return s.write(ctx, ds, documentRecord(doc, s.clock.Now()))
}

func (s *GraphStore) DeleteDocument(ctx context.Context, ds connectors.DataSource, id string) error {
	return s.remove(ctx, ds, connectors.ArtifactDocument, id)
}

func (s *GraphStore) GetDocument(ctx context.Context, ds connectors.DataSource, id string) (*connectors.StoredNode, error) {
	return s.get(ctx, ds, connectors.ArtifactDocument, id)
}

func (s *GraphStore) UpsertTable(ctx context.Context, ds connectors.DataSource, t connectors.Table) error {
	return s.write(ctx, ds, tableRecord(t, s.clock.Now()))
}

func (s *GraphStore) DeleteTable(ctx context.Context, ds connectors.DataSource, id string) error {
	return s.remove(ctx, ds, connectors.ArtifactTable, id)
}

func (s *GraphStore) GetTable(ctx context.Context, ds connectors.DataSource, id string) (*connectors.StoredNode, error) {
	return s.get(ctx, ds, connectors.ArtifactTable, id)
}

func (s *GraphStore) UpsertFolder(ctx context.Context, ds connectors.DataSource, f connectors.Folder) error {
	return s.write(ctx, ds, folderRecord(f, s.clock.Now()))
}

func (s *GraphStore) DeleteFolder(ctx context.Context, ds connectors.DataSource, id string) error {
	return s.remove(ctx, ds, connectors.ArtifactFolder, id)
}

func (s *GraphStore) GetFolder(ctx context.Context, ds connectors.DataSource, id string) (*connectors.StoredNode, error) {
	return s.get(ctx, ds, connectors.ArtifactFolder, id)
}

func (s *GraphStore) ValidateSetup(ctx context.Context) error {
	return s.driver.VerifyConnectivity(ctx)
}

// Close releases the driver.
func (s *GraphStore) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}

var _ connectors.DocumentStore = (*GraphStore)(nil)
