package docstore

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"connsync/internal/connectors"
	"connsync/internal/providers/httpclient"
)

// HTTPStore is a client of a remote document store service exposing
//
//	POST|GET|DELETE /v1/w/{workspace}/data_sources/{data source}/{documents|tables|folders}/{id}
//	GET /v1/health
type HTTPStore struct {
	client *httpclient.Client
}

// NewHTTPStore creates an HTTPStore. token may be nil for unauthenticated services.
func NewHTTPStore(baseURL string, token httpclient.TokenProvider, httpClient *http.Client) *HTTPStore {
	return &HTTPStore{client: httpclient.New(httpclient.Options{
		Provider:   "docstore",
		BaseURL:    baseURL,
		Token:      token,
		HTTPClient: httpClient,
		UserAgent:  "connsync",
		MaxRetries: 4,
	})}
}

func entryPath(ds connectors.DataSource, artifact connectors.Artifact, id string) string {
	return fmt.Sprintf("/v1/w/%s/data_sources/%s/%ss/%s",
		url.PathEscape(ds.WorkspaceID), url.PathEscape(ds.DataSourceID), artifact, url.PathEscape(id))
}

type storedNodeJSON struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Parents     []string  `json:"parents"`
	ParentID    string    `json:"parent_id"`
	SourceURL   string    `json:"source_url"`
	ContentHash string    `json:"content_hash"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (s *HTTPStore) post(ctx context.Context, ds connectors.DataSource, r record) error {
	if len(r.Parents) == 0 || r.Parents[0] != r.ID {
		return fmt.Errorf("parents of %s must start with its own id", r.ID)
	}
	return s.client.Do(ctx, http.MethodPost, entryPath(ds, r.Artifact, r.ID), nil, r, nil)
}

func (s *HTTPStore) remove(ctx context.Context, ds connectors.DataSource, artifact connectors.Artifact, id string) error {
	err := s.client.Do(ctx, http.MethodDelete, entryPath(ds, artifact, id), nil, nil, nil)
	if connectors.IsNotFound(err) {
		return nil
	}
	return err
}

func (s *HTTPStore) get(ctx context.Context, ds connectors.DataSource, artifact connectors.Artifact, id string) (*connectors.StoredNode, error) {
	var out storedNodeJSON
	err := s.client.Get(ctx, entryPath(ds, artifact, id), nil, &out)
	if connectors.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &connectors.StoredNode{
		ID:          out.ID,
		Title:       out.Title,
		Parents:     out.Parents,
		ParentID:    out.ParentID,
		SourceURL:   out.SourceURL,
		ContentHash: out.ContentHash,
		UpdatedAt:   out.UpdatedAt,
	}, nil
}

func (s *HTTPStore) UpsertDocument(ctx context.Context, ds connectors.DataSource, doc connectors.Document) error {
	return s.post(ctx, ds, documentRecord(doc, time.Now().UTC()))
}

func (s *HTTPStore) DeleteDocument(ctx context.Context, ds connectors.DataSource, id string) error {
	return s.remove(ctx, ds, connectors.ArtifactDocument, id)
}

func (s *HTTPStore) GetDocument(ctx context.Context, ds connectors.DataSource, id string) (*connectors.StoredNode, error) {
	return s.get(ctx, ds, connectors.ArtifactDocument, id)
}

func (s *HTTPStore) UpsertTable(ctx context.Context, ds connectors.DataSource, t connectors.Table) error {
	return s.post(ctx, ds, tableRecord(t, time.Now().UTC()))
}

func (s *HTTPStore) DeleteTable(ctx context.Context, ds connectors.DataSource, id string) error {
	return s.remove(ctx, ds, connectors.ArtifactTable, id)
}

func (s *HTTPStore) GetTable(ctx context.Context, ds connectors.DataSource, id string) (*connectors.StoredNode, error) {
	return s.get(ctx, ds, connectors.ArtifactTable, id)
}

func (s *HTTPStore) UpsertFolder(ctx context.Context, ds connectors.DataSource, f connectors.Folder) error {
	return s.post(ctx, ds, folderRecord(f, time.Now().UTC()))
}

func (s *HTTPStore) DeleteFolder(ctx context.Context, ds connectors.DataSource, id string) error {
	return s.remove(ctx, ds, connectors.ArtifactFolder, id)
}

func (s *HTTPStore) GetFolder(ctx context.Context, ds connectors.DataSource, id string) (*connectors.StoredNode, error) {
	return s.get(ctx, ds, connectors.ArtifactFolder, id)
}

func (s *HTTPStore) ValidateSetup(ctx context.Context) error {
	if err := s.client.Get(ctx, "/v1/health", nil, nil); err != nil {
		return fmt.Errorf("document store at %s not reachable: %w", s.client.BaseURL(), err)
	}
	return nil
}

var _ connectors.DocumentStore = (*HTTPStore)(nil)
