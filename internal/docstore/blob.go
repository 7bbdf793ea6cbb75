package docstore

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"path"

	"connsync/internal/connectors"
	"connsync/internal/encryption"
)

// blobBackend is a flat key/value object store.
type blobBackend interface {
	put(ctx context.Context, key string, data []byte) error
	// get returns nil, nil when the key does not exist.
	get(ctx context.Context, key string) ([]byte, error)
	// remove succeeds when the key does not exist.
	remove(ctx context.Context, key string) error
	ping(ctx context.Context) error
}

// BlobStore implements connectors.DocumentStore on top of an object store. Each
// entry is one JSON object at
//
//	<workspace>/<data source>/<artifact>/<internal id>.json
//
// When an encryptor is configured, document bodies are sealed before writing.
type BlobStore struct {
	backend blobBackend
	clock   connectors.Clock
	enc     connectors.Encryptor
}

func newBlobStore(backend blobBackend, clock connectors.Clock, enc connectors.Encryptor) *BlobStore {
	if clock == nil {
		clock = connectors.RealClock{}
	}
	return &BlobStore{backend: backend, clock: clock, enc: enc}
}

func blobKey(ds connectors.DataSource, artifact connectors.Artifact, id string) string {
	return path.Join(
		url.PathEscape(ds.WorkspaceID),
		url.PathEscape(ds.DataSourceID),
		string(artifact),
		url.PathEscape(id)+".json",
	)
}

func (s *BlobStore) write(ctx context.Context, ds connectors.DataSource, r record) error {
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
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", r.ID, err)
	}
	return s.backend.put(ctx, blobKey(ds, r.Artifact, r.ID), data)
}

func (s *BlobStore) read(ctx context.Context, ds connectors.DataSource, artifact connectors.Artifact, id string) (*record, error) {
	data, err := s.backend.get(ctx, blobKey(ds, artifact, id))
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, nil
	}
	var r record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", id, err)
	}
	return &r, nil
}

func (s *BlobStore) stored(ctx context.Context, ds connectors.DataSource, artifact connectors.Artifact, id string) (*connectors.StoredNode, error) {
	r, err := s.read(ctx, ds, artifact, id)
	if err != nil || r == nil {
		return nil, err
	}
	return r.stored(), nil
}

func (s *BlobStore) UpsertDocument(ctx context.Context, ds connectors.DataSource, doc connectors.Document) error {
	return s.write(ctx, ds, documentRecord(doc, s.clock.Now()))
}

func (s *BlobStore) DeleteDocument(ctx context.Context, ds connectors.DataSource, id string) error {
	return s.backend.remove(ctx, blobKey(ds, connectors.ArtifactDocument, id))
}

func (s *BlobStore) GetDocument(ctx context.Context, ds connectors.DataSource, id string) (*connectors.StoredNode, error) {
	return s.stored(ctx, ds, connectors.ArtifactDocument, id)
}

func (s *BlobStore) UpsertTable(ctx context.Context, ds connectors.DataSource, t connectors.Table) error {
	return s.write(ctx, ds, tableRecord(t, s.clock.Now()))
}

func (s *BlobStore) DeleteTable(ctx context.Context, ds connectors.DataSource, id string) error {
	return s.backend.remove(ctx, blobKey(ds, connectors.ArtifactTable, id))
}

func (s *BlobStore) GetTable(ctx context.Context, ds connectors.DataSource, id string) (*connectors.StoredNode, error) {
	return s.stored(ctx, ds, connectors.ArtifactTable, id)
}

func (s *BlobStore) UpsertFolder(ctx context.Context, ds connectors.DataSource, f connectors.Folder) error {
	return s.write(ctx, ds, folderRecord(f, s.clock.Now()))
}

func (s *BlobStore) DeleteFolder(ctx context.Context, ds connectors.DataSource, id string) error {
	return s.backend.remove(ctx, blobKey(ds, connectors.ArtifactFolder, id))
}

func (s *BlobStore) GetFolder(ctx context.Context, ds connectors.DataSource, id string) (*connectors.StoredNode, error) {
	return s.stored(ctx, ds, connectors.ArtifactFolder, id)
}

func (s *BlobStore) ValidateSetup(ctx context.Context) error {
	return s.backend.ping(ctx)
}

// ReadDocument returns the stored body of a document, decrypting it with dec
// when it was sealed. It returns "", false when the document does not exist.
func (s *BlobStore) ReadDocument(ctx context.Context, ds connectors.DataSource, id string, dec connectors.DecryptionContext) (string, bool, error) {
	r, err := s.read(ctx, ds, connectors.ArtifactDocument, id)
	if err != nil || r == nil {
		return "", false, err
	}
	if !r.Encrypted {
		return r.Content, true, nil
	}
	if dec == nil {
		return "", true, fmt.Errorf("document %s is encrypted; unlock the private key first", id)
	}
	content, err := encryption.Open(dec, r.Content)
	if err != nil {
		return "", true, fmt.Errorf("decrypting %s: %w", id, err)
	}
	return content, true, nil
}

// Encrypted reports whether new document bodies are sealed.
func (s *BlobStore) Encrypted() bool { return s.enc != nil }

var _ connectors.DocumentStore = (*BlobStore)(nil)
