package connectors

import (
	"context"
	"fmt"
	"time"

	"connsync/internal/internalid"
	"connsync/internal/model"
)

// DataSource addresses the document store partition of one connector.
type DataSource struct {
	WorkspaceID  string
	DataSourceID string
}

// DataSourceOf returns the document store partition of c.
func DataSourceOf(c *model.Connector) DataSource {
	return DataSource{WorkspaceID: c.WorkspaceID, DataSourceID: c.DataSourceID}
}

func (ds DataSource) String() string { return ds.WorkspaceID + "/" + ds.DataSourceID }

// Payload is the content written for one item. The set of implementations is
// closed: Document, Table and Folder.
type Payload interface {
	isPayload()
}

// Document is a text document.
type Document struct {
	ID        string
	Title     string
	Parents   []string
	ParentID  string
	SourceURL string
	Tags      []string
	MimeType  string
	Content   string
	Timestamp time.Time
}

// Table is a table exposed for structured queries: either a remote database
// table queried in place, or rows uploaded as CSV.
type Table struct {
	ID                    string
	Title                 string
	Parents               []string
	ParentID              string
	MimeType              string
	Description           string
	RemoteDatabaseTableID string
	RemoteSecretID        string
	// CSV holds the rows, header first, when the table is not remote.
	CSV string
}

// Folder is a placeholder node rendering a level of the hierarchy.
type Folder struct {
	ID        string
	Title     string
	Parents   []string
	ParentID  string
	MimeType  string
	SourceURL string
}

func (Document) isPayload() {}
func (Table) isPayload()    {}
func (Folder) isPayload()   {}

// StoredNode is the read-back view of a document store entry.
type StoredNode struct {
	ID          string
	Title       string
	Parents     []string
	ParentID    string
	SourceURL   string
	ContentHash string
	UpdatedAt   time.Time
}

// DocumentStore is the consumed document/table storage API. Every call is
// keyed by internal id and idempotent; deleting an absent key succeeds and
// reading one returns nil, nil.
type DocumentStore interface {
	UpsertDocument(ctx context.Context, ds DataSource, doc Document) error
	DeleteDocument(ctx context.Context, ds DataSource, id string) error
	GetDocument(ctx context.Context, ds DataSource, id string) (*StoredNode, error)

	UpsertTable(ctx context.Context, ds DataSource, t Table) error
	DeleteTable(ctx context.Context, ds DataSource, id string) error
	GetTable(ctx context.Context, ds DataSource, id string) (*StoredNode, error)

	UpsertFolder(ctx context.Context, ds DataSource, f Folder) error
	DeleteFolder(ctx context.Context, ds DataSource, id string) error
	GetFolder(ctx context.Context, ds DataSource, id string) (*StoredNode, error)

	// ValidateSetup verifies the backend is reachable and writable.
	ValidateSetup(ctx context.Context) error
}

// Artifact is the document store entry type backing a node kind.
type Artifact string

const (
	ArtifactDocument Artifact = "document"
	ArtifactTable    Artifact = "table"
	ArtifactFolder   Artifact = "folder"
)

// ArtifactOf returns the document store entry type of a node kind.
func ArtifactOf(kind internalid.Kind) (Artifact, error) {
	switch kind {
	case internalid.KindTable, internalid.KindDriveSheet:
		return ArtifactTable, nil
	case internalid.KindDriveFile, internalid.KindZendeskArticle,
		internalid.KindIntercomArticle, internalid.KindIntercomConversation:
		return ArtifactDocument, nil
	case internalid.KindDatabase, internalid.KindSchema, internalid.KindDriveFolder,
		internalid.KindZendeskBrand, internalid.KindZendeskHelpCenter, internalid.KindZendeskCategory,
		internalid.KindIntercomHelpCenter, internalid.KindIntercomCollection, internalid.KindIntercomTeam:
		return ArtifactFolder, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKind, kind)
}

// deleteArtifact removes the document store entry backing n.
func deleteArtifact(ctx context.Context, store DocumentStore, ds DataSource, n *model.Node) error {
	kind, err := internalid.ParseKind(n.Kind)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnknownKind, err)
	}
	artifact, err := ArtifactOf(kind)
	if err != nil {
		return err
	}
	switch artifact {
	case ArtifactDocument:
		err = store.DeleteDocument(ctx, ds, n.InternalID)
	case ArtifactTable:
		err = store.DeleteTable(ctx, ds, n.InternalID)
	case ArtifactFolder:
		err = store.DeleteFolder(ctx, ds, n.InternalID)
	}
	if err != nil {
		return &StoreError{Op: "delete " + string(artifact), ID: n.InternalID, Err: err}
	}
	return nil
}
