package connectors

import (
	"context"
	"time"

	"connsync/internal/internalid"
	"connsync/internal/model"
)

// NodeQuery selects tracking rows for a batched scan. Zero values disable a filter.
type NodeQuery struct {
	ConnectorID       int64
	Kinds             []internalid.Kind
	ParentInternalIDs []string
	Permissions       []model.Permission
	AfterID           int64
	Limit             int
	// SeenBefore keeps rows whose LastSeenAt is null or older.
	SeenBefore time.Time
	// RemoteUpdatedBefore keeps rows whose RemoteUpdatedAt is older.
	RemoteUpdatedBefore time.Time
}

// Database is the tracking store of the sync engine. Every method is scoped
// by an explicit connector id; lookups return nil, nil when nothing matches.
type Database interface {
	// Connectors
	CreateConnector(ctx context.Context, c *model.Connector) (*model.Connector, error)
	FindConnector(ctx context.Context, id int64) (*model.Connector, error)
	ListConnectors(ctx context.Context) ([]*model.Connector, error)
	// UpdateConnectorSyncStatus persists the sync status columns of c.
	UpdateConnectorSyncStatus(ctx context.Context, c *model.Connector) error
	SetConnectorPaused(ctx context.Context, id int64, paused bool) error

	// Nodes
	FindNode(ctx context.Context, connectorID int64, internalID string) (*model.Node, error)
	CreateNode(ctx context.Context, n *model.Node) (*model.Node, error)
	// MarkNodeUpserted stores what was just written to the document store:
	// kind, title, parent, source url, parents, content hash, remote
	// timestamp and the upsert and seen timestamps.
	MarkNodeUpserted(ctx context.Context, n *model.Node) error
	MarkNodeSeen(ctx context.Context, id int64, at time.Time) error
	ClearNodeUpserted(ctx context.Context, id int64) error
	// SetNodePermission creates the row when absent and updates its permission otherwise.
	SetNodePermission(ctx context.Context, connectorID int64, kind internalid.Kind, internalID string, perm model.Permission) (*model.Node, error)
	DeleteNode(ctx context.Context, id int64) error
	// ListNodes returns at most q.Limit rows with id > q.AfterID ordered by id.
	ListNodes(ctx context.Context, q NodeQuery) ([]*model.Node, error)
	// GrantedInternalIDs returns the ids of rows with an explicit read/selected grant.
	GrantedInternalIDs(ctx context.Context, connectorID int64) ([]string, error)

	// Cursors
	GetCursor(ctx context.Context, connectorID int64, name string) (*model.Cursor, error)
	SetCursor(ctx context.Context, connectorID int64, name, value string) error
	// ResetCursor soft-deletes the cursor so the next pass does a full fetch.
	ResetCursor(ctx context.Context, connectorID int64, name string) error

	// Pending scopes
	AddPendingScope(ctx context.Context, s *model.PendingScope) error
	// TakePendingScopes returns and deletes the pending scopes of one type.
	TakePendingScopes(ctx context.Context, connectorID int64, scopeType string) ([]*model.PendingScope, error)

	// Sync operations
	CreateSyncOperation(ctx context.Context, op *model.SyncOperation) (*model.SyncOperation, error)
	// FinishSyncOperations closes every running operation of the connector.
	FinishSyncOperations(ctx context.Context, connectorID int64, status model.SyncStatus, errorType string) error
	ListSyncOperations(ctx context.Context, connectorID int64, limit int) ([]*model.SyncOperation, error)

	CheckMigrations() error
	Close() error
}
