package model

import (
	"database/sql"
	"time"
)

// Provider identifies the external system a connector mirrors.
type Provider string

const (
	ProviderGoogleDrive Provider = "google_drive"
	ProviderIntercom    Provider = "intercom"
	ProviderSnowflake   Provider = "snowflake"
	ProviderPostgres    Provider = "postgres"
	ProviderZendesk     Provider = "zendesk"
)

// Providers lists every supported provider.
var Providers = []Provider{
	ProviderGoogleDrive,
	ProviderIntercom,
	ProviderSnowflake,
	ProviderPostgres,
	ProviderZendesk,
}

// Valid reports whether p is one of the supported providers.
func (p Provider) Valid() bool {
	for _, known := range Providers {
		if p == known {
			return true
		}
	}
	return false
}

// IsWarehouse reports whether p is a remote database provider.
func (p Provider) IsWarehouse() bool {
	return p == ProviderSnowflake || p == ProviderPostgres
}

// Permission is the grant state of a tracked node.
type Permission string

const (
	PermissionRead      Permission = "read"
	PermissionNone      Permission = "none"
	PermissionSelected  Permission = "selected"
	PermissionInherited Permission = "inherited"
)

// Granted reports whether p is an explicit grant.
func (p Permission) Granted() bool {
	return p == PermissionRead || p == PermissionSelected
}

// Explicit reports whether p was set by an admin rather than derived.
func (p Permission) Explicit() bool {
	return p != PermissionInherited
}

// Valid reports whether p is a known permission value.
func (p Permission) Valid() bool {
	switch p {
	case PermissionRead, PermissionNone, PermissionSelected, PermissionInherited:
		return true
	}
	return false
}

// SyncStatus is the state of the last sync run of a connector.
type SyncStatus string

const (
	SyncStatusRunning   SyncStatus = "running"
	SyncStatusSucceeded SyncStatus = "succeeded"
	SyncStatusFailed    SyncStatus = "failed"
)

// Connector is a configured instance of a provider for one workspace data source.
type Connector struct {
	ID           int64
	Provider     Provider
	WorkspaceID  string
	DataSourceID string
	ConnectionID string // names the credential (token or DSN) for the provider
	Config       map[string]string
	CreatedAt    time.Time
	PausedAt     sql.NullTime

	LastSyncStatus          SyncStatus
	LastSyncStartTime       sql.NullTime
	LastSyncFinishTime      sql.NullTime
	LastSyncSuccessfulTime  sql.NullTime
	FirstSuccessfulSyncTime sql.NullTime
	FirstSyncProgress       string
	ErrorType               string
}

// Setting returns a provider-specific config value or def when unset.
func (c *Connector) Setting(key, def string) string {
	if v, ok := c.Config[key]; ok && v != "" {
		return v
	}
	return def
}

// Node is a tracking row for one remote entity of a connector.
type Node struct {
	ID               int64 // monotonic, used as the scan cursor
	ConnectorID      int64
	Kind             string
	InternalID       string
	ParentInternalID string
	Title            string
	Permission       Permission
	Parents          []string // path last written to the document store
	ContentHash      string
	SourceURL        string
	RemoteUpdatedAt  sql.NullTime
	LastSeenAt       sql.NullTime
	LastUpsertedAt   sql.NullTime
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Anchor returns the last element of the stored parents path, the granting
// ancestor at the time of the last upsert.
func (n *Node) Anchor() string {
	if len(n.Parents) == 0 {
		return n.InternalID
	}
	return n.Parents[len(n.Parents)-1]
}

// PendingScope is a scope change recorded while no sync workflow was running.
type PendingScope struct {
	ID          int64
	ConnectorID int64
	ScopeType   string
	ScopeID     string
	Action      string
	CreatedAt   time.Time
}

// Cursor is a persisted incremental-fetch position.
type Cursor struct {
	ConnectorID int64
	Name        string
	Value       string
	UpdatedAt   time.Time
	DeletedAt   sql.NullTime
}

// SyncOperation records one sync workflow run.
type SyncOperation struct {
	ID          int64
	ConnectorID int64
	WorkflowID  string
	Operation   string
	StartedAt   time.Time
	FinishedAt  sql.NullTime
	Status      string
	ErrorType   string
}
