package app

import (
	"context"
	"fmt"

	"connsync/internal/connectors"
	"connsync/internal/encryption"
	"connsync/internal/internalid"
	"connsync/internal/model"
	"connsync/internal/workflows"
)

// ConnectorSpec describes a connector to create.
type ConnectorSpec struct {
	Provider     model.Provider
	WorkspaceID  string
	DataSourceID string
	ConnectionID string
	Config       map[string]string
}

// CreateConnector registers a new connector. Its first sync starts once a
// grant is recorded.
func (a *App) CreateConnector(ctx context.Context, spec ConnectorSpec) (*model.Connector, error) {
	if !spec.Provider.Valid() {
		return nil, fmt.Errorf("unknown provider %q", spec.Provider)
	}
	if spec.WorkspaceID == "" || spec.DataSourceID == "" || spec.ConnectionID == "" {
		return nil, fmt.Errorf("workspace, data source and connection are required")
	}
	c, err := a.db.CreateConnector(ctx, &model.Connector{
		Provider:     spec.Provider,
		WorkspaceID:  spec.WorkspaceID,
		DataSourceID: spec.DataSourceID,
		ConnectionID: spec.ConnectionID,
		Config:       spec.Config,
	})
	if err != nil {
		return nil, fmt.Errorf("creating connector: %w", err)
	}
	a.logger.Info("connector created", "connector", c.ID, "provider", c.Provider)
	return c, nil
}

// ListConnectors returns every connector.
func (a *App) ListConnectors(ctx context.Context) ([]*model.Connector, error) {
	return a.db.ListConnectors(ctx)
}

// Connector returns connector id or an error wrapping ErrConnectorNotFound.
func (a *App) Connector(ctx context.Context, id int64) (*model.Connector, error) {
	c, err := a.db.FindConnector(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("finding connector %d: %w", id, err)
	}
	if c == nil {
		return nil, fmt.Errorf("%w: %d", connectors.ErrConnectorNotFound, id)
	}
	return c, nil
}

// SetPaused pauses or resumes the scheduled syncs of a connector.
func (a *App) SetPaused(ctx context.Context, id int64, paused bool) error {
	if _, err := a.Connector(ctx, id); err != nil {
		return err
	}
	return a.db.SetConnectorPaused(ctx, id, paused)
}

// PermissionUpdate is an admin decision on one remote entity.
type PermissionUpdate struct {
	InternalID string
	Permission model.Permission
}

// SetPermissions records the grants and forwards the scope changes they
// imply to the connector's sync. When any update names a kind without a scope
// of its own (tables, categories, collections) a sync is started as well.
func (a *App) SetPermissions(ctx context.Context, id int64, updates []PermissionUpdate) error {
	c, err := a.Connector(ctx, id)
	if err != nil {
		return err
	}

	var scopes []connectors.ScopeUpdate
	restart := false
	for _, u := range updates {
		if !u.Permission.Valid() || !u.Permission.Explicit() {
			return fmt.Errorf("permission %q cannot be set on %s", u.Permission, u.InternalID)
		}
		native, err := internalid.Parse(c.Provider, c.ID, u.InternalID)
		if err != nil {
			return err
		}
		if native.Kind() == internalid.KindDriveSheet {
			return &internalid.InvalidInternalIDError{ID: u.InternalID, Reason: "sheets follow their spreadsheet and cannot be granted"}
		}
		if _, err := a.db.SetNodePermission(ctx, c.ID, native.Kind(), u.InternalID, u.Permission); err != nil {
			return fmt.Errorf("recording grant: %w", err)
		}
		a.logger.Info("permission set", "connector", c.ID, "id", u.InternalID, "permission", u.Permission)
		if s, ok := scopeUpdateFor(c.Provider, native, u); ok {
			scopes = append(scopes, s)
		} else {
			restart = true
		}
	}

	if c.PausedAt.Valid {
		return nil
	}
	l, err := a.temporalLauncher()
	if err != nil {
		return err
	}
	// Scope changes reach a running sync as signals; any other change needs a
	// sync of its own.
	if len(scopes) > 0 {
		if err := l.Signal(ctx, c, scopes); err != nil {
			return err
		}
	}
	if restart {
		_, err := l.StartSync(ctx, c)
		return err
	}
	return nil
}

// scopeUpdateFor maps a grant change to the signal understood by the
// provider's sync workflow.
func scopeUpdateFor(provider model.Provider, native internalid.Native, u PermissionUpdate) (connectors.ScopeUpdate, bool) {
	action := connectors.ScopeRemoved
	if u.Permission.Granted() {
		action = connectors.ScopeAdded
	}
	scope := func(typ string) (connectors.ScopeUpdate, bool) {
		return connectors.ScopeUpdate{Type: typ, ID: u.InternalID, Action: action}, true
	}

	switch n := native.(type) {
	case internalid.DriveObject:
		return scope(connectors.ScopeFolder)
	case internalid.ZendeskObject:
		switch n.Type {
		case internalid.ZendeskBrand:
			return scope(connectors.ScopeBrand)
		case internalid.ZendeskHelpCenter:
			return scope(connectors.ScopeHelpCenter)
		}
	case internalid.IntercomObject:
		switch n.Type {
		case internalid.IntercomHelpCenter:
			return scope(connectors.ScopeHelpCenter)
		case internalid.IntercomTeam:
			return scope(connectors.ScopeTeam)
		}
	}
	return connectors.ScopeUpdate{}, false
}

// Sync starts a sync of connector id, or joins the running one.
func (a *App) Sync(ctx context.Context, id int64) (string, error) {
	c, err := a.Connector(ctx, id)
	if err != nil {
		return "", err
	}
	if c.PausedAt.Valid {
		return "", fmt.Errorf("%w: %d", ErrPaused, id)
	}
	l, err := a.temporalLauncher()
	if err != nil {
		return "", err
	}
	return l.StartSync(ctx, c)
}

// SyncIncremental starts the incremental sync of connector id, or joins the
// running one. Only Drive connectors have one.
func (a *App) SyncIncremental(ctx context.Context, id int64) (string, error) {
	c, err := a.Connector(ctx, id)
	if err != nil {
		return "", err
	}
	if c.PausedAt.Valid {
		return "", fmt.Errorf("%w: %d", ErrPaused, id)
	}
	l, err := a.temporalLauncher()
	if err != nil {
		return "", err
	}
	return l.StartIncremental(ctx, c)
}

// Status is the sync status of a connector as shown to admins.
type Status struct {
	Connector *model.Connector
	// State is the phase of the running workflow, or "" when the
	// orchestration service was not consulted.
	State workflows.SyncState
}

// Status returns the persisted sync markers of connector id. When live is
// set the running workflow is queried for its phase.
func (a *App) Status(ctx context.Context, id int64, live bool) (*Status, error) {
	c, err := a.Connector(ctx, id)
	if err != nil {
		return nil, err
	}
	st := &Status{Connector: c}
	if !live {
		return st, nil
	}
	l, err := a.temporalLauncher()
	if err != nil {
		return nil, err
	}
	if st.State, err = l.State(ctx, c); err != nil {
		return nil, err
	}
	return st, nil
}

// History returns the most recent sync operations of connector id.
func (a *App) History(ctx context.Context, id int64, limit int) ([]*model.SyncOperation, error) {
	if _, err := a.Connector(ctx, id); err != nil {
		return nil, err
	}
	return a.db.ListSyncOperations(ctx, id, limit)
}

// documentReader is implemented by stores that can return document bodies.
type documentReader interface {
	ReadDocument(ctx context.Context, ds connectors.DataSource, id string, dec connectors.DecryptionContext) (string, bool, error)
}

// DocumentsEncrypted reports whether reading a document needs the key passphrase.
func (a *App) DocumentsEncrypted() bool {
	enc, ok := a.store.(interface{ Encrypted() bool })
	return ok && enc.Encrypted()
}

// ShowDocument returns the stored body of document internalID of connector
// id. passphrase unlocks the private key of encrypted stores.
func (a *App) ShowDocument(ctx context.Context, id int64, internalID, passphrase string) (string, error) {
	c, err := a.Connector(ctx, id)
	if err != nil {
		return "", err
	}
	reader, ok := a.store.(documentReader)
	if !ok {
		return "", fmt.Errorf("document store %q cannot return document bodies", a.cfg.DocStore.Type)
	}

	var dec connectors.DecryptionContext
	if a.DocumentsEncrypted() {
		enc, err := encryption.NewEncryptorFromConfig(a.cfg.DocStore.Encryption)
		if err != nil {
			return "", err
		}
		if dec, err = enc.Unlock(passphrase); err != nil {
			return "", fmt.Errorf("unlocking private key: %w", err)
		}
	}

	content, found, err := reader.ReadDocument(ctx, connectors.DataSourceOf(c), internalID, dec)
	if err != nil {
		return "", err
	}
	if !found {
		return "", fmt.Errorf("document %s not found in connector %d", internalID, id)
	}
	return content, nil
}
