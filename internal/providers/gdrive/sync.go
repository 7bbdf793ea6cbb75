package gdrive

import (
	"context"
	"fmt"
	"time"

	"connsync/internal/connectors"
	"connsync/internal/filter"
	"connsync/internal/internalid"
	"connsync/internal/model"
)

// Kinds are the node kinds owned by Drive connectors.
var Kinds = []internalid.Kind{internalid.KindDriveFolder, internalid.KindDriveFile, internalid.KindDriveSheet}

// rootKinds are the kinds a grant can name. Sheets follow their spreadsheet.
var rootKinds = []internalid.Kind{internalid.KindDriveFolder, internalid.KindDriveFile}

// Syncer mirrors granted Drive folders one listing page at a time.
type Syncer struct {
	db        connectors.Database
	engine    *connectors.Engine
	collector *connectors.Collector
	cache     connectors.Cache
	cacheTTL  time.Duration
	logger    connectors.Logger
}

// NewSyncer creates a Syncer. cache memoizes parent lookups for cacheTTL.
func NewSyncer(db connectors.Database, store connectors.DocumentStore, cache connectors.Cache, cacheTTL time.Duration,
	logger connectors.Logger, clock connectors.Clock, concurrency int) *Syncer {
	return &Syncer{
		db:        db,
		engine:    connectors.NewEngine(db, store, logger, clock, concurrency),
		collector: connectors.NewCollector(db, store, logger),
		cache:     cache,
		cacheTTL:  cacheTTL,
		logger:    logger,
	}
}

// FoldersToSync returns the granted roots, with pending scope changes
// recorded while no workflow was running applied on top. A granted file is
// its own root: its listing is empty and only the file itself is synced.
func (s *Syncer) FoldersToSync(ctx context.Context, connectorID int64) ([]string, error) {
	ids, err := s.grantedRoots(ctx, connectorID)
	if err != nil {
		return nil, err
	}

	pending, err := s.db.TakePendingScopes(ctx, connectorID, connectors.ScopeFolder)
	if err != nil {
		return nil, fmt.Errorf("taking pending folders: %w", err)
	}
	updates := make([]connectors.ScopeUpdate, 0, len(pending))
	for _, p := range pending {
		updates = append(updates, connectors.ScopeUpdate{Type: p.ScopeType, ID: p.ScopeID, Action: connectors.ScopeAction(p.Action)})
	}
	return connectors.ApplyScopeUpdates(ids, updates)
}

func (s *Syncer) grantedRoots(ctx context.Context, connectorID int64) ([]string, error) {
	var ids []string
	err := connectors.ScanNodes(ctx, s.db, connectors.NodeQuery{
		ConnectorID: connectorID,
		Kinds:       rootKinds,
		Permissions: []model.Permission{model.PermissionRead, model.PermissionSelected},
	}, func(n *model.Node) error {
		ids = append(ids, n.InternalID)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing granted folders: %w", err)
	}
	return ids, nil
}

// PageResult reports one synced listing page.
type PageResult struct {
	Count         int
	Subfolders    []string
	NextPageToken string
	Stats         connectors.Stats
}

// SyncFolderPage syncs one page of the children of folderID. The first page
// (empty pageToken) also syncs the folder itself. Subfolders found on the
// page are returned for the caller to visit.
func (s *Syncer) SyncFolderPage(ctx context.Context, c *model.Connector, client Client, folderID string, syncStart time.Time, pageToken string) (PageResult, error) {
	var res PageResult

	granted, err := s.db.GrantedInternalIDs(ctx, c.ID)
	if err != nil {
		return res, fmt.Errorf("loading grants: %w", err)
	}
	resolver := connectors.NewResolver(granted)
	walker := NewParentWalker(client, s.cache, s.cacheTTL, c.ID, syncStart)
	exclude := filter.Parse(c.Setting("exclude", ""))

	var files []File
	if pageToken == "" {
		folder, err := client.GetFile(ctx, folderID)
		if err != nil {
			if connectors.IsNotFound(err) {
				s.logger.Info("folder no longer exists", "connector", c.ID, "folder", folderID)
				return res, nil
			}
			return res, fmt.Errorf("getting folder %s: %w", folderID, err)
		}
		files = append(files, *folder)
	}
	page, err := client.ListChildren(ctx, folderID, pageToken)
	if err != nil {
		if connectors.IsNotFound(err) {
			return res, nil
		}
		return res, fmt.Errorf("listing folder %s: %w", folderID, err)
	}
	files = append(files, page.Files...)
	res.NextPageToken = page.NextPageToken

	items := connectors.NewItemSet()
	for _, f := range files {
		if f.Trashed || !syncable(f) || exclude.Excluded(f.Name) {
			continue
		}
		r, err := resolve(ctx, walker, resolver, f)
		if err != nil {
			return res, err
		}
		if !r.InScope {
			s.logger.Warn("file outside of granted folders", "connector", c.ID, "file", f.ID)
			continue
		}
		if f.IsFolder() && f.ID != folderID {
			res.Subfolders = append(res.Subfolders, f.ID)
		}
		fileItems, err := s.items(ctx, c, client, f, r)
		if err != nil {
			return res, err
		}
		for _, item := range fileItems {
			items.Add(item)
		}
	}
	res.Count = items.Len()

	res.Stats, err = s.engine.Reconcile(ctx, connectors.DataSourceOf(c), c.ID, items.Items())
	if err != nil {
		return res, fmt.Errorf("reconciling folder %s: %w", folderID, err)
	}
	return res, nil
}

func syncable(f File) bool {
	return f.IsFolder() || f.IsSpreadsheet() || supported(f.MimeType)
}

func resolve(ctx context.Context, walker *ParentWalker, resolver *connectors.Resolver, f File) (connectors.Resolution, error) {
	chain, err := walker.Chain(ctx, f)
	if err != nil {
		return connectors.Resolution{}, err
	}
	return resolver.Resolve(chain)
}

// items builds the reconcile items of f. The body of a file is only
// downloaded when the tracking row shows it has to be written.
func (s *Syncer) items(ctx context.Context, c *model.Connector, client Client, f File, r connectors.Resolution) ([]connectors.Item, error) {
	item := connectors.Item{
		InternalID:       internalid.Encode(internalid.DriveObject{FileID: f.ID}),
		ParentInternalID: f.Parent(),
		Title:            f.Name,
		SourceURL:        f.WebViewLink,
		Parents:          r.Parents,
		RemoteUpdatedAt:  f.ModifiedTime,
	}
	switch {
	case f.IsFolder():
		item.Kind = internalid.KindDriveFolder
		item.ContentHash = connectors.ContentHash(f.Name, f.MimeType)
		item.Payload = connectors.Folder{MimeType: f.MimeType}
		return []connectors.Item{item}, nil
	case f.IsSpreadsheet():
		item.Kind = internalid.KindDriveFolder
		return s.spreadsheetItems(ctx, c, client, f, item)
	}

	item.Kind = internalid.KindDriveFile
	item.ContentHash = connectors.ContentHash(f.Name, f.MimeType, f.ModifiedTime.UTC().Format(time.RFC3339Nano))
	row, err := s.db.FindNode(ctx, c.ID, item.InternalID)
	if err != nil {
		return nil, fmt.Errorf("finding node %s: %w", f.ID, err)
	}
	if row != nil && !connectors.NeedsUpsert(row, item) {
		item.Payload = connectors.Document{MimeType: f.MimeType}
		return []connectors.Item{item}, nil
	}

	content, err := client.Content(ctx, f)
	if err != nil {
		if connectors.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("downloading %s: %w", f.ID, err)
	}
	item.Payload = connectors.Document{MimeType: f.MimeType, Content: content, Timestamp: f.ModifiedTime}
	return []connectors.Item{item}, nil
}

// GarbageCollect examines up to batch rows after afterID: rows not seen
// since syncStart are deleted, rows whose grant was removed are revoked.
func (s *Syncer) GarbageCollect(ctx context.Context, c *model.Connector, syncStart time.Time, afterID int64, batch int) (connectors.SweepResult, error) {
	granted, err := s.db.GrantedInternalIDs(ctx, c.ID)
	if err != nil {
		return connectors.SweepResult{}, fmt.Errorf("loading grants: %w", err)
	}
	res, err := s.collector.Sweep(ctx, connectors.DataSourceOf(c), connectors.SweepPolicy{
		ConnectorID: c.ID,
		Kinds:       Kinds,
		SeenBefore:  syncStart,
		Resolver:    connectors.NewResolver(granted),
		AfterID:     afterID,
		Limit:       batch,
	})
	if err != nil {
		return res, fmt.Errorf("collecting drive files: %w", err)
	}
	if res.Removed+res.Revoked > 0 {
		s.logger.Info("drive garbage collected", "connector", c.ID, "removed", res.Removed, "revoked", res.Revoked)
	}
	return res, nil
}
