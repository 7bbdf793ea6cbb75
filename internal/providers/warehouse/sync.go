package warehouse

import (
	"context"
	"fmt"
	"slices"

	"connsync/internal/connectors"
	"connsync/internal/filter"
	"connsync/internal/internalid"
	"connsync/internal/model"
)

const (
	MimeTypeDatabase = "application/vnd.connsync.warehouse.database"
	MimeTypeSchema   = "application/vnd.connsync.warehouse.schema"
	MimeTypeTable    = "application/vnd.connsync.warehouse.table"
)

// Kinds are the node kinds owned by warehouse connectors.
var Kinds = []internalid.Kind{internalid.KindDatabase, internalid.KindSchema, internalid.KindTable}

// Syncer mirrors the granted tables of one warehouse connection.
type Syncer struct {
	db        connectors.Database
	engine    *connectors.Engine
	collector *connectors.Collector
	clock     connectors.Clock
	logger    connectors.Logger
}

// NewSyncer creates a Syncer.
func NewSyncer(db connectors.Database, store connectors.DocumentStore, logger connectors.Logger, clock connectors.Clock, concurrency int) *Syncer {
	return &Syncer{
		db:        db,
		engine:    connectors.NewEngine(db, store, logger, clock, concurrency),
		collector: connectors.NewCollector(db, store, logger),
		clock:     clock,
		logger:    logger,
	}
}

// Result summarizes one warehouse pass.
type Result struct {
	Tables int
	Stats  connectors.Stats
	Sweep  connectors.SweepResult
}

// Sync runs a full pass: read-only check, listing, reconcile, then GC of
// every row not seen during the pass. It returns
// connectors.ErrConnectionNotReadOnly without touching anything when the
// credentials can write; the caller then runs RevokeAll.
func (s *Syncer) Sync(ctx context.Context, c *model.Connector, client Client) (Result, error) {
	var res Result
	if err := client.CheckReadOnly(ctx); err != nil {
		return res, err
	}
	passStart := s.clock.Now()
	ds := connectors.DataSourceOf(c)

	granted, err := s.db.GrantedInternalIDs(ctx, c.ID)
	if err != nil {
		return res, fmt.Errorf("loading grants: %w", err)
	}
	resolver := connectors.NewResolver(granted)
	scope, err := newGrantScope(granted)
	if err != nil {
		return res, err
	}

	tables, err := s.listCandidates(ctx, client, scope, resolver)
	if err != nil {
		return res, err
	}

	exclude := filter.Parse(c.Setting("exclude", ""))
	items := connectors.NewItemSet()
	for _, t := range tables {
		if exclude.Excluded(t.Database, t.Schema, t.Name) {
			continue
		}
		native := internalid.WarehouseTable{Database: t.Database, Schema: t.Schema, Table: t.Name}
		r, err := resolver.Resolve(native.Chain())
		if err != nil {
			return res, err
		}
		if !r.InScope {
			continue
		}
		res.Tables++
		items.Add(tableItem(c, t, native, r))
		for _, path := range r.AncestorPaths() {
			item, err := folderItem(path)
			if err != nil {
				return res, err
			}
			items.Add(item)
		}
	}

	res.Stats, err = s.engine.Reconcile(ctx, ds, c.ID, items.Items())
	if err != nil {
		return res, fmt.Errorf("reconciling warehouse tables: %w", err)
	}

	res.Sweep, err = s.collector.Sweep(ctx, ds, connectors.SweepPolicy{
		ConnectorID: c.ID,
		Kinds:       Kinds,
		SeenBefore:  passStart,
		Resolver:    resolver,
	})
	if err != nil {
		return res, fmt.Errorf("collecting warehouse tables: %w", err)
	}
	s.logger.Info("warehouse synced", "connector", c.ID, "tables", res.Tables,
		"upserted", res.Stats.Upserted, "removed", res.Sweep.Removed, "revoked", res.Sweep.Revoked)
	return res, nil
}

// RevokeAll deletes every synced artifact of the connector. Inherited rows
// are destroyed; explicit grants are kept for a later re-sync.
func (s *Syncer) RevokeAll(ctx context.Context, c *model.Connector) (int, error) {
	n, err := s.collector.RevokeAll(ctx, connectors.DataSourceOf(c), c.ID, Kinds)
	if err != nil {
		return n, fmt.Errorf("revoking warehouse connector %d: %w", c.ID, err)
	}
	s.logger.Warn("warehouse connector revoked", "connector", c.ID, "revoked", n)
	return n, nil
}

// grantScope lists the databases and schemas that may hold in-scope tables.
type grantScope struct {
	databases map[string]bool
	// schemas that are granted or contain a granted table, keyed by schema id.
	schemas map[string]bool
}

func newGrantScope(granted []string) (grantScope, error) {
	scope := grantScope{databases: map[string]bool{}, schemas: map[string]bool{}}
	for _, id := range granted {
		native, err := internalid.ParseWarehouse(id)
		if err != nil {
			return scope, err
		}
		switch v := native.(type) {
		case internalid.WarehouseDatabase:
			scope.databases[v.Database] = true
		case internalid.WarehouseSchema:
			scope.databases[v.Database] = true
			scope.schemas[internalid.Encode(v)] = true
		case internalid.WarehouseTable:
			scope.databases[v.Database] = true
			scope.schemas[internalid.Encode(v.SchemaID())] = true
		default:
			panic(fmt.Sprintf("unhandled warehouse identity %T", native))
		}
	}
	return scope, nil
}

// listCandidates lists the tables of every schema that can hold in-scope
// tables. Databases without any grant are never walked.
func (s *Syncer) listCandidates(ctx context.Context, client Client, scope grantScope, resolver *connectors.Resolver) ([]Table, error) {
	databases, err := client.ListDatabases(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing databases: %w", err)
	}
	slices.Sort(databases)

	var tables []Table
	for _, db := range databases {
		if !scope.databases[db] {
			continue
		}
		dbGranted := resolver.Granted(internalid.Encode(internalid.WarehouseDatabase{Database: db}))
		schemas, err := client.ListSchemas(ctx, db)
		if err != nil {
			return nil, fmt.Errorf("listing schemas of %s: %w", db, err)
		}
		for _, schema := range schemas {
			schemaID := internalid.Encode(internalid.WarehouseSchema{Database: db, Schema: schema})
			if !dbGranted && !scope.schemas[schemaID] {
				continue
			}
			ts, err := client.ListTables(ctx, db, schema)
			if err != nil {
				return nil, fmt.Errorf("listing tables of %s: %w", schemaID, err)
			}
			tables = append(tables, ts...)
		}
	}
	return tables, nil
}

func tableItem(c *model.Connector, t Table, native internalid.WarehouseTable, r connectors.Resolution) connectors.Item {
	id := internalid.Encode(native)
	return connectors.Item{
		Kind:             internalid.KindTable,
		InternalID:       id,
		ParentInternalID: internalid.Encode(native.SchemaID()),
		Title:            t.Name,
		Parents:          r.Parents,
		ContentHash:      connectors.ContentHash(t.Name, t.Description, c.ConnectionID),
		Payload: connectors.Table{
			MimeType:              MimeTypeTable,
			Description:           t.Description,
			RemoteDatabaseTableID: id,
			RemoteSecretID:        c.ConnectionID,
		},
	}
}

// folderItem renders the database or schema at the head of path.
func folderItem(path []string) (connectors.Item, error) {
	native, err := internalid.ParseWarehouse(path[0])
	if err != nil {
		return connectors.Item{}, err
	}
	item := connectors.Item{
		Kind:       native.Kind(),
		InternalID: path[0],
		Parents:    path,
	}
	var mime string
	switch v := native.(type) {
	case internalid.WarehouseDatabase:
		item.Title, mime = v.Database, MimeTypeDatabase
	case internalid.WarehouseSchema:
		item.Title, mime = v.Schema, MimeTypeSchema
		item.ParentInternalID = internalid.Encode(v.DatabaseID())
	default:
		return connectors.Item{}, fmt.Errorf("%w: %s cannot render as a folder", connectors.ErrInvariant, path[0])
	}
	item.ContentHash = connectors.ContentHash(item.Title, mime)
	item.Payload = connectors.Folder{MimeType: mime}
	return item, nil
}
