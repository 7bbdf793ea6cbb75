package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"connsync/internal/connectors"
	"connsync/internal/database/migrations"
	"connsync/internal/internalid"
	"connsync/internal/model"
)

// SQLDatabase implements connectors.Database on top of database/sql. The same
// queries serve SQLite and Postgres; placeholders are written as ? and
// rebound for the dialect.
type SQLDatabase struct {
	db      *sql.DB
	dialect migrations.Dialect
	clock   connectors.Clock
	path    string
}

var _ connectors.Database = (*SQLDatabase)(nil)

func newSQLDatabase(db *sql.DB, dialect migrations.Dialect, clock connectors.Clock, path string) *SQLDatabase {
	if clock == nil {
		clock = connectors.RealClock{}
	}
	return &SQLDatabase{db: db, dialect: dialect, clock: clock, path: path}
}

// rebind rewrites ? placeholders into $n for Postgres.
func (s *SQLDatabase) rebind(query string) string {
	if s.dialect != migrations.Postgres {
		return query
	}
	var b strings.Builder
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLDatabase) exec(ctx context.Context, q querier, query string, args ...any) (sql.Result, error) {
	return q.ExecContext(ctx, s.rebind(query), args...)
}

func (s *SQLDatabase) query(ctx context.Context, q querier, query string, args ...any) (*sql.Rows, error) {
	return q.QueryContext(ctx, s.rebind(query), args...)
}

func (s *SQLDatabase) queryRow(ctx context.Context, q querier, query string, args ...any) *sql.Row {
	return q.QueryRowContext(ctx, s.rebind(query), args...)
}

func (s *SQLDatabase) now() time.Time { return s.clock.Now().UTC() }

type scanner interface {
	Scan(dest ...any) error
}

func utc(t sql.NullTime) sql.NullTime {
	if t.Valid {
		t.Time = t.Time.UTC()
	}
	return t
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

// Connector operations

const connectorColumns = `id, provider, workspace_id, data_source_id, connection_id, config, created_at, paused_at,
	last_sync_status, last_sync_start_time, last_sync_finish_time, last_sync_success_time,
	first_successful_sync_time, first_sync_progress, error_type`

func scanConnector(row scanner) (*model.Connector, error) {
	var (
		c        model.Connector
		provider string
		status   string
		cfg      string
	)
	err := row.Scan(&c.ID, &provider, &c.WorkspaceID, &c.DataSourceID, &c.ConnectionID, &cfg, &c.CreatedAt, &c.PausedAt,
		&status, &c.LastSyncStartTime, &c.LastSyncFinishTime, &c.LastSyncSuccessfulTime,
		&c.FirstSuccessfulSyncTime, &c.FirstSyncProgress, &c.ErrorType)
	if err != nil {
		return nil, err
	}
	c.Provider = model.Provider(provider)
	c.LastSyncStatus = model.SyncStatus(status)
	if err := json.Unmarshal([]byte(cfg), &c.Config); err != nil {
		return nil, fmt.Errorf("decoding connector %d config: %w", c.ID, err)
	}
	return &c, nil
}

func (s *SQLDatabase) CreateConnector(ctx context.Context, c *model.Connector) (*model.Connector, error) {
	if !c.Provider.Valid() {
		return nil, fmt.Errorf("unknown provider %q", c.Provider)
	}
	cfg := c.Config
	if cfg == nil {
		cfg = map[string]string{}
	}
	encoded, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("encoding connector config: %w", err)
	}
	row := s.queryRow(ctx, s.db, `INSERT INTO connectors (provider, workspace_id, data_source_id, connection_id, config, created_at)
		VALUES (?, ?, ?, ?, ?, ?) RETURNING id`,
		string(c.Provider), c.WorkspaceID, c.DataSourceID, c.ConnectionID, string(encoded), s.now())
	var id int64
	if err := row.Scan(&id); err != nil {
		return nil, fmt.Errorf("inserting connector: %w", err)
	}
	return s.FindConnector(ctx, id)
}

func (s *SQLDatabase) FindConnector(ctx context.Context, id int64) (*model.Connector, error) {
	c, err := scanConnector(s.queryRow(ctx, s.db, `SELECT `+connectorColumns+` FROM connectors WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("finding connector: %w", err)
	}
	return c, nil
}

func (s *SQLDatabase) ListConnectors(ctx context.Context) ([]*model.Connector, error) {
	rows, err := s.query(ctx, s.db, `SELECT `+connectorColumns+` FROM connectors ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("listing connectors: %w", err)
	}
	defer rows.Close()

	var out []*model.Connector
	for rows.Next() {
		c, err := scanConnector(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning connector: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *SQLDatabase) UpdateConnectorSyncStatus(ctx context.Context, c *model.Connector) error {
	_, err := s.exec(ctx, s.db, `UPDATE connectors SET last_sync_status = ?, last_sync_start_time = ?,
		last_sync_finish_time = ?, last_sync_success_time = ?, first_successful_sync_time = ?,
		first_sync_progress = ?, error_type = ? WHERE id = ?`,
		string(c.LastSyncStatus), utc(c.LastSyncStartTime), utc(c.LastSyncFinishTime), utc(c.LastSyncSuccessfulTime),
		utc(c.FirstSuccessfulSyncTime), c.FirstSyncProgress, c.ErrorType, c.ID)
	if err != nil {
		return fmt.Errorf("updating connector %d sync status: %w", c.ID, err)
	}
	return nil
}

func (s *SQLDatabase) SetConnectorPaused(ctx context.Context, id int64, paused bool) error {
	var pausedAt sql.NullTime
	if paused {
		pausedAt = sql.NullTime{Time: s.now(), Valid: true}
	}
	if _, err := s.exec(ctx, s.db, `UPDATE connectors SET paused_at = ? WHERE id = ?`, pausedAt, id); err != nil {
		return fmt.Errorf("updating connector %d pause: %w", id, err)
	}
	return nil
}

// Node operations

const nodeColumns = `id, connector_id, kind, internal_id, parent_internal_id, title, permission, parents,
	content_hash, source_url, remote_updated_at, last_seen_at, last_upserted_at, created_at, updated_at`

func scanNode(row scanner) (*model.Node, error) {
	var (
		n       model.Node
		perm    string
		parents string
	)
	err := row.Scan(&n.ID, &n.ConnectorID, &n.Kind, &n.InternalID, &n.ParentInternalID, &n.Title, &perm, &parents,
		&n.ContentHash, &n.SourceURL, &n.RemoteUpdatedAt, &n.LastSeenAt, &n.LastUpsertedAt, &n.CreatedAt, &n.UpdatedAt)
	if err != nil {
		return nil, err
	}
	n.Permission = model.Permission(perm)
	if err := json.Unmarshal([]byte(parents), &n.Parents); err != nil {
		return nil, fmt.Errorf("decoding parents of %s: %w", n.InternalID, err)
	}
	return &n, nil
}

func encodeParents(parents []string) (string, error) {
	if parents == nil {
		parents = []string{}
	}
	b, err := json.Marshal(parents)
	if err != nil {
		return "", fmt.Errorf("encoding parents: %w", err)
	}
	return string(b), nil
}

func (s *SQLDatabase) FindNode(ctx context.Context, connectorID int64, internalID string) (*model.Node, error) {
	n, err := scanNode(s.queryRow(ctx, s.db, `SELECT `+nodeColumns+` FROM nodes WHERE connector_id = ? AND internal_id = ?`,
		connectorID, internalID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("finding node: %w", err)
	}
	return n, nil
}

func (s *SQLDatabase) findNodeByID(ctx context.Context, id int64) (*model.Node, error) {
	n, err := scanNode(s.queryRow(ctx, s.db, `SELECT `+nodeColumns+` FROM nodes WHERE id = ?`, id))
	if err != nil {
		return nil, fmt.Errorf("reading node %d: %w", id, err)
	}
	return n, nil
}

func (s *SQLDatabase) CreateNode(ctx context.Context, n *model.Node) (*model.Node, error) {
	if !n.Permission.Valid() {
		return nil, fmt.Errorf("invalid permission %q", n.Permission)
	}
	parents, err := encodeParents(n.Parents)
	if err != nil {
		return nil, err
	}
	now := s.now()
	row := s.queryRow(ctx, s.db, `INSERT INTO nodes (connector_id, kind, internal_id, parent_internal_id, title, permission,
		parents, content_hash, source_url, remote_updated_at, last_seen_at, last_upserted_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`,
		n.ConnectorID, n.Kind, n.InternalID, n.ParentInternalID, n.Title, string(n.Permission),
		parents, n.ContentHash, n.SourceURL, utc(n.RemoteUpdatedAt), utc(n.LastSeenAt), utc(n.LastUpsertedAt), now, now)
	var id int64
	if err := row.Scan(&id); err != nil {
		return nil, fmt.Errorf("inserting node %s: %w", n.InternalID, err)
	}
	return s.findNodeByID(ctx, id)
}

func (s *SQLDatabase) MarkNodeUpserted(ctx context.Context, n *model.Node) error {
	parents, err := encodeParents(n.Parents)
	if err != nil {
		return err
	}
	_, err = s.exec(ctx, s.db, `UPDATE nodes SET kind = ?, title = ?, parent_internal_id = ?, source_url = ?, parents = ?,
		content_hash = ?, remote_updated_at = ?, last_upserted_at = ?, last_seen_at = ?, updated_at = ? WHERE id = ?`,
		n.Kind, n.Title, n.ParentInternalID, n.SourceURL, parents, n.ContentHash, utc(n.RemoteUpdatedAt),
		utc(n.LastUpsertedAt), utc(n.LastSeenAt), s.now(), n.ID)
	if err != nil {
		return fmt.Errorf("updating node %d: %w", n.ID, err)
	}
	return nil
}

func (s *SQLDatabase) MarkNodeSeen(ctx context.Context, id int64, at time.Time) error {
	if _, err := s.exec(ctx, s.db, `UPDATE nodes SET last_seen_at = ? WHERE id = ?`, at.UTC(), id); err != nil {
		return fmt.Errorf("marking node %d seen: %w", id, err)
	}
	return nil
}

func (s *SQLDatabase) ClearNodeUpserted(ctx context.Context, id int64) error {
	if _, err := s.exec(ctx, s.db, `UPDATE nodes SET last_upserted_at = NULL, updated_at = ? WHERE id = ?`, s.now(), id); err != nil {
		return fmt.Errorf("clearing node %d: %w", id, err)
	}
	return nil
}

func (s *SQLDatabase) SetNodePermission(ctx context.Context, connectorID int64, kind internalid.Kind, internalID string, perm model.Permission) (*model.Node, error) {
	if !perm.Valid() {
		return nil, fmt.Errorf("invalid permission %q", perm)
	}
	now := s.now()
	row := s.queryRow(ctx, s.db, `INSERT INTO nodes (connector_id, kind, internal_id, permission, parents, created_at, updated_at)
		VALUES (?, ?, ?, ?, '[]', ?, ?)
		ON CONFLICT (connector_id, internal_id) DO UPDATE SET permission = excluded.permission, updated_at = excluded.updated_at
		RETURNING id`,
		connectorID, string(kind), internalID, string(perm), now, now)
	var id int64
	if err := row.Scan(&id); err != nil {
		return nil, fmt.Errorf("setting permission of %s: %w", internalID, err)
	}
	return s.findNodeByID(ctx, id)
}

func (s *SQLDatabase) DeleteNode(ctx context.Context, id int64) error {
	if _, err := s.exec(ctx, s.db, `DELETE FROM nodes WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting node %d: %w", id, err)
	}
	return nil
}

func (s *SQLDatabase) ListNodes(ctx context.Context, q connectors.NodeQuery) ([]*model.Node, error) {
	var (
		b    strings.Builder
		args []any
	)
	b.WriteString(`SELECT ` + nodeColumns + ` FROM nodes WHERE connector_id = ? AND id > ?`)
	args = append(args, q.ConnectorID, q.AfterID)

	if len(q.Kinds) > 0 {
		b.WriteString(` AND kind IN (` + placeholders(len(q.Kinds)) + `)`)
		for _, k := range q.Kinds {
			args = append(args, string(k))
		}
	}
	if len(q.ParentInternalIDs) > 0 {
		b.WriteString(` AND parent_internal_id IN (` + placeholders(len(q.ParentInternalIDs)) + `)`)
		for _, p := range q.ParentInternalIDs {
			args = append(args, p)
		}
	}
	if len(q.Permissions) > 0 {
		b.WriteString(` AND permission IN (` + placeholders(len(q.Permissions)) + `)`)
		for _, p := range q.Permissions {
			args = append(args, string(p))
		}
	}
	if !q.SeenBefore.IsZero() {
		b.WriteString(` AND (last_seen_at IS NULL OR last_seen_at < ?)`)
		args = append(args, q.SeenBefore.UTC())
	}
	if !q.RemoteUpdatedBefore.IsZero() {
		b.WriteString(` AND remote_updated_at IS NOT NULL AND remote_updated_at < ?`)
		args = append(args, q.RemoteUpdatedBefore.UTC())
	}

	limit := q.Limit
	if limit <= 0 {
		limit = connectors.DefaultPageSize
	}
	b.WriteString(` ORDER BY id LIMIT ?`)
	args = append(args, limit)

	rows, err := s.query(ctx, s.db, b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("listing nodes: %w", err)
	}
	defer rows.Close()

	var out []*model.Node
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning node: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *SQLDatabase) GrantedInternalIDs(ctx context.Context, connectorID int64) ([]string, error) {
	rows, err := s.query(ctx, s.db, `SELECT internal_id FROM nodes WHERE connector_id = ? AND permission IN (?, ?) ORDER BY id`,
		connectorID, string(model.PermissionRead), string(model.PermissionSelected))
	if err != nil {
		return nil, fmt.Errorf("listing grants: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning grant: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Cursor operations

func (s *SQLDatabase) GetCursor(ctx context.Context, connectorID int64, name string) (*model.Cursor, error) {
	var c model.Cursor
	err := s.queryRow(ctx, s.db, `SELECT connector_id, name, value, updated_at, deleted_at FROM sync_cursors
		WHERE connector_id = ? AND name = ? AND deleted_at IS NULL`, connectorID, name).
		Scan(&c.ConnectorID, &c.Name, &c.Value, &c.UpdatedAt, &c.DeletedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("finding cursor %s: %w", name, err)
	}
	return &c, nil
}

func (s *SQLDatabase) SetCursor(ctx context.Context, connectorID int64, name, value string) error {
	_, err := s.exec(ctx, s.db, `INSERT INTO sync_cursors (connector_id, name, value, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (connector_id, name) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at, deleted_at = NULL`,
		connectorID, name, value, s.now())
	if err != nil {
		return fmt.Errorf("saving cursor %s: %w", name, err)
	}
	return nil
}

func (s *SQLDatabase) ResetCursor(ctx context.Context, connectorID int64, name string) error {
	_, err := s.exec(ctx, s.db, `UPDATE sync_cursors SET deleted_at = ? WHERE connector_id = ? AND name = ? AND deleted_at IS NULL`,
		s.now(), connectorID, name)
	if err != nil {
		return fmt.Errorf("resetting cursor %s: %w", name, err)
	}
	return nil
}

// Pending scope operations

func (s *SQLDatabase) AddPendingScope(ctx context.Context, p *model.PendingScope) error {
	_, err := s.exec(ctx, s.db, `INSERT INTO pending_scopes (connector_id, scope_type, scope_id, action, created_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (connector_id, scope_type, scope_id) DO UPDATE SET action = excluded.action, created_at = excluded.created_at`,
		p.ConnectorID, p.ScopeType, p.ScopeID, p.Action, s.now())
	if err != nil {
		return fmt.Errorf("saving pending scope %s/%s: %w", p.ScopeType, p.ScopeID, err)
	}
	return nil
}

func (s *SQLDatabase) TakePendingScopes(ctx context.Context, connectorID int64, scopeType string) ([]*model.PendingScope, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := s.query(ctx, tx, `SELECT id, connector_id, scope_type, scope_id, action, created_at FROM pending_scopes
		WHERE connector_id = ? AND scope_type = ? ORDER BY id`, connectorID, scopeType)
	if err != nil {
		return nil, fmt.Errorf("listing pending scopes: %w", err)
	}
	var out []*model.PendingScope
	for rows.Next() {
		var p model.PendingScope
		if err := rows.Scan(&p.ID, &p.ConnectorID, &p.ScopeType, &p.ScopeID, &p.Action, &p.CreatedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning pending scope: %w", err)
		}
		out = append(out, &p)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	if _, err := s.exec(ctx, tx, `DELETE FROM pending_scopes WHERE connector_id = ? AND scope_type = ?`, connectorID, scopeType); err != nil {
		return nil, fmt.Errorf("deleting pending scopes: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing transaction: %w", err)
	}
	return out, nil
}

// Sync operation history

const syncOperationColumns = `id, connector_id, workflow_id, operation, started_at, finished_at, status, error_type`

func scanSyncOperation(row scanner) (*model.SyncOperation, error) {
	var op model.SyncOperation
	err := row.Scan(&op.ID, &op.ConnectorID, &op.WorkflowID, &op.Operation, &op.StartedAt, &op.FinishedAt, &op.Status, &op.ErrorType)
	if err != nil {
		return nil, err
	}
	return &op, nil
}

func (s *SQLDatabase) CreateSyncOperation(ctx context.Context, op *model.SyncOperation) (*model.SyncOperation, error) {
	started := op.StartedAt
	if started.IsZero() {
		started = s.now()
	}
	row := s.queryRow(ctx, s.db, `INSERT INTO sync_operations (connector_id, workflow_id, operation, started_at, status)
		VALUES (?, ?, ?, ?, ?) RETURNING id`,
		op.ConnectorID, op.WorkflowID, op.Operation, started.UTC(), string(model.SyncStatusRunning))
	var id int64
	if err := row.Scan(&id); err != nil {
		return nil, fmt.Errorf("inserting sync operation: %w", err)
	}
	created, err := scanSyncOperation(s.queryRow(ctx, s.db, `SELECT `+syncOperationColumns+` FROM sync_operations WHERE id = ?`, id))
	if err != nil {
		return nil, fmt.Errorf("reading sync operation %d: %w", id, err)
	}
	return created, nil
}

func (s *SQLDatabase) FinishSyncOperations(ctx context.Context, connectorID int64, status model.SyncStatus, errorType string) error {
	_, err := s.exec(ctx, s.db, `UPDATE sync_operations SET finished_at = ?, status = ?, error_type = ?
		WHERE connector_id = ? AND finished_at IS NULL`, s.now(), string(status), errorType, connectorID)
	if err != nil {
		return fmt.Errorf("finishing sync operations: %w", err)
	}
	return nil
}

func (s *SQLDatabase) ListSyncOperations(ctx context.Context, connectorID int64, limit int) ([]*model.SyncOperation, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.query(ctx, s.db, `SELECT `+syncOperationColumns+` FROM sync_operations WHERE connector_id = ?
		ORDER BY id DESC LIMIT ?`, connectorID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing sync operations: %w", err)
	}
	defer rows.Close()

	var out []*model.SyncOperation
	for rows.Next() {
		op, err := scanSyncOperation(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning sync operation: %w", err)
		}
		out = append(out, op)
	}
	return out, rows.Err()
}

// Lifecycle

// Migrate applies pending schema migrations.
func (s *SQLDatabase) Migrate() error {
	return migrations.MigrateUp(s.db, s.dialect)
}

func (s *SQLDatabase) CheckMigrations() error {
	return migrations.CheckDBMigrationStatus(s.db, s.dialect)
}

// Path returns the SQLite file path or the Postgres DSN host part.
func (s *SQLDatabase) Path() string { return s.path }

func (s *SQLDatabase) Close() error {
	return s.db.Close()
}
