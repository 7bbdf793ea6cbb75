package warehouse

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"connsync/internal/connectors"
	"connsync/internal/model"
)

// PostgresClient lists the schemas and tables of the database named in its DSN.
type PostgresClient struct {
	pool *pgxpool.Pool
}

var _ Client = (*PostgresClient)(nil)

// NewPostgresClient opens a connection pool and pings it.
func NewPostgresClient(ctx context.Context, dsn string) (*PostgresClient, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, transient(model.ProviderPostgres, "pinging postgres", err)
	}
	return &PostgresClient{pool: pool}, nil
}

// ListDatabases returns the current database. A Postgres connection is
// scoped to a single database.
func (c *PostgresClient) ListDatabases(ctx context.Context) ([]string, error) {
	var name string
	if err := c.pool.QueryRow(ctx, `SELECT current_database()`).Scan(&name); err != nil {
		return nil, transient(model.ProviderPostgres, "reading current database", err)
	}
	return []string{name}, nil
}

func (c *PostgresClient) ListSchemas(ctx context.Context, database string) ([]string, error) {
	rows, err := c.pool.Query(ctx, `
		SELECT schema_name FROM information_schema.schemata
		WHERE schema_name NOT IN ('information_schema')
		  AND schema_name NOT LIKE 'pg\_%'
		ORDER BY schema_name`)
	if err != nil {
		return nil, transient(model.ProviderPostgres, "listing schemas", err)
	}
	defer rows.Close()

	var schemas []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("scanning schema: %w", err)
		}
		schemas = append(schemas, s)
	}
	if err := rows.Err(); err != nil {
		return nil, transient(model.ProviderPostgres, "listing schemas", err)
	}
	return schemas, nil
}

func (c *PostgresClient) ListTables(ctx context.Context, database, schema string) ([]Table, error) {
	rows, err := c.pool.Query(ctx, `
		SELECT t.table_name,
		       COALESCE(obj_description(format('%I.%I', t.table_schema, t.table_name)::regclass, 'pg_class'), '')
		FROM information_schema.tables t
		WHERE t.table_schema = $1 AND t.table_type IN ('BASE TABLE', 'VIEW')
		ORDER BY t.table_name`, schema)
	if err != nil {
		return nil, transient(model.ProviderPostgres, "listing tables", err)
	}
	defer rows.Close()

	var tables []Table
	for rows.Next() {
		t := Table{Database: database, Schema: schema}
		if err := rows.Scan(&t.Name, &t.Description); err != nil {
			return nil, fmt.Errorf("scanning table: %w", err)
		}
		tables = append(tables, t)
	}
	if err := rows.Err(); err != nil {
		return nil, transient(model.ProviderPostgres, "listing tables", err)
	}
	return tables, nil
}

// CheckReadOnly rejects roles that are superusers, can create objects, or
// hold a write privilege on any table.
func (c *PostgresClient) CheckReadOnly(ctx context.Context) error {
	var privileged, canWrite bool
	err := c.pool.QueryRow(ctx, `
		SELECT r.rolsuper OR r.rolcreaterole OR r.rolcreatedb,
		       EXISTS (
		           SELECT 1 FROM information_schema.table_privileges p
		           WHERE p.grantee = current_user
		             AND p.privilege_type IN ('INSERT', 'UPDATE', 'DELETE', 'TRUNCATE')
		       )
		FROM pg_roles r WHERE r.rolname = current_user`).Scan(&privileged, &canWrite)
	if err != nil {
		return transient(model.ProviderPostgres, "checking privileges", err)
	}
	if privileged || canWrite {
		return fmt.Errorf("%w: role can write (privileged=%t, table writes=%t)", connectors.ErrConnectionNotReadOnly, privileged, canWrite)
	}
	return nil
}

func (c *PostgresClient) Close() error {
	c.pool.Close()
	return nil
}
