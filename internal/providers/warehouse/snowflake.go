package warehouse

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/snowflakedb/gosnowflake"

	"connsync/internal/connectors"
	"connsync/internal/model"
)

// readOnlyPrivileges are the grants a Snowflake role may hold while still
// counting as read-only.
var readOnlyPrivileges = map[string]bool{
	"USAGE":      true,
	"SELECT":     true,
	"REFERENCES": true,
	"MONITOR":    true,
	"READ":       true,
}

// SnowflakeClient lists Snowflake databases through SHOW commands.
type SnowflakeClient struct {
	db   *sql.DB
	role string
}

var _ Client = (*SnowflakeClient)(nil)

// NewSnowflakeClient validates dsn and opens a connection.
func NewSnowflakeClient(ctx context.Context, dsn string) (*SnowflakeClient, error) {
	cfg, err := gosnowflake.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing snowflake dsn: %w", err)
	}
	db, err := sql.Open("snowflake", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening snowflake connection: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, transient(model.ProviderSnowflake, "pinging snowflake", err)
	}
	return &SnowflakeClient{db: db, role: cfg.Role}, nil
}

// show runs a SHOW command and returns the requested columns of every row.
func (c *SnowflakeClient) show(ctx context.Context, query string, columns ...string) ([][]string, error) {
	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return nil, transient(model.ProviderSnowflake, query, err)
	}
	defer rows.Close()

	names, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("reading columns of %q: %w", query, err)
	}
	index := make(map[string]int, len(names))
	for i, n := range names {
		index[strings.ToLower(n)] = i
	}
	for _, col := range columns {
		if _, ok := index[col]; !ok {
			return nil, fmt.Errorf("%q returned no %s column", query, col)
		}
	}

	var out [][]string
	for rows.Next() {
		values := make([]any, len(names))
		ptrs := make([]any, len(names))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scanning %q: %w", query, err)
		}
		row := make([]string, len(columns))
		for i, col := range columns {
			switch v := values[index[col]].(type) {
			case nil:
			case string:
				row[i] = v
			case []byte:
				row[i] = string(v)
			default:
				row[i] = fmt.Sprint(v)
			}
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, transient(model.ProviderSnowflake, query, err)
	}
	return out, nil
}

func (c *SnowflakeClient) ListDatabases(ctx context.Context) ([]string, error) {
	rows, err := c.show(ctx, "SHOW DATABASES", "name")
	if err != nil {
		return nil, err
	}
	dbs := make([]string, 0, len(rows))
	for _, r := range rows {
		// Shared sample data is visible to every account.
		if r[0] == "SNOWFLAKE" || r[0] == "SNOWFLAKE_SAMPLE_DATA" {
			continue
		}
		dbs = append(dbs, r[0])
	}
	return dbs, nil
}

func (c *SnowflakeClient) ListSchemas(ctx context.Context, database string) ([]string, error) {
	rows, err := c.show(ctx, "SHOW SCHEMAS IN DATABASE "+quoteIdent(database), "name")
	if err != nil {
		return nil, err
	}
	schemas := make([]string, 0, len(rows))
	for _, r := range rows {
		if r[0] == "INFORMATION_SCHEMA" {
			continue
		}
		schemas = append(schemas, r[0])
	}
	return schemas, nil
}

func (c *SnowflakeClient) ListTables(ctx context.Context, database, schema string) ([]Table, error) {
	rows, err := c.show(ctx, "SHOW TABLES IN SCHEMA "+quoteIdent(database)+"."+quoteIdent(schema), "name", "comment")
	if err != nil {
		return nil, err
	}
	tables := make([]Table, 0, len(rows))
	for _, r := range rows {
		tables = append(tables, Table{Database: database, Schema: schema, Name: r[0], Description: r[1]})
	}
	return tables, nil
}

// CheckReadOnly inspects the grants of the session role.
func (c *SnowflakeClient) CheckReadOnly(ctx context.Context) error {
	role := c.role
	if role == "" {
		if err := c.db.QueryRowContext(ctx, "SELECT CURRENT_ROLE()").Scan(&role); err != nil {
			return transient(model.ProviderSnowflake, "reading current role", err)
		}
	}
	grants, err := c.show(ctx, "SHOW GRANTS TO ROLE "+quoteIdent(role), "privilege", "granted_on", "name")
	if err != nil {
		return err
	}
	for _, g := range grants {
		if !readOnlyPrivileges[strings.ToUpper(g[0])] {
			return fmt.Errorf("%w: role %s holds %s on %s %s", connectors.ErrConnectionNotReadOnly, role, g[0], g[1], g[2])
		}
	}
	return nil
}

func (c *SnowflakeClient) Close() error {
	return c.db.Close()
}
