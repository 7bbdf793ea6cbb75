// Package warehouse syncs the tables of remote databases (Postgres and
// Snowflake) into the document store as queryable remote tables.
package warehouse

import (
	"context"
	"fmt"
	"os"
	"strings"

	"connsync/internal/connectors"
	"connsync/internal/model"
)

// Table is one table of a remote database.
type Table struct {
	Database    string
	Schema      string
	Name        string
	Description string
}

// Client lists the contents of a remote database server.
type Client interface {
	ListDatabases(ctx context.Context) ([]string, error)
	ListSchemas(ctx context.Context, database string) ([]string, error)
	ListTables(ctx context.Context, database, schema string) ([]Table, error)
	// CheckReadOnly returns connectors.ErrConnectionNotReadOnly when the
	// credentials can modify data.
	CheckReadOnly(ctx context.Context) error
	Close() error
}

// Dialer opens a Client for a connector.
type Dialer func(ctx context.Context, c *model.Connector) (Client, error)

// EnvDialer reads the DSN from the environment variable named by the
// connector's connection id.
func EnvDialer(ctx context.Context, c *model.Connector) (Client, error) {
	dsn := os.Getenv(c.ConnectionID)
	if dsn == "" {
		return nil, &connectors.ProviderError{
			Provider: string(c.Provider),
			Kind:     connectors.ProviderErrorAuthRevoked,
			Err:      fmt.Errorf("connection %s is not set", c.ConnectionID),
		}
	}
	return NewClient(ctx, c.Provider, dsn)
}

// NewClient connects to the warehouse of the given provider.
func NewClient(ctx context.Context, provider model.Provider, dsn string) (Client, error) {
	switch provider {
	case model.ProviderPostgres:
		return NewPostgresClient(ctx, dsn)
	case model.ProviderSnowflake:
		return NewSnowflakeClient(ctx, dsn)
	default:
		return nil, fmt.Errorf("provider %s is not a warehouse", provider)
	}
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

func transient(provider model.Provider, op string, err error) error {
	return &connectors.ProviderError{
		Provider: string(provider),
		Kind:     connectors.ProviderErrorTransient,
		Err:      fmt.Errorf("%s: %w", op, err),
	}
}
