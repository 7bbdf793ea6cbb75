package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"connsync/internal/connectors"
	"connsync/internal/database/migrations"

	_ "github.com/lib/pq" // Postgres driver
)

// NewPostgresDatabase opens a Postgres tracking database from a DSN.
func NewPostgresDatabase(dsn string, clock connectors.Clock) (*SQLDatabase, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	return newSQLDatabase(db, migrations.Postgres, clock, "postgres"), nil
}
