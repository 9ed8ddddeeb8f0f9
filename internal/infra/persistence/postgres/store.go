// Package postgres opens the networked Postgres backend through the pgx
// database/sql driver and applies the funnel DDL on startup.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	sqldocs "funnelcore/docs/schema/sql"
	"funnelcore/internal/infra/persistence/sqlstore"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
)

const (
	defaultDriver = "pgx"
	defaultDSN    = "postgres://localhost/funnelcore?sslmode=disable"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// Options tune the Postgres connection.
type Options struct {
	DSN  string
	Pool sqlstore.PoolConfig
	// SkipMigrate leaves the schema untouched, for deployments that manage DDL
	// out of band.
	SkipMigrate bool
}

// Open connects to Postgres, verifies connectivity and applies the schema.
// Units of work run at READ COMMITTED; read-for-update selects take row locks.
func Open(ctx context.Context, opts Options) (*sqlstore.Adapter, error) {
	dsn := opts.DSN
	if dsn == "" {
		dsn = defaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	opts.Pool.Apply(db)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if !opts.SkipMigrate {
		if err := sqlstore.Migrate(ctx, db, sqldocs.Postgres); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	bracket := sqlstore.TxBracket{Options: &sql.TxOptions{Isolation: sql.LevelReadCommitted}}
	return sqlstore.New(db, sqlstore.Postgres, bracket), nil
}

// OverrideSQLOpen swaps the sqlOpen function for tests and returns a restore function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}
