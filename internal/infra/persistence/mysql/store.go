// Package mysql opens the networked MySQL backend through go-sql-driver/mysql.
package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	sqldocs "funnelcore/docs/schema/sql"
	"funnelcore/internal/infra/persistence/sqlstore"

	driver "github.com/go-sql-driver/mysql"
)

const (
	defaultDriver = "mysql"
	defaultDSN    = "root@tcp(localhost:3306)/funnelcore"
)

// Pool defaults used when the caller leaves the limits unset.
const (
	DefaultMaxOpenConns    = 10
	DefaultMaxIdleConns    = 10
	DefaultConnMaxLifetime = 5 * time.Minute
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// Options tune the MySQL connection.
type Options struct {
	DSN         string
	Pool        sqlstore.PoolConfig
	SkipMigrate bool
}

// NormalizeDSN parses dsn and pins the settings the adapter relies on:
// timestamps come back as text, the session runs in UTC and UPDATE reports
// matched rather than changed rows.
func NormalizeDSN(dsn string) (string, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	cfg, err := driver.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("parse mysql dsn: %w", err)
	}
	cfg.ParseTime = false
	cfg.Loc = time.UTC
	cfg.ClientFoundRows = true
	if cfg.Params == nil {
		cfg.Params = map[string]string{}
	}
	cfg.Params["time_zone"] = "'+00:00'"
	return cfg.FormatDSN(), nil
}

// Open connects to MySQL, verifies connectivity and applies the schema.
func Open(ctx context.Context, opts Options) (*sqlstore.Adapter, error) {
	dsn, err := NormalizeDSN(opts.DSN)
	if err != nil {
		return nil, err
	}
	pool := opts.Pool
	if pool.MaxOpenConns == 0 {
		pool.MaxOpenConns = DefaultMaxOpenConns
	}
	if pool.MaxIdleConns == 0 {
		pool.MaxIdleConns = DefaultMaxIdleConns
	}
	if pool.ConnMaxLifetime == 0 {
		pool.ConnMaxLifetime = DefaultConnMaxLifetime
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MySQL: %w", err)
	}
	pool.Apply(db)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping mysql: %w", err)
	}
	if !opts.SkipMigrate {
		if err := sqlstore.Migrate(ctx, db, sqldocs.MySQL); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	bracket := sqlstore.TxBracket{Options: &sql.TxOptions{Isolation: sql.LevelReadCommitted}}
	return sqlstore.New(db, sqlstore.MySQL, bracket), nil
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
