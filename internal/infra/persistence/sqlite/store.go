// Package sqlite opens the embedded single-file backend. Writers are
// serialized in-process and each unit of work runs under BEGIN IMMEDIATE so
// the file's write lock is taken before any read of the unit.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	sqldocs "funnelcore/docs/schema/sql"
	"funnelcore/internal/infra/persistence/sqlstore"

	_ "modernc.org/sqlite" // pure go sqlite driver
)

const (
	defaultDriver = "sqlite"
	defaultPath   = "funnelcore.db"
	// busy_timeout lets readers wait out a concurrent writer instead of failing.
	pragmas = "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// Open creates (if needed) and opens the database file at path, applies the
// schema and returns a ready adapter. The literal ":memory:" opens a private
// in-memory database.
func Open(ctx context.Context, path string) (*sqlstore.Adapter, error) {
	if path == "" {
		path = defaultPath
	}
	dsn := ":memory:"
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create dirs: %w", err)
		}
		dsn = "file:" + path + pragmas
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection keeps ":memory:" databases coherent and matches the
	// single-writer file lock.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if err := sqlstore.Migrate(ctx, db, sqldocs.SQLite); err != nil {
		_ = db.Close()
		return nil, err
	}
	return sqlstore.New(db, sqlstore.SQLite, sqlstore.NewSerialBracket("BEGIN IMMEDIATE")), nil
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
