package core

import (
	"context"
	"fmt"

	"funnelcore/internal/config"
	"funnelcore/internal/infra/persistence/mysql"
	"funnelcore/internal/infra/persistence/postgres"
	"funnelcore/internal/infra/persistence/sqlite"
	"funnelcore/internal/infra/persistence/sqlstore"
	"funnelcore/pkg/domain"
)

// StorageDriver identifies a concrete persistent storage implementation.
type StorageDriver string

const (
	StorageSQLite   StorageDriver = config.DriverSQLite   // embedded sqlite file
	StoragePostgres StorageDriver = config.DriverPostgres // PostgreSQL server
	StorageMySQL    StorageDriver = config.DriverMySQL    // MySQL server
)

// OpenAdapter selects and opens a storage backend. Networked backends are
// pinged before returning, so an unreachable server fails startup.
func OpenAdapter(ctx context.Context, cfg config.StorageConfig) (domain.Adapter, error) {
	driver := StorageDriver(cfg.Driver)
	if driver == "" {
		driver = StorageSQLite
	}
	pool := sqlstore.PoolConfig{
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	}
	var (
		adapter *sqlstore.Adapter
		err     error
	)
	switch driver {
	case StorageSQLite:
		adapter, err = sqlite.Open(ctx, cfg.SQLitePath)
	case StoragePostgres:
		adapter, err = postgres.Open(ctx, postgres.Options{DSN: cfg.PostgresDSN, Pool: pool, SkipMigrate: cfg.SkipMigrate})
	case StorageMySQL:
		adapter, err = mysql.Open(ctx, mysql.Options{DSN: cfg.MySQLDSN, Pool: pool, SkipMigrate: cfg.SkipMigrate})
	default:
		return nil, fmt.Errorf("unknown storage driver %s", driver)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s storage: %w", driver, err)
	}
	return adapter, nil
}
