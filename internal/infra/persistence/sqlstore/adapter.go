// Package sqlstore implements domain.Adapter on top of database/sql. Backends
// differ only in their dialect and in the Bracket that opens, commits and
// rolls back a unit of work.
package sqlstore

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"funnelcore/pkg/domain"
)

// Compile-time contract assertion.
var _ domain.Adapter = (*Adapter)(nil)

// Queryer is satisfied by *sql.DB, *sql.Conn and *sql.Tx.
type Queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Bracket runs fn inside a backend transaction and guarantees commit-all or
// rollback on every exit path.
type Bracket interface {
	Run(ctx context.Context, db *sql.DB, fn func(ctx context.Context, q Queryer) error) error
}

// PoolConfig bounds the connection pool of networked backends.
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Apply configures db with the pool limits. Zero values keep driver defaults.
func (p PoolConfig) Apply(db *sql.DB) {
	if p.MaxOpenConns > 0 {
		db.SetMaxOpenConns(p.MaxOpenConns)
	}
	if p.MaxIdleConns > 0 {
		db.SetMaxIdleConns(p.MaxIdleConns)
	}
	if p.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(p.ConnMaxLifetime)
	}
}

// Adapter is the database/sql implementation of domain.Adapter.
type Adapter struct {
	db        *sql.DB
	dialect   domain.Dialect
	bracket   Bracket
	closeOnce sync.Once
	closeErr  error
}

// New wraps an opened database handle.
func New(db *sql.DB, dialect domain.Dialect, bracket Bracket) *Adapter {
	return &Adapter{db: db, dialect: dialect, bracket: bracket}
}

// Dialect returns the statement dialect of the backend.
func (a *Adapter) Dialect() domain.Dialect { return a.dialect }

// DB exposes the underlying sql.DB for integration testing hooks.
func (a *Adapter) DB() *sql.DB { return a.db }

func (a *Adapter) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	return executor{q: a.db, dialect: a.dialect}.Exec(ctx, query, args...)
}

func (a *Adapter) FetchOne(ctx context.Context, query string, args ...any) (domain.Row, bool, error) {
	return executor{q: a.db, dialect: a.dialect}.FetchOne(ctx, query, args...)
}

func (a *Adapter) FetchAll(ctx context.Context, query string, args ...any) ([]domain.Row, error) {
	return executor{q: a.db, dialect: a.dialect}.FetchAll(ctx, query, args...)
}

// WithTransaction runs fn as one atomic unit of work.
func (a *Adapter) WithTransaction(ctx context.Context, fn func(ctx context.Context, tx domain.Executor) error) error {
	err := a.bracket.Run(ctx, a.db, func(ctx context.Context, q Queryer) error {
		return fn(ctx, executor{q: q, dialect: a.dialect})
	})
	return translate("transaction", err)
}

// Ping proves connectivity.
func (a *Adapter) Ping(ctx context.Context) error {
	return translate("ping", a.db.PingContext(ctx))
}

// Close releases the handle. It is safe to call more than once.
func (a *Adapter) Close() error {
	a.closeOnce.Do(func() {
		a.closeErr = a.db.Close()
	})
	return a.closeErr
}

// translate keeps typed domain errors intact and wraps everything else.
func translate(op string, err error) error {
	if err == nil {
		return nil
	}
	if domain.IsTyped(err) {
		return err
	}
	return &domain.StorageError{Op: op, Err: err}
}

type executor struct {
	q       Queryer
	dialect domain.Dialect
}

func (e executor) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := e.q.ExecContext(ctx, e.dialect.Rebind(query), args...)
	if err != nil {
		return 0, translate("exec", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, translate("rows affected", err)
	}
	return n, nil
}

func (e executor) FetchOne(ctx context.Context, query string, args ...any) (domain.Row, bool, error) {
	rows, err := e.query(ctx, query, 1, args...)
	if err != nil {
		return nil, false, err
	}
	if len(rows) == 0 {
		return nil, false, nil
	}
	return rows[0], true, nil
}

func (e executor) FetchAll(ctx context.Context, query string, args ...any) ([]domain.Row, error) {
	return e.query(ctx, query, 0, args...)
}

func (e executor) query(ctx context.Context, query string, limit int, args ...any) (out []domain.Row, err error) {
	rows, err := e.q.QueryContext(ctx, e.dialect.Rebind(query), args...)
	if err != nil {
		return nil, translate("query", err)
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil && err == nil {
			err = translate("close rows", cerr)
		}
	}()
	cols, err := rows.Columns()
	if err != nil {
		return nil, translate("columns", err)
	}
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, translate("scan", err)
		}
		row := make(domain.Row, len(cols))
		for i, col := range cols {
			row[col] = normalize(vals[i])
		}
		out = append(out, row)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, translate("iterate", err)
	}
	return out, nil
}

// normalize copies driver-owned byte slices so rows stay valid after Close.
func normalize(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

