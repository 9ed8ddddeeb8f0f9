package domain

import (
	"context"
	"fmt"
	"strconv"
	"time"
)

// Row is one result row keyed by column name. Text columns arrive as string
// regardless of backend.
type Row map[string]any

// String returns the text value of col, or "" when NULL or missing.
func (r Row) String(col string) string {
	switch v := r[col].(type) {
	case string:
		return v
	case []byte:
		return string(v)
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// NullString returns nil when col is NULL.
func (r Row) NullString(col string) *string {
	if r[col] == nil {
		return nil
	}
	s := r.String(col)
	return &s
}

// Int64 returns the integer value of col.
func (r Row) Int64(col string) (int64, error) {
	switch v := r[col].(type) {
	case int64:
		return v, nil
	case int32:
		return int64(v), nil
	case int:
		return int64(v), nil
	case bool:
		if v {
			return 1, nil
		}
		return 0, nil
	case nil:
		return 0, nil
	default:
		n, err := strconv.ParseInt(r.String(col), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("column %s: %w", col, err)
		}
		return n, nil
	}
}

// Bool interprets col as a 0/1 flag.
func (r Row) Bool(col string) (bool, error) {
	n, err := r.Int64(col)
	return n != 0, err
}

// Time parses col as an RFC 3339 timestamp.
func (r Row) Time(col string) (time.Time, error) {
	if t, ok := r[col].(time.Time); ok {
		return t.UTC(), nil
	}
	s := r.String(col)
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("column %s: %w", col, err)
	}
	return t.UTC(), nil
}

// Executor runs statements either directly against the store or inside a
// transaction. Statements use `?` placeholders.
type Executor interface {
	Exec(ctx context.Context, query string, args ...any) (int64, error)
	FetchOne(ctx context.Context, query string, args ...any) (Row, bool, error)
	FetchAll(ctx context.Context, query string, args ...any) ([]Row, error)
}

// Dialect captures the statement differences between backends.
type Dialect interface {
	Name() string
	// Rebind rewrites `?` placeholders into the backend's native form.
	Rebind(query string) string
	// ForUpdate returns the row-lock suffix for read-for-update selects, or ""
	// when the backend serializes writers by other means.
	ForUpdate() string
}

// Adapter is the uniform storage contract over the embedded and networked
// backends.
//
// WithTransaction commits every statement issued by fn or none of them. Any
// failure rolls back; typed domain errors reach the caller unchanged and all
// other failures are wrapped in a StorageError.
type Adapter interface {
	Executor
	WithTransaction(ctx context.Context, fn func(ctx context.Context, tx Executor) error) error
	Dialect() Dialect
	Ping(ctx context.Context) error
	Close() error
}
