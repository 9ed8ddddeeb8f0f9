package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"funnelcore/pkg/domain"
)

// jsonList treats one text column of the prospects table as an ordered
// sequence. The column is only ever read and replaced whole, guarded by the
// row revision, so concurrent appends cannot drop each other's entries.
type jsonList[T any] struct {
	column string
}

func (l jsonList[T]) load(ctx context.Context, ex domain.Executor, id string) ([]T, int64, error) {
	row, ok, err := ex.FetchOne(ctx, `SELECT `+l.column+`, revision FROM prospects WHERE id = ?`, id)
	if err != nil {
		return nil, 0, err
	}
	if !ok {
		return nil, 0, domain.ErrNotFound{Entity: domain.EntityProspect, ID: id}
	}
	items, err := decodeList[T](row.String(l.column))
	if err != nil {
		return nil, 0, fmt.Errorf("decode %s of %s: %w", l.column, id, err)
	}
	rev, err := row.Int64("revision")
	if err != nil {
		return nil, 0, err
	}
	return items, rev, nil
}

func (l jsonList[T]) push(ctx context.Context, r *Repository, ex domain.Executor, id string, item T, at time.Time, check func([]T) error) ([]T, error) {
	items, rev, err := l.load(ctx, ex, id)
	if err != nil {
		return nil, err
	}
	if check != nil {
		if err := check(items); err != nil {
			return nil, err
		}
	}
	items = append(items, item)
	raw, err := json.Marshal(items)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", l.column, err)
	}
	n, err := ex.Exec(ctx, `UPDATE prospects SET `+l.column+` = ?, updated_at = ?, revision = revision + 1 WHERE id = ? AND revision = ?`,
		string(raw), stamp(at), id, rev)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, r.missOrConflict(ctx, ex, id, rev)
	}
	return items, nil
}

func decodeList[T any](raw string) ([]T, error) {
	out := []T{}
	if raw == "" {
		return out, nil
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = []T{}
	}
	return out, nil
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
