// Package repository maps funnel entities onto the relational schema. Every
// method runs on the executor it is handed, so callers decide whether a call
// joins a transaction.
package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"funnelcore/pkg/domain"
)

// TimeLayout is the persisted timestamp form: UTC with fixed nanosecond
// precision so stored strings sort chronologically.
const TimeLayout = "2006-01-02T15:04:05.000000000Z"

const prospectColumns = `id, name, company, email, phone, source, stage, outcome, prospector_owner, closer_owner,
	stage_changed_at, notes, documents, history, created_at, updated_at, revision`

// Repository reads and writes prospects and agents.
type Repository struct {
	dialect domain.Dialect
	history jsonList[domain.TransitionEvent]
	docs    jsonList[domain.Document]
}

// New returns a repository issuing statements for dialect.
func New(dialect domain.Dialect) *Repository {
	return &Repository{
		dialect: dialect,
		history: jsonList[domain.TransitionEvent]{column: "history"},
		docs:    jsonList[domain.Document]{column: "documents"},
	}
}

// ProspectFilter narrows ListProspects. Zero fields match everything.
type ProspectFilter struct {
	Stage domain.Stage
	// Owner matches either the prospector or the closer owner.
	Owner string
	Limit int
}

func stamp(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// GetProspect loads the prospect with id.
func (r *Repository) GetProspect(ctx context.Context, ex domain.Executor, id string) (domain.Prospect, error) {
	return r.getProspect(ctx, ex, id, "")
}

// GetProspectForUpdate loads the prospect and, where the backend supports it,
// locks its row until the surrounding transaction ends.
func (r *Repository) GetProspectForUpdate(ctx context.Context, ex domain.Executor, id string) (domain.Prospect, error) {
	return r.getProspect(ctx, ex, id, r.dialect.ForUpdate())
}

func (r *Repository) getProspect(ctx context.Context, ex domain.Executor, id, lock string) (domain.Prospect, error) {
	query := `SELECT ` + prospectColumns + ` FROM prospects WHERE id = ?`
	if lock != "" {
		query += " " + lock
	}
	row, ok, err := ex.FetchOne(ctx, query, id)
	if err != nil {
		return domain.Prospect{}, err
	}
	if !ok {
		return domain.Prospect{}, domain.ErrNotFound{Entity: domain.EntityProspect, ID: id}
	}
	return decodeProspect(row)
}

// CreateProspect inserts p as given.
func (r *Repository) CreateProspect(ctx context.Context, ex domain.Executor, p domain.Prospect) error {
	docs, err := json.Marshal(nonNil(p.Documents))
	if err != nil {
		return fmt.Errorf("encode documents: %w", err)
	}
	history, err := json.Marshal(nonNil(p.History))
	if err != nil {
		return fmt.Errorf("encode history: %w", err)
	}
	var closer any
	if p.CloserOwner != nil {
		closer = *p.CloserOwner
	}
	_, err = ex.Exec(ctx, `INSERT INTO prospects (`+prospectColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.Company, p.Email, p.Phone, p.Source, string(p.Stage), string(p.Outcome),
		p.ProspectorOwner, closer, stamp(p.StageChangedAt), p.Notes, string(docs), string(history),
		stamp(p.CreatedAt), stamp(p.UpdatedAt), p.Revision)
	return err
}

// ListProspects returns prospects matching f, oldest first.
func (r *Repository) ListProspects(ctx context.Context, ex domain.Executor, f ProspectFilter) ([]domain.Prospect, error) {
	var (
		where []string
		args  []any
	)
	if f.Stage != "" {
		where = append(where, "stage = ?")
		args = append(args, string(f.Stage))
	}
	if f.Owner != "" {
		where = append(where, "(prospector_owner = ? OR closer_owner = ?)")
		args = append(args, f.Owner, f.Owner)
	}
	query := `SELECT ` + prospectColumns + ` FROM prospects`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at, id"
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}
	rows, err := ex.FetchAll(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Prospect, 0, len(rows))
	for _, row := range rows {
		p, err := decodeProspect(row)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// UpdateStageAndOwners moves the prospect to stage and applies owner
// updates, provided its revision still equals expectedRevision. It returns
// the new revision. A stale revision yields *domain.ConflictError.
func (r *Repository) UpdateStageAndOwners(ctx context.Context, ex domain.Executor, id string, expectedRevision int64, stage domain.Stage, owners domain.OwnerUpdates, at time.Time) (int64, error) {
	sets := []string{"stage = ?", "outcome = ?", "stage_changed_at = ?", "updated_at = ?", "revision = revision + 1"}
	args := []any{string(stage), string(stage.Outcome()), stamp(at), stamp(at)}
	if owners.CloserOwner != nil {
		sets = append(sets, "closer_owner = ?")
		args = append(args, *owners.CloserOwner)
	}
	args = append(args, id, expectedRevision)
	n, err := ex.Exec(ctx, `UPDATE prospects SET `+strings.Join(sets, ", ")+` WHERE id = ? AND revision = ?`, args...)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, r.missOrConflict(ctx, ex, id, expectedRevision)
	}
	return expectedRevision + 1, nil
}

// GetHistory returns the prospect's transition events in append order.
func (r *Repository) GetHistory(ctx context.Context, ex domain.Executor, id string) ([]domain.TransitionEvent, error) {
	events, _, err := r.history.load(ctx, ex, id)
	return events, err
}

// AppendHistoryEvent appends ev to the stored sequence. Events must not
// precede the current last event.
func (r *Repository) AppendHistoryEvent(ctx context.Context, ex domain.Executor, id string, ev domain.TransitionEvent) ([]domain.TransitionEvent, error) {
	ev.At = ev.At.UTC()
	return r.history.push(ctx, r, ex, id, ev, ev.At, func(existing []domain.TransitionEvent) error {
		if n := len(existing); n > 0 && ev.At.Before(existing[n-1].At) {
			return fmt.Errorf("history event at %s precedes last event at %s", ev.At.Format(time.RFC3339Nano), existing[n-1].At.Format(time.RFC3339Nano))
		}
		return nil
	})
}

// GetDocuments returns the prospect's documents in upload order.
func (r *Repository) GetDocuments(ctx context.Context, ex domain.Executor, id string) ([]domain.Document, error) {
	docs, _, err := r.docs.load(ctx, ex, id)
	return docs, err
}

// AppendDocument appends doc to the stored document sequence.
func (r *Repository) AppendDocument(ctx context.Context, ex domain.Executor, id string, doc domain.Document) ([]domain.Document, error) {
	doc.UploadedAt = doc.UploadedAt.UTC()
	return r.docs.push(ctx, r, ex, id, doc, doc.UploadedAt, nil)
}

func (r *Repository) missOrConflict(ctx context.Context, ex domain.Executor, id string, revision int64) error {
	_, ok, err := ex.FetchOne(ctx, `SELECT id FROM prospects WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrNotFound{Entity: domain.EntityProspect, ID: id}
	}
	return &domain.ConflictError{ProspectID: id, Revision: revision}
}

func decodeProspect(row domain.Row) (domain.Prospect, error) {
	p := domain.Prospect{
		ID: row.String("id"),
		Contact: domain.Contact{
			Name:    row.String("name"),
			Company: row.String("company"),
			Email:   row.String("email"),
			Phone:   row.String("phone"),
			Source:  row.String("source"),
		},
		Stage:           domain.Stage(row.String("stage")),
		Outcome:         domain.Outcome(row.String("outcome")),
		ProspectorOwner: row.String("prospector_owner"),
		CloserOwner:     row.NullString("closer_owner"),
		Notes:           row.String("notes"),
	}
	var err error
	if p.StageChangedAt, err = row.Time("stage_changed_at"); err != nil {
		return domain.Prospect{}, err
	}
	if p.CreatedAt, err = row.Time("created_at"); err != nil {
		return domain.Prospect{}, err
	}
	if p.UpdatedAt, err = row.Time("updated_at"); err != nil {
		return domain.Prospect{}, err
	}
	if p.Revision, err = row.Int64("revision"); err != nil {
		return domain.Prospect{}, err
	}
	if p.Documents, err = decodeList[domain.Document](row.String("documents")); err != nil {
		return domain.Prospect{}, fmt.Errorf("decode documents of %s: %w", p.ID, err)
	}
	if p.History, err = decodeList[domain.TransitionEvent](row.String("history")); err != nil {
		return domain.Prospect{}, fmt.Errorf("decode history of %s: %w", p.ID, err)
	}
	return p, nil
}
