package repository

import (
	"context"
	"fmt"

	"funnelcore/pkg/domain"
)

const agentColumns = `id, name, role, active, created_at`

// GetAgent loads the agent with id.
func (r *Repository) GetAgent(ctx context.Context, ex domain.Executor, id string) (domain.Agent, error) {
	row, ok, err := ex.FetchOne(ctx, `SELECT `+agentColumns+` FROM agents WHERE id = ?`, id)
	if err != nil {
		return domain.Agent{}, err
	}
	if !ok {
		return domain.Agent{}, domain.ErrNotFound{Entity: domain.EntityAgent, ID: id}
	}
	return decodeAgent(row)
}

// CreateAgent inserts a new agent. Stored agents are never rewritten: an
// existing id yields *domain.ValidationError on the id field.
func (r *Repository) CreateAgent(ctx context.Context, ex domain.Executor, a domain.Agent) error {
	_, exists, err := ex.FetchOne(ctx, `SELECT id FROM agents WHERE id = ?`, a.ID)
	if err != nil {
		return err
	}
	if exists {
		return &domain.ValidationError{Field: "id", Message: fmt.Sprintf("agent %s already exists", a.ID)}
	}
	active := 0
	if a.Active {
		active = 1
	}
	_, err = ex.Exec(ctx, `INSERT INTO agents (`+agentColumns+`) VALUES (?, ?, ?, ?, ?)`,
		a.ID, a.Name, string(a.Role), active, stamp(a.CreatedAt))
	return err
}

// ListAgents returns every agent ordered by id.
func (r *Repository) ListAgents(ctx context.Context, ex domain.Executor) ([]domain.Agent, error) {
	rows, err := ex.FetchAll(ctx, `SELECT `+agentColumns+` FROM agents ORDER BY id`)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Agent, 0, len(rows))
	for _, row := range rows {
		a, err := decodeAgent(row)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

func decodeAgent(row domain.Row) (domain.Agent, error) {
	active, err := row.Bool("active")
	if err != nil {
		return domain.Agent{}, err
	}
	created, err := row.Time("created_at")
	if err != nil {
		return domain.Agent{}, err
	}
	return domain.Agent{
		ID:        row.String("id"),
		Name:      row.String("name"),
		Role:      domain.Role(row.String("role")),
		Active:    active,
		CreatedAt: created,
	}, nil
}
