package core

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"funnelcore/internal/infra/persistence/sqlite"
	"funnelcore/pkg/domain"
)

// stepClock returns a strictly increasing time on every call.
type stepClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

func newStepClock() *stepClock {
	return &stepClock{now: time.Date(2025, 2, 3, 9, 0, 0, 0, time.UTC), step: time.Second}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(c.step)
	return c.now
}

func (c *stepClock) rewind(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(-d)
	c.mu.Unlock()
}

type fixture struct {
	svc        *Service
	adapter    domain.Adapter
	clock      *stepClock
	prospector domain.Agent
	closer     domain.Agent
	admin      domain.Agent
	other      domain.Agent
}

func newFixture(t *testing.T, opts ...ServiceOption) *fixture {
	t.Helper()
	ctx := context.Background()
	adapter, err := sqlite.Open(ctx, filepath.Join(t.TempDir(), "funnel.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = adapter.Close() })

	clock := newStepClock()
	svc := NewService(adapter, append([]ServiceOption{WithClock(clock)}, opts...)...)
	f := &fixture{svc: svc, adapter: adapter, clock: clock}
	f.prospector = f.agent(t, "prospector-x", domain.RoleProspector)
	f.closer = f.agent(t, "closer-y", domain.RoleCloser)
	f.admin = f.agent(t, "admin-z", domain.RoleAdmin)
	f.other = f.agent(t, "prospector-w", domain.RoleProspector)
	return f
}

func (f *fixture) agent(t *testing.T, id string, role domain.Role) domain.Agent {
	t.Helper()
	a, err := f.svc.RegisterAgent(context.Background(), domain.Agent{ID: id, Name: id, Role: role, Active: true})
	if err != nil {
		t.Fatalf("register agent %s: %v", id, err)
	}
	return a
}

func (f *fixture) prospect(t *testing.T) domain.Prospect {
	t.Helper()
	p, err := f.svc.CreateProspect(context.Background(), ProspectInput{
		Contact: domain.Contact{Name: "Ada", Company: "Acme", Email: "ada@acme.test"},
	}, f.prospector)
	if err != nil {
		t.Fatalf("create prospect: %v", err)
	}
	return p
}

// advance applies each stage in turn and fails on the first error.
func (f *fixture) advance(t *testing.T, id string, steps ...step) domain.Prospect {
	t.Helper()
	var p domain.Prospect
	for _, step := range steps {
		var err error
		p, err = f.svc.ApplyTransition(context.Background(), id, step.to, step.actor, "")
		if err != nil {
			t.Fatalf("transition to %s by %s: %v", step.to, step.actor.ID, err)
		}
	}
	return p
}

type step struct {
	to    domain.Stage
	actor domain.Agent
}

func expectRejection(t *testing.T, err error, reason domain.RejectionReason) {
	t.Helper()
	rej, ok := domain.AsRejection(err)
	if !ok {
		t.Fatalf("expected rejection %s, got %v", reason, err)
	}
	if rej.Reason != reason {
		t.Fatalf("expected reason %s, got %s (%s)", reason, rej.Reason, rej.Message)
	}
}
