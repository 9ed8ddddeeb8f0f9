package core

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"

	"golang.org/x/sync/errgroup"

	"funnelcore/pkg/domain"
)

func TestConcurrentTransitionsOnSameProspect(t *testing.T) {
	f := newFixture(t)
	p := f.prospect(t)

	var (
		successes atomic.Int32
		refusals  atomic.Int32
	)
	start := make(chan struct{})
	g, ctx := errgroup.WithContext(context.Background())
	for i := 0; i < 2; i++ {
		g.Go(func() error {
			<-start
			_, err := f.svc.ApplyTransition(ctx, p.ID, domain.StageInContact, f.prospector, "")
			switch {
			case err == nil:
				successes.Add(1)
			case domain.IsConflict(err):
				refusals.Add(1)
			default:
				if _, ok := domain.AsRejection(err); !ok {
					return err
				}
				refusals.Add(1)
			}
			return nil
		})
	}
	close(start)
	if err := g.Wait(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if successes.Load() != 1 || refusals.Load() != 1 {
		t.Fatalf("expected one success and one refusal, got %d/%d", successes.Load(), refusals.Load())
	}

	got, err := f.svc.GetProspect(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Stage != domain.StageInContact || len(got.History) != 1 {
		t.Fatalf("expected a single committed transition, got %s with %d events", got.Stage, len(got.History))
	}
}

func TestConcurrentTransitionsOnDifferentProspects(t *testing.T) {
	f := newFixture(t)
	const n = 8
	ids := make([]string, n)
	for i := range ids {
		ids[i] = f.prospect(t).ID
	}
	g, ctx := errgroup.WithContext(context.Background())
	for _, id := range ids {
		g.Go(func() error {
			if _, err := f.svc.ApplyTransition(ctx, id, domain.StageInContact, f.prospector, ""); err != nil {
				return err
			}
			_, err := f.svc.ApplyTransition(ctx, id, domain.StageMeetingScheduled, f.closer, "")
			return err
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("parallel transitions: %v", err)
	}
	scheduled, err := f.svc.ListProspects(context.Background(), ListFilter{Stage: domain.StageMeetingScheduled})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(scheduled) != n {
		t.Fatalf("expected %d scheduled prospects, got %d", n, len(scheduled))
	}
}

func TestCancelledTransitionLeavesNoTrace(t *testing.T) {
	f := newFixture(t)
	p := f.prospect(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := f.svc.ApplyTransition(ctx, p.ID, domain.StageInContact, f.prospector, ""); err == nil {
		t.Fatalf("expected cancellation error")
	}
	got, err := f.svc.GetProspect(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Stage != domain.StageNewProspect || len(got.History) != 0 || got.Revision != p.Revision {
		t.Fatalf("cancelled transition wrote state: %+v", got)
	}
}

// racingAdapter simulates a writer that commits between the locked read and
// the stage write by bumping the revision inside the same transaction.
type racingAdapter struct {
	domain.Adapter
}

func (a racingAdapter) WithTransaction(ctx context.Context, fn func(context.Context, domain.Executor) error) error {
	return a.Adapter.WithTransaction(ctx, func(ctx context.Context, tx domain.Executor) error {
		return fn(ctx, racingExecutor{Executor: tx})
	})
}

type racingExecutor struct {
	domain.Executor
}

func (e racingExecutor) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	if strings.HasPrefix(query, "UPDATE prospects SET stage") {
		id := args[len(args)-2]
		if _, err := e.Executor.Exec(ctx, `UPDATE prospects SET revision = revision + 1 WHERE id = ?`, id); err != nil {
			return 0, err
		}
	}
	return e.Executor.Exec(ctx, query, args...)
}

func TestStaleRevisionSurfacesConflictAndRollsBack(t *testing.T) {
	f := newFixture(t)
	p := f.prospect(t)
	racing := NewService(racingAdapter{Adapter: f.adapter}, WithClock(f.clock))

	_, err := racing.ApplyTransition(context.Background(), p.ID, domain.StageInContact, f.prospector, "")
	if !domain.IsConflict(err) {
		t.Fatalf("expected conflict, got %v", err)
	}
	var ce *domain.ConflictError
	if !errors.As(err, &ce) || !ce.Retryable() || ce.ProspectID != p.ID {
		t.Fatalf("unexpected conflict %+v", ce)
	}

	got, err := f.svc.GetProspect(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Stage != domain.StageNewProspect || got.Revision != p.Revision || len(got.History) != 0 {
		t.Fatalf("conflicting transition left a trace: stage=%s rev=%d history=%d", got.Stage, got.Revision, len(got.History))
	}

	retried, err := f.svc.ApplyTransition(context.Background(), p.ID, domain.StageInContact, f.prospector, "")
	if err != nil || retried.Stage != domain.StageInContact {
		t.Fatalf("retry from a fresh read should succeed: %+v %v", retried, err)
	}
}
