package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"strings"
	"testing"
	"time"

	sqldocs "funnelcore/docs/schema/sql"
	"funnelcore/internal/infra/persistence/testutil"
	"funnelcore/internal/infra/persistence/sqlstore"
	"funnelcore/pkg/domain"
)

func openStub(t *testing.T) (*sqlstore.Adapter, *testutil.StubConn) {
	t.Helper()
	db, conn := testutil.NewStubDB()
	restore := OverrideSQLOpen(func(driverName, _ string) (*sql.DB, error) {
		if driverName != defaultDriver {
			t.Fatalf("unexpected driver %s", driverName)
		}
		return db, nil
	})
	t.Cleanup(restore)
	a, err := Open(context.Background(), Options{Pool: sqlstore.PoolConfig{MaxOpenConns: 4, MaxIdleConns: 2, ConnMaxLifetime: time.Minute}})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })
	return a, conn
}

func TestOpenAppliesPostgresBundle(t *testing.T) {
	_, conn := openStub(t)
	want := sqlstore.SplitStatements(sqldocs.Postgres)
	got := conn.Snapshot()
	if len(got) != len(want) {
		t.Fatalf("expected %d DDL statements, got %d", len(want), len(got))
	}
	for i := range want {
		if strings.TrimSpace(got[i]) != strings.TrimSpace(want[i]) {
			t.Fatalf("statement %d mismatch:\nwant: %s\ngot:  %s", i, want[i], got[i])
		}
	}
}

func TestOpenFailsWhenPingFails(t *testing.T) {
	db, conn := testutil.NewStubDB()
	conn.FailPing = true
	restore := OverrideSQLOpen(func(string, string) (*sql.DB, error) { return db, nil })
	defer restore()
	_, err := Open(context.Background(), Options{DSN: "postgres://unreachable"})
	if err == nil || !strings.Contains(err.Error(), "ping postgres") {
		t.Fatalf("expected ping failure, got %v", err)
	}
}

func TestOpenSkipMigrate(t *testing.T) {
	db, conn := testutil.NewStubDB()
	restore := OverrideSQLOpen(func(string, string) (*sql.DB, error) { return db, nil })
	defer restore()
	a, err := Open(context.Background(), Options{SkipMigrate: true})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer func() { _ = a.Close() }()
	if n := len(conn.Snapshot()); n != 0 {
		t.Fatalf("expected no DDL, got %d statements", n)
	}
}

func TestTransactionCommitsAtReadCommitted(t *testing.T) {
	a, conn := openStub(t)
	ctx := context.Background()
	err := a.WithTransaction(ctx, func(ctx context.Context, tx domain.Executor) error {
		_, err := tx.Exec(ctx, `UPDATE prospects SET stage = ? WHERE id = ? AND revision = ?`, "in_contact", "p1", 0)
		return err
	})
	if err != nil {
		t.Fatalf("transaction: %v", err)
	}
	begins, commits, rollbacks := conn.Counts()
	if begins != 1 || commits != 1 || rollbacks != 0 {
		t.Fatalf("unexpected counters begin=%d commit=%d rollback=%d", begins, commits, rollbacks)
	}
	if conn.LastTx.Isolation != driver.IsolationLevel(sql.LevelReadCommitted) {
		t.Fatalf("expected read committed, got %v", conn.LastTx.Isolation)
	}
	stmts := conn.Snapshot()
	last := stmts[len(stmts)-1]
	if !strings.Contains(last, "stage = $1 WHERE id = $2 AND revision = $3") {
		t.Fatalf("expected rebound placeholders, got %s", last)
	}
}

func TestTransactionRollsBackAndKeepsRejections(t *testing.T) {
	a, conn := openStub(t)
	rej := domain.Reject(domain.ReasonTerminalState, "prospect is won")
	err := a.WithTransaction(context.Background(), func(ctx context.Context, tx domain.Executor) error {
		if _, err := tx.Exec(ctx, `UPDATE prospects SET notes = ?`, "x"); err != nil {
			return err
		}
		return rej
	})
	if got, ok := domain.AsRejection(err); !ok || got != rej {
		t.Fatalf("expected rejection to pass through, got %v", err)
	}
	if _, commits, rollbacks := conn.Counts(); commits != 0 || rollbacks != 1 {
		t.Fatalf("expected rollback, got commits=%d rollbacks=%d", commits, rollbacks)
	}
}

func TestTransactionWrapsDriverFailures(t *testing.T) {
	a, conn := openStub(t)
	conn.FailOn = "INSERT"
	err := a.WithTransaction(context.Background(), func(ctx context.Context, tx domain.Executor) error {
		_, err := tx.Exec(ctx, `INSERT INTO agents (id) VALUES (?)`, "a")
		return err
	})
	if !domain.IsStorage(err) {
		t.Fatalf("expected storage error, got %v", err)
	}

	conn.FailOn = ""
	conn.FailCommit = true
	err = a.WithTransaction(context.Background(), func(context.Context, domain.Executor) error { return nil })
	var se *domain.StorageError
	if !errors.As(err, &se) || !strings.Contains(se.Error(), "commit") {
		t.Fatalf("expected commit failure, got %v", err)
	}
}

func TestTransactionHonoursCancellationBeforeCommit(t *testing.T) {
	a, conn := openStub(t)
	ctx, cancel := context.WithCancel(context.Background())
	err := a.WithTransaction(ctx, func(context.Context, domain.Executor) error {
		cancel()
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if _, commits, _ := conn.Counts(); commits != 0 {
		t.Fatalf("cancelled unit of work must not commit")
	}
}
