package mysql

import (
	"context"
	"database/sql"
	"strings"
	"testing"

	sqldocs "funnelcore/docs/schema/sql"
	"funnelcore/internal/infra/persistence/testutil"
	"funnelcore/internal/infra/persistence/sqlstore"
	"funnelcore/pkg/domain"
)

func TestNormalizeDSNPinsSessionSettings(t *testing.T) {
	dsn, err := NormalizeDSN("app:secret@tcp(db:3306)/funnel?parseTime=true")
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if strings.Contains(dsn, "parseTime=true") {
		t.Fatalf("parseTime must be disabled: %s", dsn)
	}
	if !strings.Contains(dsn, "clientFoundRows=true") {
		t.Fatalf("expected matched-row counts: %s", dsn)
	}
	if !strings.Contains(dsn, "time_zone=") {
		t.Fatalf("expected UTC session time zone: %s", dsn)
	}
	if _, err := NormalizeDSN("::not a dsn"); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestOpenAppliesMySQLBundleAndDialect(t *testing.T) {
	db, conn := testutil.NewStubDB()
	var gotDriver string
	restore := OverrideSQLOpen(func(driverName, _ string) (*sql.DB, error) {
		gotDriver = driverName
		return db, nil
	})
	defer restore()

	a, err := Open(context.Background(), Options{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer func() { _ = a.Close() }()
	if gotDriver != "mysql" {
		t.Fatalf("unexpected driver %s", gotDriver)
	}
	if n, want := len(conn.Snapshot()), len(sqlstore.SplitStatements(sqldocs.MySQL)); n != want {
		t.Fatalf("expected %d DDL statements, got %d", want, n)
	}
	if a.Dialect().Name() != "mysql" || a.Dialect().ForUpdate() != "FOR UPDATE" {
		t.Fatalf("unexpected dialect %s", a.Dialect().Name())
	}
	if stats := a.DB().Stats(); stats.MaxOpenConnections != DefaultMaxOpenConns {
		t.Fatalf("expected pool limit %d, got %d", DefaultMaxOpenConns, stats.MaxOpenConnections)
	}
}

func TestTransactionKeepsQuestionMarks(t *testing.T) {
	db, conn := testutil.NewStubDB()
	restore := OverrideSQLOpen(func(string, string) (*sql.DB, error) { return db, nil })
	defer restore()
	a, err := Open(context.Background(), Options{SkipMigrate: true})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer func() { _ = a.Close() }()
	err = a.WithTransaction(context.Background(), func(ctx context.Context, tx domain.Executor) error {
		_, err := tx.Exec(ctx, `UPDATE prospects SET stage = ? WHERE id = ?`, "won", "p1")
		return err
	})
	if err != nil {
		t.Fatalf("transaction: %v", err)
	}
	stmts := conn.Snapshot()
	if got := stmts[len(stmts)-1]; got != `UPDATE prospects SET stage = ? WHERE id = ?` {
		t.Fatalf("unexpected statement %s", got)
	}
}
