package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"

	sqldocs "funnelcore/docs/schema/sql"
)

func TestSplitStatementsDropsCommentsAndBlankLines(t *testing.T) {
	ddl := `-- header
CREATE TABLE a (
    id TEXT
);

-- between
CREATE INDEX idx ON a (id);
SELECT 1`
	got := SplitStatements(ddl)
	if len(got) != 3 {
		t.Fatalf("expected 3 statements, got %d: %q", len(got), got)
	}
	if !strings.HasPrefix(got[0], "CREATE TABLE a (") || !strings.HasSuffix(got[0], ");") {
		t.Fatalf("unexpected first statement %q", got[0])
	}
	if got[2] != "SELECT 1" {
		t.Fatalf("expected unterminated tail, got %q", got[2])
	}
}

func TestBundlesDeclareBothTables(t *testing.T) {
	for name, ddl := range map[string]string{"sqlite": sqldocs.SQLite, "postgres": sqldocs.Postgres, "mysql": sqldocs.MySQL} {
		joined := strings.Join(SplitStatements(ddl), "\n")
		for _, table := range []string{"agents", "prospects"} {
			if !strings.Contains(joined, "CREATE TABLE IF NOT EXISTS "+table) {
				t.Fatalf("%s bundle missing %s", name, table)
			}
		}
	}
}

type recordingQueryer struct {
	stmts  []string
	failAt int
}

func (r *recordingQueryer) ExecContext(_ context.Context, q string, _ ...any) (sql.Result, error) {
	r.stmts = append(r.stmts, q)
	if r.failAt > 0 && len(r.stmts) == r.failAt {
		return nil, errors.New("boom")
	}
	return nil, nil
}

func (r *recordingQueryer) QueryContext(context.Context, string, ...any) (*sql.Rows, error) {
	return nil, errors.New("unused")
}

func TestMigrateStopsAtFirstFailure(t *testing.T) {
	rec := &recordingQueryer{failAt: 2}
	err := Migrate(context.Background(), rec, sqldocs.SQLite)
	if err == nil || !strings.Contains(err.Error(), "execute ddl") {
		t.Fatalf("expected ddl error, got %v", err)
	}
	if len(rec.stmts) != 2 {
		t.Fatalf("expected to stop after 2 statements, got %d", len(rec.stmts))
	}
}
