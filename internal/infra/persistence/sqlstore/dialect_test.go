package sqlstore

import "testing"

func TestRebind(t *testing.T) {
	cases := []struct {
		name    string
		dialect interface{ Rebind(string) string }
		in      string
		want    string
	}{
		{"postgres numbers", Postgres, "SELECT * FROM p WHERE a = ? AND b = ?", "SELECT * FROM p WHERE a = $1 AND b = $2"},
		{"postgres skips literals", Postgres, "SELECT '?' FROM p WHERE a = ?", "SELECT '?' FROM p WHERE a = $1"},
		{"sqlite untouched", SQLite, "SELECT ? ", "SELECT ? "},
		{"mysql untouched", MySQL, "UPDATE p SET a = ?", "UPDATE p SET a = ?"},
		{"no placeholders", Postgres, "SELECT 1", "SELECT 1"},
	}
	for _, tc := range cases {
		if got := tc.dialect.Rebind(tc.in); got != tc.want {
			t.Fatalf("%s: got %q want %q", tc.name, got, tc.want)
		}
	}
}

func TestForUpdate(t *testing.T) {
	if SQLite.ForUpdate() != "" {
		t.Fatalf("sqlite serializes writers without row locks")
	}
	if Postgres.ForUpdate() != "FOR UPDATE" || MySQL.ForUpdate() != "FOR UPDATE" {
		t.Fatalf("networked dialects must lock rows")
	}
}
