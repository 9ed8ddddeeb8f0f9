package sqlstore

import (
	"strconv"
	"strings"

	"funnelcore/pkg/domain"
)

type dialect struct {
	name       string
	numbered   bool
	lockSuffix string
}

// Dialects supported by the adapter.
var (
	SQLite   domain.Dialect = dialect{name: "sqlite"}
	Postgres domain.Dialect = dialect{name: "postgres", numbered: true, lockSuffix: "FOR UPDATE"}
	MySQL    domain.Dialect = dialect{name: "mysql", lockSuffix: "FOR UPDATE"}
)

func (d dialect) Name() string      { return d.name }
func (d dialect) ForUpdate() string { return d.lockSuffix }

// Rebind rewrites `?` placeholders to `$1..$n` for numbered dialects. Question
// marks inside single-quoted literals are left alone.
func (d dialect) Rebind(query string) string {
	if !d.numbered || !strings.Contains(query, "?") {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	quoted := false
	for i := 0; i < len(query); i++ {
		c := query[i]
		switch {
		case c == '\'':
			quoted = !quoted
			b.WriteByte(c)
		case c == '?' && !quoted:
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}
