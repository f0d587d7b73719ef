package store

import (
	"strconv"
	"strings"
)

type Dialect interface {
	Name() string
	// ForUpdate returns the row-locking suffix for SELECT inside a
	// transaction. SQLite runs single-writer, so it needs none.
	ForUpdate() string
}

type sqliteDialect struct{}

func (sqliteDialect) Name() string      { return "sqlite" }
func (sqliteDialect) ForUpdate() string { return "" }

type postgresDialect struct{}

func (postgresDialect) Name() string      { return "postgres" }
func (postgresDialect) ForUpdate() string { return " FOR UPDATE" }

// Rebind converts ? placeholders to $1, $2, ... for PostgreSQL.
func Rebind(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}
