package storage

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	_ "github.com/duckdb/duckdb-go/v2"
	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
	_ "modernc.org/sqlite"             // pure go sqlite driver
)

// dialect captures the few differences between the supported SQL engines.
type dialect struct {
	driver string
	// numbered placeholders ($1, $2, ...) instead of "?".
	numbered bool
}

var (
	duckdbDialect   = dialect{driver: "duckdb"}
	sqliteDialect   = dialect{driver: "sqlite"}
	postgresDialect = dialect{driver: "pgx", numbered: true}
)

// parseDatastore splits a datastore identifier into a dialect and a DSN.
//
// Accepted forms:
//   - "duckdb:<path>" (empty path is an in-memory database)
//   - "sqlite:<path>" (":memory:" for an in-memory database)
//   - "postgres://..." or "postgresql://..."
func parseDatastore(datastore string) (dialect, string, error) {
	switch {
	case strings.HasPrefix(datastore, "postgres://"), strings.HasPrefix(datastore, "postgresql://"):
		return postgresDialect, datastore, nil
	case strings.HasPrefix(datastore, "duckdb:"):
		return duckdbDialect, strings.TrimPrefix(datastore, "duckdb:"), nil
	case strings.HasPrefix(datastore, "sqlite:"):
		return sqliteDialect, strings.TrimPrefix(datastore, "sqlite:"), nil
	}
	return dialect{}, "", fmt.Errorf("unsupported datastore %q", datastore)
}

// rebind rewrites "?" placeholders for engines that number them.
func (d dialect) rebind(query string) string {
	if !d.numbered {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	Exec(query string, args ...any) (sql.Result, error)
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
}

// conn runs statements through a querier after rebinding placeholders.
type conn struct {
	q       querier
	dialect dialect
}

func (c conn) Exec(query string, args ...any) (sql.Result, error) {
	return c.q.Exec(c.dialect.rebind(query), args...)
}

func (c conn) Query(query string, args ...any) (*sql.Rows, error) {
	return c.q.Query(c.dialect.rebind(query), args...)
}

func (c conn) QueryRow(query string, args ...any) *sql.Row {
	return c.q.QueryRow(c.dialect.rebind(query), args...)
}
