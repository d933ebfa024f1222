package sqldoc

import (
	"fmt"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// Dialect adapts the document table layout to one SQL engine
type Dialect interface {
	// Name identifies the dialect in configuration
	Name() string

	// DriverName is the database/sql driver the dialect expects
	DriverName() string

	// Quote quotes an identifier
	Quote(ident string) string

	// Rebind rewrites ? placeholders into the engine's syntax
	Rebind(query string) string

	// CreateTable returns the DDL for a document table
	CreateTable(table string) string

	// LockTable returns a statement serialising writers on table, or "" when
	// the engine serialises write transactions itself
	LockTable(table string) string

	// Order is the ORDER BY expression giving insertion order
	Order() string

	// InIDs returns a predicate on the id column and its arguments
	InIDs(keys []string) (string, []any)
}

// SQLite stores documents as JSON text and relies on SQLite's single writer.
type SQLite struct{}

func (SQLite) Name() string       { return "sqlite" }
func (SQLite) DriverName() string { return "sqlite3" }

func (SQLite) Quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

func (SQLite) Rebind(query string) string { return query }

func (d SQLite) CreateTable(table string) string {
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (id TEXT PRIMARY KEY, doc TEXT NOT NULL)", d.Quote(table))
}

func (SQLite) LockTable(string) string { return "" }

func (SQLite) Order() string { return "rowid" }

func (SQLite) InIDs(keys []string) (string, []any) {
	marks := make([]string, len(keys))
	args := make([]any, len(keys))
	for i, k := range keys {
		marks[i] = "?"
		args[i] = k
	}
	return "id IN (" + strings.Join(marks, ", ") + ")", args
}

// Postgres stores documents as JSONB and locks the table for each write.
type Postgres struct{}

func (Postgres) Name() string       { return "postgres" }
func (Postgres) DriverName() string { return "pgx" }

func (Postgres) Quote(ident string) string { return pq.QuoteIdentifier(ident) }

func (Postgres) Rebind(query string) string {
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (d Postgres) CreateTable(table string) string {
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (seq BIGSERIAL, id TEXT PRIMARY KEY, doc JSONB NOT NULL)", d.Quote(table))
}

func (d Postgres) LockTable(table string) string {
	return fmt.Sprintf("LOCK TABLE %s IN SHARE ROW EXCLUSIVE MODE", d.Quote(table))
}

func (Postgres) Order() string { return "seq" }

func (Postgres) InIDs(keys []string) (string, []any) {
	return "id = ANY(?)", []any{pq.Array(keys)}
}

// DialectFor returns the dialect registered under name
func DialectFor(name string) (Dialect, error) {
	switch name {
	case "sqlite", "sqlite3":
		return SQLite{}, nil
	case "postgres", "postgresql", "pgx":
		return Postgres{}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownDialect, name)
}
