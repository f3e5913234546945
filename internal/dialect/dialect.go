// Package dialect renders the database-specific parts of compiled record
// queries: identifier quoting, table aliasing, placeholders, pagination,
// substring predicates and catalog discovery.
package dialect

import (
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
)

// Dialect is the adapter between the dialect-neutral query compiler and one
// database family.
type Dialect interface {
	// Name returns the canonical dialect name.
	Name() string
	// QuoteIdentifier returns a real identifier ready to embed in SQL text.
	QuoteIdentifier(name string) string
	// TableAlias renders "<quoted table> <alias>" in the form the database accepts.
	TableAlias(quotedTable, alias string) string
	// PlaceholderFormat converts the compiler's "?" placeholders.
	PlaceholderFormat() sq.PlaceholderFormat
	// Paginate applies a row window to a data query.
	Paginate(b sq.SelectBuilder, limit, offset uint64) sq.SelectBuilder
	// Contains matches column values that contain value.
	Contains(column string, value interface{}) sq.Sqlizer
	// StartsWith matches column values that begin with value.
	StartsWith(column string, value interface{}) sq.Sqlizer
	// CatalogQuery lists (table, column) pairs of user tables in column order.
	CatalogQuery() string
	// SessionSchema returns the statement selecting schema for a session, or
	// "" when the database has no per-session schema.
	SessionSchema(schema string) string
}

const (
	Firebird = "firebird"
	MySQL    = "mysql"
	Postgres = "postgres"
	SQLite   = "sqlite"
	Oracle   = "oracle"
)

// Lookup returns the dialect registered under name.
func Lookup(name string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case Firebird, "firebirdsql", "interbase":
		return firebirdDialect{}, nil
	case MySQL, "tidb", "mariadb":
		return mysqlDialect{}, nil
	case Postgres, "postgresql", "pgx":
		return postgresDialect{}, nil
	case SQLite, "sqlite3":
		return sqliteDialect{}, nil
	case Oracle, "go-ora":
		return oracleDialect{}, nil
	default:
		return nil, fmt.Errorf("unsupported dialect %q", name)
	}
}

func limitOffset(b sq.SelectBuilder, limit, offset uint64) sq.SelectBuilder {
	return b.Suffix(fmt.Sprintf("LIMIT %d OFFSET %d", limit, offset))
}

func likePattern(prefix bool, value interface{}) string {
	text := fmt.Sprint(value)
	if prefix {
		return text + "%"
	}
	return "%" + text + "%"
}
