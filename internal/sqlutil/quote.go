// Package sqlutil provides SQL identifier helpers shared by the dialect adapters.
package sqlutil

import "strings"

// Case describes how a database folds unquoted identifiers.
type Case int

const (
	// AnyCase means unquoted identifiers keep their spelling (SQLite, MySQL).
	AnyCase Case = iota
	// UpperCase means unquoted identifiers fold to upper case (Firebird, Oracle).
	UpperCase
	// LowerCase means unquoted identifiers fold to lower case (PostgreSQL).
	LowerCase
)

// QuoteIdentifier quotes a SQL identifier (table name, column name, etc.)
// with backticks and escapes any backticks within the identifier.
func QuoteIdentifier(name string) string {
	escaped := strings.ReplaceAll(name, "`", "``")
	return "`" + escaped + "`"
}

// QuoteANSIIdentifier quotes an identifier with double quotes, doubling any
// embedded double quote.
func QuoteANSIIdentifier(name string) string {
	escaped := strings.ReplaceAll(name, `"`, `""`)
	return `"` + escaped + `"`
}

// IsPlainIdentifier reports whether name can be emitted without quotes in a
// database that folds unquoted identifiers to fold. Reserved words never qualify.
func IsPlainIdentifier(name string, fold Case) bool {
	if name == "" || IsReserved(name) {
		return false
	}
	for i, r := range name {
		switch {
		case r >= 'A' && r <= 'Z':
			if fold == LowerCase {
				return false
			}
		case r >= 'a' && r <= 'z':
			if fold == UpperCase {
				return false
			}
		case r == '_':
		case r >= '0' && r <= '9', r == '$':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// IsReserved reports whether name is a keyword in at least one supported dialect.
func IsReserved(name string) bool {
	return reservedWords[strings.ToUpper(name)]
}

var reservedWords = map[string]bool{
	"ADD": true, "ALL": true, "ALTER": true, "AND": true, "ANY": true, "AS": true,
	"ASC": true, "BETWEEN": true, "BY": true, "CASE": true, "CHECK": true,
	"COLUMN": true, "CONSTRAINT": true, "CREATE": true, "CROSS": true,
	"CURRENT": true, "DATE": true, "DEFAULT": true, "DELETE": true, "DESC": true,
	"DISTINCT": true, "DROP": true, "ELSE": true, "END": true, "EXISTS": true,
	"FIRST": true, "FOR": true, "FOREIGN": true, "FROM": true, "FULL": true,
	"GROUP": true, "HAVING": true, "IN": true, "INDEX": true, "INNER": true,
	"INSERT": true, "INTO": true, "IS": true, "JOIN": true, "KEY": true,
	"LEFT": true, "LIKE": true, "LIMIT": true, "NOT": true, "NULL": true,
	"OFFSET": true, "ON": true, "OR": true, "ORDER": true, "OUTER": true,
	"POSITION": true, "PRIMARY": true, "REFERENCES": true, "RIGHT": true,
	"ROWS": true, "SELECT": true, "SET": true, "SKIP": true, "TABLE": true,
	"THEN": true, "TIME": true, "TIMESTAMP": true, "TO": true, "UNION": true,
	"UNIQUE": true, "UPDATE": true, "USER": true, "VALUE": true, "VALUES": true,
	"WHEN": true, "WHERE": true, "WITH": true,
}
