package dialect

import (
	"fmt"

	"tns-records/internal/sqlutil"

	sq "github.com/Masterminds/squirrel"
)

// firebirdDialect targets Firebird 2.5+, the engine behind the legacy ERP.
type firebirdDialect struct{}

func (firebirdDialect) Name() string { return Firebird }

func (firebirdDialect) QuoteIdentifier(name string) string {
	if sqlutil.IsPlainIdentifier(name, sqlutil.UpperCase) {
		return name
	}
	return sqlutil.QuoteANSIIdentifier(name)
}

func (firebirdDialect) TableAlias(quotedTable, alias string) string {
	return quotedTable + " AS " + alias
}

func (firebirdDialect) PlaceholderFormat() sq.PlaceholderFormat { return sq.Question }

// Paginate uses FIRST/SKIP, which every Firebird version accepts.
func (firebirdDialect) Paginate(b sq.SelectBuilder, limit, offset uint64) sq.SelectBuilder {
	return b.Options(fmt.Sprintf("FIRST %d", limit), fmt.Sprintf("SKIP %d", offset))
}

func (firebirdDialect) Contains(column string, value interface{}) sq.Sqlizer {
	return sq.Expr(column+" CONTAINING ?", value)
}

func (firebirdDialect) StartsWith(column string, value interface{}) sq.Sqlizer {
	return sq.Expr(column+" STARTING WITH ?", value)
}

func (firebirdDialect) CatalogQuery() string {
	return `SELECT TRIM(r.RDB$RELATION_NAME), TRIM(f.RDB$FIELD_NAME)
FROM RDB$RELATIONS r
JOIN RDB$RELATION_FIELDS f ON f.RDB$RELATION_NAME = r.RDB$RELATION_NAME
WHERE COALESCE(r.RDB$SYSTEM_FLAG, 0) = 0 AND r.RDB$VIEW_BLR IS NULL
ORDER BY r.RDB$RELATION_NAME, f.RDB$FIELD_POSITION`
}

// SessionSchema is unsupported; each Firebird tenant is its own database file.
func (firebirdDialect) SessionSchema(string) string { return "" }
