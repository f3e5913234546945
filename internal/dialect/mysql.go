package dialect

import (
	"tns-records/internal/sqlutil"

	sq "github.com/Masterminds/squirrel"
)

type mysqlDialect struct{}

func (mysqlDialect) Name() string { return MySQL }

// QuoteIdentifier always uses backticks; MySQL table names may be case-sensitive
// depending on the host filesystem.
func (mysqlDialect) QuoteIdentifier(name string) string {
	return sqlutil.QuoteIdentifier(name)
}

func (mysqlDialect) TableAlias(quotedTable, alias string) string {
	return quotedTable + " AS " + alias
}

func (mysqlDialect) PlaceholderFormat() sq.PlaceholderFormat { return sq.Question }

func (mysqlDialect) Paginate(b sq.SelectBuilder, limit, offset uint64) sq.SelectBuilder {
	return limitOffset(b, limit, offset)
}

func (mysqlDialect) Contains(column string, value interface{}) sq.Sqlizer {
	return sq.Like{column: likePattern(false, value)}
}

func (mysqlDialect) StartsWith(column string, value interface{}) sq.Sqlizer {
	return sq.Like{column: likePattern(true, value)}
}

func (mysqlDialect) CatalogQuery() string {
	return `SELECT TABLE_NAME, COLUMN_NAME
FROM information_schema.COLUMNS
WHERE TABLE_SCHEMA = DATABASE()
ORDER BY TABLE_NAME, ORDINAL_POSITION`
}

func (mysqlDialect) SessionSchema(schema string) string {
	return "USE " + sqlutil.QuoteIdentifier(schema)
}
