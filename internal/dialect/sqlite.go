package dialect

import (
	"tns-records/internal/sqlutil"

	sq "github.com/Masterminds/squirrel"
)

type sqliteDialect struct{}

func (sqliteDialect) Name() string { return SQLite }

func (sqliteDialect) QuoteIdentifier(name string) string {
	if sqlutil.IsPlainIdentifier(name, sqlutil.AnyCase) {
		return name
	}
	return sqlutil.QuoteANSIIdentifier(name)
}

func (sqliteDialect) TableAlias(quotedTable, alias string) string {
	return quotedTable + " AS " + alias
}

func (sqliteDialect) PlaceholderFormat() sq.PlaceholderFormat { return sq.Question }

func (sqliteDialect) Paginate(b sq.SelectBuilder, limit, offset uint64) sq.SelectBuilder {
	return limitOffset(b, limit, offset)
}

func (sqliteDialect) Contains(column string, value interface{}) sq.Sqlizer {
	return sq.Like{column: likePattern(false, value)}
}

func (sqliteDialect) StartsWith(column string, value interface{}) sq.Sqlizer {
	return sq.Like{column: likePattern(true, value)}
}

func (sqliteDialect) CatalogQuery() string {
	return `SELECT m.name, p.name
FROM sqlite_master m
JOIN pragma_table_info(m.name) p
WHERE m.type = 'table' AND m.name NOT LIKE 'sqlite_%'
ORDER BY m.name, p.cid`
}

func (sqliteDialect) SessionSchema(string) string { return "" }
