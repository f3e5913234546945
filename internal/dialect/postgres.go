package dialect

import (
	"tns-records/internal/sqlutil"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"
)

type postgresDialect struct{}

func (postgresDialect) Name() string { return Postgres }

func (postgresDialect) QuoteIdentifier(name string) string {
	if sqlutil.IsPlainIdentifier(name, sqlutil.LowerCase) {
		return name
	}
	return pq.QuoteIdentifier(name)
}

func (postgresDialect) TableAlias(quotedTable, alias string) string {
	return quotedTable + " AS " + alias
}

func (postgresDialect) PlaceholderFormat() sq.PlaceholderFormat { return sq.Dollar }

func (postgresDialect) Paginate(b sq.SelectBuilder, limit, offset uint64) sq.SelectBuilder {
	return limitOffset(b, limit, offset)
}

func (postgresDialect) Contains(column string, value interface{}) sq.Sqlizer {
	return sq.Like{column: likePattern(false, value)}
}

func (postgresDialect) StartsWith(column string, value interface{}) sq.Sqlizer {
	return sq.Like{column: likePattern(true, value)}
}

func (postgresDialect) CatalogQuery() string {
	return `SELECT c.table_name, c.column_name
FROM information_schema.columns c
JOIN information_schema.tables t
  ON t.table_schema = c.table_schema AND t.table_name = c.table_name
WHERE c.table_schema = current_schema() AND t.table_type = 'BASE TABLE'
ORDER BY c.table_name, c.ordinal_position`
}

func (postgresDialect) SessionSchema(schema string) string {
	return "SET search_path TO " + pq.QuoteIdentifier(schema)
}
