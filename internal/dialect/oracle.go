package dialect

import (
	"fmt"

	"tns-records/internal/sqlutil"

	sq "github.com/Masterminds/squirrel"
)

type oracleDialect struct{}

func (oracleDialect) Name() string { return Oracle }

func (oracleDialect) QuoteIdentifier(name string) string {
	if sqlutil.IsPlainIdentifier(name, sqlutil.UpperCase) {
		return name
	}
	return sqlutil.QuoteANSIIdentifier(name)
}

// TableAlias omits AS, which Oracle rejects for table aliases.
func (oracleDialect) TableAlias(quotedTable, alias string) string {
	return quotedTable + " " + alias
}

func (oracleDialect) PlaceholderFormat() sq.PlaceholderFormat { return sq.Colon }

// Paginate needs Oracle 12c or later.
func (oracleDialect) Paginate(b sq.SelectBuilder, limit, offset uint64) sq.SelectBuilder {
	return b.Suffix(fmt.Sprintf("OFFSET %d ROWS FETCH NEXT %d ROWS ONLY", offset, limit))
}

func (oracleDialect) Contains(column string, value interface{}) sq.Sqlizer {
	return sq.Like{column: likePattern(false, value)}
}

func (oracleDialect) StartsWith(column string, value interface{}) sq.Sqlizer {
	return sq.Like{column: likePattern(true, value)}
}

func (oracleDialect) CatalogQuery() string {
	return `SELECT TABLE_NAME, COLUMN_NAME
FROM USER_TAB_COLUMNS
ORDER BY TABLE_NAME, COLUMN_ID`
}

func (oracleDialect) SessionSchema(schema string) string {
	return "ALTER SESSION SET CURRENT_SCHEMA = " + sqlutil.QuoteANSIIdentifier(schema)
}
