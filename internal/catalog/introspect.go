package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Queryer provides query access for catalog introspection.
type Queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Introspect builds a catalog from a query returning (table, column) rows
// ordered by table and column position. It runs at startup and on reload,
// never while serving a record query.
func Introspect(ctx context.Context, db Queryer, query string) (*Catalog, error) {
	ctx, span := otel.Tracer("tns-records/catalog").Start(ctx, "catalog.introspect")
	defer span.End()

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to query catalog: %w", err)
	}
	defer rows.Close()

	var tables []Table
	var current *Table
	for rows.Next() {
		var tableName, columnName string
		if err := rows.Scan(&tableName, &columnName); err != nil {
			return nil, fmt.Errorf("failed to scan catalog row: %w", err)
		}
		// Firebird pads CHAR system columns.
		tableName = strings.TrimSpace(tableName)
		columnName = strings.TrimSpace(columnName)
		if current == nil || current.Real != tableName {
			tables = append(tables, Table{Real: tableName})
			current = &tables[len(tables)-1]
		}
		current.Columns = append(current.Columns, Column{Real: columnName})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read catalog rows: %w", err)
	}

	cat, err := New(tables...)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("catalog.tables", cat.Len()))
	return cat, nil
}
