// Package planner compiles records queries into parameterized SQL.
//
// Compilation is pure: it resolves every logical name against a catalog
// snapshot, validates the whole query and only then renders SQL text. The
// data and count statements are built from one rendered FROM/JOIN/WHERE.
package planner

import (
	"fmt"

	"tns-records/internal/catalog"
	"tns-records/internal/dialect"

	sq "github.com/Masterminds/squirrel"
)

// WarnUnordered is added when a paged query has no ORDER BY.
const WarnUnordered = "query has no order; pagination over an unordered result is not stable"

// Options configures compilation.
type Options struct {
	Dialect dialect.Dialect
	Limits  PageLimits
}

// SQLQuery is one rendered statement with its bound args.
type SQLQuery struct {
	SQL  string
	Args []interface{}
}

func toSQLQuery(b sq.SelectBuilder) (SQLQuery, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return SQLQuery{}, err
	}
	return SQLQuery{SQL: query, Args: args}, nil
}

// CompiledQuery is the result of compiling one QuerySpec.
type CompiledQuery struct {
	Data     SQLQuery
	Count    SQLQuery
	Aliases  []AliasEntry
	Columns  []ColumnMapping
	Page     int
	PageSize int
	Offset   uint64
	// Clamped reports that the requested page size exceeded the maximum.
	Clamped  bool
	Warnings []string
}

// Compile validates spec against cat and renders the data and count queries.
// Any validation error is returned before SQL text is produced.
func Compile(spec QuerySpec, cat *catalog.Catalog, opts Options) (*CompiledQuery, error) {
	if opts.Dialect == nil {
		return nil, fmt.Errorf("planner: dialect is required")
	}
	if cat == nil {
		return nil, fmt.Errorf("planner: catalog is required")
	}

	s := newScope(cat, opts.Dialect)
	root, err := s.resolveTable(spec.Table)
	if err != nil {
		return nil, err
	}
	s.addAlias(root)

	joins, err := s.compileJoins(spec.Joins)
	if err != nil {
		return nil, err
	}
	projection, err := s.compileProjection(spec.Fields, joins)
	if err != nil {
		return nil, err
	}
	filters, err := s.compileFilters(spec.Filters)
	if err != nil {
		return nil, err
	}
	orderBy, err := s.compileOrder(spec.Order)
	if err != nil {
		return nil, err
	}
	limits := opts.Limits.normalized()
	page, err := limits.Paginate(spec.Page, spec.PageSize)
	if err != nil {
		return nil, err
	}

	// Validation is complete; render.
	whereSQL, whereArgs, err := renderWhere(filters)
	if err != nil {
		return nil, fmt.Errorf("planner: render where: %w", err)
	}
	shared := func(b sq.SelectBuilder) sq.SelectBuilder {
		b = b.From(s.tableSQL(0))
		for _, join := range joins {
			b = b.JoinClause(s.joinSQL(join))
		}
		if whereSQL != "" {
			b = b.Where(sq.Expr(whereSQL, whereArgs...))
		}
		return b
	}

	columns, selectExprs := s.columnMappings(projection)
	data := shared(sq.Select(selectExprs...))
	if len(orderBy) > 0 {
		data = data.OrderBy(orderBy...)
	}
	data = opts.Dialect.Paginate(data, uint64(page.PageSize), page.Offset)
	dataQuery, err := toSQLQuery(data.PlaceholderFormat(opts.Dialect.PlaceholderFormat()))
	if err != nil {
		return nil, fmt.Errorf("planner: render data query: %w", err)
	}
	countQuery, err := toSQLQuery(shared(sq.Select("COUNT(*)")).PlaceholderFormat(opts.Dialect.PlaceholderFormat()))
	if err != nil {
		return nil, fmt.Errorf("planner: render count query: %w", err)
	}

	compiled := &CompiledQuery{
		Data:     dataQuery,
		Count:    countQuery,
		Aliases:  s.aliases,
		Columns:  columns,
		Page:     page.Page,
		PageSize: page.PageSize,
		Offset:   page.Offset,
		Clamped:  page.Clamped,
	}
	if len(orderBy) == 0 {
		compiled.Warnings = append(compiled.Warnings, WarnUnordered)
	}
	if page.Clamped {
		compiled.Warnings = append(compiled.Warnings, page.clampWarning(limits.MaxPageSize))
	}
	return compiled, nil
}
