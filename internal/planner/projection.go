package planner

import (
	"strings"

	"tns-records/internal/catalog"
)

// ColumnMapping ties a generated output alias to the caller's field name.
// Source indexes CompiledQuery.Aliases.
type ColumnMapping struct {
	ExposedAlias string
	LogicalName  string
	Source       int
	RealColumn   string
}

type projected struct {
	name string
	ref  fieldRef
}

// compileProjection lists root fields first, then each join's columns in join
// order. An empty field list selects every allow-listed root column. Output
// names must be unique across the whole query.
func (s *scope) compileProjection(fields []string, joins []joinClause) ([]projected, error) {
	root := s.tables[0]
	var out []projected
	if len(fields) == 0 {
		for _, column := range root.Columns {
			out = append(out, projected{name: column.Logical, ref: fieldRef{alias: 0, column: column}})
		}
	}
	for _, field := range fields {
		column, err := resolveColumn(root, field)
		if err != nil {
			return nil, err
		}
		out = append(out, projected{name: strings.TrimSpace(field), ref: fieldRef{alias: 0, column: column}})
	}
	for _, join := range joins {
		out = append(out, join.columns...)
	}

	seen := make(map[string]struct{}, len(out))
	for _, p := range out {
		key := catalog.Key(p.name)
		if _, dup := seen[key]; dup {
			return nil, Errorf(KindDuplicateField, "field %q is requested more than once", p.name)
		}
		seen[key] = struct{}{}
	}
	return out, nil
}

func (s *scope) columnMappings(cols []projected) ([]ColumnMapping, []string) {
	mappings := make([]ColumnMapping, len(cols))
	exprs := make([]string, len(cols))
	for i, col := range cols {
		alias := aliasName("c", i)
		mappings[i] = ColumnMapping{
			ExposedAlias: alias,
			LogicalName:  col.name,
			Source:       col.ref.alias,
			RealColumn:   col.ref.column.Real,
		}
		exprs[i] = s.columnSQL(col.ref) + " AS " + alias
	}
	return mappings, exprs
}
