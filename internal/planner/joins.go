package planner

import (
	"strings"

	"tns-records/internal/catalog"
)

// joinClause is one validated join; alias indexes scope.aliases. hidden
// columns are resolvable by name but never projected.
type joinClause struct {
	kind    JoinType
	alias   int
	local   fieldRef
	foreign fieldRef
	columns []projected
	hidden  []projected
}

// compileJoins assigns t1..tN in caller order and resolves every identifier a
// join names. LocalField must belong to the root or an earlier join; forward
// references fail with DanglingJoin and are never reordered.
func (s *scope) compileJoins(specs []JoinSpec) ([]joinClause, error) {
	joins := make([]joinClause, 0, len(specs))
	for i, spec := range specs {
		kind, ok := ParseJoinType(string(spec.Type))
		if !ok {
			return nil, Errorf(KindInvalidQuery, "join %d: unsupported join type %q", i, spec.Type)
		}
		table, err := s.resolveTable(spec.Table)
		if err != nil {
			return nil, err
		}
		if strings.TrimSpace(spec.LocalField) == "" || strings.TrimSpace(spec.ForeignField) == "" {
			return nil, Errorf(KindInvalidQuery, "join %d on %q needs localField and foreignField", i, table.Logical)
		}

		local, err := s.joinOwner(spec)
		if err != nil {
			return nil, err
		}

		idx := s.addAlias(table)
		foreignColumn, err := resolveColumn(table, spec.ForeignField)
		if err != nil {
			return nil, err
		}

		clause := joinClause{
			kind:    kind,
			alias:   idx,
			local:   local,
			foreign: fieldRef{alias: idx, column: foreignColumn},
		}
		for _, col := range spec.Columns {
			column, err := resolveColumn(table, col.Source)
			if err != nil {
				return nil, err
			}
			p := projected{
				name: col.OutputName(),
				ref:  fieldRef{alias: idx, column: column},
			}
			if col.Hidden {
				clause.hidden = append(clause.hidden, p)
			} else {
				clause.columns = append(clause.columns, p)
			}
		}
		joins = append(joins, clause)
	}

	// Selected names take precedence over hidden ones.
	for _, join := range joins {
		s.expose(join.columns)
	}
	for _, join := range joins {
		s.expose(join.hidden)
	}
	return joins, nil
}

func (s *scope) expose(cols []projected) {
	for _, col := range cols {
		key := catalog.Key(col.name)
		if _, exists := s.exposed[key]; !exists {
			s.exposed[key] = col.ref
		}
	}
}

// joinOwner searches the aliases created so far, root first, for the one
// holding LocalField. When From is set only aliases of that table qualify.
func (s *scope) joinOwner(spec JoinSpec) (fieldRef, error) {
	from := strings.TrimSpace(spec.From)
	matchedFrom := false
	for i, table := range s.tables {
		if from != "" {
			if catalog.Key(table.Logical) != catalog.Key(from) {
				continue
			}
			matchedFrom = true
		}
		if column, ok := table.Column(spec.LocalField); ok {
			return fieldRef{alias: i, column: column}, nil
		}
	}
	if from != "" && !matchedFrom {
		return fieldRef{}, Errorf(KindDanglingJoin, "join on %q references %q before it is joined", strings.TrimSpace(spec.Table), from)
	}
	return fieldRef{}, Errorf(KindDanglingJoin, "join on %q: local field %q is not on the root or an earlier join", strings.TrimSpace(spec.Table), strings.TrimSpace(spec.LocalField))
}

func (s *scope) joinSQL(join joinClause) string {
	return string(join.kind) + " JOIN " + s.tableSQL(join.alias) +
		" ON " + s.columnSQL(join.local) + " = " + s.columnSQL(join.foreign)
}
