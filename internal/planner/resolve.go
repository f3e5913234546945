package planner

import (
	"strconv"
	"strings"

	"tns-records/internal/catalog"
	"tns-records/internal/dialect"
)

// AliasEntry binds a generated table alias to one real table.
type AliasEntry struct {
	Alias        string
	RealTable    string
	LogicalTable string
}

// fieldRef points at a real column on one alias of the scope.
type fieldRef struct {
	alias  int
	column catalog.Column
}

// scope holds every alias created for one compilation. tables is parallel to
// aliases; exposed maps join output names to their source columns.
type scope struct {
	catalog *catalog.Catalog
	dialect dialect.Dialect
	aliases []AliasEntry
	tables  []*catalog.Table
	exposed map[string]fieldRef
}

func newScope(cat *catalog.Catalog, d dialect.Dialect) *scope {
	return &scope{catalog: cat, dialect: d, exposed: make(map[string]fieldRef)}
}

func (s *scope) resolveTable(name string) (*catalog.Table, error) {
	table, ok := s.catalog.Table(name)
	if !ok {
		return nil, Errorf(KindUnknownIdentifier, "unknown table %q", strings.TrimSpace(name))
	}
	return table, nil
}

func resolveColumn(table *catalog.Table, name string) (catalog.Column, error) {
	column, ok := table.Column(name)
	if !ok {
		return catalog.Column{}, Errorf(KindUnknownIdentifier, "unknown field %q on table %q", strings.TrimSpace(name), table.Logical)
	}
	return column, nil
}

// addAlias registers the next tN alias for table.
func (s *scope) addAlias(table *catalog.Table) int {
	idx := len(s.aliases)
	s.aliases = append(s.aliases, AliasEntry{
		Alias:        aliasName("t", idx),
		RealTable:    table.Real,
		LogicalTable: table.Logical,
	})
	s.tables = append(s.tables, table)
	return idx
}

// resolveField finds the column a filter or order field refers to: a root
// column, a name exposed by a join, a column of a joined table (joins in
// order), a TABLE.FIELD qualified name or, for joined tables only, the
// TABLE_FIELD form.
func (s *scope) resolveField(name string) (fieldRef, bool) {
	name = strings.TrimSpace(name)
	if name == "" || len(s.tables) == 0 {
		return fieldRef{}, false
	}
	if column, ok := s.tables[0].Column(name); ok {
		return fieldRef{alias: 0, column: column}, true
	}
	if ref, ok := s.exposed[catalog.Key(name)]; ok {
		return ref, true
	}
	for i := 1; i < len(s.tables); i++ {
		if column, ok := s.tables[i].Column(name); ok {
			return fieldRef{alias: i, column: column}, true
		}
	}
	if tableName, fieldName, ok := strings.Cut(name, "."); ok {
		for i, table := range s.tables {
			if catalog.Key(table.Logical) != catalog.Key(tableName) {
				continue
			}
			if column, ok := table.Column(fieldName); ok {
				return fieldRef{alias: i, column: column}, true
			}
		}
	}
	for i := 1; i < len(s.tables); i++ {
		prefix := s.tables[i].Logical + "_"
		if len(name) <= len(prefix) || !strings.EqualFold(name[:len(prefix)], prefix) {
			continue
		}
		if column, ok := s.tables[i].Column(name[len(prefix):]); ok {
			return fieldRef{alias: i, column: column}, true
		}
	}
	return fieldRef{}, false
}

// columnSQL renders alias.column with the real name quoted for the dialect.
func (s *scope) columnSQL(ref fieldRef) string {
	return s.aliases[ref.alias].Alias + "." + s.dialect.QuoteIdentifier(ref.column.Real)
}

func (s *scope) tableSQL(idx int) string {
	entry := s.aliases[idx]
	return s.dialect.TableAlias(s.dialect.QuoteIdentifier(entry.RealTable), entry.Alias)
}

func aliasName(prefix string, idx int) string {
	return prefix + strconv.Itoa(idx)
}
