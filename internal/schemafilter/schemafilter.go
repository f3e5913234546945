// Package schemafilter applies allow/deny filters to tenant catalogs.
package schemafilter

import (
	"path"
	"slices"
	"strings"

	"tns-records/internal/catalog"
)

// Config controls allow/deny filters for tables and columns. Patterns use
// path.Match syntax and match either the logical or the real name.
type Config struct {
	AllowTables  []string            `mapstructure:"allow_tables"`
	DenyTables   []string            `mapstructure:"deny_tables"`
	AllowColumns map[string][]string `mapstructure:"allow_columns"`
	DenyColumns  map[string][]string `mapstructure:"deny_columns"`
}

// IsZero reports whether the config filters nothing.
func (c Config) IsZero() bool {
	return len(c.AllowTables) == 0 && len(c.DenyTables) == 0 &&
		len(c.AllowColumns) == 0 && len(c.DenyColumns) == 0
}

// Apply returns a filtered copy of cat. Missing allow lists default to
// allow-all; deny rules always win. Tables left without columns are dropped.
func Apply(cat *catalog.Catalog, cfg Config) (*catalog.Catalog, error) {
	if cat == nil || cfg.IsZero() {
		return cat, nil
	}

	filtered := make([]catalog.Table, 0, cat.Len())
	for _, table := range cat.Tables() {
		names := []string{table.Logical, table.Real}
		if !tableAllowed(names, cfg.AllowTables, cfg.DenyTables) {
			continue
		}

		columns := make([]catalog.Column, 0, len(table.Columns))
		for _, column := range table.Columns {
			if !columnAllowed(names, []string{column.Logical, column.Real}, cfg.AllowColumns, cfg.DenyColumns) {
				continue
			}
			columns = append(columns, column)
		}
		if len(columns) == 0 {
			continue
		}
		filtered = append(filtered, catalog.Table{Logical: table.Logical, Real: table.Real, Columns: columns})
	}

	return catalog.New(filtered...)
}

func tableAllowed(names []string, allow, deny []string) bool {
	if matchesAny(names, deny) {
		return false
	}
	if len(allow) == 0 {
		return true
	}
	return matchesAny(names, allow)
}

func columnAllowed(tableNames, columnNames []string, allow, deny map[string][]string) bool {
	if matchesAny(columnNames, mergePatterns(deny, tableNames)) {
		return false
	}
	allowPatterns := mergePatterns(allow, tableNames)
	if len(allowPatterns) == 0 {
		return true
	}
	return matchesAny(columnNames, allowPatterns)
}

// mergePatterns collects the wildcard patterns plus those keyed by any of the
// table's names. Keys compare case-insensitively.
func mergePatterns(patterns map[string][]string, tableNames []string) []string {
	if patterns == nil {
		return nil
	}
	combined := append([]string{}, patterns["*"]...)
	for key, list := range patterns {
		if key == "*" {
			continue
		}
		for _, name := range tableNames {
			if strings.EqualFold(key, name) {
				combined = append(combined, list...)
				break
			}
		}
	}
	slices.Sort(combined)
	return slices.Compact(combined)
}

func matchesAny(values []string, patterns []string) bool {
	for _, pattern := range patterns {
		if pattern == "" {
			continue
		}
		pattern = strings.ToLower(pattern)
		for _, value := range values {
			// matching should be case-insensitive
			ok, err := path.Match(pattern, strings.ToLower(value))
			if err != nil {
				break
			}
			if ok {
				return true
			}
		}
	}
	return false
}
