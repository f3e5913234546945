package planner

import "strings"

// Demap rekeys driver rows (keyed by output aliases) by logical field names in
// projection order. Values pass through unchanged. Alias lookup falls back to
// a case-insensitive match because Firebird and Oracle upper-case unquoted
// aliases. A missing alias means the executed query diverged from the
// compiled one and fails with ResultShapeMismatch.
func Demap(columns []ColumnMapping, rows []map[string]interface{}) ([]Record, error) {
	records := make([]Record, 0, len(rows))
	for i, row := range rows {
		record := make(Record, len(columns))
		for j, col := range columns {
			value, ok := lookupAlias(row, col.ExposedAlias)
			if !ok {
				return nil, Errorf(KindResultShapeMismatch, "row %d is missing column %s for %q", i, col.ExposedAlias, col.LogicalName)
			}
			record[j] = Field{Name: col.LogicalName, Value: value}
		}
		records = append(records, record)
	}
	return records, nil
}

func lookupAlias(row map[string]interface{}, alias string) (interface{}, bool) {
	if value, ok := row[alias]; ok {
		return value, true
	}
	for key, value := range row {
		if strings.EqualFold(key, alias) {
			return value, true
		}
	}
	return nil, false
}
