package planner

import (
	"encoding/json"
	"strings"
)

// QuerySpec describes one records query in logical names.
type QuerySpec struct {
	Table    string      `json:"table"`
	Fields   []string    `json:"fields"`
	Joins    []JoinSpec  `json:"joins"`
	Filters  FilterExpr  `json:"filters"`
	Order    []OrderSpec `json:"order"`
	Page     int         `json:"page"`
	PageSize int         `json:"pageSize"`
}

// JoinType selects the SQL join flavour.
type JoinType string

const (
	InnerJoin JoinType = "INNER"
	LeftJoin  JoinType = "LEFT"
)

// ParseJoinType normalizes a join type; empty means INNER.
func ParseJoinType(raw string) (JoinType, bool) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "", "INNER":
		return InnerJoin, true
	case "LEFT", "LEFT OUTER":
		return LeftJoin, true
	default:
		return "", false
	}
}

// JoinSpec joins one table on LocalField = ForeignField.
type JoinSpec struct {
	Table        string       `json:"table"`
	LocalField   string       `json:"localField"`
	ForeignField string       `json:"foreignField"`
	Columns      []JoinColumn `json:"columns"`
	Type         JoinType     `json:"joinType,omitempty"`
	// From restricts the LocalField owner to aliases of this logical table.
	From string `json:"joinFrom,omitempty"`
}

// JoinColumn exposes a joined column under a logical output name. A hidden
// column can be filtered and ordered on but is not selected.
type JoinColumn struct {
	Source    string `json:"source"`
	ExposedAs string `json:"exposedAs,omitempty"`
	Hidden    bool   `json:"hidden,omitempty"`
}

// OutputName returns ExposedAs, defaulting to Source.
func (c JoinColumn) OutputName() string {
	if strings.TrimSpace(c.ExposedAs) != "" {
		return strings.TrimSpace(c.ExposedAs)
	}
	return strings.TrimSpace(c.Source)
}

// Direction is an ORDER BY direction.
type Direction string

const (
	Asc  Direction = "ASC"
	Desc Direction = "DESC"
)

// OrderSpec orders by one field.
type OrderSpec struct {
	Field     string    `json:"field"`
	Direction Direction `json:"direction,omitempty"`
}

// UnmarshalJSON accepts {"field","direction"} objects and the legacy string
// forms "FIELD" and "FIELD_DESC".
func (o *OrderSpec) UnmarshalJSON(data []byte) error {
	var legacy string
	if err := json.Unmarshal(data, &legacy); err == nil {
		if field, ok := strings.CutSuffix(legacy, "_DESC"); ok {
			*o = OrderSpec{Field: field, Direction: Desc}
			return nil
		}
		*o = OrderSpec{Field: legacy, Direction: Asc}
		return nil
	}
	type plain OrderSpec
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return Errorf(KindInvalidQuery, "invalid order entry: %v", err)
	}
	*o = OrderSpec(p)
	return nil
}

func parseDirection(raw Direction) (Direction, bool) {
	switch Direction(strings.ToUpper(strings.TrimSpace(string(raw)))) {
	case "", Asc:
		return Asc, true
	case Desc:
		return Desc, true
	default:
		return "", false
	}
}

// Operator is a filter comparison.
type Operator string

const (
	OpEquals         Operator = "equals"
	OpNotEquals      Operator = "notEquals"
	OpGreaterThan    Operator = "greaterThan"
	OpLessThan       Operator = "lessThan"
	OpGreaterOrEqual Operator = "greaterOrEqual"
	OpLessOrEqual    Operator = "lessOrEqual"
	OpLike           Operator = "like"
	OpIn             Operator = "in"
	OpIsNull         Operator = "isNull"
	OpContains       Operator = "contains"
	OpStartsWith     Operator = "startsWith"
	OpBetween        Operator = "between"
)

var operatorAliases = map[string]Operator{
	"equals": OpEquals, "eq": OpEquals, "=": OpEquals,
	"notequals": OpNotEquals, "ne": OpNotEquals, "neq": OpNotEquals, "!=": OpNotEquals, "<>": OpNotEquals,
	"greaterthan": OpGreaterThan, "gt": OpGreaterThan, ">": OpGreaterThan,
	"lessthan": OpLessThan, "lt": OpLessThan, "<": OpLessThan,
	"greaterorequal": OpGreaterOrEqual, "gte": OpGreaterOrEqual, ">=": OpGreaterOrEqual,
	"lessorequal": OpLessOrEqual, "lte": OpLessOrEqual, "<=": OpLessOrEqual,
	"like":       OpLike,
	"in":         OpIn,
	"isnull":     OpIsNull,
	"contains":   OpContains,
	"containing": OpContains,
	"startswith": OpStartsWith, "starting with": OpStartsWith,
	"between": OpBetween,
}

// ParseOperator accepts operator names and their legacy SQL spellings.
func ParseOperator(raw string) (Operator, bool) {
	key := strings.ToLower(strings.Join(strings.Fields(raw), " "))
	op, ok := operatorAliases[key]
	return op, ok
}

// Condition is one filter leaf. Values is used by in and between.
type Condition struct {
	Field  string        `json:"field"`
	Op     Operator      `json:"operator"`
	Value  interface{}   `json:"value,omitempty"`
	Values []interface{} `json:"values,omitempty"`
}

// FilterExpr is a conjunction of Conditions, optionally AND-ed with one OR
// group (AnyOf).
type FilterExpr struct {
	Conditions []Condition
	AnyOf      []Condition
}

// IsEmpty reports whether the expression has no conditions.
func (f FilterExpr) IsEmpty() bool {
	return len(f.Conditions) == 0 && len(f.AnyOf) == 0
}
