package planner

import (
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
)

// filterPlan holds validated predicates; they are rendered once by the
// assembler and shared by the data and count statements.
type filterPlan struct {
	all   []sq.Sqlizer
	anyOf []sq.Sqlizer
}

func (p filterPlan) empty() bool {
	return len(p.all) == 0 && len(p.anyOf) == 0
}

// compileFilters resolves every filter field (projection is not required)
// and builds one predicate per condition. Literal values are always bound.
func (s *scope) compileFilters(expr FilterExpr) (filterPlan, error) {
	var plan filterPlan
	for _, cond := range expr.Conditions {
		pred, err := s.predicate(cond)
		if err != nil {
			return filterPlan{}, err
		}
		plan.all = append(plan.all, pred)
	}
	for _, cond := range expr.AnyOf {
		pred, err := s.predicate(cond)
		if err != nil {
			return filterPlan{}, err
		}
		plan.anyOf = append(plan.anyOf, pred)
	}
	return plan, nil
}

func (s *scope) predicate(cond Condition) (sq.Sqlizer, error) {
	ref, ok := s.resolveField(cond.Field)
	if !ok {
		return nil, Errorf(KindUnknownFilterField, "unknown filter field %q", strings.TrimSpace(cond.Field))
	}
	op, ok := ParseOperator(string(cond.Op))
	if !ok {
		return nil, Errorf(KindInvalidQuery, "unsupported filter operator %q on %q", cond.Op, cond.Field)
	}
	column := s.columnSQL(ref)

	switch op {
	case OpEquals, OpNotEquals:
		if err := checkScalar(cond, cond.Value); err != nil {
			return nil, err
		}
		if op == OpEquals {
			return sq.Eq{column: cond.Value}, nil
		}
		return sq.NotEq{column: cond.Value}, nil
	case OpGreaterThan, OpLessThan, OpGreaterOrEqual, OpLessOrEqual, OpLike, OpContains, OpStartsWith:
		if cond.Value == nil {
			return nil, Errorf(KindInvalidQuery, "filter %s on %q needs a value", op, cond.Field)
		}
		if err := checkScalar(cond, cond.Value); err != nil {
			return nil, err
		}
		switch op {
		case OpGreaterThan:
			return sq.Gt{column: cond.Value}, nil
		case OpLessThan:
			return sq.Lt{column: cond.Value}, nil
		case OpGreaterOrEqual:
			return sq.GtOrEq{column: cond.Value}, nil
		case OpLessOrEqual:
			return sq.LtOrEq{column: cond.Value}, nil
		case OpLike:
			return sq.Like{column: cond.Value}, nil
		case OpContains:
			return s.dialect.Contains(column, cond.Value), nil
		default:
			return s.dialect.StartsWith(column, cond.Value), nil
		}
	case OpIn:
		values := listValues(cond)
		if len(values) == 0 {
			return nil, Errorf(KindInvalidQuery, "filter in on %q needs at least one value", cond.Field)
		}
		for _, v := range values {
			if v == nil {
				return nil, Errorf(KindInvalidQuery, "filter in on %q cannot contain null", cond.Field)
			}
			if err := checkScalar(cond, v); err != nil {
				return nil, err
			}
		}
		return sq.Eq{column: values}, nil
	case OpIsNull:
		isNull := true
		if cond.Value != nil {
			b, ok := cond.Value.(bool)
			if !ok {
				return nil, Errorf(KindInvalidQuery, "filter isNull on %q takes a boolean", cond.Field)
			}
			isNull = b
		}
		if isNull {
			return sq.Eq{column: nil}, nil
		}
		return sq.NotEq{column: nil}, nil
	case OpBetween:
		values := listValues(cond)
		if len(values) != 2 || values[0] == nil || values[1] == nil {
			return nil, Errorf(KindInvalidQuery, "filter between on %q needs exactly two values", cond.Field)
		}
		for _, v := range values {
			if err := checkScalar(cond, v); err != nil {
				return nil, err
			}
		}
		return sq.Expr(column+" BETWEEN ? AND ?", values[0], values[1]), nil
	}
	return nil, Errorf(KindInvalidQuery, "unsupported filter operator %q on %q", cond.Op, cond.Field)
}

func listValues(cond Condition) []interface{} {
	if len(cond.Values) > 0 {
		return cond.Values
	}
	if list, ok := cond.Value.([]interface{}); ok {
		return list
	}
	return nil
}

// checkScalar rejects nested objects and lists where one bound value belongs.
func checkScalar(cond Condition, v interface{}) error {
	switch v.(type) {
	case nil, string, bool, time.Time, []byte,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return nil
	default:
		return Errorf(KindInvalidQuery, "filter %s on %q has an unsupported value", cond.Op, cond.Field)
	}
}

// renderWhere renders the conjunction once. Terms are joined directly so the
// fragment carries no redundant parentheses; the OR group is parenthesized.
func renderWhere(plan filterPlan) (string, []interface{}, error) {
	if plan.empty() {
		return "", nil, nil
	}
	var parts []string
	var args []interface{}
	for _, pred := range plan.all {
		text, predArgs, err := pred.ToSql()
		if err != nil {
			return "", nil, err
		}
		parts = append(parts, text)
		args = append(args, predArgs...)
	}
	if len(plan.anyOf) > 0 {
		alternatives := make([]string, 0, len(plan.anyOf))
		for _, pred := range plan.anyOf {
			text, predArgs, err := pred.ToSql()
			if err != nil {
				return "", nil, err
			}
			alternatives = append(alternatives, text)
			args = append(args, predArgs...)
		}
		parts = append(parts, "("+strings.Join(alternatives, " OR ")+")")
	}
	return strings.Join(parts, " AND "), args, nil
}
