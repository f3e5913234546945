package planner

import (
	"bytes"
	"encoding/json"
	"sort"
)

// UnmarshalJSON decodes the keyed filter object. Field keys are processed in
// sorted order so compiled SQL is deterministic. Each key maps to a scalar
// (equality), null (IS NULL), an array (IN) or an operator object. The
// reserved "AND" key holds explicit {field, operator, value, values} leaves
// and "OR" holds keyed objects whose conditions form one OR group.
func (f *FilterExpr) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*f = FilterExpr{}
		return nil
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		return Errorf(KindInvalidQuery, "filters must be a JSON object")
	}

	var out FilterExpr
	for _, key := range sortedKeys(raw) {
		switch key {
		case "AND":
			var leaves []json.RawMessage
			if err := json.Unmarshal(raw[key], &leaves); err != nil {
				return Errorf(KindInvalidQuery, "AND filters must be a list")
			}
			for _, leaf := range leaves {
				cond, err := explicitCondition(leaf)
				if err != nil {
					return err
				}
				out.Conditions = append(out.Conditions, cond)
			}
		case "OR":
			var items []map[string]json.RawMessage
			if err := json.Unmarshal(raw[key], &items); err != nil {
				return Errorf(KindInvalidQuery, "OR filters must be a list of objects")
			}
			for _, item := range items {
				for _, field := range sortedKeys(item) {
					conds, err := keyedConditions(field, item[field])
					if err != nil {
						return err
					}
					out.AnyOf = append(out.AnyOf, conds...)
				}
			}
		default:
			conds, err := keyedConditions(key, raw[key])
			if err != nil {
				return err
			}
			out.Conditions = append(out.Conditions, conds...)
		}
	}

	*f = out
	return nil
}

func keyedConditions(field string, raw json.RawMessage) ([]Condition, error) {
	value, err := decodeValue(raw)
	if err != nil {
		return nil, Errorf(KindInvalidQuery, "invalid filter value for %q", field)
	}
	switch v := value.(type) {
	case nil:
		return []Condition{{Field: field, Op: OpIsNull, Value: true}}, nil
	case []interface{}:
		return []Condition{{Field: field, Op: OpIn, Values: v}}, nil
	case map[string]interface{}:
		return objectConditions(field, v)
	default:
		return []Condition{{Field: field, Op: OpEquals, Value: v}}, nil
	}
}

func objectConditions(field string, obj map[string]interface{}) ([]Condition, error) {
	if _, ok := obj["operator"]; ok {
		cond, err := operatorCondition(field, obj)
		if err != nil {
			return nil, err
		}
		return []Condition{cond}, nil
	}
	if len(obj) == 0 {
		return nil, Errorf(KindInvalidQuery, "empty filter for %q", field)
	}

	var conds []Condition
	for _, key := range sortedKeys(obj) {
		value := obj[key]
		// Legacy VARCHAR time filters nest the operators one level down.
		if key == "time" {
			nested, ok := value.(map[string]interface{})
			if !ok {
				return nil, Errorf(KindInvalidQuery, "time filter for %q must be an object", field)
			}
			inner, err := objectConditions(field, nested)
			if err != nil {
				return nil, err
			}
			conds = append(conds, inner...)
			continue
		}
		op, ok := ParseOperator(key)
		if !ok {
			return nil, Errorf(KindInvalidQuery, "unsupported filter operator %q on %q", key, field)
		}
		conds = append(conds, newCondition(field, op, value, nil))
	}
	return conds, nil
}

func operatorCondition(field string, obj map[string]interface{}) (Condition, error) {
	name, _ := obj["operator"].(string)
	op, ok := ParseOperator(name)
	if !ok {
		return Condition{}, Errorf(KindInvalidQuery, "unsupported filter operator %q on %q", name, field)
	}
	var values []interface{}
	if raw, ok := obj["values"]; ok {
		list, isList := raw.([]interface{})
		if !isList {
			return Condition{}, Errorf(KindInvalidQuery, "values for %q must be a list", field)
		}
		values = list
	}
	return newCondition(field, op, obj["value"], values), nil
}

// newCondition moves list values into Values for list operators.
func newCondition(field string, op Operator, value interface{}, values []interface{}) Condition {
	if list, ok := value.([]interface{}); ok && (op == OpIn || op == OpBetween) {
		return Condition{Field: field, Op: op, Values: list}
	}
	return Condition{Field: field, Op: op, Value: value, Values: values}
}

func explicitCondition(raw json.RawMessage) (Condition, error) {
	value, err := decodeValue(raw)
	if err != nil {
		return Condition{}, Errorf(KindInvalidQuery, "invalid AND filter entry")
	}
	obj, ok := value.(map[string]interface{})
	if !ok {
		return Condition{}, Errorf(KindInvalidQuery, "AND filter entries must be objects")
	}
	field, _ := obj["field"].(string)
	if field == "" {
		return Condition{}, Errorf(KindInvalidQuery, "AND filter entry is missing field")
	}
	if _, ok := obj["operator"]; !ok {
		obj["operator"] = string(OpEquals)
	}
	return operatorCondition(field, obj)
}

// decodeValue decodes JSON keeping integral numbers as int64.
func decodeValue(raw json.RawMessage) (interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return normalizeNumbers(v), nil
}

func normalizeNumbers(v interface{}) interface{} {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	case []interface{}:
		for i := range t {
			t[i] = normalizeNumbers(t[i])
		}
		return t
	case map[string]interface{}:
		for k := range t {
			t[k] = normalizeNumbers(t[k])
		}
		return t
	default:
		return v
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
