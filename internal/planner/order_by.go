package planner

import "strings"

// compileOrder resolves each order field like a filter field.
func (s *scope) compileOrder(specs []OrderSpec) ([]string, error) {
	exprs := make([]string, 0, len(specs))
	for _, spec := range specs {
		dir, ok := parseDirection(spec.Direction)
		if !ok {
			return nil, Errorf(KindInvalidQuery, "invalid order direction %q for %q", spec.Direction, spec.Field)
		}
		ref, ok := s.resolveField(spec.Field)
		if !ok {
			return nil, Errorf(KindUnknownOrderField, "unknown order field %q", strings.TrimSpace(spec.Field))
		}
		exprs = append(exprs, s.columnSQL(ref)+" "+string(dir))
	}
	return exprs, nil
}
