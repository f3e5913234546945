package records

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"tns-records/internal/planner"

	"github.com/go-playground/validator/v10"
)

// TenantID accepts a JSON string or number; legacy clients send numeric ids.
type TenantID string

func (t *TenantID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*t = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*t = TenantID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("tenant must be a string or number")
	}
	*t = TenantID(n.String())
	return nil
}

// Request is the validated, canonical form of a POST /records body.
type Request struct {
	Tenant   string              `json:"tenant" validate:"required,max=64"`
	Table    string              `json:"table" validate:"required,max=128"`
	Fields   []string            `json:"fields" validate:"omitempty,max=256,dive,required,max=128"`
	Joins    []Join              `json:"joins" validate:"omitempty,max=32,dive"`
	Filters  planner.FilterExpr  `json:"filters"`
	Order    []planner.OrderSpec `json:"order" validate:"omitempty,max=16"`
	Page     int                 `json:"page" validate:"gte=1"`
	PageSize int                 `json:"pageSize" validate:"gte=0"`
}

// Join is one requested join.
type Join struct {
	Table        string       `json:"table" validate:"required,max=128"`
	LocalField   string       `json:"localField" validate:"required,max=128"`
	ForeignField string       `json:"foreignField" validate:"required,max=128"`
	Type         string       `json:"joinType"`
	From         string       `json:"joinFrom"`
	Columns      []JoinColumn `json:"columns" validate:"omitempty,max=256,dive"`
}

// JoinColumn exposes one joined column. Hidden columns are only usable in
// filters and order.
type JoinColumn struct {
	Source    string `json:"source" validate:"required,max=128"`
	ExposedAs string `json:"exposedAs" validate:"max=128"`
	Hidden    bool   `json:"hidden"`
}

// Spec converts the request to the planner's query description.
func (r Request) Spec() planner.QuerySpec {
	spec := planner.QuerySpec{
		Table:    r.Table,
		Fields:   r.Fields,
		Filters:  r.Filters,
		Order:    r.Order,
		Page:     r.Page,
		PageSize: r.PageSize,
	}
	for _, j := range r.Joins {
		join := planner.JoinSpec{
			Table:        j.Table,
			LocalField:   j.LocalField,
			ForeignField: j.ForeignField,
			Type:         planner.JoinType(j.Type),
			From:         j.From,
		}
		for _, c := range j.Columns {
			join.Columns = append(join.Columns, planner.JoinColumn{Source: c.Source, ExposedAs: c.ExposedAs, Hidden: c.Hidden})
		}
		spec.Joins = append(spec.Joins, join)
	}
	return spec
}

// body accepts both the canonical and the legacy field names.
type body struct {
	Tenant       TenantID `json:"tenant"`
	LegacyTenant TenantID `json:"empresa_servidor_id"`

	Table       string `json:"table"`
	LegacyTable string `json:"table_name"`

	Fields []string `json:"fields"`

	Joins       []Join       `json:"joins"`
	LegacyJoins []legacyJoin `json:"foreign_keys"`

	Filters planner.FilterExpr `json:"filters"`

	Order       []planner.OrderSpec `json:"order"`
	LegacyOrder []planner.OrderSpec `json:"order_by"`

	Page           *int `json:"page"`
	PageSize       *int `json:"pageSize"`
	LegacyPageSize *int `json:"page_size"`
}

type legacyJoin struct {
	Table        string         `json:"table"`
	LocalField   string         `json:"localField"`
	ForeignField string         `json:"foreignField"`
	JoinType     string         `json:"joinType"`
	JoinFrom     string         `json:"joinFrom"`
	Columns      []legacyColumn `json:"columns"`
}

type legacyColumn struct {
	Name string `json:"name"`
	As   string `json:"as"`
}

// Decoder parses and validates request bodies.
type Decoder struct {
	validate *validator.Validate
}

// NewDecoder builds a Decoder whose validation messages use JSON field names.
func NewDecoder() *Decoder {
	v := validator.New()
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return &Decoder{validate: v}
}

// Decode parses data into a validated Request. headerTenant is used when the
// body names no tenant. All failures are InvalidQuery errors.
func (d *Decoder) Decode(data []byte, headerTenant string) (*Request, error) {
	var b body
	if err := json.Unmarshal(data, &b); err != nil {
		var pe *planner.Error
		if errors.As(err, &pe) {
			return nil, pe
		}
		return nil, planner.Errorf(planner.KindInvalidQuery, "malformed request body: %v", err)
	}

	req, err := b.normalize(headerTenant)
	if err != nil {
		return nil, err
	}
	if err := d.validate.Struct(req); err != nil {
		return nil, validationError(err)
	}
	return req, nil
}

func (b body) normalize(headerTenant string) (*Request, error) {
	req := &Request{
		Tenant:  firstNonEmpty(string(b.Tenant), string(b.LegacyTenant), strings.TrimSpace(headerTenant)),
		Table:   strings.TrimSpace(firstNonEmpty(b.Table, b.LegacyTable)),
		Filters: b.Filters,
		Order:   b.Order,
		Page:    1,
	}
	if len(req.Order) == 0 {
		req.Order = b.LegacyOrder
	}
	if b.Page != nil {
		req.Page = *b.Page
	}
	switch {
	case b.PageSize != nil:
		req.PageSize = *b.PageSize
	case b.LegacyPageSize != nil:
		req.PageSize = *b.LegacyPageSize
	}

	if len(b.Joins) > 0 && len(b.LegacyJoins) > 0 {
		return nil, planner.Errorf(planner.KindInvalidQuery, "use either joins or foreign_keys, not both")
	}
	if len(b.LegacyJoins) == 0 {
		req.Fields = b.Fields
		req.Joins = b.Joins
		return req, nil
	}

	req.Fields, req.Joins = translateLegacyJoins(b.Fields, b.LegacyJoins)
	return req, nil
}

// translateLegacyJoins applies the legacy projection rule: fields lists the
// whole output, so a name exposed by a join comes from that join. Join
// columns missing from fields stay hidden, usable by filters and order but
// not selected. Legacy joins default to LEFT.
func translateLegacyJoins(fields []string, legacy []legacyJoin) ([]string, []Join) {
	wanted := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		wanted[strings.TrimSpace(f)] = struct{}{}
	}

	exposed := make(map[string]struct{})
	joins := make([]Join, 0, len(legacy))
	for _, lj := range legacy {
		join := Join{
			Table:        lj.Table,
			LocalField:   lj.LocalField,
			ForeignField: lj.ForeignField,
			Type:         lj.JoinType,
			From:         lj.JoinFrom,
		}
		if strings.TrimSpace(join.Type) == "" {
			join.Type = string(planner.LeftJoin)
		}
		for _, col := range lj.Columns {
			as := strings.TrimSpace(firstNonEmpty(col.As, col.Name))
			exposed[as] = struct{}{}
			_, selected := wanted[as]
			join.Columns = append(join.Columns, JoinColumn{Source: col.Name, ExposedAs: as, Hidden: !selected})
		}
		joins = append(joins, join)
	}

	var root []string
	for _, f := range fields {
		if _, ok := exposed[strings.TrimSpace(f)]; ok {
			continue
		}
		root = append(root, f)
	}
	return root, joins
}

func validationError(err error) error {
	var invalid validator.ValidationErrors
	if !errors.As(err, &invalid) {
		return planner.Errorf(planner.KindInvalidQuery, "invalid request: %v", err)
	}
	msgs := make([]string, 0, len(invalid))
	for _, fe := range invalid {
		// Namespace is "Request.joins[0].table"; drop the struct name.
		_, field, _ := strings.Cut(fe.Namespace(), ".")
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s failed %s=%s", field, fe.Tag(), fe.Param()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s failed %s", field, fe.Tag()))
		}
	}
	return planner.Errorf(planner.KindInvalidQuery, "invalid request: %s", strings.Join(msgs, "; "))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
