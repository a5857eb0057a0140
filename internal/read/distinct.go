package read

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rzpsarthak13/docbridge/internal/core"
	"github.com/rzpsarthak13/docbridge/internal/query"
	"github.com/rzpsarthak13/docbridge/internal/schema"
	"github.com/rzpsarthak13/docbridge/internal/sqlbuilder"
)

// DistinctPlan is a distinct statement and how to read its rows.
type DistinctPlan struct {
	Statement core.Statement

	// Column is the result column holding the value.
	Column string

	// Path is the key path inside Column for dot fields.
	Path []string

	// Type is the declared type of a top-level field. It is zero for dot
	// paths and undeclared fields, whose values are returned as stored.
	Type core.FieldType

	// Pointer is set when values are object ids of TargetClass.
	Pointer     bool
	TargetClass string
}

// BuildDistinct compiles a distinct over field. Array fields are unnested
// so each element counts once. A dot path selects the whole top column
// and the child is extracted when decoding.
func BuildDistinct(className string, s *core.Schema, filter core.Filter, field string) (*DistinctPlan, error) {
	b := sqlbuilder.New()
	fd, declared := s.Field(field)
	plan := &DistinctPlan{Column: field}

	var selectExpr string
	switch {
	case schema.IsDotField(field):
		parts := strings.Split(field, ".")
		plan.Column = parts[0]
		plan.Path = parts[1:]
		selectExpr = fmt.Sprintf("DISTINCT ON (%s) %s", schema.DotFieldJSON(field), b.Ident(plan.Column))
	case declared && fd.IsStringArray():
		selectExpr = fmt.Sprintf("DISTINCT unnest(%s) %s", b.Ident(field), b.Ident(field))
	case declared && fd.Type == core.TypeArray:
		selectExpr = fmt.Sprintf("DISTINCT jsonb_array_elements(%s) %s", b.Ident(field), b.Ident(field))
	default:
		selectExpr = fmt.Sprintf("DISTINCT ON (%s) %s", b.Ident(field), b.Ident(field))
	}
	if declared && !schema.IsDotField(field) {
		plan.Type = fd.Type
	}
	if declared && fd.Type == core.TypePointer {
		plan.Pointer = true
		plan.TargetClass = fd.TargetClass
	}

	table := b.Ident(className)
	where, err := query.Build(b, s, filter, query.Options{})
	if err != nil {
		return nil, err
	}
	sql := fmt.Sprintf("SELECT %s FROM %s", selectExpr, table)
	if where.Pattern != "" {
		sql += " WHERE " + where.Pattern
	}
	plan.Statement = core.Statement{SQL: sql, Args: b.Args()}
	return plan, nil
}

// Decode extracts the distinct values, dropping nulls.
func (p *DistinctPlan) Decode(rows []core.Row) []any {
	out := make([]any, 0, len(rows))
	for _, row := range rows {
		v := row[p.Column]
		for _, key := range p.Path {
			v = child(v, key)
		}
		if v == nil {
			continue
		}
		if p.Pointer {
			out = append(out, core.NewPointer(p.TargetClass, fmt.Sprint(v)))
			continue
		}
		out = append(out, p.value(v))
	}
	return out
}

func child(v any, key string) any {
	if m, ok := core.AsMap(v); ok {
		return m[key]
	}
	if list, ok := core.AsSlice(v); ok {
		if i, err := strconv.Atoi(key); err == nil && i >= 0 && i < len(list) {
			return list[i]
		}
	}
	return nil
}

func (p *DistinctPlan) value(v any) any {
	switch p.Type {
	case core.TypeDate:
		if t, ok := v.(time.Time); ok {
			return core.NewDate(t)
		}
	case core.TypeGeoPoint:
		if point, ok := schema.PointFromStorage(v); ok {
			return core.NewGeoPoint(point.Latitude, point.Longitude)
		}
	}
	return v
}
