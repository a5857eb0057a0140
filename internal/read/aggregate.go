package read

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/rzpsarthak13/docbridge/internal/core"
	"github.com/rzpsarthak13/docbridge/internal/schema"
	"github.com/rzpsarthak13/docbridge/internal/sqlbuilder"
)

// Stage is one aggregation pipeline stage such as {"$group": {...}}.
type Stage map[string]any

// dateParts maps date operators to EXTRACT units.
var dateParts = map[string]string{
	"$dayOfMonth":   "DAY",
	"$dayOfWeek":    "DOW",
	"$dayOfYear":    "DOY",
	"$isoDayOfWeek": "ISODOW",
	"$isoWeekYear":  "ISOYEAR",
	"$hour":         "HOUR",
	"$minute":       "MINUTE",
	"$second":       "SECOND",
	"$millisecond":  "MILLISECONDS",
	"$month":        "MONTH",
	"$week":         "WEEK",
	"$year":         "YEAR",
}

var matchComparators = []struct{ op, sql string }{
	{"$gt", ">"},
	{"$lt", "<"},
	{"$gte", ">="},
	{"$lte", "<="},
}

var accumulators = []struct{ op, fn string }{
	{"$max", "MAX"},
	{"$min", "MIN"},
	{"$avg", "AVG"},
}

// AggregatePlan is a compiled pipeline and the shape of its rows.
type AggregatePlan struct {
	Statement core.Statement

	// GroupAliases is set when _id groups by several aliased keys. They
	// are re-nested under objectId when decoding.
	GroupAliases []string

	// CountField is the alias of a COUNT(*) accumulator.
	CountField string

	Explain bool
}

type aggregateBuilder struct {
	b       *sqlbuilder.Builder
	schema  *core.Schema
	plan    *AggregatePlan
	columns []string
	where   []string
	groupBy string
	orderBy string
	limit   string
	offset  string
}

// BuildAggregate compiles a pipeline of $group, $project, $match, $sort,
// $limit and $skip stages into one SELECT. Without $group or $project
// every column is selected.
func BuildAggregate(className string, s *core.Schema, pipeline []Stage, explain bool) (*AggregatePlan, error) {
	ab := &aggregateBuilder{b: sqlbuilder.New(), schema: s, plan: &AggregatePlan{Explain: explain}}
	table := ab.b.Ident(className)
	for _, stage := range pipeline {
		if err := ab.stage(stage); err != nil {
			return nil, err
		}
	}
	columns := ab.columns
	if len(columns) == 0 {
		columns = []string{"*"}
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "SELECT %s FROM %s", sqlbuilder.Join(columns), table)
	if len(ab.where) > 0 {
		sb.WriteString(" WHERE " + strings.Join(ab.where, " AND "))
	}
	for _, clause := range []string{ab.groupBy, ab.orderBy, ab.limit, ab.offset} {
		if clause != "" {
			sb.WriteString(" " + clause)
		}
	}
	sql := sb.String()
	if explain {
		sql = ExplainPrefix + sql
	}
	ab.plan.Statement = core.Statement{SQL: sql, Args: ab.b.Args()}
	return ab.plan, nil
}

func (ab *aggregateBuilder) stage(stage Stage) error {
	if group, ok := core.AsMap(stage["$group"]); ok {
		if err := ab.group(group); err != nil {
			return err
		}
	}
	if project, ok := core.AsMap(stage["$project"]); ok {
		ab.project(project)
	}
	if match, ok := core.AsMap(stage["$match"]); ok {
		ab.match(match)
	}
	if v, ok := stage["$limit"]; ok {
		n, err := stageInt("$limit", v)
		if err != nil {
			return err
		}
		ab.limit = "LIMIT " + ab.b.Arg(n)
	}
	if v, ok := stage["$skip"]; ok {
		n, err := stageInt("$skip", v)
		if err != nil {
			return err
		}
		ab.offset = "OFFSET " + ab.b.Arg(n)
	}
	if v, ok := stage["$sort"]; ok {
		return ab.sort(v)
	}
	return nil
}

func (ab *aggregateBuilder) group(group map[string]any) error {
	for _, field := range core.SortedKeys(group) {
		value := group[field]
		if value == nil {
			continue
		}
		if field == "_id" {
			if err := ab.groupID(value); err != nil {
				return err
			}
			continue
		}
		spec, ok := core.AsMap(value)
		if !ok {
			continue
		}
		if sum, ok := spec["$sum"]; ok && sum != nil {
			if src, isField := sum.(string); isField {
				ab.columns = append(ab.columns, fmt.Sprintf("SUM(%s) AS %s", ab.b.Ident(aggregateField(src)), ab.b.Ident(field)))
			} else {
				ab.plan.CountField = field
				ab.columns = append(ab.columns, "COUNT(*) AS "+ab.b.Ident(field))
			}
		}
		for _, acc := range accumulators {
			if src, ok := spec[acc.op].(string); ok && src != "" {
				ab.columns = append(ab.columns, fmt.Sprintf("%s(%s) AS %s", acc.fn, ab.b.Ident(aggregateField(src)), ab.b.Ident(field)))
			}
		}
	}
	return nil
}

func (ab *aggregateBuilder) groupID(value any) error {
	if src, ok := value.(string); ok {
		if src == "" {
			return nil
		}
		col := ab.b.Ident(aggregateField(src))
		ab.columns = append(ab.columns, col+` AS "objectId"`)
		ab.groupBy = "GROUP BY " + col
		return nil
	}
	keys, ok := core.AsMap(value)
	if !ok || len(keys) == 0 {
		return core.NewError(core.InvalidQuery, "bad $group _id: %v", value)
	}
	var groupBy []string
	seen := map[string]bool{}
	addGroup := func(col string) {
		if !seen[col] {
			seen[col] = true
			groupBy = append(groupBy, col)
		}
	}
	for _, alias := range core.SortedKeys(keys) {
		switch src := keys[alias].(type) {
		case string:
			if src == "" {
				continue
			}
			col := ab.b.Ident(aggregateField(src))
			addGroup(col)
			ab.columns = append(ab.columns, col+" AS "+ab.b.Ident(alias))
			ab.plan.GroupAliases = append(ab.plan.GroupAliases, alias)
		default:
			op, ok := core.AsMap(src)
			if !ok || len(op) != 1 {
				return core.NewError(core.InvalidQuery, "bad $group _id key %s", alias)
			}
			name := core.SortedKeys(op)[0]
			unit, known := dateParts[name]
			field, isString := op[name].(string)
			if !known || !isString {
				return core.NewError(core.InvalidQuery, "bad $group _id key %s: unsupported %s", alias, name)
			}
			col := ab.b.Ident(aggregateField(field))
			addGroup(col)
			ab.columns = append(ab.columns, fmt.Sprintf("EXTRACT(%s FROM %s AT TIME ZONE 'UTC')::integer AS %s", unit, col, ab.b.Ident(alias)))
			ab.plan.GroupAliases = append(ab.plan.GroupAliases, alias)
		}
	}
	ab.groupBy = "GROUP BY " + strings.Join(groupBy, ",")
	return nil
}

func (ab *aggregateBuilder) project(project map[string]any) {
	for _, field := range core.SortedKeys(project) {
		switch v := project[field].(type) {
		case bool:
			if v {
				ab.columns = append(ab.columns, ab.b.Ident(field))
			}
		default:
			if f, ok := core.ToFloat(v); ok && f == 1 {
				ab.columns = append(ab.columns, ab.b.Ident(field))
			}
		}
	}
}

// match compiles comparator and equality constraints. A top-level $or is
// collapsed into one map whose constraints are OR-ed.
func (ab *aggregateBuilder) match(match map[string]any) {
	joiner := " AND "
	if ors, ok := core.AsSlice(match["$or"]); ok {
		joiner = " OR "
		collapsed := map[string]any{}
		for _, element := range ors {
			if m, ok := core.AsMap(element); ok {
				for k, v := range m {
					collapsed[k] = v
				}
			}
		}
		match = collapsed
	}

	var patterns []string
	for _, key := range core.SortedKeys(match) {
		value := match[key]
		field := key
		if field == "_id" {
			field = "objectId"
		}
		var cmp []string
		if constraint, ok := core.AsMap(value); ok {
			for _, c := range matchComparators {
				if operand, ok := constraint[c.op]; ok && operand != nil {
					cmp = append(cmp, fmt.Sprintf("%s %s %s", ab.b.Ident(field), c.sql, ab.b.Arg(schema.StorageValue(operand))))
				}
			}
		}
		if len(cmp) > 0 {
			patterns = append(patterns, "("+strings.Join(cmp, " AND ")+")")
			continue
		}
		if _, declared := ab.schema.Field(field); declared {
			patterns = append(patterns, fmt.Sprintf("%s = %s", ab.b.Ident(field), ab.b.Arg(schema.StorageValue(value))))
		}
	}
	if len(patterns) > 0 {
		ab.where = append(ab.where, "("+strings.Join(patterns, joiner)+")")
	}
}

// sort accepts an ordered []core.SortKey or a map of field to 1 or -1.
// Map keys are ordered by name.
func (ab *aggregateBuilder) sort(v any) error {
	var keys []core.SortKey
	switch s := v.(type) {
	case []core.SortKey:
		keys = s
	default:
		m, ok := core.AsMap(v)
		if !ok {
			return core.NewError(core.InvalidQuery, "bad $sort: %v", v)
		}
		for _, field := range core.SortedKeys(m) {
			dir, _ := core.ToFloat(m[field])
			keys = append(keys, core.SortKey{Field: field, Descending: dir != 1})
		}
	}
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		dir := "ASC"
		if k.Descending {
			dir = "DESC"
		}
		parts = append(parts, ab.b.Ident(k.Field)+" "+dir)
	}
	if len(parts) > 0 {
		ab.orderBy = "ORDER BY " + sqlbuilder.Join(parts)
	}
	return nil
}

func stageInt(name string, v any) (int, error) {
	f, ok := core.ToFloat(v)
	if !ok || f < 0 || f != float64(int(f)) {
		return 0, core.NewError(core.InvalidQuery, "bad %s value: %v", name, v)
	}
	return int(f), nil
}

// aggregateField strips the $ of a field reference and maps the
// storage names of the timestamps back to their fields.
func aggregateField(ref string) string {
	switch ref {
	case "$_created_at":
		return "createdAt"
	case "$_updated_at":
		return "updatedAt"
	}
	return strings.TrimPrefix(ref, "$")
}

// Decode converts aggregate rows into result documents.
func (p *AggregatePlan) Decode(s *core.Schema, rows []core.Row) []core.Object {
	out := DecodeRows(s, rows)
	for _, obj := range out {
		if _, ok := obj["objectId"]; !ok {
			obj["objectId"] = nil
		}
		if len(p.GroupAliases) > 0 {
			id := make(map[string]any, len(p.GroupAliases))
			for _, alias := range p.GroupAliases {
				id[alias] = obj[alias]
				delete(obj, alias)
			}
			obj["objectId"] = id
		}
		if p.CountField != "" {
			obj[p.CountField] = countInt(obj[p.CountField])
		}
	}
	return out
}

func countInt(v any) any {
	switch n := v.(type) {
	case int64:
		return int(n)
	case int32:
		return int(n)
	case int:
		return n
	case string:
		if i, err := strconv.Atoi(n); err == nil {
			return i
		}
	}
	if f, ok := core.ToFloat(v); ok {
		return int(f)
	}
	return v
}
