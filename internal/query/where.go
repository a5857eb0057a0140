// Package query compiles structured filters into Postgres WHERE clauses.
package query

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/rzpsarthak13/docbridge/internal/core"
	"github.com/rzpsarthak13/docbridge/internal/schema"
	"github.com/rzpsarthak13/docbridge/internal/sqlbuilder"
)

// numberBooleanSentinel is bound when a boolean is compared with a Number
// column. It is above every integer a double column can hold exactly, so
// the comparison matches nothing in practice.
var numberBooleanSentinel = math.Ldexp(1, 64)

// DefaultTextSearchLanguage is used when $text does not name a language.
const DefaultTextSearchLanguage = "english"

var comparators = []struct {
	op  string
	sql string
}{
	{"$gt", ">"},
	{"$lt", "<"},
	{"$gte", ">="},
	{"$lte", "<="},
}

// Options tunes compilation.
type Options struct {
	// CaseInsensitive compiles username and email equality with LOWER().
	CaseInsensitive bool

	// TextSearchLanguage is the default $text language.
	TextSearchLanguage string

	// Now resolves $relativeTime. Defaults to time.Now.
	Now func() time.Time
}

// TextSearch records the $text constraint of a filter so a projection can
// rank by it.
type TextSearch struct {
	Field    string
	Language string
	Term     string
}

// Clause is a compiled filter level. Its values live in the builder it
// was compiled into.
type Clause struct {
	// Pattern is the boolean SQL expression, empty when the filter is empty.
	Pattern string

	// Sorts are ORDER BY fragments implied by the filter.
	Sorts []string

	// Text is the first $text constraint seen, if any.
	Text *TextSearch
}

// Compiled is a filter compiled into a fresh builder.
type Compiled struct {
	Pattern string
	Values  []any
	Sorts   []string
}

// Compile compiles filter on its own, numbering placeholders from $1.
func Compile(s *core.Schema, filter core.Filter, opts Options) (Compiled, error) {
	b := sqlbuilder.New()
	clause, err := Build(b, s, filter, opts)
	if err != nil {
		return Compiled{}, err
	}
	return Compiled{Pattern: clause.Pattern, Values: b.Args(), Sorts: clause.Sorts}, nil
}

// Build compiles filter into b. Fields are compiled in lexical order.
func Build(b *sqlbuilder.Builder, s *core.Schema, filter core.Filter, opts Options) (Clause, error) {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.TextSearchLanguage == "" {
		opts.TextSearchLanguage = DefaultTextSearchLanguage
	}
	c := &compiler{b: b, schema: s.WithStorageFields(), opts: opts}
	return c.compile(filter)
}

type compiler struct {
	b      *sqlbuilder.Builder
	schema *core.Schema
	opts   Options
	text   *TextSearch
}

func (c *compiler) compile(filter map[string]any) (Clause, error) {
	var patterns, sorts []string
	for _, field := range core.SortedKeys(filter) {
		frags, fieldSorts, err := c.compileField(field, filter[field])
		if err != nil {
			return Clause{}, err
		}
		patterns = append(patterns, frags...)
		sorts = append(sorts, fieldSorts...)
	}
	return Clause{Pattern: strings.Join(patterns, " AND "), Sorts: sorts, Text: c.text}, nil
}

// fieldState collects the fragments produced for one filter entry.
type fieldState struct {
	field   string
	fd      core.FieldDescriptor
	isArray bool
	isDot   bool
	ref     string
	frags   []string
	sorts   []string
}

func (f *fieldState) add(frag string) {
	f.frags = append(f.frags, frag)
}

func (c *compiler) compileField(field string, value any) ([]string, []string, error) {
	fd, declared := c.schema.Field(field)
	st := &fieldState{
		field:   field,
		fd:      fd,
		isArray: declared && fd.Type == core.TypeArray,
		isDot:   schema.IsDotField(field),
		ref:     schema.DotFieldText(field),
	}
	constraint, isMap := core.AsMap(value)

	if !declared && isMap {
		if exists, ok := constraint["$exists"]; ok && exists == false {
			return nil, nil, nil
		}
	}
	if _, ok := schema.AuthDataProvider(field); ok {
		// Auth data keys are not filterable; the constraint is dropped.
		return nil, nil, nil
	}

	switch field {
	case "$or", "$and", "$nor":
		frag, err := c.compileLogical(field, value)
		if err != nil {
			return nil, nil, err
		}
		return []string{frag}, nil, nil
	}

	if str, ok := value.(string); ok && c.opts.CaseInsensitive && (field == "username" || field == "email") {
		st.add(fmt.Sprintf("LOWER(%s) = LOWER(%s)", c.b.Ident(field), c.b.Arg(str)))
		return st.frags, nil, nil
	}

	switch v := value.(type) {
	case nil:
		st.add(st.ref + " IS NULL")
		return st.frags, nil, nil
	case string:
		c.equalLiteral(st, v)
	case bool:
		if declared && fd.Type == core.TypeNumber {
			st.add(fmt.Sprintf("%s = %s", st.ref, c.b.Arg(numberBooleanSentinel)))
		} else {
			c.equalLiteral(st, v)
		}
	default:
		if core.IsNumber(v) {
			c.equalLiteral(st, v)
		}
	}

	if isMap {
		if err := c.compileConstraint(st, constraint); err != nil {
			return nil, nil, err
		}
	}

	if len(st.frags) == 0 {
		encoded, _ := json.Marshal(value)
		return nil, nil, core.NewError(core.OperationForbidden, "Postgres doesn't support this query type yet %s", encoded)
	}
	return st.frags, st.sorts, nil
}

// equalLiteral compiles field = literal. Dot paths compare as text.
func (c *compiler) equalLiteral(st *fieldState, v any) {
	if st.isDot {
		st.add(fmt.Sprintf("%s = %s::text", st.ref, c.b.Arg(literalText(v))))
		return
	}
	st.add(fmt.Sprintf("%s = %s", st.ref, c.b.Arg(v)))
}

func literalText(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case bool:
		if t {
			return "true"
		}
		return "false"
	}
	if f, ok := core.ToFloat(v); ok {
		return schema.FormatNumber(f)
	}
	encoded, _ := json.Marshal(v)
	return string(encoded)
}

func (c *compiler) compileLogical(op string, value any) (string, error) {
	subs, ok := core.AsSlice(value)
	if !ok {
		return "", core.NewError(core.InvalidJSON, "bad %s value: should be an array of queries", op)
	}
	var clauses []string
	for _, sub := range subs {
		subFilter, ok := core.AsMap(sub)
		if !ok {
			return "", core.NewError(core.InvalidJSON, "bad %s value: should be an array of queries", op)
		}
		inner := &compiler{b: c.b, schema: c.schema, opts: c.opts}
		clause, err := inner.compile(subFilter)
		if err != nil {
			return "", err
		}
		if c.text == nil {
			c.text = inner.text
		}
		if clause.Pattern != "" {
			clauses = append(clauses, clause.Pattern)
		}
	}

	switch op {
	case "$and":
		if len(clauses) == 0 {
			return "TRUE", nil
		}
		return "(" + strings.Join(clauses, " AND ") + ")", nil
	case "$nor":
		if len(clauses) == 0 {
			return "TRUE", nil
		}
		return "NOT (" + strings.Join(clauses, " OR ") + ")", nil
	}
	if len(clauses) == 0 {
		return "FALSE", nil
	}
	return "(" + strings.Join(clauses, " OR ") + ")", nil
}

func hasRelativeTime(v any) bool {
	m, ok := core.AsMap(v)
	if !ok {
		return false
	}
	_, ok = m["$relativeTime"]
	return ok
}

func relativeTimeMisuse() error {
	return core.NewError(core.InvalidJSON, "$relativeTime can only be used with the $lt, $lte, $gt, and $gte operators")
}

// dotOperand returns the operand compared with a dot path and the cast the
// path needs for that comparison.
func dotOperand(v any) (any, string) {
	if cast := schema.CastType(v); cast != "" {
		return schema.StorageValue(v), cast
	}
	if s, ok := schema.StorageText(v).(string); ok {
		return s, ""
	}
	return literalText(v), ""
}

func castRef(ref, cast string) string {
	if cast == "" {
		return ref
	}
	return fmt.Sprintf("CAST ((%s) AS %s)", ref, cast)
}

func (c *compiler) compileConstraint(st *fieldState, m map[string]any) error {
	if ne, ok := m["$ne"]; ok {
		if done, err := c.compileNotEqual(st, ne); err != nil || done {
			return err
		}
	}
	if eq, ok := m["$eq"]; ok {
		if err := c.compileEqual(st, eq); err != nil {
			return err
		}
	}
	if err := c.compileIn(st, m); err != nil {
		return err
	}
	if err := c.compileAll(st, m); err != nil {
		return err
	}
	if exists, ok := m["$exists"]; ok {
		if hasRelativeTime(exists) {
			return relativeTimeMisuse()
		}
		if truthy(exists) {
			st.add(st.ref + " IS NOT NULL")
		} else {
			st.add(st.ref + " IS NULL")
		}
	}
	if containedBy, ok := m["$containedBy"]; ok && truthy(containedBy) {
		list, ok := core.AsSlice(containedBy)
		if !ok {
			return core.NewError(core.InvalidJSON, "bad $containedBy: should be an array")
		}
		st.add(fmt.Sprintf("%s <@ %s::jsonb", st.ref, c.b.Arg(mustJSON(list))))
	}
	if text, ok := m["$text"]; ok && truthy(text) {
		if err := c.compileText(st, text); err != nil {
			return err
		}
	}
	if err := c.compileGeo(st, m); err != nil {
		return err
	}
	if regex, ok := m["$regex"]; ok && truthy(regex) {
		if err := c.compileRegex(st, regex, m["$options"]); err != nil {
			return err
		}
	}
	if err := c.compileTypedLiteral(st, m); err != nil {
		return err
	}
	return c.compileComparators(st, m)
}

// compileNotEqual returns done when the constraint is fully compiled and
// no further operators apply.
func (c *compiler) compileNotEqual(st *fieldState, ne any) (bool, error) {
	if st.isArray {
		st.add(fmt.Sprintf("NOT array_contains(%s, %s::jsonb)", st.ref, c.b.Arg(mustJSON([]any{ne}))))
		return false, nil
	}
	if ne == nil {
		st.add(st.ref + " IS NOT NULL")
		return true, nil
	}
	if p, ok := core.GeoPointFrom(ne); ok {
		st.add(fmt.Sprintf("(NOT (%s ~= POINT(%s, %s)) OR %s IS NULL)", st.ref, c.b.Arg(p.Longitude), c.b.Arg(p.Latitude), st.ref))
		return false, nil
	}
	if st.isDot {
		operand, cast := dotOperand(ne)
		ref := castRef(st.ref, cast)
		st.add(fmt.Sprintf("(%s <> %s OR %s IS NULL)", ref, c.b.Arg(operand), ref))
		return false, nil
	}
	if hasRelativeTime(ne) {
		return false, relativeTimeMisuse()
	}
	st.add(fmt.Sprintf("(%s <> %s OR %s IS NULL)", st.ref, c.b.Arg(schema.StorageValue(ne)), st.ref))
	return false, nil
}

func (c *compiler) compileEqual(st *fieldState, eq any) error {
	switch {
	case eq == nil:
		st.add(st.ref + " IS NULL")
	case st.isDot:
		operand, cast := dotOperand(eq)
		st.add(fmt.Sprintf("%s = %s", castRef(st.ref, cast), c.b.Arg(operand)))
	case hasRelativeTime(eq):
		return relativeTimeMisuse()
	default:
		st.add(fmt.Sprintf("%s = %s", st.ref, c.b.Arg(schema.StorageValue(eq))))
	}
	return nil
}

// flatten spreads nested arrays one level.
func flatten(list []any) []any {
	out := make([]any, 0, len(list))
	for _, e := range list {
		if inner, ok := core.AsSlice(e); ok {
			out = append(out, inner...)
			continue
		}
		out = append(out, e)
	}
	return out
}

func splitNulls(list []any) (values []any, hasNull bool) {
	for _, e := range list {
		if e == nil {
			hasNull = true
			continue
		}
		values = append(values, schema.StorageValue(e))
	}
	return values, hasNull
}

func (c *compiler) compileIn(st *fieldState, m map[string]any) error {
	inVal, hasIn := m["$in"]
	ninVal, hasNin := m["$nin"]
	inList, inOK := core.AsSlice(inVal)
	ninList, ninOK := core.AsSlice(ninVal)

	if hasIn && !inOK {
		return core.NewError(core.InvalidJSON, "bad $in value")
	}
	if hasNin && !ninOK {
		return core.NewError(core.InvalidJSON, "bad $nin value")
	}
	if hasIn {
		c.inConstraint(st, flatten(inList), false)
	}
	if hasNin {
		c.inConstraint(st, flatten(ninList), true)
	}
	return nil
}

func (c *compiler) inConstraint(st *fieldState, list []any, notIn bool) {
	switch {
	case st.isDot:
		frag := fmt.Sprintf("(%s)::jsonb <@ %s::jsonb", schema.DotFieldJSON(st.field), c.b.Arg(mustJSON(list)))
		if notIn {
			frag = "NOT " + frag
		}
		st.add(frag)
		return
	case len(list) == 0:
		if notIn {
			st.add("1 = 1")
		} else {
			st.add("1 = 2")
		}
		return
	case st.fd.IsStringArray():
		values, hasNull := splitNulls(list)
		strs := make([]string, 0, len(values))
		for _, v := range values {
			strs = append(strs, fmt.Sprint(v))
		}
		var overlap string
		if len(strs) > 0 {
			overlap = fmt.Sprintf("%s && %s::text[]", st.ref, c.b.Arg(strs))
		}
		switch {
		case notIn && overlap == "":
			st.add(st.ref + " IS NOT NULL")
		case notIn:
			st.add(fmt.Sprintf("(%s IS NULL OR NOT (%s))", st.ref, overlap))
		case overlap == "":
			st.add(st.ref + " IS NULL")
		case hasNull:
			st.add(fmt.Sprintf("(%s IS NULL OR %s)", st.ref, overlap))
		default:
			st.add(overlap)
		}
		return
	case st.isArray:
		not := ""
		if notIn {
			not = "NOT "
		}
		st.add(fmt.Sprintf("%sarray_contains(%s, %s::jsonb)", not, st.ref, c.b.Arg(mustJSON(list))))
		return
	}

	values, hasNull := splitNulls(list)
	placeholders := make([]string, len(values))
	for i, v := range values {
		placeholders[i] = c.b.Arg(v)
	}
	switch {
	case len(values) == 0 && notIn:
		st.add(st.ref + " IS NOT NULL")
	case len(values) == 0:
		st.add(st.ref + " IS NULL")
	case notIn:
		st.add(fmt.Sprintf("%s NOT IN (%s)", st.ref, sqlbuilder.Join(placeholders)))
	case hasNull:
		st.add(fmt.Sprintf("(%s IS NULL OR %s IN (%s))", st.ref, st.ref, sqlbuilder.Join(placeholders)))
	default:
		st.add(fmt.Sprintf("%s IN (%s)", st.ref, sqlbuilder.Join(placeholders)))
	}
}

func (c *compiler) compileAll(st *fieldState, m map[string]any) error {
	allVal, ok := m["$all"]
	if !ok {
		return nil
	}
	list, ok := core.AsSlice(allVal)
	if !ok {
		return nil
	}
	if !st.isArray {
		if len(list) == 1 {
			st.add(fmt.Sprintf("%s = %s", st.ref, c.b.Arg(schema.StorageValue(list[0]))))
		}
		return nil
	}
	if isAnyValueRegexStartsWith(list) {
		if !isAllValuesRegexOrNone(list) {
			return core.NewError(core.InvalidJSON, "All $all values must be of regex type or none: %s", mustJSON(list))
		}
		prefixes := make([]any, len(list))
		for i, v := range list {
			pattern := processRegexPattern(regexOf(v).(string))
			prefixes[i] = pattern[1:] + "%"
		}
		st.add(fmt.Sprintf("array_contains_all_regex(%s, %s::jsonb)", st.ref, c.b.Arg(mustJSON(prefixes))))
		return nil
	}
	st.add(fmt.Sprintf("array_contains_all(%s, %s::jsonb)", st.ref, c.b.Arg(mustJSON(list))))
	return nil
}

func (c *compiler) compileRegex(st *fieldState, regex, options any) error {
	pattern, ok := regex.(string)
	if !ok {
		return core.NewError(core.InvalidJSON, "bad $regex: should be a string")
	}
	operator := "~"
	if opts, ok := options.(string); ok {
		if strings.Contains(opts, "i") {
			operator = "~*"
		}
		if strings.Contains(opts, "x") {
			pattern = removeWhiteSpace(pattern)
		}
	}
	st.add(fmt.Sprintf("%s %s %s", st.ref, operator, c.b.Arg(processRegexPattern(pattern))))
	return nil
}

func (c *compiler) compileTypedLiteral(st *fieldState, m map[string]any) error {
	switch core.TypeTag(m) {
	case core.TagPointer:
		if st.isArray {
			st.add(fmt.Sprintf("array_contains(%s, %s::jsonb)", st.ref, c.b.Arg(mustJSON([]any{m}))))
		} else {
			st.add(fmt.Sprintf("%s = %s", st.ref, c.b.Arg(m["objectId"])))
		}
	case core.TagDate:
		if st.isDot {
			st.add(fmt.Sprintf("%s = %s", st.ref, c.b.Arg(schema.StorageText(m))))
		} else {
			st.add(fmt.Sprintf("%s = %s", st.ref, c.b.Arg(schema.StorageValue(m))))
		}
	case core.TagGeoPoint:
		p, ok := core.GeoPointFrom(m)
		if !ok {
			return core.NewError(core.InvalidJSON, "bad GeoPoint value")
		}
		st.add(fmt.Sprintf("%s ~= POINT(%s, %s)", st.ref, c.b.Arg(p.Longitude), c.b.Arg(p.Latitude)))
	case core.TagPolygon:
		literal, err := schema.PolygonToSQL(m["coordinates"])
		if err != nil {
			return err
		}
		st.add(fmt.Sprintf("%s ~= %s::polygon", st.ref, c.b.Arg(literal)))
	}
	return nil
}

func (c *compiler) compileComparators(st *fieldState, m map[string]any) error {
	for _, cmp := range comparators {
		v, ok := m[cmp.op]
		if !ok || !(truthy(v) || isZero(v)) {
			continue
		}
		if st.isDot {
			operand, cast := dotOperand(v)
			st.add(fmt.Sprintf("%s %s %s", castRef(st.ref, cast), cmp.sql, c.b.Arg(operand)))
			continue
		}
		operand := schema.StorageValue(v)
		if rt, ok := core.AsMap(v); ok {
			if text, ok := rt["$relativeTime"]; ok {
				if st.fd.Type != core.TypeDate {
					return core.NewError(core.InvalidJSON, "$relativeTime can only be used with Date field")
				}
				phrase, _ := text.(string)
				resolved, err := RelativeTimeToDate(phrase, c.opts.Now())
				if err != nil {
					return core.NewError(core.InvalidJSON, "bad $relativeTime (%v) value. %s", text, err)
				}
				operand = resolved
			}
		}
		st.add(fmt.Sprintf("%s %s %s", st.ref, cmp.sql, c.b.Arg(operand)))
	}
	return nil
}

// truthy mirrors the truthiness of decoded JSON values.
func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	}
	if f, ok := core.ToFloat(v); ok {
		return f != 0 && !math.IsNaN(f)
	}
	return true
}

func isZero(v any) bool {
	f, ok := core.ToFloat(v)
	return ok && f == 0
}

func mustJSON(v any) string {
	encoded, err := json.Marshal(v)
	if err != nil {
		return "null"
	}
	return string(encoded)
}
