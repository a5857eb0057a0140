package write

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rzpsarthak13/docbridge/internal/core"
	"github.com/rzpsarthak13/docbridge/internal/query"
	"github.com/rzpsarthak13/docbridge/internal/schema"
	"github.com/rzpsarthak13/docbridge/internal/sqlbuilder"
)

// UpdateCompiler turns update documents into UPDATE statements.
type UpdateCompiler struct {
	validator *OperationValidator
}

// NewUpdateCompiler creates a new update compiler.
func NewUpdateCompiler() *UpdateCompiler {
	return &UpdateCompiler{validator: NewOperationValidator()}
}

// BuildUpdate compiles update and filter into
// UPDATE t SET ... WHERE ... RETURNING *. It returns nil when the update
// has nothing to set, for example when it only touches relations.
func BuildUpdate(className string, s *core.Schema, update core.Update, filter core.Filter) (*core.Statement, error) {
	return NewUpdateCompiler().Build(className, s, update, filter)
}

// Build compiles one update. See BuildUpdate.
func (u *UpdateCompiler) Build(className string, s *core.Schema, update core.Update, filter core.Filter) (*core.Statement, error) {
	s = s.WithStorageFields()
	b := sqlbuilder.New()

	dotWritten := make(map[string]bool)
	for field := range update {
		if schema.IsDotField(field) {
			dotWritten[schema.TopLevel(field)] = true
		}
	}
	expanded := schema.ExpandDotFields(update)
	schema.FoldAuthData(expanded)

	var sets []string
	for _, field := range core.SortedKeys(expanded) {
		value := expanded[field]
		if err := u.validator.Validate(field, value); err != nil {
			return nil, err
		}
		set, err := u.compileField(b, s, update, field, value, dotWritten[field])
		if err != nil {
			return nil, err
		}
		if set != "" {
			sets = append(sets, set)
		}
	}
	if len(sets) == 0 {
		return nil, nil
	}

	table := b.Ident(className)
	where, err := query.Build(b, s, filter, query.Options{})
	if err != nil {
		return nil, err
	}
	stmt := fmt.Sprintf("UPDATE %s SET %s", table, sqlbuilder.Join(sets))
	if where.Pattern != "" {
		stmt += " WHERE " + where.Pattern
	}
	stmt += " RETURNING *"
	return &core.Statement{SQL: stmt, Args: b.Args()}, nil
}

func (u *UpdateCompiler) compileField(b *sqlbuilder.Builder, s *core.Schema, original core.Update, field string, value any, merge bool) (string, error) {
	col := b.Ident(field)
	if value == nil {
		return col + " = NULL", nil
	}
	if field == "authData" {
		if auth, ok := core.AsMap(value); ok {
			return col + " = " + setAuthData(b, col, auth), nil
		}
	}

	switch core.OpTag(value) {
	case core.OpIncrement:
		m, _ := core.AsMap(value)
		return fmt.Sprintf("%s = COALESCE(%s, 0) + %s", col, col, b.Arg(m["amount"])), nil
	case core.OpAdd:
		return arrayHelper(b, col, "array_add", value), nil
	case core.OpAddUnique:
		return arrayHelper(b, col, "array_add_unique", value), nil
	case core.OpRemove:
		return arrayHelper(b, col, "array_remove", value), nil
	case core.OpDelete:
		return fmt.Sprintf("%s = %s", col, b.Arg(nil)), nil
	}

	if field == "updatedAt" {
		return fmt.Sprintf("%s = %s", col, b.Arg(schema.DateStorageValue(value))), nil
	}

	switch v := value.(type) {
	case string, bool:
		return fmt.Sprintf("%s = %s", col, b.Arg(v)), nil
	}

	switch core.TypeTag(value) {
	case core.TagPointer, core.TagDate, core.TagFile:
		return fmt.Sprintf("%s = %s", col, b.Arg(schema.StorageValue(value))), nil
	case core.TagGeoPoint:
		p, ok := core.GeoPointFrom(value)
		if !ok {
			return "", core.NewError(core.InvalidJSON, "bad GeoPoint value for %s", field)
		}
		return fmt.Sprintf("%s = POINT(%s, %s)", col, b.Arg(p.Longitude), b.Arg(p.Latitude)), nil
	case core.TagPolygon:
		m, _ := core.AsMap(value)
		literal, err := schema.PolygonToSQL(m["coordinates"])
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s = %s::polygon", col, b.Arg(literal)), nil
	case core.TagRelation:
		return "", nil
	}

	if core.IsNumber(value) {
		return fmt.Sprintf("%s = %s", col, b.Arg(value)), nil
	}

	fd, declared := s.Field(field)
	if obj, ok := core.AsMap(value); ok && declared && fd.Type == core.TypeObject {
		if err := schema.ValidateNestedKeys(obj); err != nil {
			return "", err
		}
		return compileObject(b, col, field, obj, original, merge)
	}
	if list, ok := core.AsSlice(value); ok && declared && fd.Type == core.TypeArray {
		if fd.IsStringArray() {
			strs := make([]string, len(list))
			for i, e := range list {
				strs[i] = fmt.Sprint(e)
			}
			return fmt.Sprintf("%s = %s::text[]", col, b.Arg(strs)), nil
		}
		encoded, err := json.Marshal(list)
		if err != nil {
			return "", core.NewError(core.InvalidJSON, "failed to encode %s: %v", field, err)
		}
		return fmt.Sprintf("%s = %s::jsonb", col, b.Arg(string(encoded))), nil
	}

	encoded, _ := json.Marshal(value)
	return "", core.NewError(core.OperationForbidden, "Postgres doesn't support update %s yet", encoded)
}

// setAuthData chains json_object_set_key once per provider. A Delete
// operation writes null for its provider.
func setAuthData(b *sqlbuilder.Builder, col string, auth map[string]any) string {
	expr := col
	for _, provider := range core.SortedKeys(auth) {
		var payload any
		if v := auth[provider]; v != nil && core.OpTag(v) != core.OpDelete {
			encoded, _ := json.Marshal(v)
			payload = string(encoded)
		}
		expr = fmt.Sprintf("json_object_set_key(COALESCE(%s, '{}'::jsonb), %s::text, %s::jsonb)::jsonb",
			expr, b.Arg(provider), b.Arg(payload))
	}
	return expr
}

func arrayHelper(b *sqlbuilder.Builder, col, helper string, op any) string {
	m, _ := core.AsMap(op)
	objects, ok := core.AsSlice(m["objects"])
	if !ok {
		objects = []any{}
	}
	encoded, _ := json.Marshal(objects)
	return fmt.Sprintf("%s = %s(COALESCE(%s, '[]'::jsonb), %s::jsonb)", col, helper, col, b.Arg(string(encoded)))
}

// nestedOps returns the second path component of every two-part dot key
// on field whose value carries op.
func nestedOps(original core.Update, field, op string) []string {
	var keys []string
	for _, k := range core.SortedKeys(original) {
		parts := strings.Split(k, ".")
		if len(parts) != 2 || parts[0] != field {
			continue
		}
		if core.OpTag(original[k]) == op {
			keys = append(keys, parts[1])
		}
	}
	return keys
}

// compileObject combines an overwrite or merge of a JSON object column with
// nested deletes and nested increments.
func compileObject(b *sqlbuilder.Builder, col, field string, obj map[string]any, original core.Update, merge bool) (string, error) {
	payload := make(map[string]any, len(obj))
	for k, v := range obj {
		payload[k] = v
	}

	base := "'{}'::jsonb"
	if merge {
		base = fmt.Sprintf("COALESCE(%s, '{}'::jsonb)", col)
	}
	expr := base
	for _, key := range nestedOps(original, field, core.OpDelete) {
		expr += fmt.Sprintf(" - %s::text", b.Arg(key))
	}
	for _, key := range nestedOps(original, field, core.OpIncrement) {
		op, _ := core.AsMap(payload[key])
		delete(payload, key)
		k := b.Arg(key)
		expr += fmt.Sprintf(" || jsonb_build_object(%s::text, COALESCE((%s->>%s::text)::double precision, 0) + %s)",
			k, col, k, b.Arg(op["amount"]))
	}

	encoded, err := json.Marshal(payload)
	if err != nil {
		return "", core.NewError(core.InvalidJSON, "failed to encode %s: %v", field, err)
	}
	return fmt.Sprintf("%s = (%s || %s::jsonb)", col, expr, b.Arg(string(encoded))), nil
}
