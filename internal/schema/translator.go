package schema

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/rzpsarthak13/docbridge/internal/core"
)

// Column is one column of an INSERT, with the cast its placeholder needs.
type Column struct {
	// Name is the column name.
	Name string

	// Value is the bound value. Unused when Point is set.
	Value any

	// Cast is appended to the placeholder, e.g. "jsonb".
	Cast string

	// Point renders the column as POINT(lon, lat) when set.
	Point *core.GeoPoint
}

var authDataPattern = regexp.MustCompile(`^_auth_data_([a-zA-Z0-9_]+)$`)

// AuthDataProvider returns the provider of an _auth_data_<provider> key.
func AuthDataProvider(field string) (string, bool) {
	m := authDataPattern.FindStringSubmatch(field)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// userDateFields are the user bookkeeping columns holding timestamps.
var userDateFields = map[string]bool{
	"_email_verify_token_expires_at": true,
	"_account_lockout_expires_at":    true,
	"_perishable_token_expires_at":   true,
	"_password_changed_at":           true,
}

var userValueFields = map[string]bool{
	"_email_verify_token": true,
	"_failed_login_count": true,
	"_perishable_token":   true,
}

// Translator converts between documents and table rows.
type Translator struct {
	mapper *TypeMapper
}

// NewTranslator creates a new object translator.
func NewTranslator() *Translator {
	return &Translator{mapper: NewTypeMapper()}
}

// ExpandDotFields returns a copy of obj where every "a.b.c" key is merged
// into a nested object under "a". A Delete operation on a dot path leaves
// the key out of the nested object.
func ExpandDotFields(obj map[string]any) map[string]any {
	out := make(map[string]any, len(obj))
	for k, v := range obj {
		if !IsDotField(k) {
			out[k] = v
		}
	}
	for _, k := range core.SortedKeys(obj) {
		if !IsDotField(k) {
			continue
		}
		value := obj[k]
		components := strings.Split(k, ".")
		current, ok := core.AsMap(out[components[0]])
		if !ok {
			current = map[string]any{}
		} else {
			current = copyMap(current)
		}
		out[components[0]] = current
		for i, c := range components[1:] {
			if i == len(components)-2 {
				if core.OpTag(value) != core.OpDelete {
					current[c] = value
				}
				break
			}
			next, ok := core.AsMap(current[c])
			if !ok {
				next = map[string]any{}
			} else {
				next = copyMap(next)
			}
			current[c] = next
			current = next
		}
	}
	return out
}

// FoldAuthData moves every _auth_data_<provider> key under authData.
func FoldAuthData(obj map[string]any) {
	for _, k := range core.SortedKeys(obj) {
		provider, ok := AuthDataProvider(k)
		if !ok {
			continue
		}
		auth, ok := core.AsMap(obj["authData"])
		if !ok {
			auth = map[string]any{}
		} else {
			auth = copyMap(auth)
		}
		auth[provider] = obj[k]
		obj["authData"] = auth
		delete(obj, k)
	}
}

func copyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// ObjectToColumns encodes a document for INSERT. schema must already
// carry the storage fields. GeoPoint columns come last.
func (t *Translator) ObjectToColumns(className string, schema *core.Schema, object core.Object) ([]Column, core.Object, error) {
	obj := ExpandDotFields(object)
	if err := ValidateNestedKeys(obj); err != nil {
		return nil, nil, err
	}
	FoldAuthData(obj)

	var columns, points []Column
	for _, name := range core.SortedKeys(obj) {
		value := obj[name]
		if value == nil {
			continue
		}
		fd, declared := schema.Field(name)
		if !declared {
			col, err := userBookkeepingColumn(className, name, value)
			if err != nil {
				return nil, nil, err
			}
			columns = append(columns, col)
			continue
		}

		switch fd.Type {
		case core.TypeDate:
			columns = append(columns, Column{Name: name, Value: DateStorageValue(value)})
		case core.TypePointer:
			columns = append(columns, Column{Name: name, Value: StorageValue(value)})
		case core.TypeArray:
			if fd.IsStringArray() {
				columns = append(columns, Column{Name: name, Value: toStringSlice(value), Cast: ColumnStringArray})
				continue
			}
			encoded, err := json.Marshal(value)
			if err != nil {
				return nil, nil, fmt.Errorf("failed to encode field %s: %w", name, err)
			}
			columns = append(columns, Column{Name: name, Value: string(encoded), Cast: ColumnJSONB})
		case core.TypeObject, core.TypeBytes:
			encoded, err := json.Marshal(value)
			if err != nil {
				return nil, nil, fmt.Errorf("failed to encode field %s: %w", name, err)
			}
			columns = append(columns, Column{Name: name, Value: string(encoded), Cast: ColumnJSONB})
		case core.TypeString, core.TypeNumber, core.TypeBoolean:
			columns = append(columns, Column{Name: name, Value: value})
		case core.TypeFile:
			columns = append(columns, Column{Name: name, Value: StorageValue(value)})
		case core.TypePolygon:
			m, _ := core.AsMap(value)
			literal, err := PolygonToSQL(m["coordinates"])
			if err != nil {
				return nil, nil, err
			}
			columns = append(columns, Column{Name: name, Value: literal, Cast: ColumnPolygon})
		case core.TypeGeoPoint:
			p, ok := core.GeoPointFrom(value)
			if !ok {
				return nil, nil, core.NewError(core.InvalidJSON, "bad GeoPoint value for field %s", name)
			}
			points = append(points, Column{Name: name, Point: &p})
		case core.TypeRelation:
			// membership lives in the join table
		default:
			return nil, nil, fmt.Errorf("%w: type %s not supported yet", core.ErrUnknownFieldType, fd.Type)
		}
	}
	return append(columns, points...), core.Object(obj), nil
}

func userBookkeepingColumn(className, name string, value any) (Column, error) {
	if className == core.UserClassName {
		switch {
		case userValueFields[name]:
			return Column{Name: name, Value: value}, nil
		case name == "_password_history":
			encoded, err := json.Marshal(value)
			if err != nil {
				return Column{}, fmt.Errorf("failed to encode field %s: %w", name, err)
			}
			return Column{Name: name, Value: string(encoded), Cast: ColumnJSONB}, nil
		case userDateFields[name]:
			return Column{Name: name, Value: DateStorageValue(value)}, nil
		}
	}
	return Column{}, core.NewError(core.InvalidKeyName, "field %s is not declared on class %s", name, className)
}

func toStringSlice(v any) any {
	items, ok := core.AsSlice(v)
	if !ok {
		return v
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			return v
		}
		out = append(out, s)
	}
	return out
}

// RowToObject decodes a row into a document. Pointer, Relation, GeoPoint,
// Polygon and File fields get their typed shape, timestamps become ISO
// dates and null columns are dropped.
func (t *Translator) RowToObject(schema *core.Schema, row core.Row) core.Object {
	obj := make(core.Object, len(row))
	for k, v := range row {
		obj[k] = v
	}
	if schema != nil {
		for _, name := range core.SortedFieldNames(schema.Fields) {
			fd := schema.Fields[name]
			value, present := obj[name]
			switch fd.Type {
			case core.TypePointer:
				if present && value != nil {
					obj[name] = map[string]any{"__type": core.TagPointer, "objectId": fmt.Sprint(value), "className": fd.TargetClass}
				}
			case core.TypeRelation:
				obj[name] = core.NewRelation(fd.TargetClass)
			case core.TypeGeoPoint:
				if present && value != nil {
					if p, ok := PointFromStorage(value); ok {
						obj[name] = core.NewGeoPoint(p.Latitude, p.Longitude)
					}
				}
			case core.TypePolygon:
				if present && value != nil {
					if coords, ok := PolygonFromStorage(value); ok {
						obj[name] = core.NewPolygon(coords)
					}
				}
			case core.TypeFile:
				if present && value != nil {
					obj[name] = core.NewFile(fmt.Sprint(value))
				}
			}
		}
	}

	for _, name := range []string{"createdAt", "updatedAt"} {
		if ts, ok := obj[name].(time.Time); ok {
			obj[name] = core.FormatISO(ts)
		}
	}
	for k, v := range obj {
		switch val := v.(type) {
		case nil:
			delete(obj, k)
		case time.Time:
			obj[k] = core.NewDate(val)
		}
	}
	return obj
}
