package core

import (
	"encoding/json"
	"sort"
	"time"
)

// Object is a document keyed by field name.
type Object map[string]any

// Filter is a structured query: field name to literal or constraint object.
type Filter map[string]any

// Update maps field names to literal values or operations.
type Update map[string]any

// SortKey orders results by one field.
type SortKey struct {
	// Field is the field or dot path to sort on.
	Field string

	// Descending reverses the order.
	Descending bool
}

// FindOptions tunes a find.
type FindOptions struct {
	// Skip is the number of rows to skip, when set.
	Skip *int

	// Limit caps the number of rows, when set.
	Limit *int

	// Sort orders the results. A filter that implies an order overrides it.
	Sort []SortKey

	// Keys restricts the returned columns. Empty means all columns.
	Keys []string

	// CaseInsensitive enables case-insensitive username and email equality.
	CaseInsensitive bool

	// Explain returns the query plan instead of objects.
	Explain bool
}

// GeoPoint is a latitude/longitude pair.
type GeoPoint struct {
	Latitude  float64
	Longitude float64
}

// Typed value tags.
const (
	TagPointer  = "Pointer"
	TagRelation = "Relation"
	TagDate     = "Date"
	TagFile     = "File"
	TagGeoPoint = "GeoPoint"
	TagPolygon  = "Polygon"
	TagBytes    = "Bytes"
)

// Update operation tags.
const (
	OpIncrement = "Increment"
	OpAdd       = "Add"
	OpAddUnique = "AddUnique"
	OpRemove    = "Remove"
	OpDelete    = "Delete"
)

// ISOLayout is the timestamp layout of dates returned to callers.
const ISOLayout = "2006-01-02T15:04:05.000Z"

// FormatISO renders t in UTC with millisecond precision.
func FormatISO(t time.Time) string {
	return t.UTC().Format(ISOLayout)
}

// AsMap returns v as a JSON object, if it is one.
func AsMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case Object:
		return m, true
	case Filter:
		return m, true
	case Update:
		return m, true
	}
	return nil, false
}

// AsSlice returns v as a JSON array, if it is one.
func AsSlice(v any) ([]any, bool) {
	switch s := v.(type) {
	case []any:
		return s, true
	case []string:
		out := make([]any, len(s))
		for i, e := range s {
			out[i] = e
		}
		return out, true
	case []map[string]any:
		out := make([]any, len(s))
		for i, e := range s {
			out[i] = e
		}
		return out, true
	case []float64:
		out := make([]any, len(s))
		for i, e := range s {
			out[i] = e
		}
		return out, true
	}
	return nil, false
}

// TypeTag returns the __type of a typed value, or "".
func TypeTag(v any) string {
	m, ok := AsMap(v)
	if !ok {
		return ""
	}
	tag, _ := m["__type"].(string)
	return tag
}

// OpTag returns the __op of an update operation, or "".
func OpTag(v any) string {
	m, ok := AsMap(v)
	if !ok {
		return ""
	}
	op, _ := m["__op"].(string)
	return op
}

// ToFloat converts any numeric value to float64.
func ToFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// IsNumber reports whether v is numeric.
func IsNumber(v any) bool {
	_, ok := ToFloat(v)
	return ok
}

// GeoPointFrom reads a {__type:GeoPoint, latitude, longitude} value.
func GeoPointFrom(v any) (GeoPoint, bool) {
	m, ok := AsMap(v)
	if !ok || TypeTag(m) != TagGeoPoint {
		return GeoPoint{}, false
	}
	lat, ok1 := ToFloat(m["latitude"])
	lon, ok2 := ToFloat(m["longitude"])
	if !ok1 || !ok2 {
		return GeoPoint{}, false
	}
	return GeoPoint{Latitude: lat, Longitude: lon}, true
}

// NewGeoPoint builds a GeoPoint value.
func NewGeoPoint(latitude, longitude float64) map[string]any {
	return map[string]any{"__type": TagGeoPoint, "latitude": latitude, "longitude": longitude}
}

// NewPointer builds a Pointer value.
func NewPointer(className, objectID string) map[string]any {
	return map[string]any{"__type": TagPointer, "className": className, "objectId": objectID}
}

// NewRelation builds a Relation placeholder.
func NewRelation(className string) map[string]any {
	return map[string]any{"__type": TagRelation, "className": className}
}

// NewDate builds a Date value.
func NewDate(t time.Time) map[string]any {
	return map[string]any{"__type": TagDate, "iso": FormatISO(t)}
}

// NewFile builds a File value.
func NewFile(name string) map[string]any {
	return map[string]any{"__type": TagFile, "name": name}
}

// NewPolygon builds a Polygon value from [lon, lat] pairs.
func NewPolygon(coordinates [][]float64) map[string]any {
	coords := make([]any, len(coordinates))
	for i, c := range coordinates {
		coords[i] = []any{c[0], c[1]}
	}
	return map[string]any{"__type": TagPolygon, "coordinates": coords}
}

// SortedKeys returns the keys of m in lexical order.
func SortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
