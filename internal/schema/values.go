package schema

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/rzpsarthak13/docbridge/internal/core"
	"github.com/rzpsarthak13/docbridge/internal/sqlbuilder"
)

// StorageValue converts a document value into the value bound for a
// column: dates become time.Time, files their name, pointers their id.
func StorageValue(v any) any {
	m, ok := core.AsMap(v)
	if !ok {
		return v
	}
	switch core.TypeTag(m) {
	case core.TagDate:
		iso, _ := m["iso"].(string)
		if t, err := ParseISO(iso); err == nil {
			return t
		}
		return iso
	case core.TagFile:
		return m["name"]
	case core.TagPointer:
		return m["objectId"]
	}
	return v
}

// StorageText converts a document value into the form it takes inside a
// JSON column, where dates are compared as ISO strings.
func StorageText(v any) any {
	switch t := StorageValue(v).(type) {
	case time.Time:
		return core.FormatISO(t)
	default:
		return t
	}
}

// CastType returns the SQL type a JSON text value must be cast to before
// it can be compared with v, or "" when text comparison is correct.
func CastType(v any) string {
	switch StorageValue(v).(type) {
	case bool:
		return ColumnBoolean
	case float64, float32, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return ColumnDouble
	}
	return ""
}

// ParseISO parses the timestamps found in Date values.
func ParseISO(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse timestamp %q: %w", s, err)
	}
	return t, nil
}

// DateStorageValue returns the timestamp of a Date value, or nil.
func DateStorageValue(v any) any {
	switch d := v.(type) {
	case nil:
		return nil
	case time.Time:
		return d
	case string:
		if t, err := ParseISO(d); err == nil {
			return t
		}
		return d
	}
	if core.TypeTag(v) == core.TagDate {
		return StorageValue(v)
	}
	return v
}

// FormatNumber renders f the way SQL literals and JSON text expect.
func FormatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// FormatPoint renders a point literal.
func FormatPoint(longitude, latitude float64) string {
	return fmt.Sprintf("(%s, %s)", FormatNumber(longitude), FormatNumber(latitude))
}

// PolygonCoordinates reads [lon, lat] pairs.
func PolygonCoordinates(v any) ([][2]float64, bool) {
	var items []any
	switch c := v.(type) {
	case [][]float64:
		out := make([][2]float64, len(c))
		for i, p := range c {
			if len(p) != 2 {
				return nil, false
			}
			out[i] = [2]float64{p[0], p[1]}
		}
		return out, true
	case [][2]float64:
		return c, true
	default:
		var ok bool
		if items, ok = core.AsSlice(v); !ok {
			return nil, false
		}
	}
	out := make([][2]float64, 0, len(items))
	for _, item := range items {
		pair, ok := core.AsSlice(item)
		if !ok || len(pair) != 2 {
			return nil, false
		}
		lon, ok1 := core.ToFloat(pair[0])
		lat, ok2 := core.ToFloat(pair[1])
		if !ok1 || !ok2 {
			return nil, false
		}
		out = append(out, [2]float64{lon, lat})
	}
	return out, true
}

// PolygonToSQL renders a ring of [lon, lat] pairs as a polygon literal.
// An open ring is closed; fewer than three distinct vertices is an error.
func PolygonToSQL(coordinates any) (string, error) {
	points, ok := PolygonCoordinates(coordinates)
	if !ok {
		return "", core.NewError(core.InvalidJSON, "bad polygon: coordinates should be [longitude, latitude] pairs")
	}
	if len(points) < 3 {
		return "", core.NewError(core.InvalidJSON, "Polygon must have at least 3 values")
	}
	if points[0] != points[len(points)-1] {
		points = append(points, points[0])
	}

	seen := make(map[[2]float64]struct{}, len(points))
	for _, p := range points {
		seen[p] = struct{}{}
	}
	if len(seen) < 3 {
		return "", core.NewError(core.InternalServerError, "GeoJSON: Loop must have at least 3 different vertices")
	}

	parts := make([]string, len(points))
	for i, p := range points {
		if err := ValidateGeoPoint(p[1], p[0]); err != nil {
			return "", err
		}
		parts[i] = FormatPoint(p[0], p[1])
	}
	return "(" + strings.Join(parts, ", ") + ")", nil
}

// PointFromStorage decodes a point column.
func PointFromStorage(v any) (core.GeoPoint, bool) {
	switch p := v.(type) {
	case pgtype.Point:
		return core.GeoPoint{Longitude: p.P.X, Latitude: p.P.Y}, p.Valid
	case *pgtype.Point:
		if p == nil {
			return core.GeoPoint{}, false
		}
		return core.GeoPoint{Longitude: p.P.X, Latitude: p.P.Y}, p.Valid
	case string:
		pairs, ok := parsePairs(p)
		if !ok || len(pairs) != 1 {
			return core.GeoPoint{}, false
		}
		return core.GeoPoint{Longitude: pairs[0][0], Latitude: pairs[0][1]}, true
	case map[string]any:
		x, ok1 := core.ToFloat(p["x"])
		y, ok2 := core.ToFloat(p["y"])
		return core.GeoPoint{Longitude: x, Latitude: y}, ok1 && ok2
	}
	return core.GeoPoint{}, false
}

// PolygonFromStorage decodes a polygon column into [lon, lat] pairs.
func PolygonFromStorage(v any) ([][]float64, bool) {
	var pairs [][2]float64
	switch p := v.(type) {
	case pgtype.Polygon:
		if !p.Valid {
			return nil, false
		}
		for _, vec := range p.P {
			pairs = append(pairs, [2]float64{vec.X, vec.Y})
		}
	case *pgtype.Polygon:
		if p == nil {
			return nil, false
		}
		return PolygonFromStorage(*p)
	case string:
		var ok bool
		if pairs, ok = parsePairs(p); !ok {
			return nil, false
		}
	default:
		return nil, false
	}
	out := make([][]float64, len(pairs))
	for i, pair := range pairs {
		out[i] = []float64{pair[0], pair[1]}
	}
	return out, true
}

// parsePairs reads "(x,y)" or "((x1,y1),(x2,y2))" text.
func parsePairs(s string) ([][2]float64, bool) {
	s = strings.ReplaceAll(s, " ", "")
	s = strings.TrimLeft(s, "(")
	s = strings.TrimRight(s, ")")
	if s == "" {
		return nil, false
	}
	var out [][2]float64
	for _, chunk := range strings.Split(s, "),(") {
		chunk = strings.Trim(chunk, "() ")
		xy := strings.Split(chunk, ",")
		if len(xy) != 2 {
			return nil, false
		}
		x, err1 := strconv.ParseFloat(strings.TrimSpace(xy[0]), 64)
		y, err2 := strconv.ParseFloat(strings.TrimSpace(xy[1]), 64)
		if err1 != nil || err2 != nil {
			return nil, false
		}
		out = append(out, [2]float64{x, y})
	}
	return out, true
}

// IsDotField reports whether name addresses a key inside a JSON column.
func IsDotField(name string) bool {
	return strings.Contains(name, ".")
}

// TopLevel returns the column a dot path starts at.
func TopLevel(name string) string {
	if i := strings.IndexByte(name, '.'); i >= 0 {
		return name[:i]
	}
	return name
}

func isArrayIndex(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// DotFieldComponents renders each component of a dot path: the column as
// an identifier, numeric components as array indexes and others as keys.
func DotFieldComponents(name string) []string {
	parts := strings.Split(name, ".")
	out := make([]string, len(parts))
	for i, p := range parts {
		switch {
		case i == 0:
			out[i] = sqlbuilder.Quote(p)
		case isArrayIndex(p):
			out[i] = p
		default:
			out[i] = sqlbuilder.QuoteLiteral(p)
		}
	}
	return out
}

// DotFieldJSON renders a dot path as a jsonb traversal.
func DotFieldJSON(name string) string {
	return strings.Join(DotFieldComponents(name), "->")
}

// DotFieldText renders a dot path as a traversal yielding text, or the
// quoted column when name has no dot.
func DotFieldText(name string) string {
	if !IsDotField(name) {
		return sqlbuilder.Quote(name)
	}
	comps := DotFieldComponents(name)
	return strings.Join(comps[:len(comps)-1], "->") + "->>" + comps[len(comps)-1]
}
