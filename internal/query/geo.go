package query

import (
	"fmt"
	"math"
	"strings"

	"github.com/rzpsarthak13/docbridge/internal/core"
	"github.com/rzpsarthak13/docbridge/internal/schema"
)

// EarthRadiusMeters converts radian distances into meters.
const EarthRadiusMeters = 6371 * 1000

func (c *compiler) compileGeo(st *fieldState, m map[string]any) error {
	if near, ok := m["$nearSphere"]; ok && near != nil {
		if err := c.compileNearSphere(st, near, m["$maxDistance"]); err != nil {
			return err
		}
	}
	if within, ok := core.AsMap(m["$within"]); ok {
		if box, ok := within["$box"]; ok {
			if err := c.compileBox(st, box); err != nil {
				return err
			}
		}
	}
	if geoWithin, ok := core.AsMap(m["$geoWithin"]); ok {
		if sphere, ok := geoWithin["$centerSphere"]; ok {
			if err := c.compileCenterSphere(st, sphere); err != nil {
				return err
			}
		}
		if polygon, ok := geoWithin["$polygon"]; ok {
			if err := c.compileWithinPolygon(st, polygon); err != nil {
				return err
			}
		}
	}
	if intersects, ok := core.AsMap(m["$geoIntersects"]); ok {
		if point, ok := intersects["$point"]; ok {
			p, ok := core.GeoPointFrom(point)
			if !ok {
				return core.NewError(core.InvalidJSON, "bad $geoIntersect value; $point should be GeoPoint")
			}
			if err := schema.ValidateGeoPoint(p.Latitude, p.Longitude); err != nil {
				return err
			}
			st.add(fmt.Sprintf("%s::polygon @> %s::point", st.ref, c.b.Arg(schema.FormatPoint(p.Longitude, p.Latitude))))
		}
	}
	return nil
}

func (c *compiler) distanceExpr(st *fieldState, p core.GeoPoint) string {
	return fmt.Sprintf("ST_DistanceSphere(%s::geometry, POINT(%s, %s)::geometry)", st.ref, c.b.Arg(p.Longitude), c.b.Arg(p.Latitude))
}

// compileNearSphere filters by great-circle distance and orders nearest
// first. Without $maxDistance only the ordering applies.
func (c *compiler) compileNearSphere(st *fieldState, near, maxDistance any) error {
	p, ok := core.GeoPointFrom(near)
	if !ok {
		return core.NewError(core.InvalidJSON, "bad $nearSphere value; should be GeoPoint")
	}
	distance := c.distanceExpr(st, p)
	st.sorts = append(st.sorts, distance+" ASC")
	if maxDistance == nil {
		st.add(distance + " IS NOT NULL")
		return nil
	}
	radians, ok := core.ToFloat(maxDistance)
	if !ok || math.IsNaN(radians) {
		return core.NewError(core.InvalidJSON, "bad $maxDistance value; should be a number")
	}
	st.add(fmt.Sprintf("%s <= %s", distance, c.b.Arg(radians*EarthRadiusMeters)))
	return nil
}

func (c *compiler) compileBox(st *fieldState, box any) error {
	corners, ok := core.AsSlice(box)
	if !ok || len(corners) != 2 {
		return core.NewError(core.InvalidJSON, "bad $within value; $box should be an array of two GeoPoints")
	}
	bottomLeft, ok1 := core.GeoPointFrom(corners[0])
	topRight, ok2 := core.GeoPointFrom(corners[1])
	if !ok1 || !ok2 {
		return core.NewError(core.InvalidJSON, "bad $within value; $box should be an array of two GeoPoints")
	}
	literal := fmt.Sprintf("(%s, %s)",
		schema.FormatPoint(bottomLeft.Longitude, bottomLeft.Latitude),
		schema.FormatPoint(topRight.Longitude, topRight.Latitude))
	st.add(fmt.Sprintf("%s::point <@ %s::box", st.ref, c.b.Arg(literal)))
	return nil
}

func (c *compiler) compileCenterSphere(st *fieldState, sphere any) error {
	parts, ok := core.AsSlice(sphere)
	if !ok || len(parts) < 2 {
		return core.NewError(core.InvalidJSON, "bad $geoWithin value; $centerSphere should be an array of Parse.GeoPoint and distance")
	}
	var p core.GeoPoint
	if pair, ok := lonLatPair(parts[0]); ok {
		p = pair
	} else if p, ok = core.GeoPointFrom(parts[0]); !ok {
		return core.NewError(core.InvalidJSON, "bad $geoWithin value; $centerSphere geo point invalid")
	}
	if err := schema.ValidateGeoPoint(p.Latitude, p.Longitude); err != nil {
		return err
	}
	radians, ok := core.ToFloat(parts[1])
	if !ok || math.IsNaN(radians) || radians < 0 {
		return core.NewError(core.InvalidJSON, "bad $geoWithin value; $centerSphere distance invalid")
	}
	st.add(fmt.Sprintf("%s <= %s", c.distanceExpr(st, p), c.b.Arg(radians*EarthRadiusMeters)))
	return nil
}

// lonLatPair reads a [lon, lat] array.
func lonLatPair(v any) (core.GeoPoint, bool) {
	pair, ok := core.AsSlice(v)
	if !ok || len(pair) != 2 {
		return core.GeoPoint{}, false
	}
	lon, ok1 := core.ToFloat(pair[0])
	lat, ok2 := core.ToFloat(pair[1])
	if !ok1 || !ok2 {
		return core.GeoPoint{}, false
	}
	return core.GeoPoint{Latitude: lat, Longitude: lon}, true
}

func (c *compiler) compileWithinPolygon(st *fieldState, polygon any) error {
	var points []any
	if core.TypeTag(polygon) == core.TagPolygon {
		m, _ := core.AsMap(polygon)
		coords, ok := core.AsSlice(m["coordinates"])
		if !ok || len(coords) < 3 {
			return core.NewError(core.InvalidJSON, "bad $geoWithin value; Polygon.coordinates should contain at least 3 lon/lat pairs")
		}
		points = coords
	} else if list, ok := core.AsSlice(polygon); ok {
		if len(list) < 3 {
			return core.NewError(core.InvalidJSON, "bad $geoWithin value; $polygon should contain at least 3 GeoPoints")
		}
		points = list
	} else {
		return core.NewError(core.InvalidJSON, "bad $geoWithin value; $polygon should be Polygon object or Array of Parse.GeoPoint's")
	}

	rendered := make([]string, len(points))
	for i, point := range points {
		p, ok := lonLatPair(point)
		if !ok {
			if p, ok = core.GeoPointFrom(point); !ok {
				return core.NewError(core.InvalidJSON, "bad $geoWithin value")
			}
		}
		if err := schema.ValidateGeoPoint(p.Latitude, p.Longitude); err != nil {
			return err
		}
		rendered[i] = schema.FormatPoint(p.Longitude, p.Latitude)
	}
	literal := "(" + strings.Join(rendered, ", ") + ")"
	st.add(fmt.Sprintf("%s::point <@ %s::polygon", st.ref, c.b.Arg(literal)))
	return nil
}
