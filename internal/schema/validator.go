package schema

import (
	"math"
	"strings"

	"github.com/rzpsarthak13/docbridge/internal/core"
)

// maxClassNameLength matches the width of the catalog key column.
const maxClassNameLength = 120

// ValidateClassName rejects names the catalog cannot store.
func ValidateClassName(name string) error {
	if name == "" {
		return core.NewError(core.InvalidKeyName, "class name cannot be empty")
	}
	if len(name) > maxClassNameLength {
		return core.NewError(core.InvalidKeyName, "class name %q is longer than %d characters", name, maxClassNameLength)
	}
	if strings.ContainsRune(name, 0) {
		return core.NewError(core.InvalidKeyName, "class name %q contains a NUL character", name)
	}
	return nil
}

// ValidateNestedKeys walks v and rejects any key containing '$' or '.'.
func ValidateNestedKeys(v any) error {
	if m, ok := core.AsMap(v); ok {
		for key, val := range m {
			if err := ValidateNestedKeys(val); err != nil {
				return err
			}
			if strings.ContainsAny(key, "$.") {
				return core.NewError(core.InvalidNestedKey, "Nested keys should not contain the '$' or '.' characters")
			}
		}
		return nil
	}
	if s, ok := core.AsSlice(v); ok {
		for _, val := range s {
			if err := ValidateNestedKeys(val); err != nil {
				return err
			}
		}
	}
	return nil
}

// ValidateGeoPoint checks coordinate bounds.
func ValidateGeoPoint(latitude, longitude float64) error {
	switch {
	case math.IsNaN(latitude) || math.IsNaN(longitude):
		return core.NewError(core.InvalidJSON, "GeoPoint should not take NaN values")
	case latitude < -90:
		return core.NewError(core.InvalidJSON, "GeoPoint latitude out of bounds: %s < -90.0.", FormatNumber(latitude))
	case latitude > 90:
		return core.NewError(core.InvalidJSON, "GeoPoint latitude out of bounds: %s > 90.0.", FormatNumber(latitude))
	case longitude < -180:
		return core.NewError(core.InvalidJSON, "GeoPoint longitude out of bounds: %s < -180.0.", FormatNumber(longitude))
	case longitude > 180:
		return core.NewError(core.InvalidJSON, "GeoPoint longitude out of bounds: %s > 180.0.", FormatNumber(longitude))
	}
	return nil
}
