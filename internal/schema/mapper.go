package schema

import (
	"fmt"

	"github.com/rzpsarthak13/docbridge/internal/core"
)

// Postgres column types produced by the mapper.
const (
	ColumnText        = "text"
	ColumnTimestamp   = "timestamp with time zone"
	ColumnJSONB       = "jsonb"
	ColumnBoolean     = "boolean"
	ColumnDouble      = "double precision"
	ColumnPoint       = "point"
	ColumnPolygon     = "polygon"
	ColumnStringArray = "text[]"
)

// TypeMapper maps field descriptors to Postgres column types.
type TypeMapper struct{}

// NewTypeMapper creates a new type mapper.
func NewTypeMapper() *TypeMapper {
	return &TypeMapper{}
}

// ColumnType returns the column type backing a field. Relation fields have
// no column and are rejected along with unknown types.
func (tm *TypeMapper) ColumnType(fd core.FieldDescriptor) (string, error) {
	switch fd.Type {
	case core.TypeString, core.TypeFile, core.TypePointer:
		return ColumnText, nil
	case core.TypeDate:
		return ColumnTimestamp, nil
	case core.TypeObject, core.TypeBytes:
		return ColumnJSONB, nil
	case core.TypeBoolean:
		return ColumnBoolean, nil
	case core.TypeNumber:
		return ColumnDouble, nil
	case core.TypeGeoPoint:
		return ColumnPoint, nil
	case core.TypePolygon:
		return ColumnPolygon, nil
	case core.TypeArray:
		if fd.IsStringArray() {
			return ColumnStringArray, nil
		}
		return ColumnJSONB, nil
	case core.TypeRelation:
		return "", fmt.Errorf("%w: relation fields are stored in join tables", core.ErrUnknownFieldType)
	}
	return "", fmt.Errorf("%w: no column type for %s", core.ErrUnknownFieldType, fd.Type)
}

// ColumnType maps fd using the default mapper.
func ColumnType(fd core.FieldDescriptor) (string, error) {
	return NewTypeMapper().ColumnType(fd)
}
