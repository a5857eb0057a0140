package docbridge

import (
	"github.com/rzpsarthak13/docbridge/internal/core"
	"github.com/rzpsarthak13/docbridge/internal/read"
	"github.com/rzpsarthak13/docbridge/internal/registry"
	"github.com/rzpsarthak13/docbridge/internal/write"
)

// Aliases of the internal types used in the Adapter signatures.
type (
	Schema          = core.Schema
	FieldDescriptor = core.FieldDescriptor
	FieldType       = core.FieldType
	Object          = core.Object
	Filter          = core.Filter
	Update          = core.Update
	Row             = core.Row
	FindOptions     = core.FindOptions
	SortKey         = core.SortKey
	Stage           = read.Stage
	Index           = registry.Index
	Session         = write.Session
	Error           = core.Error
	ErrorCode       = core.ErrorCode
)

// Field types.
const (
	TypeString   = core.TypeString
	TypeNumber   = core.TypeNumber
	TypeBoolean  = core.TypeBoolean
	TypeDate     = core.TypeDate
	TypeObject   = core.TypeObject
	TypeArray    = core.TypeArray
	TypePointer  = core.TypePointer
	TypeRelation = core.TypeRelation
	TypeFile     = core.TypeFile
	TypeGeoPoint = core.TypeGeoPoint
	TypePolygon  = core.TypePolygon
	TypeBytes    = core.TypeBytes
)

// Error codes carried by *Error.
const (
	InternalServerError = core.InternalServerError
	ObjectNotFound      = core.ObjectNotFound
	InvalidQuery        = core.InvalidQuery
	InvalidKeyName      = core.InvalidKeyName
	InvalidJSON         = core.InvalidJSON
	OperationForbidden  = core.OperationForbidden
	InvalidNestedKey    = core.InvalidNestedKey
	DuplicateValue      = core.DuplicateValue
)

// Sentinel errors.
var (
	ErrClassNotFound = core.ErrClassNotFound
	ErrFieldExists   = registry.ErrFieldExists
	ErrSessionClosed = write.ErrSessionClosed
)

// IsCode reports whether err carries code.
func IsCode(err error, code ErrorCode) bool {
	return core.IsCode(err, code)
}

// WithSession returns a context whose writes join session.
var WithSession = write.WithSession

// NewPointer builds a pointer value.
func NewPointer(className, objectID string) map[string]any {
	return core.NewPointer(className, objectID)
}

// IndexFromSpec converts a {field: 1} index spec into an Index.
func IndexFromSpec(name string, spec map[string]any) Index {
	return registry.IndexFromSpec(name, spec)
}
