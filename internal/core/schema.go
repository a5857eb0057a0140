package core

import (
	"encoding/json"
	"fmt"
	"sort"
)

// FieldType is the closed set of field types a class may declare.
type FieldType int

const (
	// TypeString is a text field.
	TypeString FieldType = iota + 1
	// TypeNumber is a double precision field.
	TypeNumber
	// TypeBoolean is a boolean field.
	TypeBoolean
	// TypeDate is a timestamp field.
	TypeDate
	// TypeObject is a free-form JSON object field.
	TypeObject
	// TypeArray is an array field, typed by Contents when known.
	TypeArray
	// TypePointer references one object of TargetClass.
	TypePointer
	// TypeRelation is a many-to-many association kept in a join table.
	TypeRelation
	// TypeGeoPoint is a longitude/latitude pair.
	TypeGeoPoint
	// TypePolygon is a closed ring of points.
	TypePolygon
	// TypeBytes is base64 encoded binary data.
	TypeBytes
	// TypeFile references a stored file by name.
	TypeFile
)

var fieldTypeNames = map[FieldType]string{
	TypeString:   "String",
	TypeNumber:   "Number",
	TypeBoolean:  "Boolean",
	TypeDate:     "Date",
	TypeObject:   "Object",
	TypeArray:    "Array",
	TypePointer:  "Pointer",
	TypeRelation: "Relation",
	TypeGeoPoint: "GeoPoint",
	TypePolygon:  "Polygon",
	TypeBytes:    "Bytes",
	TypeFile:     "File",
}

// String returns the wire name of the type.
func (t FieldType) String() string {
	if name, ok := fieldTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("FieldType(%d)", int(t))
}

// ParseFieldType resolves a wire name such as "GeoPoint" to its FieldType.
func ParseFieldType(name string) (FieldType, error) {
	for t, n := range fieldTypeNames {
		if n == name {
			return t, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownFieldType, name)
}

// MarshalJSON encodes the type by name.
func (t FieldType) MarshalJSON() ([]byte, error) {
	name, ok := fieldTypeNames[t]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownFieldType, int(t))
	}
	return json.Marshal(name)
}

// UnmarshalJSON decodes a type name.
func (t *FieldType) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	parsed, err := ParseFieldType(name)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// FieldDescriptor is the type metadata of one field.
type FieldDescriptor struct {
	// Type is the field type.
	Type FieldType `json:"type"`

	// TargetClass is the referenced class for Pointer and Relation fields.
	TargetClass string `json:"targetClass,omitempty"`

	// Contents is the element type of an Array field, when declared.
	Contents *FieldDescriptor `json:"contents,omitempty"`
}

// IsStringArray reports whether the field is an Array of String.
func (f FieldDescriptor) IsStringArray() bool {
	return f.Type == TypeArray && f.Contents != nil && f.Contents.Type == TypeString
}

// Field is a shorthand constructor for a descriptor without parameters.
func Field(t FieldType) FieldDescriptor {
	return FieldDescriptor{Type: t}
}

// StringArray returns an Array descriptor with String contents.
func StringArray() FieldDescriptor {
	return FieldDescriptor{Type: TypeArray, Contents: &FieldDescriptor{Type: TypeString}}
}

// Schema describes one class and its backing table.
type Schema struct {
	// ClassName is the class name, also used as the table name.
	ClassName string `json:"className"`

	// Fields maps field names to their descriptors.
	Fields map[string]FieldDescriptor `json:"fields"`

	// ClassLevelPermissions maps an operation to principal permissions.
	ClassLevelPermissions map[string]any `json:"classLevelPermissions,omitempty"`

	// Indexes maps an index name to the indexed fields.
	Indexes map[string]map[string]any `json:"indexes,omitempty"`
}

// UserClassName is the class that carries password and token bookkeeping.
const UserClassName = "_User"

// JoinTablePrefix prefixes the tables that back Relation fields.
const JoinTablePrefix = "_Join:"

// Field returns the descriptor of name and whether it is declared.
func (s *Schema) Field(name string) (FieldDescriptor, bool) {
	if s == nil || s.Fields == nil {
		return FieldDescriptor{}, false
	}
	fd, ok := s.Fields[name]
	return fd, ok
}

// HasType reports whether name is declared with type t.
func (s *Schema) HasType(name string, t FieldType) bool {
	fd, ok := s.Field(name)
	return ok && fd.Type == t
}

// Clone returns a copy whose field, permission and index maps may be
// mutated without affecting s.
func (s *Schema) Clone() *Schema {
	if s == nil {
		return &Schema{Fields: map[string]FieldDescriptor{}}
	}
	out := &Schema{ClassName: s.ClassName, Fields: make(map[string]FieldDescriptor, len(s.Fields))}
	for k, v := range s.Fields {
		out.Fields[k] = v
	}
	if s.ClassLevelPermissions != nil {
		out.ClassLevelPermissions = make(map[string]any, len(s.ClassLevelPermissions))
		for k, v := range s.ClassLevelPermissions {
			out.ClassLevelPermissions[k] = v
		}
	}
	if s.Indexes != nil {
		out.Indexes = make(map[string]map[string]any, len(s.Indexes))
		for k, v := range s.Indexes {
			out.Indexes[k] = v
		}
	}
	return out
}

// WithStorageFields returns a copy of s carrying the ACL columns every
// table has, plus the password columns of the user class.
func (s *Schema) WithStorageFields() *Schema {
	out := s.Clone()
	out.Fields["_wperm"] = StringArray()
	out.Fields["_rperm"] = StringArray()
	if out.ClassName == UserClassName {
		out.Fields["_hashed_password"] = Field(TypeString)
		out.Fields["_password_history"] = Field(TypeArray)
	}
	return out
}

// UserBookkeepingFields are the columns created on the user class even
// though callers never declare them.
func UserBookkeepingFields() map[string]FieldDescriptor {
	return map[string]FieldDescriptor{
		"_email_verify_token_expires_at": Field(TypeDate),
		"_email_verify_token":            Field(TypeString),
		"_account_lockout_expires_at":    Field(TypeDate),
		"_failed_login_count":            Field(TypeNumber),
		"_perishable_token":              Field(TypeString),
		"_perishable_token_expires_at":   Field(TypeDate),
		"_password_changed_at":           Field(TypeDate),
		"_password_history":              Field(TypeArray),
	}
}

// JoinTables lists the join tables backing the Relation fields of s.
func (s *Schema) JoinTables() []string {
	if s == nil {
		return nil
	}
	var list []string
	for _, name := range SortedFieldNames(s.Fields) {
		if s.Fields[name].Type == TypeRelation {
			list = append(list, JoinTableName(s.ClassName, name))
		}
	}
	return list
}

// JoinTableName returns the join table of a relation field.
func JoinTableName(className, fieldName string) string {
	return JoinTablePrefix + fieldName + ":" + className
}

// SortedFieldNames returns the keys of fields in lexical order.
func SortedFieldNames(fields map[string]FieldDescriptor) []string {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

var clpOperations = []string{"find", "get", "count", "create", "update", "delete", "addField"}

// DefaultClassLevelPermissions returns the permissions of a class that
// never declared any: every operation is open to everyone.
func DefaultClassLevelPermissions() map[string]any {
	clps := make(map[string]any, len(clpOperations)+1)
	for _, op := range clpOperations {
		clps[op] = map[string]any{"*": true}
	}
	clps["protectedFields"] = map[string]any{"*": []any{}}
	return clps
}

func emptyClassLevelPermissions() map[string]any {
	clps := make(map[string]any, len(clpOperations)+1)
	for _, op := range clpOperations {
		clps[op] = map[string]any{}
	}
	clps["protectedFields"] = map[string]any{}
	return clps
}

// ToCallerSchema converts a catalog schema into the shape callers see:
// storage-only fields are hidden and permissions get their defaults.
func ToCallerSchema(s *Schema) *Schema {
	out := s.Clone()
	if out.ClassName == UserClassName {
		delete(out.Fields, "_hashed_password")
	}
	delete(out.Fields, "_wperm")
	delete(out.Fields, "_rperm")

	if s == nil || s.ClassLevelPermissions == nil {
		out.ClassLevelPermissions = DefaultClassLevelPermissions()
	} else {
		clps := emptyClassLevelPermissions()
		for k, v := range s.ClassLevelPermissions {
			clps[k] = v
		}
		out.ClassLevelPermissions = clps
	}
	if out.Indexes == nil {
		out.Indexes = map[string]map[string]any{}
	}
	return out
}
