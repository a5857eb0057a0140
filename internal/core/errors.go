package core

import (
	"errors"
	"fmt"
)

// ErrorCode classifies errors returned to callers.
type ErrorCode int

const (
	// InternalServerError marks failed internal validation.
	InternalServerError ErrorCode = 1
	// ObjectNotFound is returned when a write matched nothing.
	ObjectNotFound ErrorCode = 101
	// InvalidQuery rejects malformed index or query requests.
	InvalidQuery ErrorCode = 102
	// InvalidKeyName rejects unusable class or field names.
	InvalidKeyName ErrorCode = 105
	// InvalidJSON rejects malformed operator shapes.
	InvalidJSON ErrorCode = 107
	// OperationForbidden rejects filter or update shapes with no SQL form.
	OperationForbidden ErrorCode = 119
	// InvalidNestedKey rejects nested keys containing '$' or '.'.
	InvalidNestedKey ErrorCode = 121
	// DuplicateValue reports a unique index or catalog collision.
	DuplicateValue ErrorCode = 137
)

var (
	// ErrUnknownFieldType is returned for type tags outside the vocabulary.
	ErrUnknownFieldType = errors.New("unknown field type")

	// ErrClassNotFound is returned when the catalog has no row for a class.
	ErrClassNotFound = errors.New("class not found")
)

// Error is a typed error carrying a code callers can switch on.
type Error struct {
	// Code is the error class.
	Code ErrorCode

	// Message describes the failure.
	Message string

	// UserInfo carries structured details, such as the duplicated field.
	UserInfo map[string]any

	// Err is the underlying backend error, if any.
	Err error
}

// NewError creates a typed error with a formatted message.
func NewError(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Error implements error.
func (e *Error) Error() string {
	return fmt.Sprintf("code %d: %s", e.Code, e.Message)
}

// Unwrap returns the underlying backend error.
func (e *Error) Unwrap() error {
	return e.Err
}

// IsCode reports whether err is, or wraps, a typed error with code.
func IsCode(err error, code ErrorCode) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// BackendKind is the backend-independent meaning of a driver error.
type BackendKind int

const (
	// BackendUnknown is any error not in a translation table.
	BackendUnknown BackendKind = iota
	// BackendRelationMissing means the table does not exist.
	BackendRelationMissing
	// BackendDuplicateRelation means the table or index already exists.
	BackendDuplicateRelation
	// BackendDuplicateColumn means the column already exists.
	BackendDuplicateColumn
	// BackendColumnMissing means the column does not exist.
	BackendColumnMissing
	// BackendUniqueViolation means a unique index rejected the row.
	BackendUniqueViolation
	// BackendDuplicateObject means a type, function or constraint already exists.
	BackendDuplicateObject
)

// BackendError is a driver error translated into a BackendKind.
type BackendError struct {
	// Kind is the translated meaning.
	Kind BackendKind

	// Code is the driver-native code.
	Code string

	// Message is the driver message.
	Message string

	// Detail is the driver detail, when provided.
	Detail string

	// Constraint is the violated constraint name, when provided.
	Constraint string
}

// ErrorClassifier translates driver errors for one backend.
type ErrorClassifier interface {
	// Classify returns the translated error. ok is false for errors the
	// backend driver did not produce.
	Classify(err error) (BackendError, bool)
}
