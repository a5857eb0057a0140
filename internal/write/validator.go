package write

import (
	"encoding/json"

	"github.com/rzpsarthak13/docbridge/internal/core"
)

// OperationValidator validates the shape of update operations before
// they are compiled.
type OperationValidator struct {
	known map[string]func(field string, op map[string]any) error
}

// NewOperationValidator creates a validator for the supported operations.
func NewOperationValidator() *OperationValidator {
	return &OperationValidator{
		known: map[string]func(string, map[string]any) error{
			core.OpIncrement: validateIncrement,
			core.OpAdd:       validateObjects,
			core.OpAddUnique: validateObjects,
			core.OpRemove:    validateObjects,
			core.OpDelete:    func(string, map[string]any) error { return nil },
		},
	}
}

// Validate checks one field of an update. Values that are not operations
// always pass.
func (v *OperationValidator) Validate(field string, value any) error {
	op, ok := core.AsMap(value)
	if !ok {
		return nil
	}
	tag := core.OpTag(op)
	if tag == "" {
		return nil
	}
	check, ok := v.known[tag]
	if !ok {
		encoded, _ := json.Marshal(op)
		return core.NewError(core.OperationForbidden, "Postgres doesn't support update %s yet", encoded)
	}
	return check(field, op)
}

func validateIncrement(field string, op map[string]any) error {
	if !core.IsNumber(op["amount"]) {
		return core.NewError(core.InvalidJSON, "Increment on %s requires a numeric amount", field)
	}
	return nil
}

func validateObjects(field string, op map[string]any) error {
	if _, ok := core.AsSlice(op["objects"]); !ok {
		return core.NewError(core.InvalidJSON, "%s on %s requires an objects array", core.OpTag(op), field)
	}
	return nil
}
