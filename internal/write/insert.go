// Package write compiles INSERT, UPDATE and DELETE statements and runs
// them inside transactional sessions.
package write

import (
	"fmt"
	"regexp"

	"github.com/rzpsarthak13/docbridge/internal/core"
	"github.com/rzpsarthak13/docbridge/internal/query"
	"github.com/rzpsarthak13/docbridge/internal/schema"
	"github.com/rzpsarthak13/docbridge/internal/sqlbuilder"
)

var duplicatedFieldPattern = regexp.MustCompile(`unique_([a-zA-Z]+)`)

// BuildInsert compiles object into INSERT INTO t (cols) VALUES (...).
// It also returns the document as stored, with dot paths expanded and
// auth data folded.
func BuildInsert(className string, s *core.Schema, object core.Object) (*core.Statement, core.Object, error) {
	columns, stored, err := schema.NewTranslator().ObjectToColumns(className, s.WithStorageFields(), object)
	if err != nil {
		return nil, nil, err
	}

	b := sqlbuilder.New()
	table := b.Ident(className)
	names := make([]string, len(columns))
	values := make([]string, len(columns))
	for i, c := range columns {
		names[i] = b.Ident(c.Name)
		switch {
		case c.Point != nil:
			values[i] = fmt.Sprintf("POINT(%s, %s)", b.Arg(c.Point.Longitude), b.Arg(c.Point.Latitude))
		case c.Cast != "":
			values[i] = b.Arg(c.Value) + "::" + c.Cast
		default:
			values[i] = b.Arg(c.Value)
		}
	}

	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, sqlbuilder.Join(names), sqlbuilder.Join(values))
	return &core.Statement{SQL: stmt, Args: b.Args()}, stored, nil
}

// DuplicateError builds the DUPLICATE_VALUE error for a unique violation,
// naming the field when the constraint name carries it.
func DuplicateError(be core.BackendError, cause error) *core.Error {
	e := &core.Error{
		Code:    core.DuplicateValue,
		Message: "A duplicate value for a field with unique values was provided",
		Err:     cause,
	}
	if m := duplicatedFieldPattern.FindStringSubmatch(be.Constraint); m != nil {
		e.UserInfo = map[string]any{"duplicated_field": m[1]}
	}
	return e
}

// BuildDelete compiles a counted delete:
// WITH deleted AS (DELETE FROM t WHERE p RETURNING *) SELECT count(*) FROM deleted.
// An empty filter deletes every row.
func BuildDelete(className string, s *core.Schema, filter core.Filter) (*core.Statement, error) {
	b := sqlbuilder.New()
	table := b.Ident(className)
	where, err := query.Build(b, s, filter, query.Options{})
	if err != nil {
		return nil, err
	}
	pattern := where.Pattern
	if pattern == "" {
		pattern = "TRUE"
	}
	stmt := fmt.Sprintf("WITH deleted AS (DELETE FROM %s WHERE %s RETURNING *) SELECT count(*) FROM deleted", table, pattern)
	return &core.Statement{SQL: stmt, Args: b.Args()}, nil
}
