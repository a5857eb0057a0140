// Package sqlbuilder assembles parameterized Postgres statements.
//
// A Builder owns the bind values of one statement. Each value appended
// returns the next $n token, so fragments compiled at any depth share one
// counter and parameters always line up with their placeholders.
package sqlbuilder

import (
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
)

// Kind selects how a placeholder is rendered.
type Kind int

const (
	// Value binds the operand as a parameter and renders $n.
	Value Kind = iota
	// Identifier renders the operand as a quoted identifier.
	Identifier
	// Raw renders the operand verbatim. Only compiler-generated SQL may
	// be passed as Raw.
	Raw
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case Value:
		return "value"
	case Identifier:
		return "identifier"
	case Raw:
		return "raw"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Builder accumulates the bind values of one statement.
type Builder struct {
	args []any
}

// New returns an empty builder.
func New() *Builder {
	return &Builder{}
}

// Placeholder renders operand according to kind.
func (b *Builder) Placeholder(kind Kind, operand any) string {
	switch kind {
	case Identifier:
		return Quote(fmt.Sprint(operand))
	case Raw:
		return fmt.Sprint(operand)
	default:
		b.args = append(b.args, operand)
		return fmt.Sprintf("$%d", len(b.args))
	}
}

// Arg binds v and returns its placeholder.
func (b *Builder) Arg(v any) string {
	return b.Placeholder(Value, v)
}

// Ident quotes a column or table name.
func (b *Builder) Ident(name string) string {
	return b.Placeholder(Identifier, name)
}

// Raw passes compiler-generated SQL through unchanged.
func (b *Builder) Raw(sql string) string {
	return b.Placeholder(Raw, sql)
}

// Args returns the bound values in placeholder order.
func (b *Builder) Args() []any {
	return b.args
}

// Len returns the number of bound values.
func (b *Builder) Len() int {
	return len(b.args)
}

// Quote renders name as a double-quoted identifier.
func Quote(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

// QuoteLiteral renders s as a single-quoted string literal.
func QuoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// Join renders a comma separated list.
func Join(parts []string) string {
	return strings.Join(parts, ", ")
}
