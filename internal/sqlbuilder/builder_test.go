package sqlbuilder

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuilder_ValuePlaceholdersAreSequential(t *testing.T) {
	b := New()

	assert.Equal(t, "$1", b.Arg("a"))
	assert.Equal(t, "$2", b.Arg(2.5))
	assert.Equal(t, `"name"`, b.Ident("name"))
	assert.Equal(t, "NOW()", b.Raw("NOW()"))
	assert.Equal(t, "$3", b.Placeholder(Value, true))

	assert.Equal(t, []any{"a", 2.5, true}, b.Args())
	assert.Equal(t, 3, b.Len())
}

func TestQuote(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"objectId", `"objectId"`},
		{"_Join:users:Team", `"_Join:users:Team"`},
		{`we"ird`, `"we""ird"`},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Quote(tt.in))
	}
}

func TestQuoteLiteral(t *testing.T) {
	assert.Equal(t, `'it''s'`, QuoteLiteral("it's"))
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "value", Value.String())
	assert.Equal(t, "identifier", Identifier.String())
	assert.Equal(t, "raw", Raw.String())
}
