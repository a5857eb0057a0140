package query

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcessRegexPattern(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{`abc`, `abc`},
		{`^\Qa.b\E`, `^a\.b`},
		{`\Q(x)\E$`, `\(x\)$`},
		{`pre\Qa+b\E`, `prea\+b`},
		{`\Qopen.ended`, `open\.ended`},
		{`\Qé ü\E`, `é ü`},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, processRegexPattern(tt.in))
		})
	}
}

func TestRemoveWhiteSpace(t *testing.T) {
	assert.Equal(t, "abc", removeWhiteSpace("a b # note\nc"))
	assert.Equal(t, "ab", removeWhiteSpace("# heading\na\n  b"))
	assert.Equal(t, `a\ b`, removeWhiteSpace(`a\ b`))
}

func TestStartsWithRegex(t *testing.T) {
	assert.True(t, isStartsWithRegex(`^\Qab\E`))
	assert.False(t, isStartsWithRegex(`ab`))
	assert.False(t, isStartsWithRegex(3))

	values := []any{map[string]any{"$regex": `^\Qa\E`}, map[string]any{"$regex": `^\Qb\E`}}
	assert.True(t, isAnyValueRegexStartsWith(values))
	assert.True(t, isAllValuesRegexOrNone(values))
	assert.False(t, isAllValuesRegexOrNone(append(values, "plain")))
	assert.True(t, isAllValuesRegexOrNone(nil))
}

func TestRelativeTimeToDate(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	got, err := RelativeTimeToDate("in 2 days", now)
	require.NoError(t, err)
	assert.Equal(t, now.Add(48*time.Hour), got)

	got, err = RelativeTimeToDate("3 hours 10 minutes ago", now)
	require.NoError(t, err)
	assert.Equal(t, now.Add(-3*time.Hour-10*time.Minute), got)

	got, err = RelativeTimeToDate("In 1 Week", now)
	require.NoError(t, err)
	assert.Equal(t, now.Add(7*24*time.Hour), got)

	got, err = RelativeTimeToDate("now", now)
	require.NoError(t, err)
	assert.Equal(t, now, got)

	for _, bad := range []string{"2 days", "in 2 days ago", "in 2", "in x days", "in 2 fortnights", ""} {
		_, err := RelativeTimeToDate(bad, now)
		assert.Error(t, err, bad)
	}
}
