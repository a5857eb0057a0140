package query

import (
	"math"
	"regexp"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rzpsarthak13/docbridge/internal/core"
	"github.com/rzpsarthak13/docbridge/internal/sqlbuilder"
)

func scoreSchema() *core.Schema {
	return &core.Schema{
		ClassName: "GameScore",
		Fields: map[string]core.FieldDescriptor{
			"objectId": core.Field(core.TypeString),
			"player":   core.Field(core.TypeString),
			"username": core.Field(core.TypeString),
			"email":    core.Field(core.TypeString),
			"score":    core.Field(core.TypeNumber),
			"cheated":  core.Field(core.TypeBoolean),
			"playedAt": core.Field(core.TypeDate),
			"profile":  core.Field(core.TypeObject),
			"tags":     core.StringArray(),
			"history":  core.Field(core.TypeArray),
			"team":     {Type: core.TypePointer, TargetClass: "Team"},
			"location": core.Field(core.TypeGeoPoint),
			"area":     core.Field(core.TypePolygon),
		},
	}
}

func compile(t *testing.T, filter core.Filter, opts Options) Compiled {
	t.Helper()
	c, err := Compile(scoreSchema(), filter, opts)
	require.NoError(t, err)
	return c
}

func TestCompile_Literals(t *testing.T) {
	tests := []struct {
		name    string
		filter  core.Filter
		pattern string
		values  []any
	}{
		{
			name:    "string and comparators",
			filter:  core.Filter{"player": "alice", "score": map[string]any{"$gt": 10.0, "$lte": 20.0}},
			pattern: `"player" = $1 AND "score" > $2 AND "score" <= $3`,
			values:  []any{"alice", 10.0, 20.0},
		},
		{
			name:    "null",
			filter:  core.Filter{"player": nil},
			pattern: `"player" IS NULL`,
		},
		{
			name:    "boolean against number",
			filter:  core.Filter{"score": true},
			pattern: `"score" = $1`,
			values:  []any{math.Ldexp(1, 64)},
		},
		{
			name:    "boolean",
			filter:  core.Filter{"cheated": false},
			pattern: `"cheated" = $1`,
			values:  []any{false},
		},
		{
			name:    "zero comparator",
			filter:  core.Filter{"score": map[string]any{"$gte": 0.0}},
			pattern: `"score" >= $1`,
			values:  []any{0.0},
		},
		{
			name:    "pointer literal",
			filter:  core.Filter{"team": core.NewPointer("Team", "t1")},
			pattern: `"team" = $1`,
			values:  []any{"t1"},
		},
		{
			name:    "geopoint literal",
			filter:  core.Filter{"location": core.NewGeoPoint(48.85, 2.35)},
			pattern: `"location" ~= POINT($1, $2)`,
			values:  []any{2.35, 48.85},
		},
		{
			name:    "date literal",
			filter:  core.Filter{"playedAt": core.NewDate(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))},
			pattern: `"playedAt" = $1`,
			values:  []any{time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
		},
		{
			name:    "ne",
			filter:  core.Filter{"player": map[string]any{"$ne": "a"}},
			pattern: `("player" <> $1 OR "player" IS NULL)`,
			values:  []any{"a"},
		},
		{
			name:    "ne null",
			filter:  core.Filter{"player": map[string]any{"$ne": nil}},
			pattern: `"player" IS NOT NULL`,
		},
		{
			name:    "ne geopoint",
			filter:  core.Filter{"location": map[string]any{"$ne": core.NewGeoPoint(1, 2)}},
			pattern: `(NOT ("location" ~= POINT($1, $2)) OR "location" IS NULL)`,
			values:  []any{2.0, 1.0},
		},
		{
			name:    "eq",
			filter:  core.Filter{"player": map[string]any{"$eq": "a"}},
			pattern: `"player" = $1`,
			values:  []any{"a"},
		},
		{
			name:    "exists",
			filter:  core.Filter{"player": map[string]any{"$exists": true}},
			pattern: `"player" IS NOT NULL`,
		},
		{
			name:    "containedBy",
			filter:  core.Filter{"history": map[string]any{"$containedBy": []any{1.0, 2.0}}},
			pattern: `"history" <@ $1::jsonb`,
			values:  []any{"[1,2]"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := compile(t, tt.filter, Options{})
			assert.Equal(t, tt.pattern, c.Pattern)
			if tt.values == nil {
				assert.Empty(t, c.Values)
			} else {
				assert.Equal(t, tt.values, c.Values)
			}
		})
	}
}

func TestCompile_In(t *testing.T) {
	tests := []struct {
		name    string
		filter  core.Filter
		pattern string
		values  []any
	}{
		{
			name:    "empty in matches nothing",
			filter:  core.Filter{"score": map[string]any{"$in": []any{}}},
			pattern: "1 = 2",
		},
		{
			name:    "empty nin matches everything",
			filter:  core.Filter{"score": map[string]any{"$nin": []any{}}},
			pattern: "1 = 1",
		},
		{
			name:    "scalar in",
			filter:  core.Filter{"player": map[string]any{"$in": []any{"a", "b"}}},
			pattern: `"player" IN ($1, $2)`,
			values:  []any{"a", "b"},
		},
		{
			name:    "scalar in with null",
			filter:  core.Filter{"player": map[string]any{"$in": []any{"a", nil}}},
			pattern: `("player" IS NULL OR "player" IN ($1))`,
			values:  []any{"a"},
		},
		{
			name:    "scalar nin flattens",
			filter:  core.Filter{"player": map[string]any{"$nin": []any{[]any{"a", "b"}, "c"}}},
			pattern: `"player" NOT IN ($1, $2, $3)`,
			values:  []any{"a", "b", "c"},
		},
		{
			name:    "string array in with null",
			filter:  core.Filter{"tags": map[string]any{"$in": []any{"a", nil}}},
			pattern: `("tags" IS NULL OR "tags" && $1::text[])`,
			values:  []any{[]string{"a"}},
		},
		{
			name:    "string array nin",
			filter:  core.Filter{"tags": map[string]any{"$nin": []any{"a"}}},
			pattern: `("tags" IS NULL OR NOT ("tags" && $1::text[]))`,
			values:  []any{[]string{"a"}},
		},
		{
			name:    "json array in",
			filter:  core.Filter{"history": map[string]any{"$in": []any{1.0}}},
			pattern: `array_contains("history", $1::jsonb)`,
			values:  []any{"[1]"},
		},
		{
			name:    "json array nin",
			filter:  core.Filter{"history": map[string]any{"$nin": []any{"x"}}},
			pattern: `NOT array_contains("history", $1::jsonb)`,
			values:  []any{`["x"]`},
		},
		{
			name:    "dot path in",
			filter:  core.Filter{"profile.city": map[string]any{"$in": []any{"Paris", "Lyon"}}},
			pattern: `("profile"->'city')::jsonb <@ $1::jsonb`,
			values:  []any{`["Paris","Lyon"]`},
		},
		{
			name:    "dot path nin",
			filter:  core.Filter{"profile.city": map[string]any{"$nin": []any{"Lyon"}}},
			pattern: `NOT ("profile"->'city')::jsonb <@ $1::jsonb`,
			values:  []any{`["Lyon"]`},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := compile(t, tt.filter, Options{})
			assert.Equal(t, tt.pattern, c.Pattern)
			if tt.values == nil {
				assert.Empty(t, c.Values)
			} else {
				assert.Equal(t, tt.values, c.Values)
			}
		})
	}

	_, err := Compile(scoreSchema(), core.Filter{"player": map[string]any{"$in": "a"}}, Options{})
	assert.True(t, core.IsCode(err, core.InvalidJSON))
}

func TestCompile_DotPaths(t *testing.T) {
	c := compile(t, core.Filter{"profile.level": 3.0}, Options{})
	assert.Equal(t, `"profile"->>'level' = $1::text`, c.Pattern)
	assert.Equal(t, []any{"3"}, c.Values)

	c = compile(t, core.Filter{"profile.active": map[string]any{"$ne": true}}, Options{})
	assert.Equal(t, `(CAST (("profile"->>'active') AS boolean) <> $1 OR CAST (("profile"->>'active') AS boolean) IS NULL)`, c.Pattern)
	assert.Equal(t, []any{true}, c.Values)

	c = compile(t, core.Filter{"profile.level": map[string]any{"$gt": 2.0}}, Options{})
	assert.Equal(t, `CAST (("profile"->>'level') AS double precision) > $1`, c.Pattern)

	c = compile(t, core.Filter{"profile.city": nil}, Options{})
	assert.Equal(t, `"profile"->>'city' IS NULL`, c.Pattern)
}

func TestCompile_CaseInsensitive(t *testing.T) {
	c := compile(t, core.Filter{"username": "Alice"}, Options{CaseInsensitive: true})
	assert.Equal(t, `LOWER("username") = LOWER($1)`, c.Pattern)
	assert.Equal(t, []any{"Alice"}, c.Values)

	c = compile(t, core.Filter{"username": "Alice"}, Options{})
	assert.Equal(t, `"username" = $1`, c.Pattern)

	c = compile(t, core.Filter{"player": "Alice"}, Options{CaseInsensitive: true})
	assert.Equal(t, `"player" = $1`, c.Pattern, "only username and email fold case")
}

func TestCompile_Logical(t *testing.T) {
	c := compile(t, core.Filter{
		"$or": []any{
			map[string]any{"player": "a"},
			map[string]any{"score": map[string]any{"$lt": 5.0}},
		},
		"cheated": false,
	}, Options{})
	assert.Equal(t, `("player" = $1 OR "score" < $2) AND "cheated" = $3`, c.Pattern)
	assert.Equal(t, []any{"a", 5.0, false}, c.Values)

	c = compile(t, core.Filter{"$nor": []any{
		map[string]any{"player": "a"},
		map[string]any{"player": "b"},
	}}, Options{})
	assert.Equal(t, `NOT ("player" = $1 OR "player" = $2)`, c.Pattern)

	c = compile(t, core.Filter{"$and": []any{map[string]any{"player": "a"}, map[string]any{"score": 1.0}}}, Options{})
	assert.Equal(t, `("player" = $1 AND "score" = $2)`, c.Pattern)

	c = compile(t, core.Filter{"$or": []any{}}, Options{})
	assert.Equal(t, "FALSE", c.Pattern)

	_, err := Compile(scoreSchema(), core.Filter{"$or": "nope"}, Options{})
	assert.True(t, core.IsCode(err, core.InvalidJSON))
}

var placeholderPattern = regexp.MustCompile(`\$(\d+)`)

func TestCompile_PlaceholderAlignment(t *testing.T) {
	c := compile(t, core.Filter{
		"player": map[string]any{"$in": []any{"a", "b", nil}},
		"$or": []any{
			map[string]any{"score": map[string]any{"$gt": 1.0, "$lt": 9.0}},
			map[string]any{"$and": []any{
				map[string]any{"tags": map[string]any{"$nin": []any{"x"}}},
				map[string]any{"location": map[string]any{
					"$nearSphere":  core.NewGeoPoint(1, 2),
					"$maxDistance": 0.5,
				}},
			}},
		},
		"profile.city": map[string]any{"$in": []any{"Paris"}},
		"history":      map[string]any{"$all": []any{1.0, 2.0}},
		"cheated":      true,
	}, Options{})

	var seen []int
	for _, m := range placeholderPattern.FindAllStringSubmatch(c.Pattern, -1) {
		n, err := strconv.Atoi(m[1])
		require.NoError(t, err)
		seen = append(seen, n)
	}
	require.Len(t, seen, len(c.Values))
	for i, n := range seen {
		assert.Equal(t, i+1, n, "placeholders must be strictly increasing without gaps")
	}
	assert.Empty(t, c.Sorts, "sorts inside logical operators are dropped")
}

func TestBuild_SharesBuilder(t *testing.T) {
	b := sqlbuilder.New()
	b.Arg("existing")
	clause, err := Build(b, scoreSchema(), core.Filter{"player": "a"}, Options{})
	require.NoError(t, err)
	assert.Equal(t, `"player" = $2`, clause.Pattern)
	assert.Equal(t, []any{"existing", "a"}, b.Args())
}

func TestCompile_Rejections(t *testing.T) {
	_, err := Compile(scoreSchema(), core.Filter{"score": map[string]any{}}, Options{})
	assert.True(t, core.IsCode(err, core.OperationForbidden))

	_, err = Compile(scoreSchema(), core.Filter{"tags": []any{"a"}}, Options{})
	assert.True(t, core.IsCode(err, core.OperationForbidden))

	_, err = Compile(scoreSchema(), core.Filter{"history": map[string]any{"$containedBy": "x"}}, Options{})
	assert.True(t, core.IsCode(err, core.InvalidJSON))
}

func TestCompile_Skipped(t *testing.T) {
	c := compile(t, core.Filter{"ghost": map[string]any{"$exists": false}}, Options{})
	assert.Empty(t, c.Pattern)

	c = compile(t, core.Filter{"_auth_data_facebook": map[string]any{"id": "x"}}, Options{})
	assert.Empty(t, c.Pattern)
	assert.Empty(t, c.Values)
}

func TestCompile_RelativeTime(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	opts := Options{Now: func() time.Time { return now }}

	c := compile(t, core.Filter{"playedAt": map[string]any{"$gt": map[string]any{"$relativeTime": "2 days ago"}}}, opts)
	assert.Equal(t, `"playedAt" > $1`, c.Pattern)
	assert.Equal(t, []any{now.Add(-48 * time.Hour)}, c.Values)

	for name, filter := range map[string]core.Filter{
		"on eq":          {"playedAt": map[string]any{"$eq": map[string]any{"$relativeTime": "now"}}},
		"on ne":          {"playedAt": map[string]any{"$ne": map[string]any{"$relativeTime": "now"}}},
		"on exists":      {"playedAt": map[string]any{"$exists": map[string]any{"$relativeTime": "now"}}},
		"on number":      {"score": map[string]any{"$gt": map[string]any{"$relativeTime": "now"}}},
		"bad expression": {"playedAt": map[string]any{"$lt": map[string]any{"$relativeTime": "tomorrow"}}},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Compile(scoreSchema(), filter, opts)
			assert.True(t, core.IsCode(err, core.InvalidJSON))
		})
	}
}

func TestCompile_All(t *testing.T) {
	c := compile(t, core.Filter{"history": map[string]any{"$all": []any{1.0, "x"}}}, Options{})
	assert.Equal(t, `array_contains_all("history", $1::jsonb)`, c.Pattern)
	assert.Equal(t, []any{`[1,"x"]`}, c.Values)

	c = compile(t, core.Filter{"history": map[string]any{"$all": []any{
		map[string]any{"$regex": `^\Qab\E`},
		map[string]any{"$regex": `^\Qc\E`},
	}}}, Options{})
	assert.Equal(t, `array_contains_all_regex("history", $1::jsonb)`, c.Pattern)
	assert.Equal(t, []any{`["ab%","c%"]`}, c.Values)

	_, err := Compile(scoreSchema(), core.Filter{"history": map[string]any{"$all": []any{
		map[string]any{"$regex": `^\Qab\E`},
		"plain",
	}}}, Options{})
	assert.True(t, core.IsCode(err, core.InvalidJSON))
}

func TestCompile_Regex(t *testing.T) {
	c := compile(t, core.Filter{"player": map[string]any{"$regex": `^\Qa.b\E`, "$options": "i"}}, Options{})
	assert.Equal(t, `"player" ~* $1`, c.Pattern)
	assert.Equal(t, []any{`^a\.b`}, c.Values)

	c = compile(t, core.Filter{"player": map[string]any{"$regex": "a b # note\nc", "$options": "x"}}, Options{})
	assert.Equal(t, `"player" ~ $1`, c.Pattern)
	assert.Equal(t, []any{"abc"}, c.Values)

	c = compile(t, core.Filter{"player": map[string]any{"$regex": "it's"}}, Options{})
	assert.Equal(t, []any{"it's"}, c.Values, "quotes travel as bound values")
}

func TestCompile_Text(t *testing.T) {
	c, err := Compile(scoreSchema(), core.Filter{"player": map[string]any{
		"$text": map[string]any{"$search": map[string]any{"$term": "hello"}},
	}}, Options{})
	require.NoError(t, err)
	assert.Equal(t, `to_tsvector($1, "player") @@ to_tsquery($2, $3)`, c.Pattern)
	assert.Equal(t, []any{"english", "english", "hello"}, c.Values)

	b := sqlbuilder.New()
	clause, err := Build(b, scoreSchema(), core.Filter{"player": map[string]any{
		"$text": map[string]any{"$search": map[string]any{"$term": "bonjour", "$language": "french"}},
	}}, Options{})
	require.NoError(t, err)
	require.NotNil(t, clause.Text)
	assert.Equal(t, TextSearch{Field: "player", Language: "french", Term: "bonjour"}, *clause.Text)

	for name, search := range map[string]any{
		"not an object":     "x",
		"missing term":      map[string]any{},
		"case sensitive":    map[string]any{"$term": "x", "$caseSensitive": true},
		"diacritic false":   map[string]any{"$term": "x", "$diacriticSensitive": false},
		"language not text": map[string]any{"$term": "x", "$language": 3.0},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Compile(scoreSchema(), core.Filter{"player": map[string]any{
				"$text": map[string]any{"$search": search},
			}}, Options{})
			assert.True(t, core.IsCode(err, core.InvalidJSON))
		})
	}
}

func TestCompile_Geo(t *testing.T) {
	c := compile(t, core.Filter{"location": map[string]any{
		"$nearSphere":  core.NewGeoPoint(48.85, 2.35),
		"$maxDistance": 1000.0 / 6371,
	}}, Options{})
	distance := `ST_DistanceSphere("location"::geometry, POINT($1, $2)::geometry)`
	assert.Equal(t, distance+" <= $3", c.Pattern)
	assert.Equal(t, []string{distance + " ASC"}, c.Sorts)
	require.Len(t, c.Values, 3)
	assert.Equal(t, 2.35, c.Values[0])
	assert.Equal(t, 48.85, c.Values[1])
	assert.InDelta(t, 1_000_000.0, c.Values[2], 0.001)

	c = compile(t, core.Filter{"location": map[string]any{"$within": map[string]any{
		"$box": []any{core.NewGeoPoint(0, 0), core.NewGeoPoint(1, 1)},
	}}}, Options{})
	assert.Equal(t, `"location"::point <@ $1::box`, c.Pattern)
	assert.Equal(t, []any{"((0, 0), (1, 1))"}, c.Values)

	c = compile(t, core.Filter{"location": map[string]any{"$geoWithin": map[string]any{
		"$centerSphere": []any{[]any{2.35, 48.85}, 0.1},
	}}}, Options{})
	assert.Equal(t, distance+" <= $3", c.Pattern)
	assert.Empty(t, c.Sorts)

	c = compile(t, core.Filter{"location": map[string]any{"$geoWithin": map[string]any{
		"$polygon": []any{core.NewGeoPoint(0, 0), core.NewGeoPoint(0, 1), core.NewGeoPoint(1, 1)},
	}}}, Options{})
	assert.Equal(t, `"location"::point <@ $1::polygon`, c.Pattern)
	assert.Equal(t, []any{"((0, 0), (1, 0), (1, 1))"}, c.Values)

	c = compile(t, core.Filter{"area": map[string]any{"$geoIntersects": map[string]any{
		"$point": core.NewGeoPoint(1, 2),
	}}}, Options{})
	assert.Equal(t, `"area"::polygon @> $1::point`, c.Pattern)
	assert.Equal(t, []any{"(2, 1)"}, c.Values)

	c = compile(t, core.Filter{"area": core.NewPolygon([][]float64{{0, 0}, {0, 1}, {1, 1}})}, Options{})
	assert.Equal(t, `"area" ~= $1::polygon`, c.Pattern)
	assert.Equal(t, []any{"((0, 0), (0, 1), (1, 1), (0, 0))"}, c.Values)

	for name, constraint := range map[string]map[string]any{
		"box shape":        {"$within": map[string]any{"$box": []any{core.NewGeoPoint(0, 0)}}},
		"sphere distance":  {"$geoWithin": map[string]any{"$centerSphere": []any{[]any{0.0, 0.0}, -1.0}}},
		"sphere point":     {"$geoWithin": map[string]any{"$centerSphere": []any{"x", 1.0}}},
		"polygon too few":  {"$geoWithin": map[string]any{"$polygon": []any{core.NewGeoPoint(0, 0)}}},
		"polygon bad type": {"$geoWithin": map[string]any{"$polygon": "x"}},
		"intersect point":  {"$geoIntersects": map[string]any{"$point": "x"}},
		"out of range":     {"$geoIntersects": map[string]any{"$point": core.NewGeoPoint(91, 0)}},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Compile(scoreSchema(), core.Filter{"location": constraint}, Options{})
			assert.True(t, core.IsCode(err, core.InvalidJSON))
		})
	}
}
