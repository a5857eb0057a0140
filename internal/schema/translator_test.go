package schema

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rzpsarthak13/docbridge/internal/core"
)

func gameSchema() *core.Schema {
	s := &core.Schema{
		ClassName: "GameScore",
		Fields: map[string]core.FieldDescriptor{
			"objectId":  core.Field(core.TypeString),
			"createdAt": core.Field(core.TypeDate),
			"updatedAt": core.Field(core.TypeDate),
			"player":    core.Field(core.TypeString),
			"score":     core.Field(core.TypeNumber),
			"cheated":   core.Field(core.TypeBoolean),
			"playedAt":  core.Field(core.TypeDate),
			"meta":      core.Field(core.TypeObject),
			"tags":      core.StringArray(),
			"history":   core.Field(core.TypeArray),
			"team":      {Type: core.TypePointer, TargetClass: "Team"},
			"fans":      {Type: core.TypeRelation, TargetClass: "_User"},
			"location":  core.Field(core.TypeGeoPoint),
			"area":      core.Field(core.TypePolygon),
			"avatar":    core.Field(core.TypeFile),
			"blob":      core.Field(core.TypeBytes),
		},
	}
	return s.WithStorageFields()
}

// storeColumns mimics what Postgres returns for the bound columns.
func storeColumns(t *testing.T, columns []Column) core.Row {
	t.Helper()
	row := core.Row{}
	for _, c := range columns {
		switch {
		case c.Point != nil:
			row[c.Name] = pgtype.Point{P: pgtype.Vec2{X: c.Point.Longitude, Y: c.Point.Latitude}, Valid: true}
		case c.Cast == ColumnJSONB:
			var decoded any
			require.NoError(t, json.Unmarshal([]byte(c.Value.(string)), &decoded))
			row[c.Name] = decoded
		default:
			row[c.Name] = c.Value
		}
	}
	return row
}

func TestTranslator_RoundTrip(t *testing.T) {
	tr := NewTranslator()
	s := gameSchema()
	played := time.Date(2024, 5, 6, 7, 8, 9, 10_000_000, time.UTC)

	obj := core.Object{
		"objectId": "g1",
		"player":   "alice",
		"score":    42.0,
		"cheated":  false,
		"playedAt": core.NewDate(played),
		"meta":     map[string]any{"city": "Paris", "level": 3.0},
		"tags":     []string{"a", "b"},
		"history":  []any{1.0, "x"},
		"team":     core.NewPointer("Team", "t1"),
		"location": core.NewGeoPoint(48.85, 2.35),
		"area":     core.NewPolygon([][]float64{{0, 0}, {0, 1}, {1, 1}, {0, 0}}),
		"avatar":   core.NewFile("avatar.png"),
		"blob":     map[string]any{"__type": "Bytes", "base64": "AAEC"},
		"_rperm":   []string{"*"},
		"_wperm":   []string{"u1"},
	}

	columns, _, err := tr.ObjectToColumns(s.ClassName, s, obj)
	require.NoError(t, err)
	assert.Equal(t, "location", columns[len(columns)-1].Name, "geo points are emitted last")

	got := tr.RowToObject(s, storeColumns(t, columns))
	assert.Equal(t, core.NewRelation("_User"), got["fans"])
	delete(got, "fans")
	assert.Equal(t, obj, got)
}

func TestTranslator_RowToObjectNormalizesDates(t *testing.T) {
	tr := NewTranslator()
	created := time.Date(2024, 1, 2, 3, 4, 5, 0, time.FixedZone("X", 3600))

	got := tr.RowToObject(gameSchema(), core.Row{
		"objectId":    "g1",
		"createdAt":   created,
		"expiresAt":   created,
		"player":      nil,
		"team":        nil,
		"location":    nil,
		"_rperm":      nil,
		"_wperm":      nil,
		"undeclared":  "kept",
		"cheated":     true,
		"score":       1.5,
		"avatar":      "f.txt",
		"meta":        map[string]any{},
		"description": nil,
	})

	assert.Equal(t, "2024-01-02T02:04:05.000Z", got["createdAt"])
	assert.Equal(t, map[string]any{"__type": "Date", "iso": "2024-01-02T02:04:05.000Z"}, got["expiresAt"])
	assert.NotContains(t, got, "player")
	assert.NotContains(t, got, "team")
	assert.NotContains(t, got, "description")
	assert.Equal(t, "kept", got["undeclared"])
	assert.Equal(t, core.NewFile("f.txt"), got["avatar"])
}

func TestTranslator_ObjectToColumns(t *testing.T) {
	tr := NewTranslator()
	s := gameSchema()

	columns, obj, err := tr.ObjectToColumns(s.ClassName, s, core.Object{
		"objectId":  "g1",
		"meta.city": "Paris",
		"player":    nil,
		"_rperm":    []any{"*"},
		"history":   []any{1.0},
		"createdAt": core.NewDate(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)),
		"playedAt":  nil,
		"area":      core.NewPolygon([][]float64{{0, 0}, {0, 1}, {1, 1}}),
		"location":  core.NewGeoPoint(1, 2),
		"team":      core.NewPointer("Team", "t9"),
		"cheated":   true,
		"avatar":    core.NewFile("x.png"),
		"fans":      core.NewRelation("_User"),
		"score":     3.0,
		"tags":      []any{"x"},
		"updatedAt": core.NewDate(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)),
		"blob":      nil,
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"city": "Paris"}, obj["meta"])

	byName := map[string]Column{}
	for _, c := range columns {
		byName[c.Name] = c
	}
	assert.NotContains(t, byName, "player")
	assert.NotContains(t, byName, "fans")
	assert.Equal(t, `{"city":"Paris"}`, byName["meta"].Value)
	assert.Equal(t, "jsonb", byName["meta"].Cast)
	assert.Equal(t, []string{"*"}, byName["_rperm"].Value)
	assert.Equal(t, "text[]", byName["_rperm"].Cast)
	assert.Equal(t, "((0, 0), (0, 1), (1, 1), (0, 0))", byName["area"].Value)
	assert.Equal(t, "polygon", byName["area"].Cast)
	assert.Equal(t, "t9", byName["team"].Value)
	assert.Equal(t, "x.png", byName["avatar"].Value)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), byName["createdAt"].Value)
	require.NotNil(t, byName["location"].Point)
	assert.Equal(t, core.GeoPoint{Latitude: 1, Longitude: 2}, *byName["location"].Point)
}

func TestTranslator_ObjectToColumnsRejectsNestedKeys(t *testing.T) {
	tr := NewTranslator()
	s := gameSchema()

	_, _, err := tr.ObjectToColumns(s.ClassName, s, core.Object{"meta": map[string]any{"$bad": 1}})
	assert.True(t, core.IsCode(err, core.InvalidNestedKey))

	_, _, err = tr.ObjectToColumns(s.ClassName, s, core.Object{"meta": map[string]any{"a": map[string]any{"b.c": 1}}})
	assert.True(t, core.IsCode(err, core.InvalidNestedKey))
}

func TestTranslator_UserBookkeepingFields(t *testing.T) {
	tr := NewTranslator()
	s := (&core.Schema{ClassName: "_User", Fields: map[string]core.FieldDescriptor{
		"objectId": core.Field(core.TypeString),
		"authData": core.Field(core.TypeObject),
	}}).WithStorageFields()
	expires := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)

	columns, obj, err := tr.ObjectToColumns("_User", s, core.Object{
		"objectId":                       "u1",
		"_email_verify_token":            "tok",
		"_email_verify_token_expires_at": core.NewDate(expires),
		"_failed_login_count":            2.0,
		"_auth_data_facebook":            map[string]any{"id": "fb1"},
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"facebook": map[string]any{"id": "fb1"}}, obj["authData"])

	byName := map[string]Column{}
	for _, c := range columns {
		byName[c.Name] = c
	}
	assert.Equal(t, "tok", byName["_email_verify_token"].Value)
	assert.Equal(t, expires, byName["_email_verify_token_expires_at"].Value)
	assert.Equal(t, 2.0, byName["_failed_login_count"].Value)
	assert.Equal(t, `{"facebook":{"id":"fb1"}}`, byName["authData"].Value)

	_, _, err = tr.ObjectToColumns("Game", gameSchema(), core.Object{"_email_verify_token": "tok"})
	assert.True(t, core.IsCode(err, core.InvalidKeyName))
}

func TestExpandDotFields(t *testing.T) {
	got := ExpandDotFields(map[string]any{
		"plain":       1,
		"a.b":         2,
		"a.c.d":       3,
		"a.gone":      map[string]any{"__op": "Delete"},
		"other.inner": "x",
	})
	assert.Equal(t, map[string]any{
		"plain": 1,
		"a":     map[string]any{"b": 2, "c": map[string]any{"d": 3}},
		"other": map[string]any{"inner": "x"},
	}, got)
}
