package read

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rzpsarthak13/docbridge/internal/core"
	"github.com/rzpsarthak13/docbridge/internal/database/dbtest"
)

var missingRelation = &pgconn.PgError{Code: "42P01", Message: `relation "GameScore" does not exist`}

func newReader(db *dbtest.DB) *Reader {
	return NewReader(db, nil, "english", nil)
}

func TestReader_Find(t *testing.T) {
	db := dbtest.New().On(`FROM "GameScore"`, dbtest.Response{Rows: []core.Row{{"objectId": "g1", "score": 3.0}}})
	objs, err := newReader(db).Find(context.Background(), "GameScore", scoreSchema(), core.Filter{"score": 3.0}, core.FindOptions{})
	require.NoError(t, err)
	require.Len(t, objs, 1)
	assert.Equal(t, "g1", objs[0]["objectId"])

	call, ok := db.Find(`SELECT * FROM "GameScore"`)
	require.True(t, ok)
	assert.Equal(t, []any{3.0}, call.Args)
}

func TestReader_FindExplainReturnsPlan(t *testing.T) {
	plan := core.Row{"QUERY PLAN": []any{map[string]any{"Plan": map[string]any{}}}}
	db := dbtest.New().On("EXPLAIN", dbtest.Response{Rows: []core.Row{plan}})
	objs, err := newReader(db).Find(context.Background(), "GameScore", scoreSchema(), core.Filter{}, core.FindOptions{Explain: true})
	require.NoError(t, err)
	assert.Equal(t, []core.Object{core.Object(plan)}, objs)
}

func TestReader_MissingRelationReadsEmpty(t *testing.T) {
	db := dbtest.New().On("GameScore", dbtest.Response{Err: missingRelation})
	r := newReader(db)
	ctx := context.Background()

	objs, err := r.Find(ctx, "GameScore", scoreSchema(), core.Filter{}, core.FindOptions{})
	require.NoError(t, err)
	assert.Empty(t, objs)

	n, err := r.Count(ctx, "GameScore", scoreSchema(), core.Filter{"player": "ann"}, true)
	require.NoError(t, err)
	assert.Zero(t, n)

	values, err := r.Distinct(ctx, "GameScore", scoreSchema(), core.Filter{}, "player")
	require.NoError(t, err)
	assert.Empty(t, values)

	rows, err := r.Aggregate(ctx, "GameScore", scoreSchema(), []Stage{{"$limit": 1.0}}, false)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestReader_DistinctMissingColumn(t *testing.T) {
	db := dbtest.New().On("DISTINCT", dbtest.Response{Err: &pgconn.PgError{Code: "42703"}})
	values, err := newReader(db).Distinct(context.Background(), "GameScore", scoreSchema(), core.Filter{}, "ghost")
	require.NoError(t, err)
	assert.Empty(t, values)
}

func TestReader_OtherErrorsPropagate(t *testing.T) {
	boom := errors.New("connection reset")
	db := dbtest.New().On("GameScore", dbtest.Response{Err: boom})
	_, err := newReader(db).Find(context.Background(), "GameScore", scoreSchema(), core.Filter{}, core.FindOptions{})
	assert.ErrorIs(t, err, boom)
}

func TestReader_CountEstimate(t *testing.T) {
	ctx := context.Background()

	db := dbtest.New().On("pg_class", dbtest.Response{Rows: []core.Row{{"approximate_row_count": float32(42)}}})
	n, err := newReader(db).Count(ctx, "GameScore", scoreSchema(), core.Filter{}, true)
	require.NoError(t, err)
	assert.Equal(t, int64(42), n)
	assert.Len(t, db.Calls(), 1)

	db = dbtest.New().
		On("pg_class", dbtest.Response{Rows: []core.Row{{"approximate_row_count": float32(-1)}}}).
		On("count(*)", dbtest.Response{Rows: []core.Row{{"count": int64(7)}}})
	n, err = newReader(db).Count(ctx, "GameScore", scoreSchema(), core.Filter{}, true)
	require.NoError(t, err)
	assert.Equal(t, int64(7), n, "an unanalysed table falls back to an exact count")
	assert.Equal(t, []string{
		"SELECT reltuples AS approximate_row_count FROM pg_class WHERE relname = $1",
		`SELECT count(*) FROM "GameScore"`,
	}, db.SQL())
}

func TestReader_Aggregate(t *testing.T) {
	db := dbtest.New().On("GROUP BY", dbtest.Response{Rows: []core.Row{{"objectId": "ann", "n": int64(3)}}})
	objs, err := newReader(db).Aggregate(context.Background(), "GameScore", scoreSchema(), []Stage{
		{"$group": map[string]any{"_id": "$player", "n": map[string]any{"$sum": 1.0}}},
	}, false)
	require.NoError(t, err)
	require.Len(t, objs, 1)
	assert.Equal(t, "ann", objs[0]["objectId"])
	assert.Equal(t, 3, objs[0]["n"])
}
