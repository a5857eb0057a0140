package registry

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rzpsarthak13/docbridge/internal/core"
	"github.com/rzpsarthak13/docbridge/internal/database/dbtest"
	"github.com/rzpsarthak13/docbridge/internal/notify"
)

func gameScore() *core.Schema {
	return &core.Schema{
		ClassName: "GameScore",
		Fields: map[string]core.FieldDescriptor{
			"objectId": core.Field(core.TypeString),
			"score":    core.Field(core.TypeNumber),
			"tags":     core.StringArray(),
			"location": core.Field(core.TypeGeoPoint),
			"fans":     {Type: core.TypeRelation, TargetClass: "_User"},
		},
	}
}

// listener records the events published on a hub channel by other
// instances.
type listener struct {
	events []core.SchemaChangeEvent
}

func newWatchedRegistry(t *testing.T, db *dbtest.DB) (*ClassRegistry, *listener) {
	t.Helper()
	hub := notify.NewHub()
	l := &listener{}
	require.NoError(t, hub.Notifier("schema.change").Subscribe(context.Background(), func(e core.SchemaChangeEvent) {
		l.events = append(l.events, e)
	}))
	watcher := NewSchemaWatcher("instance-1", func(context.Context) (core.SchemaNotifier, error) {
		return hub.Notifier("schema.change"), nil
	}, nil)
	return NewClassRegistry(db, nil, watcher, nil), l
}

func TestCreateTable(t *testing.T) {
	db := dbtest.New()
	r := NewClassRegistry(db, nil, nil, nil)
	require.NoError(t, r.CreateTable(context.Background(), "GameScore", gameScore()))

	sql := db.SQL()
	require.Len(t, sql, 3)
	assert.Contains(t, sql[0], `CREATE TABLE IF NOT EXISTS "_SCHEMA"`)
	assert.Equal(t,
		`CREATE TABLE IF NOT EXISTS "GameScore" ("_rperm" text[], "_wperm" text[], "location" point, "objectId" text, PRIMARY KEY ("objectId"), "score" double precision, "tags" text[])`,
		sql[1])
	assert.Equal(t,
		`CREATE TABLE IF NOT EXISTS "_Join:fans:GameScore" ("relatedId" varChar(120), "owningId" varChar(120), PRIMARY KEY("relatedId", "owningId"))`,
		sql[2])
	assert.Equal(t, "batch", db.Calls()[2].Kind)
}

func TestCreateTable_UserBookkeeping(t *testing.T) {
	db := dbtest.New()
	r := NewClassRegistry(db, nil, nil, nil)
	user := &core.Schema{ClassName: "_User", Fields: map[string]core.FieldDescriptor{"objectId": core.Field(core.TypeString)}}
	require.NoError(t, r.CreateTable(context.Background(), "_User", user))

	call, ok := db.Find(`CREATE TABLE IF NOT EXISTS "_User"`)
	require.True(t, ok)
	for _, col := range []string{
		`"_email_verify_token_expires_at" timestamp with time zone`,
		`"_email_verify_token" text`,
		`"_account_lockout_expires_at" timestamp with time zone`,
		`"_failed_login_count" double precision`,
		`"_perishable_token" text`,
		`"_perishable_token_expires_at" timestamp with time zone`,
		`"_password_changed_at" timestamp with time zone`,
		`"_password_history" jsonb`,
		`"_hashed_password" text`,
	} {
		assert.Contains(t, call.SQL, col)
	}
}

func TestCreateTable_IgnoresDuplicateRelation(t *testing.T) {
	db := dbtest.New().On(`CREATE TABLE IF NOT EXISTS "GameScore"`, dbtest.Response{Err: &pgconn.PgError{Code: "42P07"}})
	r := NewClassRegistry(db, nil, nil, nil)
	assert.NoError(t, r.CreateTable(context.Background(), "GameScore", gameScore()))
}

func TestCreateClass(t *testing.T) {
	db := dbtest.New()
	r, l := newWatchedRegistry(t, db)

	s, err := r.CreateClass(context.Background(), "GameScore", gameScore())
	require.NoError(t, err)
	assert.NotContains(t, s.Fields, "_rperm")
	assert.Equal(t, core.DefaultClassLevelPermissions(), s.ClassLevelPermissions)

	call, ok := db.Find(`INSERT INTO "_SCHEMA"`)
	require.True(t, ok)
	assert.True(t, call.InTx)
	require.Len(t, call.Args, 2)
	assert.Equal(t, "GameScore", call.Args[0])

	var stored core.Schema
	require.NoError(t, json.Unmarshal([]byte(call.Args[1].(string)), &stored))
	assert.Equal(t, "GameScore", stored.ClassName)
	assert.Contains(t, stored.Fields, "_rperm")
	assert.Equal(t, core.TypeRelation, stored.Fields["fans"].Type)

	begun, committed, rolled := db.TxCounts()
	assert.Equal(t, []int{1, 1, 0}, []int{begun, committed, rolled})
	require.Len(t, l.events, 1)
	assert.Equal(t, "instance-1", l.events[0].SenderID)
}

func TestCreateClass_Duplicate(t *testing.T) {
	db := dbtest.New().On(`INSERT INTO "_SCHEMA"`, dbtest.Response{Err: &pgconn.PgError{
		Code:   "23505",
		Detail: `Key ("className")=(GameScore) already exists.`,
	}})
	r, l := newWatchedRegistry(t, db)

	_, err := r.CreateClass(context.Background(), "GameScore", gameScore())
	require.Error(t, err)
	assert.True(t, core.IsCode(err, core.DuplicateValue))
	assert.Contains(t, err.Error(), "Class GameScore already exists.")

	_, _, rolled := db.TxCounts()
	assert.Equal(t, 1, rolled)
	assert.Empty(t, l.events)
}

func TestCreateClass_AppliesIndexes(t *testing.T) {
	db := dbtest.New()
	r := NewClassRegistry(db, nil, nil, nil)
	s := gameScore()
	s.Indexes = map[string]map[string]any{"score_1": {"score": 1}}

	_, err := r.CreateClass(context.Background(), "GameScore", s)
	require.NoError(t, err)

	call, ok := db.Find(`CREATE INDEX IF NOT EXISTS "score_1"`)
	require.True(t, ok)
	assert.True(t, call.InTx)

	update, ok := db.Find(`json_object_set_key`)
	require.True(t, ok)
	assert.JSONEq(t, `{"_id_":{"_id":1},"score_1":{"score":1}}`, update.Args[1].(string))
}

func TestCreateClass_InvalidName(t *testing.T) {
	r := NewClassRegistry(dbtest.New(), nil, nil, nil)
	_, err := r.CreateClass(context.Background(), "", gameScore())
	assert.True(t, core.IsCode(err, core.InvalidKeyName))
}

func TestAddFieldIfNotExists(t *testing.T) {
	db := dbtest.New()
	r, l := newWatchedRegistry(t, db)

	require.NoError(t, r.AddFieldIfNotExists(context.Background(), "GameScore", "level", core.Field(core.TypeNumber)))

	_, ok := db.Find(`ALTER TABLE "GameScore" ADD COLUMN IF NOT EXISTS "level" double precision`)
	assert.True(t, ok)

	call, ok := db.Find("jsonb_set")
	require.True(t, ok)
	assert.Equal(t, []any{[]string{"fields", "level"}, `{"type":"Number"}`, "GameScore"}, call.Args)
	assert.Len(t, l.events, 1)
}

func TestAddFieldIfNotExists_AlreadyInCatalog(t *testing.T) {
	db := dbtest.New().On(`"schema"::json->'fields'`, dbtest.Response{Rows: []core.Row{{"schema": map[string]any{}}}})
	r := NewClassRegistry(db, nil, nil, nil)

	err := r.AddFieldIfNotExists(context.Background(), "GameScore", "score", core.Field(core.TypeNumber))
	assert.ErrorIs(t, err, ErrFieldExists)
	_, ok := db.Find("jsonb_set")
	assert.False(t, ok)
}

func TestAddFieldIfNotExists_MissingTableCreatesClass(t *testing.T) {
	db := dbtest.New().On("ALTER TABLE", dbtest.Response{Err: &pgconn.PgError{Code: "42P01"}})
	r := NewClassRegistry(db, nil, nil, nil)

	require.NoError(t, r.AddFieldIfNotExists(context.Background(), "GameScore", "score", core.Field(core.TypeNumber)))

	create, ok := db.Find(`CREATE TABLE IF NOT EXISTS "GameScore"`)
	require.True(t, ok)
	assert.Contains(t, create.SQL, `"score" double precision`)
	_, ok = db.Find(`INSERT INTO "_SCHEMA"`)
	assert.True(t, ok)
	_, ok = db.Find("jsonb_set")
	assert.False(t, ok)
}

func TestAddFieldIfNotExists_DuplicateColumnIgnored(t *testing.T) {
	db := dbtest.New().On("ALTER TABLE", dbtest.Response{Err: &pgconn.PgError{Code: "42701"}})
	r := NewClassRegistry(db, nil, nil, nil)
	require.NoError(t, r.AddFieldIfNotExists(context.Background(), "GameScore", "score", core.Field(core.TypeNumber)))
	_, ok := db.Find("jsonb_set")
	assert.True(t, ok)
}

func TestAddFieldIfNotExists_Relation(t *testing.T) {
	db := dbtest.New()
	r := NewClassRegistry(db, nil, nil, nil)
	require.NoError(t, r.AddFieldIfNotExists(context.Background(), "GameScore", "fans", core.FieldDescriptor{Type: core.TypeRelation, TargetClass: "_User"}))

	_, ok := db.Find(`CREATE TABLE IF NOT EXISTS "_Join:fans:GameScore"`)
	assert.True(t, ok)
	_, ok = db.Find("ALTER TABLE")
	assert.False(t, ok)
}

func TestUpdateFieldOptions(t *testing.T) {
	db := dbtest.New()
	r := NewClassRegistry(db, nil, nil, nil)
	require.NoError(t, r.UpdateFieldOptions(context.Background(), "GameScore", "team", core.FieldDescriptor{Type: core.TypePointer, TargetClass: "Team"}))

	call, ok := db.Find("jsonb_set")
	require.True(t, ok)
	assert.Equal(t, []string{"fields", "team"}, call.Args[0])
	assert.JSONEq(t, `{"type":"Pointer","targetClass":"Team"}`, call.Args[1].(string))
}

func TestDeleteFields(t *testing.T) {
	db := dbtest.New()
	r := NewClassRegistry(db, nil, nil, nil)
	require.NoError(t, r.DeleteFields(context.Background(), "GameScore", gameScore(), []string{"score", "fans", "tags"}))

	update, ok := db.Find(`UPDATE "_SCHEMA" SET "schema" = $1`)
	require.True(t, ok)
	var stored core.Schema
	require.NoError(t, json.Unmarshal([]byte(update.Args[0].(string)), &stored))
	assert.NotContains(t, stored.Fields, "score")
	assert.NotContains(t, stored.Fields, "fans")
	assert.Contains(t, stored.Fields, "location")

	alter, ok := db.Find("ALTER TABLE")
	require.True(t, ok)
	assert.Equal(t, `ALTER TABLE "GameScore" DROP COLUMN IF EXISTS "score", DROP COLUMN IF EXISTS "tags"`, alter.SQL)
	assert.True(t, alter.InTx)
}

func TestDeleteFields_OnlyRelations(t *testing.T) {
	db := dbtest.New()
	r := NewClassRegistry(db, nil, nil, nil)
	require.NoError(t, r.DeleteFields(context.Background(), "GameScore", gameScore(), []string{"fans"}))
	_, ok := db.Find("ALTER TABLE")
	assert.False(t, ok)
}

func TestDeleteClass(t *testing.T) {
	db := dbtest.New()
	r, l := newWatchedRegistry(t, db)

	regular, err := r.DeleteClass(context.Background(), "GameScore")
	require.NoError(t, err)
	assert.True(t, regular)
	assert.Equal(t, []string{`DROP TABLE IF EXISTS "GameScore"`, `DELETE FROM "_SCHEMA" WHERE "className" = $1`}, db.SQL())
	assert.Len(t, l.events, 1)

	regular, err = r.DeleteClass(context.Background(), "_Join:fans:GameScore")
	require.NoError(t, err)
	assert.False(t, regular)
}

func TestDeleteAllClasses(t *testing.T) {
	db := dbtest.New().On(`SELECT * FROM "_SCHEMA"`, dbtest.Response{Rows: []core.Row{{
		"className": "GameScore",
		"schema": map[string]any{"fields": map[string]any{
			"fans":  map[string]any{"type": "Relation", "targetClass": "_User"},
			"score": map[string]any{"type": "Number"},
		}},
	}}})
	r := NewClassRegistry(db, nil, nil, nil)
	require.NoError(t, r.DeleteAllClasses(context.Background()))

	var drops []string
	for _, c := range db.Calls() {
		if c.Kind == "batch" {
			assert.True(t, c.InTx)
			drops = append(drops, c.SQL)
		}
	}
	assert.Equal(t, `DROP TABLE IF EXISTS "_SCHEMA"`, drops[0])
	assert.Contains(t, drops, `DROP TABLE IF EXISTS "_Idempotency"`)
	assert.Contains(t, drops, `DROP TABLE IF EXISTS "GameScore"`)
	assert.Equal(t, `DROP TABLE IF EXISTS "_Join:fans:GameScore"`, drops[len(drops)-1])
}

func TestDeleteAllClasses_NoCatalog(t *testing.T) {
	db := dbtest.New().On(`SELECT * FROM "_SCHEMA"`, dbtest.Response{Err: &pgconn.PgError{Code: "42P01"}})
	r := NewClassRegistry(db, nil, nil, nil)
	require.NoError(t, r.DeleteAllClasses(context.Background()))
	_, ok := db.Find("DROP TABLE")
	assert.False(t, ok)
}

func TestGetClass(t *testing.T) {
	db := dbtest.New().On(`WHERE "className" = $1`, dbtest.Response{Rows: []core.Row{{
		"className": "GameScore",
		"schema": map[string]any{
			"className": "GameScore",
			"fields": map[string]any{
				"score":  map[string]any{"type": "Number"},
				"_rperm": map[string]any{"type": "Array", "contents": map[string]any{"type": "String"}},
			},
			"classLevelPermissions": map[string]any{"find": map[string]any{"role:admin": true}},
		},
	}}})
	r := NewClassRegistry(db, nil, nil, nil)

	s, err := r.GetClass(context.Background(), "GameScore")
	require.NoError(t, err)
	assert.Equal(t, "GameScore", s.ClassName)
	assert.Equal(t, core.Field(core.TypeNumber), s.Fields["score"])
	assert.NotContains(t, s.Fields, "_rperm")
	assert.Equal(t, map[string]any{"role:admin": true}, s.ClassLevelPermissions["find"])
	assert.Equal(t, map[string]any{}, s.ClassLevelPermissions["get"])
}

func TestGetClass_NotFound(t *testing.T) {
	r := NewClassRegistry(dbtest.New(), nil, nil, nil)
	_, err := r.GetClass(context.Background(), "Nope")
	assert.ErrorIs(t, err, core.ErrClassNotFound)

	db := dbtest.New().On(`"_SCHEMA"`, dbtest.Response{Err: &pgconn.PgError{Code: "42P01"}})
	_, err = NewClassRegistry(db, nil, nil, nil).GetClass(context.Background(), "Nope")
	assert.ErrorIs(t, err, core.ErrClassNotFound)
}

func TestGetAllClasses(t *testing.T) {
	db := dbtest.New().On(`SELECT * FROM "_SCHEMA"`, dbtest.Response{Rows: []core.Row{
		{"className": "A", "schema": `{"fields":{"x":{"type":"String"}}}`},
		{"className": "B", "schema": []byte(`{"fields":{}}`)},
	}})
	r := NewClassRegistry(db, nil, nil, nil)

	classes, err := r.GetAllClasses(context.Background())
	require.NoError(t, err)
	require.Len(t, classes, 2)
	assert.Equal(t, "A", classes[0].ClassName)
	assert.Equal(t, core.Field(core.TypeString), classes[0].Fields["x"])
	assert.Equal(t, "B", classes[1].ClassName)
	assert.Contains(t, db.SQL()[0], `CREATE TABLE IF NOT EXISTS "_SCHEMA"`)
}

func TestGetAllClasses_BadCatalogRow(t *testing.T) {
	db := dbtest.New().On(`SELECT * FROM "_SCHEMA"`, dbtest.Response{Rows: []core.Row{
		{"className": "A", "schema": `{"fields":{"x":{"type":"Mystery"}}}`},
	}})
	_, err := NewClassRegistry(db, nil, nil, nil).GetAllClasses(context.Background())
	assert.ErrorIs(t, err, core.ErrUnknownFieldType)
}

func TestClassExists(t *testing.T) {
	db := dbtest.New().On("information_schema.tables", dbtest.Response{Rows: []core.Row{{"exists": true}}})
	ok, err := NewClassRegistry(db, nil, nil, nil).ClassExists(context.Background(), "GameScore")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = NewClassRegistry(dbtest.New(), nil, nil, nil).ClassExists(context.Background(), "GameScore")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSetClassLevelPermissions(t *testing.T) {
	db := dbtest.New()
	r, l := newWatchedRegistry(t, db)
	require.NoError(t, r.SetClassLevelPermissions(context.Background(), "GameScore", map[string]any{"get": map[string]any{"*": true}}))

	call, ok := db.Find("json_object_set_key")
	require.True(t, ok)
	assert.Equal(t, "classLevelPermissions", call.Args[0])
	assert.JSONEq(t, `{"get":{"*":true}}`, call.Args[1].(string))
	assert.Equal(t, "GameScore", call.Args[2])
	assert.Len(t, l.events, 1)
}

func TestSchemaUpgrade(t *testing.T) {
	db := dbtest.New().
		On("information_schema.columns", dbtest.Response{Rows: []core.Row{{"column_name": "objectId"}, {"column_name": "tags"}}}).
		On(`"schema"::json->'fields'`, dbtest.Response{Rows: []core.Row{{"schema": map[string]any{}}}})
	r := NewClassRegistry(db, nil, nil, nil)

	s := &core.Schema{Fields: map[string]core.FieldDescriptor{
		"objectId": core.Field(core.TypeString),
		"tags":     core.StringArray(),
		"score":    core.Field(core.TypeNumber),
	}}
	require.NoError(t, r.SchemaUpgrade(context.Background(), "GameScore", s))

	var alters []string
	for _, sql := range db.SQL() {
		if len(sql) > 11 && sql[:11] == "ALTER TABLE" {
			alters = append(alters, sql)
		}
	}
	assert.Equal(t, []string{`ALTER TABLE "GameScore" ADD COLUMN IF NOT EXISTS "score" double precision`}, alters)
}

func TestUpdateEstimatedCount(t *testing.T) {
	db := dbtest.New()
	require.NoError(t, NewClassRegistry(db, nil, nil, nil).UpdateEstimatedCount(context.Background(), "GameScore"))
	assert.Equal(t, []string{`ANALYZE "GameScore"`}, db.SQL())
}

func TestPerformInitialization(t *testing.T) {
	db := dbtest.New()
	hub := notify.NewHub()
	watcher := NewSchemaWatcher("me", func(context.Context) (core.SchemaNotifier, error) {
		return hub.Notifier("schema.change"), nil
	}, nil)
	calls := 0
	watcher.RegisterHook(func() { calls++ })
	r := NewClassRegistry(db, nil, watcher, nil)

	bootstrap := []*core.Schema{{ClassName: "_Idempotency", Fields: map[string]core.FieldDescriptor{
		"objectId": core.Field(core.TypeString),
		"reqId":    core.Field(core.TypeString),
	}}}
	require.NoError(t, r.PerformInitialization(context.Background(), bootstrap))

	_, ok := db.Find(`CREATE TABLE IF NOT EXISTS "_Idempotency"`)
	assert.True(t, ok)
	fn, ok := db.Find("array_contains_all_regex")
	require.True(t, ok)
	assert.True(t, fn.InTx)
	assert.Contains(t, fn.SQL, `CREATE OR REPLACE FUNCTION "json_object_set_key"`)

	ctx := context.Background()
	require.NoError(t, hub.Notifier("schema.change").Publish(ctx, core.SchemaChangeEvent{SenderID: "someone-else"}))
	assert.Equal(t, 1, calls)
}

func TestPerformInitialization_FunctionFailure(t *testing.T) {
	db := dbtest.New().On("CREATE OR REPLACE FUNCTION", dbtest.Response{Err: errors.New("permission denied")})
	err := NewClassRegistry(db, nil, nil, nil).PerformInitialization(context.Background(), nil)
	assert.ErrorContains(t, err, "failed to install helper functions")
	_, _, rolled := db.TxCounts()
	assert.Equal(t, 1, rolled)
}
