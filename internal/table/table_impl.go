// Package table runs the data operations of one class: it compiles the
// statement, executes it on the pool or the session carried by the
// context, and decodes the returned rows.
package table

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/rzpsarthak13/docbridge/internal/core"
	"github.com/rzpsarthak13/docbridge/internal/database"
	"github.com/rzpsarthak13/docbridge/internal/read"
	"github.com/rzpsarthak13/docbridge/internal/write"
)

// TableImpl binds a class name and schema to a database.
type TableImpl struct {
	className  string
	schema     *core.Schema
	database   core.Database
	classifier *database.Classifier
	reader     *read.Reader
	logger     *slog.Logger
}

// Options configures a TableImpl.
type Options struct {
	// Classifier translates backend errors. nil selects the default tables.
	Classifier *database.Classifier

	// TextSearchLanguage is the default $text configuration.
	TextSearchLanguage string

	// Logger receives debug output. nil selects slog.Default().
	Logger *slog.Logger
}

// NewTableImpl creates the data operations of className.
func NewTableImpl(className string, schema *core.Schema, db core.Database, opts Options) *TableImpl {
	classifier := opts.Classifier
	if classifier == nil {
		classifier = database.NewClassifier()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &TableImpl{
		className:  className,
		schema:     schema,
		database:   db,
		classifier: classifier,
		reader:     read.NewReader(db, classifier, opts.TextSearchLanguage, logger),
		logger:     logger.With("component", "table", "class", className),
	}
}

// ClassName returns the class the table serves.
func (t *TableImpl) ClassName() string {
	return t.className
}

// Schema returns the schema statements are compiled against.
func (t *TableImpl) Schema() *core.Schema {
	return t.schema
}

func (t *TableImpl) querier(ctx context.Context) core.Querier {
	return write.QuerierFor(ctx, t.database)
}

// CreateObject inserts object and returns it as stored. A unique index
// violation is reported as DUPLICATE_VALUE.
func (t *TableImpl) CreateObject(ctx context.Context, object core.Object) (core.Object, error) {
	t.logger.Debug("create object")
	stmt, stored, err := write.BuildInsert(t.className, t.schema, object)
	if err != nil {
		return nil, err
	}
	if _, err := t.querier(ctx).Exec(ctx, stmt.SQL, stmt.Args...); err != nil {
		return nil, t.writeError("create object", err)
	}
	return stored, nil
}

// UpdateObjectsByQuery applies update to every row matching filter and
// returns the updated documents.
func (t *TableImpl) UpdateObjectsByQuery(ctx context.Context, filter core.Filter, update core.Update) ([]core.Object, error) {
	t.logger.Debug("update objects")
	stmt, err := write.BuildUpdate(t.className, t.schema, update, filter)
	if err != nil {
		return nil, err
	}
	if stmt == nil {
		return []core.Object{}, nil
	}
	rows, err := t.querier(ctx).Query(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		return nil, t.writeError("update objects", err)
	}
	return read.DecodeRows(t.schema, rows), nil
}

// FindOneAndUpdate updates the matching rows and returns the first, or
// nil when nothing matched.
func (t *TableImpl) FindOneAndUpdate(ctx context.Context, filter core.Filter, update core.Update) (core.Object, error) {
	objects, err := t.UpdateObjectsByQuery(ctx, filter, update)
	if err != nil {
		return nil, err
	}
	if len(objects) == 0 {
		return nil, nil
	}
	return objects[0], nil
}

// UpsertOneObject creates the union of filter and update. When that
// collides with a unique value it updates the existing row instead. Inside
// a session the insert runs under a savepoint so the fallback can still
// use the transaction.
func (t *TableImpl) UpsertOneObject(ctx context.Context, filter core.Filter, update core.Update) (core.Object, error) {
	object := make(core.Object, len(filter)+len(update))
	for k, v := range filter {
		object[k] = v
	}
	for k, v := range update {
		object[k] = v
	}

	var created core.Object
	insert := func() error {
		var err error
		created, err = t.CreateObject(ctx, object)
		return err
	}
	var err error
	if session, ok := write.SessionFrom(ctx); ok {
		err = session.Savepoint(ctx, insert)
	} else {
		err = insert()
	}
	if err == nil {
		return created, nil
	}
	if !core.IsCode(err, core.DuplicateValue) {
		return nil, err
	}
	t.logger.Debug("upsert fell back to update")
	return t.FindOneAndUpdate(ctx, filter, update)
}

// DeleteObjectsByQuery deletes the rows matching filter and returns how
// many were removed. Deleting nothing is OBJECT_NOT_FOUND; a missing table
// deletes nothing without error.
func (t *TableImpl) DeleteObjectsByQuery(ctx context.Context, filter core.Filter) (int64, error) {
	t.logger.Debug("delete objects")
	stmt, err := write.BuildDelete(t.className, t.schema, filter)
	if err != nil {
		return 0, err
	}
	rows, err := t.querier(ctx).Query(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		if t.classifier.Is(err, core.BackendRelationMissing) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to delete objects of %s: %w", t.className, err)
	}
	count, _ := read.CountValue(rows, false)
	if count == 0 {
		return 0, core.NewError(core.ObjectNotFound, "Object not found.")
	}
	return count, nil
}

// Find returns the documents matching filter.
func (t *TableImpl) Find(ctx context.Context, filter core.Filter, opts core.FindOptions) ([]core.Object, error) {
	t.logger.Debug("find")
	return t.reader.Find(ctx, t.className, t.schema, filter, opts)
}

// Count counts the documents matching filter. With estimate and an empty
// filter the planner estimate is used when available.
func (t *TableImpl) Count(ctx context.Context, filter core.Filter, estimate bool) (int64, error) {
	t.logger.Debug("count")
	return t.reader.Count(ctx, t.className, t.schema, filter, estimate)
}

// Distinct returns the distinct values of field among matching documents.
func (t *TableImpl) Distinct(ctx context.Context, filter core.Filter, field string) ([]any, error) {
	t.logger.Debug("distinct", "field", field)
	return t.reader.Distinct(ctx, t.className, t.schema, filter, field)
}

// Aggregate runs an aggregation pipeline.
func (t *TableImpl) Aggregate(ctx context.Context, pipeline []read.Stage, explain bool) ([]core.Object, error) {
	t.logger.Debug("aggregate", "stages", len(pipeline))
	return t.reader.Aggregate(ctx, t.className, t.schema, pipeline, explain)
}

func (t *TableImpl) writeError(op string, err error) error {
	if be, ok := t.classifier.Classify(err); ok && be.Kind == core.BackendUniqueViolation {
		return write.DuplicateError(be, err)
	}
	return fmt.Errorf("failed to %s in %s: %w", op, t.className, err)
}
