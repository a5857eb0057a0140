package docbridge

import (
	"context"
)

// Class provides the object operations of one class bound to the schema
// it was created with.
type Class interface {
	// Name returns the class name.
	Name() string

	// Schema returns the schema statements are compiled against.
	Schema() *Schema

	// Create inserts a document and returns it as stored.
	Create(ctx context.Context, object Object) (Object, error)

	// Update applies update to every matching document and returns them.
	Update(ctx context.Context, filter Filter, update Update) ([]Object, error)

	// FindOneAndUpdate updates the matching documents and returns the
	// first, or nil when nothing matched.
	FindOneAndUpdate(ctx context.Context, filter Filter, update Update) (Object, error)

	// Upsert creates filter merged with update, or updates the document it
	// collides with on a unique field.
	Upsert(ctx context.Context, filter Filter, update Update) (Object, error)

	// Delete removes the matching documents. Removing nothing returns an
	// *Error with code ObjectNotFound.
	Delete(ctx context.Context, filter Filter) (int64, error)

	Find(ctx context.Context, filter Filter, opts FindOptions) ([]Object, error)
	Count(ctx context.Context, filter Filter, estimate bool) (int64, error)
	Distinct(ctx context.Context, filter Filter, field string) ([]any, error)
	Aggregate(ctx context.Context, pipeline []Stage, explain bool) ([]Object, error)
}

type classHandle struct {
	adapter   Adapter
	className string
	schema    *Schema
}

func (c *classHandle) Name() string    { return c.className }
func (c *classHandle) Schema() *Schema { return c.schema }

func (c *classHandle) Create(ctx context.Context, object Object) (Object, error) {
	return c.adapter.CreateObject(ctx, c.className, c.schema, object)
}

func (c *classHandle) Update(ctx context.Context, filter Filter, update Update) ([]Object, error) {
	return c.adapter.UpdateObjectsByQuery(ctx, c.className, c.schema, filter, update)
}

func (c *classHandle) FindOneAndUpdate(ctx context.Context, filter Filter, update Update) (Object, error) {
	return c.adapter.FindOneAndUpdate(ctx, c.className, c.schema, filter, update)
}

func (c *classHandle) Upsert(ctx context.Context, filter Filter, update Update) (Object, error) {
	return c.adapter.UpsertOneObject(ctx, c.className, c.schema, filter, update)
}

func (c *classHandle) Delete(ctx context.Context, filter Filter) (int64, error) {
	return c.adapter.DeleteObjectsByQuery(ctx, c.className, c.schema, filter)
}

func (c *classHandle) Find(ctx context.Context, filter Filter, opts FindOptions) ([]Object, error) {
	return c.adapter.Find(ctx, c.className, c.schema, filter, opts)
}

func (c *classHandle) Count(ctx context.Context, filter Filter, estimate bool) (int64, error) {
	return c.adapter.Count(ctx, c.className, c.schema, filter, estimate)
}

func (c *classHandle) Distinct(ctx context.Context, filter Filter, field string) ([]any, error) {
	return c.adapter.Distinct(ctx, c.className, c.schema, filter, field)
}

func (c *classHandle) Aggregate(ctx context.Context, pipeline []Stage, explain bool) ([]Object, error) {
	return c.adapter.Aggregate(ctx, c.className, c.schema, pipeline, explain)
}
