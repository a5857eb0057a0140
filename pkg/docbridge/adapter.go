// Package docbridge stores schemaless documents in Postgres tables.
//
// Typical usage:
//
//	adapter, _ := docbridge.NewAdapter(ctx, config)
//	defer adapter.Close()
//
//	adapter.PerformInitialization(ctx, nil)
//	adapter.CreateClass(ctx, "GameScore", schema)
//
//	scores := adapter.Class("GameScore", schema)
//	scores.Create(ctx, docbridge.Object{"objectId": "g1", "score": 12})
//	scores.Find(ctx, docbridge.Filter{"score": map[string]any{"$gt": 10}}, docbridge.FindOptions{})
package docbridge

import (
	"context"
	"fmt"
	"log/slog"

	"gopkg.in/yaml.v3"

	"github.com/rzpsarthak13/docbridge/internal/client"
)

// Adapter is the storage adapter. Class and field operations keep the
// catalog in step with the tables; object operations take the schema the
// caller holds for the class.
type Adapter interface {
	// CreateClass creates the table and catalog entry of a class and
	// returns the schema as callers see it.
	CreateClass(ctx context.Context, className string, schema *Schema) (*Schema, error)

	// DeleteClass drops a class. ok reports whether it was a regular class.
	DeleteClass(ctx context.Context, className string) (ok bool, err error)

	// DeleteAllClasses drops every class, join table and the catalog.
	DeleteAllClasses(ctx context.Context) error

	// AddFieldIfNotExists adds a column or join table. It returns
	// ErrFieldExists when the catalog already records the field.
	AddFieldIfNotExists(ctx context.Context, className, fieldName string, fd FieldDescriptor) error

	// UpdateFieldOptions replaces the stored descriptor of a field.
	UpdateFieldOptions(ctx context.Context, className, fieldName string, fd FieldDescriptor) error

	// DeleteFields drops fields from a class.
	DeleteFields(ctx context.Context, className string, schema *Schema, fieldNames []string) error

	GetClass(ctx context.Context, className string) (*Schema, error)
	GetAllClasses(ctx context.Context) ([]*Schema, error)
	ClassExists(ctx context.Context, className string) (bool, error)
	SetClassLevelPermissions(ctx context.Context, className string, clps map[string]any) error

	// SetIndexesWithSchemaFormat applies index changes in the
	// {name: {field: 1}} format. A submitted {"__op": "Delete"} drops the
	// index of that name.
	SetIndexesWithSchemaFormat(ctx context.Context, className string, submitted, existing map[string]map[string]any, fields map[string]FieldDescriptor) error

	CreateObject(ctx context.Context, className string, schema *Schema, object Object) (Object, error)
	UpdateObjectsByQuery(ctx context.Context, className string, schema *Schema, filter Filter, update Update) ([]Object, error)
	FindOneAndUpdate(ctx context.Context, className string, schema *Schema, filter Filter, update Update) (Object, error)
	UpsertOneObject(ctx context.Context, className string, schema *Schema, filter Filter, update Update) (Object, error)
	DeleteObjectsByQuery(ctx context.Context, className string, schema *Schema, filter Filter) (int64, error)

	Find(ctx context.Context, className string, schema *Schema, filter Filter, opts FindOptions) ([]Object, error)
	Count(ctx context.Context, className string, schema *Schema, filter Filter, estimate bool) (int64, error)
	Distinct(ctx context.Context, className string, schema *Schema, filter Filter, field string) ([]any, error)
	Aggregate(ctx context.Context, className string, schema *Schema, pipeline []Stage, explain bool) ([]Object, error)

	EnsureIndex(ctx context.Context, className string, fieldNames []string, indexName string, caseInsensitive bool) error
	EnsureUniqueness(ctx context.Context, className string, fieldNames []string) error
	CreateIndexes(ctx context.Context, className string, indexes []Index) error
	DropIndexes(ctx context.Context, className string, names []string) error
	GetIndexes(ctx context.Context, className string) ([]Row, error)
	UpdateEstimatedCount(ctx context.Context, className string) error

	// CreateTransactionalSession begins a transaction. Writes made with a
	// context from WithSession join it until it is committed or aborted.
	CreateTransactionalSession(ctx context.Context) (*Session, error)
	CommitTransactionalSession(ctx context.Context, session *Session) error
	AbortTransactionalSession(ctx context.Context, session *Session) error

	// Watch registers a callback run when another instance changes a
	// schema. Requires schema_hooks.enabled.
	Watch(callback func())

	// PerformInitialization creates the catalog and the bootstrap classes,
	// installs the helper SQL functions and starts listening for schema
	// changes.
	PerformInitialization(ctx context.Context, bootstrap []*Schema) error

	// Class returns the object operations of one class.
	Class(className string, schema *Schema) Class

	// Close releases the pool and the schema-change channel.
	Close() error
}

// Option customizes NewAdapter.
type Option func(*options)

type options struct {
	logger *slog.Logger
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// configProvider implements client.ConfigProvider to provide config as YAML without import cycles.
type configProvider struct {
	config *Config
}

func (cp *configProvider) GetYAML() ([]byte, error) {
	return yaml.Marshal(cp.config)
}

// adapterWrapper wraps the internal client to provide the public Adapter interface.
type adapterWrapper struct {
	*client.ClientImpl
}

// NewAdapter opens the connection pool described by config. Environment
// variables prefixed DOCBRIDGE_ override the file settings.
func NewAdapter(ctx context.Context, config *Config, opts ...Option) (Adapter, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	impl, err := client.NewClientImpl(ctx, &configProvider{config: config}, o.logger)
	if err != nil {
		return nil, err
	}
	return &adapterWrapper{ClientImpl: impl}, nil
}

func (a *adapterWrapper) Class(className string, schema *Schema) Class {
	return &classHandle{adapter: a, className: className, schema: schema}
}
