// Package client assembles one adapter instance: the connection pool, the
// class registry, the schema-change watcher and the per-class tables.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/rzpsarthak13/docbridge/internal/core"
	"github.com/rzpsarthak13/docbridge/internal/database"
	"github.com/rzpsarthak13/docbridge/internal/notify"
	"github.com/rzpsarthak13/docbridge/internal/read"
	"github.com/rzpsarthak13/docbridge/internal/registry"
	"github.com/rzpsarthak13/docbridge/internal/table"
	"github.com/rzpsarthak13/docbridge/internal/write"
)

// ErrClientClosed is returned by every operation after Close.
var ErrClientClosed = errors.New("client is closed")

// ConfigProvider supplies configuration as YAML without importing the
// public package.
type ConfigProvider interface {
	GetYAML() ([]byte, error)
}

// ClientImpl implements the adapter operations.
type ClientImpl struct {
	mu         sync.RWMutex
	configMgr  *registry.ConfigManager
	database   core.Database
	classifier *database.Classifier
	registry   *registry.ClassRegistry
	watcher    *registry.SchemaWatcher
	logger     *slog.Logger
	closed     bool
}

// NewClientImpl loads configuration from configProvider, overlays the
// DOCBRIDGE_ environment and opens the connection pool.
func NewClientImpl(ctx context.Context, configProvider ConfigProvider, logger *slog.Logger) (*ClientImpl, error) {
	if configProvider == nil {
		return nil, fmt.Errorf("config provider cannot be nil")
	}

	configMgr := registry.NewConfigManager()
	yamlData, err := configProvider.GetYAML()
	if err != nil {
		return nil, fmt.Errorf("failed to get config YAML: %w", err)
	}
	if err := configMgr.LoadFromYAML(yamlData); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := configMgr.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if configMgr.GetConfig().Database.URI == "" {
		return nil, fmt.Errorf("database.uri is required")
	}

	db, err := database.NewPostgresDatabase(ctx, configMgr.PoolConfig(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create database: %w", err)
	}
	return NewClientImplWithDatabase(configMgr, db, logger), nil
}

// NewClientImplWithDatabase builds an instance on an existing database.
// The client takes ownership of db and closes it on Close.
func NewClientImplWithDatabase(configMgr *registry.ConfigManager, db core.Database, logger *slog.Logger) *ClientImpl {
	if configMgr == nil {
		configMgr = registry.NewConfigManager()
	}
	if logger == nil {
		logger = slog.Default()
	}
	instanceID := uuid.NewString()
	logger = logger.With("instance", instanceID)

	var opener registry.NotifierOpener
	if configMgr.GetConfig().SchemaHooks.Enabled {
		opener = func(ctx context.Context) (core.SchemaNotifier, error) {
			return notify.Create(ctx, configMgr.NotifierConfig(db), logger)
		}
	}
	classifier := database.NewClassifier()
	watcher := registry.NewSchemaWatcher(instanceID, opener, logger)

	return &ClientImpl{
		configMgr:  configMgr,
		database:   db,
		classifier: classifier,
		registry:   registry.NewClassRegistry(db, classifier, watcher, logger),
		watcher:    watcher,
		logger:     logger.With("component", "client"),
	}
}

// InstanceID identifies this instance on the schema-change channel.
func (c *ClientImpl) InstanceID() string {
	return c.watcher.InstanceID()
}

// Config returns the loaded configuration.
func (c *ClientImpl) Config() *registry.InternalConfig {
	return c.configMgr.GetConfig()
}

func (c *ClientImpl) checkOpen() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrClientClosed
	}
	return nil
}

func (c *ClientImpl) table(className string, s *core.Schema) *table.TableImpl {
	return table.NewTableImpl(className, s, c.database, table.Options{
		Classifier:         c.classifier,
		TextSearchLanguage: c.configMgr.GetConfig().Query.TextSearchLanguage,
		Logger:             c.logger,
	})
}

// CreateClass registers a class and creates its table.
func (c *ClientImpl) CreateClass(ctx context.Context, className string, s *core.Schema) (*core.Schema, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	c.logger.Debug("create class", "class", className)
	return c.registry.CreateClass(ctx, className, s)
}

// DeleteClass drops a class. It reports whether the class was a regular
// class rather than a join table.
func (c *ClientImpl) DeleteClass(ctx context.Context, className string) (bool, error) {
	if err := c.checkOpen(); err != nil {
		return false, err
	}
	c.logger.Debug("delete class", "class", className)
	return c.registry.DeleteClass(ctx, className)
}

// DeleteAllClasses drops every class and the catalog.
func (c *ClientImpl) DeleteAllClasses(ctx context.Context) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	c.logger.Debug("delete all classes")
	return c.registry.DeleteAllClasses(ctx)
}

// AddFieldIfNotExists adds a field to a class.
func (c *ClientImpl) AddFieldIfNotExists(ctx context.Context, className, fieldName string, fd core.FieldDescriptor) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	c.logger.Debug("add field", "class", className, "field", fieldName)
	return c.registry.AddFieldIfNotExists(ctx, className, fieldName, fd)
}

// UpdateFieldOptions replaces the stored descriptor of a field.
func (c *ClientImpl) UpdateFieldOptions(ctx context.Context, className, fieldName string, fd core.FieldDescriptor) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	c.logger.Debug("update field options", "class", className, "field", fieldName)
	return c.registry.UpdateFieldOptions(ctx, className, fieldName, fd)
}

// DeleteFields removes fields from a class.
func (c *ClientImpl) DeleteFields(ctx context.Context, className string, s *core.Schema, fieldNames []string) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	c.logger.Debug("delete fields", "class", className, "fields", fieldNames)
	return c.registry.DeleteFields(ctx, className, s, fieldNames)
}

// GetClass returns a registered class.
func (c *ClientImpl) GetClass(ctx context.Context, className string) (*core.Schema, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	c.logger.Debug("get class", "class", className)
	return c.registry.GetClass(ctx, className)
}

// GetAllClasses returns every registered class.
func (c *ClientImpl) GetAllClasses(ctx context.Context) ([]*core.Schema, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	c.logger.Debug("get all classes")
	return c.registry.GetAllClasses(ctx)
}

// ClassExists reports whether the table of a class exists.
func (c *ClientImpl) ClassExists(ctx context.Context, className string) (bool, error) {
	if err := c.checkOpen(); err != nil {
		return false, err
	}
	c.logger.Debug("class exists", "class", className)
	return c.registry.ClassExists(ctx, className)
}

// SetClassLevelPermissions replaces the permissions of a class.
func (c *ClientImpl) SetClassLevelPermissions(ctx context.Context, className string, clps map[string]any) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	c.logger.Debug("set class level permissions", "class", className)
	return c.registry.SetClassLevelPermissions(ctx, className, clps)
}

// SetIndexesWithSchemaFormat applies submitted index changes.
func (c *ClientImpl) SetIndexesWithSchemaFormat(ctx context.Context, className string, submitted, existing map[string]map[string]any, fields map[string]core.FieldDescriptor) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	c.logger.Debug("set indexes", "class", className, "submitted", len(submitted))
	return c.registry.SetIndexesWithSchemaFormat(ctx, className, submitted, existing, fields)
}

// CreateObject inserts one document.
func (c *ClientImpl) CreateObject(ctx context.Context, className string, s *core.Schema, object core.Object) (core.Object, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	return c.table(className, s).CreateObject(ctx, object)
}

// UpdateObjectsByQuery updates every matching document.
func (c *ClientImpl) UpdateObjectsByQuery(ctx context.Context, className string, s *core.Schema, filter core.Filter, update core.Update) ([]core.Object, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	return c.table(className, s).UpdateObjectsByQuery(ctx, filter, update)
}

// FindOneAndUpdate updates the matching documents and returns the first.
func (c *ClientImpl) FindOneAndUpdate(ctx context.Context, className string, s *core.Schema, filter core.Filter, update core.Update) (core.Object, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	return c.table(className, s).FindOneAndUpdate(ctx, filter, update)
}

// UpsertOneObject creates a document or updates the one it collides with.
func (c *ClientImpl) UpsertOneObject(ctx context.Context, className string, s *core.Schema, filter core.Filter, update core.Update) (core.Object, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	return c.table(className, s).UpsertOneObject(ctx, filter, update)
}

// DeleteObjectsByQuery deletes the matching documents.
func (c *ClientImpl) DeleteObjectsByQuery(ctx context.Context, className string, s *core.Schema, filter core.Filter) (int64, error) {
	if err := c.checkOpen(); err != nil {
		return 0, err
	}
	return c.table(className, s).DeleteObjectsByQuery(ctx, filter)
}

// Find returns the matching documents.
func (c *ClientImpl) Find(ctx context.Context, className string, s *core.Schema, filter core.Filter, opts core.FindOptions) ([]core.Object, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	return c.table(className, s).Find(ctx, filter, opts)
}

// Count counts the matching documents. Estimation also requires
// query.estimate_count.
func (c *ClientImpl) Count(ctx context.Context, className string, s *core.Schema, filter core.Filter, estimate bool) (int64, error) {
	if err := c.checkOpen(); err != nil {
		return 0, err
	}
	estimate = estimate && c.configMgr.GetConfig().Query.EstimateCount
	return c.table(className, s).Count(ctx, filter, estimate)
}

// Distinct returns the distinct values of field.
func (c *ClientImpl) Distinct(ctx context.Context, className string, s *core.Schema, filter core.Filter, field string) ([]any, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	return c.table(className, s).Distinct(ctx, filter, field)
}

// Aggregate runs an aggregation pipeline.
func (c *ClientImpl) Aggregate(ctx context.Context, className string, s *core.Schema, pipeline []read.Stage, explain bool) ([]core.Object, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	return c.table(className, s).Aggregate(ctx, pipeline, explain)
}

// EnsureIndex creates a plain index.
func (c *ClientImpl) EnsureIndex(ctx context.Context, className string, fieldNames []string, indexName string, caseInsensitive bool) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	c.logger.Debug("ensure index", "class", className, "fields", fieldNames)
	return c.registry.EnsureIndex(ctx, className, fieldNames, indexName, caseInsensitive)
}

// EnsureUniqueness creates a unique index.
func (c *ClientImpl) EnsureUniqueness(ctx context.Context, className string, fieldNames []string) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	c.logger.Debug("ensure uniqueness", "class", className, "fields", fieldNames)
	return c.registry.EnsureUniqueness(ctx, className, fieldNames)
}

// CreateIndexes creates indexes in one batch.
func (c *ClientImpl) CreateIndexes(ctx context.Context, className string, indexes []registry.Index) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	c.logger.Debug("create indexes", "class", className, "count", len(indexes))
	return c.registry.CreateIndexes(ctx, className, indexes)
}

// DropIndexes drops indexes in one batch.
func (c *ClientImpl) DropIndexes(ctx context.Context, className string, names []string) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	c.logger.Debug("drop indexes", "class", className, "count", len(names))
	return c.registry.DropIndexes(ctx, names)
}

// GetIndexes lists the indexes of a class.
func (c *ClientImpl) GetIndexes(ctx context.Context, className string) ([]core.Row, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	return c.registry.GetIndexes(ctx, className)
}

// UpdateEstimatedCount refreshes the planner statistics of a class.
func (c *ClientImpl) UpdateEstimatedCount(ctx context.Context, className string) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	return c.registry.UpdateEstimatedCount(ctx, className)
}

// CreateTransactionalSession begins a transaction. Pass the session to
// write.WithSession so writes join it.
func (c *ClientImpl) CreateTransactionalSession(ctx context.Context) (*write.Session, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	return write.NewSession(ctx, c.database, c.logger)
}

// CommitTransactionalSession commits a session.
func (c *ClientImpl) CommitTransactionalSession(ctx context.Context, session *write.Session) error {
	return session.Commit(ctx)
}

// AbortTransactionalSession rolls a session back.
func (c *ClientImpl) AbortTransactionalSession(ctx context.Context, session *write.Session) error {
	return session.Abort(ctx)
}

// Watch registers a callback run when another instance changes a schema.
func (c *ClientImpl) Watch(callback func()) {
	c.watcher.RegisterHook(registry.SchemaHook(callback))
}

// PerformInitialization prepares the database and starts listening for
// schema changes when enabled.
func (c *ClientImpl) PerformInitialization(ctx context.Context, bootstrap []*core.Schema) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	return c.registry.PerformInitialization(ctx, bootstrap)
}

// Close stops the schema-change channel and closes the pool.
func (c *ClientImpl) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	var errs []error
	if err := c.watcher.Close(); err != nil {
		errs = append(errs, err)
	}
	if c.database != nil {
		c.database.Close()
	}
	return errors.Join(errs...)
}
