// Package registry manages the class catalog, the tables backing each
// class and the channel that tells other adapter instances about schema
// changes. It also owns the adapter configuration.
package registry

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/rzpsarthak13/docbridge/internal/core"
	"github.com/rzpsarthak13/docbridge/internal/database"
	"github.com/rzpsarthak13/docbridge/internal/schema"
	"github.com/rzpsarthak13/docbridge/internal/sqlbuilder"
)

// CatalogTable stores one row per class.
const CatalogTable = "_SCHEMA"

// ErrFieldExists is returned when the catalog already declares a field.
var ErrFieldExists = errors.New("attempted to add a field that already exists")

//go:embed functions.sql
var functionsSQL string

// systemClasses are dropped by DeleteAllClasses even when the catalog
// does not list them.
var systemClasses = []string{
	"_PushStatus",
	"_JobStatus",
	"_JobSchedule",
	"_Hooks",
	"_GlobalConfig",
	"_GraphQLConfig",
	"_Audience",
	"_Idempotency",
}

// executor is a pool or a transaction.
type executor interface {
	core.Querier
	Batch(ctx context.Context, stmts []core.Statement) error
}

// ClassRegistry runs schema operations against the catalog and the class
// tables.
type ClassRegistry struct {
	db         core.Database
	classifier *database.Classifier
	mapper     *schema.TypeMapper
	watcher    *SchemaWatcher
	logger     *slog.Logger
}

// NewClassRegistry creates a registry. A nil watcher disables change
// notifications.
func NewClassRegistry(db core.Database, classifier *database.Classifier, watcher *SchemaWatcher, logger *slog.Logger) *ClassRegistry {
	if classifier == nil {
		classifier = database.NewClassifier()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ClassRegistry{
		db:         db,
		classifier: classifier,
		mapper:     schema.NewTypeMapper(),
		watcher:    watcher,
		logger:     logger.With("component", "registry"),
	}
}

func (r *ClassRegistry) notify(ctx context.Context) {
	if r.watcher != nil {
		r.watcher.Notify(ctx)
	}
}

func (r *ClassRegistry) ensureCatalog(ctx context.Context, exec core.Querier) error {
	_, err := exec.Exec(ctx, `CREATE TABLE IF NOT EXISTS "_SCHEMA" ("className" varChar(120), "schema" jsonb, "isParseClass" bool, PRIMARY KEY ("className"))`)
	if err == nil {
		return nil
	}
	switch r.classifier.Kind(err) {
	case core.BackendDuplicateRelation, core.BackendUniqueViolation, core.BackendDuplicateObject:
		// Another instance created it concurrently.
		return nil
	}
	return fmt.Errorf("failed to create catalog: %w", err)
}

// CreateTable creates the table of a class and the join tables of its
// relations. The user class also gets its bookkeeping columns.
func (r *ClassRegistry) CreateTable(ctx context.Context, className string, s *core.Schema) error {
	return r.createTable(ctx, r.db, className, s)
}

func (r *ClassRegistry) createTable(ctx context.Context, exec executor, className string, s *core.Schema) error {
	if err := r.ensureCatalog(ctx, exec); err != nil {
		return err
	}

	fields := s.WithStorageFields().Fields
	if className == core.UserClassName {
		for name, fd := range core.UserBookkeepingFields() {
			if _, declared := fields[name]; !declared {
				fields[name] = fd
			}
		}
	}

	var columns []string
	var joins []core.Statement
	for _, name := range core.SortedFieldNames(fields) {
		fd := fields[name]
		if fd.Type == core.TypeRelation {
			joins = append(joins, joinTableStatement(core.JoinTableName(className, name)))
			continue
		}
		colType, err := r.mapper.ColumnType(fd)
		if err != nil {
			return fmt.Errorf("field %s of %s: %w", name, className, err)
		}
		columns = append(columns, sqlbuilder.Quote(name)+" "+colType)
		if name == "objectId" {
			columns = append(columns, `PRIMARY KEY ("objectId")`)
		}
	}

	stmt := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", sqlbuilder.Quote(className), sqlbuilder.Join(columns))
	if _, err := exec.Exec(ctx, stmt); err != nil && !r.classifier.Is(err, core.BackendDuplicateRelation) {
		return fmt.Errorf("failed to create table %s: %w", className, err)
	}
	if err := exec.Batch(ctx, joins); err != nil {
		return fmt.Errorf("failed to create join tables of %s: %w", className, err)
	}
	r.logger.Debug("table created", "class", className, "columns", len(columns), "relations", len(joins))
	return nil
}

func joinTableStatement(table string) core.Statement {
	return core.Statement{SQL: fmt.Sprintf(
		`CREATE TABLE IF NOT EXISTS %s ("relatedId" varChar(120), "owningId" varChar(120), PRIMARY KEY("relatedId", "owningId"))`,
		sqlbuilder.Quote(table),
	)}
}

// CreateClass creates the table, registers the class in the catalog and
// applies its indexes in one transaction.
func (r *ClassRegistry) CreateClass(ctx context.Context, className string, s *core.Schema) (*core.Schema, error) {
	if err := schema.ValidateClassName(className); err != nil {
		return nil, err
	}
	s = s.Clone()
	s.ClassName = className

	payload, err := json.Marshal(s.WithStorageFields())
	if err != nil {
		return nil, fmt.Errorf("failed to encode schema of %s: %w", className, err)
	}

	err = core.InTransaction(ctx, r.db, func(tx core.Transaction) error {
		if err := r.createTable(ctx, tx, className, s); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `INSERT INTO "_SCHEMA" ("className", "schema", "isParseClass") VALUES ($1, $2, true)`, className, string(payload))
		if err != nil {
			if be, ok := r.classifier.Classify(err); ok && be.Kind == core.BackendUniqueViolation && strings.Contains(be.Detail, className) {
				return &core.Error{Code: core.DuplicateValue, Message: fmt.Sprintf("Class %s already exists.", className), Err: err}
			}
			return fmt.Errorf("failed to register class %s: %w", className, err)
		}
		return r.setIndexes(ctx, tx, className, s.Indexes, nil, s.Fields)
	})
	if err != nil {
		return nil, err
	}

	r.logger.Info("class created", "class", className)
	r.notify(ctx)
	return core.ToCallerSchema(s), nil
}

// AddFieldIfNotExists adds the column (or join table) of a field and
// records it in the catalog.
func (r *ClassRegistry) AddFieldIfNotExists(ctx context.Context, className, fieldName string, fd core.FieldDescriptor) error {
	if fd.Type == core.TypeRelation {
		if _, err := r.db.Exec(ctx, joinTableStatement(core.JoinTableName(className, fieldName)).SQL); err != nil {
			return fmt.Errorf("failed to create join table for %s.%s: %w", className, fieldName, err)
		}
	} else {
		colType, err := r.mapper.ColumnType(fd)
		if err != nil {
			return err
		}
		stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN IF NOT EXISTS %s %s", sqlbuilder.Quote(className), sqlbuilder.Quote(fieldName), colType)
		if _, err := r.db.Exec(ctx, stmt); err != nil {
			switch r.classifier.Kind(err) {
			case core.BackendRelationMissing:
				_, err := r.CreateClass(ctx, className, &core.Schema{Fields: map[string]core.FieldDescriptor{fieldName: fd}})
				return err
			case core.BackendDuplicateColumn:
			default:
				return fmt.Errorf("failed to add column %s.%s: %w", className, fieldName, err)
			}
		}
	}

	payload, err := json.Marshal(fd)
	if err != nil {
		return fmt.Errorf("failed to encode field %s: %w", fieldName, err)
	}
	err = core.InTransaction(ctx, r.db, func(tx core.Transaction) error {
		rows, err := tx.Query(ctx, `SELECT "schema" FROM "_SCHEMA" WHERE "className" = $1 and ("schema"::json->'fields'->$2) is not null`, className, fieldName)
		if err != nil {
			return fmt.Errorf("failed to read catalog: %w", err)
		}
		if len(rows) > 0 {
			return fmt.Errorf("%w: %s.%s", ErrFieldExists, className, fieldName)
		}
		return setFieldDescriptor(ctx, tx, className, fieldName, payload)
	})
	if err != nil {
		return err
	}
	r.notify(ctx)
	return nil
}

func setFieldDescriptor(ctx context.Context, exec core.Querier, className, fieldName string, payload []byte) error {
	_, err := exec.Exec(ctx, `UPDATE "_SCHEMA" SET "schema"=jsonb_set("schema", $1, $2) WHERE "className"=$3`,
		[]string{"fields", fieldName}, string(payload), className)
	if err != nil {
		return fmt.Errorf("failed to record field %s.%s: %w", className, fieldName, err)
	}
	return nil
}

// UpdateFieldOptions replaces the catalog descriptor of a field.
func (r *ClassRegistry) UpdateFieldOptions(ctx context.Context, className, fieldName string, fd core.FieldDescriptor) error {
	payload, err := json.Marshal(fd)
	if err != nil {
		return fmt.Errorf("failed to encode field %s: %w", fieldName, err)
	}
	if err := setFieldDescriptor(ctx, r.db, className, fieldName, payload); err != nil {
		return err
	}
	r.notify(ctx)
	return nil
}

// DeleteFields removes fields from the catalog and drops their columns.
// Relation fields keep their join tables.
func (r *ClassRegistry) DeleteFields(ctx context.Context, className string, s *core.Schema, fieldNames []string) error {
	remaining := s.WithStorageFields()
	remaining.ClassName = className
	var drops []string
	for _, name := range fieldNames {
		if fd, ok := remaining.Fields[name]; ok && fd.Type != core.TypeRelation {
			drops = append(drops, "DROP COLUMN IF EXISTS "+sqlbuilder.Quote(name))
		}
		delete(remaining.Fields, name)
	}
	payload, err := json.Marshal(remaining)
	if err != nil {
		return fmt.Errorf("failed to encode schema of %s: %w", className, err)
	}

	err = core.InTransaction(ctx, r.db, func(tx core.Transaction) error {
		if _, err := tx.Exec(ctx, `UPDATE "_SCHEMA" SET "schema" = $1 WHERE "className" = $2`, string(payload), className); err != nil {
			return fmt.Errorf("failed to update catalog of %s: %w", className, err)
		}
		if len(drops) == 0 {
			return nil
		}
		if _, err := tx.Exec(ctx, fmt.Sprintf("ALTER TABLE %s %s", sqlbuilder.Quote(className), sqlbuilder.Join(drops))); err != nil {
			return fmt.Errorf("failed to drop columns of %s: %w", className, err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	r.notify(ctx)
	return nil
}

// DeleteClass drops the table and the catalog row of a class. It reports
// whether the class was a regular class rather than a join table.
func (r *ClassRegistry) DeleteClass(ctx context.Context, className string) (bool, error) {
	err := r.db.Batch(ctx, []core.Statement{
		{SQL: "DROP TABLE IF EXISTS " + sqlbuilder.Quote(className)},
		{SQL: `DELETE FROM "_SCHEMA" WHERE "className" = $1`, Args: []any{className}},
	})
	if err != nil {
		return false, fmt.Errorf("failed to delete class %s: %w", className, err)
	}
	r.logger.Info("class deleted", "class", className)
	r.notify(ctx)
	return !strings.HasPrefix(className, core.JoinTablePrefix), nil
}

// DeleteAllClasses drops the catalog, every registered class with its
// join tables and the system classes. A missing catalog deletes nothing.
func (r *ClassRegistry) DeleteAllClasses(ctx context.Context) error {
	rows, err := r.db.Query(ctx, `SELECT * FROM "_SCHEMA"`)
	if err != nil {
		if r.classifier.Is(err, core.BackendRelationMissing) {
			return nil
		}
		return fmt.Errorf("failed to read catalog: %w", err)
	}

	tables := append([]string{CatalogTable}, systemClasses...)
	var joins []string
	for _, row := range rows {
		s, err := schemaFromRow(row)
		if err != nil {
			return err
		}
		tables = append(tables, s.ClassName)
		joins = append(joins, s.JoinTables()...)
	}
	tables = append(tables, joins...)

	stmts := make([]core.Statement, len(tables))
	for i, t := range tables {
		stmts[i] = core.Statement{SQL: "DROP TABLE IF EXISTS " + sqlbuilder.Quote(t)}
	}
	err = core.InTransaction(ctx, r.db, func(tx core.Transaction) error {
		return tx.Batch(ctx, stmts)
	})
	if err != nil && !r.classifier.Is(err, core.BackendRelationMissing) {
		return fmt.Errorf("failed to delete classes: %w", err)
	}
	r.logger.Info("all classes deleted", "tables", len(tables))
	return nil
}

// GetAllClasses returns every registered class in caller form.
func (r *ClassRegistry) GetAllClasses(ctx context.Context) ([]*core.Schema, error) {
	if err := r.ensureCatalog(ctx, r.db); err != nil {
		return nil, err
	}
	rows, err := r.db.Query(ctx, `SELECT * FROM "_SCHEMA"`)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}
	classes := make([]*core.Schema, 0, len(rows))
	for _, row := range rows {
		s, err := schemaFromRow(row)
		if err != nil {
			return nil, err
		}
		classes = append(classes, core.ToCallerSchema(s))
	}
	return classes, nil
}

// GetClass returns one class in caller form, or core.ErrClassNotFound.
func (r *ClassRegistry) GetClass(ctx context.Context, className string) (*core.Schema, error) {
	rows, err := r.db.Query(ctx, `SELECT * FROM "_SCHEMA" WHERE "className" = $1`, className)
	if err != nil {
		if r.classifier.Is(err, core.BackendRelationMissing) {
			return nil, fmt.Errorf("%w: %s", core.ErrClassNotFound, className)
		}
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}
	if len(rows) != 1 {
		return nil, fmt.Errorf("%w: %s", core.ErrClassNotFound, className)
	}
	s, err := schemaFromRow(rows[0])
	if err != nil {
		return nil, err
	}
	return core.ToCallerSchema(s), nil
}

// ClassExists reports whether a table named className exists.
func (r *ClassRegistry) ClassExists(ctx context.Context, className string) (bool, error) {
	rows, err := r.db.Query(ctx, `SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name = $1)`, className)
	if err != nil {
		return false, fmt.Errorf("failed to check class %s: %w", className, err)
	}
	if len(rows) == 0 {
		return false, nil
	}
	exists, _ := rows[0]["exists"].(bool)
	return exists, nil
}

// SetClassLevelPermissions replaces the permissions stored for a class.
func (r *ClassRegistry) SetClassLevelPermissions(ctx context.Context, className string, clps map[string]any) error {
	payload, err := json.Marshal(clps)
	if err != nil {
		return fmt.Errorf("failed to encode permissions: %w", err)
	}
	_, err = r.db.Exec(ctx, `UPDATE "_SCHEMA" SET "schema" = json_object_set_key("schema", $1::text, $2::jsonb) WHERE "className" = $3`,
		"classLevelPermissions", string(payload), className)
	if err != nil {
		return fmt.Errorf("failed to set permissions of %s: %w", className, err)
	}
	r.notify(ctx)
	return nil
}

// SchemaUpgrade adds the declared fields of s that have no column yet.
func (r *ClassRegistry) SchemaUpgrade(ctx context.Context, className string, s *core.Schema) error {
	rows, err := r.db.Query(ctx, `SELECT column_name FROM information_schema.columns WHERE table_name = $1`, className)
	if err != nil {
		return fmt.Errorf("failed to list columns of %s: %w", className, err)
	}
	existing := make(map[string]bool, len(rows))
	for _, row := range rows {
		if name, ok := row["column_name"].(string); ok {
			existing[name] = true
		}
	}
	for _, name := range core.SortedFieldNames(s.Fields) {
		if existing[name] {
			continue
		}
		if err := r.AddFieldIfNotExists(ctx, className, name, s.Fields[name]); err != nil && !errors.Is(err, ErrFieldExists) {
			return err
		}
	}
	return nil
}

// UpdateEstimatedCount refreshes the planner statistics of a class.
func (r *ClassRegistry) UpdateEstimatedCount(ctx context.Context, className string) error {
	if _, err := r.db.Exec(ctx, "ANALYZE "+sqlbuilder.Quote(className)); err != nil {
		return fmt.Errorf("failed to analyze %s: %w", className, err)
	}
	return nil
}

// PerformInitialization creates the catalog, creates and upgrades the
// bootstrap classes, installs the helper functions and starts listening
// for schema changes.
func (r *ClassRegistry) PerformInitialization(ctx context.Context, bootstrap []*core.Schema) error {
	if err := r.ensureCatalog(ctx, r.db); err != nil {
		return err
	}
	for _, s := range bootstrap {
		if err := r.CreateTable(ctx, s.ClassName, s); err != nil {
			return err
		}
		if err := r.SchemaUpgrade(ctx, s.ClassName, s); err != nil {
			return err
		}
	}

	err := core.InTransaction(ctx, r.db, func(tx core.Transaction) error {
		_, err := tx.Exec(ctx, functionsSQL)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to install helper functions: %w", err)
	}
	r.logger.Info("initialization complete", "bootstrap", len(bootstrap))

	if r.watcher != nil {
		return r.watcher.Listen(ctx)
	}
	return nil
}

func schemaFromRow(row core.Row) (*core.Schema, error) {
	var data []byte
	switch v := row["schema"].(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	case nil:
		data = []byte("{}")
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("failed to read catalog row: %w", err)
		}
		data = encoded
	}

	var s core.Schema
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to decode catalog row: %w", err)
	}
	if name, ok := row["className"].(string); ok && name != "" {
		s.ClassName = name
	}
	if s.Fields == nil {
		s.Fields = map[string]core.FieldDescriptor{}
	}
	return &s, nil
}
