package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/rzpsarthak13/docbridge/internal/core"
	"github.com/rzpsarthak13/docbridge/internal/sqlbuilder"
)

// Index names an index and its columns in key order.
type Index struct {
	Name   string
	Fields []string
}

// IndexFromSpec converts a catalog index entry such as {"a": 1, "b": -1}
// into an Index. Columns are ordered by name.
func IndexFromSpec(name string, spec map[string]any) Index {
	return Index{Name: name, Fields: core.SortedKeys(spec)}
}

// SetIndexesWithSchemaFormat applies submitted index changes on top of the
// existing catalog indexes. A submitted entry of {"__op": "Delete"} drops
// the index.
func (r *ClassRegistry) SetIndexesWithSchemaFormat(ctx context.Context, className string, submitted, existing map[string]map[string]any, fields map[string]core.FieldDescriptor) error {
	if submitted == nil {
		return nil
	}
	err := core.InTransaction(ctx, r.db, func(tx core.Transaction) error {
		return r.setIndexes(ctx, tx, className, submitted, existing, fields)
	})
	if err != nil {
		return err
	}
	r.notify(ctx)
	return nil
}

func (r *ClassRegistry) setIndexes(ctx context.Context, exec executor, className string, submitted, existing map[string]map[string]any, fields map[string]core.FieldDescriptor) error {
	if submitted == nil {
		return nil
	}
	merged := make(map[string]map[string]any, len(existing)+len(submitted))
	for name, spec := range existing {
		merged[name] = spec
	}
	if len(merged) == 0 {
		merged["_id_"] = map[string]any{"_id": 1}
	}

	var inserted []Index
	var deleted []string
	for _, name := range sortedIndexNames(submitted) {
		spec := submitted[name]
		_, exists := merged[name]
		isDelete := core.OpTag(spec) == "Delete"
		switch {
		case exists && !isDelete:
			return core.NewError(core.InvalidQuery, "Index %s exists, cannot update.", name)
		case !exists && isDelete:
			return core.NewError(core.InvalidQuery, "Index %s does not exist, cannot delete.", name)
		case isDelete:
			deleted = append(deleted, name)
			delete(merged, name)
		default:
			for _, key := range core.SortedKeys(spec) {
				if _, ok := fields[key]; !ok {
					return core.NewError(core.InvalidQuery, "Field %s does not exist, cannot add index.", key)
				}
			}
			merged[name] = spec
			inserted = append(inserted, IndexFromSpec(name, spec))
		}
	}

	if err := r.createIndexes(ctx, exec, className, inserted); err != nil {
		return err
	}
	if err := r.dropIndexes(ctx, exec, deleted); err != nil {
		return err
	}

	payload, err := json.Marshal(merged)
	if err != nil {
		return fmt.Errorf("failed to encode indexes: %w", err)
	}
	_, err = exec.Exec(ctx, `UPDATE "_SCHEMA" SET "schema" = json_object_set_key("schema", $1::text, $2::jsonb) WHERE "className" = $3`,
		"indexes", string(payload), className)
	if err != nil {
		return fmt.Errorf("failed to record indexes of %s: %w", className, err)
	}
	return nil
}

func sortedIndexNames(m map[string]map[string]any) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CreateIndexes creates indexes in one batch.
func (r *ClassRegistry) CreateIndexes(ctx context.Context, className string, indexes []Index) error {
	return r.createIndexes(ctx, r.db, className, indexes)
}

func (r *ClassRegistry) createIndexes(ctx context.Context, exec executor, className string, indexes []Index) error {
	if len(indexes) == 0 {
		return nil
	}
	stmts := make([]core.Statement, len(indexes))
	for i, idx := range indexes {
		stmts[i] = core.Statement{SQL: fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)",
			sqlbuilder.Quote(idx.Name), sqlbuilder.Quote(className), quoteAll(idx.Fields))}
	}
	if err := exec.Batch(ctx, stmts); err != nil {
		return fmt.Errorf("failed to create indexes on %s: %w", className, err)
	}
	return nil
}

// DropIndexes drops indexes in one batch.
func (r *ClassRegistry) DropIndexes(ctx context.Context, names []string) error {
	return r.dropIndexes(ctx, r.db, names)
}

func (r *ClassRegistry) dropIndexes(ctx context.Context, exec executor, names []string) error {
	if len(names) == 0 {
		return nil
	}
	stmts := make([]core.Statement, len(names))
	for i, name := range names {
		stmts[i] = core.Statement{SQL: "DROP INDEX " + sqlbuilder.Quote(name)}
	}
	if err := exec.Batch(ctx, stmts); err != nil {
		return fmt.Errorf("failed to drop indexes: %w", err)
	}
	return nil
}

// GetIndexes lists the pg_indexes rows of a class.
func (r *ClassRegistry) GetIndexes(ctx context.Context, className string) ([]core.Row, error) {
	rows, err := r.db.Query(ctx, "SELECT * FROM pg_indexes WHERE tablename = $1", className)
	if err != nil {
		return nil, fmt.Errorf("failed to list indexes of %s: %w", className, err)
	}
	return rows, nil
}

// EnsureIndex creates a plain index over fieldNames. An empty indexName
// selects parse_default_<fields>. Case-insensitive indexes cover
// lower(col) for prefix matching.
func (r *ClassRegistry) EnsureIndex(ctx context.Context, className string, fieldNames []string, indexName string, caseInsensitive bool) error {
	fields := sortedCopy(fieldNames)
	if indexName == "" {
		indexName = "parse_default_" + strings.Join(fields, "_")
	}
	columns := make([]string, len(fields))
	for i, f := range fields {
		if caseInsensitive {
			columns[i] = fmt.Sprintf("lower(%s) varchar_pattern_ops", sqlbuilder.Quote(f))
		} else {
			columns[i] = sqlbuilder.Quote(f)
		}
	}
	stmt := fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)", sqlbuilder.Quote(indexName), sqlbuilder.Quote(className), strings.Join(columns, ","))
	_, err := r.db.Exec(ctx, stmt)
	return r.indexError(err, indexName)
}

// EnsureUniqueness creates the unique index <class>_unique_<fields>.
func (r *ClassRegistry) EnsureUniqueness(ctx context.Context, className string, fieldNames []string) error {
	fields := sortedCopy(fieldNames)
	name := className + "_unique_" + strings.Join(fields, "_")
	stmt := fmt.Sprintf("CREATE UNIQUE INDEX IF NOT EXISTS %s ON %s(%s)", sqlbuilder.Quote(name), sqlbuilder.Quote(className), quoteAll(fields))
	_, err := r.db.Exec(ctx, stmt)
	return r.indexError(err, name)
}

func (r *ClassRegistry) indexError(err error, name string) error {
	if err == nil {
		return nil
	}
	be, ok := r.classifier.Classify(err)
	if ok && strings.Contains(be.Message, name) {
		switch be.Kind {
		case core.BackendDuplicateRelation:
			return nil
		case core.BackendUniqueViolation:
			return &core.Error{Code: core.DuplicateValue, Message: "A duplicate value for a field with unique values was provided", Err: err}
		}
	}
	return fmt.Errorf("failed to create index %s: %w", name, err)
}

func sortedCopy(in []string) []string {
	out := append([]string(nil), in...)
	sort.Strings(out)
	return out
}

func quoteAll(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = sqlbuilder.Quote(n)
	}
	return strings.Join(quoted, ",")
}
