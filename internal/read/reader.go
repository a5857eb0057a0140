package read

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/rzpsarthak13/docbridge/internal/core"
	"github.com/rzpsarthak13/docbridge/internal/database"
	"github.com/rzpsarthak13/docbridge/internal/query"
)

// Reader runs compiled reads against the pool and decodes their results.
// A class whose table does not exist yet reads as empty.
type Reader struct {
	db         core.Querier
	classifier *database.Classifier
	logger     *slog.Logger
	language   string
}

// NewReader creates a reader. language is the default full-text search
// configuration.
func NewReader(db core.Querier, classifier *database.Classifier, language string, logger *slog.Logger) *Reader {
	if classifier == nil {
		classifier = database.NewClassifier()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reader{db: db, classifier: classifier, logger: logger.With("component", "read"), language: language}
}

// Find returns the documents matching filter. With opts.Explain the raw
// plan rows are returned instead.
func (r *Reader) Find(ctx context.Context, className string, s *core.Schema, filter core.Filter, opts core.FindOptions) ([]core.Object, error) {
	stmt, err := BuildFind(className, s, filter, opts, query.Options{TextSearchLanguage: r.language})
	if err != nil {
		return nil, err
	}
	rows, err := r.db.Query(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		if r.classifier.Is(err, core.BackendRelationMissing) {
			return []core.Object{}, nil
		}
		return nil, fmt.Errorf("failed to find in %s: %w", className, err)
	}
	if opts.Explain {
		out := make([]core.Object, 0, len(rows))
		for _, row := range rows {
			out = append(out, core.Object(row))
		}
		return out, nil
	}
	return DecodeRows(s, rows), nil
}

// Count counts the documents matching filter.
func (r *Reader) Count(ctx context.Context, className string, s *core.Schema, filter core.Filter, estimate bool) (int64, error) {
	plan, err := BuildCount(className, s, filter, estimate)
	if err != nil {
		return 0, err
	}
	rows, err := r.db.Query(ctx, plan.Statement.SQL, plan.Statement.Args...)
	if err != nil {
		if r.classifier.Is(err, core.BackendRelationMissing) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to count %s: %w", className, err)
	}
	if n, ok := CountValue(rows, plan.Estimated); ok {
		return n, nil
	}

	r.logger.Debug("count estimate unavailable", "class", className)
	rows, err = r.db.Query(ctx, plan.Exact.SQL, plan.Exact.Args...)
	if err != nil {
		if r.classifier.Is(err, core.BackendRelationMissing) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to count %s: %w", className, err)
	}
	n, _ := CountValue(rows, false)
	return n, nil
}

// Distinct returns the distinct non-null values of field.
func (r *Reader) Distinct(ctx context.Context, className string, s *core.Schema, filter core.Filter, field string) ([]any, error) {
	plan, err := BuildDistinct(className, s, filter, field)
	if err != nil {
		return nil, err
	}
	rows, err := r.db.Query(ctx, plan.Statement.SQL, plan.Statement.Args...)
	if err != nil {
		kind := r.classifier.Kind(err)
		if kind == core.BackendRelationMissing || kind == core.BackendColumnMissing {
			return []any{}, nil
		}
		return nil, fmt.Errorf("failed to read distinct %s of %s: %w", field, className, err)
	}
	return plan.Decode(rows), nil
}

// Aggregate runs a pipeline.
func (r *Reader) Aggregate(ctx context.Context, className string, s *core.Schema, pipeline []Stage, explain bool) ([]core.Object, error) {
	plan, err := BuildAggregate(className, s, pipeline, explain)
	if err != nil {
		return nil, err
	}
	rows, err := r.db.Query(ctx, plan.Statement.SQL, plan.Statement.Args...)
	if err != nil {
		if r.classifier.Is(err, core.BackendRelationMissing) {
			return []core.Object{}, nil
		}
		return nil, fmt.Errorf("failed to aggregate %s: %w", className, err)
	}
	if explain {
		out := make([]core.Object, 0, len(rows))
		for _, row := range rows {
			out = append(out, core.Object(row))
		}
		return out, nil
	}
	return plan.Decode(s, rows), nil
}
