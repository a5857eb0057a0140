package read

import (
	"fmt"

	"github.com/rzpsarthak13/docbridge/internal/core"
	"github.com/rzpsarthak13/docbridge/internal/query"
	"github.com/rzpsarthak13/docbridge/internal/sqlbuilder"
)

// CountPlan is a count statement plus the exact fallback used when the
// statistics estimate is not available.
type CountPlan struct {
	// Statement is what runs first.
	Statement core.Statement

	// Estimated reports whether Statement reads pg_class statistics.
	Estimated bool

	// Exact is the COUNT(*) statement.
	Exact core.Statement
}

// BuildCount compiles a count. An unfiltered count with estimate set reads
// the planner estimate instead of scanning the table.
func BuildCount(className string, s *core.Schema, filter core.Filter, estimate bool) (*CountPlan, error) {
	b := sqlbuilder.New()
	table := b.Ident(className)
	where, err := query.Build(b, s, filter, query.Options{})
	if err != nil {
		return nil, err
	}
	exact := fmt.Sprintf("SELECT count(*) FROM %s", table)
	if where.Pattern != "" {
		exact += " WHERE " + where.Pattern
	}
	plan := &CountPlan{Exact: core.Statement{SQL: exact, Args: b.Args()}}

	if where.Pattern != "" || !estimate {
		plan.Statement = plan.Exact
		return plan, nil
	}
	plan.Estimated = true
	plan.Statement = core.Statement{
		SQL:  "SELECT reltuples AS approximate_row_count FROM pg_class WHERE relname = $1",
		Args: []any{className},
	}
	return plan, nil
}

// CountValue reads the count out of a count or estimate row. ok is false
// when an estimate is missing or -1.
func CountValue(rows []core.Row, estimated bool) (int64, bool) {
	if len(rows) == 0 {
		return 0, !estimated
	}
	column := "count"
	if estimated {
		column = "approximate_row_count"
	}
	f, ok := core.ToFloat(rows[0][column])
	if !ok {
		return 0, !estimated
	}
	if estimated && f < 0 {
		return 0, false
	}
	return int64(f), true
}
