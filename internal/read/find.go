// Package read builds the SELECT statements behind find, count, distinct
// and aggregate, and decodes their results.
package read

import (
	"fmt"
	"strings"

	"github.com/rzpsarthak13/docbridge/internal/core"
	"github.com/rzpsarthak13/docbridge/internal/query"
	"github.com/rzpsarthak13/docbridge/internal/schema"
	"github.com/rzpsarthak13/docbridge/internal/sqlbuilder"
)

// ScoreKey is the projection key that selects the full-text rank.
const ScoreKey = "$score"

// ExplainPrefix wraps a statement to return its plan.
const ExplainPrefix = "EXPLAIN (FORMAT JSON) "

// BuildFind compiles a find into
// SELECT cols FROM t WHERE ... ORDER BY ... LIMIT ... OFFSET ....
func BuildFind(className string, s *core.Schema, filter core.Filter, opts core.FindOptions, qopts query.Options) (*core.Statement, error) {
	b := sqlbuilder.New()
	table := b.Ident(className)
	qopts.CaseInsensitive = opts.CaseInsensitive
	where, err := query.Build(b, s, filter, qopts)
	if err != nil {
		return nil, err
	}

	columns := projection(b, s.WithStorageFields(), opts.Keys, where.Text)

	var sb strings.Builder
	fmt.Fprintf(&sb, "SELECT %s FROM %s", columns, table)
	if where.Pattern != "" {
		sb.WriteString(" WHERE " + where.Pattern)
	}
	if order := orderBy(opts.Sort, where.Sorts); order != "" {
		sb.WriteString(" ORDER BY " + order)
	}
	if opts.Limit != nil {
		sb.WriteString(" LIMIT " + b.Arg(*opts.Limit))
	}
	if opts.Skip != nil {
		sb.WriteString(" OFFSET " + b.Arg(*opts.Skip))
	}

	sql := sb.String()
	if opts.Explain {
		sql = ExplainPrefix + sql
	}
	return &core.Statement{SQL: sql, Args: b.Args()}, nil
}

// projection renders the selected columns. ACL expands to the permission
// columns and unknown or Relation keys are dropped.
func projection(b *sqlbuilder.Builder, s *core.Schema, keys []string, text *query.TextSearch) string {
	if len(keys) == 0 {
		return "*"
	}
	var cols []string
	for _, key := range keys {
		switch {
		case key == "ACL":
			cols = append(cols, b.Ident("_rperm"), b.Ident("_wperm"))
		case key == ScoreKey:
			if text != nil {
				cols = append(cols, fmt.Sprintf("ts_rank_cd(to_tsvector(%s, %s), to_tsquery(%s, %s), 32) AS score",
					b.Arg(text.Language), schema.DotFieldText(text.Field), b.Arg(text.Language), b.Arg(text.Term)))
			}
		case key != "":
			if fd, ok := s.Field(key); ok && fd.Type != core.TypeRelation {
				cols = append(cols, b.Ident(key))
			}
		}
	}
	if len(cols) == 0 {
		return "*"
	}
	return sqlbuilder.Join(cols)
}

// orderBy renders the explicit sort, unless the filter implied one.
func orderBy(sort []core.SortKey, implied []string) string {
	if len(implied) > 0 {
		return sqlbuilder.Join(implied)
	}
	parts := make([]string, 0, len(sort))
	for _, k := range sort {
		dir := "ASC"
		if k.Descending {
			dir = "DESC"
		}
		parts = append(parts, schema.DotFieldJSON(k.Field)+" "+dir)
	}
	return sqlbuilder.Join(parts)
}

// DecodeRows converts rows into documents.
func DecodeRows(s *core.Schema, rows []core.Row) []core.Object {
	tr := schema.NewTranslator()
	out := make([]core.Object, 0, len(rows))
	for _, row := range rows {
		out = append(out, tr.RowToObject(s, row))
	}
	return out
}
