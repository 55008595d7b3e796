package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"ratewatch/internal/extracthtml"
	"ratewatch/internal/metrics"

	"dario.cat/mergo"
	"go.uber.org/zap"
)

// SaveOptions controls Save.
type SaveOptions struct {
	Table string
	// Columns fixes the column list and order. Empty means every field name
	// seen in the records, sorted.
	Columns []string
	// Overrides maps a column to a raw SQL type.
	Overrides map[string]string
	// Hints apply to columns with no inferable values. They are layered
	// over DefaultHints, replacing entries for the same column.
	Hints map[string]Kind
	// Recreate drops an existing table first.
	Recreate bool

	Logger  *zap.Logger
	Metrics metrics.Backend
}

// IDColumn is the auto-increment key every table gets.
const IDColumn = "id"

// Save writes recs into opts.Table through repo: it derives the columns,
// infers their types, prepares the table and bulk-inserts every record in
// one transaction. Zero records is a no-op.
func Save(ctx context.Context, repo Repository, recs []extracthtml.Record, opts SaveOptions) (int64, error) {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	m := metrics.OrNop(opts.Metrics)

	if len(recs) == 0 {
		log.Warn("no records to save", zap.String("table", opts.Table))
		return 0, nil
	}
	if strings.TrimSpace(opts.Table) == "" {
		return 0, errors.New("storage: table name is empty")
	}

	spec, err := BuildTableSpec(repo.Dialect(), recs, opts)
	if err != nil {
		return 0, err
	}
	if len(spec.Columns) == 0 {
		return 0, errors.New("storage: records have no fields")
	}

	start := time.Now()
	if err := repo.PrepareTable(ctx, spec, opts.Recreate); err != nil {
		metrics.RecordStep(m, "db_prepare", start, err)
		return 0, fmt.Errorf("prepare table %s: %w", spec.Name, err)
	}
	metrics.RecordStep(m, "db_prepare", start, nil)

	start = time.Now()
	n, err := repo.InsertRows(ctx, spec.Name, spec.ColumnNames(), BuildRows(spec, recs))
	metrics.RecordStep(m, "db_insert", start, err)
	if err != nil {
		return 0, fmt.Errorf("insert into %s: %w", spec.Name, err)
	}
	m.IncCounter(metrics.RowsInsertedTotal, float64(n), metrics.Labels{"backend": repo.Dialect().Name})

	log.Info("records saved",
		zap.String("backend", repo.Dialect().Name),
		zap.String("table", spec.Name),
		zap.Int("columns", len(spec.Columns)),
		zap.Int64("rows", n),
		zap.Duration("elapsed", time.Since(start)))
	return n, nil
}

// BuildTableSpec derives the table definition Save would use.
func BuildTableSpec(d Dialect, recs []extracthtml.Record, opts SaveOptions) (TableSpec, error) {
	cols := opts.Columns
	if len(cols) == 0 {
		cols = UnionColumns(recs)
	}
	hints := DefaultHints()
	if len(opts.Hints) > 0 {
		if err := mergo.Merge(&hints, opts.Hints, mergo.WithOverride); err != nil {
			return TableSpec{}, fmt.Errorf("merge type hints: %w", err)
		}
	}
	return TableSpec{
		Name:       opts.Table,
		PrimaryKey: &PrimaryKeySpec{Name: IDColumn},
		Columns:    ResolveColumns(d, cols, recs, opts.Overrides, hints),
	}, nil
}

// UnionColumns returns every field name in recs, sorted. A field named like
// the id column is left out.
func UnionColumns(recs []extracthtml.Record) []string {
	seen := map[string]bool{}
	for _, r := range recs {
		for _, f := range r.Fields {
			if !strings.EqualFold(f.Name, IDColumn) {
				seen[f.Name] = true
			}
		}
	}
	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
