package storage

import (
	"context"
	"database/sql"
	"fmt"
)

// ChunkRows splits rows so no chunk binds more than maxParams values.
// A chunk always holds at least one row.
func ChunkRows(rows [][]any, width, maxParams int) [][][]any {
	if len(rows) == 0 {
		return nil
	}
	per := 1
	if width > 0 && maxParams > width {
		per = maxParams / width
	}
	out := make([][][]any, 0, (len(rows)+per-1)/per)
	for start := 0; start < len(rows); start += per {
		end := min(start+per, len(rows))
		out = append(out, rows[start:end])
	}
	return out
}

// InsertBuilder renders one multi-row INSERT for a chunk.
type InsertBuilder func(table string, columns []string, rows [][]any) (string, []any)

// InsertChunks runs build over each chunk of rows inside one transaction.
// Any failure rolls the whole batch back.
func InsertChunks(
	ctx context.Context,
	db *sql.DB,
	table string,
	columns []string,
	rows [][]any,
	maxParams int,
	build InsertBuilder,
) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var total int64
	for i, chunk := range ChunkRows(rows, len(columns), maxParams) {
		query, args := build(table, columns, chunk)
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return 0, fmt.Errorf("insert chunk %d into %s: %w", i+1, table, err)
		}
		if n, err := res.RowsAffected(); err == nil {
			total += n
		} else {
			total += int64(len(chunk))
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return total, nil
}

// PlaceholderRows writes "(?, ?), (?, ?)"-style value lists where ph
// renders the n-th (1-based) placeholder.
func PlaceholderRows(rows, width int, ph func(n int) string) string {
	var b []byte
	n := 1
	for i := 0; i < rows; i++ {
		if i > 0 {
			b = append(b, ", "...)
		}
		b = append(b, '(')
		for j := 0; j < width; j++ {
			if j > 0 {
				b = append(b, ", "...)
			}
			b = append(b, ph(n)...)
			n++
		}
		b = append(b, ')')
	}
	return string(b)
}

// FlattenArgs concatenates rows into one argument list.
func FlattenArgs(rows [][]any) []any {
	n := 0
	for _, r := range rows {
		n += len(r)
	}
	out := make([]any, 0, n)
	for _, r := range rows {
		out = append(out, r...)
	}
	return out
}
