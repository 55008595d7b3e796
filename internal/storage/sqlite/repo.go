// Package sqlite is the SQLite storage backend (pure Go, modernc.org/sqlite).
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"ratewatch/internal/storage"
)

// maxParams stays under SQLite's historical default bound-variable limit.
const maxParams = 999

var dialect = storage.Dialect{Name: "sqlite", Int: "INTEGER", Decimal: "REAL", Text: "TEXT"}

type Repo struct {
	db *sql.DB
}

func init() {
	storage.Register("sqlite", New)
}

// New opens the database file named by cfg.DSN, or cfg.Database when DSN is
// empty. ":memory:" gives a private in-memory database.
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	dsn := cfg.DSN
	if dsn == "" {
		dsn = cfg.Database
	}
	if dsn == "" {
		return nil, fmt.Errorf("sqlite: database path is empty")
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// One connection keeps ":memory:" a single database.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Repo{db: db}, nil
}

func (r *Repo) Dialect() storage.Dialect { return dialect }

func (r *Repo) Close() { _ = r.db.Close() }

func (r *Repo) PrepareTable(ctx context.Context, spec storage.TableSpec, recreate bool) error {
	create, err := buildCreateTableSQL(spec)
	if err != nil {
		return err
	}
	if recreate {
		if _, err := r.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+sqlIdent(spec.Name)); err != nil {
			return fmt.Errorf("sqlite: drop %s: %w", spec.Name, err)
		}
	}
	if _, err := r.db.ExecContext(ctx, create); err != nil {
		return fmt.Errorf("sqlite: create %s: %w", spec.Name, err)
	}
	return nil
}

func (r *Repo) InsertRows(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	if len(columns) == 0 {
		return 0, fmt.Errorf("sqlite: columns is empty")
	}
	return storage.InsertChunks(ctx, r.db, table, columns, rows, maxParams, buildInsertSQL)
}

func sqlIdent(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

func buildCreateTableSQL(t storage.TableSpec) (string, error) {
	if strings.TrimSpace(t.Name) == "" {
		return "", fmt.Errorf("sqlite: table name is empty")
	}
	var parts []string
	if t.PrimaryKey != nil {
		parts = append(parts, fmt.Sprintf("%s INTEGER PRIMARY KEY AUTOINCREMENT", sqlIdent(t.PrimaryKey.Name)))
	}
	for _, c := range t.Columns {
		if strings.TrimSpace(c.Name) == "" {
			return "", fmt.Errorf("sqlite: column name is empty")
		}
		parts = append(parts, fmt.Sprintf("%s %s", sqlIdent(c.Name), c.Type))
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n  %s\n);", sqlIdent(t.Name), strings.Join(parts, ",\n  ")), nil
}

func buildInsertSQL(table string, columns []string, rows [][]any) (string, []any) {
	cols := make([]string, len(columns))
	for i, c := range columns {
		cols[i] = sqlIdent(c)
	}
	values := storage.PlaceholderRows(len(rows), len(columns), func(int) string { return "?" })
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES %s", sqlIdent(table), strings.Join(cols, ", "), values),
		storage.FlattenArgs(rows)
}
