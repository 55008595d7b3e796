// Package postgres is the PostgreSQL storage backend (pgx).
package postgres

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"ratewatch/internal/storage"
)

const defaultPort = 5432

var dialect = storage.Dialect{Name: "postgres", Int: "INTEGER", Decimal: "NUMERIC(20,6)", Text: "TEXT"}

// Repo writes through a pgx pool; inserts use COPY.
type Repo struct {
	pool *pgxpool.Pool
}

func init() {
	storage.Register("postgres", New)
}

// New creates the pool. Connection errors surface on first use.
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	dsn := cfg.DSN
	if dsn == "" {
		dsn = buildDSN(cfg)
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Repo{pool: pool}, nil
}

func buildDSN(cfg storage.Config) string {
	host := cfg.Host
	if host == "" {
		host = "localhost"
	}
	port := cfg.Port
	if port == 0 {
		port = defaultPort
	}
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(cfg.User, cfg.Password),
		Host:   net.JoinHostPort(host, strconv.Itoa(port)),
		Path:   "/" + cfg.Database,
	}
	return u.String()
}

func (r *Repo) Dialect() storage.Dialect { return dialect }

func (r *Repo) Close() {
	r.pool.Close()
}

func (r *Repo) PrepareTable(ctx context.Context, spec storage.TableSpec, recreate bool) error {
	schemaSQL, createSQL, err := buildCreateSQL(spec)
	if err != nil {
		return err
	}
	if schemaSQL != "" {
		if _, err := r.pool.Exec(ctx, schemaSQL); err != nil {
			return fmt.Errorf("create schema for %s: %w", spec.Name, err)
		}
	}
	if recreate {
		if _, err := r.pool.Exec(ctx, "DROP TABLE IF EXISTS "+qualifiedIdent(spec.Name)); err != nil {
			return fmt.Errorf("drop table %s: %w", spec.Name, err)
		}
	}
	if _, err := r.pool.Exec(ctx, createSQL); err != nil {
		return fmt.Errorf("create table %s: %w", spec.Name, err)
	}
	return nil
}

// InsertRows streams rows with COPY inside one transaction.
func (r *Repo) InsertRows(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if len(columns) == 0 {
		return 0, fmt.Errorf("postgres: columns is empty")
	}
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	n, err := tx.CopyFrom(ctx, copyTarget(table), columns, pgx.CopyFromRows(rows))
	if err != nil {
		return 0, fmt.Errorf("copy into %s: %w", table, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return n, nil
}

func copyTarget(table string) pgx.Identifier {
	schema, name := splitQualifiedName(table)
	if schema == "" {
		return pgx.Identifier{name}
	}
	return pgx.Identifier{schema, name}
}

func pgIdent(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

func qualifiedIdent(name string) string {
	return copyTarget(name).Sanitize()
}

// splitQualifiedName splits "schema.table". Anything but a single dot is
// treated as unqualified.
func splitQualifiedName(name string) (schema string, table string) {
	name = strings.TrimSpace(name)
	parts := strings.Split(name, ".")
	if len(parts) != 2 {
		return "", name
	}
	return strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
}

// buildColumnDef renders a single nullable column definition.
func buildColumnDef(c storage.ColumnSpec) (string, error) {
	name := strings.TrimSpace(c.Name)
	typ := strings.TrimSpace(c.Type)
	if name == "" || typ == "" {
		return "", fmt.Errorf("column name/type must be set")
	}
	return pgIdent(name) + " " + typ, nil
}

func buildCreateSQL(t storage.TableSpec) (schemaSQL, createSQL string, err error) {
	if strings.TrimSpace(t.Name) == "" {
		return "", "", fmt.Errorf("table name is empty")
	}
	if schema, _ := splitQualifiedName(t.Name); schema != "" {
		schemaSQL = "CREATE SCHEMA IF NOT EXISTS " + pgIdent(schema)
	}

	var defs []string
	if t.PrimaryKey != nil {
		defs = append(defs, pgIdent(t.PrimaryKey.Name)+" SERIAL PRIMARY KEY")
	}
	for _, c := range t.Columns {
		def, err := buildColumnDef(c)
		if err != nil {
			return "", "", fmt.Errorf("table %s: %w", t.Name, err)
		}
		defs = append(defs, def)
	}
	createSQL = fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n  %s\n)", qualifiedIdent(t.Name), strings.Join(defs, ",\n  "))
	return schemaSQL, createSQL, nil
}
