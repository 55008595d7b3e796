// Package mssql is the SQL Server storage backend.
package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	_ "github.com/microsoft/go-mssqldb"

	"ratewatch/internal/storage"
)

// maxParams keeps every statement under SQL Server's 2100 parameter limit.
const maxParams = 2000

const defaultPort = 1433

var dialect = storage.Dialect{Name: "mssql", Int: "INT", Decimal: "DECIMAL(20,6)", Text: "NVARCHAR(MAX)"}

type Repo struct {
	db *sql.DB
}

func init() {
	storage.Register("mssql", New)
}

// New connects with the "sqlserver" driver. With cfg.CreateDatabase the
// database is created through master first when it does not exist.
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	if cfg.CreateDatabase && cfg.DSN == "" && cfg.Database != "" {
		if err := createDatabase(ctx, cfg); err != nil {
			return nil, err
		}
	}

	dsn := cfg.DSN
	if dsn == "" {
		dsn = buildDSN(cfg, cfg.Database)
	}
	raw, err := sql.Open("sqlserver", dsn)
	if err != nil {
		return nil, err
	}
	raw.SetMaxOpenConns(8)
	raw.SetMaxIdleConns(8)
	if err := raw.PingContext(ctx); err != nil {
		_ = raw.Close()
		return nil, err
	}
	return &Repo{db: raw}, nil
}

// buildDSN renders a sqlserver:// URL for database.
func buildDSN(cfg storage.Config, database string) string {
	host := cfg.Host
	if host == "" {
		host = "localhost"
	}
	port := cfg.Port
	if port == 0 {
		port = defaultPort
	}
	u := url.URL{
		Scheme: "sqlserver",
		User:   url.UserPassword(cfg.User, cfg.Password),
		Host:   net.JoinHostPort(host, strconv.Itoa(port)),
	}
	q := url.Values{}
	if database != "" {
		q.Set("database", database)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func createDatabase(ctx context.Context, cfg storage.Config) error {
	db, err := sql.Open("sqlserver", buildDSN(cfg, "master"))
	if err != nil {
		return err
	}
	defer db.Close()
	if _, err := db.ExecContext(ctx, buildCreateDatabaseSQL(cfg.Database)); err != nil {
		return fmt.Errorf("mssql: create database %s: %w", cfg.Database, err)
	}
	return nil
}

func (r *Repo) Dialect() storage.Dialect { return dialect }

func (r *Repo) Close() {
	if r == nil || r.db == nil {
		return
	}
	_ = r.db.Close()
}

func (r *Repo) PrepareTable(ctx context.Context, spec storage.TableSpec, recreate bool) error {
	defs, err := buildCreateTableDefs(spec)
	if err != nil {
		return err
	}
	if recreate {
		if _, err := r.db.ExecContext(ctx, buildDropSQL(spec.Name)); err != nil {
			return fmt.Errorf("mssql: drop %s: %w", spec.Name, err)
		}
	}
	if _, err := r.db.ExecContext(ctx, wrapCreateIfMissing(spec.Name, defs)); err != nil {
		return fmt.Errorf("mssql: create %s: %w", spec.Name, err)
	}
	return nil
}

func (r *Repo) InsertRows(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	if table == "" {
		return 0, fmt.Errorf("mssql: table is empty")
	}
	if len(columns) == 0 {
		return 0, fmt.Errorf("mssql: columns is empty")
	}
	return storage.InsertChunks(ctx, r.db, table, columns, rows, maxParams, buildBulkInsertSQL)
}

func buildCreateDatabaseSQL(name string) string {
	return fmt.Sprintf("IF DB_ID(N'%s') IS NULL CREATE DATABASE %s;", strings.ReplaceAll(name, "'", "''"), mssqlIdent(name))
}

func buildDropSQL(table string) string {
	return fmt.Sprintf("IF OBJECT_ID(N'%s', N'U') IS NOT NULL DROP TABLE %s;",
		strings.ReplaceAll(table, "'", "''"), mssqlTableIdent(table))
}

// buildCreateTableDefs produces the "(...)" inner content for CREATE TABLE.
func buildCreateTableDefs(t storage.TableSpec) (string, error) {
	if strings.TrimSpace(t.Name) == "" {
		return "", fmt.Errorf("mssql: table name is empty")
	}
	var parts []string
	if t.PrimaryKey != nil {
		parts = append(parts, fmt.Sprintf("%s INT IDENTITY(1,1) PRIMARY KEY", mssqlIdent(t.PrimaryKey.Name)))
	}
	for _, c := range t.Columns {
		if strings.TrimSpace(c.Name) == "" {
			return "", fmt.Errorf("mssql: column name is empty")
		}
		if strings.TrimSpace(c.Type) == "" {
			return "", fmt.Errorf("mssql: column %s type is empty", c.Name)
		}
		parts = append(parts, mssqlIdent(c.Name)+" "+c.Type+" NULL")
	}
	return strings.Join(parts, ", "), nil
}

// wrapCreateIfMissing wraps a CREATE TABLE statement in an OBJECT_ID guard.
func wrapCreateIfMissing(tableName string, innerDefs string) string {
	return fmt.Sprintf(
		"IF OBJECT_ID(N'%s', N'U') IS NULL BEGIN CREATE TABLE %s (%s); END;",
		strings.ReplaceAll(tableName, "'", "''"),
		mssqlTableIdent(tableName),
		innerDefs,
	)
}

// buildBulkInsertSQL builds a single INSERT ... VALUES statement for all rows.
func buildBulkInsertSQL(table string, columns []string, rows [][]any) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(mssqlTableIdent(table))
	b.WriteString(" (")
	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(mssqlIdent(c))
	}
	b.WriteString(") VALUES ")
	b.WriteString(storage.PlaceholderRows(len(rows), len(columns), func(n int) string {
		return "@p" + strconv.Itoa(n)
	}))
	return b.String(), storage.FlattenArgs(rows)
}

// mssqlIdent returns a bracket-quoted identifier, escaping ']' as ']]'.
func mssqlIdent(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

// mssqlTableIdent quotes schema-qualified names:
//
//	"dbo.annuities" -> [dbo].[annuities]
func mssqlTableIdent(name string) string {
	parts := strings.Split(name, ".")
	for i := range parts {
		parts[i] = mssqlIdent(strings.TrimSpace(parts[i]))
	}
	return strings.Join(parts, ".")
}
