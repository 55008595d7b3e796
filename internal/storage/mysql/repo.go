// Package mysql is the MySQL/MariaDB storage backend.
package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/go-sql-driver/mysql"

	"ratewatch/internal/storage"
)

// maxParams keeps each INSERT well under the server's 65535 placeholder cap.
const maxParams = 60000

const defaultPort = 3306

var dialect = storage.Dialect{Name: "mysql", Int: "INT", Decimal: "DECIMAL(20,6)", Text: "TEXT"}

type Repo struct {
	db *sql.DB
}

func init() {
	storage.Register("mysql", New)
}

// New connects to MySQL. With cfg.CreateDatabase the schema is created
// (utf8mb4) over a database-less connection before the real one opens.
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	mc, err := driverConfig(cfg)
	if err != nil {
		return nil, err
	}

	if cfg.CreateDatabase && mc.DBName != "" {
		if err := createDatabase(ctx, mc); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("mysql", mc.FormatDSN())
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(8)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Repo{db: db}, nil
}

// driverConfig parses cfg.DSN, or assembles one from the discrete fields.
func driverConfig(cfg storage.Config) (*mysql.Config, error) {
	if cfg.DSN != "" {
		mc, err := mysql.ParseDSN(cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("mysql: parse dsn: %w", err)
		}
		return mc, nil
	}
	host := cfg.Host
	if host == "" {
		host = "localhost"
	}
	port := cfg.Port
	if port == 0 {
		port = defaultPort
	}
	mc := mysql.NewConfig()
	mc.User = cfg.User
	mc.Passwd = cfg.Password
	mc.Net = "tcp"
	mc.Addr = net.JoinHostPort(host, strconv.Itoa(port))
	mc.DBName = cfg.Database
	mc.Params = map[string]string{"charset": "utf8mb4"}
	return mc, nil
}

func createDatabase(ctx context.Context, mc *mysql.Config) error {
	admin := mc.Clone()
	admin.DBName = ""
	db, err := sql.Open("mysql", admin.FormatDSN())
	if err != nil {
		return err
	}
	defer db.Close()
	if _, err := db.ExecContext(ctx, buildCreateDatabaseSQL(mc.DBName)); err != nil {
		return fmt.Errorf("mysql: create database %s: %w", mc.DBName, err)
	}
	return nil
}

func (r *Repo) Dialect() storage.Dialect { return dialect }

func (r *Repo) Close() { _ = r.db.Close() }

func (r *Repo) PrepareTable(ctx context.Context, spec storage.TableSpec, recreate bool) error {
	create, err := buildCreateTableSQL(spec)
	if err != nil {
		return err
	}
	if recreate {
		if _, err := r.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+tableIdent(spec.Name)); err != nil {
			return fmt.Errorf("mysql: drop %s: %w", spec.Name, err)
		}
	}
	if _, err := r.db.ExecContext(ctx, create); err != nil {
		return fmt.Errorf("mysql: create %s: %w", spec.Name, err)
	}
	return nil
}

func (r *Repo) InsertRows(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	if len(columns) == 0 {
		return 0, fmt.Errorf("mysql: columns is empty")
	}
	return storage.InsertChunks(ctx, r.db, table, columns, rows, maxParams, buildInsertSQL)
}

// ident backtick-quotes a name, doubling embedded backticks.
func ident(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

// tableIdent quotes each part of a db.table name.
func tableIdent(name string) string {
	parts := strings.Split(name, ".")
	for i := range parts {
		parts[i] = ident(strings.TrimSpace(parts[i]))
	}
	return strings.Join(parts, ".")
}

func buildCreateDatabaseSQL(name string) string {
	return fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s CHARACTER SET utf8mb4 COLLATE utf8mb4_unicode_ci", ident(name))
}

func buildCreateTableSQL(t storage.TableSpec) (string, error) {
	if strings.TrimSpace(t.Name) == "" {
		return "", fmt.Errorf("mysql: table name is empty")
	}
	var parts []string
	if t.PrimaryKey != nil {
		parts = append(parts, fmt.Sprintf("%s INT AUTO_INCREMENT PRIMARY KEY", ident(t.PrimaryKey.Name)))
	}
	for _, c := range t.Columns {
		if strings.TrimSpace(c.Name) == "" || strings.TrimSpace(c.Type) == "" {
			return "", fmt.Errorf("mysql: column name/type must be set")
		}
		parts = append(parts, ident(c.Name)+" "+c.Type)
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4",
		tableIdent(t.Name), strings.Join(parts, ", ")), nil
}

func buildInsertSQL(table string, columns []string, rows [][]any) (string, []any) {
	cols := make([]string, len(columns))
	for i, c := range columns {
		cols[i] = ident(c)
	}
	values := storage.PlaceholderRows(len(rows), len(columns), func(int) string { return "?" })
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES %s", tableIdent(table), strings.Join(cols, ", "), values),
		storage.FlattenArgs(rows)
}
