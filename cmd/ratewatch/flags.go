package main

import (
	"fmt"
	"io"

	"ratewatch/internal/config"

	"github.com/spf13/cobra"
)

// configFlags locate the layered config.
type configFlags struct {
	path    string
	envFile string
}

func (f *configFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.path, "config", "", "config file (.json, .json5, .yaml); <name>.local.<ext> is merged over it")
	cmd.Flags().StringVar(&f.envFile, "env-file", "", "dotenv file (default .env when present)")
}

func (f *configFlags) load() (config.Config, error) {
	cfg, err := config.Load(f.path, f.envFile)
	if err != nil {
		return cfg, usageError(err)
	}
	return cfg, nil
}

type logFlags struct {
	level string
	file  string
}

func (f *logFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.level, "log-level", "", "debug, info, warn or error")
	cmd.Flags().StringVar(&f.file, "log-file", "", "also write logs to this rotated file")
}

func (f *logFlags) apply(cmd *cobra.Command, l *config.Log) {
	if cmd.Flags().Changed("log-level") {
		l.Level = f.level
	}
	if cmd.Flags().Changed("log-file") {
		l.File = f.file
	}
}

// dbFlags are shared by scrape and load.
type dbFlags struct {
	kind       string
	dsn        string
	host       string
	port       int
	user       string
	password   string
	name       string
	table      string
	noRecreate bool
}

func (f *dbFlags) register(cmd *cobra.Command) {
	fl := cmd.Flags()
	fl.StringVar(&f.kind, "db-kind", "", "mysql, mssql, postgres or sqlite; empty skips the database")
	fl.StringVar(&f.dsn, "db-dsn", "", "driver DSN; overrides host, port, user, password and name")
	fl.StringVar(&f.host, "db-host", "", "database host")
	fl.IntVar(&f.port, "db-port", 0, "database port")
	fl.StringVar(&f.user, "db-user", "", "database user")
	fl.StringVar(&f.password, "db-password", "", "database password")
	fl.StringVar(&f.name, "db-name", "", "database name (file path for sqlite)")
	fl.StringVar(&f.table, "db-table", "", "target table")
	fl.BoolVar(&f.noRecreate, "no-recreate", false, "append to an existing table instead of dropping it")
}

func (f *dbFlags) apply(cmd *cobra.Command, db *config.DB) {
	fl := cmd.Flags()
	if fl.Changed("db-kind") {
		db.Kind = f.kind
	}
	if fl.Changed("db-dsn") {
		db.DSN = f.dsn
	}
	if fl.Changed("db-host") {
		db.Host = f.host
	}
	if fl.Changed("db-port") {
		db.Port = f.port
	}
	if fl.Changed("db-user") {
		db.User = f.user
	}
	if fl.Changed("db-password") {
		db.Password = f.password
	}
	if fl.Changed("db-name") {
		db.Database = f.name
	}
	if fl.Changed("db-table") {
		db.Table = f.table
	}
	if fl.Changed("no-recreate") {
		recreate := !f.noRecreate
		db.Recreate = &recreate
	}
}

// checkIssues prints every issue and fails on errors.
func checkIssues(w io.Writer, issues []config.Issue) error {
	for _, iss := range issues {
		fmt.Fprintln(w, iss.String())
	}
	if config.HasErrors(issues) {
		return usageError(fmt.Errorf("configuration is invalid"))
	}
	return nil
}
