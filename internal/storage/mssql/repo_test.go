package mssql

import (
	"strings"
	"testing"

	"ratewatch/internal/storage"
)

func TestWrapCreateIfMissing(t *testing.T) {
	defs, err := buildCreateTableDefs(storage.TableSpec{
		Name:       "dbo.annuities",
		PrimaryKey: &storage.PrimaryKeySpec{Name: "id"},
		Columns: []storage.ColumnSpec{
			{Name: "Current_Rate", Type: "DECIMAL(20,6)"},
			{Name: "Company]Product", Type: "NVARCHAR(MAX)"},
		},
	})
	if err != nil {
		t.Fatalf("buildCreateTableDefs: %v", err)
	}
	got := wrapCreateIfMissing("dbo.annuities", defs)
	want := "IF OBJECT_ID(N'dbo.annuities', N'U') IS NULL BEGIN CREATE TABLE [dbo].[annuities] (" +
		"[id] INT IDENTITY(1,1) PRIMARY KEY, [Current_Rate] DECIMAL(20,6) NULL, [Company]]Product] NVARCHAR(MAX) NULL); END;"
	if got != want {
		t.Fatalf("unexpected DDL:\n got: %s\nwant: %s", got, want)
	}
}

func TestBuildCreateTableDefs_Errors(t *testing.T) {
	if _, err := buildCreateTableDefs(storage.TableSpec{}); err == nil {
		t.Fatalf("expected error for empty table name")
	}
	if _, err := buildCreateTableDefs(storage.TableSpec{Name: "t", Columns: []storage.ColumnSpec{{Name: "a"}}}); err == nil {
		t.Fatalf("expected error for empty column type")
	}
}

func TestBuildDropAndCreateDatabaseSQL(t *testing.T) {
	if got := buildDropSQL("annuities"); got != "IF OBJECT_ID(N'annuities', N'U') IS NOT NULL DROP TABLE [annuities];" {
		t.Fatalf("drop: %s", got)
	}
	if got := buildCreateDatabaseSQL("annuity_db"); got != "IF DB_ID(N'annuity_db') IS NULL CREATE DATABASE [annuity_db];" {
		t.Fatalf("create db: %s", got)
	}
}

func TestBuildBulkInsertSQL(t *testing.T) {
	q, args := buildBulkInsertSQL("annuities", []string{"a", "b"}, [][]any{{1, "x"}, {2, "y"}})
	want := "INSERT INTO [annuities] ([a], [b]) VALUES (@p1, @p2), (@p3, @p4)"
	if q != want {
		t.Fatalf("unexpected sql:\n got: %s\nwant: %s", q, want)
	}
	if len(args) != 4 || args[3] != "y" {
		t.Fatalf("unexpected args: %#v", args)
	}
}

func TestChunksStayUnderParameterLimit(t *testing.T) {
	cols := make([]string, 13)
	rows := make([][]any, 500)
	for i := range rows {
		rows[i] = make([]any, len(cols))
	}
	for _, chunk := range storage.ChunkRows(rows, len(cols), maxParams) {
		_, args := buildBulkInsertSQL("t", cols, chunk)
		if len(args) > maxParams {
			t.Fatalf("chunk binds %d params", len(args))
		}
	}
}

func TestBuildDSN(t *testing.T) {
	got := buildDSN(storage.Config{Host: "db", User: "sa", Password: "p@ss"}, "annuity_db")
	if !strings.HasPrefix(got, "sqlserver://sa:p%40ss@db:1433") {
		t.Fatalf("unexpected dsn: %s", got)
	}
	if !strings.HasSuffix(got, "?database=annuity_db") {
		t.Fatalf("missing database: %s", got)
	}
}
