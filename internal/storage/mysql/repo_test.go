package mysql

import (
	"testing"

	"ratewatch/internal/storage"
)

func TestBuildCreateTableSQL(t *testing.T) {
	got, err := buildCreateTableSQL(storage.TableSpec{
		Name:       "rates.annuities",
		PrimaryKey: &storage.PrimaryKeySpec{Name: "id"},
		Columns: []storage.ColumnSpec{
			{Name: "Min_Premium", Type: "INT"},
			{Name: "Current_Rate", Type: "DECIMAL(20,6)"},
			{Name: "Company`Product", Type: "TEXT"},
		},
	})
	if err != nil {
		t.Fatalf("buildCreateTableSQL: %v", err)
	}
	want := "CREATE TABLE IF NOT EXISTS `rates`.`annuities` (`id` INT AUTO_INCREMENT PRIMARY KEY, " +
		"`Min_Premium` INT, `Current_Rate` DECIMAL(20,6), `Company``Product` TEXT) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4"
	if got != want {
		t.Fatalf("unexpected DDL:\n got: %s\nwant: %s", got, want)
	}

	if _, err := buildCreateTableSQL(storage.TableSpec{Name: "t", Columns: []storage.ColumnSpec{{Name: "a"}}}); err == nil {
		t.Fatalf("expected error for column without type")
	}
}

func TestBuildInsertSQL(t *testing.T) {
	q, args := buildInsertSQL("annuities", []string{"a", "b"}, [][]any{{int64(1), "x"}, {nil, 2.5}})
	if q != "INSERT INTO `annuities` (`a`, `b`) VALUES (?, ?), (?, ?)" {
		t.Fatalf("unexpected sql: %s", q)
	}
	if len(args) != 4 || args[0] != int64(1) || args[2] != nil || args[3] != 2.5 {
		t.Fatalf("unexpected args: %#v", args)
	}
}

func TestBuildCreateDatabaseSQL(t *testing.T) {
	got := buildCreateDatabaseSQL("annuity_db")
	want := "CREATE DATABASE IF NOT EXISTS `annuity_db` CHARACTER SET utf8mb4 COLLATE utf8mb4_unicode_ci"
	if got != want {
		t.Fatalf("got %q", got)
	}
}

func TestDriverConfig(t *testing.T) {
	mc, err := driverConfig(storage.Config{User: "scraper", Password: "p@ss", Database: "annuity_db"})
	if err != nil {
		t.Fatalf("driverConfig: %v", err)
	}
	if mc.Addr != "localhost:3306" || mc.DBName != "annuity_db" || mc.Net != "tcp" {
		t.Fatalf("unexpected config: %+v", mc)
	}

	mc, err = driverConfig(storage.Config{DSN: "u:p@tcp(db:3307)/rates?parseTime=true"})
	if err != nil {
		t.Fatalf("driverConfig dsn: %v", err)
	}
	if mc.Addr != "db:3307" || mc.DBName != "rates" || !mc.ParseTime {
		t.Fatalf("unexpected parsed config: %+v", mc)
	}

	if _, err := driverConfig(storage.Config{DSN: "not a dsn"}); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestDialect(t *testing.T) {
	r := &Repo{}
	if r.Dialect().TypeFor(storage.KindDecimal) != "DECIMAL(20,6)" {
		t.Fatalf("decimal type: %s", r.Dialect().TypeFor(storage.KindDecimal))
	}
	if r.Dialect().TypeFor(storage.KindUnknown) != "TEXT" {
		t.Fatalf("fallback type: %s", r.Dialect().TypeFor(storage.KindUnknown))
	}
}
