package main

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// ratePage renders a portal-shaped page: a header row of blank cells and one
// 14-column row per product.
func ratePage(products ...[2]string) string {
	var b strings.Builder
	b.WriteString("<html><body><table><tr>")
	for i := 0; i < 14; i++ {
		b.WriteString("<th></th>")
	}
	b.WriteString("</tr>")
	for _, p := range products {
		cells := []string{"", p[0], "A", "85", "10,000", "5", "10%", "01/02", "0%", p[1], "4.00", "5", "4.50", "1.5%"}
		b.WriteString("<tr>")
		for _, c := range cells {
			fmt.Fprintf(&b, "<td>%s</td>", c)
		}
		b.WriteString("</tr>")
	}
	b.WriteString("</table></body></html>")
	return b.String()
}

func writePages(t *testing.T, pages ...string) string {
	t.Helper()
	dir := t.TempDir()
	for i, p := range pages {
		name := filepath.Join(dir, fmt.Sprintf("page-%d.html", i+1))
		if err := os.WriteFile(name, []byte(p), 0o600); err != nil {
			t.Fatalf("write page: %v", err)
		}
	}
	return dir
}

func runCLI(t *testing.T, stdin string, args ...string) (code int, stdout, stderr string) {
	t.Helper()
	var out, errb bytes.Buffer
	code = run(context.Background(), args, strings.NewReader(stdin), &out, &errb)
	return code, out.String(), errb.String()
}

func countRows(t *testing.T, path, query string) int {
	t.Helper()
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	defer db.Close()
	var n int
	if err := db.QueryRow(query).Scan(&n); err != nil {
		t.Fatalf("query %q: %v", query, err)
	}
	return n
}

func TestScrape_ReplayToCSVAndSQLite(t *testing.T) {
	dir := writePages(t,
		ratePage([2]string{"Acme 5", "4.10"}, [2]string{"Beta 7", "4.20"}),
		ratePage([2]string{"Gamma 3", "3.90"}, [2]string{"Acme 5", "4.10"}),
	)
	tmp := t.TempDir()
	outPath := filepath.Join(tmp, "rates.csv")
	dbPath := filepath.Join(tmp, "rates.db")

	code, _, stderr := runCLI(t, "",
		"scrape",
		"--replay-dir", dir,
		"--delay", "0",
		"--output", outPath,
		"--db-kind", "sqlite",
		"--db-name", dbPath,
		"--log-level", "error",
	)
	if code != 0 {
		t.Fatalf("exit %d; stderr=%s", code, stderr)
	}

	f, err := os.Open(outPath)
	if err != nil {
		t.Fatalf("open output: %v", err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(rows) != 4 {
		t.Fatalf("want header + 3 records (duplicate removed), got %d rows", len(rows))
	}
	if rows[0][0] != "Company_Product_Name" || rows[1][0] != "Acme 5" || rows[3][0] != "Gamma 3" {
		t.Fatalf("unexpected csv: %v", rows)
	}

	if n := countRows(t, dbPath, `SELECT COUNT(*) FROM "annuities"`); n != 3 {
		t.Fatalf("rows in db = %d, want 3", n)
	}
	if n := countRows(t, dbPath, `SELECT COUNT(*) FROM "annuities" WHERE typeof("Current_Rate") = 'real'`); n != 3 {
		t.Fatalf("Current_Rate stored as real in %d rows, want 3", n)
	}
	for _, want := range []string{"pages visited", "duplicates removed", "empty"} {
		if !strings.Contains(stderr, want) {
			t.Fatalf("summary missing %q:\n%s", want, stderr)
		}
	}
}

func TestScrape_CancelledCrawlStillSavesToSQLite(t *testing.T) {
	dir := writePages(t, ratePage([2]string{"Acme 5", "4.10"}, [2]string{"Beta 7", "4.20"}))
	dbPath := filepath.Join(t.TempDir(), "rates.db")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	// Page 1 is collected, then the crawl sits in its politeness delay.
	timer := time.AfterFunc(500*time.Millisecond, cancel)
	defer timer.Stop()

	var out, errb bytes.Buffer
	code := run(ctx, []string{
		"scrape",
		"--replay-dir", dir,
		"--delay", "30s",
		"--db-kind", "sqlite",
		"--db-name", dbPath,
		"--log-level", "error",
	}, strings.NewReader(""), &out, &errb)
	if code != 1 {
		t.Fatalf("exit %d, want 1; stderr=%s", code, errb.String())
	}
	if !strings.Contains(errb.String(), "context canceled") {
		t.Fatalf("stderr does not report the cancellation: %s", errb.String())
	}
	if n := countRows(t, dbPath, `SELECT COUNT(*) FROM "annuities"`); n != 2 {
		t.Fatalf("rows in db = %d, want 2", n)
	}
}

func TestScrape_ReplayJSONToStdoutStopsOnRepeatedPage(t *testing.T) {
	page := ratePage([2]string{"Acme 5", "4.10"}, [2]string{"Beta 7", "4.20"})
	dir := writePages(t, page, page, page)

	code, stdout, stderr := runCLI(t, "",
		"scrape", "--replay-dir", dir, "--delay", "0", "--output", "-", "--log-level", "error")
	if code != 0 {
		t.Fatalf("exit %d; stderr=%s", code, stderr)
	}

	var got []map[string]any
	if err := json.Unmarshal([]byte(stdout), &got); err != nil {
		t.Fatalf("stdout is not json: %v; out=%s", err, stdout)
	}
	if len(got) != 2 {
		t.Fatalf("got %d records, want 2", len(got))
	}
	if got[1]["Current_Rate"] != "4.20" {
		t.Fatalf("unexpected record: %#v", got[1])
	}
	if !strings.Contains(stderr, "duplicate") {
		t.Fatalf("expected duplicate stop in summary:\n%s", stderr)
	}
}

const portalLoginForm = `<html><body><form method="post" action="/login.do">
<input type="hidden" name="token" value="t1">
<input type="text" name="username"><input type="password" name="userpass">
<input type="submit" name="doLogin" value="Log in"></form></body></html>`

func portal(t *testing.T, pages map[string]string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/rates.htm", func(w http.ResponseWriter, r *http.Request) {
		if c, err := r.Cookie("sid"); err != nil || c.Value != "ok" {
			fmt.Fprint(w, portalLoginForm)
			return
		}
		n := r.URL.Query().Get("pageNo")
		if n == "" {
			n = "1"
		}
		if html, ok := pages[n]; ok {
			fmt.Fprint(w, html)
			return
		}
		fmt.Fprint(w, "<html><body><p>No results</p></body></html>")
	})
	mux.HandleFunc("/login.do", func(w http.ResponseWriter, r *http.Request) {
		if r.FormValue("username") != "jdoe" || r.FormValue("userpass") != "secret" || r.FormValue("token") != "t1" {
			fmt.Fprint(w, portalLoginForm)
			return
		}
		http.SetCookie(w, &http.Cookie{Name: "sid", Value: "ok", Path: "/"})
		http.Redirect(w, r, "/rates.htm", http.StatusFound)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestScrape_HTTPDriverAgainstPortal(t *testing.T) {
	srv := portal(t, map[string]string{
		"1": ratePage([2]string{"Acme 5", "4.10"}),
		"2": ratePage([2]string{"Beta 7", "4.20"}),
	})
	t.Setenv("ARW_BASE_URL", srv.URL+"/rates.htm")
	t.Setenv("ARW_USERNAME", "jdoe")
	t.Setenv("ARW_PASSWORD", "secret")
	t.Setenv("DB_TYPE", "")

	out := filepath.Join(t.TempDir(), "out", "rates.json")
	code, _, stderr := runCLI(t, "",
		"scrape", "--driver", "http", "--delay", "0", "--output", out, "--log-level", "error")
	if code != 0 {
		t.Fatalf("exit %d; stderr=%s", code, stderr)
	}

	b, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	var got []map[string]any
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatalf("output is not json: %v", err)
	}
	if len(got) != 2 || got[0]["Company_Product_Name"] != "Acme 5" || got[1]["Company_Product_Name"] != "Beta 7" {
		t.Fatalf("unexpected records: %#v", got)
	}
}

func TestScrape_LoginFailureExitsOne(t *testing.T) {
	srv := portal(t, nil)
	t.Setenv("ARW_BASE_URL", srv.URL+"/rates.htm")
	t.Setenv("ARW_USERNAME", "jdoe")
	t.Setenv("ARW_PASSWORD", "wrong")
	t.Setenv("DB_TYPE", "")

	code, _, stderr := runCLI(t, "",
		"scrape", "--delay", "0", "--output", filepath.Join(t.TempDir(), "x.json"), "--log-level", "error")
	if code != 1 {
		t.Fatalf("exit %d, want 1; stderr=%s", code, stderr)
	}
	if !strings.Contains(stderr, "authentication failed") {
		t.Fatalf("stderr missing auth error: %s", stderr)
	}
}

func TestScrape_MissingCredentialsExitsTwo(t *testing.T) {
	t.Setenv("ARW_USERNAME", "")
	t.Setenv("ARW_PASSWORD", "")

	code, _, stderr := runCLI(t, "", "scrape", "--log-level", "error")
	if code != 2 {
		t.Fatalf("exit %d, want 2; stderr=%s", code, stderr)
	}
	if !strings.Contains(stderr, "site.username") {
		t.Fatalf("stderr missing validation issue: %s", stderr)
	}
}

func TestScrape_UsageErrors(t *testing.T) {
	t.Parallel()

	dir := writePages(t)
	tests := []struct {
		name string
		args []string
	}{
		{"bad start page", []string{"scrape", "--replay-dir", dir, "--start-page", "0"}},
		{"bad delay", []string{"scrape", "--replay-dir", dir, "--delay", "soon"}},
		{"bad driver", []string{"scrape", "--replay-dir", dir, "--driver", "curl"}},
		{"unknown flag", []string{"scrape", "--nope"}},
		{"unknown command", []string{"crawl"}},
		{"missing config file", []string{"scrape", "--config", filepath.Join(dir, "missing.yaml")}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			code, _, stderr := runCLI(t, "", tt.args...)
			if code != 2 {
				t.Fatalf("exit %d, want 2; stderr=%s", code, stderr)
			}
		})
	}
}

func TestExtract_Modes(t *testing.T) {
	t.Parallel()

	page := ratePage([2]string{"Acme 5", "4.10"}, [2]string{"Beta 7", "4.20"})

	t.Run("mapped", func(t *testing.T) {
		t.Parallel()
		code, stdout, stderr := runCLI(t, page, "extract")
		if code != 0 {
			t.Fatalf("exit %d; stderr=%s", code, stderr)
		}
		var got []map[string]any
		if err := json.Unmarshal([]byte(stdout), &got); err != nil {
			t.Fatalf("not json: %v", err)
		}
		if len(got) != 2 || got[0]["Company_Product_Name"] != "Acme 5" || got[0]["Current_Rate"] != "4.10" {
			t.Fatalf("unexpected records: %#v", got)
		}
		if _, ok := got[0]["Column_1"]; ok {
			t.Fatalf("Column_1 should not be mapped: %#v", got[0])
		}
	})

	t.Run("raw", func(t *testing.T) {
		t.Parallel()
		code, stdout, _ := runCLI(t, page, "extract", "--raw")
		if code != 0 {
			t.Fatalf("exit %d", code)
		}
		if !strings.Contains(stdout, `"Column_2": "Acme 5"`) {
			t.Fatalf("raw output missing Column_2: %s", stdout)
		}
	})

	t.Run("tables", func(t *testing.T) {
		t.Parallel()
		code, stdout, _ := runCLI(t, page, "extract", "--tables")
		if code != 0 {
			t.Fatalf("exit %d", code)
		}
		if !strings.Contains(stdout, "*") || !strings.Contains(stdout, "headers: Column_1") {
			t.Fatalf("unexpected table description: %s", stdout)
		}
	})

	t.Run("selector text", func(t *testing.T) {
		t.Parallel()
		code, stdout, _ := runCLI(t, `<p class="x"> hi </p>`, "extract", "--selector", "p.x", "--text")
		if code != 0 {
			t.Fatalf("exit %d", code)
		}
		if strings.TrimSpace(stdout) != "hi" {
			t.Fatalf("got %q", stdout)
		}
	})

	t.Run("file", func(t *testing.T) {
		t.Parallel()
		dir := writePages(t, page)
		code, stdout, _ := runCLI(t, "", "extract", "--file", filepath.Join(dir, "page-1.html"))
		if code != 0 || !strings.Contains(stdout, "Beta 7") {
			t.Fatalf("exit %d; out=%s", code, stdout)
		}
	})

	t.Run("url and file", func(t *testing.T) {
		t.Parallel()
		code, _, _ := runCLI(t, "", "extract", "--url", "http://x", "--file", "y")
		if code != 2 {
			t.Fatalf("exit %d, want 2", code)
		}
	})
}

func TestLoad_CSVIntoSQLite(t *testing.T) {
	t.Setenv("DB_TYPE", "")

	tmp := t.TempDir()
	in := filepath.Join(tmp, "rates.csv")
	csvData := "Company_Product_Name,Current_Rate,Min_Premium\nAcme 5,4.10,\"10,000\"\nBeta 7,N/A,5000\n"
	if err := os.WriteFile(in, []byte(csvData), 0o600); err != nil {
		t.Fatalf("write input: %v", err)
	}
	dbPath := filepath.Join(tmp, "rates.db")

	code, stdout, stderr := runCLI(t, "",
		"load", "--input", in, "--db-kind", "sqlite", "--db-name", dbPath, "--db-table", "rates", "--log-level", "error")
	if code != 0 {
		t.Fatalf("exit %d; stderr=%s", code, stderr)
	}
	if strings.TrimSpace(stdout) != "saved 2 rows into sqlite:rates" {
		t.Fatalf("unexpected stdout: %q", stdout)
	}
	if n := countRows(t, dbPath, `SELECT SUM("Min_Premium") FROM "rates"`); n != 15000 {
		t.Fatalf("sum of Min_Premium = %d, want 15000", n)
	}
	if n := countRows(t, dbPath, `SELECT COUNT(*) FROM "rates" WHERE "Current_Rate" IS NULL`); n != 1 {
		t.Fatalf("null Current_Rate rows = %d, want 1", n)
	}
}

func TestLoad_UsageErrors(t *testing.T) {
	t.Setenv("DB_TYPE", "")

	in := filepath.Join(t.TempDir(), "r.json")
	if err := os.WriteFile(in, []byte(`[]`), 0o600); err != nil {
		t.Fatal(err)
	}
	for _, args := range [][]string{
		{"load"},
		{"load", "--input", in},
		{"load", "--input", in, "--db-kind", "oracle"},
	} {
		code, _, stderr := runCLI(t, "", args...)
		if code != 2 {
			t.Fatalf("%v: exit %d, want 2; stderr=%s", args, code, stderr)
		}
	}
}
