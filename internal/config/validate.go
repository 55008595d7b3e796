package config

import (
	"fmt"
	"net/url"
	"strings"

	"ratewatch/internal/logging"
	"ratewatch/internal/storage"
)

type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue is one validation finding. Path uses the config file's key names.
type Issue struct {
	Severity Severity
	Path     string
	Message  string
}

func (i Issue) String() string {
	return fmt.Sprintf("%s: %s: %s", i.Severity, i.Path, i.Message)
}

// HasErrors reports whether any issue is an error.
func HasErrors(issues []Issue) bool {
	for _, i := range issues {
		if i.Severity == SeverityError {
			return true
		}
	}
	return false
}

// Validate checks cfg for a scrape run. It never mutates cfg.
func Validate(cfg Config) []Issue {
	var out []Issue
	add := func(sev Severity, path, format string, args ...any) {
		out = append(out, Issue{Severity: sev, Path: path, Message: fmt.Sprintf(format, args...)})
	}

	replay := cfg.Crawl.ReplayDir != ""
	if !replay {
		if cfg.Site.Username == "" {
			add(SeverityError, "site.username", "required (set ARW_USERNAME)")
		}
		if cfg.Site.Password == "" {
			add(SeverityError, "site.password", "required (set ARW_PASSWORD)")
		}
		if u, err := url.Parse(cfg.Site.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
			add(SeverityError, "site.base_url", "must be an absolute URL, got %q", cfg.Site.BaseURL)
		}
	}
	if cfg.Site.Timeout.Duration <= 0 {
		add(SeverityWarning, "site.timeout", "non-positive timeout disables request deadlines")
	}

	switch cfg.Crawl.Driver {
	case "http", "browser":
	default:
		add(SeverityError, "crawl.driver", "must be http or browser, got %q", cfg.Crawl.Driver)
	}
	if cfg.Crawl.StartPage < 1 {
		add(SeverityError, "crawl.start_page", "must be >= 1")
	}
	if cfg.Crawl.MaxPages < 0 {
		add(SeverityError, "crawl.max_pages", "must be >= 0 (0 = unbounded)")
	}
	if cfg.Crawl.Delay.Duration < 0 {
		add(SeverityError, "crawl.delay", "must not be negative")
	}
	if cfg.Crawl.Delay.Duration == 0 && !replay {
		add(SeverityWarning, "crawl.delay", "zero politeness delay against a live site")
	}
	if cfg.Crawl.MaxConsecutiveEmpty < 1 {
		add(SeverityError, "crawl.max_consecutive_empty", "must be >= 1")
	}
	if cfg.Crawl.MaxConsecutiveErrors < 1 {
		add(SeverityError, "crawl.max_consecutive_errors", "must be >= 1")
	}
	if cfg.Crawl.Retries < 0 {
		add(SeverityError, "crawl.retries", "must be >= 0")
	}
	switch cfg.Crawl.Signature {
	case "sample", "digest":
	default:
		add(SeverityError, "crawl.signature", "must be sample or digest, got %q", cfg.Crawl.Signature)
	}

	switch strings.ToLower(cfg.Output.Format) {
	case "", "json", "csv":
	default:
		add(SeverityError, "output.format", "must be json or csv, got %q", cfg.Output.Format)
	}
	if cfg.Output.File == "" && cfg.DB.Kind == "" {
		add(SeverityWarning, "output.file", "no file output and no database: results are discarded")
	}

	switch cfg.DB.Kind {
	case "", "mysql", "mssql", "postgres", "sqlite":
	default:
		add(SeverityError, "db.kind", "must be one of mysql, mssql, postgres, sqlite, got %q", cfg.DB.Kind)
	}
	if cfg.DB.Kind != "" && cfg.DB.Table == "" {
		add(SeverityError, "db.table", "required when db.kind is set")
	}
	if cfg.DB.Kind == "sqlite" && cfg.DB.DSN == "" && cfg.DB.Database == "" {
		add(SeverityError, "db.database", "sqlite needs a file path (db.database or SQLITE_PATH)")
	}
	for col, typ := range cfg.DB.TypeOverrides {
		if strings.TrimSpace(typ) == "" {
			add(SeverityError, "db.type_overrides."+col, "empty SQL type")
		}
	}
	for col, kind := range cfg.DB.TypeHints {
		if _, ok := storage.ParseKind(kind); !ok {
			add(SeverityError, "db.type_hints."+col, "must be int, decimal or text, got %q", kind)
		}
	}

	switch cfg.Metrics.Backend {
	case "", "none", "datadog":
	default:
		add(SeverityWarning, "metrics.backend", "unknown backend %q; metrics disabled", cfg.Metrics.Backend)
	}
	if _, err := logging.ParseLevel(cfg.Log.Level); err != nil {
		add(SeverityError, "log.level", "%v", err)
	}
	return out
}
