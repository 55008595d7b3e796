package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/titanous/json5"
	"gopkg.in/yaml.v3"
)

// Load builds a Config from defaults, an optional config file, an optional
// .env file, and the process environment.
//
// An explicit path that resolves to neither <name>.<ext> nor
// <name>.local.<ext> is an error. envFile "" means ".env" if present.
func Load(path, envFile string) (Config, error) {
	cfg := Defaults()

	if path != "" {
		var err error
		if cfg, err = ReadFile(path, cfg); err != nil {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	if err := loadDotEnv(envFile); err != nil {
		return cfg, err
	}
	if err := ApplyEnv(&cfg, os.LookupEnv); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ReadFile decodes <name>.<ext> and then <name>.local.<ext> onto base.
// Only keys present in a file change the result, so explicit zero values
// and false override base. .yaml/.yml are decoded as YAML, anything else
// as JSON5. It returns os.ErrNotExist when neither file exists.
func ReadFile(name string, base Config) (Config, error) {
	out := base
	found := false

	prefix, ext := splitExt(filepath.Base(name))
	local := filepath.Join(filepath.Dir(name), fmt.Sprintf("%s.local.%s", prefix, ext))

	for _, p := range []string{name, local} {
		b, err := os.ReadFile(p)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return base, err
		}
		found = true
		if len(b) == 0 {
			continue
		}
		if err := decode(ext, b, &out); err != nil {
			return base, fmt.Errorf("decode %s: %w", p, err)
		}
	}
	if !found {
		return base, os.ErrNotExist
	}
	return out, nil
}

func decode(ext string, b []byte, v *Config) error {
	switch strings.ToLower(ext) {
	case "yaml", "yml":
		return yaml.Unmarshal(b, v)
	default:
		return json5.Unmarshal(b, v)
	}
}

func splitExt(f string) (string, string) {
	for i := len(f) - 1; i >= 0; i-- {
		if f[i] == '.' {
			return f[:i], f[i+1:]
		}
	}
	return f, ""
}

// loadDotEnv never overrides variables already set in the process.
func loadDotEnv(envFile string) error {
	if envFile == "" {
		if _, err := os.Stat(".env"); err != nil {
			return nil
		}
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil {
		return fmt.Errorf("load env file %s: %w", envFile, err)
	}
	return nil
}

// LookupFunc has the shape of os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// ApplyEnv overlays environment variables onto cfg.
//
// Database variables are read with the prefix matching the effective kind
// (MYSQL_, MSSQL_, PG_, SQLITE_), after DB_TYPE has been applied.
func ApplyEnv(cfg *Config, lookup LookupFunc) error {
	get := func(key string) (string, bool) {
		v, ok := lookup(key)
		if !ok {
			return "", false
		}
		v = strings.TrimSpace(v)
		return v, v != ""
	}
	setStr := func(dst *string, key string) {
		if v, ok := get(key); ok {
			*dst = v
		}
	}
	var errs []error
	setInt := func(dst *int, key string) {
		if v, ok := get(key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %q is not an integer", key, v))
				return
			}
			*dst = n
		}
	}
	setDur := func(dst *Duration, key string) {
		if v, ok := get(key); ok {
			d, err := ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}

	setStr(&cfg.Site.BaseURL, "ARW_BASE_URL")
	setStr(&cfg.Site.Username, "ARW_USERNAME")
	setStr(&cfg.Site.Password, "ARW_PASSWORD")

	setStr(&cfg.Crawl.Driver, "SCRAPE_DRIVER")
	setInt(&cfg.Crawl.MaxPages, "SCRAPE_MAX_PAGES")
	setDur(&cfg.Crawl.Delay, "SCRAPE_DELAY")

	setStr(&cfg.Output.File, "OUTPUT_FILE")

	if v, ok := get("DB_TYPE"); ok {
		cfg.DB.Kind = strings.ToLower(v)
	}
	setStr(&cfg.DB.Table, "DB_TABLE")
	setStr(&cfg.DB.DSN, "DB_DSN")
	if prefix := envPrefix(cfg.DB.Kind); prefix != "" {
		setStr(&cfg.DB.Host, prefix+"HOST")
		setInt(&cfg.DB.Port, prefix+"PORT")
		setStr(&cfg.DB.User, prefix+"USER")
		setStr(&cfg.DB.Password, prefix+"PASSWORD")
		setStr(&cfg.DB.Database, prefix+"DATABASE")
	}
	if cfg.DB.Kind == "sqlite" {
		setStr(&cfg.DB.Database, "SQLITE_PATH")
	}

	setStr(&cfg.Log.Level, "LOG_LEVEL")
	setStr(&cfg.Log.File, "LOG_FILE")

	setStr(&cfg.Metrics.Backend, "METRICS_BACKEND")
	if v, ok := get("METRICS_TAGS"); ok {
		cfg.Metrics.Tags = splitCSV(v)
	}

	return errors.Join(errs...)
}

func envPrefix(kind string) string {
	switch kind {
	case "mysql":
		return "MYSQL_"
	case "mssql":
		return "MSSQL_"
	case "postgres":
		return "PG_"
	default:
		return ""
	}
}

func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
