// Package config holds the ratewatch run configuration and its layered loader.
//
// Precedence, lowest to highest: Defaults, config file (<name>.<ext> then
// <name>.local.<ext>), .env file, process environment, CLI flags. Flags are
// applied by the command after Load returns.
package config

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultBaseURL is the institutional CD-type annuities table.
const DefaultBaseURL = "https://members.annuityratewatch.com/lifeinnovators/instn/cd-type-annuities.htm"

// Config is the full run configuration.
type Config struct {
	Site    Site    `json:"site" yaml:"site"`
	Crawl   Crawl   `json:"crawl" yaml:"crawl"`
	Output  Output  `json:"output" yaml:"output"`
	DB      DB      `json:"db" yaml:"db"`
	Log     Log     `json:"log" yaml:"log"`
	Metrics Metrics `json:"metrics" yaml:"metrics"`
}

// Site describes the portal and the account used to log in.
type Site struct {
	BaseURL   string   `json:"base_url" yaml:"base_url"`
	Username  string   `json:"username" yaml:"username"`
	Password  string   `json:"password" yaml:"password"`
	UserAgent string   `json:"user_agent" yaml:"user_agent"`
	Timeout   Duration `json:"timeout" yaml:"timeout"`

	// LoginMarkers are lowercase substrings one of which must appear on the
	// post-login page. Empty means only the password-field check applies.
	LoginMarkers []string `json:"login_markers" yaml:"login_markers"`

	CloudflareBypass bool `json:"cloudflare_bypass" yaml:"cloudflare_bypass"`
}

// Crawl tunes the pagination loop and the page driver.
type Crawl struct {
	Driver               string   `json:"driver" yaml:"driver"` // http | browser
	StartPage            int      `json:"start_page" yaml:"start_page"`
	MaxPages             int      `json:"max_pages" yaml:"max_pages"` // 0 = unbounded
	Delay                Duration `json:"delay" yaml:"delay"`
	MaxConsecutiveEmpty  int      `json:"max_consecutive_empty" yaml:"max_consecutive_empty"`
	MaxConsecutiveErrors int      `json:"max_consecutive_errors" yaml:"max_consecutive_errors"`
	Retries              int      `json:"retries" yaml:"retries"`
	RetryDelay           Duration `json:"retry_delay" yaml:"retry_delay"`
	Signature            string   `json:"signature" yaml:"signature"` // sample | digest
	StopAtReportedTotal  bool     `json:"stop_at_reported_total" yaml:"stop_at_reported_total"`

	Headless  *bool    `json:"headless" yaml:"headless"`
	TableWait Duration `json:"table_wait" yaml:"table_wait"`
	Settle    Duration `json:"settle" yaml:"settle"`

	// ReplayDir, when set, reads saved page-N.html files instead of the site.
	ReplayDir string `json:"replay_dir" yaml:"replay_dir"`
	// SaveDir, when set, writes every fetched page as page-N.html.
	SaveDir string `json:"save_dir" yaml:"save_dir"`

	MappingFile string `json:"mapping_file" yaml:"mapping_file"`
}

// Output controls file persistence.
type Output struct {
	File         string `json:"file" yaml:"file"`
	Format       string `json:"format" yaml:"format"` // json | csv; empty infers from File
	IncludeMeta  bool   `json:"include_meta" yaml:"include_meta"`
	IncludeLinks bool   `json:"include_links" yaml:"include_links"`
}

// DB controls relational persistence. An empty Kind disables it.
type DB struct {
	Kind           string            `json:"kind" yaml:"kind"`
	DSN            string            `json:"dsn" yaml:"dsn"`
	Host           string            `json:"host" yaml:"host"`
	Port           int               `json:"port" yaml:"port"`
	User           string            `json:"user" yaml:"user"`
	Password       string            `json:"password" yaml:"password"`
	Database       string            `json:"database" yaml:"database"`
	Table          string            `json:"table" yaml:"table"`
	Recreate       *bool             `json:"recreate" yaml:"recreate"`
	CreateDatabase *bool             `json:"create_database" yaml:"create_database"`
	Columns        []string          `json:"columns" yaml:"columns"`
	TypeOverrides  map[string]string `json:"type_overrides" yaml:"type_overrides"`
	// TypeHints name a kind (int, decimal, text) for columns whose values
	// are all missing. They replace the built-in hint for the same column.
	TypeHints map[string]string `json:"type_hints" yaml:"type_hints"`
}

type Log struct {
	Level string `json:"level" yaml:"level"`
	File  string `json:"file" yaml:"file"`
}

type Metrics struct {
	Backend    string   `json:"backend" yaml:"backend"` // none | datadog
	JobName    string   `json:"job_name" yaml:"job_name"`
	Tags       []string `json:"tags" yaml:"tags"`
	FlushEvery Duration `json:"flush_every" yaml:"flush_every"`
}

// Defaults returns the baseline configuration.
func Defaults() Config {
	return Config{
		Site: Site{
			BaseURL:   DefaultBaseURL,
			UserAgent: "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36",
			Timeout:   Duration{30 * time.Second},
		},
		Crawl: Crawl{
			Driver:               "http",
			StartPage:            1,
			Delay:                Duration{time.Second},
			MaxConsecutiveEmpty:  3,
			MaxConsecutiveErrors: 3,
			Retries:              2,
			RetryDelay:           Duration{2 * time.Second},
			Signature:            "sample",
			TableWait:            Duration{30 * time.Second},
			Settle:               Duration{2 * time.Second},
		},
		Output: Output{
			File: "annuity_rates.json",
		},
		DB: DB{
			Table: "annuities",
		},
		Log: Log{
			Level: "info",
		},
		Metrics: Metrics{
			Backend:    "none",
			JobName:    "ratewatch",
			FlushEvery: Duration{60 * time.Second},
		},
	}
}

// BoolOr dereferences p, falling back to def when unset.
func BoolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

// Duration accepts Go duration strings ("1s", "1500ms") or bare integers
// meaning seconds, in JSON, JSON5, YAML and environment values.
type Duration struct {
	time.Duration
}

// ParseDuration parses the forms accepted by Duration.
func ParseDuration(s string) (Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Duration{}, nil
	}
	if n, err := strconv.ParseFloat(s, 64); err == nil {
		return Duration{time.Duration(n * float64(time.Second))}, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return Duration{}, fmt.Errorf("invalid duration %q", s)
	}
	return Duration{d}, nil
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		return nil
	}
	// json5 hands over single-quoted strings verbatim.
	s = strings.Trim(s, `"'`)
	v, err := ParseDuration(s)
	if err != nil {
		return err
	}
	*d = v
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) UnmarshalYAML(n *yaml.Node) error {
	v, err := ParseDuration(n.Value)
	if err != nil {
		return err
	}
	*d = v
	return nil
}
