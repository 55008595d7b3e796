package sink

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"ratewatch/internal/extracthtml"
)

// Format is an output file format.
type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
)

// Stdout is the path that means standard output.
const Stdout = "-"

// ParseFormat accepts "json" and "csv". The empty string yields "".
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "", FormatJSON, FormatCSV:
		return f, nil
	}
	return "", fmt.Errorf("unknown output format %q", s)
}

// FormatFromPath picks CSV for .csv files and JSON for everything else.
func FormatFromPath(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".csv") {
		return FormatCSV
	}
	return FormatJSON
}

// Write encodes recs to w in format f.
func Write(w io.Writer, f Format, recs []extracthtml.Record, opts Options) error {
	if f == FormatCSV {
		return WriteCSV(w, recs, opts)
	}
	return WriteJSON(w, recs, opts)
}

// WriteFile writes recs to path, creating parent directories. An empty
// format is derived from the path. Path "-" writes to stdout.
func WriteFile(path string, f Format, recs []extracthtml.Record, opts Options, stdout io.Writer) error {
	if f == "" {
		f = FormatFromPath(path)
	}
	if path == Stdout {
		return Write(stdout, f, recs, opts)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}
	fh, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	bw := bufio.NewWriter(fh)
	if err := Write(bw, f, recs, opts); err != nil {
		fh.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := bw.Flush(); err != nil {
		fh.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return fh.Close()
}

// ReadFile reads records from a JSON or CSV file, chosen by extension.
// Path "-" reads from stdin as JSON.
func ReadFile(path string, stdin io.Reader) ([]extracthtml.Record, error) {
	if path == Stdout {
		return ReadJSON(stdin)
	}
	fh, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fh.Close()

	r := bufio.NewReader(fh)
	if FormatFromPath(path) == FormatCSV {
		return ReadCSV(r)
	}
	return ReadJSON(r)
}
