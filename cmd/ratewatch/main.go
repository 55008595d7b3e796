// Command ratewatch logs into the annuity rate portal, walks the paginated
// rate table and writes the records to JSON, CSV and optionally SQL.
//
// Usage:
//
//	ratewatch scrape --config ratewatch.yaml --output rates.csv --db-kind mysql
//	ratewatch scrape --replay-dir ./pages --output - --delay 0
//	ratewatch extract --file page-1.html --tables
//	ratewatch load --input rates.json --db-kind sqlite --db-name rates.db
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	// every storage backend is selectable from config
	_ "ratewatch/internal/storage/all"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

type streams struct {
	in  io.Reader
	out io.Writer
	err io.Writer
}

// exitError carries a specific exit code out of a command.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func usageError(err error) error {
	return &exitError{code: 2, err: err}
}

// run is split out from main so commands can be tested without a process.
//
// It returns a Unix-style exit code:
//   - 0 for success
//   - 2 for usage and config validation errors
//   - 1 for runtime errors (auth, transport, persistence)
func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	root := newRootCmd(streams{in: stdin, out: stdout, err: stderr})
	root.SetArgs(args)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return 0
	}
	fmt.Fprintf(stderr, "ratewatch: %v\n", err)

	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	if strings.HasPrefix(err.Error(), "unknown command") {
		return 2
	}
	return 1
}

func newRootCmd(s streams) *cobra.Command {
	root := &cobra.Command{
		Use:           "ratewatch",
		Short:         "Scrape annuity rate tables from the member portal",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetIn(s.in)
	root.SetOut(s.out)
	root.SetErr(s.err)
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageError(err)
	})

	root.AddCommand(
		newScrapeCmd(s),
		newExtractCmd(s),
		newLoadCmd(s),
	)
	return root
}
