package main

import (
	"fmt"
	"time"

	"ratewatch/internal/extracthtml"
	"ratewatch/internal/sink"

	"github.com/spf13/cobra"
)

type extractFlags struct {
	url      string
	file     string
	raw      bool
	tables   bool
	selector string
	text     bool
	mapping  string
	links    bool
	timeout  time.Duration
}

// newExtractCmd parses one page and prints what the crawl would keep from it.
func newExtractCmd(s streams) *cobra.Command {
	var f extractFlags
	cmd := &cobra.Command{
		Use:   "extract",
		Short: "Extract records from one page (stdin, --file or --url)",
		Example: `  ratewatch extract --file page-1.html
  ratewatch extract --file page-1.html --tables
  cat page.html | ratewatch extract --selector "table tr" --text`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if f.url != "" && f.file != "" {
				return usageError(fmt.Errorf("--url and --file are mutually exclusive"))
			}

			html, err := extracthtml.NewLoader(nil, f.timeout).Load(cmd.Context(), extracthtml.Input{
				URL:   f.url,
				Path:  f.file,
				Stdin: s.in,
			})
			if err != nil {
				return fmt.Errorf("load html: %w", err)
			}

			if f.selector != "" {
				return extracthtml.DebugPrintSelector(s.out, html, f.selector, f.text)
			}
			if f.tables {
				return extracthtml.DescribeTables(s.out, html)
			}

			recs := extracthtml.ExtractPage(html, extracthtml.Meta{PageNumber: 1, SourceURL: f.url})
			if !f.raw {
				p := extracthtml.DefaultPipeline()
				if f.mapping != "" {
					m, err := extracthtml.LoadColumnMappingFile(f.mapping)
					if err != nil {
						return usageError(err)
					}
					p.Mapping = m
				}
				recs, _ = p.Run(recs)
			}
			return sink.WriteJSON(s.out, recs, sink.Options{IncludeLinks: f.links})
		},
	}

	fl := cmd.Flags()
	fl.StringVar(&f.url, "url", "", "fetch the page from this URL")
	fl.StringVar(&f.file, "file", "", "read the page from this file")
	fl.BoolVar(&f.raw, "raw", false, "print raw Column_N records without grouping filter or mapping")
	fl.BoolVar(&f.tables, "tables", false, "describe every table and mark the one that would be extracted")
	fl.StringVar(&f.selector, "selector", "", "debug: print matches for this CSS selector")
	fl.BoolVar(&f.text, "text", false, "debug: print text instead of HTML for --selector matches")
	fl.StringVar(&f.mapping, "mapping", "", "JSON column mapping replacing the built-in one")
	fl.BoolVar(&f.links, "links", false, "include <field>_links arrays")
	fl.DurationVar(&f.timeout, "timeout", 20*time.Second, "timeout for --url")
	return cmd
}
