package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ratewatch/internal/browser"
	"ratewatch/internal/config"
	"ratewatch/internal/crawl"
	"ratewatch/internal/dedupe"
	"ratewatch/internal/extracthtml"
	"ratewatch/internal/logging"
	"ratewatch/internal/metrics"
	"ratewatch/internal/session"
	"ratewatch/internal/sink"
	"ratewatch/internal/storage"

	"github.com/briandowns/spinner"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type scrapeFlags struct {
	cfg configFlags
	log logFlags
	db  dbFlags

	driver         string
	startPage      int
	maxPages       int
	delay          string
	output         string
	format         string
	headless       bool
	replayDir      string
	saveDir        string
	mappingFile    string
	metricsBackend string
	progress       bool
}

func newScrapeCmd(s streams) *cobra.Command {
	var f scrapeFlags
	cmd := &cobra.Command{
		Use:   "scrape",
		Short: "Log in, walk every rate page and persist the records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := f.cfg.load()
			if err != nil {
				return err
			}
			if err := f.apply(cmd, &cfg); err != nil {
				return usageError(err)
			}
			if err := checkIssues(s.err, config.Validate(cfg)); err != nil {
				return err
			}
			return runScrape(cmd.Context(), s, cfg, f.progress)
		},
	}

	f.cfg.register(cmd)
	f.log.register(cmd)
	f.db.register(cmd)

	fl := cmd.Flags()
	fl.StringVar(&f.driver, "driver", "", "page driver: http or browser")
	fl.IntVar(&f.startPage, "start-page", 0, "first page to request")
	fl.IntVar(&f.maxPages, "max-pages", 0, "stop after this many pages (0 = until the site runs out)")
	fl.StringVar(&f.delay, "delay", "", `pause between pages ("1s", "500ms" or seconds)`)
	fl.StringVarP(&f.output, "output", "o", "", `output file; "-" for stdout, "" to skip`)
	fl.StringVar(&f.format, "format", "", "json or csv (default: from the output extension)")
	fl.BoolVar(&f.headless, "headless", true, "run Chrome headless (browser driver)")
	fl.StringVar(&f.replayDir, "replay-dir", "", "read saved page-N.html files instead of the site")
	fl.StringVar(&f.saveDir, "save-dir", "", "save every fetched page as page-N.html")
	fl.StringVar(&f.mappingFile, "mapping", "", "JSON column mapping replacing the built-in one")
	fl.StringVar(&f.metricsBackend, "metrics-backend", "", "none or datadog")
	fl.BoolVar(&f.progress, "progress", false, "show a spinner with the current page")
	return cmd
}

// apply layers explicitly set flags over cfg.
func (f *scrapeFlags) apply(cmd *cobra.Command, cfg *config.Config) error {
	fl := cmd.Flags()
	if fl.Changed("driver") {
		cfg.Crawl.Driver = f.driver
	}
	if fl.Changed("start-page") {
		cfg.Crawl.StartPage = f.startPage
	}
	if fl.Changed("max-pages") {
		cfg.Crawl.MaxPages = f.maxPages
	}
	if fl.Changed("delay") {
		d, err := config.ParseDuration(f.delay)
		if err != nil {
			return fmt.Errorf("--delay: %w", err)
		}
		cfg.Crawl.Delay = d
	}
	if fl.Changed("output") {
		cfg.Output.File = f.output
	}
	if fl.Changed("format") {
		cfg.Output.Format = f.format
	}
	if fl.Changed("headless") {
		headless := f.headless
		cfg.Crawl.Headless = &headless
	}
	if fl.Changed("replay-dir") {
		cfg.Crawl.ReplayDir = f.replayDir
	}
	if fl.Changed("save-dir") {
		cfg.Crawl.SaveDir = f.saveDir
	}
	if fl.Changed("mapping") {
		cfg.Crawl.MappingFile = f.mappingFile
	}
	if fl.Changed("metrics-backend") {
		cfg.Metrics.Backend = f.metricsBackend
	}
	f.log.apply(cmd, &cfg.Log)
	f.db.apply(cmd, &cfg.DB)
	return nil
}

func runScrape(ctx context.Context, s streams, cfg config.Config, progress bool) error {
	log, logCloser, err := logging.New(logging.Config{Level: cfg.Log.Level, File: cfg.Log.File})
	if err != nil {
		return usageError(err)
	}
	defer logCloser.Close()
	defer func() { _ = log.Sync() }()

	m, closeMetrics := openMetrics(ctx, cfg.Metrics, log)
	defer closeMetrics()

	pipeline := extracthtml.DefaultPipeline()
	if cfg.Crawl.MappingFile != "" {
		mapping, err := extracthtml.LoadColumnMappingFile(cfg.Crawl.MappingFile)
		if err != nil {
			return usageError(err)
		}
		pipeline.Mapping = mapping
	}
	sig, err := crawl.ParseSignatureMode(cfg.Crawl.Signature)
	if err != nil {
		return usageError(err)
	}

	format := sink.FormatFromPath(cfg.Output.File)
	if cfg.Output.Format != "" {
		if format, err = sink.ParseFormat(cfg.Output.Format); err != nil {
			return usageError(err)
		}
	}

	fetcher, closeFetcher, err := newFetcher(cfg, log, m)
	if err != nil {
		return usageError(err)
	}
	defer closeFetcher()

	onPage := func(crawl.PageEvent) {}
	var spin *spinner.Spinner
	if progress {
		spin = spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(s.err))
		spin.Suffix = " logging in"
		spin.Start()
		onPage = func(ev crawl.PageEvent) {
			spin.Lock()
			spin.Suffix = fmt.Sprintf(" page %d: %s, %d records", ev.Page, ev.Outcome, ev.Total)
			spin.Unlock()
		}
	}

	c := crawl.New(fetcher, crawlConfig(cfg.Crawl, sig),
		crawl.WithLogger(log),
		crawl.WithMetrics(m),
		crawl.WithPipeline(pipeline),
		crawl.WithOnPage(onPage),
	)
	res, crawlErr := c.Run(ctx)
	if spin != nil {
		spin.Stop()
	}
	if errors.Is(crawlErr, crawl.ErrAuth) {
		return crawlErr
	}
	if crawlErr != nil {
		log.Error("crawl ended early, persisting partial results",
			zap.Error(crawlErr),
			zap.Int("records", len(res.Records)))
	}

	recs, dups := dedupe.Records(res.Records)
	m.IncCounter(metrics.RecordsTotal, float64(dups), metrics.Labels{"kind": "duplicate"})
	if dups > 0 {
		log.Info("duplicate records removed", zap.Int("removed", dups), zap.Int("kept", len(recs)))
	}

	sum := runSummary{Stats: res.Stats, Records: recs, Duplicates: dups}

	if cfg.Output.File != "" {
		opts := sink.Options{IncludeMeta: cfg.Output.IncludeMeta, IncludeLinks: cfg.Output.IncludeLinks}
		start := time.Now()
		err := sink.WriteFile(cfg.Output.File, format, recs, opts, s.out)
		metrics.RecordStep(m, "write_file", start, err)
		if err != nil {
			return errors.Join(crawlErr, fmt.Errorf("write %s: %w", cfg.Output.File, err))
		}
		log.Info("records written",
			zap.String("file", cfg.Output.File),
			zap.String("format", string(format)),
			zap.Int("records", len(recs)))
		sum.Output = cfg.Output.File
	}

	if cfg.DB.Kind != "" {
		// Partial results from a cancelled crawl are still saved.
		n, err := saveRecords(context.WithoutCancel(ctx), cfg.DB, recs, log, m)
		if err != nil {
			return errors.Join(crawlErr, err)
		}
		sum.Table = cfg.DB.Kind + ":" + cfg.DB.Table
		sum.Saved = n
	}

	printSummary(s.err, sum)
	return crawlErr
}

func crawlConfig(c config.Crawl, sig crawl.SignatureMode) crawl.Config {
	return crawl.Config{
		StartPage:            c.StartPage,
		MaxPages:             c.MaxPages,
		Delay:                c.Delay.Duration,
		MaxConsecutiveEmpty:  c.MaxConsecutiveEmpty,
		MaxConsecutiveErrors: c.MaxConsecutiveErrors,
		Retries:              c.Retries,
		RetryDelay:           c.RetryDelay.Duration,
		Signature:            sig,
		StopAtReportedTotal:  c.StopAtReportedTotal,
	}
}

// newFetcher picks the page source: a replay directory, headless Chrome or
// the plain HTTP session. The returned func releases it.
func newFetcher(cfg config.Config, log *zap.Logger, m metrics.Backend) (crawl.Fetcher, func(), error) {
	var f crawl.Fetcher
	release := func() {}

	switch {
	case cfg.Crawl.ReplayDir != "":
		log.Info("replaying saved pages", zap.String("dir", cfg.Crawl.ReplayDir))
		f = crawl.DirFetcher{Dir: cfg.Crawl.ReplayDir}
	case cfg.Crawl.Driver == "browser":
		b := browser.New(browser.Options{
			BaseURL:      cfg.Site.BaseURL,
			Username:     cfg.Site.Username,
			Password:     cfg.Site.Password,
			UserAgent:    cfg.Site.UserAgent,
			Headless:     config.BoolOr(cfg.Crawl.Headless, true),
			Timeout:      cfg.Site.Timeout.Duration,
			TableWait:    cfg.Crawl.TableWait.Duration,
			Settle:       cfg.Crawl.Settle.Duration,
			LoginMarkers: cfg.Site.LoginMarkers,
			Logger:       log,
		})
		f = b
		release = func() { _ = b.Close() }
	default:
		sess, err := session.New(session.Options{
			BaseURL:          cfg.Site.BaseURL,
			Username:         cfg.Site.Username,
			Password:         cfg.Site.Password,
			UserAgent:        cfg.Site.UserAgent,
			Timeout:          cfg.Site.Timeout.Duration,
			LoginMarkers:     cfg.Site.LoginMarkers,
			CloudflareBypass: cfg.Site.CloudflareBypass,
			Logger:           log,
			Metrics:          m,
		})
		if err != nil {
			return nil, nil, err
		}
		f = sess
	}

	if cfg.Crawl.SaveDir != "" {
		f = crawl.SavingFetcher{Fetcher: f, Dir: cfg.Crawl.SaveDir}
	}
	return f, release, nil
}

// saveRecords opens the configured database and saves recs into its table.
func saveRecords(ctx context.Context, db config.DB, recs []extracthtml.Record, log *zap.Logger, m metrics.Backend) (int64, error) {
	repo, err := storage.Open(ctx, storage.Config{
		Kind:           db.Kind,
		DSN:            db.DSN,
		Host:           db.Host,
		Port:           db.Port,
		User:           db.User,
		Password:       db.Password,
		Database:       db.Database,
		CreateDatabase: config.BoolOr(db.CreateDatabase, true),
	})
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", db.Kind, err)
	}
	defer repo.Close()

	hints := map[string]storage.Kind{}
	for col, name := range db.TypeHints {
		if k, ok := storage.ParseKind(name); ok {
			hints[col] = k
		}
	}
	return storage.Save(ctx, repo, recs, storage.SaveOptions{
		Table:     db.Table,
		Columns:   db.Columns,
		Overrides: db.TypeOverrides,
		Hints:     hints,
		Recreate:  config.BoolOr(db.Recreate, true),
		Logger:    log,
		Metrics:   m,
	})
}
