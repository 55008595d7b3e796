package crawl

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ratewatch/internal/extracthtml"
	"ratewatch/internal/metrics"

	"go.uber.org/zap"
)

// Config tunes the pagination loop.
type Config struct {
	StartPage int
	// MaxPages caps pages visited from StartPage, failed pages included.
	// Zero means no cap.
	MaxPages int
	// Delay is the politeness pause between pages.
	Delay time.Duration

	MaxConsecutiveEmpty  int
	MaxConsecutiveErrors int
	// Retries is the number of extra attempts for a page that fails to fetch.
	Retries    int
	RetryDelay time.Duration

	Signature SignatureMode
	// StopAtReportedTotal caps the crawl at the page count the site advertises.
	StopAtReportedTotal bool
}

// DefaultConfig matches the portal's observed behavior: one second between
// pages, three empty pages in a row mean the end.
func DefaultConfig() Config {
	return Config{
		StartPage:            1,
		Delay:                time.Second,
		MaxConsecutiveEmpty:  3,
		MaxConsecutiveErrors: 3,
		Retries:              2,
		RetryDelay:           2 * time.Second,
		Signature:            SignatureSample,
	}
}

// Outcome classifies one visited page.
type Outcome string

const (
	OutcomeData      Outcome = "data"
	OutcomeEmpty     Outcome = "empty"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeFailed    Outcome = "failed"
)

// StopReason says why the loop ended.
type StopReason string

const (
	StopEmpty         StopReason = "empty"
	StopDuplicate     StopReason = "duplicate"
	StopMaxPages      StopReason = "max_pages"
	StopReportedTotal StopReason = "reported_total"
	StopErrors        StopReason = "errors"
	StopAuth          StopReason = "auth"
	StopCanceled      StopReason = "canceled"
)

// Stats summarizes a run.
type Stats struct {
	PagesVisited  int
	DataPages     int
	EmptyPages    int
	FailedPages   int
	RawRows       int
	GroupingRows  int
	Records       int
	LastPage      int
	ReportedPages int // 0 when the site did not say
	Stop          StopReason
	Elapsed       time.Duration
}

// Result is what a crawl collected: mapped records in page order. Records are
// not deduplicated across pages.
type Result struct {
	Records []extracthtml.Record
	Stats   Stats
}

// PageEvent is passed to the OnPage hook after every visited page.
type PageEvent struct {
	Page    int
	Outcome Outcome
	Records int // records kept from this page
	Total   int // records collected so far
	Err     error
}

// Crawler runs the pagination loop over a Fetcher.
type Crawler struct {
	fetcher  Fetcher
	cfg      Config
	pipeline extracthtml.Pipeline
	log      *zap.Logger
	metrics  metrics.Backend
	onPage   func(PageEvent)

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

type Option func(*Crawler)

func WithLogger(l *zap.Logger) Option {
	return func(c *Crawler) {
		if l != nil {
			c.log = l
		}
	}
}

func WithMetrics(b metrics.Backend) Option {
	return func(c *Crawler) { c.metrics = metrics.OrNop(b) }
}

// WithPipeline replaces the grouping rule and column mapping.
func WithPipeline(p extracthtml.Pipeline) Option {
	return func(c *Crawler) { c.pipeline = p }
}

// WithOnPage registers a progress hook. It runs on the crawl goroutine.
func WithOnPage(fn func(PageEvent)) Option {
	return func(c *Crawler) { c.onPage = fn }
}

// New builds a Crawler. Zero-valued limits in cfg fall back to DefaultConfig.
func New(f Fetcher, cfg Config, opts ...Option) *Crawler {
	def := DefaultConfig()
	if cfg.StartPage < 1 {
		cfg.StartPage = def.StartPage
	}
	if cfg.MaxConsecutiveEmpty < 1 {
		cfg.MaxConsecutiveEmpty = def.MaxConsecutiveEmpty
	}
	if cfg.MaxConsecutiveErrors < 1 {
		cfg.MaxConsecutiveErrors = def.MaxConsecutiveErrors
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	if cfg.Signature == "" {
		cfg.Signature = def.Signature
	}

	c := &Crawler{
		fetcher:  f,
		cfg:      cfg,
		pipeline: extracthtml.DefaultPipeline(),
		log:      zap.NewNop(),
		metrics:  metrics.Nop{},
		onPage:   func(PageEvent) {},
		sleep:    sleepCtx,
		now:      time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Run logs in and walks pages from StartPage until one of:
//   - MaxConsecutiveEmpty empty pages in a row,
//   - a page whose signature equals the previous data page's (not appended),
//   - the MaxPages cap or, if enabled, the advertised page count,
//   - MaxConsecutiveErrors pages in a row that failed after retries.
//
// The result is returned even alongside an error, holding whatever was
// collected before the failure. Login failure returns an error wrapping
// ErrAuth and no records; exhausted page failures wrap ErrTransport.
func (c *Crawler) Run(ctx context.Context) (res Result, err error) {
	start := c.now()
	defer func() { res.Stats.Elapsed = c.now().Sub(start) }()

	loginStart := c.now()
	err = c.fetcher.Login(ctx)
	metrics.RecordStepElapsed(c.metrics, "login", c.now().Sub(loginStart), err)
	if err != nil {
		res.Stats.Stop = StopAuth
		if !errors.Is(err, ErrAuth) {
			err = fmt.Errorf("%w: %w", ErrAuth, err)
		}
		c.log.Error("login failed", zap.Error(err))
		return res, err
	}
	c.log.Info("logged in")

	var (
		prevSig       string
		havePrev      bool
		emptyStreak   int
		errStreak     int
		reportedCap   int
		checkReported = true
	)

	for page := c.cfg.StartPage; ; page++ {
		if err := ctx.Err(); err != nil {
			res.Stats.Stop = StopCanceled
			return res, err
		}
		res.Stats.PagesVisited++
		res.Stats.LastPage = page

		pageStart := c.now()
		p, err := c.fetchWithRetry(ctx, page)
		metrics.RecordStepElapsed(c.metrics, "page", c.now().Sub(pageStart), err)

		if err != nil {
			switch {
			case errors.Is(err, ErrAuth):
				res.Stats.Stop = StopAuth
				c.log.Error("re-login failed", zap.Int("page", page), zap.Error(err))
				return res, err
			case ctx.Err() != nil:
				res.Stats.Stop = StopCanceled
				return res, ctx.Err()
			}
			res.Stats.FailedPages++
			errStreak++
			c.observe(page, OutcomeFailed, 0, len(res.Records), err)
			c.log.Warn("page failed",
				zap.Int("page", page),
				zap.Int("consecutive_errors", errStreak),
				zap.Error(err))
			if errStreak >= c.cfg.MaxConsecutiveErrors {
				res.Stats.Stop = StopErrors
				return res, fmt.Errorf("%d consecutive page failures: %w", errStreak, err)
			}
		} else {
			errStreak = 0
			raw := extracthtml.ExtractPage(p.HTML, extracthtml.Meta{PageNumber: page, SourceURL: p.URL})
			recs, dropped := c.pipeline.Run(raw)
			res.Stats.RawRows += len(raw)
			res.Stats.GroupingRows += dropped
			c.metrics.IncCounter(metrics.RecordsTotal, float64(len(raw)), metrics.Labels{"kind": "raw"})
			c.metrics.IncCounter(metrics.RecordsTotal, float64(dropped), metrics.Labels{"kind": "grouping"})

			if checkReported {
				if n, ok := extracthtml.ReportedTotalPages(p.HTML); ok {
					checkReported = false
					res.Stats.ReportedPages = n
					c.log.Info("site reports total pages", zap.Int("pages", n))
					if c.cfg.StopAtReportedTotal {
						reportedCap = n
					}
				}
			}

			if len(recs) == 0 {
				emptyStreak++
				res.Stats.EmptyPages++
				c.observe(page, OutcomeEmpty, 0, len(res.Records), nil)
				c.log.Info("empty page",
					zap.Int("page", page),
					zap.Int("raw_rows", len(raw)),
					zap.Int("consecutive_empty", emptyStreak))
				if emptyStreak >= c.cfg.MaxConsecutiveEmpty {
					res.Stats.Stop = StopEmpty
					return res, nil
				}
			} else {
				sig := Signature(c.cfg.Signature, recs)
				if havePrev && sig == prevSig {
					res.Stats.Stop = StopDuplicate
					c.observe(page, OutcomeDuplicate, 0, len(res.Records), nil)
					c.log.Info("page repeats previous page, stopping", zap.Int("page", page))
					return res, nil
				}
				prevSig, havePrev = sig, true
				emptyStreak = 0
				res.Records = append(res.Records, recs...)
				res.Stats.DataPages++
				res.Stats.Records = len(res.Records)
				c.metrics.IncCounter(metrics.RecordsTotal, float64(len(recs)), metrics.Labels{"kind": "kept"})
				c.observe(page, OutcomeData, len(recs), len(res.Records), nil)
				c.log.Info("page scraped",
					zap.Int("page", page),
					zap.Int("records", len(recs)),
					zap.Int("grouping_rows", dropped),
					zap.Int("total", len(res.Records)))
			}
		}

		if c.cfg.MaxPages > 0 && res.Stats.PagesVisited >= c.cfg.MaxPages {
			res.Stats.Stop = StopMaxPages
			return res, nil
		}
		if reportedCap > 0 && page >= reportedCap {
			res.Stats.Stop = StopReportedTotal
			return res, nil
		}

		if err := c.sleep(ctx, c.cfg.Delay); err != nil {
			res.Stats.Stop = StopCanceled
			return res, err
		}
	}
}

// fetchWithRetry tries a page 1+Retries times. Auth and context errors are
// returned at once; anything else ends up wrapped in a TransportError.
func (c *Crawler) fetchWithRetry(ctx context.Context, page int) (Page, error) {
	var lastErr error
	for attempt := 0; attempt <= c.cfg.Retries; attempt++ {
		if attempt > 0 {
			c.log.Debug("retrying page",
				zap.Int("page", page),
				zap.Int("attempt", attempt+1),
				zap.Error(lastErr))
			if err := c.sleep(ctx, c.cfg.RetryDelay); err != nil {
				return Page{}, err
			}
		}
		p, err := c.fetcher.FetchPage(ctx, page)
		if err == nil {
			return p, nil
		}
		if errors.Is(err, ErrAuth) || ctx.Err() != nil {
			return Page{}, err
		}
		lastErr = err
	}
	var te *TransportError
	if errors.As(lastErr, &te) {
		return Page{}, lastErr
	}
	return Page{}, &TransportError{Page: page, Err: lastErr}
}

func (c *Crawler) observe(page int, o Outcome, n, total int, err error) {
	c.metrics.IncCounter(metrics.PagesTotal, 1, metrics.Labels{"outcome": string(o)})
	c.onPage(PageEvent{Page: page, Outcome: o, Records: n, Total: total, Err: err})
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
