// Package browser drives headless Chrome through chromedp for portals that
// only render the rate table after client-side scripts run.
package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"ratewatch/internal/crawl"
	"ratewatch/internal/extracthtml"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// ErrClosed is returned by Login and FetchPage after Close.
var ErrClosed = errors.New("browser closed")

// tableReadyJS is true once some table has more than two rows.
const tableReadyJS = `Array.from(document.querySelectorAll('table')).some(t => t.rows.length > 2)`

type Options struct {
	BaseURL  string
	Username string
	Password string

	UserAgent string
	Headless  bool

	// Timeout bounds navigation; TableWait and Settle are added on top.
	Timeout time.Duration
	// TableWait is how long to poll for a populated table before reading the
	// page anyway.
	TableWait time.Duration
	// Settle is a pause after login and after the table appears.
	Settle time.Duration

	LoginMarkers []string
	Logger       *zap.Logger
}

// Browser implements crawl.Fetcher with a single Chrome tab.
type Browser struct {
	opts Options
	log  *zap.Logger
	poll time.Duration

	browserCtx    context.Context
	allocCancel   context.CancelFunc
	browserCancel context.CancelFunc
	closeOnce     sync.Once
}

var _ crawl.Fetcher = (*Browser)(nil)

// New prepares the allocator and browser contexts. Chrome itself starts on
// the first action. Callers must Close the Browser.
func New(opts Options) *Browser {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.DisableGPU,
		chromedp.NoSandbox,
		chromedp.Flag("headless", opts.Headless),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.WindowSize(1920, 1080),
	)
	if opts.UserAgent != "" {
		allocOpts = append(allocOpts, chromedp.UserAgent(opts.UserAgent))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocOpts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	return &Browser{
		opts:          opts,
		log:           log.With(zap.String("driver", "browser")),
		poll:          500 * time.Millisecond,
		browserCtx:    browserCtx,
		allocCancel:   allocCancel,
		browserCancel: browserCancel,
	}
}

// Close shuts Chrome down. It is safe to call more than once.
func (b *Browser) Close() error {
	b.closeOnce.Do(func() {
		b.browserCancel()
		b.allocCancel()
	})
	return nil
}

// Login fills #username and #userpass on the first rate page and submits
// with the doLogin button. Failures wrap crawl.ErrAuth.
func (b *Browser) Login(ctx context.Context) error {
	if b.browserCtx.Err() != nil {
		return fmt.Errorf("%w: %w", crawl.ErrAuth, ErrClosed)
	}
	u, err := extracthtml.PageURL(b.opts.BaseURL, 1)
	if err != nil {
		return fmt.Errorf("%w: base url: %w", crawl.ErrAuth, err)
	}

	runCtx, cancel := b.runCtx(ctx)
	defer cancel()

	var html string
	actions := []chromedp.Action{
		chromedp.Navigate(u),
		chromedp.WaitVisible("#username", chromedp.ByQuery),
		chromedp.SendKeys("#username", b.opts.Username, chromedp.ByQuery),
		chromedp.SendKeys("#userpass", b.opts.Password, chromedp.ByQuery),
		chromedp.Click(`[name="doLogin"]`, chromedp.ByQuery),
	}
	if b.opts.Settle > 0 {
		actions = append(actions, chromedp.Sleep(b.opts.Settle))
	}
	actions = append(actions,
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err := chromedp.Run(runCtx, actions...); err != nil {
		return fmt.Errorf("%w: %w", crawl.ErrAuth, err)
	}
	if !extracthtml.LoginSucceeded(html, b.opts.Username, b.opts.LoginMarkers) {
		return fmt.Errorf("%w: login form still shown after submit", crawl.ErrAuth)
	}
	b.log.Info("login ok")
	return nil
}

// FetchPage navigates to page n, waits for the table to populate and returns
// the rendered document. Landing on a login URL triggers one re-login.
func (b *Browser) FetchPage(ctx context.Context, n int) (crawl.Page, error) {
	p, err := b.load(ctx, n)
	if err != nil {
		return crawl.Page{}, err
	}
	if !extracthtml.IsLoginURL(p.URL) {
		return p, nil
	}

	b.log.Warn("session expired, logging in again", zap.Int("page", n))
	if err := b.Login(ctx); err != nil {
		return crawl.Page{}, err
	}
	if p, err = b.load(ctx, n); err != nil {
		return crawl.Page{}, err
	}
	if extracthtml.IsLoginURL(p.URL) {
		return crawl.Page{}, fmt.Errorf("%w: page %d still redirects to login", crawl.ErrAuth, n)
	}
	return p, nil
}

func (b *Browser) load(ctx context.Context, n int) (crawl.Page, error) {
	if b.browserCtx.Err() != nil {
		return crawl.Page{}, ErrClosed
	}
	u, err := extracthtml.PageURL(b.opts.BaseURL, n)
	if err != nil {
		return crawl.Page{}, err
	}

	runCtx, cancel := b.runCtx(ctx)
	defer cancel()

	if err := chromedp.Run(runCtx,
		chromedp.Navigate(u),
		chromedp.WaitReady("body", chromedp.ByQuery),
	); err != nil {
		return crawl.Page{}, fmt.Errorf("navigate page %d: %w", n, err)
	}

	if !b.waitForTable(runCtx) {
		b.log.Warn("table did not populate in time, reading page anyway",
			zap.Int("page", n),
			zap.Duration("waited", b.opts.TableWait))
	}

	var html, loc string
	actions := []chromedp.Action{}
	if b.opts.Settle > 0 {
		actions = append(actions, chromedp.Sleep(b.opts.Settle))
	}
	actions = append(actions,
		chromedp.Location(&loc),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err := chromedp.Run(runCtx, actions...); err != nil {
		return crawl.Page{}, fmt.Errorf("read page %d: %w", n, err)
	}
	return crawl.Page{Number: n, URL: loc, HTML: html}, nil
}

// waitForTable polls until a table has more than two rows or TableWait
// elapses. It reports whether the table appeared.
func (b *Browser) waitForTable(ctx context.Context) bool {
	deadline := time.Now().Add(b.opts.TableWait)
	for {
		var ready bool
		if err := chromedp.Run(ctx, chromedp.Evaluate(tableReadyJS, &ready)); err == nil && ready {
			return true
		}
		if time.Now().After(deadline) || ctx.Err() != nil {
			return false
		}
		t := time.NewTimer(b.poll)
		select {
		case <-ctx.Done():
			t.Stop()
			return false
		case <-t.C:
		}
	}
}

// runCtx derives a per-operation context from the browser context, bounded
// by the configured waits and canceled along with ctx.
func (b *Browser) runCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	budget := b.opts.Timeout + b.opts.TableWait + b.opts.Settle
	if budget <= 0 {
		budget = time.Minute
	}
	rc, cancel := context.WithTimeout(b.browserCtx, budget)
	stop := context.AfterFunc(ctx, cancel)
	return rc, func() {
		stop()
		cancel()
	}
}
