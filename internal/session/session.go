// Package session is the plain-HTTP page driver: a cookie-holding resty
// client that logs into the portal with its form and fetches rate pages.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"ratewatch/internal/crawl"
	"ratewatch/internal/extracthtml"
	"ratewatch/internal/metrics"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// Options configures a Session.
type Options struct {
	BaseURL  string
	Username string
	Password string

	UserAgent string
	Timeout   time.Duration

	// LoginMarkers, when set, must match the page shown after login.
	LoginMarkers []string

	CloudflareBypass bool

	Logger  *zap.Logger
	Metrics metrics.Backend
}

// Session implements crawl.Fetcher over HTTP.
type Session struct {
	base *url.URL
	http *resty.Client
	opts Options
	log  *zap.Logger
}

var _ crawl.Fetcher = (*Session)(nil)

// New builds a session. No request is made until Login.
func New(opts Options) (*Session, error) {
	base, err := url.Parse(strings.TrimSpace(opts.BaseURL))
	if err != nil {
		return nil, fmt.Errorf("base url: %w", err)
	}
	if !base.IsAbs() {
		return nil, fmt.Errorf("base url %q is not absolute", opts.BaseURL)
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	m := metrics.OrNop(opts.Metrics)

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}

	httpClient := resty.New()
	httpClient.SetCookieJar(jar)
	if opts.CloudflareBypass {
		httpClient.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(httpClient.GetClient().Transport)
	}
	if opts.UserAgent != "" {
		httpClient.SetHeader("User-Agent", opts.UserAgent)
	}
	httpClient.SetHeader("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	httpClient.SetHeader("Accept-Language", "en-US,en;q=0.9")
	httpClient.SetRedirectPolicy(resty.DomainCheckRedirectPolicy(base.Hostname()))
	if opts.Timeout > 0 {
		httpClient.SetTimeout(opts.Timeout)
	}

	httpClient.OnAfterResponse(func(_ *resty.Client, res *resty.Response) error {
		metrics.RecordHTTP(m, res.StatusCode(), res.Time(), res.Size())
		return nil
	})
	httpClient.OnError(func(req *resty.Request, _ error) {
		metrics.RecordHTTP(m, 0, time.Since(req.Time), -1)
	})

	return &Session{
		base: base,
		http: httpClient,
		opts: opts,
		log:  log.With(zap.String("driver", "http")),
	}, nil
}

// Login submits the portal's form: the hidden inputs of the login page plus
// username, userpass and doLogin. Any failure wraps crawl.ErrAuth.
func (s *Session) Login(ctx context.Context) error {
	loginError := func(err error) error {
		return fmt.Errorf("%w: %w", crawl.ErrAuth, err)
	}

	res, err := s.http.R().
		SetContext(ctx).
		Get(s.base.String())
	if err != nil {
		return loginError(fmt.Errorf("login page request: %w", err))
	}
	if err := extracthtml.CheckStatus(res.StatusCode(), res.Body()); err != nil {
		return loginError(fmt.Errorf("login page: %w", err))
	}

	form := url.Values{}
	action := s.base.String()
	if lf, ok := extracthtml.FindLoginForm(string(res.Body()), finalURL(res, s.base)); ok {
		for k, v := range lf.Hidden {
			form[k] = v
		}
		if lf.Action != "" {
			action = lf.Action
		}
	} else {
		s.log.Debug("no login form on landing page, posting to base url")
	}
	form.Set("username", s.opts.Username)
	form.Set("userpass", s.opts.Password)
	form.Set("doLogin", "")

	res, err = s.http.R().
		SetContext(ctx).
		SetFormDataFromValues(form).
		Post(action)
	if err != nil {
		return loginError(fmt.Errorf("login request: %w", err))
	}
	if err := extracthtml.CheckStatus(res.StatusCode(), res.Body()); err != nil {
		return loginError(err)
	}
	if !extracthtml.LoginSucceeded(string(res.Body()), s.opts.Username, s.opts.LoginMarkers) {
		return loginError(errors.New("login form still shown after submit"))
	}

	s.log.Info("login ok", zap.String("url", finalURL(res, s.base).String()))
	return nil
}

// FetchPage requests page n. A response that lands back on the login page
// triggers one re-login and retry; a second bounce is an auth failure.
func (s *Session) FetchPage(ctx context.Context, n int) (crawl.Page, error) {
	p, expired, err := s.get(ctx, n)
	if err != nil || !expired {
		return p, err
	}

	s.log.Warn("session expired, logging in again", zap.Int("page", n))
	if err := s.Login(ctx); err != nil {
		return crawl.Page{}, err
	}
	p, expired, err = s.get(ctx, n)
	if err != nil {
		return crawl.Page{}, err
	}
	if expired {
		return crawl.Page{}, fmt.Errorf("%w: page %d still redirects to login", crawl.ErrAuth, n)
	}
	return p, nil
}

func (s *Session) get(ctx context.Context, n int) (p crawl.Page, expired bool, err error) {
	u, err := extracthtml.PageURL(s.base.String(), n)
	if err != nil {
		return crawl.Page{}, false, err
	}
	res, err := s.http.R().
		SetContext(ctx).
		Get(u)
	if err != nil {
		return crawl.Page{}, false, fmt.Errorf("http get: %w", err)
	}
	if err := extracthtml.CheckStatus(res.StatusCode(), res.Body()); err != nil {
		return crawl.Page{}, false, err
	}

	final := finalURL(res, s.base).String()
	html := string(res.Body())
	expired = extracthtml.IsLoginURL(final) || hasPasswordForm(html)
	return crawl.Page{Number: n, URL: final, HTML: html}, expired, nil
}

func hasPasswordForm(html string) bool {
	_, ok := extracthtml.FindLoginForm(html, nil)
	return ok
}

// finalURL is the URL the response was served from after redirects.
func finalURL(res *resty.Response, fallback *url.URL) *url.URL {
	if res.RawResponse != nil && res.RawResponse.Request != nil && res.RawResponse.Request.URL != nil {
		return res.RawResponse.Request.URL
	}
	return fallback
}
