// Package crawl drives page-by-page retrieval of the rate tables and decides
// when the data has run out.
package crawl

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrAuth marks a failed login or re-login. It aborts a crawl.
	ErrAuth = errors.New("authentication failed")

	// ErrTransport marks a page that could not be retrieved after retries.
	ErrTransport = errors.New("transport failure")
)

// Page is one retrieved page of markup. URL is where the markup was finally
// served from, after redirects.
type Page struct {
	Number int
	URL    string
	HTML   string
}

// Fetcher is a logged-in source of pages. Implementations: the HTTP session,
// the browser driver, and DirFetcher for saved pages.
type Fetcher interface {
	Login(ctx context.Context) error
	FetchPage(ctx context.Context, page int) (Page, error)
}

// TransportError wraps the last error seen for a page.
type TransportError struct {
	Page int
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("page %d: %v", e.Page, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func (e *TransportError) Is(target error) bool { return target == ErrTransport }
