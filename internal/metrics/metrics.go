// Package metrics defines the small backend interface the scraper reports to.
//
// Callers receive a Backend explicitly; there is no process-wide instance.
// Nop is the default everywhere a backend is optional.
package metrics

import (
	"strconv"
	"time"
)

// Labels are metric dimensions (status, step, kind, ...).
type Labels map[string]string

// Backend receives counters and histogram observations. Implementations must be
// safe for concurrent use.
type Backend interface {
	IncCounter(name string, delta float64, labels Labels)
	ObserveHistogram(name string, value float64, labels Labels)
}

// Metric families emitted by ratewatch.
const (
	PagesTotal          = "scrape_pages_total"
	RecordsTotal        = "scrape_records_total"
	HTTPRequestsTotal   = "scrape_http_requests_total"
	HTTPErrorsTotal     = "scrape_http_errors_total"
	HTTPRequestDuration = "scrape_http_request_duration_seconds"
	HTTPDownloadBytes   = "scrape_http_download_bytes"
	StepTotal           = "scrape_step_total"
	StepDuration        = "scrape_step_duration_seconds"
	RowsInsertedTotal   = "scrape_rows_inserted_total"
)

// Nop discards everything.
type Nop struct{}

func (Nop) IncCounter(string, float64, Labels)       {}
func (Nop) ObserveHistogram(string, float64, Labels) {}

// OrNop returns b, or Nop when b is nil.
func OrNop(b Backend) Backend {
	if b == nil {
		return Nop{}
	}
	return b
}

// Multi fans out to several backends.
type Multi []Backend

func (m Multi) IncCounter(name string, delta float64, labels Labels) {
	for _, b := range m {
		b.IncCounter(name, delta, labels)
	}
}

func (m Multi) ObserveHistogram(name string, value float64, labels Labels) {
	for _, b := range m {
		b.ObserveHistogram(name, value, labels)
	}
}

// RecordStep counts one step outcome and its duration since start.
// status is "ok" when err is nil and "error" otherwise.
func RecordStep(b Backend, step string, start time.Time, err error) {
	RecordStepElapsed(b, step, time.Since(start), err)
}

// RecordStepElapsed is RecordStep for callers that measure time themselves.
func RecordStepElapsed(b Backend, step string, elapsed time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	l := Labels{"step": step, "status": status}
	b.IncCounter(StepTotal, 1, l)
	b.ObserveHistogram(StepDuration, elapsed.Seconds(), l)
}

// RecordHTTP reports one completed HTTP exchange. A status of 0 means the
// request never got a response.
func RecordHTTP(b Backend, status int, elapsed time.Duration, size int64) {
	s := "error"
	if status > 0 {
		s = strconv.Itoa(status)
	}
	l := Labels{"status": s}
	b.IncCounter(HTTPRequestsTotal, 1, l)
	if status == 0 || status >= 400 {
		b.IncCounter(HTTPErrorsTotal, 1, l)
	}
	b.ObserveHistogram(HTTPRequestDuration, elapsed.Seconds(), l)
	if size >= 0 {
		b.ObserveHistogram(HTTPDownloadBytes, float64(size), l)
	}
}
