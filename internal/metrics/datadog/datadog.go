// Package datadog implements metrics.Backend on top of the Datadog v2 metrics API.
//
// Observations are buffered in memory and submitted on a ticker (default once a
// minute) and once more on Close, so a long crawl shows up as a time series
// rather than a single spike at exit.
//
// Counters are submitted as COUNT series. Histograms are reduced to
// p50/p90/p95/p99/max/samples gauges per flush window.
package datadog

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"ratewatch/internal/metrics"

	dd "github.com/DataDog/datadog-api-client-go/v2/api/datadog"
	"github.com/DataDog/datadog-api-client-go/v2/api/datadogV2"
)

// Options controls the backend.
type Options struct {
	// JobName becomes tag "job:<name>". Defaults to "ratewatch".
	JobName string

	// Tags are extra tags such as "service:ratewatch".
	Tags []string

	// FlushEvery defaults to 60s.
	FlushEvery time.Duration

	// test seams
	now       func() time.Time
	newTicker func(d time.Duration) *time.Ticker
	submitter metricsSubmitter
}

// metricsSubmitter is the slice of *datadogV2.MetricsApi the backend needs.
type metricsSubmitter interface {
	SubmitMetrics(ctx context.Context, body datadogV2.MetricPayload, params ...datadogV2.SubmitMetricsOptionalParameters) (datadogV2.IntakePayloadAccepted, *http.Response, error)
}

// Backend buffers scrape metrics and ships them to Datadog.
type Backend struct {
	api metricsSubmitter
	ctx context.Context

	flushEvery time.Duration
	stopCh     chan struct{}
	doneCh     chan struct{}
	closeOnce  sync.Once
	closeErr   error

	baseTags  []string
	now       func() time.Time
	newTicker func(d time.Duration) *time.Ticker

	mu  sync.Mutex
	buf buffers
}

// buffers is one flush window of observations. Keys for two-label families
// are joined with "\x00".
type buffers struct {
	pages        map[string]float64 // outcome
	records      map[string]float64 // kind
	rowsInserted float64
	steps        map[string]float64   // step\x00status
	stepDur      map[string][]float64 // step\x00status
	httpReqs     map[string]float64   // status
	httpErrs     map[string]float64   // status
	httpDur      map[string][]float64 // status
	httpBytes    map[string][]float64 // status
}

func newBuffers() buffers {
	return buffers{
		pages:     make(map[string]float64),
		records:   make(map[string]float64),
		steps:     make(map[string]float64),
		stepDur:   make(map[string][]float64),
		httpReqs:  make(map[string]float64),
		httpErrs:  make(map[string]float64),
		httpDur:   make(map[string][]float64),
		httpBytes: make(map[string][]float64),
	}
}

func (s buffers) isEmpty() bool {
	return len(s.pages) == 0 &&
		len(s.records) == 0 &&
		s.rowsInserted == 0 &&
		len(s.steps) == 0 &&
		len(s.stepDur) == 0 &&
		len(s.httpReqs) == 0 &&
		len(s.httpErrs) == 0 &&
		len(s.httpDur) == 0 &&
		len(s.httpBytes) == 0
}

// NewBackend builds a backend using the official client, which reads
// DD_API_KEY and DD_SITE from the environment. Network errors surface from
// Flush, not here.
func NewBackend(parent context.Context, opts Options) (*Backend, error) {
	if parent == nil {
		return nil, wrapInitErr(fmt.Errorf("nil context"))
	}
	job := opts.JobName
	if job == "" {
		job = "ratewatch"
	}
	flushEvery := opts.FlushEvery
	if flushEvery <= 0 {
		flushEvery = 60 * time.Second
	}

	baseTags := make([]string, 0, 2+len(opts.Tags))
	baseTags = append(baseTags, resolveEnvTag(), "job:"+job)
	baseTags = append(baseTags, opts.Tags...)

	nowFn := opts.now
	if nowFn == nil {
		nowFn = time.Now
	}
	newTicker := opts.newTicker
	if newTicker == nil {
		newTicker = time.NewTicker
	}
	submitter := opts.submitter
	if submitter == nil {
		submitter = datadogV2.NewMetricsApi(dd.NewAPIClient(dd.NewConfiguration()))
	}

	b := &Backend{
		api:        submitter,
		ctx:        dd.NewDefaultContext(parent),
		flushEvery: flushEvery,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
		baseTags:   baseTags,
		now:        nowFn,
		newTicker:  newTicker,
		buf:        newBuffers(),
	}
	go b.loop()
	return b, nil
}

func (b *Backend) loop() {
	defer close(b.doneCh)

	t := b.newTicker(b.flushEvery)
	defer t.Stop()

	for {
		select {
		case <-t.C:
			_ = b.Flush()
		case <-b.stopCh:
			return
		}
	}
}

// Close stops the flush loop and submits whatever is still buffered.
// Later calls return the first call's result.
func (b *Backend) Close() error {
	b.closeOnce.Do(func() {
		close(b.stopCh)
		<-b.doneCh
		b.closeErr = b.Flush()
	})
	return b.closeErr
}

// IncCounter implements metrics.Backend. Unknown families are ignored.
func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	if delta <= 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	switch name {
	case metrics.PagesTotal:
		b.buf.pages[labelOr(labels, "outcome")] += delta
	case metrics.RecordsTotal:
		kind := labels["kind"]
		if kind == "" {
			return
		}
		b.buf.records[kind] += delta
	case metrics.RowsInsertedTotal:
		b.buf.rowsInserted += delta
	case metrics.StepTotal:
		b.buf.steps[stepStatusKey(labels["step"], labels["status"])] += delta
	case metrics.HTTPRequestsTotal:
		b.buf.httpReqs[labelOr(labels, "status")] += delta
	case metrics.HTTPErrorsTotal:
		b.buf.httpErrs[labelOr(labels, "status")] += delta
	}
}

// ObserveHistogram implements metrics.Backend. Unknown families are ignored.
func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	if value < 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	switch name {
	case metrics.StepDuration:
		k := stepStatusKey(labels["step"], labels["status"])
		b.buf.stepDur[k] = append(b.buf.stepDur[k], value)
	case metrics.HTTPRequestDuration:
		s := labelOr(labels, "status")
		b.buf.httpDur[s] = append(b.buf.httpDur[s], value)
	case metrics.HTTPDownloadBytes:
		s := labelOr(labels, "status")
		b.buf.httpBytes[s] = append(b.buf.httpBytes[s], value)
	}
}

func (b *Backend) snapshotAndReset() buffers {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.buf
	b.buf = newBuffers()
	return s
}

// Flush submits the current window. Buffers are reset even when submission
// fails; delivery is at most once.
func (b *Backend) Flush() error {
	snap := b.snapshotAndReset()
	if snap.isEmpty() {
		return nil
	}
	payload := datadogV2.MetricPayload{Series: b.buildSeries(snap, b.now().Unix())}
	_, _, err := b.api.SubmitMetrics(b.ctx, payload, *datadogV2.NewSubmitMetricsOptionalParameters())
	if err != nil {
		return fmt.Errorf("datadog submit: %w", err)
	}
	return nil
}

// buildSeries is pure so naming and tagging can be tested without a network.
// Series are emitted in a stable order.
func (b *Backend) buildSeries(s buffers, nowUnix int64) []datadogV2.MetricSeries {
	var series []datadogV2.MetricSeries

	for _, outcome := range sortedKeys(s.pages) {
		series = append(series, countSeries("ratewatch.pages.total", s.pages[outcome], withTags(b.baseTags, "outcome:"+outcome), nowUnix))
	}
	for _, kind := range sortedKeys(s.records) {
		series = append(series, countSeries("ratewatch.records.total", s.records[kind], withTags(b.baseTags, "kind:"+kind), nowUnix))
	}
	if s.rowsInserted != 0 {
		series = append(series, countSeries("ratewatch.db.rows_inserted.total", s.rowsInserted, b.baseTags, nowUnix))
	}
	for _, k := range sortedKeys(s.steps) {
		step, status := splitStepStatusKey(k)
		series = append(series, countSeries("ratewatch.step.total", s.steps[k], withTags(b.baseTags, "step:"+step, "status:"+status), nowUnix))
	}
	for _, k := range sortedKeys(s.stepDur) {
		step, status := splitStepStatusKey(k)
		series = appendPercentiles(series, "ratewatch.step.duration_seconds", s.stepDur[k], withTags(b.baseTags, "step:"+step, "status:"+status), nowUnix)
	}
	for _, status := range sortedKeys(s.httpReqs) {
		series = append(series, countSeries("ratewatch.http.requests.total", s.httpReqs[status], withTags(b.baseTags, "status:"+status), nowUnix))
	}
	for _, status := range sortedKeys(s.httpErrs) {
		series = append(series, countSeries("ratewatch.http.errors.total", s.httpErrs[status], withTags(b.baseTags, "status:"+status), nowUnix))
	}
	for _, status := range sortedKeys(s.httpDur) {
		series = appendPercentiles(series, "ratewatch.http.request_duration_seconds", s.httpDur[status], withTags(b.baseTags, "status:"+status), nowUnix)
	}
	for _, status := range sortedKeys(s.httpBytes) {
		series = appendPercentiles(series, "ratewatch.http.download_bytes", s.httpBytes[status], withTags(b.baseTags, "status:"+status), nowUnix)
	}
	return series
}

// appendPercentiles sorts a copy of samples; the input is not mutated.
func appendPercentiles(series []datadogV2.MetricSeries, prefix string, samples []float64, tags []string, nowUnix int64) []datadogV2.MetricSeries {
	if len(samples) == 0 {
		return series
	}
	cp := append([]float64(nil), samples...)
	sort.Float64s(cp)

	return append(series,
		gaugeSeries(prefix+".p50", percentileNearestRank(cp, 0.50), tags, nowUnix),
		gaugeSeries(prefix+".p90", percentileNearestRank(cp, 0.90), tags, nowUnix),
		gaugeSeries(prefix+".p95", percentileNearestRank(cp, 0.95), tags, nowUnix),
		gaugeSeries(prefix+".p99", percentileNearestRank(cp, 0.99), tags, nowUnix),
		gaugeSeries(prefix+".max", cp[len(cp)-1], tags, nowUnix),
		gaugeSeries(prefix+".samples", float64(len(cp)), tags, nowUnix),
	)
}

func countSeries(metric string, value float64, tags []string, nowUnix int64) datadogV2.MetricSeries {
	return point(metric, datadogV2.METRICINTAKETYPE_COUNT, value, tags, nowUnix)
}

func gaugeSeries(metric string, value float64, tags []string, nowUnix int64) datadogV2.MetricSeries {
	return point(metric, datadogV2.METRICINTAKETYPE_GAUGE, value, tags, nowUnix)
}

func point(metric string, typ datadogV2.MetricIntakeType, value float64, tags []string, nowUnix int64) datadogV2.MetricSeries {
	return datadogV2.MetricSeries{
		Metric: metric,
		Type:   typ.Ptr(),
		Points: []datadogV2.MetricPoint{
			{Timestamp: dd.PtrInt64(nowUnix), Value: dd.PtrFloat64(value)},
		},
		Tags: tags,
	}
}

func percentileNearestRank(s []float64, p float64) float64 {
	n := len(s)
	if n == 0 {
		return 0
	}
	if p <= 0 {
		return s[0]
	}
	if p >= 1 {
		return s[n-1]
	}
	idx := int(p*float64(n-1) + 0.5)
	if idx >= n {
		idx = n - 1
	}
	return s[idx]
}

func stepStatusKey(step, status string) string {
	if step == "" {
		step = "unknown"
	}
	if status == "" {
		status = "unknown"
	}
	return step + "\x00" + status
}

func splitStepStatusKey(k string) (step, status string) {
	if i := strings.IndexByte(k, 0); i >= 0 {
		return k[:i], k[i+1:]
	}
	return k, "unknown"
}

func labelOr(l metrics.Labels, key string) string {
	if v := l[key]; v != "" {
		return v
	}
	return "unknown"
}

func withTags(base []string, extras ...string) []string {
	out := make([]string, 0, len(base)+len(extras))
	out = append(out, base...)
	return append(out, extras...)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// resolveEnvTag prefers ENV, then DD_ENV.
func resolveEnvTag() string {
	if v := strings.TrimSpace(os.Getenv("ENV")); v != "" {
		return "env:" + v
	}
	if v := strings.TrimSpace(os.Getenv("DD_ENV")); v != "" {
		return "env:" + v
	}
	return "env:unknown"
}

// ParseTagsCSV parses "env:prod,service:ratewatch" into tags, skipping blanks.
func ParseTagsCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func wrapInitErr(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("datadog metrics init: %w", err)
}

var _ metrics.Backend = (*Backend)(nil)
