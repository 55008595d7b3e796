package metrics

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type recorder struct {
	mu       sync.Mutex
	counters map[string]float64
	hists    map[string]int
}

func newRecorder() *recorder {
	return &recorder{counters: map[string]float64{}, hists: map[string]int{}}
}

func (r *recorder) IncCounter(name string, delta float64, l Labels) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counters[name+"|"+l["status"]] += delta
}

func (r *recorder) ObserveHistogram(name string, _ float64, l Labels) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hists[name+"|"+l["status"]]++
}

func TestRecordHTTP(t *testing.T) {
	t.Parallel()

	r := newRecorder()
	RecordHTTP(r, 200, time.Millisecond, 512)
	RecordHTTP(r, 503, time.Millisecond, 10)
	RecordHTTP(r, 0, time.Millisecond, -1)

	assert.Equal(t, 1.0, r.counters[HTTPRequestsTotal+"|200"])
	assert.Zero(t, r.counters[HTTPErrorsTotal+"|200"])
	assert.Equal(t, 1.0, r.counters[HTTPErrorsTotal+"|503"])
	assert.Equal(t, 1.0, r.counters[HTTPErrorsTotal+"|error"])
	assert.Equal(t, 1, r.hists[HTTPDownloadBytes+"|200"])
	assert.Zero(t, r.hists[HTTPDownloadBytes+"|error"])
}

func TestRecordStep_StatusFromError(t *testing.T) {
	t.Parallel()

	r := newRecorder()
	RecordStep(r, "login", time.Now(), nil)
	RecordStep(r, "login", time.Now(), errors.New("boom"))

	assert.Equal(t, 1.0, r.counters[StepTotal+"|ok"])
	assert.Equal(t, 1.0, r.counters[StepTotal+"|error"])
	assert.Equal(t, 1, r.hists[StepDuration+"|error"])
}

func TestMultiAndOrNop(t *testing.T) {
	t.Parallel()

	a, b := newRecorder(), newRecorder()
	m := Multi{a, b}
	m.IncCounter(PagesTotal, 2, Labels{"status": "x"})
	m.ObserveHistogram(StepDuration, 1, Labels{"status": "x"})

	assert.Equal(t, 2.0, a.counters[PagesTotal+"|x"])
	assert.Equal(t, 2.0, b.counters[PagesTotal+"|x"])
	assert.Equal(t, 1, b.hists[StepDuration+"|x"])

	assert.IsType(t, Nop{}, OrNop(nil))
	assert.Same(t, a, OrNop(a))
}
