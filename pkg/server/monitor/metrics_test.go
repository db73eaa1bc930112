package monitor

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hvacdash/hvacdash/pkg/compaction"
	"github.com/hvacdash/hvacdash/pkg/storage"
)

func TestMetrics_Counters(t *testing.T) {
	m := NewMetrics()

	m.ObserveIngest(storage.OutcomeExtended)
	m.ObserveIngest(storage.OutcomeExtended)
	m.ObserveIngest(storage.OutcomeInserted)
	m.RecordWindow("week", compaction.Result{Buckets: 4, EntriesIn: 40}, nil)
	m.RecordWindow("month", compaction.Result{}, errors.New("boom"))
	m.PollFailed()

	body := scrape(t, m)
	for _, want := range []string{
		`hvacdash_readings_total{outcome="extended"} 2`,
		`hvacdash_readings_total{outcome="inserted"} 1`,
		`hvacdash_compaction_buckets_total{window="week"} 4`,
		`hvacdash_compaction_entries_removed_total{window="week"} 40`,
		`hvacdash_retention_failures_total{window="month"} 1`,
		`hvacdash_poll_errors_total 1`,
	} {
		assert.Contains(t, body, want)
	}
	assert.NotContains(t, body, `hvacdash_retention_failures_total{window="week"}`)
}

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	return rec.Body.String()
}

func TestMetrics_NilIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveIngest(storage.OutcomeInserted)
		m.RecordWindow("week", compaction.Result{}, nil)
		m.PollFailed()
	})
}

func TestMetrics_Handler(t *testing.T) {
	m := NewMetrics()
	wrapped := m.WrapHandler("status", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	wrapped.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/status", nil))

	assert.Contains(t, scrape(t, m), `hvacdash_http_requests_total{route="status",status="418"} 1`)
}
