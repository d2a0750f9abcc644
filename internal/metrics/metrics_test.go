package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_Record(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.RecordRequest("succeeded", time.Second)
	m.RecordRequest("succeeded", time.Second)
	m.RecordAttempt("stream", "timeout", 2*time.Second)
	m.RecordFallback("succeeded")
	m.RecordTruncation()
	m.RecordUnparsableLine()
	m.RecordCredentialFailure("transport")
	m.IncRequestsInFlight()

	if got := testutil.ToFloat64(m.RequestsTotal.WithLabelValues("succeeded")); got != 2 {
		t.Errorf("requests_total{succeeded} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.AttemptsTotal.WithLabelValues("stream", "timeout")); got != 1 {
		t.Errorf("attempts_total{stream,timeout} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.FallbacksTotal.WithLabelValues("succeeded")); got != 1 {
		t.Errorf("fallbacks_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.TruncationsTotal); got != 1 {
		t.Errorf("truncations_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.UnparsableLinesTotal); got != 1 {
		t.Errorf("unparsable_lines_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.CredentialFailuresTotal.WithLabelValues("transport")); got != 1 {
		t.Errorf("credential_failures_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.RequestsInFlight); got != 1 {
		t.Errorf("requests_in_flight = %v, want 1", got)
	}
	m.DecRequestsInFlight()
	if got := testutil.ToFloat64(m.RequestsInFlight); got != 0 {
		t.Errorf("requests_in_flight = %v, want 0", got)
	}
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	m.RecordRequest("cancelled", time.Second)
	m.RecordAttempt("buffered", "success", time.Second)
	m.RecordFallback("failed")
	m.RecordTruncation()
	m.RecordUnparsableLine()
	m.RecordCredentialFailure("timeout")
	m.IncRequestsInFlight()
	m.DecRequestsInFlight()
}

func TestHandlerFor(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.RecordTruncation()

	rec := httptest.NewRecorder()
	HandlerFor(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "genstream_truncations_total 1") {
		t.Errorf("metrics output missing truncation counter:\n%s", rec.Body.String())
	}
}
