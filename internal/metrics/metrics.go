package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics instruments the dispatcher. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	AttemptsTotal   *prometheus.CounterVec
	AttemptDuration *prometheus.HistogramVec

	CredentialFailuresTotal *prometheus.CounterVec
	FallbacksTotal          *prometheus.CounterVec

	TruncationsTotal     prometheus.Counter
	UnparsableLinesTotal prometheus.Counter
}

// New registers the collectors on reg, or on the default registerer when
// reg is nil.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	m := &Metrics{
		RequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "genstream_requests_total",
				Help: "Total number of logical generation requests by final status",
			},
			[]string{"status"},
		),
		RequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "genstream_request_duration_seconds",
				Help:    "Logical request duration in seconds",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"status"},
		),
		RequestsInFlight: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "genstream_requests_in_flight",
				Help: "Number of logical requests currently being processed",
			},
		),

		AttemptsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "genstream_attempts_total",
				Help: "Total number of network attempts by mode and outcome",
			},
			[]string{"mode", "outcome"},
		),
		AttemptDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "genstream_attempt_duration_seconds",
				Help:    "Network attempt duration in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 20, 40, 60},
			},
			[]string{"mode"},
		),

		CredentialFailuresTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "genstream_credential_failures_total",
				Help: "Credentials given up on within a request, by failure kind",
			},
			[]string{"kind"},
		),
		FallbacksTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "genstream_fallbacks_total",
				Help: "Buffered fallback calls issued after empty streams",
			},
			[]string{"outcome"},
		),

		TruncationsTotal: f.NewCounter(
			prometheus.CounterOpts{
				Name: "genstream_truncations_total",
				Help: "Generations that finished with finish_reason=length",
			},
		),
		UnparsableLinesTotal: f.NewCounter(
			prometheus.CounterOpts{
				Name: "genstream_unparsable_lines_total",
				Help: "Stream lines skipped because they could not be decoded",
			},
		),
	}

	return m
}

func Handler() http.Handler {
	return promhttp.Handler()
}

// HandlerFor serves a specific registry.
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

func (m *Metrics) RecordRequest(status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(status).Inc()
	m.RequestDuration.WithLabelValues(status).Observe(duration.Seconds())
}

func (m *Metrics) RecordAttempt(mode, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.AttemptsTotal.WithLabelValues(mode, outcome).Inc()
	m.AttemptDuration.WithLabelValues(mode).Observe(duration.Seconds())
}

func (m *Metrics) RecordCredentialFailure(kind string) {
	if m == nil {
		return
	}
	m.CredentialFailuresTotal.WithLabelValues(kind).Inc()
}

func (m *Metrics) RecordFallback(outcome string) {
	if m == nil {
		return
	}
	m.FallbacksTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordTruncation() {
	if m == nil {
		return
	}
	m.TruncationsTotal.Inc()
}

func (m *Metrics) RecordUnparsableLine() {
	if m == nil {
		return
	}
	m.UnparsableLinesTotal.Inc()
}

func (m *Metrics) IncRequestsInFlight() {
	if m == nil {
		return
	}
	m.RequestsInFlight.Inc()
}

func (m *Metrics) DecRequestsInFlight() {
	if m == nil {
		return
	}
	m.RequestsInFlight.Dec()
}
