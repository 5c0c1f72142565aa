package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	remoteCalls  *prometheus.CounterVec
	errorsTotal  *prometheus.CounterVec
	cacheResults *prometheus.CounterVec
	ensembleSize prometheus.Gauge
	latency      *prometheus.HistogramVec
}

// New creates a new Prometheus metrics recorder registered on reg.
// A nil reg uses the default registerer.
func New(reg prometheus.Registerer) *Recorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Recorder{
		remoteCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signaldesk_remote_calls_total",
				Help: "Total number of calls to the strategy service",
			},
			[]string{"operation", "outcome"},
		),
		errorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signaldesk_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		cacheResults: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signaldesk_signal_cache_total",
				Help: "Signal cache lookups by result",
			},
			[]string{"result"},
		),
		ensembleSize: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "signaldesk_ensemble_members",
				Help: "Current number of ensemble members",
			},
		),
		latency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "signaldesk_remote_call_duration_seconds",
				Help:    "Duration of strategy service calls in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
}

// RecordRemoteCall records one strategy service call and its latency.
func (r *Recorder) RecordRemoteCall(op string, err error, seconds float64) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	r.remoteCalls.WithLabelValues(op, outcome).Inc()
	r.latency.WithLabelValues(op).Observe(seconds)
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordCache records a cache hit, miss or stale discard.
func (r *Recorder) RecordCache(result string) {
	r.cacheResults.WithLabelValues(result).Inc()
}

// RecordEnsembleSize records the number of ensemble members.
func (r *Recorder) RecordEnsembleSize(n int) {
	r.ensembleSize.Set(float64(n))
}

// Nop discards every measurement.
type Nop struct{}

func (Nop) RecordRemoteCall(string, error, float64) {}
func (Nop) RecordCache(string)                      {}
func (Nop) RecordError(string)                      {}
func (Nop) RecordEnsembleSize(int)                  {}

