package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements repository.Metrics using Prometheus.
type Recorder struct {
	workerRuns      *prometheus.CounterVec
	workerDuration  *prometheus.HistogramVec
	transitions     *prometheus.CounterVec
	cacheLookups    *prometheus.CounterVec
	upstreamFetches *prometheus.CounterVec
	upstreamLatency *prometheus.HistogramVec
	staleTraining   prometheus.Gauge
	errorsTotal     *prometheus.CounterVec
}

// New registers the collectors on reg, or on the default registry when reg is nil.
func New(reg prometheus.Registerer) *Recorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Recorder{
		workerRuns: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signallab_worker_runs_total",
				Help: "Worker process runs by role and outcome",
			},
			[]string{"role", "outcome"},
		),
		workerDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "signallab_worker_duration_seconds",
				Help:    "Wall time of worker process runs",
				Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
			[]string{"role"},
		),
		transitions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signallab_lifecycle_transitions_total",
				Help: "Model lifecycle transitions by target status",
			},
			[]string{"to"},
		),
		cacheLookups: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signallab_marketdata_cache_lookups_total",
				Help: "Market data cache lookups by kind and result",
			},
			[]string{"kind", "result"},
		),
		upstreamFetches: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signallab_upstream_fetches_total",
				Help: "Upstream market data fetches by kind and result",
			},
			[]string{"kind", "result"},
		),
		upstreamLatency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "signallab_upstream_fetch_duration_seconds",
				Help:    "Duration of upstream market data fetches",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"kind"},
		),
		staleTraining: f.NewGauge(prometheus.GaugeOpts{
			Name: "signallab_models_stale_training",
			Help: "Models stuck in training longer than the configured threshold",
		}),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signallab_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
	}
}

func (r *Recorder) RecordWorkerRun(role, outcome string, seconds float64) {
	r.workerRuns.WithLabelValues(role, outcome).Inc()
	r.workerDuration.WithLabelValues(role).Observe(seconds)
}

func (r *Recorder) RecordTransition(to string) {
	r.transitions.WithLabelValues(to).Inc()
}

// RecordCacheLookup counts a lookup; result is hit, miss or shared.
func (r *Recorder) RecordCacheLookup(kind, result string) {
	r.cacheLookups.WithLabelValues(kind, result).Inc()
}

func (r *Recorder) RecordUpstreamFetch(kind, result string, seconds float64) {
	r.upstreamFetches.WithLabelValues(kind, result).Inc()
	r.upstreamLatency.WithLabelValues(kind).Observe(seconds)
}

func (r *Recorder) RecordStaleTraining(count int) {
	r.staleTraining.Set(float64(count))
}

func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}
