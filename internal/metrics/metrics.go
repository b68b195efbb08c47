// Package metrics exposes Prometheus instrumentation for engine runs and
// ensemble verdicts.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels for engine runs.
const (
	OutcomeOK       = "ok"
	OutcomeDegraded = "degraded"
	OutcomeError    = "error"
	OutcomeSkipped  = "skipped"
)

// Recorder collects engine metrics on its own registry. A nil *Recorder is
// valid and records nothing.
type Recorder struct {
	registry   *prometheus.Registry
	runs       *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	degraded   *prometheus.CounterVec
	finalScore prometheus.Histogram
}

// New builds a Recorder with Go runtime and process collectors registered.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "truthlens_engine_runs_total",
			Help: "Total number of engine runs, by engine and outcome",
		}, []string{"engine", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "truthlens_engine_duration_seconds",
			Help:    "Wall time spent in each engine",
			Buckets: []float64{0.5, 1, 5, 10, 30, 60, 120, 300, 600},
		}, []string{"engine"}),
		degraded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "truthlens_engine_degraded_total",
			Help: "Engine runs served by demo weights or neutral fallbacks",
		}, []string{"engine"}),
		finalScore: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "truthlens_ensemble_final_score",
			Help:    "Distribution of fused ensemble scores",
			Buckets: prometheus.LinearBuckets(0, 10, 11),
		}),
	}
	r.registry.MustRegister(
		r.runs, r.duration, r.degraded, r.finalScore,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// ObserveEngine records one engine run.
func (r *Recorder) ObserveEngine(engine, outcome string, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.runs.WithLabelValues(engine, outcome).Inc()
	if outcome != OutcomeSkipped {
		r.duration.WithLabelValues(engine).Observe(elapsed.Seconds())
	}
	if outcome == OutcomeDegraded {
		r.degraded.WithLabelValues(engine).Inc()
	}
}

// ObserveFinal records a fused ensemble score.
func (r *Recorder) ObserveFinal(score float64) {
	if r == nil {
		return
	}
	r.finalScore.Observe(score)
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}
