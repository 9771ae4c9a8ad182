// Package metrics provides Prometheus metrics for query execution.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Execution metrics
	ExecutionsTotal   *prometheus.CounterVec
	ExecutionDuration *prometheus.HistogramVec

	// Rendering metrics
	RendersTotal *prometheus.CounterVec

	// Metadata cache metrics
	CacheHitsTotal   prometheus.Counter
	CacheMissesTotal prometheus.Counter
}

// New creates the collectors and registers them on reg. A nil reg creates
// unregistered collectors.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	m := &Metrics{}

	m.ExecutionsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "finder_executions_total",
			Help: "Total number of repository method executions",
		},
		[]string{"strategy", "outcome"},
	)

	m.ExecutionDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "finder_execution_duration_seconds",
			Help:    "Duration of repository method executions in seconds",
			Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"strategy"},
	)

	m.RendersTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "finder_renders_total",
			Help: "Total number of query texts rendered, by query kind",
		},
		[]string{"kind"},
	)

	m.CacheHitsTotal = f.NewCounter(
		prometheus.CounterOpts{
			Name: "finder_metadata_cache_hits_total",
			Help: "Total number of query metadata cache hits",
		},
	)

	m.CacheMissesTotal = f.NewCounter(
		prometheus.CounterOpts{
			Name: "finder_metadata_cache_misses_total",
			Help: "Total number of query metadata cache misses",
		},
	)

	return m
}

// RecordExecution records one execution. outcome is "ok" or an error code.
func (m *Metrics) RecordExecution(strategy, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.ExecutionsTotal.WithLabelValues(strategy, outcome).Inc()
	m.ExecutionDuration.WithLabelValues(strategy).Observe(d.Seconds())
}

// RecordRender records one rendered query text.
func (m *Metrics) RecordRender(kind string) {
	if m == nil {
		return
	}
	m.RendersTotal.WithLabelValues(kind).Inc()
}

// ObserveCache records a metadata cache lookup. It matches the observer
// signature of bind.MetadataCache.
func (m *Metrics) ObserveCache(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.CacheHitsTotal.Inc()
		return
	}
	m.CacheMissesTotal.Inc()
}
