// Package metrics holds the Prometheus collectors shared by the corpus store,
// the matching engine and the completion controllers.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// Metrics holds Prometheus metrics for the completion engine.
type Metrics struct {
	registry *prometheus.Registry

	// Matching
	MatchesTotal        prometheus.Counter
	MatchPartialTotal   prometheus.Counter
	MatchDuration       prometheus.Histogram
	StaleDiscardedTotal prometheus.Counter
	SupersededTotal     prometheus.Counter

	// Corpus cache
	CorpusLoadsTotal     *prometheus.CounterVec
	CorpusEvictionsTotal prometheus.Counter
	CorpusMemoryBytes    prometheus.Gauge
	CorpusCached         prometheus.Gauge
}

// Default returns the process-wide metrics, registering them on first use.
//
// All metrics are prefixed with "codeserve_":
//   - codeserve_matches_total - match passes executed
//   - codeserve_match_partial_total - passes cut short by the latency budget
//   - codeserve_match_duration_seconds - match pass latency
//   - codeserve_stale_discarded_total - results dropped because the prefix moved on
//   - codeserve_debounce_superseded_total - pending passes cancelled by a newer keystroke
//   - codeserve_corpus_loads_total{result} - corpus loads by outcome ("ok", "failed")
//   - codeserve_corpus_evictions_total - corpora evicted under memory pressure
//   - codeserve_corpus_memory_bytes - estimated size of the corpus cache
//   - codeserve_corpus_cached - number of cached corpora
func Default() *Metrics {
	metricsOnce.Do(func() {
		reg := prometheus.NewRegistry()
		factory := promauto.With(reg)
		globalMetrics = &Metrics{
			registry: reg,
			MatchesTotal: factory.NewCounter(prometheus.CounterOpts{
				Name: "codeserve_matches_total",
				Help: "Total number of match passes executed",
			}),
			MatchPartialTotal: factory.NewCounter(prometheus.CounterOpts{
				Name: "codeserve_match_partial_total",
				Help: "Total number of match passes that hit the latency budget",
			}),
			MatchDuration: factory.NewHistogram(prometheus.HistogramOpts{
				Name:    "codeserve_match_duration_seconds",
				Help:    "Duration of match passes in seconds",
				Buckets: prometheus.ExponentialBuckets(0.0001, 2, 12), // 100us to ~200ms
			}),
			StaleDiscardedTotal: factory.NewCounter(prometheus.CounterOpts{
				Name: "codeserve_stale_discarded_total",
				Help: "Total number of match results discarded because the prefix changed",
			}),
			SupersededTotal: factory.NewCounter(prometheus.CounterOpts{
				Name: "codeserve_debounce_superseded_total",
				Help: "Total number of pending match passes cancelled by newer input",
			}),
			CorpusLoadsTotal: factory.NewCounterVec(prometheus.CounterOpts{
				Name: "codeserve_corpus_loads_total",
				Help: "Total number of corpus loads by result",
			}, []string{"result"}),
			CorpusEvictionsTotal: factory.NewCounter(prometheus.CounterOpts{
				Name: "codeserve_corpus_evictions_total",
				Help: "Total number of corpora evicted under memory pressure",
			}),
			CorpusMemoryBytes: factory.NewGauge(prometheus.GaugeOpts{
				Name: "codeserve_corpus_memory_bytes",
				Help: "Estimated memory held by cached corpora",
			}),
			CorpusCached: factory.NewGauge(prometheus.GaugeOpts{
				Name: "codeserve_corpus_cached",
				Help: "Number of corpora currently cached",
			}),
		}
	})
	return globalMetrics
}

// Handler serves the metrics registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Gatherer(), promhttp.HandlerOpts{})
}

// Gatherer exposes the underlying registry.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}

// RecordMatch records one match pass.
func (m *Metrics) RecordMatch(elapsed time.Duration, partial bool) {
	m.MatchesTotal.Inc()
	m.MatchDuration.Observe(elapsed.Seconds())
	if partial {
		m.MatchPartialTotal.Inc()
	}
}

// RecordStale records a discarded stale result.
func (m *Metrics) RecordStale() {
	m.StaleDiscardedTotal.Inc()
}

// RecordSuperseded records a pending pass cancelled by newer input.
func (m *Metrics) RecordSuperseded() {
	m.SupersededTotal.Inc()
}

// RecordLoad records a corpus load outcome.
func (m *Metrics) RecordLoad(ok bool) {
	result := "ok"
	if !ok {
		result = "failed"
	}
	m.CorpusLoadsTotal.WithLabelValues(result).Inc()
}

// RecordEviction records an evicted corpus.
func (m *Metrics) RecordEviction() {
	m.CorpusEvictionsTotal.Inc()
}

// SetCacheState updates the corpus cache gauges.
func (m *Metrics) SetCacheState(bytes int64, cached int) {
	m.CorpusMemoryBytes.Set(float64(bytes))
	m.CorpusCached.Set(float64(cached))
}
