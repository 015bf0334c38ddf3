// Package metrics exposes Prometheus instruments for the cache and the
// generation service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sectiond_cache_hits_total",
			Help: "Regeneration cache lookups served from memory",
		},
		[]string{"namespace"},
	)

	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sectiond_cache_misses_total",
			Help: "Regeneration cache lookups that required production, forced calls included",
		},
		[]string{"namespace"},
	)

	CacheEvictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sectiond_cache_evictions_total",
			Help: "Entries dropped from the regeneration cache",
		},
		[]string{"reason"}, // expired, capacity
	)

	GenerationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sectiond_generations_total",
			Help: "Generation requests by operation and outcome",
		},
		[]string{"operation", "status"}, // status: cached, generated, error
	)

	GenerationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sectiond_generation_duration_seconds",
			Help:    "Wall time of generation requests",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14), // 10ms to ~80s
		},
		[]string{"operation"},
	)

	AssembledSections = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sectiond_assembled_sections",
			Help:    "Number of sections produced per assembly",
			Buckets: []float64{1, 2, 3, 4, 6, 8, 12, 16},
		},
		[]string{"operation"},
	)
)

// CacheObserver forwards cache events to the Prometheus counters.
type CacheObserver struct{}

func (CacheObserver) CacheHit(namespace string)  { CacheHits.WithLabelValues(namespace).Inc() }
func (CacheObserver) CacheMiss(namespace string) { CacheMisses.WithLabelValues(namespace).Inc() }
func (CacheObserver) CacheEvicted(reason string) { CacheEvictions.WithLabelValues(reason).Inc() }

// ObserveGeneration records one finished generation request.
func ObserveGeneration(operation, status string, elapsed time.Duration) {
	GenerationsTotal.WithLabelValues(operation, status).Inc()
	GenerationDuration.WithLabelValues(operation).Observe(elapsed.Seconds())
}
