package query

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHitsTotal counts loaded-index cache hits.
	CacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "docindex",
		Subsystem: "query",
		Name:      "index_cache_hits_total",
		Help:      "Total number of loaded-index cache hits",
	})

	// CacheMissesTotal counts loaded-index cache misses.
	CacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "docindex",
		Subsystem: "query",
		Name:      "index_cache_misses_total",
		Help:      "Total number of loaded-index cache misses",
	})

	// QueryDuration tracks end-to-end query latency.
	// Labels: scope (document, all)
	QueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "docindex",
		Subsystem: "query",
		Name:      "duration_seconds",
		Help:      "Duration of queries in seconds",
		Buckets:   prometheus.DefBuckets,
	}, []string{"scope"})
)
