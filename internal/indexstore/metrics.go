package indexstore

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PersistDuration tracks how long a persist takes from staging to commit.
	PersistDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "docindex",
			Subsystem: "indexstore",
			Name:      "persist_duration_seconds",
			Help:      "Duration of index persist operations in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)

	// PersistTotal counts persist operations.
	// Labels: result (success, error, canceled)
	PersistTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docindex",
			Subsystem: "indexstore",
			Name:      "persist_total",
			Help:      "Total number of index persist operations",
		},
		[]string{"result"},
	)

	// LoadTotal counts index loads.
	// Labels: result (success, not_found, corrupt, error)
	LoadTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docindex",
			Subsystem: "indexstore",
			Name:      "load_total",
			Help:      "Total number of index load operations",
		},
		[]string{"result"},
	)

	// CorruptionsTotal counts artifacts that failed verification.
	CorruptionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "docindex",
			Subsystem: "indexstore",
			Name:      "corruptions_total",
			Help:      "Total number of index artifacts that failed verification",
		},
	)
)
