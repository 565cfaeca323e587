package registry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// DocumentsByState tracks registered documents per lifecycle state.
// Labels: state (unindexed, indexing, indexed, reindexing, indexing_failed)
var DocumentsByState = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "docindex",
		Subsystem: "registry",
		Name:      "documents",
		Help:      "Number of registered documents by index state",
	},
	[]string{"state"},
)

func (r *Registry) updateGauge() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	r.updateGaugeLocked()
}

// updateGaugeLocked must be called with r.mu held.
func (r *Registry) updateGaugeLocked() {
	counts := make(map[State]int, len(allStates))
	for _, e := range r.entries {
		counts[e.state]++
	}
	for _, s := range allStates {
		DocumentsByState.WithLabelValues(string(s)).Set(float64(counts[s]))
	}
}
