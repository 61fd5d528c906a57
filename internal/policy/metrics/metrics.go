package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for the policy version manager.
// A nil *Metrics is valid and records nothing, so unit suites don't have to
// touch the process-wide registry.
type Metrics struct {
	versionsCreated         prometheus.Counter
	statusTransitions       *prometheus.CounterVec
	concurrencyConflicts    prometheus.Counter
	activeInvariantBreaches prometheus.Counter
	cacheHits               prometheus.Counter
	cacheMisses             prometheus.Counter
}

// New creates and registers all policy metrics.
func New() *Metrics {
	return &Metrics{
		versionsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "consentd_policy_versions_created_total",
			Help: "Total number of policy versions created",
		}),
		statusTransitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "consentd_policy_status_transitions_total",
			Help: "Total number of policy status transitions by target status",
		}, []string{"status"}),
		concurrencyConflicts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "consentd_policy_concurrency_conflicts_total",
			Help: "Total number of policy writes rejected by the version check",
		}),
		activeInvariantBreaches: promauto.NewCounter(prometheus.CounterOpts{
			Name: "consentd_policy_active_invariant_breaches_total",
			Help: "Times a group was observed with more than one active version",
		}),
		cacheHits: promauto.NewCounter(prometheus.CounterOpts{
			Name: "consentd_policy_cache_hits_total",
			Help: "Latest-active policy cache hits",
		}),
		cacheMisses: promauto.NewCounter(prometheus.CounterOpts{
			Name: "consentd_policy_cache_misses_total",
			Help: "Latest-active policy cache misses",
		}),
	}
}

func (m *Metrics) IncVersionsCreated() {
	if m != nil {
		m.versionsCreated.Inc()
	}
}

func (m *Metrics) IncStatusTransition(status string) {
	if m != nil {
		m.statusTransitions.WithLabelValues(status).Inc()
	}
}

func (m *Metrics) IncConcurrencyConflicts() {
	if m != nil {
		m.concurrencyConflicts.Inc()
	}
}

func (m *Metrics) IncActiveInvariantBreaches() {
	if m != nil {
		m.activeInvariantBreaches.Inc()
	}
}

func (m *Metrics) IncCacheHits() {
	if m != nil {
		m.cacheHits.Inc()
	}
}

func (m *Metrics) IncCacheMisses() {
	if m != nil {
		m.cacheMisses.Inc()
	}
}
