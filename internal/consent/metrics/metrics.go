// Package metrics exposes Prometheus counters for the consent lifecycle.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	grants               prometheus.Counter
	revocations          *prometheus.CounterVec
	supersedes           prometheus.Counter
	partialSupersedes    prometheus.Counter
	concurrencyConflicts prometheus.Counter
}

// New registers the consent counters on the default registry. Call once per
// process; a nil *Metrics is valid and records nothing.
func New() *Metrics {
	return &Metrics{
		grants: promauto.NewCounter(prometheus.CounterOpts{
			Name: "consentd_consent_grants_total",
			Help: "Total consent records granted.",
		}),
		revocations: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "consentd_consent_revocations_total",
			Help: "Total consent revocations by kind.",
		}, []string{"kind"}),
		supersedes: promauto.NewCounter(prometheus.CounterOpts{
			Name: "consentd_consent_supersedes_total",
			Help: "Total consent records superseded.",
		}),
		partialSupersedes: promauto.NewCounter(prometheus.CounterOpts{
			Name: "consentd_consent_partial_supersedes_total",
			Help: "Supersede operations that revoked the old record but failed to grant the new one.",
		}),
		concurrencyConflicts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "consentd_consent_concurrency_conflicts_total",
			Help: "Consent writes rejected by the version check.",
		}),
	}
}

func (m *Metrics) IncGrants() {
	if m == nil {
		return
	}
	m.grants.Inc()
}

// IncRevocations records a revocation; kind is "full" or "partial".
func (m *Metrics) IncRevocations(kind string) {
	if m == nil {
		return
	}
	m.revocations.WithLabelValues(kind).Inc()
}

func (m *Metrics) IncSupersedes() {
	if m == nil {
		return
	}
	m.supersedes.Inc()
}

func (m *Metrics) IncPartialSupersedes() {
	if m == nil {
		return
	}
	m.partialSupersedes.Inc()
}

func (m *Metrics) IncConcurrencyConflicts() {
	if m == nil {
		return
	}
	m.concurrencyConflicts.Inc()
}
