package rbac

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors for authorization decisions.
type Metrics struct {
	decisions     *prometheus.CounterVec
	cacheLookups  *prometheus.CounterVec
	loadFailures  prometheus.Counter
	invalidations *prometheus.CounterVec
}

var (
	defaultMetricsOnce sync.Once
	defaultMetrics     *Metrics
)

// NewMetrics registers the RBAC collectors. A nil registerer uses the Prometheus default.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		defaultMetricsOnce.Do(func() {
			defaultMetrics = buildMetrics(prometheus.DefaultRegisterer)
		})
		return defaultMetrics
	}
	return buildMetrics(registerer)
}

func buildMetrics(registerer prometheus.Registerer) *Metrics {
	decisions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fieldops_rbac_decisions_total",
		Help: "Authorization decisions partitioned by result.",
	}, []string{"result"})
	lookups := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fieldops_rbac_cache_lookups_total",
		Help: "Permission cache lookups partitioned by hit or miss.",
	}, []string{"result"})
	failures := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fieldops_rbac_load_failures_total",
		Help: "Permission loads that failed and were resolved as a denial.",
	})
	invalidations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fieldops_rbac_invalidations_total",
		Help: "Permission cache invalidations partitioned by scope.",
	}, []string{"scope"})
	registerer.MustRegister(decisions, lookups, failures, invalidations)
	return &Metrics{decisions: decisions, cacheLookups: lookups, loadFailures: failures, invalidations: invalidations}
}

func (m *Metrics) decision(allowed bool) {
	if m == nil {
		return
	}
	if allowed {
		m.decisions.WithLabelValues("allow").Inc()
		return
	}
	m.decisions.WithLabelValues("deny").Inc()
}

func (m *Metrics) cacheLookup(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.cacheLookups.WithLabelValues("hit").Inc()
		return
	}
	m.cacheLookups.WithLabelValues("miss").Inc()
}

func (m *Metrics) loadFailure() {
	if m == nil {
		return
	}
	m.loadFailures.Inc()
}

func (m *Metrics) invalidation(scope string) {
	if m == nil {
		return
	}
	m.invalidations.WithLabelValues(scope).Inc()
}
