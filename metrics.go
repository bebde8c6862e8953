package offlinecache

import (
	"github.com/always-cache/offline-cache/namespace"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics records worker activity to Prometheus.
// All methods are safe to call on a nil *Metrics, which records nothing.
type Metrics struct {
	events            *prometheus.CounterVec
	responses         *prometheus.CounterVec
	revalidations     *prometheus.CounterVec
	precached         *prometheus.CounterVec
	namespacesDeleted prometheus.Counter
}

// NewMetrics registers the worker metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		events: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "offline_cache_events_total",
				Help: "Total number of host events dispatched to the worker by kind",
			},
			[]string{"kind"},
		),
		responses: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "offline_cache_responses_total",
				Help: "Total number of intercepted requests by strategy, namespace and response source",
			},
			[]string{"strategy", "namespace", "source"}, // source: cache, network, fallback
		),
		revalidations: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "offline_cache_revalidations_total",
				Help: "Total number of background revalidations by result",
			},
			[]string{"result"}, // stored, not-stored, failed
		),
		precached: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "offline_cache_precache_assets_total",
				Help: "Total number of assets pre-cached on install by namespace and result",
			},
			[]string{"namespace", "result"},
		),
		namespacesDeleted: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "offline_cache_namespaces_deleted_total",
				Help: "Total number of obsolete namespaces deleted on activation",
			},
		),
	}
}

func (m *Metrics) event(kind EventKind) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(string(kind)).Inc()
}

func (m *Metrics) response(s Strategy, ns namespace.NamespaceId, source string) {
	if m == nil {
		return
	}
	m.responses.WithLabelValues(s.String(), ns.String(), source).Inc()
}

func (m *Metrics) revalidation(result string) {
	if m == nil {
		return
	}
	m.revalidations.WithLabelValues(result).Inc()
}

func (m *Metrics) precache(ns namespace.NamespaceId, result string) {
	if m == nil {
		return
	}
	m.precached.WithLabelValues(ns.String(), result).Inc()
}

func (m *Metrics) namespaceDeleted() {
	if m == nil {
		return
	}
	m.namespacesDeleted.Inc()
}
