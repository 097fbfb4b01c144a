// Prometheus metrics for the offline worker
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Fetch outcomes
const (
	FetchCache       = "cache"
	FetchNetwork     = "network"
	FetchOffline     = "offline"
	FetchPassthrough = "passthrough"
)

// Install outcomes
const (
	InstallPopulated = "populated"
	InstallFailed    = "failed"
	InstallSkipped   = "skipped"
)

// Metrics methods are safe to call on a nil receiver
type Metrics struct {
	registry      *prometheus.Registry
	fetches       *prometheus.CounterVec
	installs      *prometheus.CounterVec
	cachesDeleted prometheus.Counter
	state         prometheus.Gauge
}

func New() *Metrics {
	registry := prometheus.NewRegistry()

	fetches := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "offline_fetch_total",
		Help: "Fetch events by response source",
	}, []string{"source"})

	installs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "offline_install_total",
		Help: "Install events by outcome",
	}, []string{"result"})

	cachesDeleted := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "offline_caches_deleted_total",
		Help: "Stale caches deleted on activate",
	})

	state := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "offline_lifecycle_state",
		Help: "Worker lifecycle state: 0 uninstalled, 1 installed, 2 active",
	})

	registry.MustRegister(fetches, installs, cachesDeleted, state)

	return &Metrics{
		registry:      registry,
		fetches:       fetches,
		installs:      installs,
		cachesDeleted: cachesDeleted,
		state:         state,
	}
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ObserveFetch(source string) {
	if m == nil {
		return
	}
	m.fetches.WithLabelValues(source).Inc()
}

func (m *Metrics) ObserveInstall(result string) {
	if m == nil {
		return
	}
	m.installs.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveCacheDeleted() {
	if m == nil {
		return
	}
	m.cachesDeleted.Inc()
}

func (m *Metrics) SetState(state int) {
	if m == nil {
		return
	}
	m.state.Set(float64(state))
}

// Handler exposes the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
