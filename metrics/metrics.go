// Package metrics exposes Prometheus instrumentation for the server. All
// methods are safe on a nil *Metrics so callers never need to check.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "kiln"

// Request kinds.
const (
	KindPage       = "page"
	KindStatic     = "static"
	KindMiddleware = "middleware"
	KindHotReload  = "hot_reload"
	KindInternal   = "internal"
)

type Metrics struct {
	registry *prometheus.Registry

	requestsTotal     *prometheus.CounterVec
	renderDuration    *prometheus.HistogramVec
	rebuildsTotal     *prometheus.CounterVec
	rebuildDuration   prometheus.Histogram
	hotReloadClients  prometheus.Gauge
	broadcastFailures prometheus.Counter
	moduleLoadErrors  prometheus.Counter
}

// New registers the collectors on reg, or on a fresh registry when reg is
// nil.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		requestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Requests handled, by dispatch kind and status code",
		}, []string{"kind", "status"}),

		renderDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "render_duration_seconds",
			Help:      "Page render duration in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}, []string{"route"}),

		rebuildsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rebuilds_total",
			Help:      "Rebuilds run, by result",
		}, []string{"result"}),

		rebuildDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rebuild_duration_seconds",
			Help:      "Full rebuild pipeline duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}),

		hotReloadClients: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "hot_reload_clients",
			Help:      "Connected hot reload clients",
		}),

		broadcastFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcast_failures_total",
			Help:      "Hot reload clients dropped after a failed send",
		}),

		moduleLoadErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "module_load_errors_total",
			Help:      "Rendering modules that failed to load",
		}),
	}
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) ObserveRequest(kind string, status int) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(kind, strconv.Itoa(status)).Inc()
}

func (m *Metrics) ObserveRender(route string, d time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "/"
	}
	m.renderDuration.WithLabelValues(route).Observe(d.Seconds())
}

// ObserveRebuild records one pipeline run. A build that produced stderr
// counts as failed.
func (m *Metrics) ObserveRebuild(ok bool, d time.Duration) {
	if m == nil {
		return
	}
	result := "success"
	if !ok {
		result = "failure"
	}
	m.rebuildsTotal.WithLabelValues(result).Inc()
	m.rebuildDuration.Observe(d.Seconds())
}

func (m *Metrics) SetHotReloadClients(n int) {
	if m == nil {
		return
	}
	m.hotReloadClients.Set(float64(n))
}

func (m *Metrics) IncBroadcastFailure() {
	if m == nil {
		return
	}
	m.broadcastFailures.Inc()
}

func (m *Metrics) IncModuleLoadError() {
	if m == nil {
		return
	}
	m.moduleLoadErrors.Inc()
}
