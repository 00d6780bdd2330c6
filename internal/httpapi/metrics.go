package httpapi

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "clash_relay"

// Metrics owns a private registry so handlers built in tests never share
// counters.
type Metrics struct {
	registry *prometheus.Registry

	requests          *prometheus.CounterVec
	appErrors         *prometheus.CounterVec
	transformDuration *prometheus.HistogramVec
	proxiesOut        prometheus.Gauge
	danglingRefs      prometheus.Gauge
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by ServeMux pattern and status.",
		}, []string{"pattern", "status"}),
		appErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "app_errors_total",
			Help:      "Application errors returned to clients.",
		}, []string{"stage", "code"}),
		transformDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "transform_duration_seconds",
			Help:      "Time spent decoding, rewriting and encoding one document.",
			Buckets:   []float64{0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"policy"}),
		proxiesOut: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "last_proxies_served",
			Help:      "Proxy entries in the most recently served document.",
		}),
		danglingRefs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "last_dangling_references",
			Help:      "Unresolved references in the most recently served document.",
		}),
	}
	reg.MustRegister(
		m.requests,
		m.appErrors,
		m.transformDuration,
		m.proxiesOut,
		m.danglingRefs,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) incRequest(pattern string, status int) {
	if status == 0 {
		status = http.StatusOK
	}
	if pattern == "" {
		pattern = "(unknown)"
	}
	m.requests.WithLabelValues(pattern, strconv.Itoa(status)).Inc()
}

func (m *Metrics) incAppError(stage, code string) {
	stage = strings.TrimSpace(stage)
	code = strings.TrimSpace(code)
	if stage == "" {
		stage = "(unknown)"
	}
	if code == "" {
		code = "(unknown)"
	}
	m.appErrors.WithLabelValues(stage, code).Inc()
}

func (m *Metrics) observeTransform(policy string, d time.Duration, proxies, dangling int) {
	m.transformDuration.WithLabelValues(policy).Observe(d.Seconds())
	m.proxiesOut.Set(float64(proxies))
	m.danglingRefs.Set(float64(dangling))
}
