// Package metrics exposes prometheus collectors for the deployer.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/botdeployer/deployer/internal/deploy"
)

const namespace = "deployer"

var (
	httpBuckets  = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5}
	stageBuckets = []float64{0.01, 0.1, 0.5, 1, 2, 3, 5, 10, 30}
)

// Metrics is safe to use as a nil pointer; every method is then a no-op.
type Metrics struct {
	registry *prometheus.Registry

	deploymentsCreated  *prometheus.CounterVec
	deploymentsFinished *prometheus.CounterVec
	stageDuration       *prometheus.HistogramVec
	requestTotal        *prometheus.CounterVec
	requestLatency      *prometheus.HistogramVec
	rateLimitHits       *prometheus.CounterVec
}

// New registers all collectors on reg. Pass a fresh registry per test.
func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		registry: reg,
		deploymentsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deployments_created_total",
			Help:      "Deployments accepted, by bot.",
		}, []string{"bot"}),
		deploymentsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deployments_finished_total",
			Help:      "Deployments that reached a terminal status.",
		}, []string{"status"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Time spent in each lifecycle stage.",
			Buckets:   stageBuckets,
		}, []string{"stage"}),
		requestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Count of processed HTTP requests.",
		}, []string{"method", "route", "status"}),
		requestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Latency distribution of HTTP handlers.",
			Buckets:   httpBuckets,
		}, []string{"method", "route", "status"}),
		rateLimitHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "rate_limit_hits_total",
			Help:      "Number of rate-limited responses.",
		}, []string{"route"}),
	}

	reg.MustRegister(
		m.deploymentsCreated,
		m.deploymentsFinished,
		m.stageDuration,
		m.requestTotal,
		m.requestLatency,
		m.rateLimitHits,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) DeploymentCreated(botID string) {
	if m == nil {
		return
	}
	m.deploymentsCreated.WithLabelValues(botID).Inc()
}

func (m *Metrics) DeploymentFinished(status deploy.Status) {
	if m == nil {
		return
	}
	m.deploymentsFinished.WithLabelValues(string(status)).Inc()
}

func (m *Metrics) StageCompleted(stage string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage).Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveRequest(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	labels := prometheus.Labels{
		"method": method,
		"route":  route,
		"status": strconv.Itoa(status),
	}
	m.requestTotal.With(labels).Inc()
	m.requestLatency.With(labels).Observe(elapsed.Seconds())
}

func (m *Metrics) RateLimited(route string) {
	if m == nil {
		return
	}
	m.rateLimitHits.WithLabelValues(route).Inc()
}
