// Package metrics exposes Prometheus collectors shared by every service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pavitra93/go-tenant-rbac/shared/utils"
)

// Metrics holds one service's collectors on a private registry
type Metrics struct {
	service  string
	registry *prometheus.Registry

	requests        *prometheus.CounterVec
	duration        *prometheus.HistogramVec
	statusCategory  *prometheus.CounterVec
	authzDecisions  *prometheus.CounterVec
	breakerState    *prometheus.GaugeVec
	eventsPublished *prometheus.CounterVec
}

// New creates and registers the collectors for service
func New(service string) *Metrics {
	m := &Metrics{
		service:  service,
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"service", "method", "path", "status"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"service", "method", "path", "status"},
		),
		statusCategory: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_status_category_total",
				Help: "Total number of responses by status category (2xx, 4xx, 5xx)",
			},
			[]string{"service", "category"},
		),
		authzDecisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authz_decisions_total",
				Help: "Authorization checks by ability and outcome",
			},
			[]string{"service", "check", "outcome"},
		),
		breakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "circuit_breaker_open",
				Help: "1 while the named circuit breaker is open or half-open",
			},
			[]string{"service", "breaker"},
		),
		eventsPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "events_published_total",
				Help: "Admin events handed to the broker, by type and outcome",
			},
			[]string{"service", "type", "outcome"},
		),
	}

	m.registry.MustRegister(
		m.requests,
		m.duration,
		m.statusCategory,
		m.authzDecisions,
		m.breakerState,
		m.eventsPublished,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry exposes the underlying registry, mainly for tests
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Middleware records request count, duration and status category. Paths
// are the route templates so ids do not explode label cardinality.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := c.Writer.Status()
		statusStr := strconv.Itoa(status)
		method := c.Request.Method

		m.requests.WithLabelValues(m.service, method, path, statusStr).Inc()
		m.duration.WithLabelValues(m.service, method, path, statusStr).Observe(time.Since(start).Seconds())
		if category := statusCategory(status); category != "" {
			m.statusCategory.WithLabelValues(m.service, category).Inc()
		}
	}
}

func statusCategory(status int) string {
	switch {
	case status >= 200 && status < 300:
		return "2xx"
	case status >= 400 && status < 500:
		return "4xx"
	case status >= 500 && status < 600:
		return "5xx"
	}
	return ""
}

// RecordDecision counts an authorization check
func (m *Metrics) RecordDecision(check string, allowed bool) {
	outcome := "denied"
	if allowed {
		outcome = "allowed"
	}
	m.authzDecisions.WithLabelValues(m.service, check, outcome).Inc()
}

// BreakerStateChanged is a utils.BreakerSettings.OnStateChange hook
func (m *Metrics) BreakerStateChanged(name string, _, to utils.CircuitState) {
	value := 1.0
	if to == utils.StateClosed {
		value = 0
	}
	m.breakerState.WithLabelValues(m.service, name).Set(value)
}

// RecordPublish counts an event handed to the broker
func (m *Metrics) RecordPublish(eventType string, ok bool) {
	outcome := "failed"
	if ok {
		outcome = "ok"
	}
	m.eventsPublished.WithLabelValues(m.service, eventType, outcome).Inc()
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
