package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors for HTTP traffic and the login flow.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry         *prometheus.Registry
	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	requestsInFlight prometheus.Gauge
	ssoLogins        *prometheus.CounterVec
	loginTokens      *prometheus.CounterVec
	prefsOps         *prometheus.CounterVec
}

// NewMetrics creates a registry with the runtime collectors and the service metrics.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: reg,
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pds_http_requests_total",
			Help: "Total number of HTTP requests processed.",
		}, []string{"method", "route", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pds_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		requestsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pds_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed.",
		}),
		ssoLogins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pds_sso_logins_total",
			Help: "SSO callbacks by provider and outcome.",
		}, []string{"provider", "outcome"}),
		loginTokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pds_login_tokens_issued_total",
			Help: "Login tokens issued, split by new or renewed.",
		}, []string{"kind"}),
		prefsOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pds_preferences_operations_total",
			Help: "Preference reads and writes by outcome.",
		}, []string{"operation", "outcome"}),
	}
	reg.MustRegister(
		m.requestsTotal,
		m.requestDuration,
		m.requestsInFlight,
		m.ssoLogins,
		m.loginTokens,
		m.prefsOps,
	)
	return m
}

// Handler serves the exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// HTTPMiddleware records request metrics. The route label is the gin route template.
func (m *Metrics) HTTPMiddleware() gin.HandlerFunc {
	if m == nil {
		return func(c *gin.Context) {
			c.Next()
		}
	}
	return func(c *gin.Context) {
		m.requestsInFlight.Inc()
		defer m.requestsInFlight.Dec()
		start := time.Now()

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unknown"
		}
		status := strconv.Itoa(c.Writer.Status())
		m.requestsTotal.WithLabelValues(c.Request.Method, route, status).Inc()
		m.requestDuration.WithLabelValues(c.Request.Method, route, status).Observe(time.Since(start).Seconds())
	}
}

// SSOLogin counts a finished callback. outcome is "login_token", "self" or an error class.
func (m *Metrics) SSOLogin(provider, outcome string) {
	if m == nil {
		return
	}
	m.ssoLogins.WithLabelValues(provider, outcome).Inc()
}

// LoginTokenIssued counts an issued token.
func (m *Metrics) LoginTokenIssued(renewed bool) {
	if m == nil {
		return
	}
	kind := "new"
	if renewed {
		kind = "renewed"
	}
	m.loginTokens.WithLabelValues(kind).Inc()
}

// PreferencesOp counts a get or save by outcome.
func (m *Metrics) PreferencesOp(operation, outcome string) {
	if m == nil {
		return
	}
	m.prefsOps.WithLabelValues(operation, outcome).Inc()
}
