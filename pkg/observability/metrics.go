package observability

import (
	"database/sql"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Sign-on metrics
	ReconcileTotal       *prometheus.CounterVec
	ReconcileDuration    prometheus.Histogram
	ForceSSOBlockedTotal *prometheus.CounterVec
	AdminActionsTotal    *prometheus.CounterVec
	LogoutTotal          *prometheus.CounterVec

	// Database metrics
	DBConnectionsActive prometheus.Gauge
	DBConnectionsIdle   prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "websso_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "websso_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),

		ReconcileTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "websso_reconcile_total",
				Help: "Total number of identity reconciliations by outcome",
			},
			[]string{"outcome"},
		),
		ReconcileDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "websso_reconcile_duration_seconds",
				Help:    "Identity reconciliation duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
		),
		ForceSSOBlockedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "websso_force_sso_blocked_total",
				Help: "Requests to local-credential endpoints intercepted under Force-SSO",
			},
			[]string{"endpoint"},
		),
		AdminActionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "websso_admin_user_actions_total",
				Help: "Add-user submissions by action and resulting status",
			},
			[]string{"action", "status"},
		),
		LogoutTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "websso_logout_total",
				Help: "Logouts by coordinator branch",
			},
			[]string{"branch"},
		),

		DBConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "websso_db_connections_active",
				Help: "Number of active database connections",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "websso_db_connections_idle",
				Help: "Number of idle database connections",
			},
		),
	}

	// Register all metrics
	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.ReconcileTotal,
		m.ReconcileDuration,
		m.ForceSSOBlockedTotal,
		m.AdminActionsTotal,
		m.LogoutTotal,
		m.DBConnectionsActive,
		m.DBConnectionsIdle,
	)

	return m
}

// RecordReconcile counts a reconciliation outcome. Safe on a nil receiver.
func (m *Metrics) RecordReconcile(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.ReconcileTotal.WithLabelValues(outcome).Inc()
	m.ReconcileDuration.Observe(duration.Seconds())
}

// RecordBlocked counts an intercepted local-credential request
func (m *Metrics) RecordBlocked(endpoint string) {
	if m == nil {
		return
	}
	m.ForceSSOBlockedTotal.WithLabelValues(endpoint).Inc()
}

// RecordAdminAction counts an add-user submission
func (m *Metrics) RecordAdminAction(action, status string) {
	if m == nil {
		return
	}
	m.AdminActionsTotal.WithLabelValues(action, status).Inc()
}

// RecordLogout counts a logout branch
func (m *Metrics) RecordLogout(branch string) {
	if m == nil {
		return
	}
	m.LogoutTotal.WithLabelValues(branch).Inc()
}

// RecordDBStats copies connection pool statistics into the gauges
func (m *Metrics) RecordDBStats(stats sql.DBStats) {
	if m == nil {
		return
	}
	m.DBConnectionsActive.Set(float64(stats.InUse))
	m.DBConnectionsIdle.Set(float64(stats.Idle))
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics
func HTTPMetricsMiddleware(metrics *Metrics) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rw := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(rw, r)

			// Label by route template to bound cardinality
			route := "unmatched"
			if current := mux.CurrentRoute(r); current != nil {
				if tmpl, err := current.GetPathTemplate(); err == nil {
					route = tmpl
				}
			}

			status := strconv.Itoa(rw.statusCode)
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, status).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(router *http.ServeMux, gatherer prometheus.Gatherer) {
	router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
}
