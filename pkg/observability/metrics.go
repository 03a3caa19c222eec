package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Access check metrics
	AccessChecksTotal   *prometheus.CounterVec
	AccessCheckDuration *prometheus.HistogramVec
	AccessDeniedTotal   *prometheus.CounterVec

	// Bulk filtering metrics
	FilterRequestsTotal *prometheus.CounterVec
	FilterSetSize       *prometheus.HistogramVec
	FilterRefillsTotal  prometheus.Counter

	// Propagation metrics
	PropagationWalksTotal  *prometheus.CounterVec
	PropagationItemsTotal  *prometheus.CounterVec
	PropagationErrorsTotal prometheus.Counter

	// Hierarchy cache metrics
	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec

	// Database metrics
	DBConnectionsActive prometheus.Gauge
	DBConnectionsIdle   prometheus.Gauge

	// Business metrics
	GroupsTotal     prometheus.Gauge
	EditGroupsTotal prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "groupgate_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "groupgate_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		AccessChecksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "groupgate_access_checks_total",
				Help: "Total number of access checks",
			},
			[]string{"operation", "result"},
		),
		AccessCheckDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "groupgate_access_check_duration_seconds",
				Help:    "Access check duration in seconds",
				Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25},
			},
			[]string{"operation"},
		),
		AccessDeniedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "groupgate_access_denied_total",
				Help: "Total number of denied access checks",
			},
			[]string{"operation", "reason"},
		),

		FilterRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "groupgate_filter_requests_total",
				Help: "Total number of bulk filtering requests",
			},
			[]string{"strategy"},
		),
		FilterSetSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "groupgate_filter_set_size",
				Help:    "Size of computed per-request filter sets",
				Buckets: prometheus.ExponentialBuckets(1, 4, 8),
			},
			[]string{"strategy", "set"},
		),
		FilterRefillsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "groupgate_filter_refills_total",
				Help: "Total number of page refill queries issued by the filter strategy",
			},
		),

		PropagationWalksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "groupgate_propagation_walks_total",
				Help: "Total number of propagation tree walks",
			},
			[]string{"direction"},
		),
		PropagationItemsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "groupgate_propagation_items_total",
				Help: "Total number of descendant items touched by propagation",
			},
			[]string{"direction"},
		),
		PropagationErrorsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "groupgate_propagation_errors_total",
				Help: "Total number of best-effort propagation failures",
			},
		),

		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "groupgate_cache_hits_total",
				Help: "Total number of hierarchy cache hits",
			},
			[]string{"cache"},
		),
		CacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "groupgate_cache_misses_total",
				Help: "Total number of hierarchy cache misses",
			},
			[]string{"cache"},
		),

		DBConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "groupgate_db_connections_active",
				Help: "Number of active database connections",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "groupgate_db_connections_idle",
				Help: "Number of idle database connections",
			},
		),

		GroupsTotal: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "groupgate_groups_total",
				Help: "Total number of access groups",
			},
		),
		EditGroupsTotal: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "groupgate_edit_groups_total",
				Help: "Total number of groups usable as edit groups",
			},
		),
	}

	// Register all metrics
	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.AccessChecksTotal,
		m.AccessCheckDuration,
		m.AccessDeniedTotal,
		m.FilterRequestsTotal,
		m.FilterSetSize,
		m.FilterRefillsTotal,
		m.PropagationWalksTotal,
		m.PropagationItemsTotal,
		m.PropagationErrorsTotal,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.DBConnectionsActive,
		m.DBConnectionsIdle,
		m.GroupsTotal,
		m.EditGroupsTotal,
	)

	return m
}

// responseWriter wraps http.ResponseWriter to capture status code and size
type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += n
	return n, err
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rw := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(rw, r)

			duration := time.Since(start).Seconds()
			status := strconv.Itoa(rw.statusCode)

			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, r.URL.Path, status).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(duration)
		})
	}
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(mux *http.ServeMux, registry *prometheus.Registry) {
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
}
