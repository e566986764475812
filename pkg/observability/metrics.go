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
	HTTPResponseSize    *prometheus.HistogramVec

	// Storage metrics
	StorageOperationsTotal   *prometheus.CounterVec
	StorageOperationDuration *prometheus.HistogramVec

	// Cache metrics
	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec

	// Database metrics
	DBConnectionsActive    prometheus.Gauge
	DBConnectionsIdle      prometheus.Gauge
	DBConnectionsWaitCount prometheus.Gauge

	// Checkout and settlement metrics
	OrdersTotal             *prometheus.CounterVec
	GrossCentsTotal         *prometheus.CounterVec
	RefundedCentsTotal      *prometheus.CounterVec
	CouponReservationsTotal *prometheus.CounterVec
	PaymentEventsTotal      *prometheus.CounterVec
	AttributionTotal        *prometheus.CounterVec

	// Processor metrics
	ProcessorRequestsTotal   *prometheus.CounterVec
	ProcessorRequestDuration *prometheus.HistogramVec

	// Background metrics
	WebhookDeliveriesTotal *prometheus.CounterVec
	ReconcilerRunsTotal    *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sellhub_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sellhub_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		HTTPResponseSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sellhub_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 6),
			},
			[]string{"method", "route"},
		),

		StorageOperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sellhub_storage_operations_total",
				Help: "Total number of object storage operations",
			},
			[]string{"operation", "status"},
		),
		StorageOperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sellhub_storage_operation_duration_seconds",
				Help:    "Object storage operation duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),

		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sellhub_cache_hits_total",
				Help: "Total number of cache hits",
			},
			[]string{"cache"},
		),
		CacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sellhub_cache_misses_total",
				Help: "Total number of cache misses",
			},
			[]string{"cache"},
		),

		DBConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "sellhub_db_connections_active",
				Help: "Number of connections in use",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "sellhub_db_connections_idle",
				Help: "Number of idle connections",
			},
		),
		DBConnectionsWaitCount: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "sellhub_db_connections_wait_count",
				Help: "Total number of connections waited for",
			},
		),

		OrdersTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sellhub_orders_total",
				Help: "Orders by resulting status",
			},
			[]string{"status"},
		),
		GrossCentsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sellhub_gross_cents_total",
				Help: "Settled sales volume in minor units",
			},
			[]string{"currency"},
		),
		RefundedCentsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sellhub_refunded_cents_total",
				Help: "Refunded volume in minor units",
			},
			[]string{"currency"},
		),
		CouponReservationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sellhub_coupon_reservations_total",
				Help: "Coupon usage transitions",
			},
			[]string{"transition"},
		),
		PaymentEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sellhub_payment_events_total",
				Help: "Payment events by processor status and outcome",
			},
			[]string{"status", "outcome"},
		),
		AttributionTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sellhub_attribution_total",
				Help: "Affiliate attribution outcomes at settlement",
			},
			[]string{"outcome"},
		),

		ProcessorRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sellhub_processor_requests_total",
				Help: "Payment processor API requests",
			},
			[]string{"operation", "status"},
		),
		ProcessorRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sellhub_processor_request_duration_seconds",
				Help:    "Payment processor API latency including retries",
				Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"operation"},
		),

		WebhookDeliveriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sellhub_webhook_deliveries_total",
				Help: "Outbound webhook deliveries",
			},
			[]string{"event", "status"},
		),
		ReconcilerRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sellhub_reconciler_runs_total",
				Help: "Reconciler job runs",
			},
			[]string{"job", "status"},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPResponseSize,
		m.StorageOperationsTotal,
		m.StorageOperationDuration,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.DBConnectionsActive,
		m.DBConnectionsIdle,
		m.DBConnectionsWaitCount,
		m.OrdersTotal,
		m.GrossCentsTotal,
		m.RefundedCentsTotal,
		m.CouponReservationsTotal,
		m.PaymentEventsTotal,
		m.AttributionTotal,
		m.ProcessorRequestsTotal,
		m.ProcessorRequestDuration,
		m.WebhookDeliveriesTotal,
		m.ReconcilerRunsTotal,
	)

	return m
}

// ObserveDBStats copies connection pool stats into the gauges
func (m *Metrics) ObserveDBStats(stats sql.DBStats) {
	m.DBConnectionsActive.Set(float64(stats.InUse))
	m.DBConnectionsIdle.Set(float64(stats.Idle))
	m.DBConnectionsWaitCount.Set(float64(stats.WaitCount))
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

// routeLabel uses the mux route template so ids do not explode label cardinality
func routeLabel(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
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

			route := routeLabel(r)
			status := strconv.Itoa(rw.statusCode)

			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, status).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
			metrics.HTTPResponseSize.WithLabelValues(r.Method, route).Observe(float64(rw.bytesWritten))
		})
	}
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(mux *http.ServeMux, registry *prometheus.Registry) {
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
}
