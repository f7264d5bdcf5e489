package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the pharmacy service metrics. All record methods are
// safe to call on a nil *Metrics so components can run without a registry.
type Metrics struct {
	serviceName string
	registry    *prometheus.Registry

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Dispensing metrics
	DispensedUnits      *prometheus.CounterVec
	FefoViolations      prometheus.Counter
	OverridesProposed   prometheus.Counter
	OverridesConfirmed  prometheus.Counter
	StockAdjustments    *prometheus.CounterVec
	BatchesReceived     prometheus.Counter
	AuditDeliveryErrors *prometheus.CounterVec
}

// Config holds metrics configuration
type Config struct {
	ServiceName string
	Namespace   string
}

// DefaultConfig returns default metrics configuration
func DefaultConfig(serviceName string) *Config {
	return &Config{
		ServiceName: serviceName,
		Namespace:   "medflow",
	}
}

// New creates a new Metrics instance with its own registry
func New(config *Config) *Metrics {
	registry := prometheus.NewRegistry()

	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	m := &Metrics{
		serviceName: config.ServiceName,
		registry:    registry,
	}

	m.HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: config.Namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"service", "method", "path", "status"},
	)

	m.HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: config.Namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"service", "method", "path"},
	)

	m.DispensedUnits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: config.Namespace,
			Subsystem: "dispensing",
			Name:      "units_total",
			Help:      "Units dispensed from batches, labeled by whether FEFO was overridden",
		},
		[]string{"override"},
	)

	m.FefoViolations = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: config.Namespace,
		Subsystem: "dispensing",
		Name:      "fefo_strict_violations_total",
		Help:      "Requests for a non-suggested batch rejected under strict mode",
	})

	m.OverridesProposed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: config.Namespace,
		Subsystem: "dispensing",
		Name:      "overrides_proposed_total",
		Help:      "FEFO override proposals handed back for confirmation",
	})

	m.OverridesConfirmed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: config.Namespace,
		Subsystem: "dispensing",
		Name:      "overrides_confirmed_total",
		Help:      "FEFO overrides confirmed and dispensed",
	})

	m.StockAdjustments = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: config.Namespace,
			Subsystem: "ledger",
			Name:      "stock_adjustments_total",
			Help:      "Administrative stock adjustments by reason",
		},
		[]string{"reason"},
	)

	m.BatchesReceived = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: config.Namespace,
		Subsystem: "ledger",
		Name:      "batches_received_total",
		Help:      "Batches added to the ledger",
	})

	m.AuditDeliveryErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: config.Namespace,
			Subsystem: "audit",
			Name:      "delivery_errors_total",
			Help:      "Audit events the sink failed to accept",
		},
		[]string{"event_type"},
	)

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.DispensedUnits,
		m.FefoViolations,
		m.OverridesProposed,
		m.OverridesConfirmed,
		m.StockAdjustments,
		m.BatchesReceived,
		m.AuditDeliveryErrors,
	)

	return m
}

// Handler returns the HTTP handler for the /metrics endpoint
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(m.serviceName, method, path, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(m.serviceName, method, path).Observe(duration.Seconds())
}

// RecordDispensed records units dispensed from a batch
func (m *Metrics) RecordDispensed(quantity int, override bool) {
	if m == nil {
		return
	}
	m.DispensedUnits.WithLabelValues(strconv.FormatBool(override)).Add(float64(quantity))
}

// RecordFefoViolation records a strict-mode rejection
func (m *Metrics) RecordFefoViolation() {
	if m == nil {
		return
	}
	m.FefoViolations.Inc()
}

// RecordOverrideProposed records an override proposal
func (m *Metrics) RecordOverrideProposed() {
	if m == nil {
		return
	}
	m.OverridesProposed.Inc()
}

// RecordOverrideConfirmed records a confirmed override
func (m *Metrics) RecordOverrideConfirmed() {
	if m == nil {
		return
	}
	m.OverridesConfirmed.Inc()
}

// RecordStockAdjustment records an administrative adjustment
func (m *Metrics) RecordStockAdjustment(reason string) {
	if m == nil {
		return
	}
	m.StockAdjustments.WithLabelValues(reason).Inc()
}

// RecordBatchReceived records a new batch
func (m *Metrics) RecordBatchReceived() {
	if m == nil {
		return
	}
	m.BatchesReceived.Inc()
}

// RecordAuditDeliveryError records a failed audit delivery
func (m *Metrics) RecordAuditDeliveryError(eventType string) {
	if m == nil {
		return
	}
	m.AuditDeliveryErrors.WithLabelValues(eventType).Inc()
}

// Middleware records HTTP metrics, labeled by the chi route pattern
func Middleware(m *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if m == nil || r.URL.Path == "/metrics" {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			wrapped := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(wrapped, r)

			path := r.URL.Path
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				if pattern := rctx.RoutePattern(); pattern != "" {
					path = pattern
				}
			}
			m.RecordHTTPRequest(r.Method, path, wrapped.status, time.Since(start))
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
