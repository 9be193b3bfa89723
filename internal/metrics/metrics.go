package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the business and HTTP instruments. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	registry         *prometheus.Registry
	operations       *prometheus.CounterVec
	allocations      *prometheus.CounterVec
	shiftVariance    *prometheus.HistogramVec
	lowStockSignals  *prometheus.CounterVec
	requestDurations *prometheus.HistogramVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		operations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "poscore",
			Name:      "operations_total",
			Help:      "Core operations by name and result code.",
		}, []string{"operation", "result"}),
		allocations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "poscore",
			Name:      "fiscal_allocations_total",
			Help:      "Fiscal number allocations by document type and result.",
		}, []string{"document_type", "result"}),
		shiftVariance: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "poscore",
			Name:      "shift_close_variance_abs",
			Help:      "Absolute cash variance per currency at shift close.",
			Buckets:   []float64{0, 1, 5, 10, 50, 100, 500, 1000},
		}, []string{"currency"}),
		lowStockSignals: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "poscore",
			Name:      "low_stock_signals_total",
			Help:      "Low-stock signals raised by inventory decreases.",
		}, []string{"store_id"}),
		requestDurations: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "poscore",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route pattern and status.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) Operation(name string, result string) {
	if m == nil {
		return
	}
	if result == "" {
		result = "ok"
	}
	m.operations.WithLabelValues(name, result).Inc()
}

func (m *Metrics) Allocation(documentType string, result string) {
	if m == nil {
		return
	}
	m.allocations.WithLabelValues(documentType, result).Inc()
}

func (m *Metrics) ShiftVariance(currency string, abs float64) {
	if m == nil {
		return
	}
	m.shiftVariance.WithLabelValues(currency).Observe(abs)
}

func (m *Metrics) LowStock(storeID string) {
	if m == nil {
		return
	}
	m.lowStockSignals.WithLabelValues(storeID).Inc()
}

func (m *Metrics) ObserveRequest(method string, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.requestDurations.WithLabelValues(method, route, http.StatusText(status)).Observe(elapsed.Seconds())
}
