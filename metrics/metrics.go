/*
Package metrics exposes Prometheus metrics for the invoicing engine.

PURPOSE:
  One Collector per process, backed by its own registry so tests can build
  as many as they like without colliding on the global default registry.

METRICS (namespace "invoicing"):
  invoices_created_total             Committed invoice creations
  invoice_failures_total{reason}     Failed creations by error reason
  invoice_creation_duration_seconds  Time spent in CreateInvoice
  invoice_lines_total                Lines written by committed creations
  invoiced_amount_total              Sum of committed invoice totals
  http_requests_total{method,route,status}
  http_request_duration_seconds{method,route}

USAGE:
  m := metrics.NewCollector()
  coordinator.Metrics = m             // implements invoicing.Recorder
  r.Use(m.Middleware)
  r.Handle("/metrics", m.Handler())
*/
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
)

const namespace = "invoicing"

// Collector owns the registry and every metric the service records.
type Collector struct {
	registry *prometheus.Registry

	InvoicesCreated  prometheus.Counter
	InvoiceFailures  *prometheus.CounterVec
	CreationDuration prometheus.Histogram
	LinesWritten     prometheus.Counter
	InvoicedAmount   prometheus.Counter

	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
}

// NewCollector creates and registers all metrics.
func NewCollector() *Collector {
	c := &Collector{registry: prometheus.NewRegistry()}

	c.InvoicesCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "invoices_created_total",
		Help:      "Total number of committed invoice creations",
	})
	c.InvoiceFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "invoice_failures_total",
		Help:      "Total number of failed invoice creations",
	}, []string{"reason"})
	c.CreationDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "invoice_creation_duration_seconds",
		Help:      "Invoice creation duration in seconds",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5},
	})
	c.LinesWritten = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "invoice_lines_total",
		Help:      "Total number of invoice lines written",
	})
	c.InvoicedAmount = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "invoiced_amount_total",
		Help:      "Sum of committed invoice totals",
	})

	c.RequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests",
	}, []string{"method", "route", "status"})
	c.RequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5},
	}, []string{"method", "route"})

	c.registry.MustRegister(
		c.InvoicesCreated,
		c.InvoiceFailures,
		c.CreationDuration,
		c.LinesWritten,
		c.InvoicedAmount,
		c.RequestsTotal,
		c.RequestDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// Registry returns the registry the collector writes to.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// =============================================================================
// invoicing.Recorder
// =============================================================================

// InvoiceCreated records a committed creation.
func (c *Collector) InvoiceCreated(lines int, total decimal.Decimal, elapsed time.Duration) {
	c.InvoicesCreated.Inc()
	c.LinesWritten.Add(float64(lines))
	if f, _ := total.Float64(); f > 0 {
		c.InvoicedAmount.Add(f)
	}
	c.CreationDuration.Observe(elapsed.Seconds())
}

// InvoiceFailed records a failed creation under reason.
func (c *Collector) InvoiceFailed(reason string, elapsed time.Duration) {
	c.InvoiceFailures.WithLabelValues(reason).Inc()
	c.CreationDuration.Observe(elapsed.Seconds())
}

// =============================================================================
// HTTP
// =============================================================================

// Middleware records request counts and latency labelled with the chi route
// pattern, so /api/invoices/42 and /api/invoices/43 share one series.
func (c *Collector) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		c.RequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		c.RequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
