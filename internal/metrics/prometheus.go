// Package metrics provides Prometheus metrics for the middleware.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics on a private registry.
type Metrics struct {
	registry        *prometheus.Registry
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	reconcileTotal  *prometheus.CounterVec
	backSyncTotal   *prometheus.CounterVec
	flushTotal      *prometheus.CounterVec
	flushDuration   prometheus.Histogram
	openDocuments   prometheus.Gauge
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		requestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "journea_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "journea_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"method", "route"},
		),
		reconcileTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "journea_webhook_reconcile_total",
				Help: "Webhook deliveries by reconciliation outcome",
			},
			[]string{"outcome"},
		),
		backSyncTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "journea_backsync_total",
				Help: "CRM back-sync attempts by result",
			},
			[]string{"result"},
		),
		flushTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "journea_document_flush_total",
				Help: "Document flushes by result",
			},
			[]string{"result"},
		),
		flushDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "journea_document_flush_duration_seconds",
				Help:    "Time spent writing a document to the local cache and the remote store",
				Buckets: prometheus.DefBuckets,
			},
		),
		openDocuments: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "journea_open_documents",
				Help: "Documents currently held by the save-state registry",
			},
		),
	}
}

// RecordHTTPRequest records metrics for an HTTP request.
func (m *Metrics) RecordHTTPRequest(method, route string, statusCode int, duration time.Duration) {
	m.requestsTotal.WithLabelValues(method, route, strconv.Itoa(statusCode)).Inc()
	m.requestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

func (m *Metrics) ObserveReconcile(outcome string) {
	m.reconcileTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveBackSync(result string) {
	m.backSyncTotal.WithLabelValues(result).Inc()
}

// ObserveFlush matches savestate.Options.OnFlush.
func (m *Metrics) ObserveFlush(result string, took time.Duration) {
	m.flushTotal.WithLabelValues(result).Inc()
	m.flushDuration.Observe(took.Seconds())
}

func (m *Metrics) SetOpenDocuments(n int) {
	m.openDocuments.Set(float64(n))
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
