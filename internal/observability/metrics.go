package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	jobmetrics "github.com/odyssey-erp/demand-pricing/internal/jobs"
	"github.com/odyssey-erp/demand-pricing/internal/pricing"
)

// Metrics mengumpulkan metrik Prometheus untuk layanan pricing.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	placeholders    *prometheus.CounterVec
	unresolved      prometheus.Counter
	approvalLines   prometheus.Counter
	approvalDemands prometheus.Counter
	jobs            *jobmetrics.Metrics
}

// NewMetrics menginisialisasi registry, metrik HTTP, metrik pricing dan metrik job.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pricing_http_requests_total",
		Help: "Jumlah permintaan HTTP berdasarkan route dan status.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pricing_http_request_duration_seconds",
		Help:    "Durasi permintaan HTTP per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	placeholders := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pricing_placeholder_lines_total",
		Help: "Jumlah baris placeholder akibat lookup gagal, per tahap.",
	}, []string{"stage"})
	unresolved := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pricing_unresolved_conversions_total",
		Help: "Jumlah konversi mata uang tanpa kurs yang valid.",
	})
	approvalLines := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pricing_approval_lines_total",
		Help: "Jumlah baris yang melebihi limit diskon saat submit.",
	})
	approvalDemands := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pricing_approval_demands_total",
		Help: "Jumlah demand yang membutuhkan persetujuan.",
	})
	registry.MustRegister(requests, duration, placeholders, unresolved, approvalLines, approvalDemands)
	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:   requests,
		requestDuration: duration,
		placeholders:    placeholders,
		unresolved:      unresolved,
		approvalLines:   approvalLines,
		approvalDemands: approvalDemands,
		jobs:            jobmetrics.NewMetrics(registry),
	}
}

// Handler mengembalikan http.Handler untuk endpoint /metrics.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware mencatat metrik untuk setiap permintaan HTTP.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// PlaceholderCreated mencatat baris placeholder dari sesi pricing.
func (m *Metrics) PlaceholderCreated(stage pricing.LookupStage) {
	if m == nil {
		return
	}
	m.placeholders.WithLabelValues(string(stage)).Inc()
}

// ConversionUnresolved mencatat harga yang dibiarkan dalam mata uang asal.
func (m *Metrics) ConversionUnresolved() {
	if m == nil {
		return
	}
	m.unresolved.Inc()
}

// ApprovalRequired mencatat demand yang memiliki baris berstatus WAITING.
func (m *Metrics) ApprovalRequired(lines int) {
	if m == nil || lines <= 0 {
		return
	}
	m.approvalDemands.Inc()
	m.approvalLines.Add(float64(lines))
}

// Jobs mengekspos metrik job yang terdaftar di registry yang sama.
func (m *Metrics) Jobs() *jobmetrics.Metrics {
	if m == nil {
		return nil
	}
	return m.jobs
}

// Registerer mengekspos registry untuk pendaftaran metrik khusus.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
