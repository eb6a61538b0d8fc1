// Package metrics exposes circulation and HTTP metrics for Prometheus.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"library-circulation/library"
)

const namespace = "library"

// Metrics holds the collectors on a private registry. It implements
// library.Observer so the circulation engine can report into it.
type Metrics struct {
	registry *prometheus.Registry

	issued   prometheus.Counter
	returned *prometheus.CounterVec
	renewed  prometheus.Counter
	fines    prometheus.Counter
	rejected *prometheus.CounterVec

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
	httpInFlight prometheus.Gauge
}

var _ library.Observer = (*Metrics)(nil)

// New registers every collector on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		issued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "loans",
			Name:      "issued_total",
			Help:      "Books issued.",
		}),
		returned: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "loans",
			Name:      "returned_total",
			Help:      "Books returned, by whether they were late.",
		}, []string{"late"}),
		renewed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "loans",
			Name:      "renewed_total",
			Help:      "Loans renewed.",
		}),
		fines: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fines",
			Name:      "assessed_amount_total",
			Help:      "Sum of fines assessed on late returns, in currency units.",
		}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "circulation",
			Name:      "rejections_total",
			Help:      "Circulation requests refused by a policy rule.",
		}, []string{"op", "kind"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		}, []string{"method", "route"}),
		httpInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		}),
	}
	m.registry.MustRegister(
		m.issued, m.returned, m.renewed, m.fines, m.rejected,
		m.httpRequests, m.httpDuration, m.httpInFlight,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
	return m
}

// Registry exposes the registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) LoanIssued(*library.Loan) { m.issued.Inc() }

func (m *Metrics) LoanReturned(_ *library.Loan, f *library.Fine) {
	if f == nil {
		m.returned.WithLabelValues("false").Inc()
		return
	}
	m.returned.WithLabelValues("true").Inc()
	m.fines.Add(float64(f.Amount))
}

func (m *Metrics) LoanRenewed(*library.Loan) { m.renewed.Inc() }

func (m *Metrics) Rejected(op string, kind library.Kind) {
	m.rejected.WithLabelValues(op, string(kind)).Inc()
}

// Instrument wraps a handler with HTTP metrics. Requests are labelled by the
// matched mux route template so path parameters do not explode cardinality.
func (m *Metrics) Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		m.httpInFlight.Inc()
		defer m.httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		route := routeTemplate(r)
		method := strings.ToUpper(r.Method)
		m.httpRequests.WithLabelValues(method, route, strconv.Itoa(rec.status)).Inc()
		m.httpDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
	})
}

func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
