// Package metrics exposes Prometheus instrumentation for queries, ingestion
// and the HTTP surface.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Query kinds.
const (
	KindLastPosition = "last_position"
	KindClosest      = "closest"
)

// Query outcomes.
const (
	OutcomeFound    = "found"
	OutcomeNotFound = "not_found"
	OutcomeInvalid  = "invalid_input"
	OutcomeError    = "error"
)

var (
	queriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "starlink_queries_total",
			Help: "Total number of position queries by kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)

	rowsScanned = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "starlink_query_rows_scanned",
			Help:    "Number of rows returned by the store per query.",
			Buckets: prometheus.ExponentialBuckets(1, 4, 10),
		},
		[]string{"kind"},
	)

	recordsIngested = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "starlink_records_ingested_total",
			Help: "Total number of telemetry records inserted by the loader.",
		},
	)

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "starlink_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"route", "method", "code"},
	)

	httpDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "starlink_http_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)
)

func init() {
	prometheus.MustRegister(queriesTotal, rowsScanned, recordsIngested, httpRequestsTotal, httpDurationSeconds)
}

// ObserveQuery records the outcome of one query and how many rows it read.
func ObserveQuery(kind, outcome string, rows int) {
	queriesTotal.WithLabelValues(kind, outcome).Inc()
	if outcome == OutcomeFound || outcome == OutcomeNotFound {
		rowsScanned.WithLabelValues(kind).Observe(float64(rows))
	}
}

// AddIngested counts records written by the loader.
func AddIngested(n int) {
	recordsIngested.Add(float64(n))
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware records request count and duration, labelled by the matched
// chi route pattern so that path parameters do not explode cardinality.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		route := "other"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}

		httpRequestsTotal.WithLabelValues(route, r.Method, strconv.Itoa(rw.statusCode)).Inc()
		httpDurationSeconds.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
	})
}
