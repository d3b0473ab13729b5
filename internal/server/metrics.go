// Package server — metrics.go registers all Prometheus metrics for the HTTP
// server and exposes helpers used by handlers and middleware.
package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metric label values shared across registrations.
const (
	// labelHandler is the "handler" label value used to partition metrics by
	// the logical endpoint name rather than the raw URL path.
	labelHandler = "handler"
)

// serverMetrics holds all Prometheus metrics owned by the HTTP server.
// A single instance is created in New and stored on Server so that tests can
// inject a fresh prometheus.Registry without polluting the default one.
type serverMetrics struct {
	// ingestTotal counts documents ingested through the API, partitioned by
	// final embedding outcome: "ok" or "failed".
	ingestTotal *prometheus.CounterVec

	// queryTotal counts completed /api/query requests, partitioned by
	// outcome: "ok" or "error".
	queryTotal *prometheus.CounterVec

	// queryDuration records the wall-clock duration of successful /api/query
	// requests, embedding call included.
	queryDuration prometheus.Histogram

	// answerTotal counts completed /api/answer requests, partitioned by
	// outcome: "ok" or "error".
	answerTotal *prometheus.CounterVec

	// answerDuration records the wall-clock duration of successful
	// /api/answer requests, retrieval and generation included.
	answerDuration prometheus.Histogram

	// httpRequestsTotal counts all HTTP requests handled by the mux,
	// partitioned by method, path pattern, and status code.
	httpRequestsTotal *prometheus.CounterVec

	// httpDurationSeconds records the latency of all HTTP requests.
	httpDurationSeconds *prometheus.HistogramVec
}

// newServerMetrics registers all server metrics against reg and returns the
// populated serverMetrics. promauto.With(reg) is used so that each call
// registers into the provided registry rather than the global default —
// this keeps unit tests hermetic.
func newServerMetrics(reg prometheus.Registerer) *serverMetrics {
	factory := promauto.With(reg)

	return &serverMetrics{
		ingestTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "omnikb",
			Subsystem: "ingest",
			Name:      "documents_total",
			Help:      "Total number of documents ingested through the API, partitioned by embedding outcome.",
		}, []string{"outcome"}),

		queryTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "omnikb",
			Subsystem: "query",
			Name:      "requests_total",
			Help:      "Total number of /api/query requests completed, partitioned by outcome.",
		}, []string{"outcome"}),

		queryDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "omnikb",
			Subsystem: "query",
			Name:      "duration_seconds",
			Help:      "Wall-clock duration of successful /api/query requests.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),

		answerTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "omnikb",
			Subsystem: "answer",
			Name:      "requests_total",
			Help:      "Total number of /api/answer requests completed, partitioned by outcome.",
		}, []string{"outcome"}),

		answerDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "omnikb",
			Subsystem: "answer",
			Name:      "duration_seconds",
			Help:      "Wall-clock duration of successful /api/answer requests, generation included.",
			Buckets:   []float64{0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),

		httpRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "omnikb",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled by the server, partitioned by method, handler, and status code.",
		}, []string{"method", labelHandler, "code"}),

		httpDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "omnikb",
			Subsystem: "http",
			Name:      "duration_seconds",
			Help:      "Latency of HTTP requests handled by the server.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", labelHandler}),
	}
}

// instrument records per-request counters and latency. The handler label is
// the registered mux pattern (available once routing has happened), so
// distinct document ids collapse into one series.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		start := time.Now()
		next.ServeHTTP(rw, r)
		elapsed := time.Since(start)

		pattern := r.Pattern
		if pattern == "" {
			pattern = "unmatched"
		}
		s.metrics.httpRequestsTotal.WithLabelValues(r.Method, pattern, strconv.Itoa(rw.status)).Inc()
		s.metrics.httpDurationSeconds.WithLabelValues(r.Method, pattern).Observe(elapsed.Seconds())
	})
}
