package obs

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	initOnce sync.Once

	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	accessDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trust_access_decisions_total",
			Help: "Intelligence access decisions by result.",
		},
		[]string{"result"},
	)

	relationshipTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trust_relationship_transitions_total",
			Help: "Relationship status transitions by target status.",
		},
		[]string{"to"},
	)

	notifyFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trust_notify_failures_total",
			Help: "Notification sink failures by event type.",
		},
		[]string{"event"},
	)

	sharingPartners = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "trust_sharing_partners",
		Help:    "Number of sharing partners returned per fan-out enumeration.",
		Buckets: []float64{0, 1, 2, 5, 10, 25, 50, 100, 250},
	})
)

// Init registers all collectors in the default registry. Safe to call repeatedly.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration,
			accessDecisions, relationshipTransitions, notifyFailures, sharingPartners,
		)
	})
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveAccessDecision counts an allow/deny outcome.
func ObserveAccessDecision(allowed bool) {
	if allowed {
		accessDecisions.WithLabelValues("allowed").Inc()
		return
	}
	accessDecisions.WithLabelValues("denied").Inc()
}

// ObserveTransition counts a relationship moving into status to.
func ObserveTransition(to string) {
	relationshipTransitions.WithLabelValues(to).Inc()
}

// ObserveNotifyFailure counts a swallowed notification failure.
func ObserveNotifyFailure(event string) {
	notifyFailures.WithLabelValues(event).Inc()
}

// ObserveSharingPartners records the audience size of a fan-out enumeration.
func ObserveSharingPartners(n int) {
	sharingPartners.Observe(float64(n))
}

// Instrument measures request count, latency and in-flight gauge. The path label
// uses the chi route pattern so identifiers do not explode label cardinality.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httpInFlight.Inc()
		defer httpInFlight.Dec()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		path := RoutePattern(r)
		status := strconv.Itoa(sw.code)
		httpRequestDuration.WithLabelValues(r.Method, path, status).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(r.Method, path, status).Inc()
	})
}

// RoutePattern returns the matched chi pattern, or "unmatched" for requests that
// never reached a route.
func RoutePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// Flush keeps SSE streaming working through the instrumentation wrapper.
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
