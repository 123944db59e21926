package obs

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTP metrics
var (
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
)

// Enforcement metrics
var (
	LoginOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loginshield_login_outcomes_total",
			Help: "Login decisions by event status and response code.",
		},
		[]string{"status", "code"},
	)

	GateDenials = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loginshield_gate_denials_total",
			Help: "Requests rejected by the request gate.",
		},
		[]string{"reason"},
	)

	SessionsRevoked = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loginshield_sessions_revoked_total",
			Help: "Sessions removed from the registry by revocation scope.",
		},
		[]string{"scope"},
	)

	RevocationPartial = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "loginshield_revocation_partial_total",
		Help: "Transport session deletes that failed during a bulk revocation.",
	})

	EventsEmitted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "loginshield_events_emitted_total",
		Help: "Login events handed to the broker sink successfully.",
	})

	EventsDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "loginshield_events_dropped_total",
		Help: "Login events dropped because the emitter queue was full or closed.",
	})

	EventsFailed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "loginshield_events_failed_total",
		Help: "Login events the broker sink failed to deliver.",
	})
)

var registerOnce sync.Once

// Init registers all collectors in the default registry. Safe to call more than once.
func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration,
			LoginOutcomes, GateDenials, SessionsRevoked, RevocationPartial,
			EventsEmitted, EventsDropped, EventsFailed,
		)
	})
}

// Handler exposes the Prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Instrument records RPS, latency and in-flight requests.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

// CanonicalPath collapses variable path segments so metric label cardinality
// stays bounded.
func CanonicalPath(p string) string {
	if i := strings.IndexByte(p, '?'); i >= 0 {
		p = p[:i]
	}
	if p == "" {
		return "/"
	}
	if rest, ok := strings.CutPrefix(p, "/api/admin/blocks/"); ok && rest != "" && !strings.Contains(rest, "/") {
		return "/api/admin/blocks/:ip"
	}
	return p
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// Flush keeps SSE responses streaming through the instrumentation wrapper.
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
