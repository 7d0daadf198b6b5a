package obs

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/http"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

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

	chainOpsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nexc_chain_operations_total",
			Help: "Atomic units executed, by component, operation and result kind.",
		},
		[]string{"component", "op", "result"},
	)

	chainOpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nexc_chain_operation_duration_seconds",
			Help:    "Time spent inside atomic units, lock wait excluded.",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1, .5},
		},
		[]string{"component", "op"},
	)

	chainHeight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "nexc_chain_height",
		Help: "Number of committed blocks.",
	})

	sinkFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nexc_event_sink_failures_total",
			Help: "Committed batches a sink failed to accept.",
		},
		[]string{"sink"},
	)

	supply = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "nexc_supply_base_units",
			Help: "Supply figures in base units, by book and measure.",
		},
		[]string{"book", "measure"},
	)

	invariantViolations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nexc_invariant_violations_total",
			Help: "Failed invariant checks, by book.",
		},
		[]string{"book"},
	)

	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "nexc_build_info",
			Help: "Always 1; labels carry the running build.",
		},
		[]string{"version", "commit", "go_version"},
	)

	initOnce sync.Once
)

// Init registers the node metrics in the default registry. Safe to call twice.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration,
			chainOpsTotal, chainOpDuration, chainHeight,
			sinkFailures, supply, invariantViolations, buildInfo,
		)
	})
}

// Handler serves the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.Handler()
}

// SetBuildInfo labels nexc_build_info with the running build, replacing any
// earlier labels.
func SetBuildInfo(version, commit string) {
	buildInfo.Reset()
	buildInfo.WithLabelValues(version, commit, runtime.Version()).Set(1)
}

// ObserveOp records the outcome of one atomic unit.
func ObserveOp(component, op, result string, d time.Duration) {
	if result == "" {
		result = "ok"
	}
	chainOpsTotal.WithLabelValues(component, op, result).Inc()
	chainOpDuration.WithLabelValues(component, op).Observe(d.Seconds())
}

// SetHeight exports the committed block count.
func SetHeight(h uint64) { chainHeight.Set(float64(h)) }

// SinkFailed counts a batch rejected by the named sink.
func SinkFailed(sink string) { sinkFailures.WithLabelValues(sink).Inc() }

// SetSupply exports a supply figure of a book ("reward", "native").
func SetSupply(book, measure string, v uint64) {
	supply.WithLabelValues(book, measure).Set(float64(v))
}

// InvariantViolated counts a failed conservation check.
func InvariantViolated(book string) { invariantViolations.WithLabelValues(book).Inc() }

// Instrument measures RPS, latency and in-flight requests.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		// chi reuses a route context found on the request, so the matched
		// pattern is readable here once the router returns.
		rctx := chi.NewRouteContext()
		r = r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		if pattern := rctx.RoutePattern(); pattern != "" {
			path = pattern
		}
		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

// CanonicalPath collapses identifier segments so label cardinality stays bounded.
func CanonicalPath(p string) string {
	if i := strings.IndexByte(p, '?'); i >= 0 {
		p = p[:i]
	}
	if p == "" {
		return "/"
	}
	parts := strings.Split(p, "/")
	for i, seg := range parts {
		if i < 3 || seg == "" {
			continue
		}
		if isIdentifier(seg) {
			parts[i] = ":id"
		}
	}
	return strings.Join(parts, "/")
}

func isIdentifier(seg string) bool {
	if _, err := strconv.ParseUint(seg, 10, 64); err == nil {
		return true
	}
	return strings.HasPrefix(seg, "vlt_") || len(seg) == 26
}

// statusWriter keeps the response code for the metrics labels.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// Flush keeps server-sent events working through the instrumentation wrapper.
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack lets websocket upgrades pass through.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("hijack not supported")
	}
	return h.Hijack()
}
