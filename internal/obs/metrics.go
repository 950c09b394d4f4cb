package obs

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
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

	readyGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "service_ready",
		Help: "1 when the last readiness probe succeeded.",
	})
)

// Vesting metrics
var (
	vestingOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vesting_operations_total",
			Help: "Vesting operations by kind and outcome.",
		},
		[]string{"op", "result"},
	)

	vestingClaimedTokens = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "vesting_claimed_tokens_total",
		Help: "Tokens released to beneficiaries by successful claims.",
	})

	vestingReservedTokens = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "vesting_reserved_tokens_total",
		Help: "Tokens moved from treasuries into employee escrows.",
	})
)

var initOnce sync.Once

// Init registers metrics in the default registry. Safe to call more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration, readyGauge,
			vestingOps, vestingClaimedTokens, vestingReservedTokens,
		)
	})
}

// Handler serves the Prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// SetReady records the outcome of the latest readiness probe.
func SetReady(ok bool) {
	if ok {
		readyGauge.Set(1)
		return
	}
	readyGauge.Set(0)
}

// RecordOp counts a vesting operation outcome. result is "ok" or an error label.
func RecordOp(op, result string) {
	vestingOps.WithLabelValues(op, result).Inc()
}

// RecordClaimed adds released tokens.
func RecordClaimed(amount uint64) {
	vestingClaimedTokens.Add(float64(amount))
}

// RecordReserved adds escrowed tokens.
func RecordReserved(amount uint64) {
	vestingReservedTokens.Add(float64(amount))
}

// Instrument measures RPS, latency and in-flight requests. Mounted inside a
// chi router it labels by route pattern; otherwise by CanonicalPath.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method := r.Method

		httpInFlight.Inc()
		defer httpInFlight.Dec()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		path := ""
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			path = rctx.RoutePattern()
		}
		if path == "" {
			path = CanonicalPath(r.URL.Path)
		}
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	})
}

// CanonicalPath collapses record addresses so unrouted paths keep label
// cardinality bounded.
func CanonicalPath(p string) string {
	if i := strings.IndexByte(p, '?'); i >= 0 {
		p = p[:i]
	}
	if p == "" {
		return "/"
	}
	parts := strings.Split(strings.Trim(p, "/"), "/")
	switch {
	case len(parts) == 3 && parts[0] == "v1" && (parts[1] == "programs" || parts[1] == "employees"):
		parts[2] = "{" + strings.TrimSuffix(parts[1], "s") + "}"
	case len(parts) == 4 && parts[0] == "v1" && parts[1] == "programs":
		parts[2] = "{program}"
	case len(parts) == 5 && parts[0] == "v1" && parts[1] == "programs" && parts[3] == "treasury":
		parts[2] = "{program}"
	}
	return "/" + strings.Join(parts, "/")
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// Flush keeps SSE streaming working through the wrapper.
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
