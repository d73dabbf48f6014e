package obs

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTP-level metrics shared by all handlers.
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

// Domain metrics. Incremented by the verifier, the coordinator and the
// policy handlers; exposed on /metrics next to the HTTP metrics.
var (
	PoliciesCreatedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "apishield_policies_created_total",
		Help: "Insurance policies successfully created.",
	})

	PoliciesRenewedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "apishield_policies_renewed_total",
		Help: "Policy renewals accepted.",
	})

	ClaimsPaidTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "apishield_claims_paid_total",
		Help: "Claims settled with a successful payout.",
	})

	ClaimsFailedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "apishield_claims_failed_total",
			Help: "Claims that reached the failed state, by reason.",
		},
		[]string{"reason"},
	)

	PaymentVerificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "apishield_payment_verifications_total",
			Help: "Payment authorization verification attempts, by result.",
		},
		[]string{"result"},
	)

	NonceReplaysTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "apishield_nonce_replays_total",
		Help: "Payment authorizations rejected because the nonce was already consumed.",
	})
)

var readyGauge = prometheus.NewGauge(prometheus.GaugeOpts{
	Name: "service_ready",
	Help: "1 when the service reports ready, 0 otherwise.",
})

// Init registers all metrics in the default registry.
func Init() {
	prometheus.MustRegister(
		httpInFlight, httpRequestsTotal, httpRequestDuration,
		PoliciesCreatedTotal, PoliciesRenewedTotal,
		ClaimsPaidTotal, ClaimsFailedTotal,
		PaymentVerificationsTotal, NonceReplaysTotal,
		readyGauge,
	)
}

// SetReady reflects readiness into the service_ready gauge.
func SetReady(ready bool) {
	if ready {
		readyGauge.Set(1)
		return
	}
	readyGauge.Set(0)
}

// Handler serves the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// CanonicalPath collapses resource identifiers so metric label cardinality
// stays bounded: /v1/claims/<uuid> becomes /v1/claims/:id.
func CanonicalPath(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return "/"
	}
	segments := strings.Split(path, "/")
	switch {
	case len(segments) >= 4 && segments[1] == "v1" && segments[2] == "claims" && segments[3] != "":
		if len(segments) == 4 {
			return "/v1/claims/:id"
		}
		if len(segments) == 5 && segments[4] == "proof" {
			return "/v1/claims/:id/proof"
		}
	case len(segments) == 4 && segments[1] == "v1" && segments[2] == "policies" &&
		segments[3] != "" && segments[3] != "renew":
		return "/v1/policies/:id"
	}
	return path
}

// Instrument wraps a handler with RPS/latency/in-flight measurements.
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

// statusWriter captures the response code for the metric labels.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
