package obs

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTP-level metrics shared by every route.
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

// Authorization-core metrics. Audit write failures are an operational
// incident, not a request error, so they surface here rather than in
// responses.
var (
	authResolutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_resolutions_total",
			Help: "Identity resolution attempts by outcome.",
		},
		[]string{"outcome"},
	)

	authzDenialsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authz_denials_total",
			Help: "Authorization rule denials by rule kind.",
		},
		[]string{"rule"},
	)

	coopSwitchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coop_switches_total",
			Help: "Cooperative context switches by outcome.",
		},
		[]string{"outcome"},
	)

	auditWriteFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "audit_write_failures_total",
		Help: "Audit events that could not be persisted.",
	})

	crossTenantAccessTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cross_tenant_access_total",
		Help: "Explicitly audited cross-tenant bypass queries.",
	})
)

// Init registers all metrics in the default registry.
func Init() {
	prometheus.MustRegister(
		httpInFlight, httpRequestsTotal, httpRequestDuration,
		authResolutionsTotal, authzDenialsTotal, coopSwitchesTotal,
		auditWriteFailures, crossTenantAccessTotal,
	)
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// CountAuthResolution records an identity resolution outcome
// (e.g. "ok", "unauthenticated", "inactive").
func CountAuthResolution(outcome string) {
	authResolutionsTotal.WithLabelValues(outcome).Inc()
}

// CountAuthzDenial records a failed authorization rule by kind.
func CountAuthzDenial(rule string) {
	authzDenialsTotal.WithLabelValues(rule).Inc()
}

// CountCoopSwitch records a cooperative switch outcome ("applied", "rejected").
func CountCoopSwitch(outcome string) {
	coopSwitchesTotal.WithLabelValues(outcome).Inc()
}

// CountAuditWriteFailure records a lost audit event.
func CountAuditWriteFailure() {
	auditWriteFailures.Inc()
}

// CountCrossTenantAccess records a use of the audited bypass path.
func CountCrossTenantAccess() {
	crossTenantAccessTotal.Inc()
}

// CanonicalPath collapses resource identifiers in metric labels so path
// cardinality stays bounded.
func CanonicalPath(p string) string {
	if i := strings.IndexByte(p, '?'); i >= 0 {
		p = p[:i]
	}
	if p == "" {
		return "/"
	}
	parts := strings.Split(p, "/")
	switch {
	case len(parts) >= 4 && parts[1] == "v1" && parts[2] == "members":
		parts[3] = ":id"
	case len(parts) >= 4 && parts[1] == "v1" && parts[2] == "documents":
		parts[3] = ":id"
	case len(parts) >= 4 && parts[1] == "v1" && parts[2] == "switch":
		parts[3] = ":id"
	case len(parts) >= 4 && parts[1] == "v1" && parts[2] == "cooperatives" && parts[3] != "available":
		parts[3] = ":id"
	}
	return strings.Join(parts, "/")
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

// statusWriter captures the response code for metrics labels.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
