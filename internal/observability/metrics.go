package observability

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type brokerMetrics struct {
	invocationsTotal   *prometheus.CounterVec
	invocationDuration *prometheus.HistogramVec

	provisionsTotal   *prometheus.CounterVec
	provisionDuration prometheus.Histogram
	rotationsTotal    prometheus.Counter
	activeSessions    prometheus.Gauge

	rateLimitRejections prometheus.Counter
	rateLimitWindows    prometheus.Gauge

	oauthChecksTotal *prometheus.CounterVec

	httpRequestsTotal *prometheus.CounterVec
}

var (
	metricsOnce sync.Once
	metricsInst *brokerMetrics
)

func getMetrics() *brokerMetrics {
	metricsOnce.Do(func() {
		m := &brokerMetrics{
			invocationsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "toolgate_tool_invocations_total",
					Help: "Total tool invocations by tool and terminal outcome.",
				},
				[]string{"tool", "outcome"},
			),
			invocationDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "toolgate_tool_invocation_duration_seconds",
					Help:    "Tool invocation duration in seconds by tool, including any retry.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"tool"},
			),
			provisionsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "toolgate_session_provisions_total",
					Help: "Total upstream session provisioning attempts by status.",
				},
				[]string{"status"},
			),
			provisionDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "toolgate_session_provision_duration_seconds",
					Help:    "Upstream session provisioning duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			rotationsTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "toolgate_session_rotations_total",
					Help: "Sessions invalidated and recreated after an authorization failure.",
				},
			),
			activeSessions: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "toolgate_active_sessions",
					Help: "Sessions currently held in the session store.",
				},
			),
			rateLimitRejections: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "toolgate_rate_limit_rejections_total",
					Help: "Requests rejected by the per-user rate limiter.",
				},
			),
			rateLimitWindows: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "toolgate_rate_limit_windows",
					Help: "Per-user rate windows currently tracked.",
				},
			),
			oauthChecksTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "toolgate_oauth_status_checks_total",
					Help: "OAuth status checks by provider and result.",
				},
				[]string{"provider", "authenticated"},
			),
			httpRequestsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "toolgate_http_requests_total",
					Help: "Gateway HTTP requests by route and status code.",
				},
				[]string{"route", "code"},
			),
		}

		prometheus.MustRegister(
			m.invocationsTotal,
			m.invocationDuration,
			m.provisionsTotal,
			m.provisionDuration,
			m.rotationsTotal,
			m.activeSessions,
			m.rateLimitRejections,
			m.rateLimitWindows,
			m.oauthChecksTotal,
			m.httpRequestsTotal,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

// RecordToolInvocation counts one terminal broker outcome. outcome is the
// stable error code, or "success".
func RecordToolInvocation(tool, outcome string, duration time.Duration) {
	m := getMetrics()
	m.invocationsTotal.WithLabelValues(tool, outcome).Inc()
	m.invocationDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

func RecordSessionProvision(duration time.Duration, success bool) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.provisionsTotal.WithLabelValues(status).Inc()
	m.provisionDuration.Observe(duration.Seconds())
}

func RecordSessionRotation() {
	getMetrics().rotationsTotal.Inc()
}

func SetActiveSessions(count int) {
	getMetrics().activeSessions.Set(float64(count))
}

func RecordRateLimitRejection() {
	getMetrics().rateLimitRejections.Inc()
}

func SetRateLimitWindows(count int) {
	getMetrics().rateLimitWindows.Set(float64(count))
}

func RecordOAuthCheck(provider string, authenticated bool) {
	result := "false"
	if authenticated {
		result = "true"
	}
	getMetrics().oauthChecksTotal.WithLabelValues(provider, result).Inc()
}

func RecordHTTPRequest(route string, code int) {
	getMetrics().httpRequestsTotal.WithLabelValues(route, strconv.Itoa(code)).Inc()
}
