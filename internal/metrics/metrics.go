package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// sendsTotal counts individual send attempts.
	// Labels:
	// - result: "sent", "failed" or "dry_run"
	sendsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "outreach",
			Subsystem: "dispatch",
			Name:      "sends_total",
			Help:      "Number of recipient send attempts by result",
		},
		[]string{"result"},
	)

	// batchesTotal counts ProcessBatch invocations.
	// Labels:
	// - outcome: "processed", "idle", "outside_window", "quota_exhausted", "locked", "not_sending", "completed", "error"
	batchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "outreach",
			Subsystem: "dispatch",
			Name:      "batches_total",
			Help:      "Number of dispatch batches by outcome",
		},
		[]string{"outcome"},
	)

	batchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "outreach",
			Subsystem: "dispatch",
			Name:      "batch_duration_seconds",
			Help:      "Duration of dispatch batches",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		},
	)

	// resendOutcomes counts auto-resend planner decisions.
	// Labels:
	// - outcome: "not_ready", "skipped", "created" or "error"
	resendOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "outreach",
			Subsystem: "resend",
			Name:      "outcomes_total",
			Help:      "Auto-resend planner outcomes per parent campaign",
		},
		[]string{"outcome"},
	)

	streamSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "outreach",
			Subsystem: "stream",
			Name:      "subscribers",
			Help:      "Number of open log stream subscriptions",
		},
	)
)

func IncSend(result string) {
	if result == "" {
		result = "unknown"
	}
	sendsTotal.WithLabelValues(result).Inc()
}

func IncBatch(outcome string) {
	if outcome == "" {
		outcome = "unknown"
	}
	batchesTotal.WithLabelValues(outcome).Inc()
}

func ObserveBatch(d time.Duration) {
	batchDuration.Observe(d.Seconds())
}

func IncResendOutcome(outcome string) {
	if outcome == "" {
		outcome = "unknown"
	}
	resendOutcomes.WithLabelValues(outcome).Inc()
}

func AddStreamSubscribers(delta float64) {
	streamSubscribers.Add(delta)
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

var (
	// httpRequestsTotal counts requests by method, route, and status.
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "outreach",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests processed.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "outreach",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)
)

// ObserveHTTP records one request. Route should be the pattern, not the raw path.
func ObserveHTTP(method, route string, status int, d time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	code := strconv.Itoa(status)
	httpRequestsTotal.WithLabelValues(method, route, code).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route, code).Observe(d.Seconds())
}
