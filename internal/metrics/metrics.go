// Package metrics exposes Prometheus collectors for the audit service.
package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	triggerOutcomesTotal    *prometheus.CounterVec
	auditsTotal             *prometheus.CounterVec
	auditDurationSeconds    *prometheus.HistogramVec
	fanoutMessagesTotal     prometheus.Counter
	debounceRejectionsTotal prometheus.Counter
	httpRequestsTotal       *prometheus.CounterVec
	httpRequestDuration     *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		triggerOutcomesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "beacon_trigger_outcomes_total",
				Help: "Total trigger handler outcomes, labeled by kind and reason.",
			},
			[]string{"kind", "reason"},
		)

		auditsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "beacon_audits_total",
				Help: "Total page audits executed, labeled by result.",
			},
			[]string{"result"},
		)

		auditDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "beacon_audit_duration_seconds",
				Help:    "Histogram of page audit durations, labeled by device.",
				Buckets: []float64{1, 2, 5, 10, 20, 45, 90},
			},
			[]string{"device"},
		)

		fanoutMessagesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "beacon_fanout_messages_total",
				Help: "Total dispatch messages accepted by the sink during fan-out.",
			},
		)

		debounceRejectionsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "beacon_debounce_rejections_total",
				Help: "Total runs rejected by the debounce gate.",
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "beacon_http_requests_total",
				Help: "Total HTTP requests, labeled by method, route, and status.",
			},
			[]string{"method", "route", "status"},
		)

		httpRequestDuration = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "beacon_http_request_duration_seconds",
				Help:    "Histogram of HTTP request durations, labeled by route.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route"},
		)
	})
}

// IncOutcome increments the trigger outcome counter.
func IncOutcome(kind, reason string) {
	if triggerOutcomesTotal == nil {
		return
	}
	triggerOutcomesTotal.WithLabelValues(kind, reason).Inc()
}

// ObserveAudit records one audit execution.
func ObserveAudit(result string, device string, duration time.Duration) {
	if auditsTotal == nil || auditDurationSeconds == nil {
		return
	}
	auditsTotal.WithLabelValues(result).Inc()
	auditDurationSeconds.WithLabelValues(device).Observe(duration.Seconds())
}

// IncFanoutMessage increments the fan-out message counter.
func IncFanoutMessage() {
	if fanoutMessagesTotal == nil {
		return
	}
	fanoutMessagesTotal.Inc()
}

// IncDebounceRejection increments the debounce rejection counter.
func IncDebounceRejection() {
	if debounceRejectionsTotal == nil {
		return
	}
	debounceRejectionsTotal.Inc()
}

// ObserveHTTPRequest records one served HTTP request.
func ObserveHTTPRequest(method, route string, status int, duration time.Duration) {
	if httpRequestsTotal == nil || httpRequestDuration == nil {
		return
	}
	httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(route).Observe(duration.Seconds())
}
