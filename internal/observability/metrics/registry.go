// Package metrics provides centralized Prometheus metrics for a pushl run.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Cache metrics track C1/C2's conditional-GET cache behavior.
var (
	// CacheOutcomesTotal counts cache lookups by outcome: hit (304 reused),
	// miss (no prior record), or stale (record present, server returned 2xx).
	CacheOutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pushl_cache_outcomes_total",
			Help: "Total cache lookups by outcome (hit, miss, stale)",
		},
		[]string{"outcome"},
	)
)

// Fetch metrics track C2's outbound HTTP fetches.
var (
	// FetchesTotal counts fetch attempts per host by result.
	FetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pushl_fetches_total",
			Help: "Total fetch attempts by host and result (success, error)",
		},
		[]string{"host", "result"},
	)

	// FetchDuration measures fetch latency per host.
	FetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pushl_fetch_duration_seconds",
			Help:    "Fetch duration in seconds by host",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"host"},
	)
)

// Task metrics track C3's scheduler.
var (
	// TasksSubmittedTotal counts task submissions by kind. A resubmit of an
	// already-known key is not counted again, matching C3's dedup contract.
	TasksSubmittedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pushl_tasks_submitted_total",
			Help: "Total distinct tasks submitted by kind",
		},
		[]string{"kind"},
	)

	// TasksCompletedTotal counts terminal tasks by kind and outcome.
	TasksCompletedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pushl_tasks_completed_total",
			Help: "Total tasks reaching a terminal state by kind and outcome (done, failed)",
		},
		[]string{"kind", "outcome"},
	)

	// TasksRunning gauges the number of tasks currently executing.
	TasksRunning = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pushl_tasks_running",
			Help: "Number of tasks currently executing",
		},
	)
)

// Ping metrics track C6's notification dispatch.
var (
	// PingsTotal counts ping attempts by kind (websub, webmention, wayback)
	// and outcome (sent, no_endpoint, error).
	PingsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pushl_pings_total",
			Help: "Total ping attempts by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)
)

// RecordCacheOutcome increments the cache outcome counter. outcome should
// be one of "hit", "miss", or "stale".
func RecordCacheOutcome(outcome string) {
	CacheOutcomesTotal.WithLabelValues(outcome).Inc()
}

// RecordFetch records the result of a fetch attempt against host. result
// should be "success" or "error".
func RecordFetch(host, result string) {
	FetchesTotal.WithLabelValues(host, result).Inc()
}

// RecordFetchDuration records how long a fetch against host took.
func RecordFetchDuration(host string, d time.Duration) {
	FetchDuration.WithLabelValues(host).Observe(d.Seconds())
}

// RecordTaskSubmitted records a new (non-duplicate) task submission.
func RecordTaskSubmitted(kind string) {
	TasksSubmittedTotal.WithLabelValues(kind).Inc()
}

// RecordTaskCompleted records a task reaching a terminal state. outcome
// should be "done" or "failed".
func RecordTaskCompleted(kind, outcome string) {
	TasksCompletedTotal.WithLabelValues(kind, outcome).Inc()
}

// SetTasksRunning sets the current running-task gauge.
func SetTasksRunning(n int) {
	TasksRunning.Set(float64(n))
}

// RecordPing records a ping dispatch outcome. kind should be "websub",
// "webmention", or "wayback"; outcome should be "sent", "no_endpoint", or
// "error".
func RecordPing(kind, outcome string) {
	PingsTotal.WithLabelValues(kind, outcome).Inc()
}
