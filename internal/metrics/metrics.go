// Package metrics provides Prometheus metrics for monitoring chain runs.
package metrics

import (
	"time"

	"github.com/nadmax/gpcheck/internal/chain"
	"github.com/nadmax/gpcheck/internal/report"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Label value used for tasks that were never attempted.
const skippedState = "skipped"

var (
	RunsEnqueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gpcheck_runs_enqueued_total",
			Help: "Total number of chain runs enqueued",
		},
		[]string{"chain", "trigger"},
	)
	RunsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gpcheck_runs_completed_total",
			Help: "Total number of chain runs completed by final status",
		},
		[]string{"chain", "status"},
	)
	RunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gpcheck_run_duration_seconds",
			Help:    "Chain run duration in seconds",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"chain", "status"},
	)
	RunWaitTime = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gpcheck_run_wait_time_seconds",
			Help:    "Time run requests spend waiting in queue before execution",
			Buckets: []float64{.01, .05, .1, .5, 1, 5, 10, 30, 60, 300, 600, 1800, 3600},
		},
		[]string{"chain", "trigger"},
	)
	TaskExecutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gpcheck_task_executions_total",
			Help: "Total number of task outcomes by state",
		},
		[]string{"chain", "task", "state"},
	)
	TaskErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gpcheck_task_errors_total",
			Help: "Total number of task failures by error kind",
		},
		[]string{"chain", "task", "kind"},
	)
	TaskDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gpcheck_task_duration_seconds",
			Help:    "Task execution duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"chain", "task"},
	)
	RunsByStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gpcheck_runs_by_status",
			Help: "Number of stored run reports by status",
		},
		[]string{"status"},
	)
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gpcheck_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gpcheck_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gpcheck_queue_depth",
			Help: "Current number of run requests waiting in the queue",
		},
	)
	WorkersActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gpcheck_workers_active",
			Help: "Number of currently active workers",
		},
	)
)

func RecordRunEnqueued(chainID string, trigger chain.Trigger) {
	RunsEnqueued.WithLabelValues(chainID, string(trigger)).Inc()
}

func RecordRunWaitTime(chainID string, trigger chain.Trigger, waitTime time.Duration) {
	RunWaitTime.WithLabelValues(chainID, string(trigger)).Observe(waitTime.Seconds())
}

func RecordRunCompleted(chainID string, status report.StatusKind, duration time.Duration) {
	RunsCompleted.WithLabelValues(chainID, string(status)).Inc()
	RunDuration.WithLabelValues(chainID, string(status)).Observe(duration.Seconds())
}

func RecordTaskOutcome(chainID string, o report.Outcome) {
	if o.Skipped || o.Result == nil {
		TaskExecutions.WithLabelValues(chainID, o.TaskID, skippedState).Inc()
		return
	}

	TaskExecutions.WithLabelValues(chainID, o.TaskID, string(o.State)).Inc()
	TaskDuration.WithLabelValues(chainID, o.TaskID).Observe(o.Result.Duration().Seconds())
	if o.Result.Error != nil {
		TaskErrors.WithLabelValues(chainID, o.TaskID, string(o.Result.Error.Kind)).Inc()
	}
}

// RecordReport records every task outcome of a sealed report and the run
// itself, timed by wall clock duration.
func RecordReport(rep *report.RunReport, duration time.Duration) {
	for _, o := range rep.Outcomes() {
		RecordTaskOutcome(rep.ChainID(), o)
	}
	RecordRunCompleted(rep.ChainID(), rep.Summarize().Kind, duration)
}

func UpdateRunGauges(runsByStatus map[report.StatusKind]int) {
	RunsByStatus.Reset()
	for status, count := range runsByStatus {
		RunsByStatus.WithLabelValues(string(status)).Set(float64(count))
	}
}

func UpdateQueueDepth(depth int) {
	QueueDepth.Set(float64(depth))
}

func UpdateActiveWorkers(count int) {
	WorkersActive.Set(float64(count))
}

func RecordHTTPRequest(method, endpoint, status string, duration time.Duration) {
	HTTPRequestsTotal.WithLabelValues(method, endpoint, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}
