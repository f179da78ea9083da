package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultRegistry is shared by the API and the worker.
var DefaultRegistry = prometheus.NewRegistry()

func init() {
	DefaultRegistry.MustRegister(
		TasksTotal, TaskDuration,
		BatchesSubmitted, BatchEntries, BatchErrorsRecorded,
	)
}

// TasksTotal counts executed tasks by outcome.
var TasksTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "wallpaper_tasks_total",
		Help: "Executed tasks by task name and terminal status.",
	},
	[]string{"task", "status"}, // SUCCESS | FAILURE | REJECTED
)

var TaskDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "wallpaper_task_duration_seconds",
		Help:    "Task execution time in seconds.",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"task"},
)

var BatchesSubmitted = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "wallpaper_batches_submitted_total",
		Help: "Bulk upload batches submitted to the task queue.",
	},
)

// BatchEntries observes how many chains each submitted batch fans out to.
var BatchEntries = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "wallpaper_batch_entries",
		Help:    "Qualifying archive entries per submitted batch.",
		Buckets: prometheus.ExponentialBuckets(1, 4, 8),
	},
)

var BatchErrorsRecorded = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "wallpaper_batch_errors_total",
		Help: "Validation failures recorded against a batch.",
	},
)

// Handler serves the registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(DefaultRegistry, promhttp.HandlerOpts{})
}
