package monitor

import (
	"github.com/prometheus/client_golang/prometheus"

	"example.com/deskactivity/internal/events"
)

var (
	windowChangeCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "deskactivity",
		Subsystem: "poller",
		Name:      "window_changes_total",
		Help:      "Number of focused-window changes detected.",
	})

	queryFailureCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "deskactivity",
		Subsystem: "poller",
		Name:      "window_query_failures_total",
		Help:      "Number of active-window queries that failed and were skipped.",
	})

	fileChangeCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "deskactivity",
		Subsystem: "watcher",
		Name:      "file_changes_total",
		Help:      "Number of settled file changes reported, by change type.",
	}, []string{"change_type"})

	watchErrorCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "deskactivity",
		Subsystem: "watcher",
		Name:      "errors_total",
		Help:      "Number of errors surfaced by the filesystem notification backend.",
	})
)

func init() {
	prometheus.MustRegister(windowChangeCounter, queryFailureCounter, fileChangeCounter, watchErrorCounter)
}

func recordWindowChange() {
	windowChangeCounter.Inc()
}

func recordQueryFailure() {
	queryFailureCounter.Inc()
}

func recordFileChange(kind events.ChangeType) {
	fileChangeCounter.WithLabelValues(string(kind)).Inc()
}

func recordWatchError() {
	watchErrorCounter.Inc()
}
