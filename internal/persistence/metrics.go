package persistence

import "github.com/prometheus/client_golang/prometheus"

var (
	insertedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "deskactivity",
		Subsystem: "store",
		Name:      "events_written_total",
		Help:      "Number of events submitted to the store, including ignored duplicates.",
	}, []string{"driver"})

	purgedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "deskactivity",
		Subsystem: "store",
		Name:      "events_purged_total",
		Help:      "Number of events removed by retention cleanup.",
	}, []string{"driver"})
)

func init() {
	prometheus.MustRegister(insertedCounter, purgedCounter)
}

func recordInserted(driver string, n int) {
	insertedCounter.WithLabelValues(driver).Add(float64(n))
}

func recordPurged(driver string, n int64) {
	purgedCounter.WithLabelValues(driver).Add(float64(n))
}
