package sink

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	committedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "deskactivity",
		Subsystem: "sink",
		Name:      "events_committed_total",
		Help:      "Number of events durably handed off by each sink.",
	}, []string{"sink"})

	flushFailureCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "deskactivity",
		Subsystem: "sink",
		Name:      "flush_failures_total",
		Help:      "Number of failed flush attempts per sink.",
	}, []string{"sink"})

	droppedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "deskactivity",
		Subsystem: "sink",
		Name:      "events_dropped_total",
		Help:      "Number of events evicted because the buffer cap was reached.",
	}, []string{"sink"})

	connectFailureCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "deskactivity",
		Subsystem: "sink",
		Name:      "connect_failures_total",
		Help:      "Number of failed attempts to open the sink resource.",
	}, []string{"sink"})

	bufferedGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "deskactivity",
		Subsystem: "sink",
		Name:      "buffered_events",
		Help:      "Number of events waiting to be flushed.",
	}, []string{"sink"})

	connectedGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "deskactivity",
		Subsystem: "sink",
		Name:      "connected",
		Help:      "Whether the sink currently holds an open resource (1) or not (0).",
	}, []string{"sink"})

	flushDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "deskactivity",
		Subsystem: "sink",
		Name:      "flush_duration_seconds",
		Help:      "Latency of commit calls per sink.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"sink"})
)

func init() {
	prometheus.MustRegister(
		committedCounter,
		flushFailureCounter,
		droppedCounter,
		connectFailureCounter,
		bufferedGauge,
		connectedGauge,
		flushDuration,
	)
}

func recordCommitted(name string, n int) {
	committedCounter.WithLabelValues(name).Add(float64(n))
}

func recordDropped(name string, n int) {
	droppedCounter.WithLabelValues(name).Add(float64(n))
}

func recordConnectFailure(name string) {
	connectFailureCounter.WithLabelValues(name).Inc()
}

func setBuffered(name string, n int) {
	bufferedGauge.WithLabelValues(name).Set(float64(n))
}

func setConnected(name string, connected bool) {
	value := 0.0
	if connected {
		value = 1
	}
	connectedGauge.WithLabelValues(name).Set(value)
}

func observeFlush(name string, elapsed time.Duration, err error) {
	flushDuration.WithLabelValues(name).Observe(elapsed.Seconds())
	if err != nil {
		flushFailureCounter.WithLabelValues(name).Inc()
	}
}
