package bus

import (
	"github.com/prometheus/client_golang/prometheus"

	"example.com/deskactivity/internal/events"
)

var (
	publishedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "deskactivity",
		Subsystem: "bus",
		Name:      "events_published_total",
		Help:      "Number of events published on the in-process bus.",
	}, []string{"event_type"})

	listenerPanicCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "deskactivity",
		Subsystem: "bus",
		Name:      "listener_panics_total",
		Help:      "Number of listener invocations that panicked.",
	})
)

func init() {
	prometheus.MustRegister(publishedCounter, listenerPanicCounter)
}

func recordPublished(t events.EventType) {
	publishedCounter.WithLabelValues(string(t)).Inc()
}

func recordListenerPanic() {
	listenerPanicCounter.Inc()
}
