package stream

import (
	"github.com/prometheus/client_golang/prometheus"

	"example.com/deskactivity/internal/events"
)

var (
	consumedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "deskactivity",
		Subsystem: "stream",
		Name:      "events_consumed_total",
		Help:      "Number of events decoded from the topic.",
	}, []string{"event_type"})

	decodeErrorCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "deskactivity",
		Subsystem: "stream",
		Name:      "decode_errors_total",
		Help:      "Number of malformed messages dropped.",
	})

	reconnectCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "deskactivity",
		Subsystem: "stream",
		Name:      "reconnects_total",
		Help:      "Number of scheduled reconnect attempts.",
	})

	subscriberPanicCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "deskactivity",
		Subsystem: "stream",
		Name:      "subscriber_panics_total",
		Help:      "Number of subscriber callbacks that panicked.",
	})

	connectedGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "deskactivity",
		Subsystem: "stream",
		Name:      "connected",
		Help:      "1 while a reader is attached to the broker.",
	})

	lastEventGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "deskactivity",
		Subsystem: "stream",
		Name:      "last_event_timestamp_seconds",
		Help:      "Unix timestamp carried by the most recent consumed event.",
	})
)

func init() {
	prometheus.MustRegister(consumedCounter, decodeErrorCounter, reconnectCounter, subscriberPanicCounter, connectedGauge, lastEventGauge)
}

func recordConsumed(evt events.ActivityEvent) {
	consumedCounter.WithLabelValues(string(evt.EventType)).Inc()
	if !evt.Timestamp.IsZero() {
		lastEventGauge.Set(float64(evt.Timestamp.Unix()))
	}
}

func recordDecodeError() {
	decodeErrorCounter.Inc()
}

func recordReconnect() {
	reconnectCounter.Inc()
}

func recordSubscriberPanic() {
	subscriberPanicCounter.Inc()
}

func setConnected(connected bool) {
	if connected {
		connectedGauge.Set(1)
		return
	}
	connectedGauge.Set(0)
}
