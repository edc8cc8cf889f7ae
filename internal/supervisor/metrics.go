package supervisor

import "github.com/prometheus/client_golang/prometheus"

var allStates = []State{StateStopped, StateStarting, StateRunning, StateStopping}

var (
	restartCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "deskactivity",
		Subsystem: "supervisor",
		Name:      "worker_crashes_total",
		Help:      "Number of unexpected worker exits.",
	})

	stateGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "deskactivity",
		Subsystem: "supervisor",
		Name:      "state",
		Help:      "1 for the current supervisor state, 0 otherwise.",
	}, []string{"state"})

	processedGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "deskactivity",
		Subsystem: "supervisor",
		Name:      "worker_events_processed",
		Help:      "Events processed by the current worker, as last reported.",
	})
)

func init() {
	prometheus.MustRegister(restartCounter, stateGauge, processedGauge)
}

func recordRestart() {
	restartCounter.Inc()
}

func setState(current State) {
	for _, state := range allStates {
		value := 0.0
		if state == current {
			value = 1
		}
		stateGauge.WithLabelValues(string(state)).Set(value)
	}
}

func setProcessed(n int64) {
	processedGauge.Set(float64(n))
}
