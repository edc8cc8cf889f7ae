package worker

import "github.com/prometheus/client_golang/prometheus"

var (
	processedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "deskactivity",
		Subsystem: "worker",
		Name:      "events_processed_total",
		Help:      "Number of events handed to the sinks.",
	})

	runningGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "deskactivity",
		Subsystem: "worker",
		Name:      "pipeline_running",
		Help:      "1 while the capture pipeline is started.",
	})

	commandCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "deskactivity",
		Subsystem: "worker",
		Name:      "commands_total",
		Help:      "Commands received from the supervisor by kind and outcome.",
	}, []string{"kind", "outcome"})
)

func init() {
	prometheus.MustRegister(processedCounter, runningGauge, commandCounter)
}

func recordCommand(kind string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	commandCounter.WithLabelValues(kind, outcome).Inc()
}

func setRunning(running bool) {
	if running {
		runningGauge.Set(1)
		return
	}
	runningGauge.Set(0)
}
