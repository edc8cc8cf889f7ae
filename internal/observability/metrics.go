// Package observability exposes the process-wide Prometheus registry over HTTP.
package observability

import (
	"context"
	"log"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	httptransport "example.com/deskactivity/internal/transport/http"
)

var (
	buildInfoGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "deskactivity",
		Name:      "build_info",
		Help:      "Constant 1 labelled with the running component and Go version.",
	}, []string{"component", "go_version"})

	lastEventGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "deskactivity",
		Subsystem: "store",
		Name:      "last_event_timestamp_seconds",
		Help:      "Unix timestamp of the most recent event written to the local store.",
	})
)

func init() {
	prometheus.MustRegister(buildInfoGauge, lastEventGauge)
}

// RecordComponent marks the running binary in build_info.
func RecordComponent(component string) {
	buildInfoGauge.WithLabelValues(component, runtime.Version()).Set(1)
}

// RecordEventStored updates the store watermark gauge.
func RecordEventStored(ts time.Time) {
	if ts.IsZero() {
		return
	}
	lastEventGauge.Set(float64(ts.Unix()))
}

// ServeMetrics exposes /metrics on addr until ctx is cancelled. An empty addr
// disables the listener.
func ServeMetrics(ctx context.Context, addr string, logger *log.Logger) error {
	if addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := httptransport.NewServer(httptransport.ServerConfig{Address: addr}, mux)
	return httptransport.Serve(ctx, srv, 5*time.Second, logger)
}
