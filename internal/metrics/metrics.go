package metrics

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	Endpoint          = "0.0.0.0:9090"
	ReadHeaderTimeout = 2 * time.Second
)

var (
	// ConditionRunTimeSummary measures the time spent in each condition state.
	ConditionRunTimeSummary = promauto.NewSummaryVec(
		prometheus.SummaryOpts{
			Name: "ipuctl_condition_duration_seconds",
			Help: "A summary metric to measure the total time spent completing each condition",
		},
		[]string{"condition", "state"},
	)

	// MediaInsertsTotal counts InsertMedia actions issued, labeled by outcome.
	MediaInsertsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ipuctl_media_inserts_total",
			Help: "Count of virtual media insert actions issued against IMC redfish",
		},
		[]string{"outcome"},
	)

	// MediaInsertsSkipped counts inserts skipped because the requested
	// image was already present with a matching size.
	MediaInsertsSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ipuctl_media_inserts_skipped_total",
			Help: "Count of virtual media inserts skipped because URL and size matched",
		},
	)

	// LivenessEscalationsTotal counts IMC reboots issued while waiting for
	// the ACC to come up.
	LivenessEscalationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ipuctl_liveness_escalations_total",
			Help: "Count of IMC reboots issued by the ACC liveness monitor",
		},
	)
)

// ListenAndServe exposes the prometheus metrics endpoint.
func ListenAndServe() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	go func() {
		server := &http.Server{
			Addr:              Endpoint,
			Handler:           mux,
			ReadHeaderTimeout: ReadHeaderTimeout,
		}

		if err := server.ListenAndServe(); err != nil {
			slog.Error("Failed to start metrics server", "error", err)
		}
	}()
}
