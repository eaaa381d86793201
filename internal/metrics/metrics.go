package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	generationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "imagegen_bridge_generation_duration_seconds",
		Help:    "End-to-end duration of image generation requests",
		Buckets: []float64{1, 2, 5, 10, 20, 30, 60, 120, 300},
	}, []string{"source", "status"})

	generationTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "imagegen_bridge_generation_total",
		Help: "Image generation requests grouped by result source and status",
	}, []string{"source", "status"})

	streamOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "imagegen_bridge_stream_outcomes_total",
		Help: "Terminal states reached by the event stream resolver",
	}, []string{"state"})

	streamMalformedFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "imagegen_bridge_stream_malformed_frames_total",
		Help: "Stream frames skipped because a decode stage failed",
	})

	pollAttempts = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "imagegen_bridge_poll_attempts",
		Help:    "Attempts used by status polling runs",
		Buckets: []float64{1, 2, 3, 4, 5, 8, 10},
	}, []string{"status"})

	pollDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "imagegen_bridge_poll_duration_seconds",
		Help:    "Duration of status polling runs",
		Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30},
	}, []string{"status"})

	materializations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "imagegen_bridge_materializations_total",
		Help: "Artifacts written grouped by mode (normalized or raw fallback)",
	}, []string{"mode"})
)

func label(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}

// ObserveGeneration records a completed generation request.
func ObserveGeneration(source, status string, duration time.Duration) {
	source, status = label(source), label(status)
	generationDuration.WithLabelValues(source, status).Observe(duration.Seconds())
	generationTotal.WithLabelValues(source, status).Inc()
}

// ObserveStream records the terminal state of one stream resolution.
func ObserveStream(state string, malformed int) {
	streamOutcomes.WithLabelValues(label(state)).Inc()
	if malformed > 0 {
		streamMalformedFrames.Add(float64(malformed))
	}
}

// ObservePoll records a finished polling run.
func ObservePoll(status string, attempts int, duration time.Duration) {
	status = label(status)
	pollAttempts.WithLabelValues(status).Observe(float64(attempts))
	pollDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// ObserveMaterialize records how an artifact was written.
func ObserveMaterialize(mode string) {
	materializations.WithLabelValues(label(mode)).Inc()
}
