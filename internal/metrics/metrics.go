// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TimelineMutations counts timeline edit commands by operation and outcome.
	TimelineMutations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clipforge_timeline_mutations_total",
		Help: "Total timeline edit commands by operation and result",
	}, []string{"op", "result"})

	// TimelineVersion is the version of the live timeline aggregate.
	TimelineVersion = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "clipforge_timeline_version",
		Help: "Version of the live timeline, incremented on every committed edit",
	})

	// ExportsTotal counts exports that reached a terminal status.
	ExportsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clipforge_exports_total",
		Help: "Total exports by terminal status",
	}, []string{"status"})

	// ExportsRunning is 1 while an export is being encoded.
	ExportsRunning = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "clipforge_exports_running",
		Help: "Number of exports currently running",
	})

	// ExportDuration tracks wall-clock encode time per terminal status.
	ExportDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "clipforge_export_duration_seconds",
		Help:    "Wall-clock duration of export jobs",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~34m
	}, []string{"status"})

	// EventDrops counts progress events dropped for slow subscribers.
	EventDrops = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clipforge_event_drops_total",
		Help: "Total export events dropped because a subscriber was not keeping up",
	}, []string{"type"})

	// EncoderFallbacks counts exports that asked for hardware encoding but ran in software.
	EncoderFallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clipforge_encoder_fallback_total",
		Help: "Total exports that fell back from a hardware to a software encoder",
	}, []string{"encoder"})
)

// RecordTimelineMutation records the outcome of one timeline edit.
func RecordTimelineMutation(op string, err error) {
	result := "ok"
	if err != nil {
		result = "rejected"
	}
	if op == "" {
		op = "unknown"
	}
	TimelineMutations.WithLabelValues(op, result).Inc()
}

// RecordExportFinished records a terminal export and its wall-clock duration.
func RecordExportFinished(status string, seconds float64) {
	ExportsTotal.WithLabelValues(status).Inc()
	if seconds >= 0 {
		ExportDuration.WithLabelValues(status).Observe(seconds)
	}
}

// IncEventDrop records an event dropped for a slow subscriber.
func IncEventDrop(eventType string) {
	if eventType == "" {
		eventType = "unknown"
	}
	EventDrops.WithLabelValues(eventType).Inc()
}
