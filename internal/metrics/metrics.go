// Package metrics holds the Prometheus collectors the Universal
// Processor publishes: totals for processed/errored/orphaned events,
// per-type and per-error-type counters, and processing latency.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds the runtime's Prometheus collectors, separate from
// prometheus.DefaultRegisterer. It is a single package-level registry;
// the collectors below are registered into it once, at package init.
var Registry = prometheus.NewRegistry()

var (
	eventsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "aios",
			Subsystem: "processor",
			Name:      "events_processed_total",
			Help:      "Total events that completed process_event, by event type.",
		},
		[]string{"event_type"},
	)

	eventsErrored = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "aios",
			Subsystem: "processor",
			Name:      "events_errored_total",
			Help:      "Total events that produced an error event, by error type.",
		},
		[]string{"error_type"},
	)

	eventsOrphaned = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "aios",
			Subsystem: "processor",
			Name:      "events_orphaned_total",
			Help:      "Total events with no capable driver and no subscriber.",
		},
		[]string{"event_type"},
	)

	eventsDenied = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "aios",
			Subsystem: "processor",
			Name:      "events_denied_total",
			Help:      "Total events denied by the security manager.",
		},
		[]string{"event_type"},
	)

	processingDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "aios",
			Subsystem: "processor",
			Name:      "processing_duration_seconds",
			Help:      "Duration of process_event calls.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		},
		[]string{"event_type"},
	)
)

func init() {
	Registry.MustRegister(eventsProcessed, eventsErrored, eventsOrphaned, eventsDenied, processingDuration)
}

// RecordProcessed increments the processed counter and observes the
// processing latency for eventType.
func RecordProcessed(eventType string, d time.Duration) {
	eventsProcessed.WithLabelValues(eventType).Inc()
	processingDuration.WithLabelValues(eventType).Observe(d.Seconds())
}

// RecordErrored increments the errored counter for errorType.
func RecordErrored(errorType string) {
	eventsErrored.WithLabelValues(errorType).Inc()
}

// RecordOrphaned increments the orphan counter for eventType.
func RecordOrphaned(eventType string) {
	eventsOrphaned.WithLabelValues(eventType).Inc()
}

// RecordDenied increments the denied counter for eventType.
func RecordDenied(eventType string) {
	eventsDenied.WithLabelValues(eventType).Inc()
}
