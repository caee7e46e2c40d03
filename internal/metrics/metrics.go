// Package metrics is the counter/timer registry consumed by every other
// pipeline component. It wraps a dedicated prometheus.Registry (rather
// than the global default) so the health server's /metrics handler only
// ever exposes this pipeline's own series.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Sink is the metrics surface shared across C1-C7.
type Sink struct {
	registry *prometheus.Registry

	EgressSentOK       prometheus.Counter
	EgressSentErr      prometheus.Counter
	EventsProcessed    prometheus.Counter
	EventsUnknown      prometheus.Counter
	EventsSkippedBad   prometheus.Counter
	EventsMarkerSkip   prometheus.Counter
	CursorSaveErrors   prometheus.Counter
	CursorLoadErrors   prometheus.Counter
	FeedReadErrors     prometheus.Counter
	InitialLoadRecords prometheus.Counter
	InitialLoadSeconds prometheus.Histogram
	BreakerState       *prometheus.GaugeVec
	BreakerTrips       *prometheus.CounterVec
}

// New builds a Sink and registers every collector on a fresh registry.
func New(namespace string) *Sink {
	s := &Sink{registry: prometheus.NewRegistry()}

	s.EgressSentOK = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "egress", Name: "sent_ok_total",
		Help: "Records successfully delivered to the log broker.",
	})
	s.EgressSentErr = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "egress", Name: "sent_err_total",
		Help: "Records the log broker failed to deliver.",
	})
	s.EventsProcessed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "change_stream", Name: "events_processed_total",
		Help: "Change-feed events read from the source, of any classification.",
	})
	s.EventsUnknown = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "change_stream", Name: "events_unknown_total",
		Help: "Change-feed events with an operation type outside the classification whitelist.",
	})
	s.EventsSkippedBad = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "change_stream", Name: "events_bad_data_total",
		Help: "Change-feed events skipped for malformed data (null full_document on insert/update/replace).",
	})
	s.EventsMarkerSkip = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "change_stream", Name: "events_marker_skip_total",
		Help: "Change-feed events skipped as legacy initial_load_marker artifacts.",
	})
	s.CursorSaveErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "cursor", Name: "save_errors_total",
		Help: "Resume-cursor save faults.",
	})
	s.CursorLoadErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "cursor", Name: "load_errors_total",
		Help: "Resume-cursor load faults (excluding absent-cursor, which is not an error).",
	})
	s.FeedReadErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "change_stream", Name: "read_errors_total",
		Help: "Transient errors reading the next change-feed event.",
	})
	s.InitialLoadRecords = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "initial_load", Name: "records_total",
		Help: "Documents emitted by the bulk snapshot loader.",
	})
	s.InitialLoadSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace, Subsystem: "initial_load", Name: "duration_seconds",
		Help:    "Wall-clock duration of a single bulk snapshot run.",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 14),
	})
	s.BreakerState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: "breaker", Name: "state",
		Help: "Current breaker state as an enum: 0=closed, 1=open, 2=half_open.",
	}, []string{"breaker"})
	s.BreakerTrips = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "breaker", Name: "trips_total",
		Help: "Transitions into the Open state.",
	}, []string{"breaker"})

	s.registry.MustRegister(
		s.EgressSentOK, s.EgressSentErr,
		s.EventsProcessed, s.EventsUnknown, s.EventsSkippedBad, s.EventsMarkerSkip,
		s.CursorSaveErrors, s.CursorLoadErrors, s.FeedReadErrors,
		s.InitialLoadRecords, s.InitialLoadSeconds,
		s.BreakerState, s.BreakerTrips,
	)
	return s
}

// Registry exposes the underlying prometheus.Registry for the health
// server's /metrics handler.
func (s *Sink) Registry() *prometheus.Registry { return s.registry }

// BreakerStateValue maps a breaker.State-shaped enum (0/1/2) for the gauge,
// kept here rather than in the breaker package so breaker stays free of a
// prometheus dependency and only this sink translates between the two.
func BreakerStateValue(stateOrdinal int) float64 { return float64(stateOrdinal) }
