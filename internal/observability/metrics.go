// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Scanner metrics
	EventsScanned    *prometheus.CounterVec
	EventsDiscarded  *prometheus.CounterVec
	ScanErrors       *prometheus.CounterVec
	ScanCycles       prometheus.Counter

	// Validation metrics
	CandidatesDiscovered *prometheus.CounterVec
	CandidatesValidated  *prometheus.CounterVec
	CandidatesRejected   *prometheus.CounterVec
	ValidationDuration   prometheus.Histogram

	// Transport metrics
	WSReconnects       prometheus.Counter
	WSMessagesReceived prometheus.Counter
	WSCallLatency      prometheus.Histogram

	// Cache metrics
	CacheSize      prometheus.Gauge
	CacheEvictions prometheus.Counter
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "sui_pool_radar"
	}

	return &Metrics{
		EventsScanned: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scanner",
			Name:      "events_scanned_total",
			Help:      "Total number of pool creation events returned by queries",
		}, []string{"source"}),
		EventsDiscarded: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scanner",
			Name:      "events_discarded_total",
			Help:      "Total number of events discarded before admission",
		}, []string{"source", "reason"}),
		ScanErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scanner",
			Name:      "scan_errors_total",
			Help:      "Total number of failed source queries",
		}, []string{"source"}),
		ScanCycles: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scanner",
			Name:      "scan_cycles_total",
			Help:      "Total number of completed scan cycles",
		}),

		CandidatesDiscovered: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "validation",
			Name:      "candidates_discovered_total",
			Help:      "Total number of candidates admitted for validation",
		}, []string{"source"}),
		CandidatesValidated: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "validation",
			Name:      "candidates_validated_total",
			Help:      "Total number of candidates that passed validation",
		}, []string{"source"}),
		CandidatesRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "validation",
			Name:      "candidates_rejected_total",
			Help:      "Total number of candidates rejected after exhausting retries",
		}, []string{"source", "reason"}),
		ValidationDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "validation",
			Name:      "duration_seconds",
			Help:      "Time from admission to terminal state",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}),

		WSReconnects: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "ws_reconnects_total",
			Help:      "Total number of WebSocket reconnect attempts",
		}),
		WSMessagesReceived: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "ws_messages_received_total",
			Help:      "Total number of WebSocket messages received",
		}),
		WSCallLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "ws_call_latency_seconds",
			Help:      "Round trip latency of WebSocket RPC calls",
			Buckets:   prometheus.DefBuckets,
		}),

		CacheSize: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "entries",
			Help:      "Current number of entries in the candidate cache",
		}),
		CacheEvictions: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "evictions_total",
			Help:      "Total number of entries removed by bulk eviction",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordEventScanned increments the scanned event counter for a source.
func RecordEventScanned(source string) {
	DefaultMetrics.EventsScanned.WithLabelValues(source).Inc()
}

// RecordEventDiscarded increments the discard counter for a source and reason.
func RecordEventDiscarded(source, reason string) {
	DefaultMetrics.EventsDiscarded.WithLabelValues(source, reason).Inc()
}

// RecordScanError increments the failed query counter for a source.
func RecordScanError(source string) {
	DefaultMetrics.ScanErrors.WithLabelValues(source).Inc()
}

// RecordScanCycle increments the completed cycle counter.
func RecordScanCycle() {
	DefaultMetrics.ScanCycles.Inc()
}

// RecordCandidateDiscovered increments the admission counter for a source.
func RecordCandidateDiscovered(source string) {
	DefaultMetrics.CandidatesDiscovered.WithLabelValues(source).Inc()
}

// RecordCandidateValidated increments the validated counter for a source.
func RecordCandidateValidated(source string) {
	DefaultMetrics.CandidatesValidated.WithLabelValues(source).Inc()
}

// RecordCandidateRejected increments the rejected counter.
func RecordCandidateRejected(source, reason string) {
	DefaultMetrics.CandidatesRejected.WithLabelValues(source, reason).Inc()
}

// RecordValidationDuration observes the time a candidate spent in validation.
func RecordValidationDuration(seconds float64) {
	DefaultMetrics.ValidationDuration.Observe(seconds)
}

// RecordWSReconnect increments the reconnect counter.
func RecordWSReconnect() {
	DefaultMetrics.WSReconnects.Inc()
}

// RecordWSMessage increments the received message counter.
func RecordWSMessage() {
	DefaultMetrics.WSMessagesReceived.Inc()
}

// RecordWSCallLatency observes a call round trip.
func RecordWSCallLatency(seconds float64) {
	DefaultMetrics.WSCallLatency.Observe(seconds)
}

// UpdateCacheSize sets the current cache entry gauge.
func UpdateCacheSize(n int) {
	DefaultMetrics.CacheSize.Set(float64(n))
}

// RecordCacheEvictions adds removed entries to the eviction counter.
func RecordCacheEvictions(n int) {
	DefaultMetrics.CacheEvictions.Add(float64(n))
}
