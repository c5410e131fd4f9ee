package attendance

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics names as constants for consistency.
const (
	MetricEventsRecorded    = "attendance_events_recorded_total"
	MetricAnomaliesDetected = "attendance_anomalies_detected_total"
	MetricRecordLatency     = "attendance_record_latency_seconds"
)

// Metrics contains Prometheus metrics for the attendance recorder.
// All operations are thread-safe.
type Metrics struct {
	eventsRecorded    *prometheus.CounterVec
	anomaliesDetected *prometheus.CounterVec
	recordLatency     prometheus.Histogram
}

// NewMetrics creates and returns a new Metrics instance with all collectors initialized.
// The metrics are not registered; call Register to register them with a registry.
func NewMetrics() *Metrics {
	return &Metrics{
		eventsRecorded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricEventsRecorded,
			Help: "Total number of attendance events recorded, by derived status",
		}, []string{"status"}),
		anomaliesDetected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricAnomaliesDetected,
			Help: "Total number of anomaly findings persisted, by kind",
		}, []string{"kind"}),
		recordLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    MetricRecordLatency,
			Help:    "Histogram of end-to-end record call latency in seconds",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

// Register registers all metrics with the given registry.
// Returns an error if registration fails.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		m.eventsRecorded,
		m.anomaliesDetected,
		m.recordLatency,
	}

	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// IncEventsRecorded increments the recorded-events counter for a status.
func (m *Metrics) IncEventsRecorded(status Status) {
	m.eventsRecorded.WithLabelValues(string(status)).Inc()
}

// IncAnomaliesDetected increments the detected-anomalies counter for a kind.
func (m *Metrics) IncAnomaliesDetected(kind string) {
	m.anomaliesDetected.WithLabelValues(kind).Inc()
}

// ObserveRecordLatency records one record call's latency.
func (m *Metrics) ObserveRecordLatency(seconds float64) {
	m.recordLatency.Observe(seconds)
}
