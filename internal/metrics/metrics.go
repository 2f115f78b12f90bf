// Package metrics exposes Prometheus instrumentation for engine operations.
//
// A nil *Metrics is valid and records nothing, so callers that do not care
// about instrumentation can leave it unset.
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"digestdb/internal/errs"
)

const namespace = "digestdb"

// Metrics holds engine counters, histograms and gauges on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	operations    *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	bytesWritten  prometheus.Counter
	bytesRead     prometheus.Counter
	compensations prometheus.Counter
	orphans       prometheus.Gauge
	missing       prometheus.Gauge
}

// New creates a Metrics instance registered on a fresh registry.
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}
	m.register(m.registry)
	return m
}

func (m *Metrics) register(registry prometheus.Registerer) {
	m.operations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "engine",
		Name:      "operations_total",
		Help:      "Engine operations by name and result",
	}, []string{"op", "result"})
	m.duration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "engine",
		Name:      "operation_duration_seconds",
		Help:      "Engine operation latency",
		Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 8),
	}, []string{"op"})
	m.bytesWritten = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "blobs",
		Name:      "written_bytes_total",
		Help:      "Bytes committed to the blob store",
	})
	m.bytesRead = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "blobs",
		Name:      "read_bytes_total",
		Help:      "Bytes read back from the blob store",
	})
	m.compensations = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "engine",
		Name:      "compensating_removals_total",
		Help:      "Blob files removed after their index insert failed",
	})
	m.orphans = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "audit",
		Name:      "orphan_files",
		Help:      "Blob files without an index record at the last audit",
	})
	m.missing = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "audit",
		Name:      "missing_files",
		Help:      "Index records without a blob file at the last audit",
	})

	registry.MustRegister(
		m.operations,
		m.duration,
		m.bytesWritten,
		m.bytesRead,
		m.compensations,
		m.orphans,
		m.missing,
	)
}

// Registry returns the registry the metrics are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Observe records one operation outcome and its latency.
func (m *Metrics) Observe(op string, start time.Time, err error) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(op, Result(err)).Inc()
	m.duration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// AddWritten counts bytes committed to the blob store.
func (m *Metrics) AddWritten(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.bytesWritten.Add(float64(n))
}

// AddRead counts bytes read from the blob store.
func (m *Metrics) AddRead(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.bytesRead.Add(float64(n))
}

// Compensated counts a file removed after a failed record insert.
func (m *Metrics) Compensated() {
	if m == nil {
		return
	}
	m.compensations.Inc()
}

// SetAudit publishes the result of the most recent audit.
func (m *Metrics) SetAudit(orphans, missing int) {
	if m == nil {
		return
	}
	m.orphans.Set(float64(orphans))
	m.missing.Set(float64(missing))
}

// WriteTextfile dumps the registry in the text exposition format, for the
// node exporter textfile collector.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil {
		return nil
	}
	return prometheus.WriteToTextfile(path, m.registry)
}

// Result maps an error to a low-cardinality label value.
func Result(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, errs.ErrNotFound):
		return "not_found"
	case errors.Is(err, errs.ErrDuplicateObject), errors.Is(err, errs.ErrAlreadyExists):
		return "duplicate"
	case errors.Is(err, errs.ErrInvalidInput), errors.Is(err, errs.ErrInvalidConfiguration):
		return "invalid"
	case errors.Is(err, errs.ErrCorrupt):
		return "corrupt"
	default:
		return "error"
	}
}
