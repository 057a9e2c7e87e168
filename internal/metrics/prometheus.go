package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusCollector provides Prometheus metrics collection on its own registry.
type PrometheusCollector struct {
	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	errorsTotal       *prometheus.CounterVec
	memories          *prometheus.GaugeVec
	registry          *prometheus.Registry
}

// NewPrometheusCollector creates a new Prometheus metrics collector
func NewPrometheusCollector() *PrometheusCollector {
	registry := prometheus.NewRegistry()

	operationsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chronolock_operations_total",
			Help: "Total number of memory operations by type and status",
		},
		[]string{"operation", "status"},
	)

	operationDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "chronolock_operation_duration_seconds",
			Help: "Duration of memory operations by type and stage",
			// Contract deployment waits on block confirmation, so the tail is long.
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0},
		},
		[]string{"operation", "stage"},
	)

	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chronolock_errors_total",
			Help: "Total number of errors by operation and error kind",
		},
		[]string{"operation", "kind"},
	)

	memories := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chronolock_memories",
			Help: "Memories in the last listing by mode",
		},
		[]string{"mode"},
	)

	registry.MustRegister(operationsTotal, operationDuration, errorsTotal, memories)

	return &PrometheusCollector{
		operationsTotal:   operationsTotal,
		operationDuration: operationDuration,
		errorsTotal:       errorsTotal,
		memories:          memories,
		registry:          registry,
	}
}

// RecordOperation records the completion of an operation
func (m *PrometheusCollector) RecordOperation(ctx context.Context, operation string, status string, durationMs int64) {
	m.operationsTotal.WithLabelValues(operation, status).Inc()
	m.operationDuration.WithLabelValues(operation, "total").Observe(float64(durationMs) / 1000.0)
}

// RecordStage records the duration of a specific stage within an operation
func (m *PrometheusCollector) RecordStage(ctx context.Context, operation string, stage string, durationMs int64) {
	m.operationDuration.WithLabelValues(operation, stage).Observe(float64(durationMs) / 1000.0)
}

// RecordError records an error occurrence
func (m *PrometheusCollector) RecordError(ctx context.Context, operation string, errorKind string) {
	m.errorsTotal.WithLabelValues(operation, errorKind).Inc()
}

// SetMemoryCount sets the memory gauge for mode
func (m *PrometheusCollector) SetMemoryCount(ctx context.Context, mode string, count int64) {
	m.memories.WithLabelValues(mode).Set(float64(count))
}

// WriteTextfile writes the current metrics in the text exposition format,
// for node_exporter's textfile collector.
func (m *PrometheusCollector) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.registry)
}
