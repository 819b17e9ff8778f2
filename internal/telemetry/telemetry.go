// Package telemetry records per-operation Prometheus metrics for correl8 handles.
//
// A nil *Recorder is valid and records nothing.
package telemetry

import (
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

const namespace = "correl8"

// Result label values.
const (
	ResultOK    = "ok"
	ResultError = "error"
)

// Recorder owns a private registry so several handles or tests never collide
// on the global one.
type Recorder struct {
	registry   *prometheus.Registry
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	fallbacks  *prometheus.CounterVec
	bootstrap  *prometheus.CounterVec
}

// New creates a Recorder with its metrics registered.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "operations_total",
			Help:      "Store operations issued by correl8 handles.",
		}, []string{"index", "operation", "result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "operation_duration_seconds",
			Help:      "Latency of store operations.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30, 300},
		}, []string{"index", "operation"}),
		fallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "timestamp",
			Name:      "fallbacks_total",
			Help:      "Records whose timestamp could not be normalized and was replaced by the current time.",
		}, []string{"index"}),
		bootstrap: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "config",
			Name:      "bootstrap_total",
			Help:      "Config index bootstrap outcomes.",
		}, []string{"index", "result"}),
	}
	r.registry.MustRegister(r.operations, r.duration, r.fallbacks, r.bootstrap)
	return r
}

// Observe records one operation that started at start and ended with err.
func (r *Recorder) Observe(index, operation string, start time.Time, err error) {
	if r == nil {
		return
	}
	r.operations.WithLabelValues(index, operation, result(err)).Inc()
	r.duration.WithLabelValues(index, operation).Observe(time.Since(start).Seconds())
}

// TimestampFallback counts a record stamped with the current time because its
// timestamp was unparseable.
func (r *Recorder) TimestampFallback(index string) {
	if r == nil {
		return
	}
	r.fallbacks.WithLabelValues(index).Inc()
}

// Bootstrap records the outcome of a config index bootstrap.
func (r *Recorder) Bootstrap(index string, err error) {
	if r == nil {
		return
	}
	r.bootstrap.WithLabelValues(index, result(err)).Inc()
}

// Gatherer exposes the registry, e.g. for promhttp.
func (r *Recorder) Gatherer() prometheus.Gatherer {
	if r == nil {
		return prometheus.NewRegistry()
	}
	return r.registry
}

// WriteText writes all metrics in the Prometheus text exposition format.
func (r *Recorder) WriteText(w io.Writer) error {
	families, err := r.Gatherer().Gather()
	if err != nil {
		return err
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return err
		}
	}
	return nil
}

func result(err error) string {
	if err != nil {
		return ResultError
	}
	return ResultOK
}
