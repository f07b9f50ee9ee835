package kronroe

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is an optional set of Prometheus collectors instrumenting
// orchestrator operations: per-operation call counts, latencies, and the
// current size of the in-memory vector index. Nil-safe throughout — a
// Graph opened without metrics configured simply skips instrumentation.
type Metrics struct {
	opTotal    *prometheus.CounterVec
	opDuration *prometheus.HistogramVec
	vectorSize prometheus.GaugeFunc
}

// NewMetrics creates a Metrics instance and registers its collectors on
// reg. Pass prometheus.NewRegistry() for isolated tests, or
// prometheus.DefaultRegisterer-backed registry for a process exposing
// /metrics.
func NewMetrics(reg prometheus.Registerer, sizeFn func() int) *Metrics {
	m := &Metrics{
		opTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kronroe",
			Name:      "operations_total",
			Help:      "Count of core operations by name and outcome.",
		}, []string{"operation", "outcome"}),
		opDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "kronroe",
			Name:      "operation_duration_seconds",
			Help:      "Latency of core operations by name.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
	}
	m.vectorSize = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "kronroe",
		Name:      "vector_index_size",
		Help:      "Number of entries currently held in the in-memory vector index.",
	}, func() float64 { return float64(sizeFn()) })

	reg.MustRegister(m.opTotal, m.opDuration, m.vectorSize)
	return m
}

func (m *Metrics) observe(operation string, start time.Time, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.opTotal.WithLabelValues(operation, outcome).Inc()
	m.opDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}
