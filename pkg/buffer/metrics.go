package buffer

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/L1ghtError/LimbWorker/metric"
)

// bufferMetrics holds Prometheus metrics for a buffer. A nil receiver is a no-op.
type bufferMetrics struct {
	bytes       prometheus.Counter
	truncations prometheus.Counter
	size        prometheus.Gauge
	utilization prometheus.Gauge
}

func newBufferMetrics(registry *metric.MetricsRegistry, prefix string) (*bufferMetrics, error) {
	labels := prometheus.Labels{"component": prefix}
	m := &bufferMetrics{
		bytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "buffer",
			Name:        "bytes_total",
			ConstLabels: labels,
			Help:        "Total bytes appended to the buffer",
		}),
		truncations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "buffer",
			Name:        "truncations_total",
			ConstLabels: labels,
			Help:        "Appends that exceeded the free space",
		}),
		size: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "buffer",
			Name:        "size_bytes",
			ConstLabels: labels,
			Help:        "Bytes currently buffered",
		}),
		utilization: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "buffer",
			Name:        "utilization",
			ConstLabels: labels,
			Help:        "Buffer utilization (0.0 to 1.0)",
		}),
	}

	if err := registry.RegisterCounter(prefix, "buffer_bytes", m.bytes); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter(prefix, "buffer_truncations", m.truncations); err != nil {
		return nil, err
	}
	if err := registry.RegisterGauge(prefix, "buffer_size", m.size); err != nil {
		return nil, err
	}
	if err := registry.RegisterGauge(prefix, "buffer_utilization", m.utilization); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *bufferMetrics) observeWrite(n int, truncated bool, used, capacity int) {
	if m == nil {
		return
	}
	m.bytes.Add(float64(n))
	if truncated {
		m.truncations.Inc()
	}
	m.observeSize(used, capacity)
}

func (m *bufferMetrics) observeSize(used, capacity int) {
	if m == nil {
		return
	}
	m.size.Set(float64(used))
	m.utilization.Set(float64(used) / float64(capacity))
}
