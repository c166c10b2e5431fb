package transport

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/L1ghtError/LimbWorker/metric"
)

// connMetrics is nil-safe so the hot path does not branch on configuration.
type connMetrics struct {
	bytesIn     prometheus.Counter
	bytesOut    prometheus.Counter
	heartbeats  prometheus.Counter
	flushErrors prometheus.Counter
	state       prometheus.Gauge
}

func newConnMetrics(registry *metric.MetricsRegistry) (*connMetrics, error) {
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace, Subsystem: "transport", Name: name, Help: help,
		})
	}
	m := &connMetrics{
		bytesIn:     counter("bytes_received_total", "Bytes read from the broker socket"),
		bytesOut:    counter("bytes_sent_total", "Bytes written to the broker socket"),
		heartbeats:  counter("heartbeats_sent_total", "Heartbeat frames emitted"),
		flushErrors: counter("flush_errors_total", "Failed socket writes"),
		state: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metric.Namespace,
			Subsystem: "transport",
			Name:      "state",
			Help:      "Connection state (0=disconnected, 1=connecting, 2=connected, 3=closing, 4=closed)",
		}),
	}

	for name, ctr := range map[string]prometheus.Counter{
		"bytes_in": m.bytesIn, "bytes_out": m.bytesOut,
		"heartbeats": m.heartbeats, "flush_errors": m.flushErrors,
	} {
		if err := registry.RegisterCounter("transport", name, ctr); err != nil {
			return nil, err
		}
	}
	if err := registry.RegisterGauge("transport", "state", m.state); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *connMetrics) received(n int) {
	if m != nil {
		m.bytesIn.Add(float64(n))
	}
}

func (m *connMetrics) sent(n int) {
	if m != nil {
		m.bytesOut.Add(float64(n))
	}
}

func (m *connMetrics) heartbeatSent() {
	if m != nil {
		m.heartbeats.Inc()
	}
}

func (m *connMetrics) flushError() {
	if m != nil {
		m.flushErrors.Inc()
	}
}

func (m *connMetrics) setState(s State) {
	if m != nil {
		m.state.Set(float64(s))
	}
}
