package storage

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/L1ghtError/LimbWorker/errors"
	"github.com/L1ghtError/LimbWorker/metric"
	"github.com/L1ghtError/LimbWorker/pkg/retry"
)

type storeMetrics struct {
	ops     *prometheus.CounterVec
	latency *prometheus.HistogramVec
	bytes   *prometheus.CounterVec
}

func newStoreMetrics(registry *metric.MetricsRegistry, backend string) (*storeMetrics, error) {
	if registry == nil {
		return nil, nil
	}
	labels := prometheus.Labels{"backend": backend}
	m := &storeMetrics{
		ops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "storage",
			Name:        "operations_total",
			Help:        "Media repository operations by kind and outcome",
			ConstLabels: labels,
		}, []string{"operation", "outcome"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "storage",
			Name:        "operation_duration_seconds",
			Help:        "Media repository operation latency including retries",
			ConstLabels: labels,
			Buckets:     []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"operation"}),
		bytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "storage",
			Name:        "bytes_total",
			Help:        "Bytes read from and written to the media repository",
			ConstLabels: labels,
		}, []string{"direction"}),
	}

	if err := registry.RegisterCounterVec("storage", "operations", m.ops); err != nil {
		return nil, err
	}
	if err := registry.RegisterHistogramVec("storage", "duration", m.latency); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounterVec("storage", "bytes", m.bytes); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *storeMetrics) observe(op string, start time.Time, n int, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	switch {
	case errors.IsKind(err, errors.KindNotFound):
		outcome = "not_found"
	case err != nil:
		outcome = "error"
	}
	m.ops.WithLabelValues(op, outcome).Inc()
	m.latency.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err == nil && n > 0 {
		direction := "in"
		if op == "put" {
			direction = "out"
		}
		m.bytes.WithLabelValues(direction).Add(float64(n))
	}
}

// Instrumented wraps a Store with transient-failure retries and metrics.
type Instrumented struct {
	inner   Store
	policy  retry.Config
	metrics *storeMetrics
}

// Instrument wraps inner. Only failures classified transient are retried;
// a missing id is returned immediately.
func Instrument(inner Store, backend string, policy retry.Config, registry *metric.MetricsRegistry) (*Instrumented, error) {
	metrics, err := newStoreMetrics(registry, backend)
	if err != nil {
		return nil, err
	}
	return &Instrumented{
		inner:   inner,
		policy:  errors.RetryPolicy(policy.MaxAttempts, policy),
		metrics: metrics,
	}, nil
}

// Get implements Store.
func (s *Instrumented) Get(ctx context.Context, id string) ([]byte, error) {
	start := time.Now()
	data, err := retry.DoWithResult(ctx, s.policy, func() ([]byte, error) {
		return s.inner.Get(ctx, id)
	})
	s.metrics.observe("get", start, len(data), err)
	return data, err
}

// Put implements Store.
func (s *Instrumented) Put(ctx context.Context, id string, data []byte) error {
	start := time.Now()
	err := retry.Do(ctx, s.policy, func() error {
		return s.inner.Put(ctx, id, data)
	})
	s.metrics.observe("put", start, len(data), err)
	return err
}

// Close implements Store.
func (s *Instrumented) Close() error { return s.inner.Close() }
