package metric

import (
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/L1ghtError/LimbWorker/errors"
)

func gatheredNames(t *testing.T, r *MetricsRegistry) map[string]bool {
	t.Helper()
	families, err := r.PrometheusRegistry().Gather()
	require.NoError(t, err)
	names := make(map[string]bool, len(families))
	for _, mf := range families {
		names[mf.GetName()] = true
	}
	return names
}

func TestNewMetricsRegistry_CoreMetrics(t *testing.T) {
	registry := NewMetricsRegistry()
	require.NotNil(t, registry.CoreMetrics())

	registry.Metrics.TasksReceived.WithLabelValues("Ping").Inc()
	registry.Metrics.BrokerConnected.Set(1)

	names := gatheredNames(t, registry)
	assert.True(t, names["limb_tasks_received_total"])
	assert.True(t, names["limb_broker_connected"])
	assert.True(t, names["go_goroutines"])
}

func TestMetricsRegistry_RegisterCounter(t *testing.T) {
	registry := NewMetricsRegistry()

	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "test_counter", Help: "A test counter"})
	require.NoError(t, registry.RegisterCounter("transport", "test_counter", counter))

	counter.Add(3)
	assert.Equal(t, 3.0, testutil.ToFloat64(counter))
	assert.True(t, gatheredNames(t, registry)["test_counter"])
}

func TestMetricsRegistry_DuplicateRegistration(t *testing.T) {
	registry := NewMetricsRegistry()

	gauge := prometheus.NewGauge(prometheus.GaugeOpts{Name: "dup_gauge", Help: "dup"})
	require.NoError(t, registry.RegisterGauge("pool", "dup_gauge", gauge))

	err := registry.RegisterGauge("pool", "dup_gauge", gauge)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
	assert.ErrorIs(t, err, errors.ErrAlreadyExists)
}

func TestMetricsRegistry_PrometheusConflict(t *testing.T) {
	registry := NewMetricsRegistry()

	a := prometheus.NewCounter(prometheus.CounterOpts{Name: "conflict_total", Help: "a"})
	b := prometheus.NewCounter(prometheus.CounterOpts{Name: "conflict_total", Help: "a"})
	require.NoError(t, registry.RegisterCounter("one", "conflict_total", a))

	err := registry.RegisterCounter("two", "conflict_total", b)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestMetricsRegistry_Unregister(t *testing.T) {
	registry := NewMetricsRegistry()

	hist := prometheus.NewHistogram(prometheus.HistogramOpts{Name: "test_hist", Help: "h"})
	require.NoError(t, registry.RegisterHistogram("dispatch", "test_hist", hist))

	assert.True(t, registry.Unregister("dispatch", "test_hist"))
	assert.False(t, registry.Unregister("dispatch", "test_hist"))

	require.NoError(t, registry.RegisterHistogram("dispatch", "test_hist", hist))
}

func TestMetricsRegistry_ConcurrentRegistration(t *testing.T) {
	registry := NewMetricsRegistry()

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			vec := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "shared_total", Help: "s"}, []string{"x"})
			errs <- registry.RegisterCounterVec("shared", "shared_total", vec)
		}()
	}
	wg.Wait()
	close(errs)

	ok := 0
	for err := range errs {
		if err == nil {
			ok++
		}
	}
	assert.Equal(t, 1, ok)
}
