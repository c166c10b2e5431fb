package metric

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Namespace prefixes every metric exported by the worker.
const Namespace = "limb"

// Metrics contains the worker-wide metrics shared by the dispatch layer
type Metrics struct {
	TasksReceived  *prometheus.CounterVec
	TasksCompleted *prometheus.CounterVec
	TaskDuration   *prometheus.HistogramVec
	Settlements    *prometheus.CounterVec
	Backpressure   prometheus.Counter

	BrokerConnected prometheus.Gauge
	Processors      prometheus.Gauge
}

// NewMetrics creates the worker-wide metrics
func NewMetrics() *Metrics {
	return &Metrics{
		TasksReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "tasks",
				Name:      "received_total",
				Help:      "Total number of task deliveries received per channel",
			},
			[]string{"channel"},
		),
		TasksCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "tasks",
				Name:      "completed_total",
				Help:      "Total number of tasks finished per channel and terminal status",
			},
			[]string{"channel", "status"},
		),
		TaskDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Subsystem: "tasks",
				Name:      "duration_seconds",
				Help:      "Task handling time from worker pickup to settlement",
				Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 300},
			},
			[]string{"channel"},
		),
		Settlements: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "deliveries",
				Name:      "settled_total",
				Help:      "Deliveries settled, by outcome (ack or reject)",
			},
			[]string{"outcome"},
		),
		Backpressure: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "deliveries",
			Name:      "backpressure_rejects_total",
			Help:      "Deliveries rejected because the dispatch queue was full",
		}),
		BrokerConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "broker",
			Name:      "connected",
			Help:      "Broker connection status (0=disconnected, 1=connected)",
		}),
		Processors: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "processors",
			Name:      "available",
			Help:      "Number of initialized processor containers",
		}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.TasksReceived,
		m.TasksCompleted,
		m.TaskDuration,
		m.Settlements,
		m.Backpressure,
		m.BrokerConnected,
		m.Processors,
	}
}
