// Package worker provides the bounded dispatch pool that runs tasks off the
// broker I/O goroutine.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/L1ghtError/LimbWorker/metric"
)

const (
	defaultQueueCapacity = 1024
)

// WorkItem is a deferred unit of work. A WorkItem that panics is recovered and
// logged; it never takes its worker down.
type WorkItem func()

// Pool runs WorkItems on a fixed set of goroutines fed by one shared bounded
// ring. Posting never blocks on a full queue.
type Pool struct {
	workers int
	queue   *ring

	mu       sync.Mutex
	cond     *sync.Cond
	started  bool
	running  bool
	stopped  bool
	abandon  bool
	wg       sync.WaitGroup
	updateWG sync.WaitGroup
	cancel   context.CancelFunc

	logger *slog.Logger

	submitted atomic.Int64
	processed atomic.Int64
	panicked  atomic.Int64
	rejected  atomic.Int64
	dropped   atomic.Int64

	metrics         *poolMetrics
	metricsRegistry *metric.MetricsRegistry
	metricsPrefix   string
}

// Option represents a configuration option for the worker pool
type Option func(*Pool)

// WithMetricsRegistry exports pool metrics under the given component prefix
func WithMetricsRegistry(registry *metric.MetricsRegistry, prefix string) Option {
	return func(p *Pool) {
		p.metricsRegistry = registry
		p.metricsPrefix = prefix
	}
}

// WithLogger sets the logger used for recovered panics and shutdown reports
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pool) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewPool creates a pool with the given number of workers and a queue of at
// least queueCapacity items. The capacity is rounded up to a power of two.
func NewPool(workers, queueCapacity int, opts ...Option) (*Pool, error) {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if queueCapacity <= 0 {
		queueCapacity = defaultQueueCapacity
	}

	p := &Pool{
		workers: workers,
		queue:   newRing(queueCapacity),
		logger:  slog.Default(),
	}
	p.cond = sync.NewCond(&p.mu)

	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With("component", "worker-pool")

	if p.metricsRegistry != nil && p.metricsPrefix != "" {
		m, err := newPoolMetrics(p.metricsRegistry, p.metricsPrefix)
		if err != nil {
			return nil, err
		}
		p.metrics = m
	}

	return p, nil
}

// Start spawns the workers. The context bounds the metrics updater only;
// workers exit through Stop.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return ErrPoolAlreadyStarted
	}

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}

	if p.metrics != nil {
		mctx, cancel := context.WithCancel(ctx)
		p.cancel = cancel
		p.updateWG.Add(1)
		go p.metricsUpdater(mctx)
	}

	p.started = true
	p.running = true
	return nil
}

// TryPost enqueues work without blocking. It returns false when the queue is
// full or the pool is not running. The lock it takes is held only for the
// ring push, never across work execution.
func (p *Pool) TryPost(work WorkItem) bool {
	if work == nil {
		return false
	}

	p.mu.Lock()
	if !p.running || !p.queue.push(work) {
		p.mu.Unlock()
		p.rejected.Add(1)
		if p.metrics != nil {
			p.metrics.rejected.Inc()
		}
		return false
	}
	depth := p.queue.len()
	p.cond.Signal()
	p.mu.Unlock()

	p.submitted.Add(1)
	if p.metrics != nil {
		p.metrics.submitted.Inc()
		p.metrics.queueDepth.Set(float64(depth))
	}
	return true
}

// Post is TryPost for callers with no backpressure path: a refused item is
// reported as an error instead of a bool.
func (p *Pool) Post(work WorkItem) error {
	if work == nil {
		return fmt.Errorf("worker pool: nil work item")
	}
	if p.TryPost(work) {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	switch {
	case !p.started:
		return ErrPoolNotStarted
	case !p.running:
		return ErrPoolStopped
	default:
		return ErrQueueFull
	}
}

// Stop refuses new work and lets the workers drain everything already queued.
// If the drain does not finish within timeout, the remaining queued items are
// abandoned, counted as dropped and ErrStopTimeout is returned. Items already
// executing are never interrupted.
func (p *Pool) Stop(timeout time.Duration) error {
	p.mu.Lock()
	if !p.started || p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.stopped = true
	p.cond.Broadcast()
	p.mu.Unlock()

	if p.cancel != nil {
		p.cancel()
	}
	p.updateWG.Wait()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		return nil
	case <-timer.C:
	}

	p.mu.Lock()
	p.abandon = true
	n := p.queue.clear()
	p.cond.Broadcast()
	p.mu.Unlock()

	p.dropped.Add(int64(n))
	if p.metrics != nil {
		p.metrics.dropped.Add(float64(n))
	}
	p.logger.Warn("Shutdown drain timed out, abandoning queued work",
		"abandoned", n, "timeout", timeout)
	return ErrStopTimeout
}

// Stats returns current pool statistics
func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	depth := p.queue.len()
	p.mu.Unlock()

	return PoolStats{
		Workers:    p.workers,
		Capacity:   p.queue.cap(),
		QueueDepth: depth,
		Submitted:  p.submitted.Load(),
		Processed:  p.processed.Load(),
		Panicked:   p.panicked.Load(),
		Rejected:   p.rejected.Load(),
		Dropped:    p.dropped.Load(),
	}
}

// Capacity returns the queue capacity after power-of-two rounding.
func (p *Pool) Capacity() int { return p.queue.cap() }

// PoolStats represents worker pool statistics
type PoolStats struct {
	Workers    int   `json:"workers"`
	Capacity   int   `json:"capacity"`
	QueueDepth int   `json:"queue_depth"`
	Submitted  int64 `json:"submitted"`
	Processed  int64 `json:"processed"`
	Panicked   int64 `json:"panicked"`
	Rejected   int64 `json:"rejected"`
	Dropped    int64 `json:"dropped"`
}

func (p *Pool) worker() {
	defer p.wg.Done()

	for {
		p.mu.Lock()
		for p.queue.len() == 0 && p.running {
			p.cond.Wait()
		}
		if p.abandon {
			p.mu.Unlock()
			return
		}
		work, ok := p.queue.pop()
		p.mu.Unlock()

		if !ok {
			// stopped and drained
			return
		}
		p.execute(work)
	}
}

func (p *Pool) execute(work WorkItem) {
	start := time.Now()
	status := "success"

	defer func() {
		if r := recover(); r != nil {
			status = "panic"
			p.panicked.Add(1)
			p.logger.Error("Work item panicked",
				"panic", r,
				"stack", string(debug.Stack()))
		}
		p.processed.Add(1)
		if p.metrics != nil {
			p.metrics.processed.Inc()
			if status == "panic" {
				p.metrics.panicked.Inc()
			}
			p.metrics.processingTime.WithLabelValues(status).Observe(time.Since(start).Seconds())
		}
	}()

	work()
}

func (p *Pool) metricsUpdater(ctx context.Context) {
	defer p.updateWG.Done()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.mu.Lock()
			depth := float64(p.queue.len())
			p.mu.Unlock()
			p.metrics.queueDepth.Set(depth)
			p.metrics.utilization.Set(depth / float64(p.queue.cap()))
		}
	}
}

type poolMetrics struct {
	queueDepth     prometheus.Gauge
	utilization    prometheus.Gauge
	submitted      prometheus.Counter
	processed      prometheus.Counter
	panicked       prometheus.Counter
	rejected       prometheus.Counter
	dropped        prometheus.Counter
	processingTime *prometheus.HistogramVec
}

func newPoolMetrics(registry *metric.MetricsRegistry, prefix string) (*poolMetrics, error) {
	labels := prometheus.Labels{"pool": prefix}
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace, Subsystem: "pool", Name: name, Help: help, ConstLabels: labels,
		})
	}
	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metric.Namespace, Subsystem: "pool", Name: name, Help: help, ConstLabels: labels,
		})
	}

	m := &poolMetrics{
		queueDepth:  gauge("queue_depth", "Work items waiting in the dispatch queue"),
		utilization: gauge("utilization", "Dispatch queue utilization (0-1)"),
		submitted:   counter("submitted_total", "Work items accepted by TryPost"),
		processed:   counter("processed_total", "Work items executed"),
		panicked:    counter("panicked_total", "Work items that panicked"),
		rejected:    counter("rejected_total", "Work items refused because the queue was full or stopped"),
		dropped:     counter("dropped_total", "Queued work items abandoned at shutdown"),
		processingTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "pool",
			Name:        "processing_duration_seconds",
			Help:        "Time spent executing work items",
			ConstLabels: labels,
			Buckets:     []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 30, 120},
		}, []string{"status"}),
	}

	for name, g := range map[string]prometheus.Gauge{"queue_depth": m.queueDepth, "utilization": m.utilization} {
		if err := registry.RegisterGauge(prefix, name, g); err != nil {
			return nil, err
		}
	}
	for name, c := range map[string]prometheus.Counter{
		"submitted": m.submitted, "processed": m.processed, "panicked": m.panicked,
		"rejected": m.rejected, "dropped": m.dropped,
	} {
		if err := registry.RegisterCounter(prefix, name, c); err != nil {
			return nil, err
		}
	}
	if err := registry.RegisterHistogramVec(prefix, "processing_duration", m.processingTime); err != nil {
		return nil, err
	}
	return m, nil
}
