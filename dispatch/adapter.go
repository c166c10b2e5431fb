package dispatch

import (
	"context"
	"log/slog"

	"github.com/L1ghtError/LimbWorker/metric"
	"github.com/L1ghtError/LimbWorker/natsproto"
	"github.com/L1ghtError/LimbWorker/pkg/worker"
)

// Router maps a message subject to a channel name.
type Router interface {
	Channel(subject string) (string, bool)
}

// Poster schedules work without blocking.
type Poster interface {
	TryPost(work worker.WorkItem) bool
}

// TaskHandler executes one task.
type TaskHandler interface {
	Handle(ctx context.Context, task Task)
}

// Adapter turns decoded messages into pool work. OnMessage runs on the
// transport goroutine and never blocks.
type Adapter struct {
	ctx     context.Context
	router  Router
	pool    Poster
	handler TaskHandler
	settler Settler
	metrics *metric.Metrics
	logger  *slog.Logger
}

// AdapterOption configures an Adapter.
type AdapterOption func(*Adapter)

// WithAdapterMetrics records received tasks and backpressure rejects.
func WithAdapterMetrics(m *metric.Metrics) AdapterOption {
	return func(a *Adapter) { a.metrics = m }
}

// WithAdapterLogger sets the logger.
func WithAdapterLogger(logger *slog.Logger) AdapterOption {
	return func(a *Adapter) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// NewAdapter creates an Adapter. ctx is handed to every task and is only
// cancelled on shutdown.
func NewAdapter(ctx context.Context, router Router, pool Poster, handler TaskHandler,
	settler Settler, opts ...AdapterOption) *Adapter {
	a := &Adapter{
		ctx:     ctx,
		router:  router,
		pool:    pool,
		handler: handler,
		settler: settler,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.With("component", "dispatch-adapter")
	return a
}

// OnMessage is a natsproto.MsgHandler.
func (a *Adapter) OnMessage(msg natsproto.Msg) {
	channel, ok := a.router.Channel(msg.Subject)
	if !ok {
		a.logger.Warn("Message on unknown subject rejected", "subject", msg.Subject)
		a.reject(msg.Reply)
		return
	}

	task := NewTask(msg, channel)
	if a.metrics != nil {
		a.metrics.TasksReceived.WithLabelValues(channel).Inc()
	}

	ctx, handler := a.ctx, a.handler
	if a.pool.TryPost(func() { handler.Handle(ctx, task) }) {
		return
	}

	if a.metrics != nil {
		a.metrics.Backpressure.Inc()
	}
	a.logger.Warn("Dispatch queue full, delivery rejected",
		"channel", channel, "correlation_id", task.CorrelationID)
	a.reject(task.Delivery)
}

func (a *Adapter) reject(delivery string) {
	if a.metrics != nil {
		a.metrics.Settlements.WithLabelValues(Rejected.String()).Inc()
	}
	if err := a.settler.Nak(delivery); err != nil {
		a.logger.Warn("Reject failed", "delivery", delivery, "error", err)
	}
}
