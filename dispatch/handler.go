package dispatch

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"runtime/debug"
	"time"

	"golang.org/x/time/rate"

	"github.com/L1ghtError/LimbWorker/capability"
	"github.com/L1ghtError/LimbWorker/errors"
	"github.com/L1ghtError/LimbWorker/imaging"
	"github.com/L1ghtError/LimbWorker/metric"
	"github.com/L1ghtError/LimbWorker/natsproto"
	"github.com/L1ghtError/LimbWorker/processor"
	"github.com/L1ghtError/LimbWorker/storage"
)

// Responder publishes responses and settles deliveries. natsproto.Client
// implements it on top of the transport write path.
type Responder interface {
	Settler
	Publish(subject, reply string, hdr natsproto.Header, data []byte) error
}

// CapabilitySource provides the GetAppInfo answer.
type CapabilitySource interface {
	Snapshot() capability.Snapshot
}

// Handler executes tasks on pool workers.
type Handler struct {
	responder    Responder
	store        storage.Store
	backends     ContainerSource
	capabilities CapabilitySource
	serializer   Serializer
	policy       FailurePolicy

	// progressEvery is the minimum spacing of progress frames; zero sends
	// every report.
	progressEvery time.Duration

	metrics *metric.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithFailurePolicy sets how Fail terminals are settled. Default FailReject.
func WithFailurePolicy(p FailurePolicy) HandlerOption {
	return func(h *Handler) { h.policy = p }
}

// WithProgressInterval limits progress frames to one per interval. The final
// report (progress 1) is always sent.
func WithProgressInterval(d time.Duration) HandlerOption {
	return func(h *Handler) { h.progressEvery = d }
}

// WithSerializer replaces the JSON serializer.
func WithSerializer(s Serializer) HandlerOption {
	return func(h *Handler) { h.serializer = s }
}

// WithMetrics records task counts, durations and settlements.
func WithMetrics(m *metric.Metrics) HandlerOption {
	return func(h *Handler) { h.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) HandlerOption {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// NewHandler creates a Handler.
func NewHandler(responder Responder, store storage.Store, backends ContainerSource,
	capabilities CapabilitySource, opts ...HandlerOption) *Handler {
	h := &Handler{
		responder:    responder,
		store:        store,
		backends:     backends,
		capabilities: capabilities,
		serializer:   JSONSerializer{},
		policy:       FailReject,
		logger:       slog.Default(),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	h.logger = h.logger.With("component", "dispatch")
	return h
}

// Handle runs task to completion. The delivery is settled exactly once
// before Handle returns, and no error or panic escapes it except through
// the worker pool's recovery.
func (h *Handler) Handle(ctx context.Context, task Task) {
	start := h.now()
	settlement := NewSettlement(h.responder, task.Delivery, h.metrics)
	status := "rejected"

	defer func() {
		if err := settlement.Finish(); err != nil {
			h.logger.Warn("Settle failed", "channel", task.Channel,
				"correlation_id", task.CorrelationID, "error", err)
		}
		if h.metrics != nil {
			h.metrics.TasksCompleted.WithLabelValues(task.Channel, status).Inc()
			h.metrics.TaskDuration.WithLabelValues(task.Channel).Observe(time.Since(start).Seconds())
		}
	}()

	// Nothing is sent for a task whose reply metadata cannot be echoed.
	err := task.Validate()
	if err != nil {
		h.logger.Warn("Task rejected", "channel", task.Channel, "error", err)
		return
	}

	switch task.Channel {
	case ChannelPing:
		status, err = h.ping(task, settlement)
	case ChannelGetAppInfo:
		status, err = h.appInfo(task, settlement)
	case ChannelProcessImage:
		status, err = h.processImage(ctx, task, settlement, start)
	default:
		err = errors.Newf(errors.KindUnimplemented, "channel %q", task.Channel)
	}
	if err != nil {
		h.logger.Warn("Task failed", "channel", task.Channel,
			"correlation_id", task.CorrelationID, "status", status, "error", err)
		return
	}
	h.logger.Debug("Task finished", "channel", task.Channel,
		"correlation_id", task.CorrelationID, "status", status,
		"elapsed", time.Since(start))
}

func (h *Handler) ping(task Task, s *Settlement) (string, error) {
	var req PingRequest
	if err := h.serializer.Unmarshal(task.Payload, &req); err != nil {
		return "rejected", err
	}
	if req.Message != "Ping" {
		return "rejected", errors.Newf(errors.KindInvalidInput, "ping message %q", req.Message)
	}
	if err := h.reply(task, PingResponse{Message: "Pong"}); err != nil {
		return "rejected", err
	}
	return "pong", s.Ack()
}

func (h *Handler) appInfo(task Task, s *Settlement) (string, error) {
	snapshot := h.capabilities.Snapshot()
	data, err := snapshot.JSON()
	if err != nil {
		return "rejected", err
	}
	if err := h.send(task, data); err != nil {
		return "rejected", err
	}
	return "info", s.Ack()
}

func (h *Handler) processImage(ctx context.Context, task Task, s *Settlement, start time.Time) (string, error) {
	var req ProcessImageRequest
	if err := h.serializer.Unmarshal(task.Payload, &req); err != nil {
		return "rejected", err
	}
	if err := req.validate(); err != nil {
		return "rejected", err
	}

	if runErr := h.runModel(ctx, task, req, start); runErr != nil {
		if err := h.reply(task, StatusResponse{Message: StatusFail, Status: StatusFail}); err != nil {
			h.logger.Warn("Send fail frame", "correlation_id", task.CorrelationID, "error", err)
		}
		if err := h.policy.settle(s); err != nil {
			h.logger.Warn("Settle failed task", "correlation_id", task.CorrelationID, "error", err)
		}
		return "fail", runErr
	}

	if err := h.reply(task, StatusResponse{Message: StatusDone, Status: StatusDone}); err != nil {
		return "rejected", err
	}
	return "done", s.Ack()
}

func (h *Handler) runModel(ctx context.Context, task Task, req ProcessImageRequest, start time.Time) error {
	container, ok := h.backends.Container(*req.ModelID)
	if !ok {
		return errors.Newf(errors.KindNotFound, "model %d", *req.ModelID)
	}
	handle := container.TryAcquire()
	if handle == nil {
		return errors.Newf(errors.KindAborted, "model %d has no free processor", *req.ModelID)
	}
	defer container.Reclaim(handle)

	data, err := h.store.Get(ctx, req.ImageID)
	if err != nil {
		return err
	}
	img, format, err := imaging.Decode(data)
	if err != nil {
		return err
	}

	out, err := h.process(ctx, handle, img, h.progressReporter(task, start))
	if err != nil {
		return fmt.Errorf("process %s image %s: %w", format, req.ImageID, err)
	}
	encoded, err := imaging.EncodePNG(out)
	if err != nil {
		return err
	}
	return h.store.Put(ctx, req.ImageID, encoded)
}

// process runs handle and turns a panic inside the processor into an
// Aborted error so the task still gets its Fail frame.
func (h *Handler) process(ctx context.Context, handle processor.Handle, img image.Image,
	progress processor.ProgressFunc) (out image.Image, err error) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("Processor panic", "panic", r, "stack", string(debug.Stack()))
			out, err = nil, errors.Newf(errors.KindAborted, "processor panic: %v", r)
		}
	}()
	return handle.Process(ctx, img, progress)
}

// progressReporter sends progress frames for one task. Reports are
// synchronous on the worker goroutine, so frames keep their order.
func (h *Handler) progressReporter(task Task, start time.Time) processor.ProgressFunc {
	limit := rate.Inf
	if h.progressEvery > 0 {
		limit = rate.Every(h.progressEvery)
	}
	limiter := rate.NewLimiter(limit, 1)

	return func(progress float32) {
		if progress < 1 && !limiter.Allow() {
			return
		}
		remaining := Estimate(h.now().Sub(start), progress)
		frame := StatusResponse{Message: FormatProgress(progress, remaining), Status: StatusProgress}
		if err := h.reply(task, frame); err != nil {
			h.logger.Debug("Progress frame dropped", "correlation_id", task.CorrelationID, "error", err)
		}
	}
}

func (h *Handler) reply(task Task, v any) error {
	data, err := h.serializer.Marshal(v)
	if err != nil {
		return err
	}
	return h.send(task, data)
}

// send publishes data to the task's reply destination. Tasks without one
// get no responses but are still settled.
func (h *Handler) send(task Task, data []byte) error {
	if task.ReplyTo == "" {
		return nil
	}
	hdr := natsproto.Header{}
	hdr.Set(natsproto.HeaderCorrelationID, task.CorrelationID)
	return h.responder.Publish(task.ReplyTo, "", hdr, data)
}
