package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/L1ghtError/LimbWorker/capability"
	"github.com/L1ghtError/LimbWorker/errors"
	"github.com/L1ghtError/LimbWorker/imaging"
	"github.com/L1ghtError/LimbWorker/metric"
	"github.com/L1ghtError/LimbWorker/natsproto"
	"github.com/L1ghtError/LimbWorker/pkg/worker"
	"github.com/L1ghtError/LimbWorker/processor"
	"github.com/L1ghtError/LimbWorker/storage"
)

type published struct {
	subject       string
	correlationID string
	data          []byte
}

// recorder is a Responder that keeps everything it was asked to send.
type recorder struct {
	mu        sync.Mutex
	published []published
	acks      []string
	naks      []string
}

func (r *recorder) Publish(subject, _ string, hdr natsproto.Header, data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.published = append(r.published, published{
		subject:       subject,
		correlationID: hdr.Get(natsproto.HeaderCorrelationID),
		data:          append([]byte(nil), data...),
	})
	return nil
}

func (r *recorder) Ack(delivery string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.acks = append(r.acks, delivery)
	return nil
}

func (r *recorder) Nak(delivery string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.naks = append(r.naks, delivery)
	return nil
}

func (r *recorder) frames(t *testing.T) []StatusResponse {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]StatusResponse, 0, len(r.published))
	for _, p := range r.published {
		var f StatusResponse
		require.NoError(t, json.Unmarshal(p.data, &f))
		out = append(out, f)
	}
	return out
}

// scriptedContainer hands out up to slots handles that report a fixed
// progress sequence.
type scriptedContainer struct {
	processor.Lifecycle
	pool     *processor.Pool
	progress []float32
	err      error
	panicMsg string
}

func newScriptedContainer(slots int, progress ...float32) *scriptedContainer {
	c := &scriptedContainer{pool: processor.NewPool(slots), progress: progress}
	_ = c.Begin()
	return c
}

func (c *scriptedContainer) Init(context.Context) error { return nil }
func (c *scriptedContainer) Deinit()                    { c.End() }

func (c *scriptedContainer) TryAcquire() processor.Handle {
	if !c.pool.TryAcquire() {
		return nil
	}
	return c
}

func (c *scriptedContainer) Reclaim(processor.Handle) { c.pool.Release() }

func (c *scriptedContainer) Process(_ context.Context, img image.Image, progress processor.ProgressFunc) (image.Image, error) {
	for _, p := range c.progress {
		progress(p)
	}
	if c.panicMsg != "" {
		panic(c.panicMsg)
	}
	if c.err != nil {
		return nil, c.err
	}
	return img, nil
}

func testPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.Set(1, 1, color.RGBA{R: 255, A: 255})
	data, err := imaging.EncodePNG(img)
	require.NoError(t, err)
	return data
}

type fixture struct {
	resp     *recorder
	store    *storage.Memory
	backends *Backends
	caps     *capability.Registry
	metrics  *metric.Metrics
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		resp:     &recorder{},
		store:    storage.NewMemory(),
		backends: NewBackends(),
		caps:     capability.NewRegistry(),
		metrics:  metric.NewMetricsRegistry().CoreMetrics(),
	}
	require.NoError(t, f.store.Put(context.Background(), "img-1", testPNG(t)))
	return f
}

func (f *fixture) handler(opts ...HandlerOption) *Handler {
	opts = append([]HandlerOption{WithMetrics(f.metrics)}, opts...)
	return NewHandler(f.resp, f.store, f.backends, f.caps, opts...)
}

func task(channel, payload string) Task {
	return Task{
		CorrelationID: "abc",
		ReplyTo:       "_INBOX.client",
		Delivery:      "$JS.ACK.LIMB.limb-" + channel + ".1.1.1.1.0",
		Channel:       channel,
		Payload:       []byte(payload),
	}
}

func TestNewTask_CopiesPayload(t *testing.T) {
	buf := []byte(`{"message":"Ping"}`)
	hdr := natsproto.Header{}
	hdr.Set(natsproto.HeaderCorrelationID, "abc")
	hdr.Set(natsproto.HeaderReplyTo, "_INBOX.x")

	tk := NewTask(natsproto.Msg{Subject: "limb.Ping", Reply: "$JS.ACK.x", Header: hdr, Data: buf}, ChannelPing)
	for i := range buf {
		buf[i] = 0
	}

	assert.Equal(t, `{"message":"Ping"}`, string(tk.Payload))
	assert.Equal(t, "abc", tk.CorrelationID)
	assert.Equal(t, "_INBOX.x", tk.ReplyTo)
	assert.Equal(t, "$JS.ACK.x", tk.Delivery)
	assert.Equal(t, ChannelPing, tk.Channel)
}

func TestNewTask_NoHeaders(t *testing.T) {
	tk := NewTask(natsproto.Msg{Subject: "limb.Ping"}, ChannelPing)
	assert.Empty(t, tk.CorrelationID)
	assert.Empty(t, tk.ReplyTo)
	assert.NotNil(t, tk.Payload)
}

func TestSettlement_ExactlyOnce(t *testing.T) {
	resp := &recorder{}
	s := NewSettlement(resp, "d1", nil)

	require.NoError(t, s.Ack())
	assert.ErrorIs(t, s.Reject(), ErrAlreadySettled)
	assert.ErrorIs(t, s.Ack(), ErrAlreadySettled)
	assert.NoError(t, s.Finish())

	assert.Equal(t, []string{"d1"}, resp.acks)
	assert.Empty(t, resp.naks)
	assert.Equal(t, Acked, s.Outcome())
}

func TestSettlement_FinishRejectsUnsettled(t *testing.T) {
	resp := &recorder{}
	s := NewSettlement(resp, "d1", nil)

	require.NoError(t, s.Finish())
	assert.Equal(t, []string{"d1"}, resp.naks)
	assert.Equal(t, Rejected, s.Outcome())
}

func TestSettlement_Concurrent(t *testing.T) {
	resp := &recorder{}
	reg := metric.NewMetricsRegistry()
	s := NewSettlement(resp, "d1", reg.CoreMetrics())

	var wg sync.WaitGroup
	for i := range 64 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if i%2 == 0 {
				_ = s.Ack()
			} else {
				_ = s.Reject()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, len(resp.acks)+len(resp.naks))
	total := testutil.ToFloat64(reg.CoreMetrics().Settlements.WithLabelValues("ack")) +
		testutil.ToFloat64(reg.CoreMetrics().Settlements.WithLabelValues("reject"))
	assert.Equal(t, 1.0, total)
}

func TestEstimate(t *testing.T) {
	assert.Equal(t, 300*time.Millisecond, Estimate(100*time.Millisecond, 0.25))
	assert.Equal(t, time.Duration(0), Estimate(time.Second, 0))
	assert.Equal(t, time.Duration(0), Estimate(time.Second, 1))
	assert.Equal(t, time.Duration(0), Estimate(0, 0.5))
}

func TestFormatProgress(t *testing.T) {
	assert.Equal(t, "25.00%:300.00ms", FormatProgress(0.25, 300*time.Millisecond))
	assert.Equal(t, "100.00%:0.00ms", FormatProgress(1, 0))
}

func TestParseFailurePolicy(t *testing.T) {
	p, err := ParseFailurePolicy("")
	require.NoError(t, err)
	assert.Equal(t, FailReject, p)

	p, err = ParseFailurePolicy(" ACK ")
	require.NoError(t, err)
	assert.Equal(t, FailAck, p)

	_, err = ParseFailurePolicy("drop")
	assert.ErrorIs(t, err, errors.ErrInvalidConfig)
}

func TestHandler_Ping(t *testing.T) {
	f := newFixture(t)
	tk := task(ChannelPing, `{"message":"Ping"}`)

	f.handler().Handle(context.Background(), tk)

	require.Len(t, f.resp.published, 1)
	assert.Equal(t, "abc", f.resp.published[0].correlationID)
	assert.Equal(t, "_INBOX.client", f.resp.published[0].subject)
	assert.JSONEq(t, `{"message":"Pong"}`, string(f.resp.published[0].data))
	assert.Equal(t, []string{tk.Delivery}, f.resp.acks)
	assert.Empty(t, f.resp.naks)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.TasksCompleted.WithLabelValues(ChannelPing, "pong")))
}

func TestHandler_PingRejectsOtherMessages(t *testing.T) {
	for _, payload := range []string{`{"message":"Hello"}`, `not json`, ``} {
		f := newFixture(t)
		tk := task(ChannelPing, payload)

		f.handler().Handle(context.Background(), tk)

		assert.Empty(t, f.resp.published, "payload %q", payload)
		assert.Empty(t, f.resp.acks)
		assert.Equal(t, []string{tk.Delivery}, f.resp.naks)
	}
}

func TestHandler_GetAppInfo(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.caps.Add(1, "grayscale"))
	require.NoError(t, f.caps.Add(0, "loopback"))
	tk := task(ChannelGetAppInfo, `{}`)

	f.handler().Handle(context.Background(), tk)

	require.Len(t, f.resp.published, 1)
	var snap capability.Snapshot
	require.NoError(t, json.Unmarshal(f.resp.published[0].data, &snap))
	assert.Equal(t, []capability.Entry{{Index: 0, Name: "loopback"}, {Index: 1, Name: "grayscale"}}, snap.Processors)
	assert.Positive(t, snap.CPUThreads)
	assert.Equal(t, []string{tk.Delivery}, f.resp.acks)
}

func TestHandler_ProgressOrdering(t *testing.T) {
	f := newFixture(t)
	f.backends.Set(0, newScriptedContainer(1, 0.1, 0.5, 1.0))
	tk := task(ChannelProcessImage, `{"modelId":0,"imageId":"img-1"}`)

	f.handler().Handle(context.Background(), tk)

	frames := f.resp.frames(t)
	require.Len(t, frames, 4)
	for i, want := range []string{"10.00%", "50.00%", "100.00%"} {
		assert.Equal(t, StatusProgress, frames[i].Status)
		assert.Contains(t, frames[i].Message, want+":")
	}
	assert.Equal(t, StatusResponse{Message: StatusDone, Status: StatusDone}, frames[3])
	for _, p := range f.resp.published {
		assert.Equal(t, "abc", p.correlationID)
	}
	assert.Equal(t, []string{tk.Delivery}, f.resp.acks)
	assert.Empty(t, f.resp.naks)

	out, err := f.store.Get(context.Background(), "img-1")
	require.NoError(t, err)
	_, format, err := imaging.Decode(out)
	require.NoError(t, err)
	assert.Equal(t, "png", format)
}

func TestHandler_UnknownModel(t *testing.T) {
	for _, policy := range []FailurePolicy{FailReject, FailAck} {
		t.Run(string(policy), func(t *testing.T) {
			f := newFixture(t)
			tk := task(ChannelProcessImage, `{"modelId":42,"imageId":"img-1"}`)

			assert.NotPanics(t, func() {
				f.handler(WithFailurePolicy(policy)).Handle(context.Background(), tk)
			})

			frames := f.resp.frames(t)
			require.Len(t, frames, 1, "no progress frames before Fail")
			assert.Equal(t, StatusResponse{Message: StatusFail, Status: StatusFail}, frames[0])
			if policy == FailAck {
				assert.Equal(t, []string{tk.Delivery}, f.resp.acks)
				assert.Empty(t, f.resp.naks)
			} else {
				assert.Empty(t, f.resp.acks)
				assert.Equal(t, []string{tk.Delivery}, f.resp.naks)
			}
		})
	}
}

func TestHandler_ExhaustedContainerFails(t *testing.T) {
	f := newFixture(t)
	c := newScriptedContainer(1)
	require.NotNil(t, c.TryAcquire())
	f.backends.Set(0, c)
	tk := task(ChannelProcessImage, `{"modelId":0,"imageId":"img-1"}`)

	f.handler().Handle(context.Background(), tk)

	frames := f.resp.frames(t)
	require.Len(t, frames, 1)
	assert.Equal(t, StatusFail, frames[0].Status)
	assert.Equal(t, []string{tk.Delivery}, f.resp.naks)
}

// countingStore records reads so tests can check the store was not touched.
type countingStore struct {
	storage.Store
	gets int
}

func (s *countingStore) Get(ctx context.Context, id string) ([]byte, error) {
	s.gets++
	return s.Store.Get(ctx, id)
}

func TestHandler_ExhaustedContainerSkipsFetch(t *testing.T) {
	f := newFixture(t)
	c := newScriptedContainer(1)
	require.NotNil(t, c.TryAcquire())
	f.backends.Set(0, c)
	store := &countingStore{Store: f.store}
	tk := task(ChannelProcessImage, `{"modelId":0,"imageId":"img-1"}`)

	NewHandler(f.resp, store, f.backends, f.caps).Handle(context.Background(), tk)

	assert.Zero(t, store.gets)
	frames := f.resp.frames(t)
	require.Len(t, frames, 1)
	assert.Equal(t, StatusFail, frames[0].Status)
}

func TestHandler_ProcessorPanicSendsFail(t *testing.T) {
	for _, policy := range []FailurePolicy{FailReject, FailAck} {
		t.Run(string(policy), func(t *testing.T) {
			f := newFixture(t)
			c := newScriptedContainer(1, 0.5)
			c.panicMsg = "nil model weights"
			f.backends.Set(0, c)
			tk := task(ChannelProcessImage, `{"modelId":0,"imageId":"img-1"}`)

			assert.NotPanics(t, func() {
				f.handler(WithFailurePolicy(policy)).Handle(context.Background(), tk)
			})

			frames := f.resp.frames(t)
			require.Len(t, frames, 2)
			assert.Equal(t, StatusProgress, frames[0].Status)
			assert.Equal(t, StatusResponse{Message: StatusFail, Status: StatusFail}, frames[1])
			assert.Equal(t, 0, c.pool.InUse())
			if policy == FailAck {
				assert.Equal(t, []string{tk.Delivery}, f.resp.acks)
				assert.Empty(t, f.resp.naks)
			} else {
				assert.Empty(t, f.resp.acks)
				assert.Equal(t, []string{tk.Delivery}, f.resp.naks)
			}
		})
	}
}

func TestTask_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Task)
		wantErr bool
	}{
		{"valid", func(*Task) {}, false},
		{"no reply", func(t *Task) { t.ReplyTo = "" }, false},
		{"reply with spaces", func(t *Task) { t.ReplyTo = "evil.subject extra garbage" }, true},
		{"reply with newline", func(t *Task) { t.ReplyTo = "_INBOX.a\r\nPUB x 0" }, true},
		{"reply with empty token", func(t *Task) { t.ReplyTo = "_INBOX..a" }, true},
		{"correlation id with newline", func(t *Task) { t.CorrelationID = "abc\r\nX: 1" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tk := task(ChannelPing, `{"message":"Ping"}`)
			tt.mutate(&tk)
			err := tk.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, errors.ErrInvalidInput)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestHandler_BadReplyToRejectedSilently(t *testing.T) {
	var wire bytes.Buffer
	client := natsproto.NewClient(&wire, nil, nil, natsproto.Options{})
	f := newFixture(t)
	f.backends.Set(0, newScriptedContainer(1, 1))

	for _, channel := range []string{ChannelPing, ChannelGetAppInfo, ChannelProcessImage} {
		wire.Reset()
		tk := task(channel, `{"message":"Ping","modelId":0,"imageId":"img-1"}`)
		tk.ReplyTo = "evil.subject extra garbage"

		NewHandler(client, f.store, f.backends, f.caps).Handle(context.Background(), tk)

		assert.Equal(t, "PUB "+tk.Delivery+" 4\r\n-NAK\r\n", wire.String(), "channel %s", channel)
	}
}

func TestHandler_MissingImageFails(t *testing.T) {
	f := newFixture(t)
	f.backends.Set(0, newScriptedContainer(1, 1))
	tk := task(ChannelProcessImage, `{"modelId":0,"imageId":"nope"}`)

	f.handler().Handle(context.Background(), tk)

	frames := f.resp.frames(t)
	require.Len(t, frames, 1)
	assert.Equal(t, StatusFail, frames[0].Status)
}

func TestHandler_ProcessErrorReclaimsHandle(t *testing.T) {
	f := newFixture(t)
	c := newScriptedContainer(1, 0.5)
	c.err = errors.Newf(errors.KindAborted, "device lost")
	f.backends.Set(0, c)
	tk := task(ChannelProcessImage, `{"modelId":0,"imageId":"img-1"}`)

	f.handler().Handle(context.Background(), tk)

	frames := f.resp.frames(t)
	require.Len(t, frames, 2)
	assert.Equal(t, StatusProgress, frames[0].Status)
	assert.Equal(t, StatusFail, frames[1].Status)
	assert.Equal(t, 0, c.pool.InUse())
}

func TestHandler_MalformedProcessImageRejected(t *testing.T) {
	for _, payload := range []string{`{"imageId":"img-1"}`, `{"modelId":0}`, `{"modelId":-1,"imageId":"x"}`, `{"modelId":4294967296,"imageId":"x"}`} {
		f := newFixture(t)
		tk := task(ChannelProcessImage, payload)

		f.handler(WithFailurePolicy(FailAck)).Handle(context.Background(), tk)

		assert.Empty(t, f.resp.published, "payload %s", payload)
		assert.Equal(t, []string{tk.Delivery}, f.resp.naks, "payload %s", payload)
	}
}

func TestHandler_ProgressThrottled(t *testing.T) {
	f := newFixture(t)
	f.backends.Set(0, newScriptedContainer(1, 0.1, 0.2, 0.3, 0.4, 0.5, 1.0))
	tk := task(ChannelProcessImage, `{"modelId":0,"imageId":"img-1"}`)

	f.handler(WithProgressInterval(time.Hour)).Handle(context.Background(), tk)

	frames := f.resp.frames(t)
	require.Len(t, frames, 3)
	assert.Contains(t, frames[0].Message, "10.00%")
	assert.Contains(t, frames[1].Message, "100.00%")
	assert.Equal(t, StatusDone, frames[2].Status)
}

func TestHandler_NoReplyToStillSettles(t *testing.T) {
	f := newFixture(t)
	tk := task(ChannelPing, `{"message":"Ping"}`)
	tk.ReplyTo = ""

	f.handler().Handle(context.Background(), tk)

	assert.Empty(t, f.resp.published)
	assert.Equal(t, []string{tk.Delivery}, f.resp.acks)
}

func TestHandler_UnknownChannelRejected(t *testing.T) {
	f := newFixture(t)
	tk := task("Resize", `{}`)

	f.handler().Handle(context.Background(), tk)

	assert.Empty(t, f.resp.published)
	assert.Equal(t, []string{tk.Delivery}, f.resp.naks)
}

type topicRouter struct{}

func (topicRouter) Channel(subject string) (string, bool) {
	switch subject {
	case "limb.Ping":
		return ChannelPing, true
	default:
		return "", false
	}
}

type fullPool struct{}

func (fullPool) TryPost(worker.WorkItem) bool { return false }

type inlinePool struct{ posted int }

func (p *inlinePool) TryPost(w worker.WorkItem) bool {
	p.posted++
	w()
	return true
}

func pingMsg() natsproto.Msg {
	hdr := natsproto.Header{}
	hdr.Set(natsproto.HeaderCorrelationID, "abc")
	hdr.Set(natsproto.HeaderReplyTo, "_INBOX.client")
	return natsproto.Msg{Subject: "limb.Ping", Reply: "$JS.ACK.1", Header: hdr, Data: []byte(`{"message":"Ping"}`)}
}

func TestAdapter_PostsTask(t *testing.T) {
	f := newFixture(t)
	pool := &inlinePool{}
	a := NewAdapter(context.Background(), topicRouter{}, pool, f.handler(), f.resp, WithAdapterMetrics(f.metrics))

	a.OnMessage(pingMsg())

	assert.Equal(t, 1, pool.posted)
	assert.Equal(t, []string{"$JS.ACK.1"}, f.resp.acks)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.TasksReceived.WithLabelValues(ChannelPing)))
}

func TestAdapter_BackpressureRejects(t *testing.T) {
	f := newFixture(t)
	a := NewAdapter(context.Background(), topicRouter{}, fullPool{}, f.handler(), f.resp, WithAdapterMetrics(f.metrics))

	a.OnMessage(pingMsg())

	assert.Empty(t, f.resp.acks)
	assert.Empty(t, f.resp.published)
	assert.Equal(t, []string{"$JS.ACK.1"}, f.resp.naks)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Backpressure))
}

func TestAdapter_UnknownSubjectRejects(t *testing.T) {
	f := newFixture(t)
	pool := &inlinePool{}
	a := NewAdapter(context.Background(), topicRouter{}, pool, f.handler(), f.resp)

	msg := pingMsg()
	msg.Subject = "limb.Other"
	a.OnMessage(msg)

	assert.Zero(t, pool.posted)
	assert.Equal(t, []string{"$JS.ACK.1"}, f.resp.naks)
}

func TestAdapter_QueueBackpressureWithRealPool(t *testing.T) {
	f := newFixture(t)
	pool, err := worker.NewPool(1, 2)
	require.NoError(t, err)
	require.NoError(t, pool.Start(context.Background()))

	started := make(chan struct{})
	release := make(chan struct{})
	require.True(t, pool.TryPost(func() {
		close(started)
		<-release
	}))
	<-started

	a := NewAdapter(context.Background(), topicRouter{}, pool, f.handler(), f.resp, WithAdapterMetrics(f.metrics))
	for range 3 {
		a.OnMessage(pingMsg())
	}

	// The only worker is busy: two tasks fit the ring, the third is rejected.
	f.resp.mu.Lock()
	assert.Equal(t, []string{"$JS.ACK.1"}, f.resp.naks)
	f.resp.mu.Unlock()

	close(release)
	require.NoError(t, pool.Stop(5*time.Second))
	assert.Len(t, f.resp.acks, 2)
}
