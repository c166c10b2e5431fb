package transport

import (
	"context"
	stderrors "errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/L1ghtError/LimbWorker/errors"
	"github.com/L1ghtError/LimbWorker/metric"
	"github.com/L1ghtError/LimbWorker/pkg/buffer"
)

// Protocol is the broker wire codec driven by a Conn. Parse is handed the
// unconsumed input and reports how many bytes it used; zero means it needs
// more data. Heartbeat writes one keepalive frame through the Conn.
type Protocol interface {
	Parse(data []byte) (consumed int, err error)
	Heartbeat() error
}

// DialFunc opens the raw connection. net.Dialer.DialContext satisfies it.
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// Conn owns one broker socket with its input and output buffers. Run feeds
// received bytes to the Protocol; Write is the Protocol's path back out.
type Conn struct {
	cfg    Config
	proto  Protocol
	dial   DialFunc
	logger *slog.Logger

	state atomic.Int32
	sock  net.Conn

	in      *buffer.Buffer
	out     *buffer.Buffer
	scratch []byte

	// writeMu keeps each Write's frame contiguous; sendMu guards the output
	// buffer and the socket write. Lock order is writeMu then sendMu.
	writeMu sync.Mutex
	sendMu  sync.Mutex

	stopping  atomic.Bool
	cause     atomic.Pointer[error]
	lastSend  atomic.Int64
	lastRecv  atomic.Int64
	heartbeat atomic.Int64

	hbStop    chan struct{}
	hbWG      sync.WaitGroup
	closeOnce sync.Once

	metrics         *connMetrics
	metricsRegistry *metric.MetricsRegistry
}

// Option configures a Conn
type Option func(*Conn)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(c *Conn) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithDialer replaces the TCP dialer, typically with one returning a net.Pipe end in tests.
func WithDialer(dial DialFunc) Option {
	return func(c *Conn) {
		if dial != nil {
			c.dial = dial
		}
	}
}

// WithMetrics exports connection and buffer metrics
func WithMetrics(registry *metric.MetricsRegistry) Option {
	return func(c *Conn) {
		c.metricsRegistry = registry
	}
}

// NewConn creates a disconnected Conn. SetProtocol must be called before Connect.
func NewConn(cfg Config, opts ...Option) (*Conn, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Conn{
		cfg:    cfg,
		logger: slog.Default(),
		hbStop: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "transport", "address", cfg.Address())

	if c.dial == nil {
		d := &net.Dialer{
			Timeout:   cfg.ConnectTimeout,
			KeepAlive: cfg.KeepAlive,
			Control:   keepaliveControl(cfg),
		}
		c.dial = d.DialContext
	}

	var inOpts, outOpts []buffer.Option
	if c.metricsRegistry != nil {
		m, err := newConnMetrics(c.metricsRegistry)
		if err != nil {
			return nil, err
		}
		c.metrics = m
		inOpts = append(inOpts, buffer.WithMetrics(c.metricsRegistry, "transport_in"))
		outOpts = append(outOpts, buffer.WithMetrics(c.metricsRegistry, "transport_out"))
	}

	var err error
	if c.in, err = buffer.New(cfg.ReadBufferSize, inOpts...); err != nil {
		return nil, err
	}
	if c.out, err = buffer.New(cfg.WriteBufferSize, outOpts...); err != nil {
		return nil, err
	}
	c.scratch = make([]byte, 32*1024)
	return c, nil
}

// SetProtocol attaches the wire codec. It must be called before Connect.
func (c *Conn) SetProtocol(p Protocol) {
	c.proto = p
}

// State returns the current lifecycle state
func (c *Conn) State() State {
	return State(c.state.Load())
}

// Connected reports whether the socket is usable
func (c *Conn) Connected() bool {
	return c.State() == StateConnected
}

func (c *Conn) setState(s State) {
	c.state.Store(int32(s))
	c.metrics.setState(s)
}

// Connect dials the broker. Any failure closes the half-open socket and leaves
// the Conn Disconnected; the error is returned and Connected stays false.
func (c *Conn) Connect(ctx context.Context) error {
	if c.proto == nil {
		return ErrNoProtocol
	}
	if !c.state.CompareAndSwap(int32(StateDisconnected), int32(StateConnecting)) {
		return ErrAlreadyConnected
	}
	c.metrics.setState(StateConnecting)

	raw, err := c.dial(ctx, "tcp", c.cfg.Address())
	if err != nil {
		c.setState(StateDisconnected)
		return errors.WrapTransient(err, "Conn", "Connect", "dial "+c.cfg.Address())
	}

	if tcp, ok := raw.(*net.TCPConn); ok {
		if err := tcp.SetNoDelay(true); err != nil {
			_ = raw.Close()
			c.setState(StateDisconnected)
			return errors.WrapTransient(err, "Conn", "Connect", "set TCP_NODELAY")
		}
	}

	now := time.Now().UnixNano()
	c.lastRecv.Store(now)
	c.lastSend.Store(now)
	c.sock = raw
	c.setState(StateConnected)
	c.logger.Info("Connected to broker")
	return nil
}

// Run reads the socket until Stop or Close is called, ctx is done, or a fatal
// error occurs. Each iteration does one bounded read, hands the input buffer
// to the Protocol and flushes pending output. Read errors, EOF and decoder
// errors are fatal: the connection is closed and the error returned.
func (c *Conn) Run(ctx context.Context) error {
	if c.proto == nil {
		return ErrNoProtocol
	}
	if !c.Connected() {
		return ErrNotConnected
	}

	for {
		if ctx.Err() != nil || c.stopping.Load() {
			return c.failure()
		}

		if c.in.Full() {
			c.fail(ErrInputOverflow)
			return errors.WrapFatal(ErrInputOverflow, "Conn", "Run", "buffer input")
		}

		_ = c.sock.SetReadDeadline(time.Now().Add(c.cfg.PollTimeout))
		chunk := c.scratch
		if avail := c.in.Available(); avail < len(chunk) {
			chunk = chunk[:avail]
		}
		n, err := c.sock.Read(chunk)

		if n > 0 {
			c.lastRecv.Store(time.Now().UnixNano())
			c.metrics.received(n)
			c.in.Append(chunk[:n])
			if perr := c.decode(); perr != nil {
				c.logger.Error("Protocol error, closing connection", "error", perr)
				c.fail(perr)
				return errors.WrapFatal(perr, "Conn", "Run", "decode input")
			}
		}

		if err != nil {
			var ne net.Error
			switch {
			case stderrors.As(err, &ne) && ne.Timeout():
				// poll timeout, fall through to flush
			case c.stopping.Load() || ctx.Err() != nil:
				return c.failure()
			default:
				if stderrors.Is(err, io.EOF) {
					err = io.ErrUnexpectedEOF
				}
				c.logger.Error("Broker connection lost", "error", err)
				c.fail(err)
				return errors.WrapTransient(stderrors.Join(errors.ErrConnectionLost, err), "Conn", "Run", "socket read")
			}
		}

		if err := c.Flush(); err != nil && !stderrors.Is(err, ErrNotConnected) {
			c.logger.Error("Flush failed, closing connection", "error", err)
			c.fail(err)
			return err
		}
	}
}

func (c *Conn) decode() error {
	data := c.in.Bytes()
	consumed, err := c.proto.Parse(data)
	if err != nil {
		return err
	}
	switch {
	case consumed < 0 || consumed > len(data):
		return errors.Newf(errors.KindInvalidInput, "decoder consumed %d of %d bytes", consumed, len(data))
	case consumed == len(data):
		c.in.Drain()
	case consumed > 0:
		c.in.Compact(consumed)
	}
	return nil
}

// Write appends p to the output buffer and flushes. Frames larger than the
// free space are sent in several flushes; p is never truncated or interleaved
// with another Write. It implements io.Writer for the Protocol.
func (c *Conn) Write(p []byte) (int, error) {
	if !c.Connected() {
		return 0, ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	written := 0
	for written < len(p) {
		c.sendMu.Lock()
		written += c.out.Append(p[written:])
		err := c.flushLocked()
		c.sendMu.Unlock()
		if err != nil {
			return written, err
		}
	}
	return written, nil
}

// Flush sends everything in the output buffer.
func (c *Conn) Flush() error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	return c.flushLocked()
}

func (c *Conn) flushLocked() error {
	if c.out.Len() == 0 {
		return nil
	}
	if !c.Connected() {
		return ErrNotConnected
	}

	_ = c.sock.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	n, err := c.sock.Write(c.out.Bytes())
	if n > 0 {
		c.out.Compact(n)
		c.lastSend.Store(time.Now().UnixNano())
		c.metrics.sent(n)
	}
	if err != nil {
		c.metrics.flushError()
		return errors.WrapTransient(stderrors.Join(errors.ErrConnectionLost, err), "Conn", "Flush", "socket write")
	}
	return nil
}

// Stop asks Run to return after its current poll. It does not close the socket.
func (c *Conn) Stop() {
	c.stopping.Store(true)
}

// Close stops the loop, closes the socket, joins the heartbeat goroutines and
// empties the buffers. It is safe to call more than once.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		prev := c.State()
		c.setState(StateClosing)
		c.stopping.Store(true)
		close(c.hbStop)

		if c.sock != nil && prev == StateConnected {
			err = c.sock.Close()
		}
		c.hbWG.Wait()

		c.writeMu.Lock()
		c.sendMu.Lock()
		c.out.Drain()
		c.sendMu.Unlock()
		c.writeMu.Unlock()

		c.setState(StateClosed)
		c.logger.Info("Connection closed")
	})
	return err
}

// fail moves the Conn to Closing and closes the socket so concurrent writers
// fail fast. Heartbeats are joined by Close. The first cause is kept for Run.
func (c *Conn) fail(cause error) {
	c.cause.CompareAndSwap(nil, &cause)
	c.stopping.Store(true)
	if c.state.CompareAndSwap(int32(StateConnected), int32(StateClosing)) {
		c.metrics.setState(StateClosing)
		_ = c.sock.Close()
	}
	c.logger.Debug("Connection failed", "cause", cause)
}

// failure returns the error recorded by fail, nil after a plain Stop or Close.
func (c *Conn) failure() error {
	if p := c.cause.Load(); p != nil {
		return errors.WrapFatal(*p, "Conn", "Run", "connection failed")
	}
	return nil
}

// LastActivity returns the most recent send or receive time.
func (c *Conn) LastActivity() time.Time {
	send, recv := c.lastSend.Load(), c.lastRecv.Load()
	if recv > send {
		send = recv
	}
	return time.Unix(0, send)
}

// HeartbeatInterval returns the last negotiated interval, zero when disabled.
func (c *Conn) HeartbeatInterval() time.Duration {
	return time.Duration(c.heartbeat.Load())
}
