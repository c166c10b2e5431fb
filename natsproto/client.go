package natsproto

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/L1ghtError/LimbWorker/errors"
)

const (
	crlf = "\r\n"

	// DefaultPingInterval is the heartbeat interval suggested to the transport.
	DefaultPingInterval = 2 * time.Minute
	// DefaultMaxPingsOut is the number of unanswered pings tolerated.
	DefaultMaxPingsOut = 2

	maxControlLine = 4096

	ackFrame = "+ACK"
	nakFrame = "-NAK"
)

// Msg is one delivered message. Data and Header values borrow from the read
// buffer and are only valid during the MsgHandler call.
type Msg struct {
	Subject string
	Reply   string
	SID     uint64
	Header  Header
	Data    []byte
}

// MsgHandler receives messages on the transport goroutine. It must not block.
type MsgHandler func(Msg)

// HeartbeatNegotiator is the transport side of heartbeat negotiation.
type HeartbeatNegotiator interface {
	NegotiateHeartbeat(suggested time.Duration) time.Duration
}

// ServerInfo is the INFO payload sent by the server on connect.
type ServerInfo struct {
	ServerID     string `json:"server_id"`
	ServerName   string `json:"server_name"`
	Version      string `json:"version"`
	Proto        int    `json:"proto"`
	Headers      bool   `json:"headers"`
	MaxPayload   int64  `json:"max_payload"`
	JetStream    bool   `json:"jetstream"`
	AuthRequired bool   `json:"auth_required"`
	ClientID     uint64 `json:"client_id"`
}

type connectInfo struct {
	Verbose      bool   `json:"verbose"`
	Pedantic     bool   `json:"pedantic"`
	Name         string `json:"name,omitempty"`
	Lang         string `json:"lang"`
	Version      string `json:"version"`
	Protocol     int    `json:"protocol"`
	Headers      bool   `json:"headers"`
	NoResponders bool   `json:"no_responders"`
	User         string `json:"user,omitempty"`
	Pass         string `json:"pass,omitempty"`
	Token        string `json:"auth_token,omitempty"`
}

// Options configures a Client
type Options struct {
	Name     string
	User     string
	Password string
	Token    string

	PingInterval time.Duration
	MaxPingsOut  int

	// OnReady runs on the transport goroutine after CONNECT has been sent.
	OnReady func(ServerInfo)
	Logger  *slog.Logger
}

type subscription struct {
	subject string
	queue   string
}

// Client speaks the NATS client protocol over an io.Writer supplied by the
// transport and decodes server frames handed to Parse.
type Client struct {
	w       io.Writer
	opts    Options
	handler MsgHandler
	hb      HeartbeatNegotiator
	logger  *slog.Logger

	mu      sync.Mutex
	subs    map[uint64]subscription
	nextSID uint64
	ready   bool
	info    ServerInfo

	pingsOut atomic.Int32
}

// NewClient creates a Client writing to w. hb may be nil to skip heartbeat
// negotiation.
func NewClient(w io.Writer, hb HeartbeatNegotiator, handler MsgHandler, opts Options) *Client {
	if opts.PingInterval <= 0 {
		opts.PingInterval = DefaultPingInterval
	}
	if opts.MaxPingsOut <= 0 {
		opts.MaxPingsOut = DefaultMaxPingsOut
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		w:       w,
		opts:    opts,
		handler: handler,
		hb:      hb,
		logger:  logger.With("component", "natsproto"),
		subs:    make(map[uint64]subscription),
	}
}

// Ready reports whether the handshake completed.
func (c *Client) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ready
}

// Info returns the INFO received from the server.
func (c *Client) Info() ServerInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.info
}

// Parse decodes every complete frame in data and returns the bytes consumed.
// An incomplete trailing frame is left for the next call.
func (c *Client) Parse(data []byte) (int, error) {
	consumed := 0
	for consumed < len(data) {
		n, err := c.parseFrame(data[consumed:])
		if err != nil {
			return consumed, err
		}
		if n == 0 {
			break
		}
		consumed += n
	}
	return consumed, nil
}

func (c *Client) parseFrame(data []byte) (int, error) {
	end := bytes.Index(data, []byte(crlf))
	if end < 0 {
		if len(data) > maxControlLine {
			return 0, fmt.Errorf("control line exceeds %d bytes: %w", maxControlLine, ErrProtocol)
		}
		return 0, nil
	}
	line := data[:end]
	lineLen := end + len(crlf)

	op, args, _ := bytes.Cut(line, []byte(" "))
	switch strings.ToUpper(string(op)) {
	case "MSG":
		return c.parseMsg(data, lineLen, args, false)
	case "HMSG":
		return c.parseMsg(data, lineLen, args, true)
	case "PING":
		return lineLen, c.writeFrame([]byte("PONG" + crlf))
	case "PONG":
		c.pingsOut.Store(0)
		return lineLen, nil
	case "+OK":
		return lineLen, nil
	case "-ERR":
		return lineLen, c.serverError(string(args))
	case "INFO":
		return lineLen, c.handleInfo(args)
	default:
		return 0, fmt.Errorf("unknown operation %q: %w", op, ErrProtocol)
	}
}

// parseMsg handles "MSG <subject> <sid> [reply] <size>" and
// "HMSG <subject> <sid> [reply] <hdr size> <total size>".
func (c *Client) parseMsg(data []byte, lineLen int, args []byte, withHeaders bool) (int, error) {
	fields := strings.Fields(string(args))
	want := 3
	if withHeaders {
		want = 4
	}
	if len(fields) != want && len(fields) != want+1 {
		return 0, fmt.Errorf("malformed message line %q: %w", args, ErrProtocol)
	}

	msg := Msg{Subject: fields[0]}
	sid, err := strconv.ParseUint(fields[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("bad sid %q: %w", fields[1], ErrProtocol)
	}
	msg.SID = sid
	if len(fields) == want+1 {
		msg.Reply = fields[2]
	}

	total, err := strconv.Atoi(fields[len(fields)-1])
	if err != nil || total < 0 {
		return 0, fmt.Errorf("bad size %q: %w", fields[len(fields)-1], ErrProtocol)
	}
	hdrLen := 0
	if withHeaders {
		hdrLen, err = strconv.Atoi(fields[len(fields)-2])
		if err != nil || hdrLen < 0 || hdrLen > total {
			return 0, fmt.Errorf("bad header size %q: %w", fields[len(fields)-2], ErrProtocol)
		}
	}

	frameLen := lineLen + total + len(crlf)
	if len(data) < frameLen {
		return 0, nil
	}
	body := data[lineLen : lineLen+total]
	if !bytes.Equal(data[lineLen+total:frameLen], []byte(crlf)) {
		return 0, fmt.Errorf("missing payload terminator: %w", ErrProtocol)
	}

	status := ""
	if withHeaders {
		msg.Header, status, err = decodeHeader(body[:hdrLen])
		if err != nil {
			return 0, err
		}
	}
	msg.Data = body[hdrLen:]

	// JetStream status messages (flow control, idle heartbeat) are answered
	// here and never reach the handler.
	if status == "100" {
		if msg.Reply != "" {
			return frameLen, c.Publish(msg.Reply, "", nil, nil)
		}
		return frameLen, nil
	}

	if c.handler != nil {
		c.handler(msg)
	}
	return frameLen, nil
}

func (c *Client) serverError(text string) error {
	text = strings.Trim(strings.TrimSpace(text), "'")
	lower := strings.ToLower(text)
	// Permission violations leave the connection open; everything else the
	// server reports with -ERR is followed by a disconnect.
	if strings.HasPrefix(lower, "permissions violation") {
		c.logger.Warn("Server rejected operation", "error", text)
		return nil
	}
	return errors.WrapFatal(fmt.Errorf("%s: %w", text, ErrServerError), "Client", "Parse", "server -ERR")
}

func (c *Client) handleInfo(args []byte) error {
	var info ServerInfo
	if err := json.Unmarshal(args, &info); err != nil {
		return fmt.Errorf("decode INFO: %v: %w", err, ErrProtocol)
	}

	c.mu.Lock()
	first := !c.ready
	c.info = info
	c.mu.Unlock()

	if !first {
		// Cluster topology updates carry a new INFO; nothing to do.
		return nil
	}
	if !info.Headers {
		return errors.WrapFatal(ErrNoHeaders, "Client", "handleInfo", "server capability check")
	}

	if err := c.sendConnect(); err != nil {
		return err
	}

	c.mu.Lock()
	c.ready = true
	pending := make(map[uint64]subscription, len(c.subs))
	for sid, sub := range c.subs {
		pending[sid] = sub
	}
	c.mu.Unlock()

	for sid, sub := range pending {
		if err := c.writeFrame(subFrame(sid, sub)); err != nil {
			return err
		}
	}
	if err := c.writeFrame([]byte("PING" + crlf)); err != nil {
		return err
	}

	if c.hb != nil {
		c.hb.NegotiateHeartbeat(c.opts.PingInterval)
	}
	c.logger.Info("Broker handshake complete",
		"server", info.ServerName, "version", info.Version, "jetstream", info.JetStream)
	if c.opts.OnReady != nil {
		c.opts.OnReady(info)
	}
	return nil
}

func (c *Client) sendConnect() error {
	payload, err := json.Marshal(connectInfo{
		Name:         c.opts.Name,
		Lang:         "go",
		Version:      "limbworker",
		Protocol:     1,
		Headers:      true,
		NoResponders: true,
		User:         c.opts.User,
		Pass:         c.opts.Password,
		Token:        c.opts.Token,
	})
	if err != nil {
		return errors.Wrap(err, "Client", "sendConnect", "encode CONNECT")
	}
	frame := make([]byte, 0, len(payload)+16)
	frame = append(frame, "CONNECT "...)
	frame = append(frame, payload...)
	frame = append(frame, crlf...)
	return c.writeFrame(frame)
}

// Heartbeat sends a PING. More than MaxPingsOut unanswered pings is a fatal
// stale connection.
func (c *Client) Heartbeat() error {
	if out := c.pingsOut.Add(1); int(out) > c.opts.MaxPingsOut {
		return errors.WrapFatal(ErrStaleConnection, "Client", "Heartbeat",
			fmt.Sprintf("%d pings unanswered", out-1))
	}
	return c.writeFrame([]byte("PING" + crlf))
}

// Subscribe registers interest in subject, optionally as part of a queue
// group. Before the handshake it is queued and sent after CONNECT.
func (c *Client) Subscribe(subject, queue string) (uint64, error) {
	if err := checkSubject("Subscribe", "subject", subject); err != nil {
		return 0, err
	}
	if !validQueue(queue) {
		return 0, errors.Newf(errors.KindInvalidInput, "Subscribe: bad queue %q", queue)
	}

	c.mu.Lock()
	c.nextSID++
	sid := c.nextSID
	sub := subscription{subject: subject, queue: queue}
	c.subs[sid] = sub
	ready := c.ready
	c.mu.Unlock()

	if !ready {
		return sid, nil
	}
	return sid, c.writeFrame(subFrame(sid, sub))
}

// Unsubscribe removes a subscription
func (c *Client) Unsubscribe(sid uint64) error {
	c.mu.Lock()
	_, ok := c.subs[sid]
	delete(c.subs, sid)
	ready := c.ready
	c.mu.Unlock()

	if !ok {
		return errors.Newf(errors.KindNotFound, "subscription %d", sid)
	}
	if !ready {
		return nil
	}
	return c.writeFrame([]byte("UNSUB " + strconv.FormatUint(sid, 10) + crlf))
}

// Publish sends data to subject. A non-empty header switches to HPUB.
func (c *Client) Publish(subject, reply string, hdr Header, data []byte) error {
	if err := checkSubject("Publish", "subject", subject); err != nil {
		return err
	}
	if reply != "" {
		if err := checkSubject("Publish", "reply", reply); err != nil {
			return err
		}
	}
	if err := checkHeader(hdr); err != nil {
		return err
	}

	var hdrBytes []byte
	if len(hdr) > 0 {
		hdrBytes = hdr.encode(nil)
	}

	c.mu.Lock()
	maxPayload := c.info.MaxPayload
	c.mu.Unlock()
	if maxPayload > 0 && int64(len(hdrBytes)+len(data)) > maxPayload {
		return ErrMaxPayload
	}

	frame := make([]byte, 0, len(subject)+len(reply)+len(hdrBytes)+len(data)+48)
	if hdrBytes != nil {
		frame = append(frame, "HPUB "...)
	} else {
		frame = append(frame, "PUB "...)
	}
	frame = append(frame, subject...)
	frame = append(frame, ' ')
	if reply != "" {
		frame = append(frame, reply...)
		frame = append(frame, ' ')
	}
	if hdrBytes != nil {
		frame = strconv.AppendInt(frame, int64(len(hdrBytes)), 10)
		frame = append(frame, ' ')
		frame = strconv.AppendInt(frame, int64(len(hdrBytes)+len(data)), 10)
	} else {
		frame = strconv.AppendInt(frame, int64(len(data)), 10)
	}
	frame = append(frame, crlf...)
	frame = append(frame, hdrBytes...)
	frame = append(frame, data...)
	frame = append(frame, crlf...)

	return c.writeFrame(frame)
}

// Ack acknowledges a JetStream delivery. An empty delivery handle (core NATS)
// is a no-op.
func (c *Client) Ack(delivery string) error {
	if delivery == "" {
		return nil
	}
	return c.Publish(delivery, "", nil, []byte(ackFrame))
}

// Nak negatively acknowledges a JetStream delivery so it is redelivered.
func (c *Client) Nak(delivery string) error {
	if delivery == "" {
		return nil
	}
	return c.Publish(delivery, "", nil, []byte(nakFrame))
}

func (c *Client) writeFrame(frame []byte) error {
	_, err := c.w.Write(frame)
	return err
}

func subFrame(sid uint64, sub subscription) []byte {
	frame := "SUB " + sub.subject + " "
	if sub.queue != "" {
		frame += sub.queue + " "
	}
	return []byte(frame + strconv.FormatUint(sid, 10) + crlf)
}
