package transport

import (
	"net"
	"strconv"
	"time"

	"github.com/L1ghtError/LimbWorker/errors"
)

// Defaults applied by Config.withDefaults.
const (
	DefaultConnectTimeout  = 5 * time.Second
	DefaultKeepAlive       = 30 * time.Second
	DefaultKeepAliveCount  = 4
	DefaultPollTimeout     = 200 * time.Millisecond
	DefaultWriteTimeout    = 10 * time.Second
	DefaultHeartbeatMax    = 60 * time.Second
	DefaultReadBufferSize  = 1 << 20
	DefaultWriteBufferSize = 256 << 10

	// MinHeartbeat is the lowest heartbeat interval NegotiateHeartbeat returns.
	MinHeartbeat = 10 * time.Second
)

// Config describes the broker endpoint and the socket behaviour.
type Config struct {
	Host string
	Port int

	ConnectTimeout time.Duration
	// KeepAlive is the TCP keepalive idle time and probe interval. Negative disables keepalive.
	KeepAlive time.Duration
	// KeepAliveCount is the number of unanswered probes before the kernel drops the socket (Linux only).
	KeepAliveCount int

	// PollTimeout bounds each blocking read so the loop can observe Stop.
	PollTimeout  time.Duration
	WriteTimeout time.Duration

	// HeartbeatMax caps the interval a protocol may suggest. Zero disables heartbeats.
	HeartbeatMax time.Duration
	// HeartbeatFloor is the lowest negotiated interval. Defaults to MinHeartbeat.
	HeartbeatFloor time.Duration
	// HeartbeatTick is the resolution of the heartbeat timer.
	HeartbeatTick time.Duration

	ReadBufferSize  int
	WriteBufferSize int
}

// DefaultConfig returns a config for host:port with every tunable defaulted.
func DefaultConfig(host string, port int) Config {
	return Config{Host: host, Port: port, HeartbeatMax: DefaultHeartbeatMax}.withDefaults()
}

// Address returns host:port
func (c Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Validate checks the endpoint
func (c Config) Validate() error {
	if c.Host == "" {
		return errors.WrapInvalid(errors.Newf(errors.KindIncomplete, "host is empty"), "Config", "Validate", "endpoint check")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return errors.WrapInvalid(errors.Newf(errors.KindInvalidInput, "port %d", c.Port), "Config", "Validate", "endpoint check")
	}
	return nil
}

func (c Config) withDefaults() Config {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.KeepAlive == 0 {
		c.KeepAlive = DefaultKeepAlive
	}
	if c.KeepAliveCount <= 0 {
		c.KeepAliveCount = DefaultKeepAliveCount
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = DefaultPollTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.HeartbeatFloor <= 0 {
		c.HeartbeatFloor = MinHeartbeat
	}
	if c.HeartbeatTick <= 0 {
		c.HeartbeatTick = time.Second
	}
	if c.ReadBufferSize <= 0 {
		c.ReadBufferSize = DefaultReadBufferSize
	}
	if c.WriteBufferSize <= 0 {
		c.WriteBufferSize = DefaultWriteBufferSize
	}
	return c
}
