package config

import (
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/L1ghtError/LimbWorker/errors"
)

// Config is the complete worker configuration.
type Config struct {
	Broker   BrokerConfig   `json:"broker"`
	Storage  StorageConfig  `json:"storage"`
	Modules  ModulesConfig  `json:"modules"`
	Dispatch DispatchConfig `json:"dispatch"`
	HTTP     HTTPConfig     `json:"http"`
	Log      LogConfig      `json:"log"`
}

// BrokerConfig describes the NATS server and the JetStream layout.
type BrokerConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user,omitempty"`
	Password string `json:"password,omitempty"`
	Token    string `json:"token,omitempty"`
	// Name identifies this worker to the server and keys its capabilities
	// entry. Empty means a generated name.
	Name string `json:"name,omitempty"`

	HeartbeatMax   time.Duration `json:"heartbeat_max"`
	ConnectTimeout time.Duration `json:"connect_timeout"`
	PollTimeout    time.Duration `json:"poll_timeout"`
	// ReconnectWait and DrainTimeout apply to the control connection only;
	// the task connection never reconnects.
	ReconnectWait time.Duration `json:"reconnect_wait"`
	DrainTimeout  time.Duration `json:"drain_timeout"`

	Stream             string        `json:"stream"`
	SubjectPrefix      string        `json:"subject_prefix"`
	DeliverGroup       string        `json:"deliver_group"`
	Prefetch           int           `json:"prefetch"`
	AckWait            time.Duration `json:"ack_wait"`
	CapabilitiesBucket string        `json:"capabilities_bucket"`
}

// Address returns host:port.
func (b BrokerConfig) Address() string {
	return net.JoinHostPort(b.Host, strconv.Itoa(b.Port))
}

// URL returns the nats:// URL of the broker.
func (b BrokerConfig) URL() string {
	return "nats://" + b.Address()
}

// StorageConfig selects the media repository.
type StorageConfig struct {
	// URI selects the backend: memory://, nats://host:port or sqlite://path.
	URI string `json:"uri"`
	// Bucket is the object store bucket for the nats backend.
	Bucket string `json:"bucket"`
	// Database is the file name used when a sqlite URI names a directory.
	Database string `json:"database"`
}

// ModulesConfig controls processor discovery.
type ModulesConfig struct {
	ScanDirs        []string `json:"scan_dirs"`
	Builtin         []string `json:"builtin"`
	RequireManifest bool     `json:"require_manifest"`
	// RequireAny fails startup when no processor container initializes.
	RequireAny bool `json:"require_any"`
	// GrayscaleSlots bounds concurrent grayscale conversions; 0 means NumCPU.
	GrayscaleSlots int `json:"grayscale_slots"`
}

// DispatchConfig sizes the worker pool and fixes the failure policy.
type DispatchConfig struct {
	Workers          int           `json:"workers"`
	QueueSize        int           `json:"queue_size"`
	FailurePolicy    string        `json:"failure_policy"`
	ShutdownTimeout  time.Duration `json:"shutdown_timeout"`
	ProgressInterval time.Duration `json:"progress_interval"`
}

// HTTPConfig is the query surface.
type HTTPConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr"`
}

// LogConfig selects the log handler.
type LogConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// Validate checks the configuration is usable.
func (c *Config) Validate() error {
	b := c.Broker
	switch {
	case b.Host == "":
		return invalid(errors.ErrMissingConfig, "broker.host is required")
	case b.Port < 1 || b.Port > 65535:
		return invalid(errors.ErrInvalidConfig, fmt.Sprintf("broker.port %d out of range", b.Port))
	case b.HeartbeatMax < 0:
		return invalid(errors.ErrInvalidConfig, "broker.heartbeat_max must not be negative")
	case b.ReconnectWait < 0 || b.DrainTimeout < 0:
		return invalid(errors.ErrInvalidConfig, "broker.reconnect_wait and broker.drain_timeout must not be negative")
	case b.Prefetch < 1:
		return invalid(errors.ErrInvalidConfig, "broker.prefetch must be positive")
	case b.Stream == "" || b.SubjectPrefix == "":
		return invalid(errors.ErrMissingConfig, "broker.stream and broker.subject_prefix are required")
	case strings.ContainsAny(b.SubjectPrefix, " *>") || strings.HasSuffix(b.SubjectPrefix, "."):
		return invalid(errors.ErrInvalidConfig, "broker.subject_prefix "+b.SubjectPrefix)
	}

	if c.Storage.URI == "" {
		return invalid(errors.ErrMissingConfig, "storage.uri is required")
	}

	d := c.Dispatch
	switch {
	case d.Workers < 0 || d.QueueSize < 0:
		return invalid(errors.ErrInvalidConfig, "dispatch.workers and dispatch.queue_size must not be negative")
	case d.ShutdownTimeout <= 0:
		return invalid(errors.ErrInvalidConfig, "dispatch.shutdown_timeout must be positive")
	case d.ProgressInterval < 0:
		return invalid(errors.ErrInvalidConfig, "dispatch.progress_interval must not be negative")
	}
	switch strings.ToLower(d.FailurePolicy) {
	case "", "reject", "ack":
	default:
		return invalid(errors.ErrInvalidConfig, "dispatch.failure_policy must be reject or ack")
	}

	if c.HTTP.Enabled && c.HTTP.Addr == "" {
		return invalid(errors.ErrMissingConfig, "http.addr is required when http is enabled")
	}
	return nil
}

func invalid(sentinel error, msg string) error {
	return errors.WrapInvalid(fmt.Errorf("%s: %w", msg, sentinel), "Config", "Validate", "validate configuration")
}

// String returns the configuration as indented JSON with secrets masked.
func (c *Config) String() string {
	masked := *c
	if masked.Broker.Password != "" {
		masked.Broker.Password = "***"
	}
	if masked.Broker.Token != "" {
		masked.Broker.Token = "***"
	}
	data, _ := json.MarshalIndent(masked, "", "  ")
	return string(data)
}
