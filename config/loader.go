package config

import (
	"encoding/json"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "LIMB"

// durationFields lists section.key pairs holding durations. JSON layers may
// write them as strings such as "60s".
var durationFields = map[string][]string{
	"broker":   {"heartbeat_max", "connect_timeout", "poll_timeout", "reconnect_wait", "drain_timeout", "ack_wait"},
	"dispatch": {"shutdown_timeout", "progress_interval"},
}

// Loader builds a Config from defaults, JSON layers and environment
// overrides, in that order.
type Loader struct {
	layers     []string
	validation bool
	envPrefix  string
	lookupEnv  func(string) (string, bool)
}

// NewLoader creates a loader with validation enabled.
func NewLoader() *Loader {
	return &Loader{
		validation: true,
		envPrefix:  EnvPrefix,
		lookupEnv:  os.LookupEnv,
	}
}

// AddLayer adds a configuration file layer. Later layers win.
func (l *Loader) AddLayer(path string) {
	l.layers = append(l.layers, path)
}

// EnableValidation enables or disables configuration validation
func (l *Loader) EnableValidation(enable bool) {
	l.validation = enable
}

// Load merges defaults, every layer and the environment.
func (l *Loader) Load() (*Config, error) {
	cfg := Defaults()

	for _, path := range l.layers {
		raw, err := l.loadRawJSON(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", path, err)
		}
		cfg, err = mergeFromMap(cfg, raw)
		if err != nil {
			return nil, fmt.Errorf("failed to merge %s: %w", path, err)
		}
	}

	if err := l.applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if l.validation {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// Defaults returns the built-in configuration.
func Defaults() *Config {
	return &Config{
		Broker: BrokerConfig{
			Host:               "localhost",
			Port:               4222,
			HeartbeatMax:       60 * time.Second,
			ConnectTimeout:     5 * time.Second,
			PollTimeout:        200 * time.Millisecond,
			ReconnectWait:      2 * time.Second,
			DrainTimeout:       10 * time.Second,
			Stream:             "LIMB",
			SubjectPrefix:      "limb",
			DeliverGroup:       "limb-workers",
			Prefetch:           20,
			AckWait:            5 * time.Minute,
			CapabilitiesBucket: "LIMB_CAPABILITIES",
		},
		Storage: StorageConfig{
			URI:      "memory://",
			Bucket:   "limb-media",
			Database: "limb",
		},
		Modules: ModulesConfig{
			ScanDirs: []string{"processors"},
			Builtin:  []string{"loopback", "grayscale"},
		},
		Dispatch: DispatchConfig{
			Workers:          runtime.NumCPU(),
			QueueSize:        1024,
			FailurePolicy:    "reject",
			ShutdownTimeout:  30 * time.Second,
			ProgressInterval: 250 * time.Millisecond,
		},
		HTTP: HTTPConfig{
			Enabled: true,
			Addr:    ":8080",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

func (l *Loader) loadRawJSON(path string) (map[string]any, error) {
	data, err := safeReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := validateJSONDepth(data); err != nil {
		return nil, fmt.Errorf("invalid JSON structure: %w", err)
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	if err := parseDurations(raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// parseDurations rewrites duration strings as nanoseconds so they unmarshal
// into time.Duration.
func parseDurations(raw map[string]any) error {
	for section, keys := range durationFields {
		m, ok := raw[section].(map[string]any)
		if !ok {
			continue
		}
		for _, key := range keys {
			s, ok := m[key].(string)
			if !ok {
				continue
			}
			d, err := time.ParseDuration(s)
			if err != nil {
				return fmt.Errorf("%s.%s: %w", section, key, err)
			}
			m[key] = d.Nanoseconds()
		}
	}
	return nil
}

// mergeFromMap overrides only the fields present in override.
func mergeFromMap(base *Config, override map[string]any) (*Config, error) {
	baseJSON, err := json.Marshal(base)
	if err != nil {
		return nil, err
	}
	var baseMap map[string]any
	if err := json.Unmarshal(baseJSON, &baseMap); err != nil {
		return nil, err
	}

	mergedJSON, err := json.Marshal(deepMergeMaps(baseMap, override))
	if err != nil {
		return nil, err
	}
	var merged Config
	if err := json.Unmarshal(mergedJSON, &merged); err != nil {
		return nil, err
	}
	return &merged, nil
}

// deepMergeMaps merges nested objects key by key. Arrays and scalars from
// override replace the base value; nulls are ignored.
func deepMergeMaps(base, override map[string]any) map[string]any {
	result := make(map[string]any, len(base))
	for k, v := range base {
		result[k] = v
	}
	for k, v := range override {
		if v == nil {
			continue
		}
		if baseMap, ok := base[k].(map[string]any); ok {
			if overrideMap, ok := v.(map[string]any); ok {
				result[k] = deepMergeMaps(baseMap, overrideMap)
				continue
			}
		}
		result[k] = v
	}
	return result
}

func (l *Loader) env(name string) (string, bool, error) {
	key := l.envPrefix + "_" + name
	val, ok := l.lookupEnv(key)
	if !ok || val == "" {
		return "", false, nil
	}
	if err := validateEnvVar(key, val); err != nil {
		return "", false, err
	}
	return val, true, nil
}

// applyEnvOverrides applies LIMB_* variables on top of the file layers.
func (l *Loader) applyEnvOverrides(cfg *Config) error {
	strs := map[string]*string{
		"BROKER_HOST":             &cfg.Broker.Host,
		"BROKER_USER":             &cfg.Broker.User,
		"BROKER_PASSWORD":         &cfg.Broker.Password,
		"BROKER_TOKEN":            &cfg.Broker.Token,
		"BROKER_NAME":             &cfg.Broker.Name,
		"STORAGE_URI":             &cfg.Storage.URI,
		"STORAGE_BUCKET":          &cfg.Storage.Bucket,
		"STORAGE_DATABASE":        &cfg.Storage.Database,
		"DISPATCH_FAILURE_POLICY": &cfg.Dispatch.FailurePolicy,
		"HTTP_ADDR":               &cfg.HTTP.Addr,
		"LOG_LEVEL":               &cfg.Log.Level,
		"LOG_FORMAT":              &cfg.Log.Format,
	}
	for name, dst := range strs {
		val, ok, err := l.env(name)
		if err != nil {
			return err
		}
		if ok {
			*dst = val
		}
	}

	ints := map[string]*int{
		"BROKER_PORT":         &cfg.Broker.Port,
		"BROKER_PREFETCH":     &cfg.Broker.Prefetch,
		"DISPATCH_WORKERS":    &cfg.Dispatch.Workers,
		"DISPATCH_QUEUE_SIZE": &cfg.Dispatch.QueueSize,
	}
	for name, dst := range ints {
		val, ok, err := l.env(name)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		n, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("%s_%s: %w", l.envPrefix, name, err)
		}
		*dst = n
	}

	durations := map[string]*time.Duration{
		"BROKER_HEARTBEAT_MAX":      &cfg.Broker.HeartbeatMax,
		"DISPATCH_SHUTDOWN_TIMEOUT": &cfg.Dispatch.ShutdownTimeout,
	}
	for name, dst := range durations {
		val, ok, err := l.env(name)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		d, err := time.ParseDuration(val)
		if err != nil {
			return fmt.Errorf("%s_%s: %w", l.envPrefix, name, err)
		}
		*dst = d
	}

	if val, ok, err := l.env("MODULES_SCAN_DIRS"); err != nil {
		return err
	} else if ok {
		cfg.Modules.ScanDirs = splitList(val)
	}
	if val, ok, err := l.env("HTTP_ENABLED"); err != nil {
		return err
	} else if ok {
		enabled, err := strconv.ParseBool(val)
		if err != nil {
			return fmt.Errorf("%s_HTTP_ENABLED: %w", l.envPrefix, err)
		}
		cfg.HTTP.Enabled = enabled
	}
	return nil
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
