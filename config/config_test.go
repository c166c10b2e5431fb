package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/L1ghtError/LimbWorker/errors"
)

func writeLayer(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func newTestLoader(env map[string]string) *Loader {
	l := NewLoader()
	l.lookupEnv = func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
	return l
}

func TestDefaults(t *testing.T) {
	cfg, err := newTestLoader(nil).Load()
	require.NoError(t, err)

	assert.Equal(t, "localhost", cfg.Broker.Host)
	assert.Equal(t, 4222, cfg.Broker.Port)
	assert.Equal(t, 60*time.Second, cfg.Broker.HeartbeatMax)
	assert.Equal(t, 20, cfg.Broker.Prefetch)
	assert.Equal(t, "memory://", cfg.Storage.URI)
	assert.Equal(t, "limb-media", cfg.Storage.Bucket)
	assert.Equal(t, "limb", cfg.Storage.Database)
	assert.Equal(t, []string{"processors"}, cfg.Modules.ScanDirs)
	assert.Equal(t, runtime.NumCPU(), cfg.Dispatch.Workers)
	assert.Equal(t, 1024, cfg.Dispatch.QueueSize)
	assert.Equal(t, "reject", cfg.Dispatch.FailurePolicy)
	assert.Equal(t, 30*time.Second, cfg.Dispatch.ShutdownTimeout)
	assert.Equal(t, 2*time.Second, cfg.Broker.ReconnectWait)
	assert.Equal(t, 10*time.Second, cfg.Broker.DrainTimeout)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, "nats://localhost:4222", cfg.Broker.URL())
}

func TestLoader_Layers(t *testing.T) {
	dir := t.TempDir()
	base := writeLayer(t, dir, "base.json", `{
		"broker": {"host": "nats.internal", "heartbeat_max": "30s", "prefetch": 8, "drain_timeout": "3s"},
		"modules": {"scan_dirs": ["/opt/limb/processors", "/usr/lib/limb"]},
		"dispatch": {"workers": 4}
	}`)
	prod := writeLayer(t, dir, "prod.json", `{
		"broker": {"port": 4333},
		"storage": {"uri": "sqlite:///var/lib/limb/media.db"},
		"dispatch": {"failure_policy": "ack", "shutdown_timeout": "1m"}
	}`)

	l := newTestLoader(nil)
	l.AddLayer(base)
	l.AddLayer(prod)
	cfg, err := l.Load()
	require.NoError(t, err)

	assert.Equal(t, "nats.internal", cfg.Broker.Host, "earlier layer kept")
	assert.Equal(t, 4333, cfg.Broker.Port, "later layer applied")
	assert.Equal(t, 30*time.Second, cfg.Broker.HeartbeatMax)
	assert.Equal(t, 3*time.Second, cfg.Broker.DrainTimeout)
	assert.Equal(t, 8, cfg.Broker.Prefetch)
	assert.Equal(t, "LIMB", cfg.Broker.Stream, "defaults survive partial sections")
	assert.Equal(t, []string{"/opt/limb/processors", "/usr/lib/limb"}, cfg.Modules.ScanDirs)
	assert.Equal(t, "sqlite:///var/lib/limb/media.db", cfg.Storage.URI)
	assert.Equal(t, 4, cfg.Dispatch.Workers)
	assert.Equal(t, "ack", cfg.Dispatch.FailurePolicy)
	assert.Equal(t, time.Minute, cfg.Dispatch.ShutdownTimeout)
}

func TestLoader_EnvOverrides(t *testing.T) {
	dir := t.TempDir()
	layer := writeLayer(t, dir, "config.json", `{"broker": {"host": "from-file", "user": "file-user"}}`)

	l := newTestLoader(map[string]string{
		"LIMB_BROKER_HOST":          "from-env",
		"LIMB_BROKER_PORT":          "4999",
		"LIMB_BROKER_PASSWORD":      "s3cret",
		"LIMB_STORAGE_URI":          "nats://localhost:4222",
		"LIMB_MODULES_SCAN_DIRS":    "a, b,,c",
		"LIMB_DISPATCH_WORKERS":     "2",
		"LIMB_BROKER_HEARTBEAT_MAX": "15s",
		"LIMB_HTTP_ENABLED":         "false",
	})
	l.AddLayer(layer)
	cfg, err := l.Load()
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Broker.Host)
	assert.Equal(t, "file-user", cfg.Broker.User)
	assert.Equal(t, 4999, cfg.Broker.Port)
	assert.Equal(t, "s3cret", cfg.Broker.Password)
	assert.Equal(t, "nats://localhost:4222", cfg.Storage.URI)
	assert.Equal(t, []string{"a", "b", "c"}, cfg.Modules.ScanDirs)
	assert.Equal(t, 2, cfg.Dispatch.Workers)
	assert.Equal(t, 15*time.Second, cfg.Broker.HeartbeatMax)
	assert.False(t, cfg.HTTP.Enabled)
}

func TestLoader_BadEnv(t *testing.T) {
	_, err := newTestLoader(map[string]string{"LIMB_BROKER_PORT": "many"}).Load()
	assert.Error(t, err)

	_, err = newTestLoader(map[string]string{"LIMB_BROKER_HOST": "a\x00b"}).Load()
	assert.Error(t, err)
}

func TestLoader_BadLayers(t *testing.T) {
	dir := t.TempDir()
	tests := map[string]string{
		"bad-duration.json": `{"broker": {"heartbeat_max": "soon"}}`,
		"bad-json.json":     `{"broker": `,
		"too-deep.json":     strings.Repeat("[", maxJSONDepth+1) + strings.Repeat("]", maxJSONDepth+1),
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			l := newTestLoader(nil)
			l.AddLayer(writeLayer(t, dir, name, content))
			_, err := l.Load()
			assert.Error(t, err)
		})
	}

	l := newTestLoader(nil)
	l.AddLayer(writeLayer(t, dir, "config.yaml", `broker: {}`))
	_, err := l.Load()
	assert.Error(t, err, "only JSON layers are accepted")

	l = newTestLoader(nil)
	l.AddLayer(filepath.Join(dir, "missing.json"))
	_, err = l.Load()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*Config)
		sentinel error
	}{
		{"missing host", func(c *Config) { c.Broker.Host = "" }, errors.ErrMissingConfig},
		{"bad port", func(c *Config) { c.Broker.Port = 70000 }, errors.ErrInvalidConfig},
		{"zero prefetch", func(c *Config) { c.Broker.Prefetch = 0 }, errors.ErrInvalidConfig},
		{"negative drain", func(c *Config) { c.Broker.DrainTimeout = -time.Second }, errors.ErrInvalidConfig},
		{"wildcard prefix", func(c *Config) { c.Broker.SubjectPrefix = "limb.>" }, errors.ErrInvalidConfig},
		{"missing storage", func(c *Config) { c.Storage.URI = "" }, errors.ErrMissingConfig},
		{"bad policy", func(c *Config) { c.Dispatch.FailurePolicy = "drop" }, errors.ErrInvalidConfig},
		{"zero shutdown", func(c *Config) { c.Dispatch.ShutdownTimeout = 0 }, errors.ErrInvalidConfig},
		{"http without addr", func(c *Config) { c.HTTP.Addr = "" }, errors.ErrMissingConfig},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.sentinel)
			assert.True(t, errors.IsInvalid(err))
		})
	}

	assert.NoError(t, Defaults().Validate())
}

func TestLoader_ValidationDisabled(t *testing.T) {
	l := newTestLoader(map[string]string{"LIMB_DISPATCH_FAILURE_POLICY": "drop"})
	l.EnableValidation(false)
	cfg, err := l.Load()
	require.NoError(t, err)
	assert.Equal(t, "drop", cfg.Dispatch.FailurePolicy)
}

func TestConfig_StringMasksSecrets(t *testing.T) {
	cfg := Defaults()
	cfg.Broker.Password = "hunter2"
	cfg.Broker.Token = "tok"

	s := cfg.String()
	assert.NotContains(t, s, "hunter2")
	assert.NotContains(t, s, `"tok"`)
	assert.Equal(t, "hunter2", cfg.Broker.Password, "String must not mutate the config")
}
