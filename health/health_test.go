package health

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConstructors(t *testing.T) {
	tests := []struct {
		status  Status
		level   string
		healthy bool
	}{
		{NewHealthy("broker", "ok"), LevelHealthy, true},
		{NewDegraded("dispatch", "queue filling"), LevelDegraded, false},
		{NewUnhealthy("storage", "down"), LevelUnhealthy, false},
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			assert.Equal(t, tt.level, tt.status.Status)
			assert.Equal(t, tt.healthy, tt.status.Healthy)
			assert.Equal(t, tt.healthy, tt.status.IsHealthy())
			assert.False(t, tt.status.Timestamp.IsZero())
		})
	}
}

func TestFromError(t *testing.T) {
	ok := FromError("storage", nil)
	assert.True(t, ok.IsHealthy())

	bad := FromError("storage", fmt.Errorf("open /var/lib/limb/media.db: permission denied"))
	assert.True(t, bad.IsUnhealthy())
	assert.Equal(t, "open [PATH]: permission denied", bad.Message)
}

func TestSanitizeErrorMessage(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"", ""},
		{"failed to open /etc/limb/config.json", "failed to open [PATH]"},
		{"cannot connect to nats://localhost:4222", "cannot connect to [URL]"},
		{"bad uri sqlite:///data/media.db", "bad uri [URL]"},
		{"timeout connecting to 192.168.1.100", "timeout connecting to [IP]"},
		{"failed to bind to :8080", "failed to bind to [PORT]"},
		{"auth failed with password:hunter2", "auth failed with [REDACTED]"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, sanitizeErrorMessage(tt.input), "input %q", tt.input)
	}
}

func TestAggregate(t *testing.T) {
	assert.True(t, Aggregate("limb", nil).IsHealthy())

	agg := Aggregate("limb", []Status{NewHealthy("b", ""), NewHealthy("a", "")})
	assert.True(t, agg.IsHealthy())
	require.Len(t, agg.SubStatuses, 2)
	assert.Equal(t, "a", agg.SubStatuses[0].Component)

	agg = Aggregate("limb", []Status{NewHealthy("a", ""), NewDegraded("b", "")})
	assert.True(t, agg.IsDegraded())

	agg = Aggregate("limb", []Status{NewUnhealthy("a", ""), NewDegraded("b", "")})
	assert.True(t, agg.IsUnhealthy())

	agg = Aggregate("limb", []Status{NewDegraded("a", ""), NewUnhealthy("b", "")})
	assert.True(t, agg.IsUnhealthy(), "degraded must not mask a later unhealthy")
}

func TestAggregate_DoesNotModifyInput(t *testing.T) {
	subs := []Status{NewHealthy("z", ""), NewHealthy("a", "")}
	_ = Aggregate("limb", subs)
	assert.Equal(t, "z", subs[0].Component)
}

func TestMonitor_UpdateAndGet(t *testing.T) {
	m := NewMonitor(nil)
	m.Update("broker", NewHealthy("other-name", "connected"))

	got, ok := m.Get("broker")
	require.True(t, ok)
	assert.Equal(t, "broker", got.Component)

	_, ok = m.Get("missing")
	assert.False(t, ok)

	m.Update("storage", Status{Status: LevelUnhealthy})
	got, _ = m.Get("storage")
	assert.False(t, got.Timestamp.IsZero())

	assert.Equal(t, []string{"broker", "storage"}, m.ListComponents())
	assert.True(t, m.AggregateHealth("limb").IsUnhealthy())

	m.Remove("storage")
	assert.True(t, m.AggregateHealth("limb").IsHealthy())
}

func TestMonitor_Check(t *testing.T) {
	m := NewMonitor(nil)
	var healthy atomic.Bool
	healthy.Store(true)
	m.Register("broker", func(context.Context) Status {
		if healthy.Load() {
			return NewHealthy("broker", "connected")
		}
		return NewUnhealthy("broker", "disconnected")
	})

	m.Check(context.Background())
	got, ok := m.Get("broker")
	require.True(t, ok)
	assert.True(t, got.IsHealthy())

	healthy.Store(false)
	m.Check(context.Background())
	got, _ = m.Get("broker")
	assert.True(t, got.IsUnhealthy())

	m.Remove("broker")
	m.Check(context.Background())
	_, ok = m.Get("broker")
	assert.False(t, ok)
}

func TestMonitor_Run(t *testing.T) {
	m := NewMonitor(nil)
	var calls atomic.Int32
	m.Register("dispatch", func(context.Context) Status {
		calls.Add(1)
		return NewHealthy("dispatch", "ok")
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx, 5*time.Millisecond)
		close(done)
	}()

	assert.Eventually(t, func() bool { return calls.Load() >= 3 }, time.Second, time.Millisecond)
	cancel()
	<-done
}

func TestMonitor_ConcurrentAccess(t *testing.T) {
	m := NewMonitor(nil)
	var wg sync.WaitGroup
	for i := range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			name := fmt.Sprintf("component-%d", i%3)
			for range 100 {
				m.Update(name, NewHealthy(name, "ok"))
				_ = m.AggregateHealth("limb")
				_, _ = m.Get(name)
			}
		}()
	}
	wg.Wait()
	assert.Len(t, m.ListComponents(), 3)
}
