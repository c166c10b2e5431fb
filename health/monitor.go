package health

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Probe reports the current health of one component.
type Probe func(ctx context.Context) Status

// Monitor keeps the latest status of every component. Statuses are either
// pushed with Update or pulled from registered probes by Check and Run.
type Monitor struct {
	mu       sync.RWMutex
	statuses map[string]Status
	probes   map[string]Probe
	logger   *slog.Logger
}

// NewMonitor creates a new health monitor
func NewMonitor(logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		statuses: make(map[string]Status),
		probes:   make(map[string]Probe),
		logger:   logger.With("component", "health"),
	}
}

// Register adds a probe polled by Check.
func (m *Monitor) Register(name string, probe Probe) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.probes[name] = probe
}

// Update records the status for a named component
func (m *Monitor) Update(name string, status Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.update(name, status)
}

func (m *Monitor) update(name string, status Status) {
	status.Component = name
	if status.Timestamp.IsZero() {
		status.Timestamp = time.Now()
	}
	if prev, ok := m.statuses[name]; ok && prev.Status != status.Status {
		m.logger.Info("Component health changed", "name", name,
			"from", prev.Status, "to", status.Status, "message", status.Message)
	}
	m.statuses[name] = status
}

// Get retrieves the health status for a named component
func (m *Monitor) Get(name string) (Status, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	status, ok := m.statuses[name]
	return status, ok
}

// Remove drops a component and its probe.
func (m *Monitor) Remove(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.statuses, name)
	delete(m.probes, name)
}

// ListComponents returns the monitored component names in order.
func (m *Monitor) ListComponents() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.statuses))
	for name := range m.statuses {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Check runs every probe and records the results.
func (m *Monitor) Check(ctx context.Context) {
	m.mu.RLock()
	probes := make(map[string]Probe, len(m.probes))
	for name, p := range m.probes {
		probes[name] = p
	}
	m.mu.RUnlock()

	results := make(map[string]Status, len(probes))
	for name, probe := range probes {
		results[name] = probe(ctx)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for name, status := range results {
		if _, still := m.probes[name]; still {
			m.update(name, status)
		}
	}
}

// Run calls Check every interval until ctx is done.
func (m *Monitor) Run(ctx context.Context, interval time.Duration) {
	m.Check(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}

// AggregateHealth returns the rolled-up status of every component.
func (m *Monitor) AggregateHealth(systemName string) Status {
	m.mu.RLock()
	subStatuses := make([]Status, 0, len(m.statuses))
	for _, status := range m.statuses {
		subStatuses = append(subStatuses, status)
	}
	m.mu.RUnlock()
	return Aggregate(systemName, subStatuses)
}
