package app

import (
	"context"
	"fmt"

	"github.com/L1ghtError/LimbWorker/health"
)

// healthChecker is implemented by control planes that track their own
// connection state.
type healthChecker interface {
	IsHealthy() bool
}

func (c *natsControl) IsHealthy() bool { return c.client.IsHealthy() }

const controlPlaneComponent = "control-plane"

func controlPlaneStatus(healthy bool) health.Status {
	if healthy {
		return health.NewHealthy(controlPlaneComponent, "connected")
	}
	// Task traffic does not depend on it.
	return health.NewDegraded(controlPlaneComponent, "disconnected")
}

// controlPlaneChanged records connection changes as they happen instead of
// waiting for the next probe round.
func (a *App) controlPlaneChanged(healthy bool) {
	a.monitor.Update(controlPlaneComponent, controlPlaneStatus(healthy))
}

func (a *App) registerProbes() {
	a.monitor.Register("broker", func(context.Context) health.Status {
		if a.conn.Connected() {
			return health.NewHealthy("broker", "connected to "+a.cfg.Broker.Address())
		}
		return health.NewUnhealthy("broker", a.conn.State().String())
	})

	if hc, ok := a.control.(healthChecker); ok {
		a.monitor.Register(controlPlaneComponent, func(context.Context) health.Status {
			return controlPlaneStatus(hc.IsHealthy())
		})
	}

	a.monitor.Register("processors", func(context.Context) health.Status {
		n := a.backends.Len()
		if n == 0 {
			return health.NewDegraded("processors", "no processor available")
		}
		return health.NewHealthy("processors", fmt.Sprintf("%d available", n))
	})

	a.monitor.Register("dispatch", func(context.Context) health.Status {
		stats := a.pool.Stats()
		if stats.Capacity > 0 && stats.QueueDepth*10 >= stats.Capacity*9 {
			return health.NewDegraded("dispatch",
				fmt.Sprintf("queue %d/%d", stats.QueueDepth, stats.Capacity))
		}
		return health.NewHealthy("dispatch",
			fmt.Sprintf("queue %d/%d, %d processed", stats.QueueDepth, stats.Capacity, stats.Processed))
	})
}
