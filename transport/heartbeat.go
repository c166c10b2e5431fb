package transport

import (
	"time"

	"github.com/L1ghtError/LimbWorker/errors"
)

// NegotiateHeartbeat settles the interval between a protocol's suggestion and
// the configured maximum, clamped to the floor, and starts a heartbeat
// goroutine for it. A zero suggestion or a zero HeartbeatMax disables
// heartbeats and returns 0.
func (c *Conn) NegotiateHeartbeat(suggested time.Duration) time.Duration {
	if suggested <= 0 || c.cfg.HeartbeatMax <= 0 {
		c.heartbeat.Store(0)
		return 0
	}

	interval := suggested
	if c.cfg.HeartbeatMax < interval {
		interval = c.cfg.HeartbeatMax
	}
	if interval < c.cfg.HeartbeatFloor {
		interval = c.cfg.HeartbeatFloor
	}
	c.heartbeat.Store(int64(interval))

	if c.stopping.Load() {
		return interval
	}

	c.hbWG.Add(1)
	go c.runHeartbeat(interval)

	c.logger.Debug("Heartbeat negotiated", "suggested", suggested, "interval", interval)
	return interval
}

// runHeartbeat emits a protocol heartbeat once per interval unless outgoing
// traffic within the interval already kept the connection alive, in which
// case it restarts its own timer.
func (c *Conn) runHeartbeat(interval time.Duration) {
	defer c.hbWG.Done()

	ticker := time.NewTicker(c.cfg.HeartbeatTick)
	defer ticker.Stop()

	lastBeat := time.Now()
	for {
		select {
		case <-c.hbStop:
			return
		case now := <-ticker.C:
			if !c.Connected() {
				return
			}
			if now.Sub(lastBeat) < interval {
				continue
			}
			if now.Sub(time.Unix(0, c.lastSend.Load())) < interval {
				lastBeat = now
				continue
			}
			if err := c.proto.Heartbeat(); err != nil {
				if errors.IsFatal(err) {
					c.logger.Error("Heartbeat reported a dead connection", "error", err)
					c.fail(err)
					return
				}
				c.logger.Warn("Heartbeat failed", "error", err)
				continue
			}
			lastBeat = now
			c.metrics.heartbeatSent()
		}
	}
}
