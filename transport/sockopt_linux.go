//go:build linux

package transport

import (
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// keepaliveControl sets the Linux keepalive knobs the net package does not
// expose uniformly: probe interval, probe count and TCP_USER_TIMEOUT so a
// blocked send fails once probes would have.
func keepaliveControl(cfg Config) func(network, address string, c syscall.RawConn) error {
	if cfg.KeepAlive < 0 {
		return nil
	}
	secs := int(cfg.KeepAlive / time.Second)
	if secs < 1 {
		secs = 1
	}
	userTimeout := int((cfg.KeepAlive * time.Duration(cfg.KeepAliveCount+1)) / time.Millisecond)

	return func(_, _ string, c syscall.RawConn) error {
		var sockErr error
		err := c.Control(func(fd uintptr) {
			for _, opt := range []struct{ level, name, value int }{
				{unix.SOL_SOCKET, unix.SO_KEEPALIVE, 1},
				{unix.IPPROTO_TCP, unix.TCP_KEEPIDLE, secs},
				{unix.IPPROTO_TCP, unix.TCP_KEEPINTVL, secs},
				{unix.IPPROTO_TCP, unix.TCP_KEEPCNT, cfg.KeepAliveCount},
				{unix.IPPROTO_TCP, unix.TCP_USER_TIMEOUT, userTimeout},
			} {
				if sockErr = unix.SetsockoptInt(int(fd), opt.level, opt.name, opt.value); sockErr != nil {
					return
				}
			}
		})
		if err != nil {
			return err
		}
		return sockErr
	}
}
