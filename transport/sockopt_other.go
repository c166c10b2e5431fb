//go:build !linux

package transport

import "syscall"

// Elsewhere the net.Dialer KeepAlive field is all we set.
func keepaliveControl(Config) func(network, address string, c syscall.RawConn) error {
	return nil
}
