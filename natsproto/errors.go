package natsproto

import (
	"fmt"

	"github.com/L1ghtError/LimbWorker/errors"
)

var (
	// ErrProtocol is returned by Parse for input that is not valid NATS protocol
	ErrProtocol = fmt.Errorf("nats protocol violation: %w", errors.ErrInvalidInput)

	// ErrStaleConnection means the server stopped answering pings
	ErrStaleConnection = fmt.Errorf("stale connection: %w", errors.ErrAborted)

	// ErrServerError wraps a fatal -ERR from the server
	ErrServerError = fmt.Errorf("server error: %w", errors.ErrAborted)

	// ErrNoHeaders is returned when the server does not support message headers
	ErrNoHeaders = fmt.Errorf("server does not support headers: %w", errors.ErrUnimplemented)

	// ErrMaxPayload is returned by Publish for payloads above the server limit
	ErrMaxPayload = fmt.Errorf("payload exceeds server max_payload: %w", errors.ErrBufferTooSmall)
)
