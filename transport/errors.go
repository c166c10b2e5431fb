package transport

import (
	"fmt"

	"github.com/L1ghtError/LimbWorker/errors"
)

var (
	// ErrNotConnected is returned by I/O calls made outside the Connected state
	ErrNotConnected = fmt.Errorf("transport not connected: %w", errors.ErrUninitialized)

	// ErrAlreadyConnected is returned by Connect on a Conn that is not Disconnected
	ErrAlreadyConnected = fmt.Errorf("transport already connected: %w", errors.ErrAlreadyExists)

	// ErrNoProtocol is returned when Run or Connect is called before SetProtocol
	ErrNoProtocol = fmt.Errorf("transport has no protocol: %w", errors.ErrIncomplete)

	// ErrInputOverflow means the decoder consumed nothing while the input buffer was full
	ErrInputOverflow = fmt.Errorf("input frame exceeds read buffer: %w", errors.ErrBufferTooSmall)
)
