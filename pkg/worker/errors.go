package worker

import (
	"errors"
	"fmt"

	cerrors "github.com/L1ghtError/LimbWorker/errors"
)

// Sentinel errors for worker pool operations
var (
	// ErrPoolNotStarted indicates the pool hasn't been started yet
	ErrPoolNotStarted = fmt.Errorf("worker pool not started: %w", cerrors.ErrUninitialized)

	// ErrPoolStopped indicates the pool has been stopped
	ErrPoolStopped = fmt.Errorf("worker pool stopped: %w", cerrors.ErrAborted)

	// ErrPoolAlreadyStarted indicates Start() was called on an already-started pool
	ErrPoolAlreadyStarted = fmt.Errorf("worker pool already started: %w", cerrors.ErrAlreadyExists)

	// ErrQueueFull indicates the dispatch queue is at capacity
	ErrQueueFull = fmt.Errorf("worker pool queue full: %w", cerrors.ErrBufferTooSmall)

	// ErrStopTimeout indicates queued work did not drain within the timeout
	ErrStopTimeout = errors.New("timeout waiting for workers to drain")
)
