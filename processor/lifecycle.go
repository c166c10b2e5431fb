package processor

import (
	"fmt"
	"sync/atomic"

	"github.com/L1ghtError/LimbWorker/errors"
)

// LifecycleState is the init state of a container.
type LifecycleState int32

const (
	Uninitialized LifecycleState = iota
	Initialized
	Deinitialized
)

func (s LifecycleState) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Initialized:
		return "initialized"
	case Deinitialized:
		return "deinitialized"
	default:
		return "unknown"
	}
}

// Lifecycle tracks Uninitialized -> Initialized -> Deinitialized. Containers
// embed it to get idempotent Deinit and guarded Init.
type Lifecycle struct {
	state atomic.Int32
}

// Begin moves Uninitialized to Initialized.
func (l *Lifecycle) Begin() error {
	if l.state.CompareAndSwap(int32(Uninitialized), int32(Initialized)) {
		return nil
	}
	return fmt.Errorf("container is %s: %w", l.State(), errors.ErrAlreadyExists)
}

// Fail returns an initialized container to Uninitialized after a failed setup.
func (l *Lifecycle) Fail() {
	l.state.CompareAndSwap(int32(Initialized), int32(Uninitialized))
}

// End moves to Deinitialized and reports whether resources need releasing.
func (l *Lifecycle) End() bool {
	prev := LifecycleState(l.state.Swap(int32(Deinitialized)))
	return prev == Initialized
}

// State returns the current state.
func (l *Lifecycle) State() LifecycleState {
	return LifecycleState(l.state.Load())
}

// Ready is true only between a successful Begin and End.
func (l *Lifecycle) Ready() bool {
	return l.State() == Initialized
}
