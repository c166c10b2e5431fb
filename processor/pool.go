package processor

// Pool is a bounded lease counter for container implementations. Each of the
// k slots is leased by TryAcquire and returned by Release.
type Pool struct {
	slots chan struct{}
}

// NewPool creates a pool with size slots. A size below one is treated as one.
func NewPool(size int) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{slots: make(chan struct{}, size)}
}

// TryAcquire leases a slot without blocking.
func (p *Pool) TryAcquire() bool {
	select {
	case p.slots <- struct{}{}:
		return true
	default:
		return false
	}
}

// Release returns a leased slot. Releasing more than was leased is ignored.
func (p *Pool) Release() {
	select {
	case <-p.slots:
	default:
	}
}

// InUse returns the number of leased slots.
func (p *Pool) InUse() int { return len(p.slots) }

// Size returns the slot count.
func (p *Pool) Size() int { return cap(p.slots) }
