package worker

// ring is a bounded FIFO of work items whose capacity is a power of two, so
// positions are reduced with a mask instead of a modulo. The pool's mutex
// guards it.
type ring struct {
	items []WorkItem
	mask  uint64
	head  uint64
	tail  uint64
}

func newRing(capacity int) *ring {
	n := nextPowerOfTwo(capacity)
	return &ring{
		items: make([]WorkItem, n),
		mask:  uint64(n - 1),
	}
}

func (r *ring) push(w WorkItem) bool {
	if r.tail-r.head == uint64(len(r.items)) {
		return false
	}
	r.items[r.tail&r.mask] = w
	r.tail++
	return true
}

func (r *ring) pop() (WorkItem, bool) {
	if r.head == r.tail {
		return nil, false
	}
	slot := r.head & r.mask
	w := r.items[slot]
	r.items[slot] = nil
	r.head++
	return w, true
}

func (r *ring) len() int { return int(r.tail - r.head) }

func (r *ring) cap() int { return len(r.items) }

// clear drops every queued item and returns how many were dropped.
func (r *ring) clear() int {
	n := r.len()
	for r.head != r.tail {
		r.items[r.head&r.mask] = nil
		r.head++
	}
	return n
}

// nextPowerOfTwo rounds n up to a power of two, never below 2.
func nextPowerOfTwo(n int) int {
	if n <= 2 {
		return 2
	}
	p := 2
	for p < n {
		p <<= 1
	}
	return p
}
