package buffer

import (
	"github.com/L1ghtError/LimbWorker/errors"
)

// DefaultCapacity is the buffer size used by the transport when none is configured.
const DefaultCapacity = 64 * 1024

// Buffer is a fixed-capacity byte accumulator. Appends that do not fit are
// truncated to the free space, consumed prefixes are removed with Compact,
// and Drain empties the whole buffer.
//
// Buffer is not safe for concurrent use; the owner serializes access.
type Buffer struct {
	data  []byte
	used  int
	stats *Statistics
	m     *bufferMetrics
}

// New returns a buffer holding at most capacity bytes.
func New(capacity int, opts ...Option) (*Buffer, error) {
	if capacity <= 0 {
		return nil, errors.WrapInvalid(
			errors.Newf(errors.KindInvalidInput, "capacity %d", capacity),
			"Buffer", "New", "capacity validation")
	}

	o := applyOptions(opts...)
	b := &Buffer{
		data:  make([]byte, capacity),
		stats: NewStatistics(),
	}
	if o.metricsReg != nil {
		m, err := newBufferMetrics(o.metricsReg, o.metricsPrefix)
		if err != nil {
			return nil, err
		}
		b.m = m
	}
	return b, nil
}

// Append copies as much of p as fits and returns the number of bytes written.
// A short count means the buffer is full.
func (b *Buffer) Append(p []byte) int {
	n := copy(b.data[b.used:], p)
	b.used += n

	b.stats.Write(n)
	if n < len(p) {
		b.stats.Truncation()
	}
	b.stats.UpdateSize(int64(b.used))
	b.m.observeWrite(n, n < len(p), b.used, len(b.data))
	return n
}

// Bytes returns the unconsumed region. The slice aliases the buffer and is
// only valid until the next mutating call.
func (b *Buffer) Bytes() []byte {
	return b.data[:b.used]
}

// Compact discards the first n bytes and shifts the remainder to the front.
// n larger than Len drains the buffer.
func (b *Buffer) Compact(n int) {
	if n <= 0 {
		return
	}
	if n >= b.used {
		b.Drain()
		return
	}
	copy(b.data, b.data[n:b.used])
	b.used -= n

	b.stats.Compaction()
	b.stats.UpdateSize(int64(b.used))
	b.m.observeSize(b.used, len(b.data))
}

// Drain empties the buffer.
func (b *Buffer) Drain() {
	b.used = 0
	b.stats.Drain()
	b.stats.UpdateSize(0)
	b.m.observeSize(0, len(b.data))
}

// Len returns the number of buffered bytes.
func (b *Buffer) Len() int { return b.used }

// Cap returns the fixed capacity.
func (b *Buffer) Cap() int { return len(b.data) }

// Available returns the free space.
func (b *Buffer) Available() int { return len(b.data) - b.used }

// Full reports whether no more bytes can be appended.
func (b *Buffer) Full() bool { return b.used == len(b.data) }

// Stats returns the buffer's statistics tracker.
func (b *Buffer) Stats() *Statistics { return b.stats }
