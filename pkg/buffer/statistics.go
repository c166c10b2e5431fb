package buffer

import (
	"sync/atomic"
	"time"
)

// Statistics tracks buffer activity. Counters are atomic so they can be read
// from a metrics or health goroutine while the owner mutates the buffer.
type Statistics struct {
	appends     atomic.Int64
	bytes       atomic.Int64
	truncations atomic.Int64
	drains      atomic.Int64
	compactions atomic.Int64
	currentSize atomic.Int64
	maxSize     atomic.Int64
	startTime   time.Time
}

// NewStatistics creates a new statistics tracker.
func NewStatistics() *Statistics {
	return &Statistics{startTime: time.Now()}
}

// Write records an append of n bytes.
func (s *Statistics) Write(n int) {
	s.appends.Add(1)
	s.bytes.Add(int64(n))
}

// Truncation records an append that did not fit completely.
func (s *Statistics) Truncation() { s.truncations.Add(1) }

// Drain records a full drain.
func (s *Statistics) Drain() { s.drains.Add(1) }

// Compaction records a left shift after partial consumption.
func (s *Statistics) Compaction() { s.compactions.Add(1) }

// UpdateSize records the current used length and tracks the high-water mark.
func (s *Statistics) UpdateSize(size int64) {
	s.currentSize.Store(size)
	for {
		max := s.maxSize.Load()
		if size <= max || s.maxSize.CompareAndSwap(max, size) {
			return
		}
	}
}

// Appends returns the number of Append calls.
func (s *Statistics) Appends() int64 { return s.appends.Load() }

// BytesWritten returns the number of bytes accepted by Append.
func (s *Statistics) BytesWritten() int64 { return s.bytes.Load() }

// Truncations returns the number of short appends.
func (s *Statistics) Truncations() int64 { return s.truncations.Load() }

// Drains returns the number of drains.
func (s *Statistics) Drains() int64 { return s.drains.Load() }

// Compactions returns the number of compactions.
func (s *Statistics) Compactions() int64 { return s.compactions.Load() }

// CurrentSize returns the used length at the last update.
func (s *Statistics) CurrentSize() int64 { return s.currentSize.Load() }

// MaxSize returns the largest used length observed.
func (s *Statistics) MaxSize() int64 { return s.maxSize.Load() }

// Throughput returns the average accepted bytes per second.
func (s *Statistics) Throughput() float64 {
	elapsed := time.Since(s.startTime)
	if elapsed <= 0 {
		return 0.0
	}
	return float64(s.BytesWritten()) / elapsed.Seconds()
}

// StatsSummary returns a snapshot of all statistics.
type StatsSummary struct {
	Appends      int64         `json:"appends"`
	BytesWritten int64         `json:"bytes_written"`
	Truncations  int64         `json:"truncations"`
	Drains       int64         `json:"drains"`
	Compactions  int64         `json:"compactions"`
	CurrentSize  int64         `json:"current_size"`
	MaxSize      int64         `json:"max_size"`
	Throughput   float64       `json:"throughput"`
	Uptime       time.Duration `json:"uptime"`
}

// Summary returns a snapshot of all statistics.
func (s *Statistics) Summary() StatsSummary {
	return StatsSummary{
		Appends:      s.Appends(),
		BytesWritten: s.BytesWritten(),
		Truncations:  s.Truncations(),
		Drains:       s.Drains(),
		Compactions:  s.Compactions(),
		CurrentSize:  s.CurrentSize(),
		MaxSize:      s.MaxSize(),
		Throughput:   s.Throughput(),
		Uptime:       time.Since(s.startTime),
	}
}
