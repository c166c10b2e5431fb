// Package worker provides the bounded dispatch pool.
//
// # Overview
//
// A Pool owns N worker goroutines and one ring-buffer queue whose capacity is
// rounded up to a power of two. Workers sleep on a condition variable until
// the queue is non-empty or the pool stops.
//
//	pool, err := worker.NewPool(4, 256, worker.WithLogger(logger))
//	if err != nil {
//	    return err
//	}
//	if err := pool.Start(ctx); err != nil {
//	    return err
//	}
//	defer pool.Stop(30 * time.Second)
//
//	if !pool.TryPost(func() { handle(task) }) {
//	    // queue full: reject the delivery
//	}
//
// # Backpressure
//
// TryPost never waits for space. It is called from the broker I/O goroutine,
// which must keep reading the socket; a refused item is the caller's signal to
// reject the delivery so the broker can redeliver elsewhere. Post wraps TryPost
// and returns ErrQueueFull, ErrPoolNotStarted or ErrPoolStopped instead of a
// bool.
//
// # Panics
//
// A panicking WorkItem is recovered, logged with its stack and counted in
// PoolStats.Panicked. The worker continues with the next item.
//
// # Shutdown
//
// Stop drains: it refuses new posts, lets workers finish every queued item and
// waits up to the timeout. Whatever is still queued when the timeout fires is
// abandoned, counted in PoolStats.Dropped and logged; Stop then returns
// ErrStopTimeout. Items already running are never interrupted.
//
// # Metrics
//
// WithMetricsRegistry exports queue depth, utilization, submitted, processed,
// panicked, rejected and dropped counts plus an execution-time histogram under
// the "limb_pool_*" names, labelled with the pool prefix.
package worker
