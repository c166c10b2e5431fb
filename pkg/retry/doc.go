// Package retry provides exponential backoff with optional jitter.
//
// Storage backends wrap Get and Put in Do so that a broker or database hiccup
// does not fail a whole compute task, and natsclient uses Quick() while it
// provisions streams and consumers at startup.
//
//	err := retry.Do(ctx, retry.DefaultConfig(), func() error {
//	    return store.Put(ctx, id, data)
//	})
//
// Errors wrapped with NonRetryable stop the loop immediately. Config.Retryable
// narrows retries further; errors.RetryPolicy builds a config that only repeats
// transient failures.
package retry
