// Package health tracks the status of the worker's components and rolls them
// up into a single status served on /healthz.
//
// Components either push their state:
//
//	monitor.Update("broker", health.NewUnhealthy("broker", "connection lost"))
//
// or register a probe that Check (or Run, on a ticker) polls:
//
//	monitor.Register("dispatch", func(ctx context.Context) health.Status {
//		if stats := pool.Stats(); stats.Queued*10 > stats.Capacity*8 {
//			return health.NewDegraded("dispatch", "queue above 80%")
//		}
//		return health.NewHealthy("dispatch", "ok")
//	})
//
// Aggregation: any unhealthy component makes the whole unhealthy; otherwise
// any degraded component makes it degraded. FromError strips URLs, paths,
// addresses and credentials from error text before it is exposed.
package health
