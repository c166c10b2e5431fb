// Package metric wraps a Prometheus registry for the worker.
//
// NewMetricsRegistry registers the Go and process collectors plus the core
// task and broker metrics in Metrics. Components such as the transport
// connection, the dispatch pool and the byte buffers register their own
// collectors through the MetricsRegistrar methods, keyed by component name:
//
//	reg := metric.NewMetricsRegistry()
//	bytesIn := prometheus.NewCounter(prometheus.CounterOpts{...})
//	if err := reg.RegisterCounter("transport", "bytes_in", bytesIn); err != nil {
//	    return err
//	}
//
// Registering the same component and metric twice returns an invalid-class
// error wrapping errors.ErrAlreadyExists rather than panicking. The registry
// is served over HTTP by the api package.
package metric
