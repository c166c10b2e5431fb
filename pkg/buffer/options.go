package buffer

import (
	"github.com/L1ghtError/LimbWorker/metric"
)

// Option configures a Buffer.
type Option func(*bufferOptions)

// Statistics are always collected; Prometheus export is opt-in.
type bufferOptions struct {
	metricsReg    *metric.MetricsRegistry
	metricsPrefix string
}

// WithMetrics exports the buffer's activity under the given component label.
// A nil registry or empty prefix leaves metrics disabled.
func WithMetrics(registry *metric.MetricsRegistry, prefix string) Option {
	return func(opts *bufferOptions) {
		if registry != nil && prefix != "" {
			opts.metricsReg = registry
			opts.metricsPrefix = prefix
		}
	}
}

func applyOptions(options ...Option) *bufferOptions {
	opts := &bufferOptions{}
	for _, option := range options {
		option(opts)
	}
	return opts
}
