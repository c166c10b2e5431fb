// Package api serves the worker's read-only HTTP surface.
//
// Routes:
//
//	GET /healthz       aggregated component health, 503 when unhealthy
//	GET /capabilities  the capability snapshot in its wire format
//	GET /processors    registered processor modules
//	GET /metrics       Prometheus exposition of the worker registry
//
// Request counts are labelled with the chi route pattern rather than the raw
// path so unknown URLs cannot inflate label cardinality.
package api
