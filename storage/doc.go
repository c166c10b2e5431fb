// Package storage defines the media repository the dispatch layer reads
// source images from and writes results back to.
//
// A Store is addressed by opaque ids chosen by the client. Three backends
// exist, selected by the scheme of the configured URI:
//
//	memory://                      in-process map (this package)
//	nats://host:4222               JetStream object store (storage/objectstore)
//	sqlite:///var/lib/limb/media.db chunked SQLite blobs (storage/sqlite)
//
// ParseURI only splits the URI; constructing the backend is done by the
// application, which owns the NATS client.
//
// # Errors
//
// Every backend reports a missing id with errors.KindNotFound and a malformed
// id with errors.KindInvalidInput. Backend I/O failures are classified
// transient, so Instrument can retry them:
//
//	store, err := storage.Instrument(inner, "sqlite", retry.Quick(), metricsRegistry)
//
// Instrument also records operation counts, latency and byte totals under
// the limb_storage_* metric family when a registry is supplied.
package storage
