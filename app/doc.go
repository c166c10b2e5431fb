// Package app assembles a worker process from its configuration.
//
// New builds every component without touching the network. Run then:
//
//  1. connects the JetStream control plane and provisions the stream and
//     one durable push consumer per channel;
//  2. opens the media store selected by storage.uri;
//  3. registers builtin processors, scans plugin directories and
//     initializes one container per module, recording each success in the
//     capability registry;
//  4. publishes the capability snapshot to the KV bucket;
//  5. subscribes to every deliver subject, connects the data connection and
//     runs it alongside the health monitor and the HTTP API.
//
// Shutdown stops reading, drains the dispatch pool within
// dispatch.shutdown_timeout, then closes processors, the socket and the
// control plane. A broker failure ends Run with an error; there is no
// reconnect.
package app
