// Package buffer provides the fixed-capacity byte buffer used on both sides of
// the broker connection.
//
// The read side appends socket bytes and hands Bytes() to the protocol
// decoder. Depending on how much the decoder consumed, the owner calls Drain
// (everything), Compact(n) (a prefix) or nothing (the decoder needs more data).
// The write side appends framed output and drains after a successful send.
//
// Append never grows the buffer; it returns how many bytes fit, so callers
// decide whether to flush and retry or to fail.
package buffer
