// Package transport keeps the single broker connection alive and moves bytes
// in both directions.
//
// A Conn owns the socket, a fixed-size input buffer and a fixed-size output
// buffer. Run polls the socket with a bounded read deadline, appends what it
// reads and hands the unconsumed input to the attached Protocol, which reports
// how many bytes it decoded. Outgoing frames arrive through Write (the Conn is
// the Protocol's io.Writer) and are flushed immediately.
//
// Two locks guard the output side: writeMu keeps every Write contiguous, and
// sendMu serializes buffer mutation with the blocking socket write.
//
// Heartbeats are negotiated by the Protocol once the broker handshake is done:
//
//	interval := conn.NegotiateHeartbeat(suggested)
//
// The interval is min(suggested, HeartbeatMax), never below the floor. A
// heartbeat goroutine then ticks once per HeartbeatTick and asks the Protocol
// for a heartbeat frame only if nothing else was sent during the interval.
//
// Read, write and decode failures are fatal to Run. Reconnecting is left to
// the process supervisor.
package transport
