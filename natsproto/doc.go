// Package natsproto implements the NATS client protocol as a push parser.
//
// A Client never touches a socket. The transport hands it received bytes via
// Parse, which returns how many bytes formed complete frames, and the Client
// writes its own frames (CONNECT, SUB, PUB, HPUB, PING, PONG) to the
// io.Writer it was built with, normally a *transport.Conn.
//
// On the first INFO the Client sends CONNECT, replays subscriptions made
// before the handshake, and offers DefaultPingInterval to the transport's
// heartbeat negotiation. Heartbeat sends PING; more than MaxPingsOut
// unanswered pings is reported as a fatal ErrStaleConnection.
//
// JetStream push consumers deliver with the ack subject in the reply field.
// That subject is the delivery handle: Ack publishes "+ACK" and Nak publishes
// "-NAK" to it. Flow-control status messages are answered internally.
package natsproto
