// Package connection owns the logical connection to a server cluster.
//
// A Supervisor selects endpoints from a server pool, performs the handshake,
// serializes all outbound writes, runs the read loop and keeps the
// connection alive with heartbeats. When the transport fails it reconnects
// on its own.
//
// # States
//
//	DISCONNECTED -> CONNECTING -> CONNECTED -> RECONNECTING -> CONNECTED
//	                                  \              \
//	                                   +-> CLOSED <---+
//
// RECONNECTING is entered only when reconnection is enabled. CLOSED is
// terminal and is reached by Close, by exhausting the server pool, or by a
// rejected handshake.
//
// # Reconnection
//
// Endpoints are tried in pool order. Each endpoint gets at most
// MaxReconnectAttempts consecutive failed attempts (-1 for no limit) before
// it leaves the pool. Two attempts on the same endpoint are separated by
// the reconnect wait:
//
//	wait = ReconnectWait                   (default, fixed)
//	wait = min(wait*Multiplier, Max)       (with a growing BackoffConfig)
//
// While reconnecting, publishes are held in a bounded pending buffer. Once
// the new handshake completes, the supervisor writes, in this order:
//
//  1. SUB (and UNSUB for capped subscriptions) for every live subscription
//  2. one PING per flush still waiting for its PONG
//  3. the pending buffer
//
// and only then reports CONNECTED.
//
// # Round trips
//
// Every PING the client writes takes one slot in a FIFO, and every PONG
// pops exactly one slot. Heartbeat slots carry no waiter. Flush waits for
// the PONG in its own slot, which makes it a barrier for everything written
// before it.
package connection
