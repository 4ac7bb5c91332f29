// Package transport provides the byte-stream layer under a natsline
// connection: TCP dialing, optional TLS upgrade after the server's INFO,
// WebSocket dialing for ws:// and wss:// endpoints, and the heartbeat
// monitor that detects silent peers.
//
// # Keep-Alive
//
// Every PingInterval the monitor sends a PING. Any PONG from the server
// clears the count of unanswered pings. When a tick would push the count past
// MaxOutstanding, the connection is declared stale:
//
//	detection delay <= PingInterval * (MaxOutstanding + 1)
package transport
