// Package metrics defines the metrics surface of a natsline connection and
// provides no-op and Prometheus-backed collectors.
package metrics

import "time"

// Request outcomes reported to RecordRequest.
const (
	OutcomeOK      = "ok"
	OutcomeTimeout = "timeout"
	OutcomeClosed  = "closed"
	OutcomeError   = "error"
)

// Collector receives connection, subscription and request metrics.
// Implementations must be safe for concurrent use.
type Collector interface {
	// RecordMessageIn counts a MSG delivered by the server.
	RecordMessageIn(bytes int)
	// RecordMessageOut counts a PUB written (or buffered) by the client.
	RecordMessageOut(bytes int)
	// RecordStateChange counts a connection state transition.
	RecordStateChange(from, to string)
	// RecordReconnect counts a successful reconnect to endpoint.
	RecordReconnect(endpoint string)
	// RecordBufferDropped counts bytes discarded by the reconnect buffer.
	RecordBufferDropped(bytes int)
	// RecordSlowConsumer counts a message dropped by a full subscription queue.
	RecordSlowConsumer()
	// SetSubscriptions reports the number of live subscriptions.
	SetSubscriptions(n int)
	// RecordRequest observes a finished request with its outcome.
	RecordRequest(outcome string, latency time.Duration)
	// RecordRTT observes a heartbeat round trip.
	RecordRTT(rtt time.Duration)
}
