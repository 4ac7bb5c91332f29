package log

// Logger receives protocol log events.
// Pass nil or NoopLogger to disable capture.
type Logger interface {
	// Log records a protocol event. Implementations must be thread-safe.
	// Log is called on the connection's read and write paths, so it should
	// return quickly.
	Log(event Event)
}

// NoopLogger discards all events.
type NoopLogger struct{}

// Log discards the event.
func (NoopLogger) Log(Event) {}

// Enabled reports whether l records anything. Callers use it to skip
// building events nobody will see.
func Enabled(l Logger) bool {
	if l == nil {
		return false
	}
	switch l.(type) {
	case NoopLogger, *NoopLogger:
		return false
	}
	return true
}

// Compile-time interface satisfaction check.
var _ Logger = NoopLogger{}
