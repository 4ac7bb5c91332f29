package log

// MultiLogger fans events out to several loggers, for example console output
// via SlogAdapter plus a FileLogger.
type MultiLogger struct {
	loggers []Logger
}

// NewMultiLogger creates a MultiLogger. Disabled loggers are dropped.
func NewMultiLogger(loggers ...Logger) *MultiLogger {
	m := &MultiLogger{}
	for _, l := range loggers {
		if Enabled(l) {
			m.loggers = append(m.loggers, l)
		}
	}
	return m
}

// Log sends the event to all configured loggers.
func (m *MultiLogger) Log(event Event) {
	for _, l := range m.loggers {
		l.Log(event)
	}
}

// Len returns the number of active loggers.
func (m *MultiLogger) Len() int {
	return len(m.loggers)
}

// Compile-time interface satisfaction check.
var _ Logger = (*MultiLogger)(nil)
