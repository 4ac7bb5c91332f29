package log

import (
	"fmt"
	"os"
	"sync"

	"github.com/fxamacker/cbor/v2"
)

// FileLogger appends CBOR-encoded events to a file.
// It is safe for concurrent use from multiple goroutines.
type FileLogger struct {
	path     string
	maxBytes int64

	mu      sync.Mutex
	file    *os.File
	encoder *cbor.Encoder
	written int64
	closed  bool
}

// FileOptions configures a FileLogger.
type FileOptions struct {
	// MaxBytes rotates the file to "<path>.1" once it grows past this size.
	// Zero disables rotation.
	MaxBytes int64
}

// NewFileLogger opens path for appending, creating it with mode 0644.
func NewFileLogger(path string) (*FileLogger, error) {
	return NewFileLoggerWithOptions(path, FileOptions{})
}

// NewFileLoggerWithOptions opens path with rotation settings.
func NewFileLoggerWithOptions(path string, opts FileOptions) (*FileLogger, error) {
	l := &FileLogger{path: path, maxBytes: opts.MaxBytes}
	if err := l.open(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *FileLogger) open() error {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return err
	}
	l.file = f
	l.written = st.Size()
	l.encoder = NewEncoder(&countingWriter{l: l})
	return nil
}

// Log writes an event. Encoding and I/O errors are dropped so capture never
// disrupts the connection.
func (l *FileLogger) Log(event Event) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return
	}

	_ = l.encoder.Encode(event)

	if l.maxBytes > 0 && l.written >= l.maxBytes {
		_ = l.rotate()
	}
}

// rotate moves the current file aside and starts a new one. Called with mu
// held.
func (l *FileLogger) rotate() error {
	if err := l.file.Close(); err != nil {
		return err
	}
	if err := os.Rename(l.path, l.path+".1"); err != nil {
		return fmt.Errorf("rotate log: %w", err)
	}
	return l.open()
}

// Close closes the log file. It is safe to call Close multiple times; later
// Log calls are ignored.
func (l *FileLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}

	l.closed = true
	return l.file.Close()
}

// countingWriter tracks bytes written for rotation.
type countingWriter struct {
	l *FileLogger
}

func (w *countingWriter) Write(p []byte) (int, error) {
	n, err := w.l.file.Write(p)
	w.l.written += int64(n)
	return n, err
}

// Compile-time interface satisfaction check.
var _ Logger = (*FileLogger)(nil)
