// Package log provides protocol capture for natsline connections.
//
// This package defines the Logger interface and Event types for recording
// what crossed the wire (PUB, MSG, SUB, UNSUB, PING, PONG, INFO, -ERR) and
// how the client reacted (state changes, errors). It is separate from
// operational logging (slog): protocol capture is a complete machine-readable
// trace for debugging and offline analysis.
//
// # Basic Usage
//
//	// For development: log to console via slog
//	opts.ProtocolLogger = log.NewSlogAdapter(slog.Default())
//
//	// For production: write to binary file
//	opts.ProtocolLogger, _ = log.NewFileLogger("/var/log/natsline/client.nlog")
//
//	// Both: use MultiLogger
//	opts.ProtocolLogger = log.NewMultiLogger(
//	    log.NewSlogAdapter(slog.Default()),
//	    fileLogger,
//	)
//
// # File Format
//
// Log files are a stream of CBOR-encoded events with integer keys, one after
// another, conventionally named *.nlog. Reader iterates them with an optional
// Filter; the natsline CLI "log" command renders them.
package log
