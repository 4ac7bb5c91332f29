// Package natserr defines the errors shared by the natsline client components.
//
// Sentinels are compared with errors.Is. Transport failures carry the
// endpoint and the failing operation in a *TransportError, and -ERR lines
// from the server surface as *ServerError.
package natserr

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors.
var (
	ErrTimeout              = errors.New("timeout")
	ErrConnectionClosed     = errors.New("connection closed")
	ErrAuthRejected         = errors.New("authorization rejected")
	ErrStaleConnection      = errors.New("stale connection")
	ErrNoServers            = errors.New("no servers available for connection")
	ErrBadSubject           = errors.New("invalid subject")
	ErrBadQueue             = errors.New("invalid queue group")
	ErrBadSubscription      = errors.New("invalid subscription")
	ErrSlowConsumer         = errors.New("slow consumer, messages dropped")
	ErrMaxPayload           = errors.New("maximum payload exceeded")
	ErrInvalidArg           = errors.New("invalid argument")
	ErrProtocol             = errors.New("protocol error")
	ErrReconnectBufExceeded = errors.New("reconnect buffer exceeded")
)

// TransportError reports a failed socket operation against an endpoint.
// Transport errors are retryable: the supervisor reconnects after one.
type TransportError struct {
	Endpoint string
	Op       string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Endpoint, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ServerError is an -ERR line received from the server.
type ServerError struct {
	Message string
}

func (e *ServerError) Error() string {
	return "server error: " + e.Message
}

// IsAuth reports whether the server rejected the connection credentials.
func (e *ServerError) IsAuth() bool {
	m := strings.ToLower(e.Message)
	return strings.Contains(m, "authorization violation") ||
		strings.Contains(m, "authentication timeout") ||
		strings.Contains(m, "user authentication")
}

// IsPermission reports whether the error is a publish/subscribe permissions
// violation. The connection stays up after one of these.
func (e *ServerError) IsPermission() bool {
	return strings.Contains(strings.ToLower(e.Message), "permissions violation")
}

// IsStale reports whether the server closed the connection as stale.
func (e *ServerError) IsStale() bool {
	return strings.Contains(strings.ToLower(e.Message), "stale connection")
}

// Is lets errors.Is(err, ErrAuthRejected) match authorization failures.
func (e *ServerError) Is(target error) bool {
	switch target {
	case ErrAuthRejected:
		return e.IsAuth()
	case ErrStaleConnection:
		return e.IsStale()
	}
	return false
}

// IsTransport reports whether err originated in the transport layer.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
