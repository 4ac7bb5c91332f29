package natsline

import "github.com/natsline/natsline-go/pkg/natserr"

// Errors returned by the client. Compare with errors.Is.
var (
	ErrTimeout              = natserr.ErrTimeout
	ErrConnectionClosed     = natserr.ErrConnectionClosed
	ErrAuthRejected         = natserr.ErrAuthRejected
	ErrStaleConnection      = natserr.ErrStaleConnection
	ErrNoServers            = natserr.ErrNoServers
	ErrBadSubject           = natserr.ErrBadSubject
	ErrBadQueue             = natserr.ErrBadQueue
	ErrBadSubscription      = natserr.ErrBadSubscription
	ErrSlowConsumer         = natserr.ErrSlowConsumer
	ErrMaxPayload           = natserr.ErrMaxPayload
	ErrInvalidArg           = natserr.ErrInvalidArg
	ErrProtocol             = natserr.ErrProtocol
	ErrReconnectBufExceeded = natserr.ErrReconnectBufExceeded
)

// TransportError and ServerError are the typed errors; use errors.As.
type (
	TransportError = natserr.TransportError
	ServerError    = natserr.ServerError
)
