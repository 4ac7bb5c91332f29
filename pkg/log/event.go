package log

import (
	"time"
)

// MaxLogPayloadSize is the largest payload copied into a log event.
// Longer payloads are truncated.
const MaxLogPayloadSize = 1024

// Event represents a protocol log event captured at any layer.
// CBOR encoding uses integer keys for compactness.
type Event struct {
	// Timestamp when the event occurred (nanosecond precision).
	Timestamp time.Time `cbor:"1,keyasint"`

	// ConnectionID identifies the physical connection (UUID). A reconnect
	// starts a new connection ID.
	ConnectionID string `cbor:"2,keyasint"`

	// Direction indicates message flow.
	Direction Direction `cbor:"3,keyasint"`

	// Layer where the event was captured.
	Layer Layer `cbor:"4,keyasint"`

	// Category classifies the event type.
	Category Category `cbor:"5,keyasint"`

	// Endpoint is the server URL of the connection.
	Endpoint string `cbor:"6,keyasint,omitempty"`

	// ClientName is the connection name announced in CONNECT.
	ClientName string `cbor:"7,keyasint,omitempty"`

	// Type-specific payload (one of these will be set).
	Message     *MessageEvent     `cbor:"10,keyasint,omitempty"`
	StateChange *StateChangeEvent `cbor:"11,keyasint,omitempty"`
	ControlMsg  *ControlMsgEvent  `cbor:"12,keyasint,omitempty"`
	Error       *ErrorEventData   `cbor:"13,keyasint,omitempty"`
}

// Direction indicates the direction of message flow.
type Direction uint8

const (
	// DirectionIn indicates an incoming message.
	DirectionIn Direction = 0
	// DirectionOut indicates an outgoing message.
	DirectionOut Direction = 1
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "IN"
	case DirectionOut:
		return "OUT"
	default:
		return "UNKNOWN"
	}
}

// Layer indicates which part of the client captured the event.
type Layer uint8

const (
	// LayerTransport is the socket layer (dial, TLS, read/write failures).
	LayerTransport Layer = 0
	// LayerProtocol is the decoded text protocol.
	LayerProtocol Layer = 1
	// LayerClient is the client engine (subscriptions, requests, lifecycle).
	LayerClient Layer = 2
)

// String returns the layer name.
func (l Layer) String() string {
	switch l {
	case LayerTransport:
		return "TRANSPORT"
	case LayerProtocol:
		return "PROTOCOL"
	case LayerClient:
		return "CLIENT"
	default:
		return "UNKNOWN"
	}
}

// Category classifies the event type.
type Category uint8

const (
	// CategoryMessage indicates PUB, MSG, SUB or UNSUB.
	CategoryMessage Category = 0
	// CategoryControl indicates a control operation (PING, PONG, INFO, ...).
	CategoryControl Category = 1
	// CategoryState indicates a state change.
	CategoryState Category = 2
	// CategoryError indicates an error event.
	CategoryError Category = 3
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryMessage:
		return "MESSAGE"
	case CategoryControl:
		return "CONTROL"
	case CategoryState:
		return "STATE"
	case CategoryError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// MessageEvent captures a message-carrying protocol operation.
type MessageEvent struct {
	// Op is the protocol operation.
	Op MessageOp `cbor:"1,keyasint"`

	// Subject of the message or subscription.
	Subject string `cbor:"2,keyasint,omitempty"`

	// Reply subject, if any.
	Reply string `cbor:"3,keyasint,omitempty"`

	// Sid is the subscription ID for MSG, SUB and UNSUB.
	Sid uint64 `cbor:"4,keyasint,omitempty"`

	// Queue group for SUB.
	Queue string `cbor:"5,keyasint,omitempty"`

	// Max is the UNSUB auto-unsubscribe count.
	Max int `cbor:"6,keyasint,omitempty"`

	// Size is the full payload size in bytes.
	Size int `cbor:"7,keyasint,omitempty"`

	// Payload is the (possibly truncated) payload.
	Payload []byte `cbor:"8,keyasint,omitempty"`

	// Truncated indicates Payload was cut at MaxLogPayloadSize.
	Truncated bool `cbor:"9,keyasint,omitempty"`
}

// MessageOp identifies a message-carrying operation.
type MessageOp uint8

const (
	MessageOpPub   MessageOp = 0
	MessageOpMsg   MessageOp = 1
	MessageOpSub   MessageOp = 2
	MessageOpUnsub MessageOp = 3
)

// String returns the protocol operation name.
func (m MessageOp) String() string {
	switch m {
	case MessageOpPub:
		return "PUB"
	case MessageOpMsg:
		return "MSG"
	case MessageOpSub:
		return "SUB"
	case MessageOpUnsub:
		return "UNSUB"
	default:
		return "UNKNOWN"
	}
}

// NewMessageEvent builds a MessageEvent, truncating the payload copy.
func NewMessageEvent(op MessageOp, subject, reply string, sid uint64, data []byte) *MessageEvent {
	ev := &MessageEvent{
		Op:      op,
		Subject: subject,
		Reply:   reply,
		Sid:     sid,
		Size:    len(data),
	}
	if len(data) > 0 {
		n := len(data)
		if n > MaxLogPayloadSize {
			n = MaxLogPayloadSize
			ev.Truncated = true
		}
		ev.Payload = append([]byte(nil), data[:n]...)
	}
	return ev
}

// StateChangeEvent captures lifecycle transitions.
type StateChangeEvent struct {
	// Entity being changed.
	Entity StateEntity `cbor:"1,keyasint"`

	// OldState is the previous state (may be empty).
	OldState string `cbor:"2,keyasint,omitempty"`

	// NewState is the new state.
	NewState string `cbor:"3,keyasint"`

	// Reason for the change (if available).
	Reason string `cbor:"4,keyasint,omitempty"`
}

// StateEntity indicates what entity changed state.
type StateEntity uint8

const (
	// StateEntityConnection indicates a connection state change.
	StateEntityConnection StateEntity = 0
	// StateEntitySubscription indicates a subscription was added or removed.
	StateEntitySubscription StateEntity = 1
	// StateEntityRequest indicates a request completed.
	StateEntityRequest StateEntity = 2
)

// String returns the state entity name.
func (s StateEntity) String() string {
	switch s {
	case StateEntityConnection:
		return "CONNECTION"
	case StateEntitySubscription:
		return "SUBSCRIPTION"
	case StateEntityRequest:
		return "REQUEST"
	default:
		return "UNKNOWN"
	}
}

// ControlMsgEvent captures control operations.
type ControlMsgEvent struct {
	// Type of control message.
	Type ControlMsgType `cbor:"1,keyasint"`

	// Detail carries the -ERR text or a summary of INFO/CONNECT.
	Detail string `cbor:"2,keyasint,omitempty"`
}

// ControlMsgType indicates the type of control message.
type ControlMsgType uint8

const (
	ControlMsgPing    ControlMsgType = 0
	ControlMsgPong    ControlMsgType = 1
	ControlMsgInfo    ControlMsgType = 2
	ControlMsgConnect ControlMsgType = 3
	ControlMsgOK      ControlMsgType = 4
	ControlMsgErr     ControlMsgType = 5
)

// String returns the control message type name.
func (c ControlMsgType) String() string {
	switch c {
	case ControlMsgPing:
		return "PING"
	case ControlMsgPong:
		return "PONG"
	case ControlMsgInfo:
		return "INFO"
	case ControlMsgConnect:
		return "CONNECT"
	case ControlMsgOK:
		return "+OK"
	case ControlMsgErr:
		return "-ERR"
	default:
		return "UNKNOWN"
	}
}

// ErrorEventData captures errors at any layer.
type ErrorEventData struct {
	// Layer where the error occurred.
	Layer Layer `cbor:"1,keyasint"`

	// Message is the error message.
	Message string `cbor:"2,keyasint"`

	// Context describes what operation was being performed.
	Context string `cbor:"3,keyasint,omitempty"`
}
