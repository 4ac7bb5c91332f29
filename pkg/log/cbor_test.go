package log

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestEncodeDecodeMessageEvent(t *testing.T) {
	ts := time.Date(2025, 3, 1, 12, 0, 0, 123456789, time.UTC)
	event := Event{
		Timestamp:    ts,
		ConnectionID: "6f1c2f5e-4a55-4d2b-9a5e-000000000001",
		Direction:    DirectionOut,
		Layer:        LayerProtocol,
		Category:     CategoryMessage,
		Endpoint:     "nats://127.0.0.1:4222",
		Message:      NewMessageEvent(MessageOpPub, "orders.new", "_INBOX.abc", 0, []byte("hello")),
	}

	data, err := EncodeEvent(event)
	if err != nil {
		t.Fatalf("EncodeEvent failed: %v", err)
	}

	decoded, err := DecodeEvent(data)
	if err != nil {
		t.Fatalf("DecodeEvent failed: %v", err)
	}

	if !decoded.Timestamp.Equal(ts) {
		t.Errorf("Timestamp: got %v, want %v (nanoseconds must survive)", decoded.Timestamp, ts)
	}
	if decoded.Endpoint != event.Endpoint {
		t.Errorf("Endpoint: got %q, want %q", decoded.Endpoint, event.Endpoint)
	}
	if decoded.Message == nil {
		t.Fatal("Message is nil")
	}
	if decoded.Message.Op != MessageOpPub || decoded.Message.Subject != "orders.new" || decoded.Message.Reply != "_INBOX.abc" {
		t.Errorf("unexpected message %+v", decoded.Message)
	}
	if !bytes.Equal(decoded.Message.Payload, []byte("hello")) || decoded.Message.Size != 5 {
		t.Errorf("payload not preserved: %+v", decoded.Message)
	}
	if decoded.StateChange != nil || decoded.ControlMsg != nil || decoded.Error != nil {
		t.Error("unset payloads must stay nil")
	}
}

func TestNewMessageEventTruncates(t *testing.T) {
	data := []byte(strings.Repeat("x", MaxLogPayloadSize+10))
	ev := NewMessageEvent(MessageOpMsg, "big", "", 4, data)

	if !ev.Truncated {
		t.Error("expected Truncated")
	}
	if len(ev.Payload) != MaxLogPayloadSize {
		t.Errorf("payload len = %d, want %d", len(ev.Payload), MaxLogPayloadSize)
	}
	if ev.Size != len(data) {
		t.Errorf("Size = %d, want %d", ev.Size, len(data))
	}

	data[0] = 'y'
	if ev.Payload[0] != 'x' {
		t.Error("payload must be copied")
	}
}

func TestEncodeDeterministic(t *testing.T) {
	event := Event{
		Timestamp:   time.Unix(0, 42).UTC(),
		Category:    CategoryState,
		StateChange: &StateChangeEvent{Entity: StateEntityConnection, OldState: "CONNECTED", NewState: "RECONNECTING", Reason: "EOF"},
	}

	a, err := EncodeEvent(event)
	if err != nil {
		t.Fatal(err)
	}
	b, err := EncodeEvent(event)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(a, b) {
		t.Error("encoding is not deterministic")
	}
}

func TestEnumStrings(t *testing.T) {
	tests := []struct {
		got, want string
	}{
		{DirectionIn.String(), "IN"},
		{Direction(9).String(), "UNKNOWN"},
		{LayerProtocol.String(), "PROTOCOL"},
		{CategoryControl.String(), "CONTROL"},
		{MessageOpUnsub.String(), "UNSUB"},
		{StateEntityRequest.String(), "REQUEST"},
		{ControlMsgErr.String(), "-ERR"},
		{ControlMsgType(42).String(), "UNKNOWN"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("got %q, want %q", tt.got, tt.want)
		}
	}
}
