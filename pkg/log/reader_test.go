package log

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeMixedLog(t *testing.T) (string, time.Time) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mixed.nlog")
	l, err := NewFileLogger(path)
	require.NoError(t, err)
	defer l.Close()

	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	l.Log(Event{Timestamp: base, ConnectionID: "a", Direction: DirectionOut, Layer: LayerProtocol, Category: CategoryControl,
		ControlMsg: &ControlMsgEvent{Type: ControlMsgConnect}})
	l.Log(Event{Timestamp: base.Add(time.Second), ConnectionID: "a", Direction: DirectionOut, Layer: LayerProtocol, Category: CategoryMessage,
		Message: NewMessageEvent(MessageOpPub, "orders.eu", "", 0, []byte("1"))})
	l.Log(Event{Timestamp: base.Add(2 * time.Second), ConnectionID: "a", Direction: DirectionIn, Layer: LayerProtocol, Category: CategoryMessage,
		Message: NewMessageEvent(MessageOpMsg, "orders.us", "", 1, []byte("2"))})
	l.Log(Event{Timestamp: base.Add(3 * time.Second), ConnectionID: "b", Direction: DirectionIn, Layer: LayerClient, Category: CategoryState,
		StateChange: &StateChangeEvent{Entity: StateEntityConnection, OldState: "CONNECTED", NewState: "RECONNECTING"}})
	l.Log(Event{Timestamp: base.Add(4 * time.Second), ConnectionID: "b", Direction: DirectionIn, Layer: LayerTransport, Category: CategoryError,
		Error: &ErrorEventData{Layer: LayerTransport, Message: "EOF", Context: "read"}})
	return path, base
}

func TestReaderFilters(t *testing.T) {
	path, base := writeMixedLog(t)

	in := DirectionIn
	pub := MessageOpPub
	msgs := CategoryMessage
	transport := LayerTransport
	start := base.Add(2 * time.Second)
	end := base.Add(4 * time.Second)

	tests := []struct {
		name   string
		filter Filter
		want   int
	}{
		{"all", Filter{}, 5},
		{"connection", Filter{ConnectionID: "b"}, 2},
		{"op", Filter{Op: &pub}, 1},
		{"sid", Filter{Sid: 1}, 1},
		{"direction", Filter{Direction: &in}, 3},
		{"category", Filter{Category: &msgs}, 2},
		{"layer", Filter{Layer: &transport}, 1},
		{"time window", Filter{TimeStart: &start, TimeEnd: &end}, 2},
		{"subject wildcard", Filter{Subject: "orders.*"}, 2},
		{"subject literal", Filter{Subject: "orders.us"}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Len(t, readAll(t, path, tt.filter), tt.want)
		})
	}
}

func TestNewReaderMissingFile(t *testing.T) {
	_, err := NewReader(filepath.Join(t.TempDir(), "none.nlog"))
	assert.Error(t, err)
}

func TestReaderConnectionPrefix(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prefix.nlog")
	l, err := NewFileLogger(path)
	require.NoError(t, err)
	l.Log(Event{ConnectionID: "abc12345-0000", Category: CategoryControl, ControlMsg: &ControlMsgEvent{Type: ControlMsgPing}})
	l.Log(Event{ConnectionID: "def67890-0000", Category: CategoryControl, ControlMsg: &ControlMsgEvent{Type: ControlMsgPong}})
	require.NoError(t, l.Close())

	got := readAll(t, path, Filter{ConnectionID: "abc12345"})
	require.Len(t, got, 1)
	assert.Equal(t, ControlMsgPing, got[0].ControlMsg.Type)
}

func TestReaderAll(t *testing.T) {
	path, _ := writeMixedLog(t)
	r, err := NewReader(path)
	require.NoError(t, err)
	defer r.Close()

	n := 0
	for ev, err := range r.All() {
		require.NoError(t, err)
		assert.NotEmpty(t, ev.ConnectionID)
		n++
		if n == 3 {
			break
		}
	}
	assert.Equal(t, 3, n)

	rest := 0
	for range r.All() {
		rest++
	}
	assert.Equal(t, 2, rest)
}

func TestRotatedReaderSpansFiles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rot.nlog")
	l, err := NewFileLoggerWithOptions(path, FileOptions{MaxBytes: 512})
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		l.Log(testEvent(i))
	}
	require.NoError(t, l.Close())

	want := len(readAll(t, path+".1", Filter{})) + len(readAll(t, path, Filter{}))

	r, err := NewRotatedReader(path, Filter{})
	require.NoError(t, err)
	defer r.Close()

	var last time.Time
	got := 0
	for ev, err := range r.All() {
		require.NoError(t, err)
		assert.False(t, ev.Timestamp.Before(last), "events are read oldest first")
		last = ev.Timestamp
		got++
	}
	assert.Equal(t, want, got)
}

func TestRotatedReaderWithoutPredecessor(t *testing.T) {
	path, _ := writeMixedLog(t)
	r, err := NewRotatedReader(path, Filter{})
	require.NoError(t, err)
	defer r.Close()

	n := 0
	for range r.All() {
		n++
	}
	assert.Equal(t, 5, n)
}
