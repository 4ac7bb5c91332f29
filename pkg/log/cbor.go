package log

import (
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
)

// Capture files are a plain concatenation of CBOR items, one per Event.
var (
	eventEnc cbor.EncMode
	eventDec cbor.DecMode
)

func init() {
	var err error

	eventEnc, err = cbor.EncOptions{
		Sort:          cbor.SortCanonical,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
		Time:          cbor.TimeRFC3339Nano,
	}.EncMode()
	if err != nil {
		panic(fmt.Sprintf("log: event encoder mode: %v", err))
	}

	// Older capture files may carry fields this build no longer knows.
	eventDec, err = cbor.DecOptions{
		DupMapKey:         cbor.DupMapKeyQuiet,
		IndefLength:       cbor.IndefLengthAllowed,
		ExtraReturnErrors: cbor.ExtraDecErrorNone,
		MaxArrayElements:  1 << 16,
		MaxMapPairs:       1 << 10,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("log: event decoder mode: %v", err))
	}
}

// EncodeEvent returns the canonical CBOR form of event.
func EncodeEvent(event Event) ([]byte, error) {
	return eventEnc.Marshal(event)
}

// DecodeEvent parses one CBOR-encoded event.
func DecodeEvent(data []byte) (Event, error) {
	var event Event
	if err := eventDec.Unmarshal(data, &event); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	return event, nil
}

// NewEncoder returns a streaming event encoder writing to w.
func NewEncoder(w io.Writer) *cbor.Encoder {
	return eventEnc.NewEncoder(w)
}

// NewDecoder returns a streaming event decoder reading from r.
func NewDecoder(r io.Reader) *cbor.Decoder {
	return eventDec.NewDecoder(r)
}
