package log

import (
	"errors"
	"io"
	"iter"
	"os"
	"strings"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/natsline/natsline-go/pkg/wire"
)

// Filter selects events from a capture file. Zero fields match everything.
type Filter struct {
	// ConnectionID matches connection IDs by prefix, so the eight-character
	// form printed by the viewer works.
	ConnectionID string

	Direction *Direction
	Layer     *Layer
	Category  *Category
	Op        *MessageOp

	// TimeStart is inclusive, TimeEnd exclusive.
	TimeStart *time.Time
	TimeEnd   *time.Time

	// Subject matches message events by subject; wildcards in the filter
	// are honoured.
	Subject string

	// Sid matches message events for one subscription.
	Sid uint64
}

func (f *Filter) matches(event Event) bool {
	switch {
	case f.ConnectionID != "" && !strings.HasPrefix(event.ConnectionID, f.ConnectionID):
		return false
	case f.Direction != nil && event.Direction != *f.Direction:
		return false
	case f.Layer != nil && event.Layer != *f.Layer:
		return false
	case f.Category != nil && event.Category != *f.Category:
		return false
	case f.TimeStart != nil && event.Timestamp.Before(*f.TimeStart):
		return false
	case f.TimeEnd != nil && !event.Timestamp.Before(*f.TimeEnd):
		return false
	}

	if f.Op == nil && f.Subject == "" && f.Sid == 0 {
		return true
	}
	m := event.Message
	if m == nil {
		return false
	}
	if f.Op != nil && m.Op != *f.Op {
		return false
	}
	if f.Subject != "" && !wire.MatchSubject(f.Subject, m.Subject) {
		return false
	}
	return f.Sid == 0 || m.Sid == f.Sid
}

// Reader streams events from one or more capture files in order.
type Reader struct {
	paths   []string
	file    *os.File
	decoder *cbor.Decoder
	filter  Filter
}

// NewReader opens the capture file at path.
func NewReader(path string) (*Reader, error) {
	return NewFilteredReader(path, Filter{})
}

// NewFilteredReader opens the capture file at path and yields only events
// matching filter.
func NewFilteredReader(path string, filter Filter) (*Reader, error) {
	r := &Reader{paths: []string{path}, filter: filter}
	if err := r.openNext(); err != nil {
		return nil, err
	}
	return r, nil
}

// NewRotatedReader reads the rotated predecessor (path + ".1") when it
// exists, then path itself.
func NewRotatedReader(path string, filter Filter) (*Reader, error) {
	r := &Reader{filter: filter}
	if _, err := os.Stat(path + ".1"); err == nil {
		r.paths = append(r.paths, path+".1")
	}
	r.paths = append(r.paths, path)
	if err := r.openNext(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Reader) openNext() error {
	if r.file != nil {
		_ = r.file.Close()
		r.file = nil
	}
	if len(r.paths) == 0 {
		return io.EOF
	}
	f, err := os.Open(r.paths[0])
	if err != nil {
		return err
	}
	r.paths = r.paths[1:]
	r.file = f
	r.decoder = NewDecoder(f)
	return nil
}

// Next returns the next matching event, or io.EOF after the last one.
func (r *Reader) Next() (Event, error) {
	for r.file != nil {
		var event Event
		err := r.decoder.Decode(&event)
		if errors.Is(err, io.EOF) {
			if err := r.openNext(); err != nil {
				return Event{}, err
			}
			continue
		}
		if err != nil {
			return Event{}, err
		}
		if r.filter.matches(event) {
			return event, nil
		}
	}
	return Event{}, io.EOF
}

// All iterates over the remaining matching events. Iteration stops at the
// first decode error, which is yielded with a zero Event.
func (r *Reader) All() iter.Seq2[Event, error] {
	return func(yield func(Event, error) bool) {
		for {
			event, err := r.Next()
			if errors.Is(err, io.EOF) {
				return
			}
			if !yield(event, err) || err != nil {
				return
			}
		}
	}
}

// Close closes the current file.
func (r *Reader) Close() error {
	r.paths = nil
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	return err
}
