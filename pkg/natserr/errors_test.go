package natserr

import (
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTransportErrorUnwrap(t *testing.T) {
	err := fmt.Errorf("reconnect: %w", &TransportError{Endpoint: "127.0.0.1:4222", Op: "read", Err: io.EOF})

	assert.ErrorIs(t, err, io.EOF)
	assert.True(t, IsTransport(err))
	assert.Contains(t, err.Error(), "read 127.0.0.1:4222")
	assert.False(t, IsTransport(ErrTimeout))
}

func TestServerErrorClassification(t *testing.T) {
	tests := []struct {
		msg        string
		auth       bool
		permission bool
		stale      bool
	}{
		{"Authorization Violation", true, false, false},
		{"Permissions Violation for Publish to \"foo\"", false, true, false},
		{"Stale Connection", false, false, true},
		{"Unknown Protocol Operation", false, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			e := &ServerError{Message: tt.msg}
			assert.Equal(t, tt.auth, e.IsAuth())
			assert.Equal(t, tt.permission, e.IsPermission())
			assert.Equal(t, tt.stale, e.IsStale())
			assert.Equal(t, tt.auth, errors.Is(e, ErrAuthRejected))
			assert.Equal(t, tt.stale, errors.Is(e, ErrStaleConnection))
		})
	}
}
