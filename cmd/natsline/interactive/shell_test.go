package interactive

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/natsline/natsline-go"
	"github.com/natsline/natsline-go/internal/testserver"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newTestShell(t *testing.T) (*Shell, *syncBuffer, *testserver.Server) {
	t.Helper()
	srv := testserver.Start(t, testserver.Options{})
	nc, err := natsline.Connect(srv.URL(), natsline.Timeout(time.Second))
	require.NoError(t, err)
	t.Cleanup(nc.Close)

	out := &syncBuffer{}
	return newShell(nc, out, 200*time.Millisecond), out, srv
}

func TestShellSubPub(t *testing.T) {
	sh, out, _ := newTestShell(t)

	assert.True(t, sh.Exec("sub greet.*"))
	assert.Contains(t, out.String(), "Subscribed to greet.* (sid 1)")

	assert.True(t, sh.Exec("pub greet.joe hello there"))
	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "[sid 1] greet.joe: hello there")
	}, time.Second, 5*time.Millisecond)

	assert.True(t, sh.Exec("subs"))
	assert.Contains(t, out.String(), "greet.*")

	assert.True(t, sh.Exec("unsub 1"))
	assert.True(t, sh.Exec("subs"))
	assert.Contains(t, out.String(), "No subscriptions")
}

func TestShellRequest(t *testing.T) {
	sh, out, _ := newTestShell(t)

	_, err := sh.nc.Subscribe("svc.echo", func(m *natsline.Msg) {
		_ = m.Respond(append([]byte("echo: "), m.Data...))
	})
	require.NoError(t, err)
	require.NoError(t, sh.nc.Flush())

	sh.Exec("req svc.echo hi")
	assert.Contains(t, out.String(), "echo: hi")

	sh.Exec("req svc.none")
	assert.Contains(t, out.String(), "Error:")
}

func TestShellCommands(t *testing.T) {
	sh, out, _ := newTestShell(t)

	assert.True(t, sh.Exec(""))
	assert.True(t, sh.Exec("status"))
	assert.Contains(t, out.String(), "Status:     CONNECTED")

	assert.True(t, sh.Exec("flush"))
	assert.Contains(t, out.String(), "OK")

	assert.True(t, sh.Exec("bogus"))
	assert.Contains(t, out.String(), "Unknown command: bogus")

	assert.True(t, sh.Exec("unsub 42"))
	assert.Contains(t, out.String(), "No subscription with sid 42")

	assert.True(t, sh.Exec("pub"))
	assert.Contains(t, out.String(), "Usage: pub")

	assert.False(t, sh.Exec("quit"))
}
