package natsline_test

import (
	"fmt"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/natsline/natsline-go"
)

// runNATS starts an embedded nats-server. port -1 picks a free port.
func runNATS(t *testing.T, port int, configure func(*server.Options)) *server.Server {
	t.Helper()
	opts := &server.Options{
		Host:   "127.0.0.1",
		Port:   port,
		NoLog:  true,
		NoSigs: true,
	}
	if configure != nil {
		configure(opts)
	}

	ns, err := server.NewServer(opts)
	require.NoError(t, err)
	go ns.Start()
	if !ns.ReadyForConnections(5 * time.Second) {
		ns.Shutdown()
		t.Fatal("embedded NATS server not ready within timeout")
	}
	t.Cleanup(func() {
		ns.Shutdown()
		ns.WaitForShutdown()
	})
	return ns
}

func integration(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
}

func TestIntegrationPubSub(t *testing.T) {
	integration(t)
	ns := runNATS(t, -1, nil)

	nc, err := natsline.Connect(ns.ClientURL(), natsline.Name("integration"))
	require.NoError(t, err)
	defer nc.Close()

	assert.Equal(t, ns.ID(), nc.ConnectedServerID())
	assert.Positive(t, nc.MaxPayload())

	got := make(chan string, 10)
	_, err = nc.Subscribe("orders.>", func(m *natsline.Msg) {
		got <- m.Subject + ":" + string(m.Data)
	})
	require.NoError(t, err)
	require.NoError(t, nc.Flush())

	require.NoError(t, nc.Publish("orders.eu.new", []byte("1")))
	require.NoError(t, nc.Publish("orders.us.new", []byte("2")))
	require.NoError(t, nc.Publish("invoices.new", []byte("3")))
	require.NoError(t, nc.Flush())

	assert.Equal(t, "orders.eu.new:1", <-got)
	assert.Equal(t, "orders.us.new:2", <-got)
	select {
	case m := <-got:
		t.Fatalf("unexpected message %q", m)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestIntegrationRequestReply(t *testing.T) {
	integration(t)
	ns := runNATS(t, -1, nil)

	for _, mode := range []natsline.Mode{natsline.ModeSharedInbox, natsline.ModeEphemeral} {
		t.Run(mode.String(), func(t *testing.T) {
			responder, err := natsline.Connect(ns.ClientURL())
			require.NoError(t, err)
			defer responder.Close()

			_, err = responder.QueueSubscribe("svc.upper", "workers", func(m *natsline.Msg) {
				_ = m.Respond(append([]byte("re:"), m.Data...))
			})
			require.NoError(t, err)
			require.NoError(t, responder.Flush())

			nc, err := natsline.Connect(ns.ClientURL(), natsline.RequestMode(mode))
			require.NoError(t, err)
			defer nc.Close()

			for i := 0; i < 20; i++ {
				reply, err := nc.Request("svc.upper", []byte("x"), time.Second)
				require.NoError(t, err)
				assert.Equal(t, "re:x", string(reply.Data))
			}

			_, err = nc.Request("svc.nobody", nil, 100*time.Millisecond)
			assert.ErrorIs(t, err, natsline.ErrTimeout)
		})
	}
}

func TestIntegrationTokenAuth(t *testing.T) {
	integration(t)
	ns := runNATS(t, -1, func(o *server.Options) {
		o.Authorization = "s3cret"
	})

	_, err := natsline.Connect(ns.ClientURL(), natsline.Token("wrong"), natsline.Timeout(time.Second))
	assert.ErrorIs(t, err, natsline.ErrAuthRejected)

	nc, err := natsline.Connect(ns.ClientURL(), natsline.Token("s3cret"))
	require.NoError(t, err)
	nc.Close()
}

func TestIntegrationReconnect(t *testing.T) {
	integration(t)
	ns := runNATS(t, -1, nil)
	port := ns.Addr().(*net.TCPAddr).Port

	var disconnects, reconnects atomic.Int32
	nc, err := natsline.Connect(ns.ClientURL(),
		natsline.ReconnectWait(50*time.Millisecond),
		natsline.MaxReconnects(-1),
		natsline.DisconnectHandler(func() { disconnects.Add(1) }),
		natsline.ReconnectHandler(func(string) { reconnects.Add(1) }),
	)
	require.NoError(t, err)
	defer nc.Close()

	got := make(chan []byte, 10)
	_, err = nc.Subscribe("after.restart", func(m *natsline.Msg) { got <- m.Data })
	require.NoError(t, err)
	require.NoError(t, nc.Flush())

	ns.Shutdown()
	ns.WaitForShutdown()
	require.Eventually(t, nc.IsReconnecting, 2*time.Second, 10*time.Millisecond)

	runNATS(t, port, nil)
	require.Eventually(t, nc.IsConnected, 5*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return reconnects.Load() == 1 }, time.Second, 10*time.Millisecond)
	assert.EqualValues(t, 1, disconnects.Load())

	require.NoError(t, nc.Publish("after.restart", []byte("hi")))
	require.NoError(t, nc.Flush())
	select {
	case data := <-got:
		assert.Equal(t, "hi", string(data))
	case <-time.After(2 * time.Second):
		t.Fatal("subscription was not restored after reconnect")
	}
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func TestIntegrationWebSocket(t *testing.T) {
	integration(t)
	wsPort := freePort(t)
	runNATS(t, -1, func(o *server.Options) {
		o.Websocket = server.WebsocketOpts{Host: "127.0.0.1", Port: wsPort, NoTLS: true}
	})

	nc, err := natsline.Connect(fmt.Sprintf("ws://127.0.0.1:%d", wsPort))
	require.NoError(t, err)
	defer nc.Close()

	_, err = nc.Subscribe("ws.echo", func(m *natsline.Msg) {
		_ = m.Respond(m.Data)
	})
	require.NoError(t, err)
	require.NoError(t, nc.Flush())

	reply, err := nc.Request("ws.echo", []byte("over websocket"), time.Second)
	require.NoError(t, err)
	assert.Equal(t, "over websocket", string(reply.Data))
}
