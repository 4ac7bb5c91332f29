package connection

import (
	"context"
	"errors"
	"net"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nats-io/nkeys"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/natsline/natsline-go/internal/testserver"
	"github.com/natsline/natsline-go/pkg/auth"
	"github.com/natsline/natsline-go/pkg/log"
	"github.com/natsline/natsline-go/pkg/metrics"
	"github.com/natsline/natsline-go/pkg/natserr"
	"github.com/natsline/natsline-go/pkg/transport"
	"github.com/natsline/natsline-go/pkg/wire"
)

const waitFor = 5 * time.Second

type hookRecorder struct {
	disconnects atomic.Int32
	closes      atomic.Int32
	reconnects  atomic.Int32

	mu         sync.Mutex
	errs       []error
	discovered []string
	reconnURL  string
}

func (r *hookRecorder) hooks() Hooks {
	return Hooks{
		OnDisconnect: func() { r.disconnects.Add(1) },
		OnClose:      func() { r.closes.Add(1) },
		OnReconnect: func(url string) {
			r.mu.Lock()
			r.reconnURL = url
			r.mu.Unlock()
			r.reconnects.Add(1)
		},
		OnError: func(err error) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.errs = append(r.errs, err)
		},
		OnDiscoveredServers: func(urls []string) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.discovered = append(r.discovered, urls...)
		},
	}
}

func (r *hookRecorder) errors() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.errs)
}

func (r *hookRecorder) hasError(target error) bool {
	for _, err := range r.errors() {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

type testHandler struct {
	mu     sync.Mutex
	msgs   []*wire.Msg
	resub  string
	closed atomic.Int32
}

func (h *testHandler) HandleMsg(m *wire.Msg) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.msgs = append(h.msgs, m)
}

func (h *testHandler) Resubscribe(dst []byte) []byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append(dst, h.resub...)
}

func (h *testHandler) ConnectionClosed() { h.closed.Add(1) }

func (h *testHandler) received() []*wire.Msg {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Clone(h.msgs)
}

type dropCounter struct {
	metrics.NopMetrics
	dropped atomic.Int32
}

func (d *dropCounter) RecordBufferDropped(int) { d.dropped.Add(1) }

type captureLogger struct {
	mu     sync.Mutex
	events []log.Event
}

func (c *captureLogger) Log(e log.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

func (c *captureLogger) snapshot() []log.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.events)
}

func testConfig(servers []string, rec *hookRecorder) Config {
	cfg := DefaultConfig()
	cfg.Servers = servers
	cfg.NoRandomize = true
	cfg.ReconnectWait = 20 * time.Millisecond
	cfg.ConnectTimeout = time.Second
	if rec != nil {
		cfg.Hooks = rec.hooks()
	}
	return cfg
}

func connect(t *testing.T, cfg Config, h Handler) *Supervisor {
	t.Helper()
	s, err := New(cfg)
	require.NoError(t, err)
	if h != nil {
		s.SetHandler(h)
	}
	require.NoError(t, s.Connect(context.Background()))
	t.Cleanup(s.Close)
	return s
}

// opsAfter returns the lines recorded after the n-th CONNECT (1-based).
func opsAfter(ops []string, n int) []string {
	seen := 0
	for i, op := range ops {
		if strings.HasPrefix(op, "CONNECT ") {
			seen++
			if seen == n {
				return ops[i+1:]
			}
		}
	}
	return nil
}

func countPrefix(ops []string, prefix string) int {
	n := 0
	for _, op := range ops {
		if strings.HasPrefix(op, prefix) {
			n++
		}
	}
	return n
}

func TestSupervisorConnectAndClose(t *testing.T) {
	srv := testserver.Start(t, testserver.Options{ServerID: "S1"})
	rec := &hookRecorder{}
	h := &testHandler{}

	s, err := New(testConfig([]string{srv.URL()}, rec))
	require.NoError(t, err)
	s.SetHandler(h)
	assert.Equal(t, StateDisconnected, s.State())

	require.NoError(t, s.Connect(context.Background()))
	assert.Equal(t, StateConnected, s.State())
	assert.Equal(t, srv.URL(), s.ConnectedURL())
	assert.Equal(t, "S1", s.ConnectedServerID())
	assert.Equal(t, wire.DefaultMaxPayload, s.MaxPayload())
	assert.ErrorIs(t, s.Connect(context.Background()), ErrAlreadyConnected)

	s.Close()
	s.Close()

	assert.Equal(t, StateClosed, s.State())
	assert.Empty(t, s.ConnectedURL())
	assert.Equal(t, int32(1), h.closed.Load())
	assert.Equal(t, int32(1), rec.closes.Load())
	assert.Equal(t, int32(1), rec.disconnects.Load())
	assert.Empty(t, rec.errors())
	assert.ErrorIs(t, s.Connect(context.Background()), natserr.ErrConnectionClosed)
}

func TestSupervisorConnectAnnouncesClient(t *testing.T) {
	srv := testserver.Start(t, testserver.Options{})
	cfg := testConfig([]string{srv.URL()}, nil)
	cfg.Name = "orders-api"
	cfg.NoEcho = true
	connect(t, cfg, nil)

	connects := srv.Connects()
	require.Len(t, connects, 1)
	assert.Equal(t, "orders-api", connects[0].Name)
	assert.False(t, connects[0].Echo)
	assert.Equal(t, wire.ClientLang, connects[0].Lang)
	assert.Equal(t, wire.ProtocolVersion, connects[0].Protocol)
}

func TestSupervisorConnectNoServers(t *testing.T) {
	// Grab a free port and release it so nothing listens there.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	s, err := New(testConfig([]string{"nats://" + addr}, nil))
	require.NoError(t, err)

	err = s.Connect(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, natserr.ErrNoServers)
	assert.True(t, natserr.IsTransport(err))
	assert.Equal(t, StateClosed, s.State())
}

func TestSupervisorConnectSkipsDeadEndpoint(t *testing.T) {
	srv := testserver.Start(t, testserver.Options{})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	dead := "nats://" + ln.Addr().String()
	require.NoError(t, ln.Close())

	s := connect(t, testConfig([]string{dead, srv.URL()}, nil), nil)
	assert.Equal(t, srv.URL(), s.ConnectedURL())
}

func TestSupervisorHandshakeTimeoutMovesOn(t *testing.T) {
	srv := testserver.Start(t, testserver.Options{})

	// A listener that accepts but never sends INFO.
	silent, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer silent.Close()
	go func() {
		for {
			c, err := silent.Accept()
			if err != nil {
				return
			}
			defer c.Close()
		}
	}()

	cfg := testConfig([]string{"nats://" + silent.Addr().String(), srv.URL()}, nil)
	cfg.ConnectTimeout = 100 * time.Millisecond

	s := connect(t, cfg, nil)
	assert.Equal(t, srv.URL(), s.ConnectedURL())
}

func TestSupervisorAuth(t *testing.T) {
	kp, err := nkeys.CreateUser()
	require.NoError(t, err)
	seed, err := kp.Seed()
	require.NoError(t, err)
	pub, err := kp.PublicKey()
	require.NoError(t, err)
	signer, err := auth.NewNKeySigner(seed)
	require.NoError(t, err)

	other, err := nkeys.CreateUser()
	require.NoError(t, err)
	otherSeed, err := other.Seed()
	require.NoError(t, err)
	otherSigner, err := auth.NewNKeySigner(otherSeed)
	require.NoError(t, err)

	tests := []struct {
		name   string
		opts   testserver.Options
		mutate func(cfg *Config, url string) string
		ok     bool
	}{
		{
			name:   "token in config",
			opts:   testserver.Options{Token: "s3cr3t"},
			mutate: func(cfg *Config, url string) string { cfg.Token = "s3cr3t"; return url },
			ok:     true,
		},
		{
			name:   "token in url",
			opts:   testserver.Options{Token: "s3cr3t"},
			mutate: func(cfg *Config, url string) string { return strings.Replace(url, "nats://", "nats://s3cr3t@", 1) },
			ok:     true,
		},
		{
			name:   "user and password in url",
			opts:   testserver.Options{User: "derek", Password: "pass"},
			mutate: func(cfg *Config, url string) string { return strings.Replace(url, "nats://", "nats://derek:pass@", 1) },
			ok:     true,
		},
		{
			name:   "nkey",
			opts:   testserver.Options{NKeys: []string{pub}},
			mutate: func(cfg *Config, url string) string { cfg.Signer = signer; return url },
			ok:     true,
		},
		{
			name:   "wrong token",
			opts:   testserver.Options{Token: "s3cr3t"},
			mutate: func(cfg *Config, url string) string { cfg.Token = "nope"; return url },
		},
		{
			name:   "unknown nkey",
			opts:   testserver.Options{NKeys: []string{pub}},
			mutate: func(cfg *Config, url string) string { cfg.Signer = otherSigner; return url },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := testserver.Start(t, tt.opts)
			cfg := testConfig(nil, nil)
			url := tt.mutate(&cfg, srv.URL())
			cfg.Servers = []string{url}

			s, err := New(cfg)
			require.NoError(t, err)
			defer s.Close()

			err = s.Connect(context.Background())
			if tt.ok {
				require.NoError(t, err)
				assert.Equal(t, StateConnected, s.State())
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, natserr.ErrAuthRejected)
			assert.Equal(t, StateClosed, s.State())
		})
	}
}

func TestSupervisorAuthRejectionStopsWalk(t *testing.T) {
	strict := testserver.Start(t, testserver.Options{Token: "x"})
	open := testserver.Start(t, testserver.Options{})

	s, err := New(testConfig([]string{strict.URL(), open.URL()}, nil))
	require.NoError(t, err)

	err = s.Connect(context.Background())
	assert.ErrorIs(t, err, natserr.ErrAuthRejected)
	assert.Equal(t, 0, open.NumClients())
}

func TestSupervisorPublishFlush(t *testing.T) {
	srv := testserver.Start(t, testserver.Options{})
	h := &testHandler{}
	s := connect(t, testConfig([]string{srv.URL()}, nil), h)

	require.NoError(t, s.SendSubscribe(1, "greet.*", ""))
	for _, word := range []string{"hello", "world"} {
		require.NoError(t, s.Publish("greet.en", "_INBOX.x", []byte(word)))
	}
	require.NoError(t, s.Flush(time.Second))

	ops := opsAfter(srv.Ops(), 1)
	assert.Equal(t, []string{"PING", "SUB greet.* 1", "PUB greet.en _INBOX.x 5", "PUB greet.en _INBOX.x 5", "PING"}, ops)

	require.Eventually(t, func() bool { return len(h.received()) == 2 }, waitFor, 5*time.Millisecond)
	msgs := h.received()
	assert.Equal(t, "hello", string(msgs[0].Data))
	assert.Equal(t, "world", string(msgs[1].Data))
	assert.Equal(t, uint64(1), msgs[0].Sid)
	assert.Equal(t, "_INBOX.x", msgs[0].Reply)

	st := s.Stats()
	assert.Equal(t, uint64(2), st.OutMsgs)
	assert.Equal(t, uint64(10), st.OutBytes)
	assert.Equal(t, uint64(2), st.InMsgs)
}

func TestSupervisorPublishValidation(t *testing.T) {
	srv := testserver.Start(t, testserver.Options{MaxPayload: 8})
	s := connect(t, testConfig([]string{srv.URL()}, nil), nil)

	assert.ErrorIs(t, s.Publish("", "", nil), natserr.ErrBadSubject)
	assert.ErrorIs(t, s.Publish("foo.*", "", nil), natserr.ErrBadSubject)
	assert.ErrorIs(t, s.Publish("foo", "bad reply", nil), natserr.ErrBadSubject)
	assert.ErrorIs(t, s.Publish("foo", "", []byte("123456789")), natserr.ErrMaxPayload)
	assert.NoError(t, s.Publish("foo", "", []byte("12345678")))
	assert.ErrorIs(t, s.Flush(0), natserr.ErrInvalidArg)
}

func TestSupervisorAfterClose(t *testing.T) {
	srv := testserver.Start(t, testserver.Options{})
	s := connect(t, testConfig([]string{srv.URL()}, nil), nil)
	s.Close()

	assert.NoError(t, s.Publish("foo", "", []byte("late")), "publish after close is a no-op")
	assert.ErrorIs(t, s.Flush(time.Second), natserr.ErrConnectionClosed)
	assert.ErrorIs(t, s.SendSubscribe(1, "foo", ""), natserr.ErrConnectionClosed)
	assert.ErrorIs(t, s.SendUnsubscribe(1, 0), natserr.ErrConnectionClosed)
}

func TestSupervisorFlushTimeout(t *testing.T) {
	srv := testserver.Start(t, testserver.Options{})
	s := connect(t, testConfig([]string{srv.URL()}, nil), nil)

	srv.SetPongs(false)
	start := time.Now()
	err := s.Flush(100 * time.Millisecond)
	elapsed := time.Since(start)

	assert.ErrorIs(t, err, natserr.ErrTimeout)
	assert.GreaterOrEqual(t, elapsed, 100*time.Millisecond)
	assert.Less(t, elapsed, time.Second)
	assert.Equal(t, StateConnected, s.State())
}

func TestSupervisorFlushFailsOnClose(t *testing.T) {
	srv := testserver.Start(t, testserver.Options{})
	s := connect(t, testConfig([]string{srv.URL()}, nil), nil)
	srv.SetPongs(false)

	done := make(chan error, 1)
	go func() { done <- s.Flush(waitFor) }()

	time.Sleep(50 * time.Millisecond)
	s.Close()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, natserr.ErrConnectionClosed)
	case <-time.After(waitFor):
		t.Fatal("flush did not return after close")
	}
}

func TestSupervisorReconnectReplaysSubscriptions(t *testing.T) {
	srv := testserver.Start(t, testserver.Options{})
	rec := &hookRecorder{}
	h := &testHandler{resub: "SUB foo 1\r\nSUB bar q 2\r\nUNSUB 2 5\r\n"}
	s := connect(t, testConfig([]string{srv.URL()}, rec), h)

	require.NoError(t, s.SendSubscribe(1, "foo", ""))
	require.NoError(t, s.Flush(time.Second))

	srv.DropClients()

	require.Eventually(t, func() bool { return rec.reconnects.Load() == 1 }, waitFor, 5*time.Millisecond)
	assert.Equal(t, StateConnected, s.State())
	assert.Equal(t, int32(1), rec.disconnects.Load())
	require.Len(t, rec.errors(), 1)
	assert.True(t, natserr.IsTransport(rec.errors()[0]))
	rec.mu.Lock()
	assert.Equal(t, srv.URL(), rec.reconnURL)
	rec.mu.Unlock()

	require.NoError(t, s.Flush(time.Second))
	ops := opsAfter(srv.Ops(), 2)
	require.GreaterOrEqual(t, len(ops), 4)
	assert.Equal(t, []string{"PING", "SUB foo 1", "SUB bar q 2", "UNSUB 2 5"}, ops[:4])
	assert.Equal(t, uint64(1), s.Stats().Reconnects)
}

func TestSupervisorPendingBufferOnReconnect(t *testing.T) {
	srv := testserver.Start(t, testserver.Options{})
	rec := &hookRecorder{}
	drops := &dropCounter{}

	frame := len(wire.AppendPub(nil, "foo", "", []byte("hello")))
	cfg := testConfig([]string{srv.URL()}, rec)
	cfg.MaxReconnectAttempts = -1
	cfg.ReconnectBufSize = 3 * frame
	cfg.Metrics = drops
	h := &testHandler{resub: "SUB foo 1\r\n"}
	s := connect(t, cfg, h)

	srv.Shutdown()
	require.Eventually(t, func() bool { return s.State() == StateReconnecting }, waitFor, 5*time.Millisecond)

	for i := 0; i < 5; i++ {
		require.NoError(t, s.Publish("foo", "", []byte("hello")), "buffer overflow must not raise")
	}
	assert.Equal(t, int32(2), drops.dropped.Load())

	// A flush issued while reconnecting completes once the link is back.
	flushed := make(chan error, 1)
	go func() { flushed <- s.Flush(waitFor) }()

	require.NoError(t, srv.Restart())
	require.Eventually(t, func() bool { return rec.reconnects.Load() == 1 }, waitFor, 5*time.Millisecond)
	require.NoError(t, <-flushed)

	ops := opsAfter(srv.Ops(), 2)
	subAt := slices.Index(ops, "SUB foo 1")
	require.GreaterOrEqual(t, subAt, 0)
	assert.Equal(t, 3, countPrefix(ops, "PUB foo 5"))
	for i, op := range ops {
		if strings.HasPrefix(op, "PUB") {
			assert.Greater(t, i, subAt, "subscriptions are replayed before buffered publishes")
		}
	}
}

func TestSupervisorBufferBlockWaitsForReconnect(t *testing.T) {
	srv := testserver.Start(t, testserver.Options{})
	rec := &hookRecorder{}

	frame := len(wire.AppendPub(nil, "foo", "", []byte("hello")))
	cfg := testConfig([]string{srv.URL()}, rec)
	cfg.MaxReconnectAttempts = -1
	cfg.ReconnectBufSize = frame
	cfg.BufferPolicy = BufferBlock
	s := connect(t, cfg, nil)

	srv.Shutdown()
	require.Eventually(t, func() bool { return s.State() == StateReconnecting }, waitFor, 5*time.Millisecond)

	require.NoError(t, s.Publish("foo", "", []byte("hello")))

	published := make(chan error, 1)
	go func() { published <- s.Publish("foo", "", []byte("hello")) }()

	select {
	case <-published:
		t.Fatal("publish should block while the buffer is full")
	case <-time.After(100 * time.Millisecond):
	}

	require.NoError(t, srv.Restart())
	select {
	case err := <-published:
		assert.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("blocked publish was not released by reconnect")
	}
}

func TestSupervisorReconnectExhausted(t *testing.T) {
	srv := testserver.Start(t, testserver.Options{})
	rec := &hookRecorder{}
	h := &testHandler{}

	cfg := testConfig([]string{srv.URL()}, rec)
	cfg.MaxReconnectAttempts = 2
	s := connect(t, cfg, h)

	srv.Shutdown()

	require.Eventually(t, func() bool { return s.State() == StateClosed }, waitFor, 5*time.Millisecond)
	require.Eventually(t, func() bool { return rec.closes.Load() == 1 }, waitFor, 5*time.Millisecond)
	assert.Equal(t, int32(1), rec.disconnects.Load())
	assert.Equal(t, int32(0), rec.reconnects.Load())
	assert.Equal(t, int32(1), h.closed.Load())
}

func TestSupervisorNoReconnect(t *testing.T) {
	srv := testserver.Start(t, testserver.Options{})
	rec := &hookRecorder{}

	cfg := testConfig([]string{srv.URL()}, rec)
	cfg.AllowReconnect = false
	s := connect(t, cfg, nil)

	srv.DropClients()

	require.Eventually(t, func() bool { return rec.closes.Load() == 1 }, waitFor, 5*time.Millisecond)
	assert.Equal(t, StateClosed, s.State())
	assert.Equal(t, int32(1), rec.disconnects.Load())
	assert.Len(t, rec.errors(), 1)
	assert.True(t, natserr.IsTransport(rec.errors()[0]))
}

func TestSupervisorStaleConnection(t *testing.T) {
	srv := testserver.Start(t, testserver.Options{})
	rec := &hookRecorder{}

	cfg := testConfig([]string{srv.URL()}, rec)
	cfg.PingInterval = 30 * time.Millisecond
	cfg.MaxPingsOutstanding = 1
	cfg.MaxReconnectAttempts = -1
	connect(t, cfg, nil)

	srv.SetPongs(false)

	require.Eventually(t, func() bool { return rec.hasError(natserr.ErrStaleConnection) }, waitFor, 5*time.Millisecond)
	require.Eventually(t, func() bool { return rec.reconnects.Load() >= 1 }, waitFor, 5*time.Millisecond)
	assert.GreaterOrEqual(t, rec.disconnects.Load(), int32(1))
}

func TestSupervisorServerErrors(t *testing.T) {
	srv := testserver.Start(t, testserver.Options{})
	rec := &hookRecorder{}
	s := connect(t, testConfig([]string{srv.URL()}, rec), nil)

	srv.SendErr("Permissions Violation for Publish to \"secret\"")

	require.Eventually(t, func() bool { return len(rec.errors()) == 1 }, waitFor, 5*time.Millisecond)
	var serr *natserr.ServerError
	require.ErrorAs(t, rec.errors()[0], &serr)
	assert.True(t, serr.IsPermission())
	assert.Equal(t, StateConnected, s.State())
	assert.Equal(t, int32(0), rec.disconnects.Load())
}

func TestSupervisorDiscoversServers(t *testing.T) {
	srv := testserver.Start(t, testserver.Options{})
	rec := &hookRecorder{}
	s := connect(t, testConfig([]string{srv.URL()}, rec), nil)

	srv.AnnounceServers([]string{srv.Addr(), "127.0.0.1:1"})

	require.Eventually(t, func() bool {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		return len(rec.discovered) == 1
	}, waitFor, 5*time.Millisecond)
	assert.Equal(t, []string{"nats://127.0.0.1:1"}, s.DiscoveredServers())
	assert.Equal(t, []string{srv.URL(), "nats://127.0.0.1:1"}, s.Servers())
}

func TestSupervisorIgnoresDiscoveredServers(t *testing.T) {
	srv := testserver.Start(t, testserver.Options{ConnectURLs: []string{"127.0.0.1:1"}})
	cfg := testConfig([]string{srv.URL()}, nil)
	cfg.IgnoreDiscoveredServers = true
	s := connect(t, cfg, nil)

	assert.Empty(t, s.DiscoveredServers())
	assert.Equal(t, []string{srv.URL()}, s.Servers())
}

func TestSupervisorDialer(t *testing.T) {
	srv := testserver.Start(t, testserver.Options{})

	var dials atomic.Int32
	cfg := testConfig([]string{srv.URL()}, nil)
	cfg.Dialer = transport.DialerFunc(func(ctx context.Context, address string) (net.Conn, error) {
		dials.Add(1)
		var d net.Dialer
		return d.DialContext(ctx, "tcp", address)
	})
	connect(t, cfg, nil)

	assert.Equal(t, int32(1), dials.Load())
}

func TestSupervisorProtocolCapture(t *testing.T) {
	srv := testserver.Start(t, testserver.Options{})
	capture := &captureLogger{}

	cfg := testConfig([]string{srv.URL()}, nil)
	cfg.ProtocolLogger = capture
	s := connect(t, cfg, &testHandler{})

	require.NoError(t, s.SendSubscribe(1, "foo", ""))
	require.NoError(t, s.Publish("foo", "", []byte("hi")))
	require.NoError(t, s.Flush(time.Second))

	var ops []string
	connIDs := map[string]struct{}{}
	require.Eventually(t, func() bool {
		ops = ops[:0]
		for _, ev := range capture.snapshot() {
			switch {
			case ev.Message != nil:
				ops = append(ops, ev.Direction.String()+" "+ev.Message.Op.String())
				connIDs[ev.ConnectionID] = struct{}{}
			case ev.ControlMsg != nil:
				ops = append(ops, ev.Direction.String()+" "+ev.ControlMsg.Type.String())
			}
		}
		return slices.Contains(ops, "IN MSG")
	}, waitFor, 5*time.Millisecond)

	assert.Contains(t, ops, "IN INFO")
	assert.Contains(t, ops, "OUT CONNECT")
	assert.Contains(t, ops, "OUT SUB")
	assert.Contains(t, ops, "OUT PUB")
	assert.Len(t, connIDs, 1)
}

func TestSupervisorGracefulCloseUnderLoad(t *testing.T) {
	srv := testserver.Start(t, testserver.Options{})
	rec := &hookRecorder{}
	s := connect(t, testConfig([]string{srv.URL()}, rec), nil)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		payload := []byte(strings.Repeat("x", 128))
		for i := 0; i < 20000; i++ {
			if err := s.Publish("load", "", payload); err != nil {
				t.Errorf("publish %d: %v", i, err)
				return
			}
		}
	}()

	time.Sleep(5 * time.Millisecond)
	s.Close()
	wg.Wait()

	assert.Equal(t, int32(1), rec.closes.Load())
	assert.Equal(t, int32(1), rec.disconnects.Load())
	assert.Empty(t, rec.errors())
	assert.Equal(t, StateClosed, s.State())
}

func TestSupervisorCloseFromHook(t *testing.T) {
	srv := testserver.Start(t, testserver.Options{})
	rec := &hookRecorder{}

	var sp atomic.Pointer[Supervisor]
	returned := make(chan struct{})
	cfg := testConfig([]string{srv.URL()}, rec)
	cfg.Hooks.OnDisconnect = func() {
		sp.Load().Close()
		close(returned)
	}
	s := connect(t, cfg, nil)
	sp.Store(s)

	srv.DropClients()

	select {
	case <-returned:
	case <-time.After(waitFor):
		t.Fatal("Close inside a hook did not return")
	}
	assert.Equal(t, StateClosed, s.State())
	require.Eventually(t, func() bool { return rec.closes.Load() == 1 }, waitFor, 5*time.Millisecond)
}

func TestSupervisorPublishBeforeConnectDropped(t *testing.T) {
	srv := testserver.Start(t, testserver.Options{})

	s, err := New(testConfig([]string{srv.URL()}, nil))
	require.NoError(t, err)
	t.Cleanup(s.Close)

	require.NoError(t, s.Publish("early", "", []byte("lost")))
	s.mu.Lock()
	buffered := s.pending.Len()
	s.mu.Unlock()
	assert.Zero(t, buffered)

	require.NoError(t, s.Connect(context.Background()))
	require.NoError(t, s.Flush(time.Second))
	assert.Zero(t, countPrefix(srv.Ops(), "PUB early"))
	assert.Zero(t, s.Stats().OutMsgs)
}
