package connection

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/natsline/natsline-go/pkg/log"
	"github.com/natsline/natsline-go/pkg/metrics"
	"github.com/natsline/natsline-go/pkg/natserr"
	"github.com/natsline/natsline-go/pkg/wire"
)

// Stats counts traffic over the lifetime of a supervisor.
type Stats struct {
	InMsgs     uint64
	OutMsgs    uint64
	InBytes    uint64
	OutBytes   uint64
	Reconnects uint64
}

// Supervisor owns the logical connection: endpoint selection, handshake,
// the write path, the read loop, heartbeats and reconnection.
type Supervisor struct {
	cfg     Config
	logger  *slog.Logger
	plog    log.Logger
	capture bool
	metrics metrics.Collector
	hooks   *dispatcher
	backoff *Backoff

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	cond    *sync.Cond
	state   State
	pool    *serverPool
	cur     *link
	info    wire.Info
	handler Handler

	// pending holds publishes written while not connected.
	pending bytes.Buffer

	// pongs has one slot per PING in flight. nil slots belong to
	// heartbeats.
	pongs []chan error

	inMsgs     atomic.Uint64
	outMsgs    atomic.Uint64
	inBytes    atomic.Uint64
	outBytes   atomic.Uint64
	reconnects atomic.Uint64
}

// New creates a supervisor in DISCONNECTED. It returns an error if the
// server list is empty or malformed.
func New(cfg Config) (*Supervisor, error) {
	cfg.applyDefaults()

	pool, err := newServerPool(cfg.Servers, !cfg.NoRandomize)
	if err != nil {
		return nil, err
	}

	backoff := BackoffConfig{Initial: cfg.ReconnectWait}
	if cfg.Backoff != nil {
		backoff = *cfg.Backoff
		if backoff.Initial <= 0 {
			backoff.Initial = cfg.ReconnectWait
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Supervisor{
		cfg:     cfg,
		logger:  cfg.Logger,
		plog:    cfg.ProtocolLogger,
		capture: log.Enabled(cfg.ProtocolLogger),
		metrics: cfg.Metrics,
		hooks:   newDispatcher(),
		backoff: NewBackoffWithConfig(backoff),
		ctx:     ctx,
		cancel:  cancel,
		state:   StateDisconnected,
		pool:    pool,
		info:    wire.Info{MaxPayload: wire.DefaultMaxPayload},
	}
	s.cond = sync.NewCond(&s.mu)
	return s, nil
}

// SetHandler installs the receiver of inbound messages. It must be called
// before Connect.
func (s *Supervisor) SetHandler(h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = h
}

// Connect performs the initial connect. Endpoints are tried once each, in
// pool order. A rejected handshake stops the walk. On failure the
// supervisor is CLOSED and the error wraps natserr.ErrNoServers or
// natserr.ErrAuthRejected.
func (s *Supervisor) Connect(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case StateDisconnected:
	case StateClosed:
		s.mu.Unlock()
		return natserr.ErrConnectionClosed
	default:
		s.mu.Unlock()
		return ErrAlreadyConnected
	}
	s.setStateLocked(StateConnecting, "")
	candidates := s.pool.snapshot()
	s.mu.Unlock()

	var lastErr error
	for _, ep := range candidates {
		if err := ctx.Err(); err != nil {
			lastErr = err
			break
		}

		s.mu.Lock()
		ep.lastAttempt = time.Now()
		s.mu.Unlock()

		l, err := s.dial(ctx, ep)
		if err == nil {
			return s.activate(l)
		}
		lastErr = err
		s.logger.Debug("connect attempt failed", "endpoint", ep.String(), "error", err)

		if errors.Is(err, natserr.ErrAuthRejected) {
			s.shutdown(err, false)
			return fmt.Errorf("connect %s: %w", ep, err)
		}
	}

	s.shutdown(lastErr, false)
	return errors.Join(natserr.ErrNoServers, lastErr)
}

// Close shuts the supervisor down. It is idempotent and safe to call
// concurrently with any other method. Pending writes are flushed best
// effort; flush waiters fail with natserr.ErrConnectionClosed. The
// disconnect and close hooks have run when Close returns, unless Close
// was called while a hook was running.
func (s *Supervisor) Close() {
	s.shutdown(nil, true)
	s.wg.Wait()
	s.hooks.wait()
}

// shutdown moves to CLOSED. It may run on supervisor goroutines, so it never
// waits for them.
func (s *Supervisor) shutdown(cause error, notify bool) {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	wasConnected := s.state == StateConnected
	l := s.cur
	if l != nil {
		_ = l.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
		_ = l.bw.Flush()
	}
	reason := ""
	if cause != nil {
		reason = cause.Error()
	}
	s.setStateLocked(StateClosed, reason)
	s.cur = nil
	waiters := s.pongs
	s.pongs = nil
	s.pending.Reset()
	handler := s.handler
	s.cond.Broadcast()
	s.mu.Unlock()

	s.cancel()
	if l != nil {
		l.ka.Stop()
		_ = l.conn.Close()
	}
	for _, ch := range waiters {
		if ch != nil {
			ch <- natserr.ErrConnectionClosed
		}
	}
	if handler != nil {
		handler.ConnectionClosed()
	}

	if notify {
		if wasConnected {
			s.hooks.post(s.cfg.Hooks.OnDisconnect)
		}
		if onClose := s.cfg.Hooks.OnClose; onClose != nil {
			s.hooks.post(onClose)
		}
	}
	s.hooks.stop()
}

// State returns the current connection state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ConnectedURL returns the active endpoint, or "" when not connected.
func (s *Supervisor) ConnectedURL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateConnected || s.cur == nil {
		return ""
	}
	return s.cur.ep.String()
}

// ConnectedServerID returns the server_id of the active connection.
func (s *Supervisor) ConnectedServerID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateConnected {
		return ""
	}
	return s.info.ServerID
}

// ConnectedServerVersion returns the version the active server announced.
func (s *Supervisor) ConnectedServerVersion() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateConnected {
		return ""
	}
	return s.info.Version
}

// MaxPayload returns the largest payload the server accepts.
func (s *Supervisor) MaxPayload() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info.MaxPayload
}

// Servers returns the URLs of all endpoints in the pool.
func (s *Supervisor) Servers() []string {
	return s.servers(false)
}

// DiscoveredServers returns the URLs of endpoints learned from INFO.
func (s *Supervisor) DiscoveredServers() []string {
	return s.servers(true)
}

func (s *Supervisor) servers(discoveredOnly bool) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, ep := range s.pool.endpoints {
		if discoveredOnly && !ep.Discovered {
			continue
		}
		out = append(out, ep.String())
	}
	return out
}

// Stats returns traffic counters.
func (s *Supervisor) Stats() Stats {
	return Stats{
		InMsgs:     s.inMsgs.Load(),
		OutMsgs:    s.outMsgs.Load(),
		InBytes:    s.inBytes.Load(),
		OutBytes:   s.outBytes.Load(),
		Reconnects: s.reconnects.Load(),
	}
}

// ReportError forwards an asynchronous error from another component to the
// error hook.
func (s *Supervisor) ReportError(err error) {
	if err == nil {
		return
	}
	s.hooks.post(s.errorHook(err))
}

func (s *Supervisor) errorHook(err error) func() {
	fn := s.cfg.Hooks.OnError
	if fn == nil {
		return nil
	}
	return func() { fn(err) }
}

// setStateLocked records a transition. Called with mu held.
func (s *Supervisor) setStateLocked(next State, reason string) {
	prev := s.state
	if prev == next {
		return
	}
	s.state = next
	s.metrics.RecordStateChange(prev.String(), next.String())

	attrs := []any{"from", prev.String(), "to", next.String()}
	if reason != "" {
		attrs = append(attrs, "reason", reason)
	}
	if next == StateReconnecting {
		s.logger.Warn("connection state changed", attrs...)
	} else {
		s.logger.Info("connection state changed", attrs...)
	}

	if s.capture {
		ev := log.Event{
			Timestamp:  time.Now(),
			Direction:  log.DirectionIn,
			Layer:      log.LayerClient,
			Category:   log.CategoryState,
			ClientName: s.cfg.Name,
			StateChange: &log.StateChangeEvent{
				Entity:   log.StateEntityConnection,
				OldState: prev.String(),
				NewState: next.String(),
				Reason:   reason,
			},
		}
		if s.cur != nil {
			ev.ConnectionID = s.cur.id
			ev.Endpoint = s.cur.ep.String()
		}
		s.plog.Log(ev)
	}
}
