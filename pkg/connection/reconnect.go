package connection

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/natsline/natsline-go/pkg/log"
	"github.com/natsline/natsline-go/pkg/natserr"
	"github.com/natsline/natsline-go/pkg/transport"
	"github.com/natsline/natsline-go/pkg/wire"
)

// activate makes a handshaken link current. Subscriptions are replayed,
// outstanding flushes get their PINGs again and the pending buffer is
// released, all before the state becomes CONNECTED.
func (s *Supervisor) activate(l *link) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosed {
		_ = l.conn.Close()
		return natserr.ErrConnectionClosed
	}

	var out []byte
	if s.handler != nil {
		out = s.handler.Resubscribe(out)
	}
	for range s.pongs {
		out = append(out, wire.PingLine...)
	}

	_ = l.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	_, err := l.bw.Write(out)
	if err == nil {
		_, err = l.bw.Write(s.pending.Bytes())
	}
	if err == nil {
		err = l.bw.Flush()
	}
	if err != nil {
		_ = l.conn.Close()
		return &natserr.TransportError{Endpoint: l.ep.String(), Op: "write", Err: err}
	}
	s.pending.Reset()

	l.ka = transport.NewKeepAlive(transport.KeepAliveConfig{
		PingInterval:   s.cfg.PingInterval,
		MaxOutstanding: s.cfg.MaxPingsOutstanding,
	}, func() error {
		return s.sendHeartbeat(l)
	}, func() {
		s.logger.Warn("heartbeat unanswered", "endpoint", l.ep.String(),
			"max_outstanding", s.cfg.MaxPingsOutstanding)
		l.fail(natserr.ErrStaleConnection)
	})
	l.ka.SetPongReceivedCallback(s.metrics.RecordRTT)

	s.cur = l
	s.applyInfoLocked(l.info)
	added := s.discoverLocked(l, l.info)
	l.ep.reconnects = 0
	s.backoff.Reset()
	s.setStateLocked(StateConnected, "")
	s.cond.Broadcast()

	l.ka.Start(s.ctx)
	s.wg.Add(2)
	go s.readLoop(l, s.handler)
	go s.flusher(l)

	s.announceDiscovered(added)
	return nil
}

// sendHeartbeat writes a keep-alive PING with an empty FIFO slot.
func (s *Supervisor) sendHeartbeat(l *link) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cur != l {
		return natserr.ErrConnectionClosed
	}
	s.pongs = append(s.pongs, nil)
	s.writeControlLocked([]byte(wire.PingLine))
	s.captureControl(l, log.DirectionOut, log.ControlMsgPing, "heartbeat")
	return nil
}

// linkFailed is the transport loss path. Stale links (already replaced or
// closed) are ignored, so a loss is handled exactly once.
func (s *Supervisor) linkFailed(l *link, cause error) {
	s.mu.Lock()
	if s.cur != l || s.state != StateConnected {
		s.mu.Unlock()
		return
	}
	l.ka.Stop()
	s.cur = nil

	// Heartbeat slots die with the link; flush waiters carry over.
	s.pongs = slices.DeleteFunc(s.pongs, func(ch chan error) bool { return ch == nil })

	s.captureError(l, log.LayerTransport, cause, "connection lost")
	s.logger.Warn("connection lost", "endpoint", l.ep.String(), "error", cause)

	if !s.cfg.AllowReconnect {
		s.mu.Unlock()
		s.hooks.post(s.errorHook(cause))
		s.shutdown(cause, true)
		return
	}

	s.setStateLocked(StateReconnecting, cause.Error())
	s.hooks.post(s.cfg.Hooks.OnDisconnect)
	s.hooks.post(s.errorHook(cause))
	s.wg.Add(1)
	go s.reconnectLoop()
	s.mu.Unlock()
}

// reconnectLoop walks the pool until a handshake succeeds, the pool is
// exhausted or the supervisor closes.
func (s *Supervisor) reconnectLoop() {
	defer s.wg.Done()

	for {
		s.mu.Lock()
		if s.state != StateReconnecting {
			s.mu.Unlock()
			return
		}
		ep := s.pool.rotate(s.cfg.MaxReconnectAttempts)
		var wait time.Duration
		if ep != nil && !ep.lastAttempt.IsZero() {
			wait = s.backoff.Next() - time.Since(ep.lastAttempt)
		}
		s.mu.Unlock()

		if ep == nil {
			s.logger.Warn("reconnect attempts exhausted")
			s.shutdown(fmt.Errorf("%w: reconnect attempts exhausted", natserr.ErrNoServers), true)
			return
		}

		if wait > 0 {
			t := time.NewTimer(wait)
			select {
			case <-s.ctx.Done():
				t.Stop()
				return
			case <-t.C:
			}
		}

		s.mu.Lock()
		ep.lastAttempt = time.Now()
		s.mu.Unlock()

		l, err := s.dial(s.ctx, ep)
		if err == nil {
			err = s.activate(l)
		}
		if err != nil {
			if errors.Is(err, natserr.ErrConnectionClosed) {
				return
			}
			s.mu.Lock()
			ep.reconnects++
			attempts := ep.reconnects
			s.mu.Unlock()
			s.logger.Debug("reconnect attempt failed", "endpoint", ep.String(), "attempt", attempts, "error", err)

			if errors.Is(err, natserr.ErrAuthRejected) {
				s.hooks.post(s.errorHook(err))
				s.shutdown(err, true)
				return
			}
			continue
		}

		s.reconnects.Add(1)
		s.metrics.RecordReconnect(ep.String())
		s.logger.Info("reconnected", "endpoint", ep.String())
		if fn := s.cfg.Hooks.OnReconnect; fn != nil {
			url := ep.String()
			s.hooks.post(func() { fn(url) })
		}
		return
	}
}
