package connection

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/natsline/natsline-go/pkg/log"
	"github.com/natsline/natsline-go/pkg/natserr"
	"github.com/natsline/natsline-go/pkg/wire"
)

// Publish writes a PUB. While reconnecting the write goes to the pending
// buffer. On a supervisor that is closed or not yet connected Publish is a
// silent no-op, so publishers racing Close never see an error.
func (s *Supervisor) Publish(subject, reply string, data []byte) error {
	if !wire.ValidPublishSubject(subject) {
		return fmt.Errorf("%w: %q", natserr.ErrBadSubject, subject)
	}
	if reply != "" && !wire.ValidPublishSubject(reply) {
		return fmt.Errorf("%w: reply %q", natserr.ErrBadSubject, reply)
	}
	frame := wire.AppendPub(make([]byte, 0, len(subject)+len(reply)+len(data)+24), subject, reply, data)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosed {
		return nil
	}
	if limit := s.info.MaxPayload; limit > 0 && int64(len(data)) > limit {
		return fmt.Errorf("%w: %d > %d bytes", natserr.ErrMaxPayload, len(data), limit)
	}
	if !s.writeLocked(frame) {
		return nil
	}

	s.outMsgs.Add(1)
	s.outBytes.Add(uint64(len(data)))
	s.metrics.RecordMessageOut(len(data))
	s.captureMessage(s.cur, log.DirectionOut, log.NewMessageEvent(log.MessageOpPub, subject, reply, 0, data))
	return nil
}

// SendSubscribe writes SUB. While not connected nothing is written: the
// handler's Resubscribe covers the subscription after the next handshake.
func (s *Supervisor) SendSubscribe(sid uint64, subject, queue string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateClosed:
		return natserr.ErrConnectionClosed
	case StateConnected:
		s.writeControlLocked(wire.AppendSub(nil, subject, queue, sid))
		if s.capture {
			ev := log.NewMessageEvent(log.MessageOpSub, subject, "", sid, nil)
			ev.Queue = queue
			s.captureMessage(s.cur, log.DirectionOut, ev)
		}
	}
	return nil
}

// SendUnsubscribe writes UNSUB. A max of zero removes interest at once.
func (s *Supervisor) SendUnsubscribe(sid uint64, max int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateClosed:
		return natserr.ErrConnectionClosed
	case StateConnected:
		s.writeControlLocked(wire.AppendUnsub(nil, sid, max))
		if s.capture {
			ev := log.NewMessageEvent(log.MessageOpUnsub, "", "", sid, nil)
			ev.Max = max
			s.captureMessage(s.cur, log.DirectionOut, ev)
		}
	}
	return nil
}

// Flush writes a PING and waits for the matching PONG. Everything written
// before the PING has been processed by the server when Flush returns nil.
func (s *Supervisor) Flush(timeout time.Duration) error {
	if timeout <= 0 {
		return fmt.Errorf("%w: flush timeout must be positive", natserr.ErrInvalidArg)
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.FlushContext(ctx)
}

// FlushContext is Flush bounded by ctx. An expired deadline returns
// natserr.ErrTimeout.
func (s *Supervisor) FlushContext(ctx context.Context) error {
	ch := make(chan error, 1)

	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return natserr.ErrConnectionClosed
	}
	s.pongs = append(s.pongs, ch)
	if s.state == StateConnected {
		s.writeControlLocked([]byte(wire.PingLine))
		s.captureControl(s.cur, log.DirectionOut, log.ControlMsgPing, "flush")
	}
	s.mu.Unlock()

	select {
	case err := <-ch:
		return err
	case <-ctx.Done():
		s.abandonPong(ch)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return natserr.ErrTimeout
		}
		return ctx.Err()
	}
}

// abandonPong turns a timed-out waiter's slot into a heartbeat slot, so the
// PONG it was waiting for still pops the right entry.
func (s *Supervisor) abandonPong(ch chan error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, c := range s.pongs {
		if c == ch {
			s.pongs[i] = nil
			return
		}
	}
}

// writeLocked writes a publish frame, or buffers it while reconnecting.
// Before the first connection is up the frame is dropped. It reports
// whether the frame was accepted. Called with mu held; with BufferBlock it
// may release mu while waiting.
func (s *Supervisor) writeLocked(frame []byte) bool {
	for {
		switch s.state {
		case StateConnected:
			return s.writeControlLocked(frame)
		case StateReconnecting:
		default:
			return false
		}

		limit := s.cfg.ReconnectBufSize
		if limit > 0 && s.pending.Len()+len(frame) <= limit {
			s.pending.Write(frame)
			return true
		}
		if limit > 0 && s.cfg.BufferPolicy == BufferBlock {
			s.cond.Wait()
			continue
		}

		s.metrics.RecordBufferDropped(len(frame))
		s.logger.Debug("pending buffer full, dropping write",
			"bytes", len(frame), "buffered", s.pending.Len(), "limit", limit)
		return false
	}
}

// writeControlLocked writes to the current link and wakes the flusher.
// A write error fails the link; the read loop then takes the loss path.
func (s *Supervisor) writeControlLocked(frame []byte) bool {
	l := s.cur
	if l == nil {
		return false
	}
	if _, err := l.bw.Write(frame); err != nil {
		l.fail(&natserr.TransportError{Endpoint: l.ep.String(), Op: "write", Err: err})
		return false
	}
	l.signal()
	return true
}

// flusher pushes buffered writes to the socket whenever it is kicked.
func (s *Supervisor) flusher(l *link) {
	defer s.wg.Done()

	for {
		select {
		case <-l.done:
			return
		case <-l.kick:
		}

		s.mu.Lock()
		if s.cur != l {
			s.mu.Unlock()
			return
		}
		if l.bw.Buffered() > 0 {
			_ = l.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := l.bw.Flush(); err != nil {
				l.fail(&natserr.TransportError{Endpoint: l.ep.String(), Op: "write", Err: err})
			}
		}
		s.mu.Unlock()
	}
}
