package connection

import (
	"fmt"

	"github.com/natsline/natsline-go/pkg/log"
	"github.com/natsline/natsline-go/pkg/natserr"
	"github.com/natsline/natsline-go/pkg/wire"
)

// readLoop is the only reader of a link. It exits on the first read error
// and hands the link to the loss path.
func (s *Supervisor) readLoop(l *link, h Handler) {
	defer s.wg.Done()
	defer close(l.done)

	for {
		f, err := l.parser.Next()
		if err != nil {
			s.linkFailed(l, l.failure(err))
			return
		}
		s.processFrame(l, h, f)
	}
}

func (s *Supervisor) processFrame(l *link, h Handler, f *wire.Frame) {
	switch f.Kind {
	case wire.KindMsg:
		n := len(f.Msg.Data)
		s.inMsgs.Add(1)
		s.inBytes.Add(uint64(n))
		s.metrics.RecordMessageIn(n)
		if s.capture {
			s.captureMessage(l, log.DirectionIn,
				log.NewMessageEvent(log.MessageOpMsg, f.Msg.Subject, f.Msg.Reply, f.Msg.Sid, f.Msg.Data))
		}
		if h != nil {
			h.HandleMsg(f.Msg)
		}

	case wire.KindPing:
		s.captureControl(l, log.DirectionIn, log.ControlMsgPing, "")
		s.mu.Lock()
		if s.cur == l {
			s.writeControlLocked([]byte(wire.PongLine))
		}
		s.mu.Unlock()

	case wire.KindPong:
		s.captureControl(l, log.DirectionIn, log.ControlMsgPong, "")
		s.processPong(l)

	case wire.KindInfo:
		s.captureControl(l, log.DirectionIn, log.ControlMsgInfo, f.Info.ServerID)
		s.processInfo(l, f.Info)

	case wire.KindOK:
		s.captureControl(l, log.DirectionIn, log.ControlMsgOK, "")

	case wire.KindErr:
		s.captureControl(l, log.DirectionIn, log.ControlMsgErr, f.Err)
		s.processErr(l, f.Err)
	}
}

// processPong pops the oldest PING slot and wakes its waiter, if any.
func (s *Supervisor) processPong(l *link) {
	var ch chan error

	s.mu.Lock()
	if s.cur != l {
		s.mu.Unlock()
		return
	}
	if len(s.pongs) > 0 {
		ch = s.pongs[0]
		s.pongs[0] = nil
		s.pongs = s.pongs[1:]
	}
	s.mu.Unlock()

	if ch != nil {
		ch <- nil
	}
	l.ka.PongReceived()
}

// processInfo applies an asynchronous INFO: limits and cluster topology.
func (s *Supervisor) processInfo(l *link, info *wire.Info) {
	s.mu.Lock()
	if s.cur != l {
		s.mu.Unlock()
		return
	}
	s.applyInfoLocked(info)
	added := s.discoverLocked(l, info)
	s.mu.Unlock()

	s.announceDiscovered(added)
}

func (s *Supervisor) applyInfoLocked(info *wire.Info) {
	s.info = *info
	if s.info.MaxPayload <= 0 {
		s.info.MaxPayload = wire.DefaultMaxPayload
	}
}

// discoverLocked merges connect_urls into the pool and returns the URLs of
// new endpoints.
func (s *Supervisor) discoverLocked(l *link, info *wire.Info) []string {
	urls := info.ConnectURLs
	if l.ep.WebSocket() {
		urls = info.WSConnectURLs
	}
	if s.cfg.IgnoreDiscoveredServers || len(urls) == 0 {
		return nil
	}
	added := s.pool.addDiscovered(urls, l.ep.URL.Scheme)
	s.pool.pruneDiscovered(urls, l.ep)
	if len(added) > 0 {
		s.logger.Info("discovered servers", "added", added, "pool", s.pool.len())
	}
	return added
}

func (s *Supervisor) announceDiscovered(urls []string) {
	fn := s.cfg.Hooks.OnDiscoveredServers
	if fn == nil || len(urls) == 0 {
		return
	}
	s.hooks.post(func() { fn(urls) })
}

// processErr handles a -ERR line. Permission violations leave the
// connection up; for anything else the server closes the socket, so the
// link is failed with the server's reason.
func (s *Supervisor) processErr(l *link, text string) {
	serr := &natserr.ServerError{Message: text}

	switch {
	case serr.IsPermission():
		s.logger.Warn("server rejected operation", "endpoint", l.ep.String(), "error", text)
		s.ReportError(serr)
	case serr.IsStale():
		l.fail(fmt.Errorf("%w: %w", natserr.ErrStaleConnection, serr))
	default:
		s.logger.Warn("server error", "endpoint", l.ep.String(), "error", text)
		l.fail(serr)
	}
}
