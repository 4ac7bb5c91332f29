package connection

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/natsline/natsline-go/pkg/auth"
	"github.com/natsline/natsline-go/pkg/log"
	"github.com/natsline/natsline-go/pkg/natserr"
	"github.com/natsline/natsline-go/pkg/transport"
	"github.com/natsline/natsline-go/pkg/wire"
)

const writeBufferSize = 32 * 1024

// link is one physical connection. A reconnect replaces the link; the
// supervisor ignores events from links that are no longer current.
type link struct {
	id     string
	ep     *Endpoint
	conn   net.Conn
	bw     *bufio.Writer
	parser *wire.Parser
	info   *wire.Info
	ka     *transport.KeepAlive

	// kick wakes the flusher after a write.
	kick chan struct{}
	// done is closed when the read loop exits.
	done chan struct{}

	failOnce sync.Once
	cause    error
}

// fail records why the link is going down and closes the socket, which
// ends the read loop. Only the first cause is kept.
func (l *link) fail(err error) {
	l.failOnce.Do(func() {
		l.cause = err
		_ = l.conn.Close()
	})
}

// failure returns the recorded cause, or wraps the read error.
func (l *link) failure(readErr error) error {
	failed := false
	l.failOnce.Do(func() {
		l.cause = &natserr.TransportError{Endpoint: l.ep.String(), Op: "read", Err: readErr}
		failed = true
	})
	if failed {
		_ = l.conn.Close()
	}
	return l.cause
}

func (l *link) signal() {
	select {
	case l.kick <- struct{}{}:
	default:
	}
}

// dial opens a connection to ep and runs the handshake:
//
//	<- INFO
//	   optional TLS upgrade
//	-> CONNECT, PING
//	<- PONG (or -ERR)
func (s *Supervisor) dial(ctx context.Context, ep *Endpoint) (*link, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
	defer cancel()
	stop := context.AfterFunc(s.ctx, cancel)
	defer stop()

	var (
		conn net.Conn
		err  error
	)
	if ep.WebSocket() {
		conn, err = s.cfg.WebSocket.DialURL(ctx, ep.WebSocketURL())
	} else {
		conn, err = s.cfg.Dialer.Dial(ctx, ep.Address())
	}
	if err != nil {
		return nil, &natserr.TransportError{Endpoint: ep.String(), Op: "dial", Err: err}
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	l := &link{
		id:   uuid.NewString(),
		ep:   ep,
		conn: conn,
		kick: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	if err := s.handshake(ctx, l); err != nil {
		_ = l.conn.Close()
		return nil, err
	}
	_ = l.conn.SetDeadline(time.Time{})
	return l, nil
}

func (s *Supervisor) handshake(ctx context.Context, l *link) error {
	parser := wire.NewParser(l.conn)
	f, err := parser.Next()
	if err != nil {
		return &natserr.TransportError{Endpoint: l.ep.String(), Op: "read info", Err: err}
	}
	if f.Kind != wire.KindInfo {
		return fmt.Errorf("%w: expected INFO, got %s", natserr.ErrProtocol, f.Kind)
	}
	l.info = f.Info
	s.captureControl(l, log.DirectionIn, log.ControlMsgInfo, l.info.ServerID)

	tlsConfig, useTLS, err := s.tlsFor(l.ep, l.info)
	if err != nil {
		return err
	}
	if useTLS {
		tconn, err := transport.UpgradeTLS(ctx, l.conn, tlsConfig, l.ep.Address())
		if err != nil {
			return &natserr.TransportError{Endpoint: l.ep.String(), Op: "tls", Err: err}
		}
		l.conn = tconn
		parser = wire.NewParser(l.conn)
	}

	connect, err := s.connectPayload(l.ep, l.info, useTLS)
	if err != nil {
		return err
	}
	out, err := wire.AppendConnect(nil, connect)
	if err != nil {
		return err
	}
	out = append(out, wire.PingLine...)
	if _, err := l.conn.Write(out); err != nil {
		return &natserr.TransportError{Endpoint: l.ep.String(), Op: "write connect", Err: err}
	}
	s.captureControl(l, log.DirectionOut, log.ControlMsgConnect, connect.Name)

	for {
		f, err := parser.Next()
		if err != nil {
			return &natserr.TransportError{Endpoint: l.ep.String(), Op: "read handshake", Err: err}
		}
		switch f.Kind {
		case wire.KindPong:
			l.parser = parser
			l.bw = bufio.NewWriterSize(l.conn, writeBufferSize)
			return nil
		case wire.KindOK:
		case wire.KindInfo:
			l.info = f.Info
		case wire.KindPing:
			if _, err := l.conn.Write([]byte(wire.PongLine)); err != nil {
				return &natserr.TransportError{Endpoint: l.ep.String(), Op: "write pong", Err: err}
			}
		case wire.KindErr:
			s.captureControl(l, log.DirectionIn, log.ControlMsgErr, f.Err)
			serr := &natserr.ServerError{Message: f.Err}
			if serr.IsAuth() {
				return fmt.Errorf("%w: %w", natserr.ErrAuthRejected, serr)
			}
			return serr
		default:
			return fmt.Errorf("%w: unexpected %s during handshake", natserr.ErrProtocol, f.Kind)
		}
	}
}

// tlsFor decides whether the connection is upgraded and with which config.
func (s *Supervisor) tlsFor(ep *Endpoint, info *wire.Info) (*tls.Config, bool, error) {
	if ep.WebSocket() {
		// wss is encrypted by the WebSocket dialer.
		return nil, false, nil
	}
	want := s.cfg.Secure || s.cfg.TLSConfig != nil || ep.TLS()
	if want && !info.TLSRequired && !info.TLSAvailable {
		return nil, false, fmt.Errorf("%w: server %s does not offer TLS", natserr.ErrInvalidArg, ep)
	}
	if info.TLSRequired {
		want = true
	}
	if !want {
		return nil, false, nil
	}
	if s.cfg.TLSConfig != nil {
		return s.cfg.TLSConfig, true, nil
	}
	return &tls.Config{MinVersion: tls.VersionTLS12}, true, nil
}

// connectPayload builds CONNECT. Credentials in the endpoint URL win over
// configured ones.
func (s *Supervisor) connectPayload(ep *Endpoint, info *wire.Info, secure bool) (*wire.Connect, error) {
	c := &wire.Connect{
		Verbose:     s.cfg.Verbose,
		Pedantic:    s.cfg.Pedantic,
		TLSRequired: secure,
		Name:        s.cfg.Name,
		Lang:        wire.ClientLang,
		Version:     wire.ClientVersion,
		Protocol:    wire.ProtocolVersion,
		Echo:        !s.cfg.NoEcho,
		User:        s.cfg.User,
		Pass:        s.cfg.Password,
		AuthToken:   s.cfg.Token,
	}

	if u := ep.URL.User; u != nil {
		if pass, ok := u.Password(); ok {
			c.User, c.Pass = u.Username(), pass
		} else {
			c.AuthToken = u.Username()
		}
	}

	if s.cfg.Signer != nil {
		pub, err := s.cfg.Signer.PublicKey()
		if err != nil {
			return nil, fmt.Errorf("nkey public key: %w", err)
		}
		c.NKey = pub
		if info.Nonce != "" {
			sig, err := s.cfg.Signer.Sign([]byte(info.Nonce))
			if err != nil {
				return nil, fmt.Errorf("sign nonce: %w", err)
			}
			c.Sig = auth.EncodeSignature(sig)
		}
	}
	return c, nil
}

// captureControl writes a control event to the protocol logger.
func (s *Supervisor) captureControl(l *link, dir log.Direction, typ log.ControlMsgType, detail string) {
	if !s.capture {
		return
	}
	s.plog.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: l.id,
		Direction:    dir,
		Layer:        log.LayerProtocol,
		Category:     log.CategoryControl,
		Endpoint:     l.ep.String(),
		ClientName:   s.cfg.Name,
		ControlMsg:   &log.ControlMsgEvent{Type: typ, Detail: detail},
	})
}

// captureMessage writes a message event to the protocol logger.
func (s *Supervisor) captureMessage(l *link, dir log.Direction, ev *log.MessageEvent) {
	if !s.capture || l == nil {
		return
	}
	s.plog.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: l.id,
		Direction:    dir,
		Layer:        log.LayerProtocol,
		Category:     log.CategoryMessage,
		Endpoint:     l.ep.String(),
		ClientName:   s.cfg.Name,
		Message:      ev,
	})
}

// captureError writes an error event to the protocol logger.
func (s *Supervisor) captureError(l *link, layer log.Layer, err error, op string) {
	if !s.capture || l == nil {
		return
	}
	s.plog.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: l.id,
		Direction:    log.DirectionIn,
		Layer:        layer,
		Category:     log.CategoryError,
		Endpoint:     l.ep.String(),
		ClientName:   s.cfg.Name,
		Error:        &log.ErrorEventData{Layer: layer, Message: err.Error(), Context: op},
	})
}
