// Package natsline is a client for the NATS text publish/subscribe
// protocol.
//
// A Conn keeps one live connection to one member of a server cluster and
// multiplexes publish, subscribe and request/reply over it. Lost
// connections are re-established in the background: subscriptions are
// replayed and publishes made in the meantime are buffered up to a bound.
//
//	nc, err := natsline.Connect("nats://127.0.0.1:4222", natsline.Name("worker"))
//	if err != nil {
//		return err
//	}
//	defer nc.Close()
//
//	sub, _ := nc.Subscribe("orders.*", func(m *natsline.Msg) {
//		_ = m.Respond([]byte("ack"))
//	})
//	defer sub.Unsubscribe()
//
//	reply, err := nc.Request("orders.new", payload, time.Second)
package natsline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/natsline/natsline-go/pkg/auth"
	"github.com/natsline/natsline-go/pkg/connection"
	"github.com/natsline/natsline-go/pkg/natserr"
	"github.com/natsline/natsline-go/pkg/nuid"
	"github.com/natsline/natsline-go/pkg/request"
	"github.com/natsline/natsline-go/pkg/subscription"
	"github.com/natsline/natsline-go/pkg/wire"
)

// Types shared with the component packages.
type (
	Msg          = subscription.Msg
	MsgHandler   = subscription.MsgHandler
	Subscription = subscription.Subscription
	SubOption    = subscription.SubOption
	Result       = request.Result
	Stream       = request.Stream
	CallOption   = request.CallOption
	Mode         = request.Mode
	Status       = connection.State
	Statistics   = connection.Stats
)

// Connection states.
const (
	DISCONNECTED = connection.StateDisconnected
	CONNECTING   = connection.StateConnecting
	CONNECTED    = connection.StateConnected
	RECONNECTING = connection.StateReconnecting
	CLOSED       = connection.StateClosed
)

// Request correlation modes.
const (
	ModeSharedInbox = request.ModeSharedInbox
	ModeEphemeral   = request.ModeEphemeral
)

// Subscription and request options.
var (
	WithMaxDeliveries = subscription.WithMaxDeliveries
	WithPendingLimit  = subscription.WithPendingLimit
	WithRequestMode   = request.WithMode
)

// Conn is a client connection.
type Conn struct {
	opts   Options
	sup    *connection.Supervisor
	reg    *subscription.Registry
	req    *request.Coordinator
	tokens *nuid.Generator
}

// Connect connects to url, a single URL or a comma-separated list.
func Connect(url string, options ...Option) (*Conn, error) {
	return ConnectContext(context.Background(), url, options...)
}

// ConnectContext is Connect bounded by ctx.
func ConnectContext(ctx context.Context, url string, options ...Option) (*Conn, error) {
	opts := GetDefaultOptions()
	opts.Servers = processURLString(url)
	for _, opt := range options {
		if opt == nil {
			continue
		}
		if err := opt(&opts); err != nil {
			return nil, err
		}
	}
	return opts.ConnectContext(ctx)
}

// Connect connects with o.
func (o Options) Connect() (*Conn, error) {
	return o.ConnectContext(context.Background())
}

// ConnectContext connects with o, bounded by ctx.
func (o Options) ConnectContext(ctx context.Context) (*Conn, error) {
	if len(o.Servers) == 0 {
		o.Servers = []string{DefaultURL}
	}
	cfg, err := o.supervisorConfig()
	if err != nil {
		return nil, err
	}

	sup, err := connection.New(cfg)
	if err != nil {
		return nil, err
	}
	nc := &Conn{opts: o, sup: sup, tokens: nuid.NewGenerator()}
	nc.reg = subscription.NewRegistry(sup, subscription.Config{
		Workers:        o.SubWorkers,
		PendingLimit:   o.SubPendingLimit,
		Logger:         o.Logger,
		ProtocolLogger: o.ProtocolLogger,
		Metrics:        o.Metrics,
		OnError:        sup.ReportError,
	})
	nc.req = request.New(nc.reg, sup, nc.tokens, request.Config{
		Mode:        o.RequestMode,
		InboxPrefix: o.InboxPrefix,
		Logger:      o.Logger,
		Metrics:     o.Metrics,
	})
	sup.SetHandler(nc)

	if err := sup.Connect(ctx); err != nil {
		return nil, err
	}
	return nc, nil
}

func (o *Options) supervisorConfig() (connection.Config, error) {
	cfg := connection.Config{
		Servers:                 o.Servers,
		NoRandomize:             o.NoRandomize,
		IgnoreDiscoveredServers: o.IgnoreDiscoveredServers,
		Name:                    o.Name,
		Verbose:                 o.Verbose,
		Pedantic:                o.Pedantic,
		NoEcho:                  o.NoEcho,
		User:                    o.User,
		Password:                o.Password,
		Token:                   o.Token,
		TLSConfig:               o.TLSConfig,
		Secure:                  o.Secure,
		AllowReconnect:          o.AllowReconnect,
		MaxReconnectAttempts:    o.MaxReconnect,
		ReconnectWait:           o.ReconnectWait,
		ConnectTimeout:          o.Timeout,
		PingInterval:            o.PingInterval,
		MaxPingsOutstanding:     o.MaxPingsOut,
		ReconnectBufSize:        o.ReconnectBufSize,
		BufferPolicy:            o.BufferPolicy,
		Dialer:                  o.Dialer,
		Logger:                  o.Logger,
		ProtocolLogger:          o.ProtocolLogger,
		Metrics:                 o.Metrics,
		Hooks: connection.Hooks{
			OnDisconnect:        o.DisconnectedCB,
			OnReconnect:         o.ReconnectedCB,
			OnClose:             o.ClosedCB,
			OnError:             o.ErrorCB,
			OnDiscoveredServers: o.DiscoveredServersCB,
		},
	}

	if o.MaxReconnectWait > 0 || o.ReconnectJitter > 0 {
		cfg.Backoff = &connection.BackoffConfig{
			Initial: o.ReconnectWait,
			Max:     o.MaxReconnectWait,
			Jitter:  o.ReconnectJitter,
		}
		if o.MaxReconnectWait > 0 {
			cfg.Backoff.Multiplier = 2
		}
	}

	switch {
	case o.NKeySeed != "":
		signer, err := auth.NewNKeySigner([]byte(o.NKeySeed))
		if err != nil {
			return cfg, err
		}
		cfg.Signer = signer
	case o.NKeySeedFile != "":
		signer, err := auth.LoadNKeySeedFile(o.NKeySeedFile)
		if err != nil {
			return cfg, err
		}
		cfg.Signer = signer
	}
	return cfg, nil
}

func processURLString(url string) []string {
	var servers []string
	for _, s := range strings.Split(url, ",") {
		if s = strings.TrimSpace(s); s != "" {
			servers = append(servers, s)
		}
	}
	return servers
}

// HandleMsg implements connection.Handler.
func (nc *Conn) HandleMsg(m *wire.Msg) {
	nc.reg.Dispatch(m)
}

// Resubscribe implements connection.Handler.
func (nc *Conn) Resubscribe(dst []byte) []byte {
	return nc.reg.Resubscribe(dst)
}

// ConnectionClosed implements connection.Handler.
func (nc *Conn) ConnectionClosed() {
	nc.req.Close()
	nc.reg.Close()
}

// Publish publishes data to subject.
func (nc *Conn) Publish(subject string, data []byte) error {
	return nc.sup.Publish(subject, "", data)
}

// PublishRequest publishes data to subject with a reply subject.
func (nc *Conn) PublishRequest(subject, reply string, data []byte) error {
	return nc.sup.Publish(subject, reply, data)
}

// PublishMsg publishes m.
func (nc *Conn) PublishMsg(m *Msg) error {
	if m == nil {
		return fmt.Errorf("%w: nil message", natserr.ErrInvalidArg)
	}
	return nc.sup.Publish(m.Subject, m.Reply, m.Data)
}

// Subscribe calls cb for every message on subject.
func (nc *Conn) Subscribe(subject string, cb MsgHandler, opts ...SubOption) (*Subscription, error) {
	return nc.reg.Subscribe(subject, "", cb, opts...)
}

// QueueSubscribe joins queue on subject. The server delivers each message
// to one member of the group.
func (nc *Conn) QueueSubscribe(subject, queue string, cb MsgHandler, opts ...SubOption) (*Subscription, error) {
	return nc.reg.Subscribe(subject, queue, cb, opts...)
}

// NumSubscriptions returns the number of live subscriptions.
func (nc *Conn) NumSubscriptions() int {
	return nc.reg.Count()
}

// Request publishes data to subject and waits up to timeout for a reply.
func (nc *Conn) Request(subject string, data []byte, timeout time.Duration, opts ...CallOption) (*Msg, error) {
	return nc.req.Request(subject, data, timeout, opts...)
}

// RequestWithContext is Request bounded by ctx, which must carry a
// deadline.
func (nc *Conn) RequestWithContext(ctx context.Context, subject string, data []byte, opts ...CallOption) (*Msg, error) {
	return nc.req.RequestContext(ctx, subject, data, opts...)
}

// RequestStream publishes data to subject and calls cb for each reply until
// max replies arrived (zero means no cap) or timeout elapsed.
func (nc *Conn) RequestStream(subject string, data []byte, timeout time.Duration, max int, cb MsgHandler, opts ...CallOption) (*Stream, error) {
	return nc.req.RequestStream(subject, data, timeout, max, cb, opts...)
}

// NewInbox returns a unique reply subject.
func (nc *Conn) NewInbox() string {
	return nc.req.NewInbox()
}

// Flush waits until the server has processed everything written so far,
// up to DefaultFlushTimeout.
func (nc *Conn) Flush() error {
	return nc.sup.Flush(DefaultFlushTimeout)
}

// FlushTimeout is Flush with an explicit timeout.
func (nc *Conn) FlushTimeout(timeout time.Duration) error {
	return nc.sup.Flush(timeout)
}

// FlushWithContext is Flush bounded by ctx.
func (nc *Conn) FlushWithContext(ctx context.Context) error {
	return nc.sup.FlushContext(ctx)
}

// Close closes the connection. Pending requests and flushes fail with
// ErrConnectionClosed; queued messages are dropped. Handlers still running
// finish in the background, so a handler may call Close.
func (nc *Conn) Close() {
	nc.sup.Close()
	nc.reg.WaitIdle()
}

// Status returns the connection state.
func (nc *Conn) Status() Status {
	return nc.sup.State()
}

// IsClosed reports whether the connection is closed for good.
func (nc *Conn) IsClosed() bool {
	return nc.Status() == CLOSED
}

// IsConnected reports whether the connection is up.
func (nc *Conn) IsConnected() bool {
	return nc.Status() == CONNECTED
}

// IsReconnecting reports whether the connection is being re-established.
func (nc *Conn) IsReconnecting() bool {
	return nc.Status() == RECONNECTING
}

// ConnectedURL returns the active endpoint, or "".
func (nc *Conn) ConnectedURL() string {
	return nc.sup.ConnectedURL()
}

// ConnectedServerID returns the server id of the active endpoint, or "".
func (nc *Conn) ConnectedServerID() string {
	return nc.sup.ConnectedServerID()
}

// ConnectedServerVersion returns the version of the active server, or "".
func (nc *Conn) ConnectedServerVersion() string {
	return nc.sup.ConnectedServerVersion()
}

// Servers returns every endpoint in the pool.
func (nc *Conn) Servers() []string {
	return nc.sup.Servers()
}

// DiscoveredServers returns the endpoints learned from the cluster.
func (nc *Conn) DiscoveredServers() []string {
	return nc.sup.DiscoveredServers()
}

// MaxPayload returns the largest payload the server accepts.
func (nc *Conn) MaxPayload() int64 {
	return nc.sup.MaxPayload()
}

// Stats returns traffic counters.
func (nc *Conn) Stats() Statistics {
	return nc.sup.Stats()
}

// Options returns the options the connection was made with.
func (nc *Conn) Options() Options {
	return nc.opts
}
