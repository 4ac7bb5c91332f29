package connection

import (
	"crypto/tls"
	"log/slog"
	"time"

	"github.com/natsline/natsline-go/pkg/auth"
	"github.com/natsline/natsline-go/pkg/log"
	"github.com/natsline/natsline-go/pkg/metrics"
	"github.com/natsline/natsline-go/pkg/transport"
	"github.com/natsline/natsline-go/pkg/wire"
)

// Defaults applied by New to zero-valued Config fields.
const (
	DefaultConnectTimeout       = 2 * time.Second
	DefaultMaxReconnectAttempts = 10
	DefaultReconnectBufSize     = 8 * 1024 * 1024
	DefaultWriteTimeout         = 10 * time.Second
)

// BufferPolicy decides what happens to a write that does not fit in the
// pending buffer while reconnecting.
type BufferPolicy uint8

const (
	// BufferDrop silently discards the write.
	BufferDrop BufferPolicy = iota

	// BufferBlock blocks the writer until the buffer drains on reconnect
	// or the supervisor closes.
	BufferBlock
)

// String returns the policy name.
func (p BufferPolicy) String() string {
	switch p {
	case BufferDrop:
		return "drop"
	case BufferBlock:
		return "block"
	default:
		return "unknown"
	}
}

// Handler receives inbound traffic and lifecycle callbacks. The
// subscription registry implements it.
type Handler interface {
	// HandleMsg is called from the read loop for every MSG. It must not
	// block.
	HandleMsg(msg *wire.Msg)

	// Resubscribe appends the SUB and UNSUB lines that restore all live
	// subscriptions on a fresh connection. It is called with the supervisor
	// lock held and must not call back into the supervisor.
	Resubscribe(dst []byte) []byte

	// ConnectionClosed is called once when the supervisor reaches CLOSED.
	ConnectionClosed()
}

// Hooks are user notifications. They run in order on a dedicated goroutine,
// never under a supervisor lock.
type Hooks struct {
	// OnDisconnect fires when an active connection is lost or closed.
	OnDisconnect func()

	// OnReconnect fires with the endpoint URL after a successful reconnect.
	OnReconnect func(endpoint string)

	// OnClose fires once when the supervisor reaches CLOSED.
	OnClose func()

	// OnError fires for asynchronous errors: transport loss, stale
	// connections, -ERR lines and errors reported by other components.
	OnError func(err error)

	// OnDiscoveredServers fires when INFO announces new cluster members.
	OnDiscoveredServers func(urls []string)
}

// Config configures a Supervisor.
type Config struct {
	// Servers lists endpoint URLs ("nats://host:port", "tls://host",
	// "host:port"). Userinfo in a URL supplies credentials.
	Servers []string

	// NoRandomize keeps Servers in the configured order.
	NoRandomize bool

	// IgnoreDiscoveredServers ignores connect_urls announced by INFO.
	IgnoreDiscoveredServers bool

	// CONNECT fields.
	Name     string
	Verbose  bool
	Pedantic bool
	NoEcho   bool
	User     string
	Password string
	Token    string

	// Signer answers the server nonce with an NKEY signature.
	Signer auth.Signer

	// TLSConfig enables TLS. Secure requires it even when the server does
	// not ask for it.
	TLSConfig *tls.Config
	Secure    bool

	AllowReconnect       bool
	MaxReconnectAttempts int
	ReconnectWait        time.Duration
	Backoff              *BackoffConfig

	ConnectTimeout      time.Duration
	PingInterval        time.Duration
	MaxPingsOutstanding int
	WriteTimeout        time.Duration

	// ReconnectBufSize bounds the pending buffer in bytes. A negative value
	// disables buffering.
	ReconnectBufSize int
	BufferPolicy     BufferPolicy

	Dialer         transport.Dialer
	WebSocket      *transport.WebSocketDialer
	Logger         *slog.Logger
	ProtocolLogger log.Logger
	Metrics        metrics.Collector
	Hooks          Hooks
}

// DefaultConfig returns a configuration with reconnection enabled.
func DefaultConfig() Config {
	return Config{
		AllowReconnect:       true,
		MaxReconnectAttempts: DefaultMaxReconnectAttempts,
		ReconnectWait:        DefaultReconnectWait,
		ConnectTimeout:       DefaultConnectTimeout,
		PingInterval:         transport.DefaultPingInterval,
		MaxPingsOutstanding:  transport.DefaultMaxOutstanding,
		WriteTimeout:         DefaultWriteTimeout,
		ReconnectBufSize:     DefaultReconnectBufSize,
	}
}

func (c *Config) applyDefaults() {
	if c.ReconnectWait <= 0 {
		c.ReconnectWait = DefaultReconnectWait
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.PingInterval <= 0 {
		c.PingInterval = transport.DefaultPingInterval
	}
	if c.MaxPingsOutstanding <= 0 {
		c.MaxPingsOutstanding = transport.DefaultMaxOutstanding
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.ReconnectBufSize == 0 {
		c.ReconnectBufSize = DefaultReconnectBufSize
	}
	if c.Dialer == nil {
		c.Dialer = &transport.TCPDialer{}
	}
	if c.WebSocket == nil {
		c.WebSocket = &transport.WebSocketDialer{TLSConfig: c.TLSConfig}
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.DiscardHandler)
	}
	if c.ProtocolLogger == nil {
		c.ProtocolLogger = log.NoopLogger{}
	}
	if c.Metrics == nil {
		c.Metrics = metrics.NewNop()
	}
}
