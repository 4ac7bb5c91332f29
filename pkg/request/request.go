package request

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/natsline/natsline-go/pkg/metrics"
	"github.com/natsline/natsline-go/pkg/natserr"
	"github.com/natsline/natsline-go/pkg/nuid"
	"github.com/natsline/natsline-go/pkg/subscription"
	"github.com/natsline/natsline-go/pkg/wire"
)

// DefaultInboxPrefix is the first token of generated reply subjects.
const DefaultInboxPrefix = "_INBOX"

// Mode selects how replies are correlated with requests.
type Mode uint8

const (
	// ModeSharedInbox routes all replies through one wildcard subscription.
	ModeSharedInbox Mode = iota

	// ModeEphemeral subscribes once per request.
	ModeEphemeral
)

// String returns the mode name.
func (m Mode) String() string {
	switch m {
	case ModeSharedInbox:
		return "SHARED_INBOX"
	case ModeEphemeral:
		return "EPHEMERAL"
	default:
		return "UNKNOWN"
	}
}

// ParseMode parses a mode name as written in configuration files.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.ReplaceAll(s, "-", "_")) {
	case "", "shared", "shared_inbox":
		return ModeSharedInbox, nil
	case "ephemeral", "old", "old_style":
		return ModeEphemeral, nil
	}
	return 0, fmt.Errorf("%w: unknown request mode %q", natserr.ErrInvalidArg, s)
}

// Publisher writes PUB frames. The connection supervisor implements it.
type Publisher interface {
	Publish(subject, reply string, data []byte) error
}

// Config holds coordinator configuration.
type Config struct {
	// Mode is the default correlation mode.
	Mode Mode

	// InboxPrefix replaces "_INBOX" in reply subjects.
	InboxPrefix string

	// Logger receives operational logs. Nil disables them.
	Logger *slog.Logger

	// Metrics receives request outcomes and latencies.
	Metrics metrics.Collector
}

// CallOption adjusts a single request.
type CallOption func(*callOptions)

type callOptions struct {
	mode Mode
}

// WithMode overrides the correlation mode for one request.
func WithMode(m Mode) CallOption {
	return func(o *callOptions) { o.mode = m }
}

// Coordinator correlates replies with pending requests.
type Coordinator struct {
	reg     *subscription.Registry
	pub     Publisher
	tokens  *nuid.Generator
	config  Config
	logger  *slog.Logger
	metrics metrics.Collector

	pending *xsync.Map[string, *call]

	mu     sync.Mutex
	inbox  *subscription.Subscription
	prefix string
	closed bool
}

// New creates a coordinator subscribing through reg and publishing
// through pub. Tokens come from the connection's generator.
func New(reg *subscription.Registry, pub Publisher, tokens *nuid.Generator, config Config) *Coordinator {
	if config.InboxPrefix == "" {
		config.InboxPrefix = DefaultInboxPrefix
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}
	if config.Metrics == nil {
		config.Metrics = metrics.NewNop()
	}
	if tokens == nil {
		tokens = nuid.NewGenerator()
	}
	return &Coordinator{
		reg:     reg,
		pub:     pub,
		tokens:  tokens,
		config:  config,
		logger:  config.Logger,
		metrics: config.Metrics,
		pending: xsync.NewMap[string, *call](),
	}
}

// NewInbox returns a unique reply subject.
func (c *Coordinator) NewInbox() string {
	return c.config.InboxPrefix + "." + c.tokens.Next()
}

// Mode returns the default correlation mode.
func (c *Coordinator) Mode() Mode {
	return c.config.Mode
}

// Pending returns the number of requests awaiting an outcome.
func (c *Coordinator) Pending() int {
	return c.pending.Size()
}

// Request publishes data to subject and waits for one reply.
func (c *Coordinator) Request(subject string, data []byte, timeout time.Duration, opts ...CallOption) (*subscription.Msg, error) {
	if timeout <= 0 {
		return nil, fmt.Errorf("%w: timeout must be positive", natserr.ErrInvalidArg)
	}
	k, err := c.start(subject, data, timeout, 1, nil, opts)
	if err != nil {
		return nil, err
	}
	res := k.wait()
	return res.Msg, res.Err
}

// RequestContext is Request bounded by ctx. The context deadline is the
// request timeout; cancelling ctx abandons the request.
func (c *Coordinator) RequestContext(ctx context.Context, subject string, data []byte, opts ...CallOption) (*subscription.Msg, error) {
	deadline, ok := ctx.Deadline()
	if !ok {
		return nil, fmt.Errorf("%w: context has no deadline", natserr.ErrInvalidArg)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	k, err := c.start(subject, data, time.Until(deadline), 1, nil, opts)
	if err != nil {
		return nil, err
	}

	select {
	case <-k.done:
	case <-ctx.Done():
		err := ctx.Err()
		if errors.Is(err, context.DeadlineExceeded) {
			err = natserr.ErrTimeout
		}
		k.finish(Result{Err: err}, metrics.OutcomeTimeout)
	}
	res := k.wait()
	return res.Msg, res.Err
}

// RequestStream publishes data to subject and calls onReply for each reply
// in arrival order. The stream completes after max replies (zero means no
// cap) or when timeout elapses. A stream ending by timeout with at least
// one reply succeeds.
func (c *Coordinator) RequestStream(subject string, data []byte, timeout time.Duration, max int,
	onReply func(*subscription.Msg), opts ...CallOption,
) (*Stream, error) {
	if timeout <= 0 {
		return nil, fmt.Errorf("%w: timeout must be positive", natserr.ErrInvalidArg)
	}
	if max < 0 {
		return nil, fmt.Errorf("%w: negative max responses", natserr.ErrInvalidArg)
	}
	if onReply == nil {
		onReply = func(*subscription.Msg) {}
	}
	k, err := c.start(subject, data, timeout, max, onReply, opts)
	if err != nil {
		return nil, err
	}
	return &Stream{k: k}, nil
}

func (c *Coordinator) start(subject string, data []byte, timeout time.Duration, max int,
	onReply func(*subscription.Msg), opts []CallOption,
) (*call, error) {
	if !wire.ValidPublishSubject(subject) {
		return nil, fmt.Errorf("%w: %q", natserr.ErrBadSubject, subject)
	}
	o := callOptions{mode: c.config.Mode}
	for _, opt := range opts {
		opt(&o)
	}

	var k *call
	switch o.mode {
	case ModeEphemeral:
		token := c.tokens.Next()
		k = newCall(c, token, c.config.InboxPrefix+"."+token, ModeEphemeral, max, onReply)
	default:
		prefix, err := c.sharedInbox()
		if err != nil {
			return nil, err
		}
		token := c.tokens.Next()
		k = newCall(c, token, prefix+token, ModeSharedInbox, max, onReply)
	}

	c.mu.Lock()
	closed := c.closed
	if !closed {
		c.pending.Store(k.token, k)
	}
	c.mu.Unlock()
	if closed {
		return nil, natserr.ErrConnectionClosed
	}

	if k.mode == ModeEphemeral {
		var subOpts []subscription.SubOption
		if max > 0 {
			subOpts = append(subOpts, subscription.WithMaxDeliveries(max))
		}
		sub, err := c.reg.Subscribe(k.reply, "", k.deliver, subOpts...)
		if err != nil {
			k.finish(Result{Err: err}, metrics.OutcomeError)
			return nil, err
		}
		k.bind(sub)
	}

	k.arm(timeout)
	if err := c.pub.Publish(subject, k.reply, data); err != nil {
		k.finish(Result{Err: err}, metrics.OutcomeError)
		return nil, err
	}
	c.logger.Debug("request published", "subject", subject, "reply", k.reply, "mode", k.mode.String(), "max", max)
	return k, nil
}

// sharedInbox returns the shared reply prefix, subscribing on first use.
func (c *Coordinator) sharedInbox() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return "", natserr.ErrConnectionClosed
	}
	if c.inbox != nil {
		return c.prefix, nil
	}

	prefix := c.NewInbox() + "."
	sub, err := c.reg.Subscribe(prefix+"*", "", func(m *subscription.Msg) { c.route(prefix, m) })
	if err != nil {
		return "", fmt.Errorf("create response inbox: %w", err)
	}
	c.inbox = sub
	c.prefix = prefix
	c.logger.Debug("response inbox created", "subject", sub.Subject(), "sid", sub.Sid())
	return prefix, nil
}

// route demultiplexes a shared-inbox reply by its trailing token.
func (c *Coordinator) route(prefix string, m *subscription.Msg) {
	token, ok := strings.CutPrefix(m.Subject, prefix)
	if !ok {
		return
	}
	k, ok := c.pending.Load(token)
	if !ok {
		c.logger.Debug("dropping reply without pending request", "subject", m.Subject)
		return
	}
	k.deliver(m)
}

// Close fails every pending request with natserr.ErrConnectionClosed.
// New requests fail the same way.
func (c *Coordinator) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	var calls []*call
	c.pending.Range(func(_ string, k *call) bool {
		calls = append(calls, k)
		return true
	})
	for _, k := range calls {
		k.finish(Result{Err: natserr.ErrConnectionClosed}, metrics.OutcomeClosed)
	}
}
