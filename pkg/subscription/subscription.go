package subscription

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/natsline/natsline-go/pkg/log"
	"github.com/natsline/natsline-go/pkg/metrics"
	"github.com/natsline/natsline-go/pkg/natserr"
	"github.com/natsline/natsline-go/pkg/wire"
)

// Default registry limits.
const (
	DefaultWorkers      = 4
	DefaultPendingLimit = 65536

	// batchSize bounds how many messages a worker takes from one queue
	// before yielding to other subscriptions.
	batchSize = 64
)

// Config holds registry configuration.
type Config struct {
	// Workers is the number of dispatch goroutines.
	Workers int

	// PendingLimit is the default per-subscription queue bound.
	PendingLimit int

	// Logger receives operational logs. Nil disables them.
	Logger *slog.Logger

	// ProtocolLogger receives subscription state events.
	ProtocolLogger log.Logger

	// Metrics receives the live subscription gauge and slow consumer drops.
	Metrics metrics.Collector

	// OnError receives slow consumer reports and recovered handler panics.
	// It must not block.
	OnError func(error)
}

// DefaultConfig returns the default registry configuration.
func DefaultConfig() Config {
	return Config{
		Workers:      DefaultWorkers,
		PendingLimit: DefaultPendingLimit,
	}
}

// Sender writes subscription frames. The connection supervisor implements
// it.
type Sender interface {
	SendSubscribe(sid uint64, subject, queue string) error
	SendUnsubscribe(sid uint64, max int) error
	Publish(subject, reply string, data []byte) error
}

// MsgHandler processes a delivered message.
type MsgHandler func(msg *Msg)

// Msg is a message delivered to a subscription handler.
type Msg struct {
	Subject string
	Reply   string
	Data    []byte
	Sub     *Subscription
}

// Respond publishes data to the message's reply subject.
func (m *Msg) Respond(data []byte) error {
	if m.Reply == "" {
		return fmt.Errorf("%w: message has no reply subject", natserr.ErrInvalidArg)
	}
	if m.Sub == nil {
		return fmt.Errorf("%w: message is not bound to a subscription", natserr.ErrInvalidArg)
	}
	return m.Sub.reg.sender.Publish(m.Reply, "", data)
}

// SubOption configures a subscription.
type SubOption func(*subOptions)

type subOptions struct {
	max          int
	pendingLimit int
}

// WithMaxDeliveries removes the subscription after n messages. The server
// is told with UNSUB right after SUB.
func WithMaxDeliveries(n int) SubOption {
	return func(o *subOptions) { o.max = n }
}

// WithPendingLimit bounds the subscription's queue.
func WithPendingLimit(n int) SubOption {
	return func(o *subOptions) { o.pendingLimit = n }
}

// Subscription is a handle to a registered subscription.
type Subscription struct {
	reg     *Registry
	sid     uint64
	subject string
	queue   string
	handler MsgHandler
	limit   int

	// Guarded by reg.mu.
	max      int
	received int
	removed  bool

	// cancelled drops queued messages that have not reached the handler.
	cancelled atomic.Bool
	delivered atomic.Uint64
	dropped   atomic.Uint64

	qmu       sync.Mutex
	pending   []*Msg
	scheduled bool
	slow      bool
}

// Sid returns the subscription id.
func (s *Subscription) Sid() uint64 { return s.sid }

// Subject returns the subscribed subject.
func (s *Subscription) Subject() string { return s.subject }

// Queue returns the queue group, or "".
func (s *Subscription) Queue() string { return s.queue }

// Delivered returns the number of messages handed to the handler.
func (s *Subscription) Delivered() uint64 { return s.delivered.Load() }

// Dropped returns the number of messages dropped by a full queue.
func (s *Subscription) Dropped() uint64 { return s.dropped.Load() }

// Pending returns the number of queued messages.
func (s *Subscription) Pending() int {
	s.qmu.Lock()
	defer s.qmu.Unlock()
	return len(s.pending)
}

// IsValid reports whether the subscription is still registered.
func (s *Subscription) IsValid() bool {
	s.reg.mu.Lock()
	defer s.reg.mu.Unlock()
	return !s.removed
}

// Unsubscribe removes the subscription and tells the server.
func (s *Subscription) Unsubscribe() error {
	return s.reg.Unsubscribe(s)
}

// AutoUnsubscribe removes the subscription once max messages have arrived,
// counting those already received.
func (s *Subscription) AutoUnsubscribe(max int) error {
	return s.reg.AutoUnsubscribe(s, max)
}

// enqueue appends a message to the queue. It reports whether the
// subscription must be put on the run queue, and whether the message was
// dropped at the start of a slow consumer episode.
func (s *Subscription) enqueue(m *Msg) (schedule, startedSlow, ok bool) {
	s.qmu.Lock()
	defer s.qmu.Unlock()

	if len(s.pending) >= s.limit {
		startedSlow = !s.slow
		s.slow = true
		return false, startedSlow, false
	}
	s.slow = false
	s.pending = append(s.pending, m)
	if s.scheduled {
		return false, false, true
	}
	s.scheduled = true
	return true, false, true
}

// take removes up to n queued messages.
func (s *Subscription) take(n int) []*Msg {
	s.qmu.Lock()
	defer s.qmu.Unlock()

	if n > len(s.pending) {
		n = len(s.pending)
	}
	batch := make([]*Msg, n)
	copy(batch, s.pending)
	clear(s.pending[:n])
	s.pending = s.pending[n:]
	return batch
}

// yield ends a worker's turn. It reports whether messages arrived during
// the turn and the subscription stays scheduled.
func (s *Subscription) yield() bool {
	s.qmu.Lock()
	defer s.qmu.Unlock()

	if len(s.pending) > 0 && !s.cancelled.Load() {
		return true
	}
	s.scheduled = false
	return false
}

// cancel drops the queue. Messages already handed to the handler are not
// affected.
func (s *Subscription) cancel() {
	s.cancelled.Store(true)
	s.qmu.Lock()
	clear(s.pending)
	s.pending = nil
	s.qmu.Unlock()
}

func newMsg(m *wire.Msg, sub *Subscription) *Msg {
	return &Msg{Subject: m.Subject, Reply: m.Reply, Data: m.Data, Sub: sub}
}
