package subscription

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/natsline/natsline-go/pkg/log"
	"github.com/natsline/natsline-go/pkg/metrics"
	"github.com/natsline/natsline-go/pkg/natserr"
	"github.com/natsline/natsline-go/pkg/wire"
)

// Registry owns the sid → subscription mapping of one connection.
//
// The connection supervisor calls Resubscribe while holding its own lock,
// so the registry never calls the Sender with mu held.
type Registry struct {
	sender  Sender
	config  Config
	logger  *slog.Logger
	plog    log.Logger
	capture bool
	metrics metrics.Collector

	mu      sync.Mutex
	subs    map[uint64]*Subscription
	nextSid uint64
	closed  bool

	runMu    sync.Mutex
	runCond  *sync.Cond
	idleCond *sync.Cond
	runq     []*Subscription
	stopped  bool
	live     int // workers not yet exited
	busy     int // workers inside a handler
	wg       sync.WaitGroup
}

// NewRegistry creates a registry writing through sender and starts its
// dispatch workers.
func NewRegistry(sender Sender, config Config) *Registry {
	if config.Workers <= 0 {
		config.Workers = DefaultWorkers
	}
	if config.PendingLimit <= 0 {
		config.PendingLimit = DefaultPendingLimit
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}
	if config.Metrics == nil {
		config.Metrics = metrics.NewNop()
	}
	if config.ProtocolLogger == nil {
		config.ProtocolLogger = log.NoopLogger{}
	}

	r := &Registry{
		sender:  sender,
		config:  config,
		logger:  config.Logger,
		plog:    config.ProtocolLogger,
		capture: log.Enabled(config.ProtocolLogger),
		metrics: config.Metrics,
		subs:    make(map[uint64]*Subscription),
	}
	r.runCond = sync.NewCond(&r.runMu)
	r.idleCond = sync.NewCond(&r.runMu)

	r.live = config.Workers
	r.wg.Add(config.Workers)
	for range config.Workers {
		go r.worker()
	}
	return r
}

// Subscribe registers handler for subject and writes SUB. A non-empty
// queue joins a queue group.
func (r *Registry) Subscribe(subject, queue string, handler MsgHandler, opts ...SubOption) (*Subscription, error) {
	if !wire.ValidSubject(subject) {
		return nil, fmt.Errorf("%w: %q", natserr.ErrBadSubject, subject)
	}
	if queue != "" && !wire.ValidQueue(queue) {
		return nil, fmt.Errorf("%w: %q", natserr.ErrBadQueue, queue)
	}
	if handler == nil {
		return nil, fmt.Errorf("%w: nil handler", natserr.ErrInvalidArg)
	}

	o := subOptions{pendingLimit: r.config.PendingLimit}
	for _, opt := range opts {
		opt(&o)
	}
	if o.max < 0 {
		return nil, fmt.Errorf("%w: negative max deliveries", natserr.ErrInvalidArg)
	}
	if o.pendingLimit <= 0 {
		o.pendingLimit = r.config.PendingLimit
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, natserr.ErrConnectionClosed
	}
	r.nextSid++
	sub := &Subscription{
		reg:     r,
		sid:     r.nextSid,
		subject: subject,
		queue:   queue,
		handler: handler,
		limit:   o.pendingLimit,
		max:     o.max,
	}
	r.subs[sub.sid] = sub
	r.metrics.SetSubscriptions(len(r.subs))
	r.mu.Unlock()

	err := r.sender.SendSubscribe(sub.sid, subject, queue)
	if err == nil && o.max > 0 {
		err = r.sender.SendUnsubscribe(sub.sid, o.max)
	}
	if err != nil {
		r.remove(sub, "subscribe failed")
		return nil, err
	}

	r.logger.Debug("subscribed", "sid", sub.sid, "subject", subject, "queue", queue, "max", o.max)
	r.captureState(sub, "ACTIVE", "")
	return sub, nil
}

// Unsubscribe removes sub locally, dropping queued messages, then writes
// UNSUB.
func (r *Registry) Unsubscribe(sub *Subscription) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return natserr.ErrConnectionClosed
	}
	if sub == nil || sub.reg != r || sub.removed {
		r.mu.Unlock()
		return natserr.ErrBadSubscription
	}
	r.removeLocked(sub)
	r.mu.Unlock()

	sub.cancel()
	r.logger.Debug("unsubscribed", "sid", sub.sid, "subject", sub.subject)
	r.captureState(sub, "REMOVED", "unsubscribe")
	return r.sender.SendUnsubscribe(sub.sid, 0)
}

// AutoUnsubscribe caps sub at max arrivals in total. A cap already reached
// removes the subscription at once.
func (r *Registry) AutoUnsubscribe(sub *Subscription, max int) error {
	if max <= 0 {
		return fmt.Errorf("%w: max must be positive", natserr.ErrInvalidArg)
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return natserr.ErrConnectionClosed
	}
	if sub == nil || sub.reg != r || sub.removed {
		r.mu.Unlock()
		return natserr.ErrBadSubscription
	}
	sub.max = max
	reached := sub.received >= max
	if reached {
		r.removeLocked(sub)
	}
	r.mu.Unlock()

	if reached {
		r.captureState(sub, "REMOVED", "max deliveries")
	}
	return r.sender.SendUnsubscribe(sub.sid, max)
}

// Dispatch routes an inbound message to its subscription. It is called
// from the connection's read loop and never blocks on handlers.
func (r *Registry) Dispatch(m *wire.Msg) {
	r.mu.Lock()
	sub, ok := r.subs[m.Sid]
	if !ok {
		r.mu.Unlock()
		return
	}
	sub.received++
	last := sub.max > 0 && sub.received >= sub.max
	if last {
		r.removeLocked(sub)
	}
	r.mu.Unlock()

	if last {
		r.captureState(sub, "REMOVED", "max deliveries")
	}

	schedule, startedSlow, ok := sub.enqueue(newMsg(m, sub))
	if !ok {
		sub.dropped.Add(1)
		r.metrics.RecordSlowConsumer()
		if startedSlow {
			r.logger.Warn("slow consumer", "sid", sub.sid, "subject", sub.subject, "limit", sub.limit)
			r.report(fmt.Errorf("%w: sid %d on %q", natserr.ErrSlowConsumer, sub.sid, sub.subject))
		}
		return
	}
	if schedule {
		r.schedule(sub)
	}
}

// HandleMsg implements connection.Handler.
func (r *Registry) HandleMsg(m *wire.Msg) {
	r.Dispatch(m)
}

// Resubscribe appends SUB, and UNSUB with the remaining count for capped
// subscriptions, for every live subscription in sid order.
func (r *Registry) Resubscribe(dst []byte) []byte {
	r.mu.Lock()
	defer r.mu.Unlock()

	sids := make([]uint64, 0, len(r.subs))
	for sid := range r.subs {
		sids = append(sids, sid)
	}
	slices.Sort(sids)

	for _, sid := range sids {
		sub := r.subs[sid]
		dst = wire.AppendSub(dst, sub.subject, sub.queue, sid)
		if sub.max > 0 {
			dst = wire.AppendUnsub(dst, sid, sub.max-sub.received)
		}
	}
	return dst
}

// ConnectionClosed implements connection.Handler.
func (r *Registry) ConnectionClosed() {
	r.Close()
}

// Count returns the number of live subscriptions.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}

// Close removes every subscription, drops queued messages and stops the
// workers. A handler running at the time finishes; Close does not wait
// for it, so handlers may call Close.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	subs := make([]*Subscription, 0, len(r.subs))
	for _, sub := range r.subs {
		sub.removed = true
		subs = append(subs, sub)
	}
	clear(r.subs)
	r.metrics.SetSubscriptions(0)
	r.mu.Unlock()

	for _, sub := range subs {
		sub.cancel()
	}

	r.runMu.Lock()
	r.stopped = true
	r.runq = nil
	r.runCond.Broadcast()
	r.runMu.Unlock()
}

// Wait blocks until the workers have exited after Close.
func (r *Registry) Wait() {
	r.wg.Wait()
}

// WaitIdle blocks until every worker has exited after Close, except those
// still running a handler. Unlike Wait it may be called from a handler.
func (r *Registry) WaitIdle() {
	r.runMu.Lock()
	defer r.runMu.Unlock()
	for r.live > r.busy {
		r.idleCond.Wait()
	}
}

func (r *Registry) remove(sub *Subscription, reason string) {
	r.mu.Lock()
	removed := !sub.removed
	if removed {
		r.removeLocked(sub)
	}
	r.mu.Unlock()
	sub.cancel()
	if removed {
		r.captureState(sub, "REMOVED", reason)
	}
}

func (r *Registry) removeLocked(sub *Subscription) {
	sub.removed = true
	delete(r.subs, sub.sid)
	r.metrics.SetSubscriptions(len(r.subs))
}

func (r *Registry) report(err error) {
	if fn := r.config.OnError; fn != nil {
		fn(err)
	}
}

func (r *Registry) captureState(sub *Subscription, state, reason string) {
	if !r.capture {
		return
	}
	r.plog.Log(log.Event{
		Timestamp: time.Now(),
		Direction: log.DirectionOut,
		Layer:     log.LayerClient,
		Category:  log.CategoryState,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntitySubscription,
			NewState: state,
			Reason:   fmt.Sprintf("sid %d %s %s", sub.sid, sub.subject, reason),
		},
	})
}
