package request

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/natsline/natsline-go/pkg/metrics"
	"github.com/natsline/natsline-go/pkg/natserr"
	"github.com/natsline/natsline-go/pkg/subscription"
)

// Result is the outcome of a request. Err is nil, natserr.ErrTimeout,
// natserr.ErrConnectionClosed or the error that kept the request from
// being published.
type Result struct {
	// Msg is the reply, or the last reply of a stream.
	Msg *subscription.Msg
	Err error
}

// call is one pending request.
type call struct {
	c       *Coordinator
	token   string
	reply   string
	mode    Mode
	created time.Time
	max     int
	onReply func(*subscription.Msg)

	received  atomic.Int64
	delivered atomic.Int64
	done      chan struct{}

	// deliverMu is held while onReply runs and while the timer decides the
	// outcome, so no callback starts after an expired stream is done.
	deliverMu sync.Mutex
	lastMsg   *subscription.Msg

	mu       sync.Mutex
	finished bool
	timer    *time.Timer
	sub      *subscription.Subscription
	result   Result
	queue    []*subscription.Msg
	draining bool
}

func newCall(c *Coordinator, token, reply string, mode Mode, max int, onReply func(*subscription.Msg)) *call {
	return &call{
		c:       c,
		token:   token,
		reply:   reply,
		mode:    mode,
		created: time.Now(),
		max:     max,
		onReply: onReply,
		done:    make(chan struct{}),
	}
}

// arm starts the timeout timer.
func (k *call) arm(timeout time.Duration) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.finished || timeout <= 0 {
		return
	}
	k.timer = time.AfterFunc(timeout, k.expire)
}

func (k *call) expire() {
	k.deliverMu.Lock()
	defer k.deliverMu.Unlock()
	if k.onReply != nil && k.delivered.Load() > 0 {
		k.finish(Result{Msg: k.lastMsg}, metrics.OutcomeOK)
		return
	}
	k.finish(Result{Err: natserr.ErrTimeout}, metrics.OutcomeTimeout)
}

// deliver accepts one reply. Replies after the outcome is decided, or
// beyond the cap, are dropped. Stream replies are queued for drain so a
// slow callback never holds up the subscription worker.
func (k *call) deliver(m *subscription.Msg) {
	k.mu.Lock()
	if k.finished {
		k.mu.Unlock()
		return
	}
	n := k.received.Add(1)
	if k.max > 0 && n > int64(k.max) {
		k.received.Add(-1)
		k.mu.Unlock()
		return
	}
	k.result.Msg = m

	if k.onReply == nil {
		complete := k.max > 0 && n == int64(k.max)
		k.mu.Unlock()
		if complete {
			k.finish(Result{Msg: m}, metrics.OutcomeOK)
		}
		return
	}

	k.queue = append(k.queue, m)
	start := !k.draining
	k.draining = true
	k.mu.Unlock()
	if start {
		go k.drain()
	}
}

// drain runs onReply for queued stream replies in arrival order.
func (k *call) drain() {
	for {
		k.mu.Lock()
		if len(k.queue) == 0 || k.finished {
			k.queue = nil
			k.draining = false
			k.mu.Unlock()
			return
		}
		m := k.queue[0]
		k.queue[0] = nil
		k.queue = k.queue[1:]
		k.mu.Unlock()

		n, ok := k.callback(m)
		if ok && k.max > 0 && n == int64(k.max) {
			k.finish(Result{Msg: m}, metrics.OutcomeOK)
		}
	}
}

// callback runs onReply for m unless the call already finished, and
// returns the number of replies handed to the callback so far.
func (k *call) callback(m *subscription.Msg) (n int64, ok bool) {
	k.deliverMu.Lock()
	defer k.deliverMu.Unlock()
	if k.isFinished() {
		return 0, false
	}
	defer func() {
		if p := recover(); p != nil {
			k.c.logger.Error("reply callback panicked", "reply", k.reply, "panic", p)
		}
		k.lastMsg = m
		n, ok = k.delivered.Add(1), true
	}()
	k.onReply(m)
	return 0, false
}

func (k *call) isFinished() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.finished
}

// finish records the outcome once and releases the call's resources. It
// reports whether this call decided the outcome.
func (k *call) finish(res Result, outcome string) bool {
	k.mu.Lock()
	if k.finished {
		k.mu.Unlock()
		return false
	}
	k.finished = true
	k.result = res
	if k.timer != nil {
		k.timer.Stop()
	}
	sub := k.sub
	k.mu.Unlock()

	k.c.pending.Delete(k.token)
	close(k.done)
	if sub != nil && sub.IsValid() {
		_ = sub.Unsubscribe()
	}
	k.c.metrics.RecordRequest(outcome, time.Since(k.created))
	return true
}

// bind attaches the ephemeral subscription. A call that already finished
// removes it at once.
func (k *call) bind(sub *subscription.Subscription) {
	k.mu.Lock()
	finished := k.finished
	if !finished {
		k.sub = sub
	}
	k.mu.Unlock()
	if finished && sub.IsValid() {
		_ = sub.Unsubscribe()
	}
}

func (k *call) wait() Result {
	<-k.done
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.result
}

// Stream is a pending streaming request.
type Stream struct {
	k *call
}

// Done is closed when the stream completes.
func (s *Stream) Done() <-chan struct{} { return s.k.done }

// Wait blocks until the stream completes. It must not be called from the
// reply callback.
func (s *Stream) Wait() Result { return s.k.wait() }

// Received returns the number of replies delivered to the callback.
func (s *Stream) Received() int { return int(s.k.delivered.Load()) }

// Reply returns the reply subject of the request.
func (s *Stream) Reply() string { return s.k.reply }
