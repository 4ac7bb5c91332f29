package subscription

import (
	"fmt"
)

// schedule puts sub on the run queue.
func (r *Registry) schedule(sub *Subscription) {
	r.runMu.Lock()
	defer r.runMu.Unlock()
	if r.stopped {
		return
	}
	r.runq = append(r.runq, sub)
	r.runCond.Signal()
}

// next blocks until a subscription is runnable. It returns nil once the
// registry is closed.
func (r *Registry) next() *Subscription {
	r.runMu.Lock()
	defer r.runMu.Unlock()
	for len(r.runq) == 0 && !r.stopped {
		r.runCond.Wait()
	}
	if r.stopped {
		return nil
	}
	sub := r.runq[0]
	r.runq[0] = nil
	r.runq = r.runq[1:]
	return sub
}

func (r *Registry) worker() {
	defer r.wg.Done()
	defer r.exited()
	for {
		sub := r.next()
		if sub == nil {
			return
		}
		for _, m := range sub.take(batchSize) {
			if sub.cancelled.Load() {
				break
			}
			r.deliver(sub, m)
		}
		if sub.yield() {
			r.schedule(sub)
		}
	}
}

// deliver runs the handler, recovering a panic into the error hook.
func (r *Registry) deliver(sub *Subscription, m *Msg) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("subscription handler panicked", "sid", sub.sid, "subject", sub.subject, "panic", p)
			r.report(fmt.Errorf("handler for sid %d on %q panicked: %v", sub.sid, sub.subject, p))
		}
	}()
	sub.delivered.Add(1)
	r.setBusy(1)
	defer r.setBusy(-1)
	sub.handler(m)
}

func (r *Registry) setBusy(delta int) {
	r.runMu.Lock()
	r.busy += delta
	r.runMu.Unlock()
	r.idleCond.Broadcast()
}

func (r *Registry) exited() {
	r.runMu.Lock()
	r.live--
	r.runMu.Unlock()
	r.idleCond.Broadcast()
}
