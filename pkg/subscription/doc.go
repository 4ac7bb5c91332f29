// Package subscription maps subscription ids (sids) to message handlers and
// dispatches inbound messages to them.
//
// # Sids
//
// Sids are allocated from 1 in call order and never reused for the life of
// a registry. Request/reply inboxes draw from the same counter.
//
// # Dispatch
//
// The connection's read loop hands every MSG to Dispatch. Dispatch counts
// the arrival against the subscription's delivery cap and appends the
// message to the subscription's bounded queue. The arrival that reaches the
// cap removes the subscription in the same critical section, so later
// arrivals for that sid are dropped.
//
// A small worker pool drains the queues. A subscription is scheduled on at
// most one worker at a time: messages for one sid reach the handler in the
// order they arrived, while different sids run concurrently.
//
// # Slow consumers
//
// A queue that is full drops the new message. ErrSlowConsumer is reported
// once per episode; the episode ends when a message fits again.
//
// # Unsubscribe
//
// Unsubscribe removes the subscription locally first, dropping anything
// still queued, and then writes UNSUB. Messages the server sent before it
// processed the UNSUB may still arrive; they are discarded here. A flush
// after Unsubscribe is the hard barrier.
//
// # Reconnect
//
// Resubscribe appends SUB (and UNSUB with the remaining count for capped
// subscriptions) for every live subscription in sid order. The connection
// supervisor writes these before any buffered publish.
package subscription
