// Package request implements request/reply on top of subscriptions.
//
// A request publishes to a subject with a reply subject the responder
// answers on. Two correlation modes are supported:
//
//   - ModeSharedInbox (default): one wildcard subscription on
//     <prefix>.<nuid>.* serves every request of the connection. Each
//     request appends a fresh token and is found again by that token in
//     the pending table. Replies with unknown tokens are dropped.
//   - ModeEphemeral: every request subscribes to its own inbox with a
//     delivery cap, so the subscription goes away by itself once the
//     expected number of replies arrived.
//
// Every request has exactly one outcome. The timer is armed before the
// request is published; whichever of reply, timeout or Close comes first
// decides the outcome and the others are no-ops.
//
// Streaming requests invoke a callback once per reply in arrival order and
// complete after the requested number of replies or at the timeout. Each
// stream drains its replies on its own goroutine, so a slow callback holds
// up only its own stream. A timeout that fires while a callback runs takes
// effect once the callback returns.
package request
