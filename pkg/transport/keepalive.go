package transport

import (
	"context"
	"sync"
	"time"
)

// Keep-alive constants.
const (
	// DefaultPingInterval is the default interval between heartbeat pings.
	DefaultPingInterval = 2 * time.Minute

	// DefaultMaxOutstanding is the default number of unanswered pings
	// tolerated before the connection is declared stale.
	DefaultMaxOutstanding = 2
)

// KeepAliveConfig configures keep-alive behavior.
type KeepAliveConfig struct {
	// PingInterval is the interval between pings.
	PingInterval time.Duration

	// MaxOutstanding is the number of unanswered pings tolerated. The tick
	// that would exceed it reports a timeout instead of pinging.
	MaxOutstanding int
}

// DefaultKeepAliveConfig returns the default keep-alive configuration.
func DefaultKeepAliveConfig() KeepAliveConfig {
	return KeepAliveConfig{
		PingInterval:   DefaultPingInterval,
		MaxOutstanding: DefaultMaxOutstanding,
	}
}

// DetectionDelay is the longest a silent peer goes unnoticed.
func (c KeepAliveConfig) DetectionDelay() time.Duration {
	return c.PingInterval * time.Duration(c.MaxOutstanding+1)
}

// KeepAlive monitors connection liveness with periodic pings.
//
// Pongs carry no sequence number, so any pong clears the outstanding count.
type KeepAlive struct {
	config KeepAliveConfig

	sendPing       func() error
	onTimeout      func()
	onPongReceived func(rtt time.Duration)

	outstanding  int
	lastPingTime time.Time
	lastPongTime time.Time

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	pongCh  chan struct{}
}

// NewKeepAlive creates a new keep-alive monitor. sendPing is called from the
// monitor goroutine on every tick; onTimeout is called once when the peer
// stops answering, after which the monitor exits.
func NewKeepAlive(config KeepAliveConfig, sendPing func() error, onTimeout func()) *KeepAlive {
	if config.PingInterval <= 0 {
		config.PingInterval = DefaultPingInterval
	}
	if config.MaxOutstanding <= 0 {
		config.MaxOutstanding = DefaultMaxOutstanding
	}

	return &KeepAlive{
		config:    config,
		sendPing:  sendPing,
		onTimeout: onTimeout,
		stopCh:    make(chan struct{}),
		pongCh:    make(chan struct{}, 1),
	}
}

// SetPongReceivedCallback sets a callback invoked with the round trip time
// whenever a pong clears outstanding pings.
func (ka *KeepAlive) SetPongReceivedCallback(cb func(rtt time.Duration)) {
	ka.mu.Lock()
	defer ka.mu.Unlock()
	ka.onPongReceived = cb
}

// Start begins the keep-alive monitoring loop.
func (ka *KeepAlive) Start(ctx context.Context) {
	ka.mu.Lock()
	if ka.running {
		ka.mu.Unlock()
		return
	}
	ka.running = true
	ka.stopCh = make(chan struct{})
	stopCh := ka.stopCh
	ka.mu.Unlock()

	go ka.loop(ctx, stopCh)
}

// Stop stops the keep-alive monitoring.
func (ka *KeepAlive) Stop() {
	ka.mu.Lock()
	defer ka.mu.Unlock()

	if !ka.running {
		return
	}

	ka.running = false
	close(ka.stopCh)
}

// PongReceived should be called for every pong read from the peer.
func (ka *KeepAlive) PongReceived() {
	select {
	case ka.pongCh <- struct{}{}:
	default:
		// A pong is already queued; one is enough to clear the count.
	}
}

// IsRunning returns true if keep-alive monitoring is active.
func (ka *KeepAlive) IsRunning() bool {
	ka.mu.Lock()
	defer ka.mu.Unlock()
	return ka.running
}

// Stats returns current keep-alive statistics.
func (ka *KeepAlive) Stats() KeepAliveStats {
	ka.mu.Lock()
	defer ka.mu.Unlock()
	return KeepAliveStats{
		LastPingTime: ka.lastPingTime,
		LastPongTime: ka.lastPongTime,
		Outstanding:  ka.outstanding,
	}
}

// KeepAliveStats contains keep-alive statistics.
type KeepAliveStats struct {
	LastPingTime time.Time
	LastPongTime time.Time
	Outstanding  int
}

func (ka *KeepAlive) loop(ctx context.Context, stopCh chan struct{}) {
	ticker := time.NewTicker(ka.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			if !ka.handleTick() {
				return
			}
		case <-ka.pongCh:
			ka.handlePong()
		}
	}
}

// handleTick sends the next ping, or reports a timeout and returns false
// when too many are unanswered.
func (ka *KeepAlive) handleTick() bool {
	ka.mu.Lock()
	if ka.outstanding+1 > ka.config.MaxOutstanding {
		ka.running = false
		ka.mu.Unlock()
		if ka.onTimeout != nil {
			ka.onTimeout()
		}
		return false
	}
	ka.outstanding++
	ka.lastPingTime = time.Now()
	ka.mu.Unlock()

	// A failed send surfaces on the connection's own error path; the
	// outstanding count still catches a peer that never answers.
	_ = ka.sendPing()
	return true
}

func (ka *KeepAlive) handlePong() {
	ka.mu.Lock()
	now := time.Now()
	ka.lastPongTime = now
	hadOutstanding := ka.outstanding > 0
	ka.outstanding = 0
	cb := ka.onPongReceived
	rtt := now.Sub(ka.lastPingTime)
	ka.mu.Unlock()

	if hadOutstanding && cb != nil {
		go cb(rtt)
	}
}
