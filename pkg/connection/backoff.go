package connection

import (
	"math/rand/v2"
	"sync"
	"time"
)

// Reconnect wait defaults.
const (
	// DefaultReconnectWait is the wait between two attempts on one endpoint.
	DefaultReconnectWait = 2 * time.Second

	// DefaultMaxBackoff caps a growing backoff.
	DefaultMaxBackoff = 60 * time.Second
)

// BackoffConfig customizes the wait between reconnect attempts.
//
// The zero value (apart from Initial) gives a fixed interval, which is the
// classic reconnect behavior. Multiplier > 1 grows the wait after each
// attempt up to Max; Jitter adds up to that fraction of the wait at random.
type BackoffConfig struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
	Jitter     float64
}

// Backoff calculates reconnect delays with optional growth and jitter.
type Backoff struct {
	mu sync.Mutex

	current    time.Duration
	initial    time.Duration
	max        time.Duration
	multiplier float64
	jitter     float64

	attempts int
}

// NewBackoff creates a fixed-interval backoff of DefaultReconnectWait.
func NewBackoff() *Backoff {
	return NewBackoffWithConfig(BackoffConfig{})
}

// NewBackoffWithConfig creates a backoff with custom settings.
func NewBackoffWithConfig(cfg BackoffConfig) *Backoff {
	if cfg.Initial <= 0 {
		cfg.Initial = DefaultReconnectWait
	}
	if cfg.Multiplier < 1 {
		cfg.Multiplier = 1
	}
	if cfg.Max <= 0 {
		cfg.Max = max(DefaultMaxBackoff, cfg.Initial)
	}
	if cfg.Jitter < 0 {
		cfg.Jitter = 0
	}

	return &Backoff{
		current:    cfg.Initial,
		initial:    cfg.Initial,
		max:        cfg.Max,
		multiplier: cfg.Multiplier,
		jitter:     cfg.Jitter,
	}
}

// Next returns the next delay (with jitter) and advances the backoff.
func (b *Backoff) Next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	delay := b.addJitter(b.current)

	b.attempts++
	next := time.Duration(float64(b.current) * b.multiplier)
	if next > b.max {
		next = b.max
	}
	b.current = next

	return delay
}

// Reset returns the backoff to its initial delay.
// Called after a successful reconnect.
func (b *Backoff) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.current = b.initial
	b.attempts = 0
}

// Attempts returns the number of delays handed out since the last reset.
func (b *Backoff) Attempts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempts
}

// Current returns the current base delay (without jitter).
func (b *Backoff) Current() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}

func (b *Backoff) addJitter(d time.Duration) time.Duration {
	if b.jitter <= 0 {
		return d
	}
	return d + time.Duration(float64(d)*b.jitter*rand.Float64())
}
