package resilience

import (
	"fmt"
	"sync"
	"time"
)

// BreakerState enumerates circuit breaker states.
type BreakerState uint8

const (
	// BreakerClosed allows attempts.
	BreakerClosed BreakerState = iota
	// BreakerOpen blocks attempts until the cooldown elapses.
	BreakerOpen
	// BreakerHalfOpen allows exactly one trial attempt.
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "CLOSED"
	case BreakerOpen:
		return "OPEN"
	case BreakerHalfOpen:
		return "HALF_OPEN"
	default:
		return fmt.Sprintf("BreakerState(%d)", uint8(s))
	}
}

// BreakerConfig tunes the circuit breaker.
type BreakerConfig struct {
	FailureThreshold int
	Cooldown         time.Duration
}

// DefaultBreakerConfig returns the breaker defaults.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{FailureThreshold: 5, Cooldown: 30 * time.Second}
}

// BreakerOption configures a CircuitBreaker.
type BreakerOption func(*CircuitBreaker)

// WithBreakerClock injects the time source.
func WithBreakerClock(clock func() time.Time) BreakerOption {
	return func(b *CircuitBreaker) {
		if clock != nil {
			b.clock = clock
		}
	}
}

// WithStateChange registers a hook called on every state change. It runs under the breaker lock.
func WithStateChange(hook func(from, to BreakerState)) BreakerOption {
	return func(b *CircuitBreaker) {
		b.onChange = hook
	}
}

// CircuitBreaker counts consecutive connection failures and blocks reconnect attempts once the
// threshold is reached.
type CircuitBreaker struct {
	threshold int
	cooldown  time.Duration
	clock     func() time.Time
	onChange  func(from, to BreakerState)

	mu       sync.Mutex
	state    BreakerState
	failures int
	openedAt time.Time
	trialOut bool
}

// NewCircuitBreaker creates a CLOSED breaker.
func NewCircuitBreaker(cfg BreakerConfig, opts ...BreakerOption) *CircuitBreaker {
	def := DefaultBreakerConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = def.Cooldown
	}
	b := &CircuitBreaker{
		threshold: cfg.FailureThreshold,
		cooldown:  cfg.Cooldown,
		clock:     time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

// Allow reports whether an attempt may proceed. Once the cooldown has elapsed an OPEN breaker moves
// to HALF_OPEN and grants a single trial; further calls are refused until that trial is recorded.
func (b *CircuitBreaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		return true
	case BreakerOpen:
		if b.clock().Sub(b.openedAt) < b.cooldown {
			return false
		}
		b.setState(BreakerHalfOpen)
		b.trialOut = true
		return true
	case BreakerHalfOpen:
		if b.trialOut {
			return false
		}
		b.trialOut = true
		return true
	default:
		return false
	}
}

// RecordFailure counts a failure. The breaker opens when the count reaches the threshold; a failed
// half-open trial reopens it and restarts the cooldown.
func (b *CircuitBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	switch b.state {
	case BreakerClosed:
		if b.failures >= b.threshold {
			b.open()
		}
	case BreakerHalfOpen:
		b.open()
	case BreakerOpen:
	}
}

// RecordSuccess resets the failure count and closes the breaker.
func (b *CircuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	b.trialOut = false
	if b.state != BreakerClosed {
		b.setState(BreakerClosed)
	}
}

// State returns the recorded state without side effects. An OPEN breaker stays OPEN after its
// cooldown has elapsed until Allow grants the half-open trial; use RemainingCooldown to tell a
// blocking OPEN breaker from one that is ready for a trial.
func (b *CircuitBreaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Failures returns the consecutive failure count.
func (b *CircuitBreaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// RemainingCooldown reports how long an OPEN breaker keeps blocking attempts.
func (b *CircuitBreaker) RemainingCooldown() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != BreakerOpen {
		return 0
	}
	remaining := b.cooldown - b.clock().Sub(b.openedAt)
	if remaining < 0 {
		return 0
	}
	return remaining
}

func (b *CircuitBreaker) open() {
	b.openedAt = b.clock()
	b.trialOut = false
	b.setState(BreakerOpen)
}

func (b *CircuitBreaker) setState(next BreakerState) {
	prev := b.state
	b.state = next
	if prev != next && b.onChange != nil {
		b.onChange(prev, next)
	}
}
