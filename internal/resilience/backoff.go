// Package resilience provides the reconnection delay policy and the circuit breaker guarding
// reconnect attempts.
package resilience

import (
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// BackoffConfig tunes the reconnection delay policy.
type BackoffConfig struct {
	InitialInterval     time.Duration
	Multiplier          float64
	MaxInterval         time.Duration
	RandomizationFactor float64
}

// DefaultBackoffConfig mirrors the exponential defaults used for exchange feeds.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		InitialInterval:     500 * time.Millisecond,
		Multiplier:          2,
		MaxInterval:         30 * time.Second,
		RandomizationFactor: 0.2,
	}
}

func (c BackoffConfig) normalise() BackoffConfig {
	def := DefaultBackoffConfig()
	if c.InitialInterval <= 0 {
		c.InitialInterval = def.InitialInterval
	}
	if c.Multiplier < 1 {
		c.Multiplier = def.Multiplier
	}
	if c.MaxInterval <= 0 {
		c.MaxInterval = def.MaxInterval
	}
	if c.MaxInterval < c.InitialInterval {
		c.MaxInterval = c.InitialInterval
	}
	if c.RandomizationFactor < 0 || c.RandomizationFactor >= 1 {
		c.RandomizationFactor = def.RandomizationFactor
	}
	return c
}

// ReconnectionStrategy hands out reconnect delays. Growth is exponential with jitter, but the
// sequence never decreases between resets and never exceeds MaxInterval.
type ReconnectionStrategy struct {
	cfg BackoffConfig

	mu       sync.Mutex
	policy   *backoff.ExponentialBackOff
	last     time.Duration
	attempts int
}

// NewReconnectionStrategy creates a strategy from cfg, filling zero values with defaults.
func NewReconnectionStrategy(cfg BackoffConfig) *ReconnectionStrategy {
	cfg = cfg.normalise()
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = cfg.InitialInterval
	policy.Multiplier = cfg.Multiplier
	policy.MaxInterval = cfg.MaxInterval
	policy.RandomizationFactor = cfg.RandomizationFactor
	policy.Reset()
	return &ReconnectionStrategy{cfg: cfg, policy: policy}
}

// NextDelay returns the wait before the next attempt and counts the attempt.
func (s *ReconnectionStrategy) NextDelay() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	delay := s.policy.NextBackOff()
	if delay == backoff.Stop || delay > s.cfg.MaxInterval {
		delay = s.cfg.MaxInterval
	}
	if delay < s.last {
		delay = s.last
	}
	s.last = delay
	s.attempts++
	return delay
}

// Reset zeroes the attempt counter after a successful connection.
func (s *ReconnectionStrategy) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.policy.Reset()
	s.last = 0
	s.attempts = 0
}

// Attempts reports how many delays were handed out since the last reset.
func (s *ReconnectionStrategy) Attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

// MaxInterval returns the delay ceiling.
func (s *ReconnectionStrategy) MaxInterval() time.Duration {
	return s.cfg.MaxInterval
}
