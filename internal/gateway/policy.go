package gateway

import "time"

const (
	DefaultBaseTimeout = 20 * time.Second
	DefaultBackoffStep = 20 * time.Second
	DefaultMaxAttempts = 3
	DefaultIdleTimeout = 15 * time.Second
)

// TimeoutPolicy gives each attempt a linearly growing deadline and bounds
// how many timed-out attempts one credential gets.
type TimeoutPolicy struct {
	BaseTimeout time.Duration
	BackoffStep time.Duration
	MaxAttempts int
	// IdleTimeout abandons a streaming attempt when no fragment arrived
	// within the window. Zero disables it.
	IdleTimeout time.Duration
}

func DefaultTimeoutPolicy() TimeoutPolicy {
	return TimeoutPolicy{
		BaseTimeout: DefaultBaseTimeout,
		BackoffStep: DefaultBackoffStep,
		MaxAttempts: DefaultMaxAttempts,
		IdleTimeout: DefaultIdleTimeout,
	}
}

func (p TimeoutPolicy) withDefaults() TimeoutPolicy {
	if p.BaseTimeout <= 0 {
		p.BaseTimeout = DefaultBaseTimeout
	}
	if p.BackoffStep < 0 {
		p.BackoffStep = 0
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.IdleTimeout < 0 {
		p.IdleTimeout = 0
	}
	return p
}

// Deadline returns the budget of attempt k (zero based).
func (p TimeoutPolicy) Deadline(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	return p.BaseTimeout + time.Duration(attempt)*p.BackoffStep
}

// CanRetry reports whether a timeout on attempt k may be followed by k+1.
func (p TimeoutPolicy) CanRetry(attempt int) bool {
	return attempt+1 < p.MaxAttempts
}
