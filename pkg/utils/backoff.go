package utils

import (
	"math"
	"time"
)

// BackoffStrategy computes the delay, in simulated seconds, before a retry.
type BackoffStrategy interface {
	// NextDelay returns the delay for the given attempt number (0-indexed)
	NextDelay(attempt int) float64
}

// ConstantBackoff waits the same delay before every attempt.
type ConstantBackoff struct {
	Delay float64
}

// NewConstantBackoff creates a new constant backoff strategy
func NewConstantBackoff(delay float64) *ConstantBackoff {
	return &ConstantBackoff{Delay: delay}
}

// NextDelay returns the constant delay
func (cb *ConstantBackoff) NextDelay(attempt int) float64 {
	return cb.Delay
}

// LinearBackoff grows the delay by BaseDelay per attempt, capped at MaxDelay.
type LinearBackoff struct {
	BaseDelay float64
	MaxDelay  float64
}

// NewLinearBackoff creates a new linear backoff strategy
func NewLinearBackoff(baseDelay, maxDelay float64) *LinearBackoff {
	return &LinearBackoff{
		BaseDelay: baseDelay,
		MaxDelay:  maxDelay,
	}
}

// NextDelay returns the linearly increasing delay
func (lb *LinearBackoff) NextDelay(attempt int) float64 {
	delay := lb.BaseDelay * float64(attempt+1)
	if delay > lb.MaxDelay {
		return lb.MaxDelay
	}
	return delay
}

// ExponentialBackoff multiplies the delay by Multiplier per attempt.
// Jitter, when set, returns a factor in [0,1) used to spread the delay over
// [0.5*delay, 1.5*delay). Simulations pass a seeded source to stay reproducible.
type ExponentialBackoff struct {
	BaseDelay  float64
	Multiplier float64
	MaxDelay   float64
	Jitter     func() float64
}

// NewExponentialBackoff creates a new exponential backoff strategy
func NewExponentialBackoff(baseDelay, maxDelay, multiplier float64, jitter func() float64) *ExponentialBackoff {
	if multiplier <= 0 {
		multiplier = 2.0
	}
	return &ExponentialBackoff{
		BaseDelay:  baseDelay,
		Multiplier: multiplier,
		MaxDelay:   maxDelay,
		Jitter:     jitter,
	}
}

// NextDelay returns the exponentially increasing delay
func (eb *ExponentialBackoff) NextDelay(attempt int) float64 {
	delay := eb.BaseDelay * math.Pow(eb.Multiplier, float64(attempt))
	if delay > eb.MaxDelay {
		delay = eb.MaxDelay
	}
	if eb.Jitter != nil {
		delay *= 0.5 + eb.Jitter()
	}
	return delay
}

// BackoffFromConfig creates a backoff strategy from config parameters given in seconds.
func BackoffFromConfig(backoffType string, base, max float64, jitter func() float64) BackoffStrategy {
	if max <= 0 {
		max = 30
	}

	switch backoffType {
	case "constant":
		return NewConstantBackoff(base)
	case "linear":
		return NewLinearBackoff(base, max)
	default:
		return NewExponentialBackoff(base, max, 2.0, jitter)
	}
}

// WallClockDelay converts a backoff delay for real-time retries (callbacks).
func WallClockDelay(b BackoffStrategy, attempt int) time.Duration {
	return SecondsToDuration(b.NextDelay(attempt))
}
