// Package policy decides how scenario actors react to failed operations.
package policy

// Policy represents a generic policy interface
type Policy interface {
	// Enabled returns whether the policy is enabled
	Enabled() bool
	// Name returns the policy name for identification
	Name() string
}

// RetryPolicy handles retry logic for failed operations
type RetryPolicy interface {
	Policy
	// ShouldRetry determines if an operation failing with err after attempt
	// retries should run again
	ShouldRetry(attempt int, err error) bool
	// Delay is the simulated time to wait before retry number attempt (1-indexed)
	Delay(attempt int) float64
	// MaxRetries returns the maximum number of retries allowed
	MaxRetries() int
}
