package policy

import (
	"errors"

	"github.com/GoSim-25-26J-441/simkernel/internal/activity"
	"github.com/GoSim-25-26J-441/simkernel/pkg/config"
	"github.com/GoSim-25-26J-441/simkernel/pkg/utils"
)

// DefaultRetryDelay is the base backoff, in simulated seconds, of steps that
// do not set one.
const DefaultRetryDelay = 1.0

// transient errors are worth retrying: the resource may come back, the peer
// may show up later.
var transient = []error{
	activity.ErrResourceUnavailable,
	activity.ErrTimeout,
}

// retryPolicy implements RetryPolicy
type retryPolicy struct {
	maxRetries int
	backoff    utils.BackoffStrategy
}

// NewRetryPolicyFromStep creates the retry policy of a scenario step. jitter
// may be nil.
func NewRetryPolicyFromStep(st config.Step, jitter func() float64) RetryPolicy {
	base := st.RetryDelay
	if base == 0 {
		base = DefaultRetryDelay
	}
	return NewRetryPolicy(st.Retries, st.Backoff, base, jitter)
}

// NewRetryPolicy creates a retry policy with explicit parameters. backoff is
// exponential (the default), linear or constant.
func NewRetryPolicy(maxRetries int, backoff string, base float64, jitter func() float64) RetryPolicy {
	return &retryPolicy{
		maxRetries: maxRetries,
		backoff:    utils.BackoffFromConfig(backoff, base, 0, jitter),
	}
}

func (p *retryPolicy) Enabled() bool {
	return p.maxRetries > 0
}

func (p *retryPolicy) Name() string {
	return "retry"
}

func (p *retryPolicy) ShouldRetry(attempt int, err error) bool {
	if !p.Enabled() || err == nil {
		return false
	}
	if attempt >= p.maxRetries {
		return false
	}
	return IsTransient(err)
}

func (p *retryPolicy) Delay(attempt int) float64 {
	if !p.Enabled() || attempt <= 0 {
		return 0
	}
	return p.backoff.NextDelay(attempt - 1)
}

func (p *retryPolicy) MaxRetries() int {
	return p.maxRetries
}

// IsTransient reports whether err may go away by trying again.
func IsTransient(err error) bool {
	for _, target := range transient {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
