package policy

import (
	"errors"
	"fmt"
	"testing"

	"github.com/GoSim-25-26J-441/simkernel/internal/activity"
	"github.com/GoSim-25-26J-441/simkernel/pkg/config"
)

func TestNewRetryPolicyFromStep(t *testing.T) {
	st := config.Step{Op: config.OpSend, Retries: 3, Backoff: "constant"}
	policy := NewRetryPolicyFromStep(st, nil)
	if !policy.Enabled() {
		t.Fatalf("expected policy to be enabled")
	}
	if policy.Name() != "retry" {
		t.Fatalf("expected name to be 'retry', got %s", policy.Name())
	}
	if policy.MaxRetries() != 3 {
		t.Fatalf("expected max retries 3, got %d", policy.MaxRetries())
	}
	if d := policy.Delay(2); d != DefaultRetryDelay {
		t.Fatalf("expected default delay %f, got %f", DefaultRetryDelay, d)
	}
}

func TestRetryPolicyShouldRetry(t *testing.T) {
	policy := NewRetryPolicy(3, "exponential", 0.1, nil)
	unavailable := fmt.Errorf("%w: link is off", activity.ErrResourceUnavailable)

	for attempt := 0; attempt < 3; attempt++ {
		if !policy.ShouldRetry(attempt, unavailable) {
			t.Fatalf("expected a retry at attempt %d", attempt)
		}
	}
	if policy.ShouldRetry(3, unavailable) {
		t.Fatalf("expected no retry once max retries is reached")
	}
	if policy.ShouldRetry(0, nil) {
		t.Fatalf("expected no retry without an error")
	}
	if !policy.ShouldRetry(0, activity.ErrTimeout) {
		t.Fatalf("expected timeouts to be retried")
	}
	if policy.ShouldRetry(0, activity.ErrDependencyFailed) {
		t.Fatalf("expected permanent errors not to be retried")
	}
	if policy.ShouldRetry(0, errors.New("boom")) {
		t.Fatalf("expected unknown errors not to be retried")
	}

	disabled := NewRetryPolicy(0, "exponential", 0.1, nil)
	if disabled.Enabled() || disabled.ShouldRetry(0, unavailable) {
		t.Fatalf("expected a policy without retries to be disabled")
	}
}

func TestRetryPolicyDelay(t *testing.T) {
	tests := []struct {
		backoff string
		attempt int
		want    float64
	}{
		{"exponential", 0, 0},
		{"exponential", 1, 0.5},
		{"exponential", 2, 1},
		{"exponential", 3, 2},
		{"linear", 1, 0.5},
		{"linear", 3, 1.5},
		{"constant", 1, 0.5},
		{"constant", 4, 0.5},
		{"", 2, 1},
	}
	for _, tt := range tests {
		policy := NewRetryPolicy(5, tt.backoff, 0.5, nil)
		if got := policy.Delay(tt.attempt); got != tt.want {
			t.Errorf("%q attempt %d: expected %f, got %f", tt.backoff, tt.attempt, tt.want, got)
		}
	}
}

func TestRetryPolicyJitterIsBounded(t *testing.T) {
	policy := NewRetryPolicy(2, "exponential", 1, func() float64 { return 0.25 })
	if got := policy.Delay(1); got != 0.75 {
		t.Fatalf("expected jittered delay 0.75, got %f", got)
	}
}

func TestIsTransient(t *testing.T) {
	if !IsTransient(fmt.Errorf("wrapped: %w", activity.ErrTimeout)) {
		t.Fatalf("expected wrapped timeout to be transient")
	}
	if IsTransient(activity.ErrCanceled) {
		t.Fatalf("expected cancellation to be permanent")
	}
}
