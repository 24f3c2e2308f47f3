package chain

import (
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// EngineBackoff implements backoff.BackOff over a RetryPolicy's
// interval/factor pair, per §9's resolution of the "retry policy
// semantics" open question: delay(attempt) = RetryInterval *
// RetryBackoffFactor^attempt. It never reports backoff.Stop on its own;
// leaf.go wraps it in backoff.WithMaxRetries, which is the sole owner of
// the max-retries bound, and drives it via backoff.Retry.
type EngineBackoff struct {
	policy  *RetryPolicy
	attempt int
}

// NewEngineBackoff returns a backoff.BackOff for policy.
func NewEngineBackoff(policy *RetryPolicy) *EngineBackoff {
	return &EngineBackoff{policy: policy}
}

// NextBackOff implements backoff.BackOff.
func (b *EngineBackoff) NextBackOff() time.Duration {
	factor := b.policy.RetryBackoffFactor
	if factor <= 0 {
		factor = 1
	}
	delay := float64(b.policy.RetryInterval) * math.Pow(factor, float64(b.attempt))
	b.attempt++
	return time.Duration(delay)
}

// Reset implements backoff.BackOff.
func (b *EngineBackoff) Reset() { b.attempt = 0 }

var _ backoff.BackOff = (*EngineBackoff)(nil)

// shouldRetryError reports whether err warrants a retry attempt under
// policy: a Timeout always qualifies; a StepExecutionError qualifies when
// RetryOnErrorCodes is empty, or when the error's message matches one of
// the configured codes.
func shouldRetryError(policy *RetryPolicy, err error) bool {
	engErr, ok := err.(*Error)
	if !ok {
		return false
	}
	switch engErr.Kind {
	case ErrTimeout:
		return true
	case ErrStepExecution:
		if len(policy.RetryOnErrorCodes) == 0 {
			return true
		}
		for _, code := range policy.RetryOnErrorCodes {
			if code == engErr.Message {
				return true
			}
		}
		return false
	default:
		return false
	}
}
