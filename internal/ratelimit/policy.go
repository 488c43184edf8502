// Package ratelimit implements the per-application exponential backoff
// described in SPEC_FULL.md §2.3 and §4.1: a Launcher that keeps failing to
// get its tasks accepted is pushed further into the future before it is
// allowed to subscribe for offers again.
//
// The Policy type is grounded on common/backoff/policy.go's RetryPolicy;
// unlike that fixed-interval, attempt-capped policy (built for a bounded
// number of RPC retries), a launcher backoff has no attempt ceiling and
// must instead grow multiplicatively up to a ceiling duration, so
// ExponentialPolicy replaces retryPolicy's linear CalculateNextDelay. This
// package has no Retrier counterpart.
package ratelimit

import "time"

// Policy computes the next backoff duration given the current one.
type Policy interface {
	// NextDelay returns the backoff to apply given the current one. Passing
	// the zero duration returns the policy's initial backoff.
	NextDelay(current time.Duration) time.Duration
}

// ExponentialPolicy grows the backoff by Factor each time it is applied,
// starting at Initial and never exceeding Max.
type ExponentialPolicy struct {
	Initial time.Duration
	Max     time.Duration
	Factor  float64
}

// NewExponentialPolicy returns a Policy with sane defaults filled in for any
// zero-valued fields.
func NewExponentialPolicy(initial, max time.Duration, factor float64) Policy {
	if initial <= 0 {
		initial = time.Second
	}
	if max <= 0 || max < initial {
		max = 5 * time.Minute
	}
	if factor <= 1 {
		factor = 1.15
	}
	return ExponentialPolicy{Initial: initial, Max: max, Factor: factor}
}

// NextDelay implements Policy.
func (p ExponentialPolicy) NextDelay(current time.Duration) time.Duration {
	if current <= 0 {
		return p.Initial
	}
	next := time.Duration(float64(current) * p.Factor)
	if next > p.Max {
		return p.Max
	}
	if next < p.Initial {
		return p.Initial
	}
	return next
}
