// Package retry implements the bounded-attempt exponential backoff
// policy applied to retryable clip failures.
//
// Grounded on egoworld/config.py's RetryPolicy.next_delay and the
// Driver's sleep-then-resubmit loop in egoworld/pipeline/driver.py;
// the Clock seam follows spec.md §9's dependency-injection note
// (Driver parameterized over Clock so tests run without real sleeps).
package retry

import (
	"context"
	"math"
	"time"
)

// Policy bounds retry attempts with exponential backoff.
type Policy struct {
	MaxRetries int
	BaseDelay  time.Duration
	Backoff    float64
}

// DefaultPolicy mirrors the source's defaults: 3 retries, 5s base
// delay, 3x backoff multiplier.
func DefaultPolicy() Policy {
	return Policy{MaxRetries: 3, BaseDelay: 5 * time.Second, Backoff: 3.0}
}

// NextDelay returns the delay before the n-th retry (1-based attempt
// number), equal to base_delay × backoff^max(0, n-1).
func (p Policy) NextDelay(attempt int) time.Duration {
	exp := attempt - 1
	if exp < 0 {
		exp = 0
	}
	factor := math.Pow(p.Backoff, float64(exp))
	return time.Duration(float64(p.BaseDelay) * factor)
}

// CanRetry reports whether attempt (the number about to be made,
// 1-based) is still within budget.
func (p Policy) CanRetry(attempt int) bool {
	return attempt <= p.MaxRetries
}

// Clock abstracts wall-clock time and sleeping so the Driver's retry
// loop is deterministic under test.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration)
}

// RealClock is the production Clock, backed by time.Now and
// context-aware sleeping.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

func (RealClock) Sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}
