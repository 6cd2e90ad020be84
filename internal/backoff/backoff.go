package backoff

import (
	"math"
	"time"

	"notisync/internal/models"
)

// RetryPolicy defines exponential backoff parameters shared by the
// delivery and sync paths.
type RetryPolicy struct {
	BaseDelay time.Duration
	Factor    float64
	MaxDelay  time.Duration
}

// Default returns the policy used for delivery and sync rescheduling:
// 5m, 10m, 20m, 40m, ...
func Default() RetryPolicy {
	return RetryPolicy{BaseDelay: models.BackoffBaseDelay, Factor: 2}
}

// NextDelay returns the delay before retry number retryCount (1-based)
// with clamping.
func (r RetryPolicy) NextDelay(retryCount int) time.Duration {
	if retryCount < 1 {
		retryCount = 1
	}
	base := r.BaseDelay
	if base <= 0 {
		base = models.BackoffBaseDelay
	}
	factor := r.Factor
	if factor <= 0 {
		factor = 2
	}

	d := time.Duration(float64(base) * math.Pow(factor, float64(retryCount-1)))
	if r.MaxDelay > 0 && d > r.MaxDelay {
		d = r.MaxDelay
	}
	if d <= 0 {
		d = base
	}
	return d
}
