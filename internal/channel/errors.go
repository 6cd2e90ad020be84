package channel

import (
	"errors"
	"fmt"
	"time"
)

// retryable is implemented by channel errors that may succeed on a
// later attempt.
type retryable interface {
	IsRetryable() bool
}

// Retryable walks the error chain (including joined errors) and reports
// whether any leg of the failure is worth retrying. Errors without a
// classification default to retryable.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		for _, e := range joined.Unwrap() {
			if Retryable(e) {
				return true
			}
		}
		return false
	}

	var r retryable
	if errors.As(err, &r) {
		return r.IsRetryable()
	}
	return true
}

// ValidationError indicates a malformed target or payload. Caller-fixable,
// never retried.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string     { return fmt.Sprintf("validation: %s", e.Message) }
func (e *ValidationError) IsRetryable() bool { return false }

// AuthError indicates rejected credentials or a revoked webhook. Not
// retryable without external re-authentication.
type AuthError struct {
	Code    int
	Message string
}

func (e *AuthError) Error() string {
	if e.Code > 0 {
		return fmt.Sprintf("auth error %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("auth error: %s", e.Message)
}
func (e *AuthError) IsRetryable() bool { return false }

// RateLimitError carries the provider's retry-after hint.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}
func (e *RateLimitError) IsRetryable() bool { return true }

// TransientError is a network-level or server-side failure, retryable
// with backoff.
type TransientError struct {
	Code    int
	Message string
}

func (e *TransientError) Error() string {
	if e.Code > 0 {
		return fmt.Sprintf("transient error %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("transient error: %s", e.Message)
}
func (e *TransientError) IsRetryable() bool { return true }

// PermanentFailure marks an exhausted per-channel retry budget.
type PermanentFailure struct {
	Channel string
	Cause   error
}

func (e *PermanentFailure) Error() string {
	return fmt.Sprintf("channel %s: delivery failed permanently: %v", e.Channel, e.Cause)
}
func (e *PermanentFailure) IsRetryable() bool { return false }
func (e *PermanentFailure) Unwrap() error     { return e.Cause }
