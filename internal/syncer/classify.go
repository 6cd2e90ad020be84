package syncer

import (
	"context"
	"errors"
	"net"
	"net/http"

	"google.golang.org/api/googleapi"
)

type errClass int

const (
	classNetwork errClass = iota
	classAuth
	classOther
)

// classify buckets a remote fetch failure for the retry decision:
// network and transient server errors are retryable with backoff, auth
// errors are surfaced immediately, everything else falls back to cache.
func classify(err error) (errClass, bool) {
	if err == nil {
		return classOther, false
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == http.StatusUnauthorized || apiErr.Code == http.StatusForbidden:
			return classAuth, false
		case apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= 500:
			return classNetwork, true
		default:
			return classOther, false
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return classNetwork, true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return classNetwork, true
	}

	return classOther, false
}
