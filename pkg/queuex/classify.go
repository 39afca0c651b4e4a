package queuex

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/chatdesk/courier/pkg/errx"
)

// Classification is the retry decision for a handler failure.
type Classification int

const (
	// Retryable failures consume one unit of the retry budget and are
	// attempted again after the retry delay. This is the default.
	Retryable Classification = iota

	// NonRetryable failures will never succeed on retry. The job goes
	// straight to failed_terminal and the dead-letter channel.
	NonRetryable

	// RateLimited failures are retryable, but signal that the downstream
	// API pushed back; the admission gate is already throttling, so the
	// attempt is rescheduled without further penalty.
	RateLimited
)

// String returns the classification name for logs and events.
func (c Classification) String() string {
	switch c {
	case NonRetryable:
		return "non_retryable"
	case RateLimited:
		return "rate_limited"
	default:
		return "retryable"
	}
}

// Classify maps a handler failure onto a retry decision. It prefers the
// structured errx taxonomy and falls back to message heuristics for errors
// surfaced by third-party clients.
func Classify(err error) Classification {
	if err == nil {
		return Retryable
	}

	// Deadline and cancellation are transient.
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return Retryable
	}

	if e := errx.AsError(err); e != nil {
		switch e.HTTPStatus {
		case http.StatusTooManyRequests:
			return RateLimited
		case http.StatusBadRequest, http.StatusNotFound:
			return NonRetryable
		}
		switch e.Type {
		case errx.TypeValidation:
			return NonRetryable
		case errx.TypeTimeout, errx.TypeExternal:
			return Retryable
		}
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "rate limit"), strings.Contains(msg, "too many requests"):
		return RateLimited
	case strings.Contains(msg, "invalid recipient"), strings.Contains(msg, "invalid parameter"):
		return NonRetryable
	}

	return Retryable
}
