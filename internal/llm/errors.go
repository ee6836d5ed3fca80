package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// StatusError reports a non-2xx HTTP response from a provider.
type StatusError struct {
	Provider   string
	StatusCode int
	Body       string
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: http %d: %s", e.Provider, e.StatusCode, strings.TrimSpace(e.Body))
}

// ContentPolicyError reports a refusal or safety block from a provider.
// It is fatal for the provider that produced it.
type ContentPolicyError struct {
	Provider string
	Reason   string
}

func (e *ContentPolicyError) Error() string {
	return fmt.Sprintf("%s: content policy: %s", e.Provider, e.Reason)
}

// EmptyContentError reports a well-formed response with no usable content.
type EmptyContentError struct {
	Provider string
	Detail   string
}

func (e *EmptyContentError) Error() string {
	return fmt.Sprintf("%s: empty content: %s", e.Provider, e.Detail)
}

// Retryable reports whether the same provider is worth another attempt.
// Context cancellation is never retryable; timeouts, rate limits, and
// server-side failures are.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var policyErr *ContentPolicyError
	if errors.As(err, &policyErr) {
		return false
	}

	var emptyErr *EmptyContentError
	if errors.As(err, &emptyErr) {
		return true
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		switch {
		case statusErr.StatusCode == http.StatusRequestTimeout,
			statusErr.StatusCode == http.StatusTooManyRequests,
			statusErr.StatusCode >= http.StatusInternalServerError:
			return true
		default:
			return false
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return true
	}

	return false
}

// RetryAfterHint extracts a server-requested delay from the error, if any.
func RetryAfterHint(err error) time.Duration {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.RetryAfter
	}
	return 0
}

// ParseRetryAfter parses a Retry-After header value as either a delay in
// seconds or an HTTP date.
func ParseRetryAfter(value string) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds < 0 {
			return 0, false
		}
		return time.Duration(seconds) * time.Second, true
	}
	if when, err := http.ParseTime(value); err == nil {
		delay := time.Until(when)
		if delay < 0 {
			return 0, false
		}
		return delay, true
	}
	return 0, false
}
