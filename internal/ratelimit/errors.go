package ratelimit

import (
	"math"
	"net/http"
	"strconv"
	"time"
)

// LimitError reports a rejected draw request.
type LimitError struct {
	resetIn time.Duration
}

func newLimitError(resetIn time.Duration) *LimitError {
	if resetIn < 0 {
		resetIn = 0
	}
	return &LimitError{resetIn: resetIn}
}

func (e *LimitError) Error() string {
	return "rate limit exceeded"
}

// StatusCode returns the HTTP status for the error.
func (e *LimitError) StatusCode() int {
	return http.StatusTooManyRequests
}

// RetryAfter returns the whole seconds until the window resets.
func (e *LimitError) RetryAfter() int {
	seconds := int(math.Ceil(e.resetIn.Seconds()))
	if seconds < 0 {
		return 0
	}
	return seconds
}

// Headers returns the response headers for the error.
func (e *LimitError) Headers() http.Header {
	headers := make(http.Header)
	headers.Set("Retry-After", strconv.Itoa(e.RetryAfter()))
	return headers
}
