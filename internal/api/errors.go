package api

import (
	"fmt"
	"time"
)

// StatusError is returned when the tracker answers with an unexpected HTTP status
type StatusError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d: %s", e.Op, e.StatusCode, e.Body)
}

// RateLimitError is returned once the client gave up retrying a throttled request
type RateLimitError struct {
	Op         string
	RetryAfter time.Duration
	ResetTime  time.Time
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s: rate limited, retry after %s", e.Op, e.RetryAfter)
}
