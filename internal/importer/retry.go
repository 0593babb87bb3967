package importer

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"
	"time"
)

// MaxAttempts bounds the round trips made for one course service call.
const MaxAttempts = 3

// RetryableError is a rate-limit or server-error response from the course
// service. RetryAfter is the delay the service asked for, if any.
type RetryableError struct {
	Op         string
	StatusCode int
	RetryAfter time.Duration
	Body       string
}

func (e *RetryableError) Error() string {
	return fmt.Sprintf("%s: status %d (retryable): %s", e.Op, e.StatusCode, truncate(e.Body, 200))
}

// IsRetryable reports whether err is a RetryableError.
func IsRetryable(err error) bool {
	var re *RetryableError
	return errors.As(err, &re)
}

// Backoff is the wait before retry attempt n (0-indexed): 500ms doubling
// per attempt, capped at 10s, plus up to half again as jitter.
func Backoff(attempt int) time.Duration {
	base := min(500*time.Millisecond<<uint(attempt), 10*time.Second)
	return base + time.Duration(rand.Int64N(int64(base)/2+1))
}

// retryAfter parses a Retry-After header given in seconds. HTTP dates and
// malformed values yield zero.
func retryAfter(v string) time.Duration {
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || n <= 0 {
		return 0
	}
	return min(time.Duration(n)*time.Second, time.Minute)
}
