package webclient

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const maxDelay = 30 * time.Second

// Result is what one attempt observed.
type Result struct {
	Status     int
	Body       []byte
	RetryAfter time.Duration
}

// AttemptFunc performs one request.
type AttemptFunc func() (Result, error)

// DoWithRetry retries fn on transport errors, 429 and 5xx, doubling the delay
// each time and waiting at least the server's Retry-After.
func DoWithRetry(ctx context.Context, attempts int, initialDelay time.Duration, fn AttemptFunc) (Result, error) {
	if attempts <= 0 {
		attempts = 1
	}
	if initialDelay <= 0 {
		initialDelay = 2 * time.Second
	}
	delay := initialDelay

	var (
		res Result
		err error
	)
	for i := 0; i < attempts; i++ {
		res, err = fn()
		if err == nil && !Transient(res.Status) {
			return res, nil
		}
		if i == attempts-1 {
			break
		}

		wait := delay
		if res.RetryAfter > wait {
			wait = res.RetryAfter
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return res, ctx.Err()
		case <-t.C:
		}
		if delay < maxDelay {
			delay *= 2
		}
	}
	return res, err
}

// Transient reports whether status is worth retrying.
func Transient(status int) bool {
	return status == http.StatusTooManyRequests || status >= http.StatusInternalServerError
}

// ParseRetryAfter reads a Retry-After header given in seconds or as an HTTP date.
func ParseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil && at.After(now) {
		return at.Sub(now)
	}
	return 0
}
