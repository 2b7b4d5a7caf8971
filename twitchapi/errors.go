package twitchapi

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

var (
	// ErrUpstreamUnavailable covers timeouts, network failures, 5xx and
	// malformed responses. Callers back off.
	ErrUpstreamUnavailable = errors.New("twitch upstream unavailable")
	// ErrAuthFailed means the app token could not be obtained or was rejected
	// after one re-acquisition.
	ErrAuthFailed = errors.New("twitch authentication failed")
	// ErrRateLimited matches *RateLimitError via errors.Is.
	ErrRateLimited = errors.New("twitch rate limited")
)

// RateLimitError is returned on HTTP 429. RetryAfter is zero when the
// response carried no usable hint.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("twitch rate limited (retry after %s)", e.RetryAfter)
	}
	return "twitch rate limited"
}

func (e *RateLimitError) Is(target error) bool { return target == ErrRateLimited }

// parseRetryAfter reads Retry-After (seconds) or Ratelimit-Reset (unix seconds).
func parseRetryAfter(h http.Header, now time.Time) time.Duration {
	if v := h.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
		if t, err := http.ParseTime(v); err == nil && t.After(now) {
			return t.Sub(now)
		}
	}
	if v := h.Get("Ratelimit-Reset"); v != "" {
		if epoch, err := strconv.ParseInt(v, 10, 64); err == nil {
			if reset := time.Unix(epoch, 0); reset.After(now) {
				return reset.Sub(now)
			}
		}
	}
	return 0
}
