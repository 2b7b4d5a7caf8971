package live

import (
	"errors"
	"time"

	"github.com/onnwee/live-herald/twitchapi"
)

// FetchClass says how the scheduler reacts to a failed fetch.
type FetchClass int

const (
	// FetchBackoff: upstream outage or rate limit; wait longer before the next tick.
	FetchBackoff FetchClass = iota
	// FetchAuth: credentials rejected; log loudly and keep the normal cadence.
	FetchAuth
	// FetchRetry: anything else; retry on the normal cadence.
	FetchRetry
)

func (c FetchClass) String() string {
	switch c {
	case FetchBackoff:
		return "backoff"
	case FetchAuth:
		return "auth"
	case FetchRetry:
		return "retry"
	default:
		return "unknown"
	}
}

// ClassifyFetchError maps a Source error to a FetchClass and the server's
// retry hint, if any.
func ClassifyFetchError(err error) (FetchClass, time.Duration) {
	var rl *twitchapi.RateLimitError
	switch {
	case errors.As(err, &rl):
		return FetchBackoff, rl.RetryAfter
	case errors.Is(err, twitchapi.ErrRateLimited), errors.Is(err, twitchapi.ErrUpstreamUnavailable):
		return FetchBackoff, 0
	case errors.Is(err, twitchapi.ErrAuthFailed):
		return FetchAuth, 0
	default:
		return FetchRetry, 0
	}
}
