// Package oauth keeps the Twitch app access token fresh. It performs jittered
// checks and renews the token when its expiry falls within a configured
// window, so poll ticks rarely pay for a token round trip.
package oauth

import (
	"context"
	"log/slog"
	"math/rand"
	"time"
)

const (
	DefaultInterval = 5 * time.Minute
	DefaultWindow   = 15 * time.Minute
	refreshTimeout  = 15 * time.Second
)

// Renewable is a cached token that can be renewed on demand.
// *twitchapi.TokenSource implements it.
type Renewable interface {
	ExpiresAt() time.Time
	Refresh(ctx context.Context) (string, error)
}

// StartRefresher launches RunRefresher in a goroutine.
func StartRefresher(ctx context.Context, src Renewable, provider string, interval, window time.Duration) {
	go RunRefresher(ctx, src, provider, interval, window)
}

// RunRefresher wakes up roughly every interval and renews src when it has no
// token yet or its remaining lifetime is <= window. It returns when ctx is
// cancelled.
func RunRefresher(ctx context.Context, src Renewable, provider string, interval, window time.Duration) {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if window <= 0 {
		window = DefaultWindow
	}
	// Randomize initial delay to spread load across instances.
	//nolint:gosec // G404: math/rand is sufficient for scheduling jitter, not used for security
	initialJitter := time.Duration(rand.Int63n(int64(interval/2) + 1))
	select {
	case <-ctx.Done():
		return
	case <-time.After(initialJitter):
	}
	for {
		renewIfDue(ctx, src, provider, window)

		// Per-iteration jitter (±20% of interval) for scheduling diversity.
		jitterRange := int64(interval/5) + 1
		//nolint:gosec // G404: math/rand is sufficient for scheduling jitter, not used for security
		jitter := time.Duration(rand.Int63n(jitterRange*2) - jitterRange)
		nextSleep := max(interval+jitter, interval/2)
		select {
		case <-ctx.Done():
			return
		case <-time.After(nextSleep):
		}
	}
}

func renewIfDue(ctx context.Context, src Renewable, provider string, window time.Duration) bool {
	exp := src.ExpiresAt()
	if !exp.IsZero() && time.Until(exp) > window {
		return false
	}
	ctx2, cancel := context.WithTimeout(ctx, refreshTimeout)
	defer cancel()
	if _, err := src.Refresh(ctx2); err != nil {
		slog.Warn("token refresh failed", slog.String("provider", provider), slog.Any("err", err))
		return false
	}
	slog.Info("token refreshed", slog.String("provider", provider), slog.Time("expires_at", src.ExpiresAt()))
	return true
}
