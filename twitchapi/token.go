package twitchapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/onnwee/live-herald/telemetry"
)

const (
	tokenURL = "https://id.twitch.tv/oauth2/token"
	// ProviderTwitchApp is the oauth_tokens row holding the app token.
	ProviderTwitchApp = "twitch_app"
	// expiryBuffer treats tokens this close to expiry as already expired.
	expiryBuffer = 60 * time.Second
)

// TokenStore persists the app token across restarts.
type TokenStore interface {
	LoadToken(ctx context.Context, provider string) (access string, expiry time.Time, err error)
	SaveToken(ctx context.Context, provider, access string, expiry time.Time) error
}

// TokenSource fetches and caches a Twitch app access (client credentials) token.
// NOTE: This token CANNOT be used for IRC chat; chat requires a user (bot) OAuth token.
type TokenSource struct {
	ClientID     string
	ClientSecret string
	HTTPClient   *http.Client
	// Store is optional; when set the token is loaded on first use and saved after each fetch.
	Store TokenStore

	mu        sync.RWMutex
	token     string
	expiresAt time.Time
	loaded    bool
}

// Get returns a valid (fresh or cached) app access token.
func (ts *TokenSource) Get(ctx context.Context) (string, error) {
	ts.mu.RLock()
	if ts.token != "" && time.Until(ts.expiresAt) > expiryBuffer {
		tok := ts.token
		ts.mu.RUnlock()
		return tok, nil
	}
	ts.mu.RUnlock()
	return ts.refresh(ctx, false)
}

// Refresh fetches a new token even if the cached one is still valid.
func (ts *TokenSource) Refresh(ctx context.Context) (string, error) {
	return ts.refresh(ctx, true)
}

// Invalidate drops the cached token so the next Get re-acquires.
func (ts *TokenSource) Invalidate() {
	ts.mu.Lock()
	ts.token = ""
	ts.expiresAt = time.Time{}
	ts.loaded = true // do not resurrect the rejected token from the store
	ts.mu.Unlock()
}

// SetToken seeds the cache, mainly for tests.
func (ts *TokenSource) SetToken(tok string, expiresAt time.Time) {
	ts.mu.Lock()
	ts.token = tok
	ts.expiresAt = expiresAt
	ts.loaded = true
	ts.mu.Unlock()
}

// ExpiresAt returns the expiry of the cached token (zero when none).
func (ts *TokenSource) ExpiresAt() time.Time {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return ts.expiresAt
}

func (ts *TokenSource) refresh(ctx context.Context, force bool) (string, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if !ts.loaded {
		ts.loaded = true
		ts.loadStored(ctx)
	}
	if !force && ts.token != "" && time.Until(ts.expiresAt) > expiryBuffer {
		return ts.token, nil
	}
	if ts.ClientID == "" || ts.ClientSecret == "" {
		return "", fmt.Errorf("%w: missing client id/secret for twitch app token", ErrAuthFailed)
	}

	cc := clientcredentials.Config{
		ClientID:     ts.ClientID,
		ClientSecret: ts.ClientSecret,
		TokenURL:     tokenURL,
		AuthStyle:    oauth2.AuthStyleInParams,
	}
	hc := ts.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}
	tok, err := cc.Token(context.WithValue(ctx, oauth2.HTTPClient, hc))
	if err != nil {
		telemetry.ObserveTokenRefresh(false)
		return "", classifyTokenError(err)
	}
	if tok.AccessToken == "" {
		telemetry.ObserveTokenRefresh(false)
		return "", fmt.Errorf("%w: empty access_token in twitch response", ErrAuthFailed)
	}
	telemetry.ObserveTokenRefresh(true)
	ts.token = tok.AccessToken
	ts.expiresAt = tok.Expiry
	if ts.expiresAt.IsZero() {
		ts.expiresAt = ComputeExpiry(0)
	}
	if ts.Store != nil {
		if err := ts.Store.SaveToken(ctx, ProviderTwitchApp, ts.token, ts.expiresAt); err != nil {
			slog.Warn("failed to persist twitch app token", slog.Any("err", err), slog.String("component", "twitch_token"))
		}
	}
	return ts.token, nil
}

func (ts *TokenSource) loadStored(ctx context.Context) {
	if ts.Store == nil || ts.token != "" {
		return
	}
	tok, exp, err := ts.Store.LoadToken(ctx, ProviderTwitchApp)
	if err != nil {
		slog.Warn("failed to load stored twitch app token", slog.Any("err", err), slog.String("component", "twitch_token"))
		return
	}
	if tok != "" && time.Until(exp) > expiryBuffer {
		ts.token, ts.expiresAt = tok, exp
		slog.Debug("reusing stored twitch app token", slog.Time("expires_at", exp), slog.String("component", "twitch_token"))
	}
}

// classifyTokenError maps transport failures and 5xx to ErrUpstreamUnavailable.
// A 4xx, or a 2xx without a usable token, is ErrAuthFailed.
func classifyTokenError(err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.Response != nil {
		if re.Response.StatusCode >= 500 {
			return fmt.Errorf("%w: token request: %v", ErrUpstreamUnavailable, err)
		}
		return fmt.Errorf("%w: token request: %v", ErrAuthFailed, err)
	}
	var ue *url.Error
	if errors.As(err, &ue) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: token request: %v", ErrUpstreamUnavailable, err)
	}
	return fmt.Errorf("%w: token request: %v", ErrAuthFailed, err)
}

// ComputeExpiry returns absolute expiry time from seconds, defaulting to +60m when unknown.
func ComputeExpiry(seconds int) time.Time {
	if seconds <= 0 {
		return time.Now().Add(60 * time.Minute)
	}
	return time.Now().Add(time.Duration(seconds) * time.Second)
}
